package realtime

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-queue/internal/queue"
	"github.com/wolfman30/clinic-queue/pkg/logging"
)

type recordingLocal struct {
	mu     sync.Mutex
	events []queue.Event
}

func (r *recordingLocal) Publish(_ context.Context, e queue.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingLocal) Events() []queue.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]queue.Event(nil), r.events...)
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func TestRedisRelay_DeliversPublishedEvents(t *testing.T) {
	_, client := setupTestRedis(t)
	local := &recordingLocal{}
	relay := NewRedisRelay(client, "", local, logging.NewWithWriter(io.Discard, "error"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	select {
	case <-relay.Ready():
	case err := <-done:
		t.Fatalf("relay stopped early: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay never subscribed")
	}

	relay.Publish(context.Background(), queue.Event{
		ID:    "evt-1",
		Type:  queue.EventPatientCalled,
		Token: &queue.Token{ID: "t1", PatientID: "p1", Status: queue.StatusCalled},
	})

	assert.Eventually(t, func() bool { return len(local.Events()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := local.Events()[0]
	assert.Equal(t, "evt-1", got.ID)
	assert.Equal(t, queue.EventPatientCalled, got.Type)
	require.NotNil(t, got.Token)
	assert.Equal(t, "p1", got.Token.PatientID)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestRedisRelay_FallsBackToLocalDelivery(t *testing.T) {
	mr, client := setupTestRedis(t)
	local := &recordingLocal{}
	relay := NewRedisRelay(client, "clinicqueue:test", local, logging.NewWithWriter(io.Discard, "error"))

	mr.Close()
	relay.Publish(context.Background(), queue.Event{ID: "evt-2", Type: queue.EventTokenSkipped})

	events := local.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "evt-2", events[0].ID)
}

func TestRedisRelay_DeliversLocallyUntilSubscribed(t *testing.T) {
	_, client := setupTestRedis(t)
	local := &recordingLocal{}
	relay := NewRedisRelay(client, "clinicqueue:test", local, logging.NewWithWriter(io.Discard, "error"))

	require.False(t, relay.Subscribed())
	relay.Publish(context.Background(), queue.Event{ID: "evt-3", Type: queue.EventTokenEnqueued})

	events := local.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "evt-3", events[0].ID)
}

func TestRedisRelay_ResubscribesAfterRedisOutage(t *testing.T) {
	mr, client := setupTestRedis(t)
	local := &recordingLocal{}
	relay := NewRedisRelay(client, "clinicqueue:test", local, logging.NewWithWriter(io.Discard, "error"))
	relay.minBackoff = 10 * time.Millisecond
	relay.maxBackoff = 50 * time.Millisecond

	mr.Close()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("relay gave up while redis was down: %v", err)
	default:
	}
	assert.False(t, relay.Subscribed())

	require.NoError(t, mr.Restart())
	select {
	case <-relay.Ready():
	case <-time.After(3 * time.Second):
		t.Fatal("relay never resubscribed")
	}
	assert.True(t, relay.Subscribed())

	relay.Publish(context.Background(), queue.Event{ID: "evt-4", Type: queue.EventPatientCalled})
	assert.Eventually(t, func() bool { return len(local.Events()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool { return len(local.Events()) > 1 }, 100*time.Millisecond, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}
