package bootstrap

import (
	"context"
	"io"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/clinic-queue/internal/config"
	"github.com/wolfman30/clinic-queue/internal/queue"
	"github.com/wolfman30/clinic-queue/internal/sequence"
	"github.com/wolfman30/clinic-queue/pkg/logging"
)

func TestBuildRedisClient_Disabled(t *testing.T) {
	assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{}, nil, true))
}

func TestBuildRedisClient_Verified(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, logging.NewWithWriter(io.Discard, "error"), true)
	require.NotNil(t, client)
	defer client.Close()

	addr := mr.Addr()
	mr.Close()
	assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: addr}, logging.NewWithWriter(io.Discard, "error"), true))
}

func TestBuildPostgresPool_NotNeeded(t *testing.T) {
	pool, err := BuildPostgresPool(context.Background(), &appconfig.Config{QueueStore: appconfig.BackendMemory})
	require.NoError(t, err)
	assert.Nil(t, pool)
}

func TestBuildPostgresPool_RequiresURL(t *testing.T) {
	_, err := BuildPostgresPool(context.Background(), &appconfig.Config{AuditEnabled: true})
	assert.ErrorIs(t, err, ErrDatabaseRequired)
}

func TestBuildStore(t *testing.T) {
	store, err := BuildStore(&appconfig.Config{QueueStore: appconfig.BackendMemory}, nil)
	require.NoError(t, err)
	assert.IsType(t, &queue.InMemoryStore{}, store)

	_, err = BuildStore(&appconfig.Config{QueueStore: appconfig.BackendPostgres}, nil)
	assert.ErrorIs(t, err, ErrDatabaseRequired)

	_, err = BuildStore(&appconfig.Config{QueueStore: "sqlite"}, nil)
	assert.Error(t, err)
}

func TestBuildCounter(t *testing.T) {
	counter, err := BuildCounter(&appconfig.Config{}, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &sequence.MemoryCounter{}, counter)

	_, err = BuildCounter(&appconfig.Config{SequenceBackend: appconfig.BackendRedis}, nil, nil)
	assert.ErrorIs(t, err, ErrRedisRequired)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, nil, false)
	defer client.Close()

	counter, err = BuildCounter(&appconfig.Config{SequenceBackend: appconfig.BackendRedis}, client, nil)
	require.NoError(t, err)
	seq, err := counter.Increment(context.Background(), "20250314")
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)

	_, err = BuildCounter(&appconfig.Config{SequenceBackend: appconfig.BackendPostgres}, nil, nil)
	assert.ErrorIs(t, err, ErrDatabaseRequired)
}

func TestBuildAuditLog_Disabled(t *testing.T) {
	assert.Nil(t, BuildAuditLog(&appconfig.Config{}, nil))
}
