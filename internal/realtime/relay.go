package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-queue/internal/queue"
	"github.com/wolfman30/clinic-queue/pkg/logging"
)

// DefaultChannel is the Redis channel queue events travel on.
const DefaultChannel = "clinicqueue:events"

const (
	defaultMinBackoff = 250 * time.Millisecond
	defaultMaxBackoff = 30 * time.Second
)

// LocalPublisher delivers an event to this process's sockets.
type LocalPublisher interface {
	Publish(ctx context.Context, e queue.Event)
}

// RedisRelay publishes queue events on a Redis channel so every replica's
// hub sees every event, including events from its own commands.
type RedisRelay struct {
	client     *redis.Client
	channel    string
	local      LocalPublisher
	logger     *logging.Logger
	ready      chan struct{}
	readyOnce  sync.Once
	subscribed atomic.Bool
	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewRedisRelay builds a relay delivering received events to local.
func NewRedisRelay(client *redis.Client, channel string, local LocalPublisher, logger *logging.Logger) *RedisRelay {
	if client == nil {
		panic("realtime: redis client required")
	}
	if local == nil {
		panic("realtime: local publisher required")
	}
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisRelay{
		client:     client,
		channel:    channel,
		local:      local,
		logger:     logger,
		ready:      make(chan struct{}),
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
	}
}

// Publish implements queue.Publisher. Events reach this replica's clients
// through the subscription; while there is none, or when Redis rejects the
// event, they are delivered locally instead.
func (r *RedisRelay) Publish(ctx context.Context, e queue.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		r.logger.Error("realtime: marshal event", "error", err, "type", e.Type)
		return
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.Warn("realtime: relay publish failed, delivering locally", "error", err, "type", e.Type)
		r.local.Publish(ctx, e)
		return
	}
	if !r.subscribed.Load() {
		r.local.Publish(ctx, e)
	}
}

// Ready is closed once the first subscription is confirmed.
func (r *RedisRelay) Ready() <-chan struct{} {
	return r.ready
}

// Subscribed reports whether the relay currently holds a subscription.
func (r *RedisRelay) Subscribed() bool {
	return r.subscribed.Load()
}

// Run keeps a subscription open and delivers events until ctx is done,
// resubscribing with capped exponential backoff whenever it is lost.
func (r *RedisRelay) Run(ctx context.Context) error {
	backoff := r.minBackoff
	for {
		confirmed, err := r.subscribe(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if confirmed {
			backoff = r.minBackoff
		}
		r.logger.Warn("realtime: relay subscription lost, retrying",
			"channel", r.channel,
			"error", err,
			"backoff", backoff.String(),
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		backoff *= 2
		if backoff > r.maxBackoff {
			backoff = r.maxBackoff
		}
	}
}

// subscribe runs one subscription. confirmed reports whether Redis
// acknowledged it before it ended.
func (r *RedisRelay) subscribe(ctx context.Context) (confirmed bool, err error) {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return false, fmt.Errorf("realtime: subscribe %s: %w", r.channel, err)
	}
	r.subscribed.Store(true)
	defer r.subscribed.Store(false)
	r.readyOnce.Do(func() { close(r.ready) })
	r.logger.Info("realtime: relay subscribed", "channel", r.channel)

	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return true, nil
		case msg, ok := <-msgs:
			if !ok {
				return true, fmt.Errorf("realtime: channel %s closed", r.channel)
			}
			var e queue.Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				r.logger.Warn("realtime: invalid relay payload", "error", err)
				continue
			}
			r.local.Publish(ctx, e)
		}
	}
}
