package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisChannel is the pub/sub channel shared by all instances.
const DefaultRedisChannel = "kanban:board-events"

type relayEnvelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// RedisRelay mirrors board events between server instances through Redis pub/sub.
type RedisRelay struct {
	rc      *redis.Client
	hub     *Hub
	channel string
	origin  string
	logger  *slog.Logger
}

// NewRedisRelay creates a relay for hub. Call Run to start receiving.
func NewRedisRelay(rc *redis.Client, hub *Hub, channel string, logger *slog.Logger) *RedisRelay {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisRelay{rc: rc, hub: hub, channel: channel, origin: uuid.NewString(), logger: logger}
}

// Forward publishes a locally committed event for the other instances.
func (r *RedisRelay) Forward(ctx context.Context, ev Event) error {
	data, err := json.Marshal(relayEnvelope{Origin: r.origin, Event: ev})
	if err != nil {
		return fmt.Errorf("marshal relay event: %w", err)
	}
	if err := r.rc.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("publish relay event: %w", err)
	}
	return nil
}

// Run delivers events published by other instances into the local hub until
// ctx is done, resubscribing when the pub/sub connection drops.
func (r *RedisRelay) Run(ctx context.Context) {
	for {
		sub := r.rc.Subscribe(ctx, r.channel)
		r.consume(ctx, sub.Channel())
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		r.logger.Error("relay channel closed, reconnecting", slog.String("channel", r.channel))
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (r *RedisRelay) consume(ctx context.Context, ch <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Error("unable to parse relay event", slog.String("error", err.Error()))
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			r.hub.Deliver(env.Event)
		}
	}
}
