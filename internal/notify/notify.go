// Package notify pushes lifecycle events onto a Redis list consumed by
// downstream notification workers (mail, chat, room displays). The
// dispatcher is fire and forget: a push failure is logged and the
// triggering operation proceeds regardless.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Envelope is the wire format placed on the queue.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Dispatcher publishes envelopes with LPUSH. A nil client disables
// dispatch, so callers never need to branch on whether Redis is
// configured.
type Dispatcher struct {
	client  *redis.Client
	queue   string
	timeout time.Duration
	now     func() time.Time
	logger  *zerolog.Logger
}

// NewDispatcher builds a dispatcher for the given queue key. client
// may be nil to run without a notification backend.
func NewDispatcher(client *redis.Client, queue string, timeout time.Duration, logger *zerolog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Dispatcher{
		client:  client,
		queue:   queue,
		timeout: timeout,
		now:     time.Now,
		logger:  logger,
	}
}

// PublishJSON marshals the payload into an envelope and pushes it.
// Errors are logged, never returned as fatal to the caller's
// operation; the non-nil return exists so tests can observe failures.
func (d *Dispatcher) PublishJSON(eventType string, payload any) error {
	if d.client == nil {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		return err
	}
	env, err := json.Marshal(Envelope{
		Type:      eventType,
		Payload:   body,
		CreatedAt: d.now().UTC(),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.client.LPush(ctx, d.queue, env).Err(); err != nil {
		d.logger.Error().Err(err).Str("event", eventType).Str("queue", d.queue).Msg("failed to enqueue event")
		return err
	}
	return nil
}

// QueueLength reports the pending backlog, for health and admin
// surfaces.
func (d *Dispatcher) QueueLength(ctx context.Context) (int64, error) {
	if d.client == nil {
		return 0, nil
	}
	return d.client.LLen(ctx, d.queue).Result()
}
