// Package events publishes domain change notifications for read-side caches
// and live UIs. Publishing is strictly best-effort: a failed publish never
// rolls back the mutation that produced the event.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Channel is the redis pub/sub channel carrying all domain events.
const Channel = "meridian.events"

// Event names emitted by the core.
const (
	OrderCreated     = "order:created"
	OrderDeleted     = "order:deleted"
	DeliveryCreated  = "delivery:created"
	InventoryUpdated = "product:inventory-updated"
	ReturnCreated    = "return:created"
	PaymentRecorded  = "payment:recorded"
	InvoiceCreated   = "invoice:created"
)

// Event is the wire format pushed to subscribers.
type Event struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	EntityID string         `json:"entity_id"`
	Payload  map[string]any `json:"payload,omitempty"`
	At       time.Time      `json:"at"`
}

// Publisher fans out domain events.
type Publisher interface {
	Publish(ctx context.Context, name, entityID string, payload map[string]any)
}

// RedisPublisher publishes events over redis pub/sub.
type RedisPublisher struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisPublisher builds a RedisPublisher.
func NewRedisPublisher(client *redis.Client, logger *slog.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, logger: logger}
}

// Publish serialises and sends the event. Errors are logged and dropped.
func (p *RedisPublisher) Publish(ctx context.Context, name, entityID string, payload map[string]any) {
	if p == nil || p.client == nil {
		return
	}
	evt := Event{
		ID:       uuid.NewString(),
		Name:     name,
		EntityID: entityID,
		Payload:  payload,
		At:       time.Now().UTC(),
	}
	raw, err := json.Marshal(evt)
	if err != nil {
		if p.logger != nil {
			p.logger.Warn("event marshal failed", slog.String("event", name), slog.Any("error", err))
		}
		return
	}
	if err := p.client.Publish(ctx, Channel, raw).Err(); err != nil && p.logger != nil {
		p.logger.Warn("event publish failed", slog.String("event", name), slog.Any("error", err))
	}
}

// Nop discards every event. Used in tests and when redis is unavailable.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, string, string, map[string]any) {}
