// Package notify delivers tenant notifications about bookings.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
)

type Notification struct {
	TenantID  string    `json:"tenant_id"`
	BookingID uuid.UUID `json:"booking_id"`
	Severity  Severity  `json:"severity"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	SentAt    time.Time `json:"sent_at"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log only.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With(slog.String("component", "notify"))}
}

func (n *LogNotifier) Notify(ctx context.Context, msg Notification) error {
	n.log.InfoContext(ctx, msg.Title,
		slog.String("tenant_id", msg.TenantID),
		slog.String("booking_id", msg.BookingID.String()),
		slog.String("severity", string(msg.Severity)),
		slog.String("body", msg.Body),
	)
	return nil
}

// RedisNotifier publishes notifications as JSON on a per-tenant channel, where
// the admin UI subscribes.
type RedisNotifier struct {
	client redis.UniversalClient
}

func NewRedisNotifier(client redis.UniversalClient) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func Channel(tenantID string) string {
	return "meetbook:notifications:" + tenantID
}

func (n *RedisNotifier) Notify(ctx context.Context, msg Notification) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := n.client.Publish(ctx, Channel(msg.TenantID), data).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
