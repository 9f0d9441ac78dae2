package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cmoscardi/textbook-tts/models/models"
	"github.com/cmoscardi/textbook-tts/models/tables"
)

const (
	EventPeriodRenewed = "period.renewed"
	EventTierChanged   = "tier.changed"

	eventStatusProcessed = "processed"
	eventStatusFailed    = "failed"
)

// ErrDuplicateEvent is returned by stores when the event id was already
// recorded. The intake treats it as a successful no-op.
var ErrDuplicateEvent = errors.New("duplicate billing event")

// EventStore records webhook deliveries. InsertEvent must fail with
// ErrDuplicateEvent when the event id exists, which makes the insert itself
// the idempotency barrier.
type EventStore interface {
	InsertEvent(ctx context.Context, event *tables.BillingEvent) error
	MarkEventFailed(ctx context.Context, eventID, errorDetail string) error
}

// UserStore applies billing-driven account changes.
type UserStore interface {
	SetBillingPeriod(ctx context.Context, userID string, start, end time.Time) error
	SetTier(ctx context.Context, userID, tier string) error
}

// Intake processes billing-provider webhook events exactly once. Redelivered
// events are dropped at the insert, and a handler failure is recorded on the
// stored event rather than surfaced as a delivery error, so the provider
// never retries an event we have already accepted.
type Intake struct {
	events EventStore
	users  UserStore
}

func NewIntake(events EventStore, users UserStore) *Intake {
	return &Intake{events: events, users: users}
}

// Process records and applies one event. The returned error covers intake
// plumbing only; a failing handler is persisted as a failed event and still
// returns nil.
func (i *Intake) Process(ctx context.Context, event models.BillingEvent) error {
	if event.Id == "" {
		return errors.New("billing event missing id")
	}

	row := tables.BillingEvent{
		EventId: event.Id,
		Type:    event.Type,
		Payload: string(event.Data),
		Status:  eventStatusProcessed,
	}
	if err := i.events.InsertEvent(ctx, &row); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			slog.Info("billing event redelivered, dropped", "event_id", event.Id, "type", event.Type)
			return nil
		}
		return fmt.Errorf("record billing event: %w", err)
	}

	if err := i.apply(ctx, event); err != nil {
		slog.Error("billing event handler failed", "event_id", event.Id, "type", event.Type, "error", err.Error())
		if merr := i.events.MarkEventFailed(ctx, event.Id, err.Error()); merr != nil {
			slog.Error("mark billing event failed", "event_id", event.Id, "error", merr.Error())
		}
	}
	return nil
}

func (i *Intake) apply(ctx context.Context, event models.BillingEvent) error {
	switch event.Type {
	case EventPeriodRenewed:
		var data models.PeriodRenewedData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return fmt.Errorf("decode %s: %w", event.Type, err)
		}
		start, err := time.Parse(time.RFC3339, data.PeriodStart)
		if err != nil {
			return fmt.Errorf("parse period_start: %w", err)
		}
		end, err := time.Parse(time.RFC3339, data.PeriodEnd)
		if err != nil {
			return fmt.Errorf("parse period_end: %w", err)
		}
		return i.users.SetBillingPeriod(ctx, data.UserId, start.UTC(), end.UTC())

	case EventTierChanged:
		var data models.TierChangedData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return fmt.Errorf("decode %s: %w", event.Type, err)
		}
		return i.users.SetTier(ctx, data.UserId, data.Tier)

	default:
		// unknown types are recorded but not acted on, so new provider
		// events never bounce deliveries
		slog.Info("unhandled billing event type", "event_id", event.Id, "type", event.Type)
		return nil
	}
}
