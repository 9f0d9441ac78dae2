package billing

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/cmoscardi/textbook-tts/models/models"
	"github.com/cmoscardi/textbook-tts/models/tables"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memEventStore struct {
	events map[string]*tables.BillingEvent
}

func newMemEventStore() *memEventStore {
	return &memEventStore{events: make(map[string]*tables.BillingEvent)}
}

func (m *memEventStore) InsertEvent(ctx context.Context, event *tables.BillingEvent) error {
	if _, ok := m.events[event.EventId]; ok {
		return ErrDuplicateEvent
	}
	cp := *event
	m.events[event.EventId] = &cp
	return nil
}

func (m *memEventStore) MarkEventFailed(ctx context.Context, eventID, errorDetail string) error {
	event, ok := m.events[eventID]
	if !ok {
		return errors.New("no such event")
	}
	event.Status = eventStatusFailed
	event.ErrorDetail = errorDetail
	return nil
}

type memUserStore struct {
	periods map[string][2]time.Time
	tiers   map[string]string
	fail    error
}

func newMemUserStore() *memUserStore {
	return &memUserStore{periods: make(map[string][2]time.Time), tiers: make(map[string]string)}
}

func (m *memUserStore) SetBillingPeriod(ctx context.Context, userID string, start, end time.Time) error {
	if m.fail != nil {
		return m.fail
	}
	m.periods[userID] = [2]time.Time{start, end}
	return nil
}

func (m *memUserStore) SetTier(ctx context.Context, userID, tier string) error {
	if m.fail != nil {
		return m.fail
	}
	m.tiers[userID] = tier
	return nil
}

func event(id, typ string, data interface{}) models.BillingEvent {
	raw, _ := json.Marshal(data)
	return models.BillingEvent{Id: id, Type: typ, Data: raw}
}

func TestProcessPeriodRenewed(t *testing.T) {
	events, users := newMemEventStore(), newMemUserStore()
	intake := NewIntake(events, users)

	err := intake.Process(context.Background(), event("evt-1", EventPeriodRenewed, models.PeriodRenewedData{
		UserId:      "u1",
		PeriodStart: "2025-06-01T00:00:00Z",
		PeriodEnd:   "2025-07-01T00:00:00Z",
	}))
	require.NoError(t, err)

	window := users.periods["u1"]
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), window[0])
	assert.Equal(t, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), window[1])
	assert.Equal(t, eventStatusProcessed, events.events["evt-1"].Status)
}

func TestProcessTierChanged(t *testing.T) {
	events, users := newMemEventStore(), newMemUserStore()
	intake := NewIntake(events, users)

	err := intake.Process(context.Background(), event("evt-2", EventTierChanged, models.TierChangedData{
		UserId: "u1",
		Tier:   "pro",
	}))
	require.NoError(t, err)
	assert.Equal(t, "pro", users.tiers["u1"])
}

func TestProcessDuplicateIsNoop(t *testing.T) {
	events, users := newMemEventStore(), newMemUserStore()
	intake := NewIntake(events, users)
	ctx := context.Background()

	evt := event("evt-42", EventTierChanged, models.TierChangedData{UserId: "u1", Tier: "pro"})
	require.NoError(t, intake.Process(ctx, evt))

	users.tiers["u1"] = "free" // would be visible if the duplicate re-applied
	require.NoError(t, intake.Process(ctx, evt))

	assert.Equal(t, "free", users.tiers["u1"], "redelivery applies nothing")
	assert.Len(t, events.events, 1)
}

// A failing handler is recorded on the event; intake still accepts the
// delivery so the provider does not retry.
func TestProcessHandlerFailureRecorded(t *testing.T) {
	events, users := newMemEventStore(), newMemUserStore()
	users.fail = errors.New("users table gone")
	intake := NewIntake(events, users)

	err := intake.Process(context.Background(), event("evt-3", EventTierChanged, models.TierChangedData{
		UserId: "u1",
		Tier:   "pro",
	}))
	require.NoError(t, err)

	stored := events.events["evt-3"]
	assert.Equal(t, eventStatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorDetail, "users table gone")
}

func TestProcessMalformedData(t *testing.T) {
	events, _ := newMemEventStore(), newMemUserStore()
	intake := NewIntake(events, newMemUserStore())

	err := intake.Process(context.Background(), models.BillingEvent{
		Id:   "evt-4",
		Type: EventPeriodRenewed,
		Data: json.RawMessage(`{"period_start": "yesterday"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, eventStatusFailed, events.events["evt-4"].Status)
}

func TestProcessUnknownTypeAccepted(t *testing.T) {
	events, users := newMemEventStore(), newMemUserStore()
	intake := NewIntake(events, users)

	err := intake.Process(context.Background(), event("evt-5", "invoice.created", map[string]string{"x": "y"}))
	require.NoError(t, err)
	assert.Equal(t, eventStatusProcessed, events.events["evt-5"].Status)
}

func TestProcessMissingId(t *testing.T) {
	intake := NewIntake(newMemEventStore(), newMemUserStore())
	err := intake.Process(context.Background(), models.BillingEvent{Type: EventTierChanged})
	assert.Error(t, err)
}
