package billing

import (
	"context"
	"strings"
	"time"

	"github.com/cmoscardi/textbook-tts/models/tables"

	"xorm.io/xorm"
)

type SQLStore struct {
	engine *xorm.Engine
}

func NewSQLStore(engine *xorm.Engine) *SQLStore {
	return &SQLStore{engine: engine}
}

// InsertEvent relies on the unique index on event_id; the duplicate-key
// error from a redelivery is mapped to ErrDuplicateEvent.
func (s *SQLStore) InsertEvent(ctx context.Context, event *tables.BillingEvent) error {
	_, err := s.engine.Context(ctx).Insert(event)
	if err != nil && isDuplicateKey(err) {
		return ErrDuplicateEvent
	}
	return err
}

func (s *SQLStore) MarkEventFailed(ctx context.Context, eventID, errorDetail string) error {
	event := tables.BillingEvent{Status: eventStatusFailed, ErrorDetail: errorDetail}
	_, err := s.engine.Context(ctx).Where("event_id = ?", eventID).
		Cols("status", "error_detail").
		Update(&event)
	return err
}

func (s *SQLStore) SetBillingPeriod(ctx context.Context, userID string, start, end time.Time) error {
	user := tables.User{BillingPeriodStart: &start, BillingPeriodEnd: &end}
	_, err := s.engine.Context(ctx).ID(userID).
		Cols("billing_period_start", "billing_period_end").
		Update(&user)
	return err
}

func (s *SQLStore) SetTier(ctx context.Context, userID, tier string) error {
	user := tables.User{Tier: tier}
	_, err := s.engine.Context(ctx).ID(userID).Cols("tier").Update(&user)
	return err
}

// MySQL error 1062; matched on text so the mysql driver error type stays
// out of this package.
func isDuplicateKey(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "Error 1062") || strings.Contains(msg, "Duplicate entry")
}
