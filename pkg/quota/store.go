package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/cmoscardi/textbook-tts/models/tables"

	"xorm.io/xorm"
)

// SQLStore is the mysql-backed ledger store. Reservation atomicity comes
// from a SELECT ... FOR UPDATE row lock inside a transaction.
type SQLStore struct {
	engine *xorm.Engine
}

func NewSQLStore(engine *xorm.Engine) *SQLStore {
	return &SQLStore{engine: engine}
}

func (s *SQLStore) User(ctx context.Context, id string) (tables.User, error) {
	var user tables.User
	has, err := s.engine.Context(ctx).ID(id).Get(&user)
	if err != nil {
		return tables.User{}, err
	}
	if !has {
		return tables.User{}, fmt.Errorf("user %s not found", id)
	}
	return user, nil
}

func (s *SQLStore) TierConfig(ctx context.Context, name string) (tables.TierConfig, error) {
	var cfg tables.TierConfig
	has, err := s.engine.Context(ctx).Where("name = ?", name).Get(&cfg)
	if err != nil {
		return tables.TierConfig{}, err
	}
	if !has {
		return tables.TierConfig{}, ErrNoTierConfig
	}
	return cfg, nil
}

func (s *SQLStore) GetUsage(ctx context.Context, userID, periodKind string, periodStart time.Time) (tables.UsagePeriod, bool, error) {
	var rec tables.UsagePeriod
	has, err := s.engine.Context(ctx).
		Where("user_id = ? AND period_kind = ? AND period_start = ?", userID, periodKind, periodStart).
		Get(&rec)
	return rec, has, err
}

func (s *SQLStore) InsertUsage(ctx context.Context, rec *tables.UsagePeriod) error {
	_, err := s.engine.Context(ctx).Insert(rec)
	return err
}

func (s *SQLStore) RefreshSnapshot(ctx context.Context, id int64, unitLimit int64, periodEnd *time.Time) error {
	_, err := s.engine.Context(ctx).ID(id).
		Cols("unit_limit", "period_end").
		Update(&tables.UsagePeriod{UnitLimit: unitLimit, PeriodEnd: periodEnd})
	return err
}

func (s *SQLStore) ReserveUnits(ctx context.Context, userID, periodKind string, periodStart time.Time, units int64, unlimited bool) (tables.UsagePeriod, error) {
	sess := s.engine.NewSession().Context(ctx)
	defer sess.Close()

	if err := sess.Begin(); err != nil {
		return tables.UsagePeriod{}, err
	}

	var rec tables.UsagePeriod
	has, err := sess.ForUpdate().
		Where("user_id = ? AND period_kind = ? AND period_start = ?", userID, periodKind, periodStart).
		Get(&rec)
	if err != nil {
		_ = sess.Rollback()
		return tables.UsagePeriod{}, err
	}
	if !has {
		_ = sess.Rollback()
		return tables.UsagePeriod{}, fmt.Errorf("usage period missing for user %s", userID)
	}

	// re-check under the lock; concurrent winners already bumped units_used
	if !unlimited && rec.UnitsUsed+units > rec.UnitLimit {
		_ = sess.Rollback()
		return tables.UsagePeriod{}, ErrQuotaExceeded
	}

	rec.UnitsUsed += units
	if _, err := sess.ID(rec.Id).Cols("units_used").Update(&rec); err != nil {
		_ = sess.Rollback()
		return tables.UsagePeriod{}, err
	}

	if err := sess.Commit(); err != nil {
		return tables.UsagePeriod{}, err
	}
	return rec, nil
}
