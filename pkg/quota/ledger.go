package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cmoscardi/textbook-tts/models/tables"
)

var (
	// ErrQuotaExceeded is terminal: the caller surfaces it as an upgrade
	// prompt, never retries it.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrNoTierConfig means a user references a tier with no config row.
	// That is a deployment bug, not a user-facing condition.
	ErrNoTierConfig = errors.New("tier config not found")
)

// Store is the persistence boundary for the ledger. ReserveUnits must be
// atomic per usage row: two concurrent reservations for the same user must
// serialize, and the limit is re-checked inside that critical section.
type Store interface {
	User(ctx context.Context, id string) (tables.User, error)
	TierConfig(ctx context.Context, name string) (tables.TierConfig, error)
	GetUsage(ctx context.Context, userID, periodKind string, periodStart time.Time) (tables.UsagePeriod, bool, error)
	InsertUsage(ctx context.Context, rec *tables.UsagePeriod) error
	RefreshSnapshot(ctx context.Context, id int64, unitLimit int64, periodEnd *time.Time) error
	ReserveUnits(ctx context.Context, userID, periodKind string, periodStart time.Time, units int64, unlimited bool) (tables.UsagePeriod, error)
}

// Ledger does per-user usage-period accounting and admission checks.
type Ledger struct {
	store Store
	now   func() time.Time
}

func New(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// ResolvePeriod maps a user and tier config to the current reset window.
// Lifetime tiers run from account creation with no end. Periodic tiers use
// the billing provider's window verbatim when the user profile carries one;
// otherwise they fall back to a calendar-aligned window so the tier still
// behaves sanely without an active subscription record.
func (l *Ledger) ResolvePeriod(user tables.User, cfg tables.TierConfig) (time.Time, *time.Time) {
	if cfg.PeriodKind == tables.PeriodLifetime {
		return user.CreatedAt.UTC(), nil
	}

	if user.BillingPeriodStart != nil && user.BillingPeriodEnd != nil {
		return user.BillingPeriodStart.UTC(), user.BillingPeriodEnd
	}

	now := l.now().UTC()
	switch cfg.PeriodKind {
	case tables.PeriodWeekly:
		day := now.Truncate(24 * time.Hour)
		// ISO week starts Monday
		offset := (int(day.Weekday()) + 6) % 7
		start := day.AddDate(0, 0, -offset)
		end := start.AddDate(0, 0, 7)
		return start, &end
	default: // monthly
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		end := start.AddDate(0, 1, 0)
		return start, &end
	}
}

// GetOrCreateUsage returns the ledger row for the user's current period,
// creating it lazily on first access. On every access the limit and period
// end are re-snapshotted from tier config, so config or billing-period
// changes apply to future checks without losing accumulated usage.
func (l *Ledger) GetOrCreateUsage(ctx context.Context, userID string) (tables.UsagePeriod, error) {
	user, err := l.store.User(ctx, userID)
	if err != nil {
		return tables.UsagePeriod{}, fmt.Errorf("load user %s: %w", userID, err)
	}

	cfg, err := l.store.TierConfig(ctx, user.Tier)
	if err != nil {
		return tables.UsagePeriod{}, fmt.Errorf("tier %q: %w", user.Tier, err)
	}

	start, end := l.ResolvePeriod(user, cfg)

	rec, found, err := l.store.GetUsage(ctx, userID, cfg.PeriodKind, start)
	if err != nil {
		return tables.UsagePeriod{}, err
	}

	if !found {
		rec = tables.UsagePeriod{
			UserId:      userID,
			PeriodKind:  cfg.PeriodKind,
			PeriodStart: start,
			PeriodEnd:   end,
			UnitsUsed:   0,
			UnitLimit:   cfg.UnitLimit,
		}
		if err := l.store.InsertUsage(ctx, &rec); err != nil {
			// lost a create race; the other row wins
			if rec2, found2, err2 := l.store.GetUsage(ctx, userID, cfg.PeriodKind, start); err2 == nil && found2 {
				return rec2, nil
			}
			return tables.UsagePeriod{}, fmt.Errorf("insert usage period: %w", err)
		}
		return rec, nil
	}

	if rec.UnitLimit != cfg.UnitLimit || !periodEndEqual(rec.PeriodEnd, end) {
		if err := l.store.RefreshSnapshot(ctx, rec.Id, cfg.UnitLimit, end); err != nil {
			return tables.UsagePeriod{}, fmt.Errorf("refresh usage snapshot: %w", err)
		}
		rec.UnitLimit = cfg.UnitLimit
		rec.PeriodEnd = end
	}
	return rec, nil
}

// CanConsume is the cheap pre-check before the atomic reserve path.
func (l *Ledger) CanConsume(ctx context.Context, userID string, units int64) (bool, error) {
	user, err := l.store.User(ctx, userID)
	if err != nil {
		return false, err
	}
	if user.Unlimited {
		return true, nil
	}

	rec, err := l.GetOrCreateUsage(ctx, userID)
	if err != nil {
		return false, err
	}
	return rec.UnitsUsed+units <= rec.UnitLimit, nil
}

// Reserve atomically claims units against the current period. The limit is
// re-validated under the row lock, so a burst of concurrent submissions
// cannot overshoot the remaining quota. Unlimited users still accumulate
// UnitsUsed for observability.
func (l *Ledger) Reserve(ctx context.Context, userID string, units int64) (tables.UsagePeriod, error) {
	user, err := l.store.User(ctx, userID)
	if err != nil {
		return tables.UsagePeriod{}, err
	}

	rec, err := l.GetOrCreateUsage(ctx, userID)
	if err != nil {
		return tables.UsagePeriod{}, err
	}

	out, err := l.store.ReserveUnits(ctx, userID, rec.PeriodKind, rec.PeriodStart, units, user.Unlimited)
	if err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			slog.Info("quota reservation rejected",
				"user_id", userID, "units", units, "used", rec.UnitsUsed, "limit", rec.UnitLimit)
		}
		return tables.UsagePeriod{}, err
	}
	return out, nil
}

func periodEndEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
