package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cmoscardi/textbook-tts/models/tables"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore implements Store in memory with the same atomicity contract as
// the mysql store: ReserveUnits serializes per process and re-checks the
// limit inside the critical section.
type memStore struct {
	mu     sync.Mutex
	users  map[string]tables.User
	tiers  map[string]tables.TierConfig
	usage  map[string]*tables.UsagePeriod
	nextID int64
}

func newMemStore() *memStore {
	return &memStore{
		users: make(map[string]tables.User),
		tiers: make(map[string]tables.TierConfig),
		usage: make(map[string]*tables.UsagePeriod),
	}
}

func usageKey(userID, kind string, start time.Time) string {
	return fmt.Sprintf("%s|%s|%d", userID, kind, start.Unix())
}

func (m *memStore) User(ctx context.Context, id string) (tables.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return tables.User{}, fmt.Errorf("user %s not found", id)
	}
	return u, nil
}

func (m *memStore) TierConfig(ctx context.Context, name string) (tables.TierConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.tiers[name]
	if !ok {
		return tables.TierConfig{}, ErrNoTierConfig
	}
	return cfg, nil
}

func (m *memStore) GetUsage(ctx context.Context, userID, kind string, start time.Time) (tables.UsagePeriod, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.usage[usageKey(userID, kind, start)]
	if !ok {
		return tables.UsagePeriod{}, false, nil
	}
	return *rec, true, nil
}

func (m *memStore) InsertUsage(ctx context.Context, rec *tables.UsagePeriod) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := usageKey(rec.UserId, rec.PeriodKind, rec.PeriodStart)
	if _, ok := m.usage[key]; ok {
		return errors.New("duplicate usage period")
	}
	m.nextID++
	rec.Id = m.nextID
	cp := *rec
	m.usage[key] = &cp
	return nil
}

func (m *memStore) RefreshSnapshot(ctx context.Context, id int64, unitLimit int64, periodEnd *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.usage {
		if rec.Id == id {
			rec.UnitLimit = unitLimit
			rec.PeriodEnd = periodEnd
			return nil
		}
	}
	return errors.New("usage period not found")
}

func (m *memStore) ReserveUnits(ctx context.Context, userID, kind string, start time.Time, units int64, unlimited bool) (tables.UsagePeriod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.usage[usageKey(userID, kind, start)]
	if !ok {
		return tables.UsagePeriod{}, errors.New("usage period missing")
	}
	if !unlimited && rec.UnitsUsed+units > rec.UnitLimit {
		return tables.UsagePeriod{}, ErrQuotaExceeded
	}
	rec.UnitsUsed += units
	return *rec, nil
}

func seedUser(m *memStore, id, tier string, unlimited bool) {
	m.users[id] = tables.User{
		Id:        id,
		Tier:      tier,
		Unlimited: unlimited,
		CreatedAt: time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC),
	}
}

func TestResolvePeriod(t *testing.T) {
	store := newMemStore()
	ledger := New(store)
	ledger.now = func() time.Time {
		return time.Date(2025, 6, 18, 15, 30, 0, 0, time.UTC) // a Wednesday
	}

	created := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)
	bpStart := time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)
	bpEnd := time.Date(2025, 7, 3, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		user      tables.User
		cfg       tables.TierConfig
		wantStart time.Time
		wantEnd   *time.Time
	}{
		{
			name:      "lifetime runs from account creation",
			user:      tables.User{CreatedAt: created},
			cfg:       tables.TierConfig{PeriodKind: tables.PeriodLifetime},
			wantStart: created,
			wantEnd:   nil,
		},
		{
			name:      "monthly billing window used verbatim",
			user:      tables.User{BillingPeriodStart: &bpStart, BillingPeriodEnd: &bpEnd},
			cfg:       tables.TierConfig{PeriodKind: tables.PeriodMonthly},
			wantStart: bpStart,
			wantEnd:   &bpEnd,
		},
		{
			name:      "monthly calendar fallback",
			user:      tables.User{},
			cfg:       tables.TierConfig{PeriodKind: tables.PeriodMonthly},
			wantStart: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   timePtr(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)),
		},
		{
			name:      "weekly calendar fallback starts Monday",
			user:      tables.User{},
			cfg:       tables.TierConfig{PeriodKind: tables.PeriodWeekly},
			wantStart: time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC),
			wantEnd:   timePtr(time.Date(2025, 6, 23, 0, 0, 0, 0, time.UTC)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := ledger.ResolvePeriod(tt.user, tt.cfg)
			assert.True(t, start.Equal(tt.wantStart), "start = %v, want %v", start, tt.wantStart)
			if tt.wantEnd == nil {
				assert.Nil(t, end)
			} else {
				require.NotNil(t, end)
				assert.True(t, end.Equal(*tt.wantEnd), "end = %v, want %v", end, tt.wantEnd)
			}
		})
	}
}

func timePtr(t time.Time) *time.Time { return &t }

func TestGetOrCreateUsageIdempotent(t *testing.T) {
	store := newMemStore()
	store.tiers["free"] = tables.TierConfig{Id: 1, Name: "free", UnitLimit: 10, PeriodKind: tables.PeriodLifetime}
	seedUser(store, "u1", "free", false)
	ledger := New(store)

	first, err := ledger.GetOrCreateUsage(context.Background(), "u1")
	require.NoError(t, err)
	second, err := ledger.GetOrCreateUsage(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, first.Id, second.Id)
	assert.Equal(t, first.UnitsUsed, second.UnitsUsed)
	assert.EqualValues(t, 0, second.UnitsUsed)
}

func TestGetOrCreateUsageRefreshesSnapshot(t *testing.T) {
	store := newMemStore()
	store.tiers["free"] = tables.TierConfig{Id: 1, Name: "free", UnitLimit: 10, PeriodKind: tables.PeriodLifetime}
	seedUser(store, "u1", "free", false)
	ledger := New(store)

	rec, err := ledger.GetOrCreateUsage(context.Background(), "u1")
	require.NoError(t, err)
	_, err = ledger.Reserve(context.Background(), "u1", 4)
	require.NoError(t, err)

	// admin raises the tier limit; history is preserved
	store.mu.Lock()
	store.tiers["free"] = tables.TierConfig{Id: 1, Name: "free", UnitLimit: 25, PeriodKind: tables.PeriodLifetime}
	store.mu.Unlock()

	rec, err = ledger.GetOrCreateUsage(context.Background(), "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 25, rec.UnitLimit)
	assert.EqualValues(t, 4, rec.UnitsUsed)
}

func TestGetOrCreateUsageMissingTierConfig(t *testing.T) {
	store := newMemStore()
	seedUser(store, "u1", "mystery", false)
	ledger := New(store)

	_, err := ledger.GetOrCreateUsage(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrNoTierConfig)
}

func TestCanConsume(t *testing.T) {
	store := newMemStore()
	store.tiers["free"] = tables.TierConfig{Id: 1, Name: "free", UnitLimit: 10, PeriodKind: tables.PeriodLifetime}
	seedUser(store, "u1", "free", false)
	seedUser(store, "vip", "free", true)
	ledger := New(store)
	ctx := context.Background()

	ok, err := ledger.CanConsume(ctx, "u1", 10)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ledger.CanConsume(ctx, "u1", 11)
	require.NoError(t, err)
	assert.False(t, ok)

	// unlimited override wins regardless of the limit
	ok, err = ledger.CanConsume(ctx, "vip", 1000)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReserveRejectsOverLimit(t *testing.T) {
	store := newMemStore()
	store.tiers["free"] = tables.TierConfig{Id: 1, Name: "free", UnitLimit: 10, PeriodKind: tables.PeriodLifetime}
	seedUser(store, "u1", "free", false)
	ledger := New(store)
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		_, err := ledger.Reserve(ctx, "u1", 1)
		require.NoError(t, err)
	}

	rec, err := ledger.Reserve(ctx, "u1", 1)
	require.NoError(t, err)
	assert.EqualValues(t, 10, rec.UnitsUsed)

	_, err = ledger.Reserve(ctx, "u1", 1)
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	// rejected reservation mutated nothing
	rec, err = ledger.GetOrCreateUsage(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 10, rec.UnitsUsed)
}

func TestReserveUnlimitedStillCounts(t *testing.T) {
	store := newMemStore()
	store.tiers["free"] = tables.TierConfig{Id: 1, Name: "free", UnitLimit: 2, PeriodKind: tables.PeriodLifetime}
	seedUser(store, "vip", "free", true)
	ledger := New(store)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := ledger.Reserve(ctx, "vip", 1)
		require.NoError(t, err)
	}
	rec, err := ledger.GetOrCreateUsage(ctx, "vip")
	require.NoError(t, err)
	assert.EqualValues(t, 5, rec.UnitsUsed)
}

// Concurrent burst past the remaining quota: at most the remaining units are
// granted, never more.
func TestReserveNoOvershootUnderConcurrency(t *testing.T) {
	store := newMemStore()
	store.tiers["free"] = tables.TierConfig{Id: 1, Name: "free", UnitLimit: 10, PeriodKind: tables.PeriodLifetime}
	seedUser(store, "u1", "free", false)
	ledger := New(store)
	ctx := context.Background()

	// 9 of 10 already used, 20 concurrent submissions want 1 each
	for i := 0; i < 9; i++ {
		_, err := ledger.Reserve(ctx, "u1", 1)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted, rejected := 0, 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Reserve(ctx, "u1", 1)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				granted++
			} else if errors.Is(err, ErrQuotaExceeded) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, granted)
	assert.Equal(t, 19, rejected)

	rec, err := ledger.GetOrCreateUsage(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 10, rec.UnitsUsed)
}
