package quota

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"market-analyst-bot/internal/cache"
)

type mockStore struct {
	data map[string]string
}

func newMockStore() *mockStore { return &mockStore{data: make(map[string]string)} }

func (m *mockStore) GetJSON(ctx context.Context, key string, dest interface{}) error {
	v, ok := m.data[key]
	if !ok {
		return cache.ErrMiss
	}
	return json.Unmarshal([]byte(v), dest)
}

func (m *mockStore) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.data[key] = string(b)
	return nil
}

type mockUsers struct {
	profiles map[string]Profile
}

func (m *mockUsers) QuotaProfile(ctx context.Context, userID string) (Profile, error) {
	p, ok := m.profiles[userID]
	if !ok {
		return Profile{}, errors.New("no such user")
	}
	return p, nil
}

func newTestController(profiles map[string]Profile) (*Controller, *mockStore) {
	store := newMockStore()
	cfg := DefaultConfig()
	c := NewController(store, &mockUsers{profiles: profiles}, cfg, nil)
	return c, store
}

func TestFreeTierDeniedOnSixth(t *testing.T) {
	c, _ := newTestController(map[string]Profile{"u1": {Role: "user"}})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		dec, err := c.Check(ctx, "u1")
		if err != nil || !dec.Allowed {
			t.Fatalf("check %d: dec=%+v err=%v", i+1, dec, err)
		}
		if err := c.Consume(ctx, "u1", 1); err != nil {
			t.Fatalf("consume %d: %v", i+1, err)
		}
	}

	dec, err := c.Check(ctx, "u1")
	if !errors.Is(err, ErrExceeded) {
		t.Fatalf("6th check should be denied, got dec=%+v err=%v", dec, err)
	}
}

func TestFailedCallDoesNotMoveCounter(t *testing.T) {
	c, _ := newTestController(map[string]Profile{"u1": {Role: "user"}})
	ctx := context.Background()

	// Check without consume models a failed analysis.
	for i := 0; i < 20; i++ {
		dec, err := c.Check(ctx, "u1")
		if err != nil || !dec.Allowed {
			t.Fatalf("check %d should still pass: %v", i+1, err)
		}
	}

	rem, err := c.Remaining(ctx, "u1")
	if err != nil || rem != DefaultConfig().FreeDailyLimit {
		t.Errorf("remaining = %d (%v), want full allowance", rem, err)
	}
}

func TestSubscriberGetsHigherLimit(t *testing.T) {
	c, _ := newTestController(map[string]Profile{
		"sub": {Role: "user", SubscriptionActive: true},
	})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := c.Check(ctx, "sub"); err != nil {
			t.Fatalf("subscriber check %d denied: %v", i+1, err)
		}
		if err := c.Consume(ctx, "sub", 1); err != nil {
			t.Fatal(err)
		}
	}
	dec, err := c.Check(ctx, "sub")
	if err != nil || !dec.Allowed {
		t.Errorf("subscriber should pass beyond the free limit: dec=%+v err=%v", dec, err)
	}
}

func TestPrivilegedAlwaysPasses(t *testing.T) {
	c, store := newTestController(map[string]Profile{"boss": {Role: RoleAdmin}})
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		dec, err := c.Check(ctx, "boss")
		if err != nil || !dec.Allowed || dec.Remaining != -1 {
			t.Fatalf("admin must always pass: %+v %v", dec, err)
		}
		if err := c.Consume(ctx, "boss", 1); err != nil {
			t.Fatal(err)
		}
	}
	if len(store.data) != 0 {
		t.Error("privileged consumption must not write quota state")
	}
}

func TestMidnightRolloverResetsOnce(t *testing.T) {
	c, store := newTestController(map[string]Profile{"u1": {Role: "user"}})
	ctx := context.Background()

	current := time.Date(2026, 3, 10, 23, 50, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return current })

	for i := 0; i < 5; i++ {
		if _, err := c.Check(ctx, "u1"); err != nil {
			t.Fatal(err)
		}
		if err := c.Consume(ctx, "u1", 1); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := c.Check(ctx, "u1"); !errors.Is(err, ErrExceeded) {
		t.Fatal("should be exhausted before midnight")
	}

	// Cross midnight.
	current = time.Date(2026, 3, 11, 0, 5, 0, 0, time.UTC)

	dec, err := c.Check(ctx, "u1")
	if err != nil || !dec.Allowed {
		t.Fatalf("new day should reset the daily counter: %+v %v", dec, err)
	}
	if err := c.Consume(ctx, "u1", 1); err != nil {
		t.Fatal(err)
	}

	var st State
	if err := json.Unmarshal([]byte(store.data[cache.QuotaKey("u1")]), &st); err != nil {
		t.Fatal(err)
	}
	if st.DailyUsed != 1 || st.DailyDate != "2026-03-11" {
		t.Errorf("state after rollover = %+v, want dailyUsed=1 on the new key", st)
	}
	if st.MonthlyUsed != 6 {
		t.Errorf("monthly counter should carry across days within the month, got %d", st.MonthlyUsed)
	}
}

func TestMonthlyLimitIndependentOfDaily(t *testing.T) {
	store := newMockStore()
	cfg := DefaultConfig()
	cfg.FreeDailyLimit = 100
	cfg.MonthlyLimit = 3
	c := NewController(store, &mockUsers{profiles: map[string]Profile{"u": {Role: "user"}}}, cfg, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.Check(ctx, "u"); err != nil {
			t.Fatal(err)
		}
		if err := c.Consume(ctx, "u", 1); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := c.Check(ctx, "u"); !errors.Is(err, ErrExceeded) {
		t.Error("monthly limit should deny even with daily headroom")
	}
}

func TestTimezoneAffectsDayKey(t *testing.T) {
	store := newMockStore()
	cfg := DefaultConfig()
	cfg.Timezone = "Asia/Tokyo"
	c := NewController(store, &mockUsers{profiles: map[string]Profile{"u": {Role: "user"}}}, cfg, nil)
	ctx := context.Background()

	// 23:00 UTC on the 10th is already the 11th in Tokyo.
	c.SetClock(func() time.Time { return time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC) })
	if err := c.Consume(ctx, "u", 1); err != nil {
		t.Fatal(err)
	}

	var st State
	if err := json.Unmarshal([]byte(store.data[cache.QuotaKey("u")]), &st); err != nil {
		t.Fatal(err)
	}
	if st.DailyDate != "2026-03-11" {
		t.Errorf("day key = %s, want 2026-03-11 (Tokyo local date)", st.DailyDate)
	}
}
