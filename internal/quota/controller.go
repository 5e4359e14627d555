// Package quota gates pipeline execution per user per day and month. The
// controller is the sole owner of quota state; callers check before doing
// work and consume only after the work succeeded, so failed analyses never
// burn quota.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"market-analyst-bot/internal/cache"
	"market-analyst-bot/internal/logging"
)

// ErrExceeded is the admission denial. It is not an execution error; the
// pipeline never ran.
var ErrExceeded = errors.New("quota exceeded")

// Role values with unlimited consumption.
const (
	RoleAdmin = "admin"
	RoleOwner = "owner"
)

// Profile is what the controller needs to know about a user to pick limits.
type Profile struct {
	Role               string
	SubscriptionActive bool
}

// UserSource resolves a user's quota profile. The database repository
// implements it.
type UserSource interface {
	QuotaProfile(ctx context.Context, userID string) (Profile, error)
}

// Store is the single-key KV backing for quota state.
type Store interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// State is the persisted per-user quota record. Reset fields are rewritten,
// not accumulated, whenever the day or month key rolls over.
type State struct {
	DailyUsed   int    `json:"daily_used"`
	DailyDate   string `json:"daily_date"`
	MonthlyUsed int    `json:"monthly_used"`
	MonthKey    string `json:"month_key"`
}

// Config holds limits and the accounting timezone.
type Config struct {
	Timezone         string
	FreeDailyLimit   int
	SubDailyLimit    int
	MonthlyLimit     int
	SubMonthlyLimit  int
}

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	return Config{
		Timezone:        "UTC",
		FreeDailyLimit:  5,
		SubDailyLimit:   50,
		MonthlyLimit:    60,
		SubMonthlyLimit: 1000,
	}
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed   bool
	Remaining int // -1 for unlimited
	Reason    string
}

// Controller implements admission control and consumption recording.
type Controller struct {
	store  Store
	users  UserSource
	cfg    Config
	loc    *time.Location
	now    func() time.Time
	logger *logging.Logger
}

// NewController creates a Controller. An unknown timezone falls back to UTC.
func NewController(store Store, users UserSource, cfg Config, logger *logging.Logger) *Controller {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Controller{
		store:  store,
		users:  users,
		cfg:    cfg,
		loc:    loc,
		now:    time.Now,
		logger: logger.WithComponent("quota"),
	}
}

// SetClock overrides the wall clock. Tests only.
func (c *Controller) SetClock(now func() time.Time) { c.now = now }

func (c *Controller) keys() (day, month string) {
	t := c.now().In(c.loc)
	return t.Format("2006-01-02"), t.Format("2006-01")
}

// load reads the user's state and applies day/month rollovers in memory.
// The rolled-over state is only persisted by Consume; a pure Check never
// writes.
func (c *Controller) load(ctx context.Context, userID string) State {
	var st State
	if err := c.store.GetJSON(ctx, cache.QuotaKey(userID), &st); err != nil && !errors.Is(err, cache.ErrMiss) {
		// Store trouble reads as a fresh state; the accepted failure mode is
		// an occasional extra allowance, never a wrongful denial.
		c.logger.Warn("quota state read failed", "user", userID, "error", err)
	}

	day, month := c.keys()
	if st.DailyDate != day {
		st.DailyUsed = 0
		st.DailyDate = day
	}
	if st.MonthKey != month {
		st.MonthlyUsed = 0
		st.MonthKey = month
	}
	return st
}

func (c *Controller) limits(p Profile) (daily, monthly int) {
	if p.SubscriptionActive {
		return c.cfg.SubDailyLimit, c.cfg.SubMonthlyLimit
	}
	return c.cfg.FreeDailyLimit, c.cfg.MonthlyLimit
}

func privileged(p Profile) bool {
	return p.Role == RoleAdmin || p.Role == RoleOwner
}

// Check decides whether a request for the user may run. It mutates nothing
// durable.
func (c *Controller) Check(ctx context.Context, userID string) (Decision, error) {
	profile, err := c.users.QuotaProfile(ctx, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to resolve user %s: %w", userID, err)
	}
	if privileged(profile) {
		return Decision{Allowed: true, Remaining: -1}, nil
	}

	st := c.load(ctx, userID)
	daily, monthly := c.limits(profile)

	if st.DailyUsed >= daily {
		return Decision{Reason: fmt.Sprintf("daily limit of %d reached", daily)}, ErrExceeded
	}
	if st.MonthlyUsed >= monthly {
		return Decision{Reason: fmt.Sprintf("monthly limit of %d reached", monthly)}, ErrExceeded
	}

	remaining := daily - st.DailyUsed - 1
	if mr := monthly - st.MonthlyUsed - 1; mr < remaining {
		remaining = mr
	}
	return Decision{Allowed: true, Remaining: remaining}, nil
}

// Consume records successful work for the user. Callers invoke it only after
// the downstream pipeline succeeded. Concurrent requests may occasionally
// exceed a limit by one unit; that race is accepted rather than serialized.
func (c *Controller) Consume(ctx context.Context, userID string, n int) error {
	profile, err := c.users.QuotaProfile(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to resolve user %s: %w", userID, err)
	}
	if privileged(profile) {
		return nil
	}

	st := c.load(ctx, userID)
	st.DailyUsed += n
	st.MonthlyUsed += n

	// Keep the record around past the month boundary so a late rollover still
	// sees the old key.
	if err := c.store.SetJSON(ctx, cache.QuotaKey(userID), st, 35*24*time.Hour); err != nil {
		return fmt.Errorf("failed to persist quota state: %w", err)
	}
	return nil
}

// Remaining reports the user's remaining daily allowance without consuming.
func (c *Controller) Remaining(ctx context.Context, userID string) (int, error) {
	profile, err := c.users.QuotaProfile(ctx, userID)
	if err != nil {
		return 0, err
	}
	if privileged(profile) {
		return -1, nil
	}
	st := c.load(ctx, userID)
	daily, monthly := c.limits(profile)
	remaining := daily - st.DailyUsed
	if mr := monthly - st.MonthlyUsed; mr < remaining {
		remaining = mr
	}
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
