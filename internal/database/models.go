package database

import (
	"time"
)

// SubscriptionTier represents the user's subscription level
type SubscriptionTier string

const (
	TierFree SubscriptionTier = "free"
	TierPro  SubscriptionTier = "pro"
)

// SubscriptionStatus represents the status of a subscription
type SubscriptionStatus string

const (
	StatusActive    SubscriptionStatus = "active"
	StatusPastDue   SubscriptionStatus = "past_due"
	StatusCancelled SubscriptionStatus = "cancelled"
)

// Role represents a user's access level
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
	RoleOwner Role = "owner"
)

// User represents a platform user
type User struct {
	ID                    string             `json:"id"`
	Email                 string             `json:"email"`
	PasswordHash          string             `json:"-"` // Never serialize
	Name                  string             `json:"name,omitempty"`
	Role                  Role               `json:"role"`
	SubscriptionTier      SubscriptionTier   `json:"subscription_tier"`
	SubscriptionStatus    SubscriptionStatus `json:"subscription_status"`
	SubscriptionExpiresAt *time.Time         `json:"subscription_expires_at,omitempty"`
	LastLoginAt           *time.Time         `json:"last_login_at,omitempty"`
	CreatedAt             time.Time          `json:"created_at"`
	UpdatedAt             time.Time          `json:"updated_at"`
}

// SubscriptionActive reports whether the user has a live paid subscription.
func (u *User) SubscriptionActive(now time.Time) bool {
	if u.SubscriptionTier == TierFree {
		return false
	}
	if u.SubscriptionStatus != StatusActive {
		return false
	}
	if u.SubscriptionExpiresAt != nil && u.SubscriptionExpiresAt.Before(now) {
		return false
	}
	return true
}

// AnalysisRecord is a persisted summary of one completed analysis run.
// The full generation text lives in Redis; this row is the audit trail.
type AnalysisRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Market    string    `json:"market"`
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Style     string    `json:"style"`
	Risk      string    `json:"risk"`
	Validated bool      `json:"validated"`
	Repaired  bool      `json:"repaired"`
	ZoneCount int       `json:"zone_count"`
	ChartRef  string    `json:"chart_ref,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
