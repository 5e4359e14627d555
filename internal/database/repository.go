package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository provides data access methods
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// USERS
// ============================================================================

// CreateUser inserts a new user
func (r *Repository) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.Role == "" {
		user.Role = RoleUser
	}
	if user.SubscriptionTier == "" {
		user.SubscriptionTier = TierFree
	}
	if user.SubscriptionStatus == "" {
		user.SubscriptionStatus = StatusActive
	}

	query := `
		INSERT INTO users (id, email, password_hash, name, role, subscription_tier, subscription_status, subscription_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	return r.db.Pool.QueryRow(
		ctx, query,
		user.ID, user.Email, user.PasswordHash, user.Name,
		user.Role, user.SubscriptionTier, user.SubscriptionStatus, user.SubscriptionExpiresAt,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
}

// GetUserByID retrieves a user by ID. Returns (nil, nil) when no row exists.
func (r *Repository) GetUserByID(ctx context.Context, userID string) (*User, error) {
	return r.scanUser(ctx, `WHERE id = $1`, userID)
}

// GetUserByEmail retrieves a user by email. Returns (nil, nil) when no row exists.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return r.scanUser(ctx, `WHERE email = $1`, email)
}

func (r *Repository) scanUser(ctx context.Context, where string, arg any) (*User, error) {
	query := `
		SELECT id, email, password_hash, COALESCE(name, ''), role,
			subscription_tier, subscription_status, subscription_expires_at,
			last_login_at, created_at, updated_at
		FROM users ` + where

	user := &User{}
	err := r.db.Pool.QueryRow(ctx, query, arg).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.Name, &user.Role,
		&user.SubscriptionTier, &user.SubscriptionStatus, &user.SubscriptionExpiresAt,
		&user.LastLoginAt, &user.CreatedAt, &user.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// UpdateUserLastLogin stamps the user's last login time
func (r *Repository) UpdateUserLastLogin(ctx context.Context, userID string) error {
	query := `UPDATE users SET last_login_at = NOW(), updated_at = NOW() WHERE id = $1`
	_, err := r.db.Pool.Exec(ctx, query, userID)
	return err
}

// UpdateSubscription changes a user's tier, status and expiry
func (r *Repository) UpdateSubscription(ctx context.Context, userID string, tier SubscriptionTier, status SubscriptionStatus, expiresAt *time.Time) error {
	query := `
		UPDATE users
		SET subscription_tier = $2, subscription_status = $3, subscription_expires_at = $4, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Pool.Exec(ctx, query, userID, tier, status, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user not found: %s", userID)
	}
	return nil
}

// UpdateUserRole changes a user's role
func (r *Repository) UpdateUserRole(ctx context.Context, userID string, role Role) error {
	query := `UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.db.Pool.Exec(ctx, query, userID, role)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user not found: %s", userID)
	}
	return nil
}

// ============================================================================
// ANALYSIS RECORDS
// ============================================================================

// CreateAnalysisRecord inserts a completed analysis summary row
func (r *Repository) CreateAnalysisRecord(ctx context.Context, rec *AnalysisRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	query := `
		INSERT INTO analysis_records (id, user_id, market, symbol, timeframe, style, risk, validated, repaired, zone_count, chart_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at
	`
	return r.db.Pool.QueryRow(
		ctx, query,
		rec.ID, rec.UserID, rec.Market, rec.Symbol, rec.Timeframe, rec.Style, rec.Risk,
		rec.Validated, rec.Repaired, rec.ZoneCount, rec.ChartRef,
	).Scan(&rec.CreatedAt)
}

// ListAnalysisRecords returns the most recent analyses for a user
func (r *Repository) ListAnalysisRecords(ctx context.Context, userID string, limit int) ([]*AnalysisRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := `
		SELECT id, user_id, market, symbol, timeframe, style, risk, validated, repaired, zone_count, COALESCE(chart_ref, ''), created_at
		FROM analysis_records
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list analysis records: %w", err)
	}
	defer rows.Close()

	var records []*AnalysisRecord
	for rows.Next() {
		rec := &AnalysisRecord{}
		if err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.Market, &rec.Symbol, &rec.Timeframe,
			&rec.Style, &rec.Risk, &rec.Validated, &rec.Repaired, &rec.ZoneCount,
			&rec.ChartRef, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan analysis record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
