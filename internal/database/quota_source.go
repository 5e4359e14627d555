package database

import (
	"context"
	"fmt"
	"time"

	"market-analyst-bot/internal/quota"
)

// QuotaProfile resolves the role and subscription state the admission
// controller needs. Unknown users get a zero profile and an error so the
// caller can reject the request rather than grant free-tier access to a
// user ID that does not exist.
func (r *Repository) QuotaProfile(ctx context.Context, userID string) (quota.Profile, error) {
	user, err := r.GetUserByID(ctx, userID)
	if err != nil {
		return quota.Profile{}, err
	}
	if user == nil {
		return quota.Profile{}, fmt.Errorf("unknown user: %s", userID)
	}
	return quota.Profile{
		Role:               string(user.Role),
		SubscriptionActive: user.SubscriptionActive(time.Now()),
	}, nil
}
