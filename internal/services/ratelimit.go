package services

import (
	"context"
	"fmt"
	"time"

	"github.com/games-vector/vector-games-v2-sub000/internal/store"
)

const (
	RateLimitBets     = 30 // per minute
	RateLimitCashouts = 60
	RateLimitReveals  = 120
)

// RateLimiter counts actions per user in a rolling window.
type RateLimiter struct {
	store store.Store
}

func NewRateLimiter(st store.Store) *RateLimiter {
	return &RateLimiter{store: st}
}

// Allow increments the counter for (userID, action) and reports
// whether the caller is still inside the limit for the window.
func (r *RateLimiter) Allow(ctx context.Context, userID, action string, limit int, window time.Duration) (bool, error) {
	key := fmt.Sprintf(store.KeyRateLimit, userID, action)

	count, err := r.store.Incr(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to check rate limit: %w", err)
	}
	if count == 1 {
		if err := r.store.Expire(ctx, key, window); err != nil {
			return false, err
		}
	}

	return count <= int64(limit), nil
}
