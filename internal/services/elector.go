package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/games-vector/vector-games-v2-sub000/internal/models"
	"github.com/games-vector/vector-games-v2-sub000/internal/store"
)

// LeaderElector is the distributed lock ensuring exactly one pod owns
// round progression for a game code. Callers must renew strictly more
// often than half the TTL; on renewal failure they must stop driving
// ticks before retrying acquisition.
type LeaderElector struct {
	store    store.Store
	gameCode models.GameCode
	ttl      time.Duration
}

func NewLeaderElector(st store.Store, gameCode models.GameCode, ttl time.Duration) *LeaderElector {
	return &LeaderElector{store: st, gameCode: gameCode, ttl: ttl}
}

func (e *LeaderElector) key() string {
	return fmt.Sprintf(store.KeyLeaderLock, e.gameCode)
}

// TryAcquire takes the lock if free, or refreshes it if ownerID
// already holds it.
func (e *LeaderElector) TryAcquire(ctx context.Context, ownerID string) (bool, error) {
	ok, err := e.store.SetNX(ctx, e.key(), ownerID, e.ttl)
	if err != nil {
		return false, fmt.Errorf("failed to acquire leader lock: %w", err)
	}
	if ok {
		return true, nil
	}

	// Already held; succeed only if held by us.
	return e.Renew(ctx, ownerID)
}

// Renew refreshes the TTL only while ownerID is still the recorded
// owner.
func (e *LeaderElector) Renew(ctx context.Context, ownerID string) (bool, error) {
	ok, err := e.store.RenewIfOwner(ctx, e.key(), ownerID, e.ttl)
	if err != nil {
		return false, fmt.Errorf("failed to renew leader lock: %w", err)
	}
	return ok, nil
}

// Release deletes the lock iff still owned by ownerID.
func (e *LeaderElector) Release(ctx context.Context, ownerID string) error {
	_, err := e.store.DelIfOwner(ctx, e.key(), ownerID)
	if err != nil {
		return fmt.Errorf("failed to release leader lock: %w", err)
	}
	return nil
}

// CurrentLeader returns the pod currently holding the lock, or "".
func (e *LeaderElector) CurrentLeader(ctx context.Context) (string, error) {
	owner, err := e.store.Get(ctx, e.key())
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	return owner, err
}
