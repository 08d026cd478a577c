package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/games-vector/vector-games-v2-sub000/internal/models"
	"github.com/games-vector/vector-games-v2-sub000/internal/store"
)

// UserSeeds keeps each player's client seed: user-chosen when set,
// generated on first use otherwise.
type UserSeeds struct {
	store store.Store
}

func NewUserSeeds(st store.Store) *UserSeeds {
	return &UserSeeds{store: st}
}

// GetOrCreate returns the user's seed, generating and persisting one
// if absent.
func (u *UserSeeds) GetOrCreate(ctx context.Context, userID string) (string, error) {
	key := fmt.Sprintf(store.KeyUserSeed, userID)
	seed, err := u.store.Get(ctx, key)
	if err == nil {
		return seed, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	seed, err = models.GenerateClientSeed()
	if err != nil {
		return "", err
	}
	if err := u.store.Set(ctx, key, seed, 0); err != nil {
		return "", err
	}
	return seed, nil
}

// Set stores a user-chosen seed.
func (u *UserSeeds) Set(ctx context.Context, userID, seed string) error {
	return u.store.Set(ctx, fmt.Sprintf(store.KeyUserSeed, userID), seed, 0)
}
