package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/games-vector/vector-games-v2-sub000/internal/models"
	"github.com/games-vector/vector-games-v2-sub000/internal/store"
)

// RoundStore is the versioned, shared representation of the current
// round. The store is the sole owner of authoritative state; every
// in-process Round is a cache that must be reloaded before mutation.
type RoundStore struct {
	store store.Store
	spec  models.GameSpec
}

func NewRoundStore(st store.Store, spec models.GameSpec) *RoundStore {
	return &RoundStore{store: st, spec: spec}
}

func (rs *RoundStore) roundKey() string {
	return fmt.Sprintf(store.KeyRound, rs.spec.Code)
}

// Load returns the current round, or ErrRoundNotFound.
func (rs *RoundStore) Load(ctx context.Context) (*models.Round, error) {
	data, err := rs.store.Get(ctx, rs.roundKey())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, models.ErrRoundNotFound
		}
		return nil, fmt.Errorf("failed to load round: %w", err)
	}

	var round models.Round
	if err := json.Unmarshal([]byte(data), &round); err != nil {
		return nil, fmt.Errorf("failed to unmarshal round: %w", err)
	}
	return &round, nil
}

// Save persists the round, incrementing its version. A store version
// ahead of the in-memory copy means a concurrent writer got there
// first; the caller must reload and replay. Should not happen while
// leadership is respected, but guards against split-brain.
func (rs *RoundStore) Save(ctx context.Context, round *models.Round) error {
	current, err := rs.Load(ctx)
	if err != nil && !errors.Is(err, models.ErrRoundNotFound) {
		return err
	}
	if current != nil && current.RoundID == round.RoundID && current.Version > round.Version {
		return fmt.Errorf("%w: store at v%d, caller at v%d",
			models.ErrVersionConflict, current.Version, round.Version)
	}

	round.Version++
	round.UpdatedAt = time.Now()

	data, err := json.Marshal(round)
	if err != nil {
		return fmt.Errorf("failed to marshal round: %w", err)
	}
	if err := rs.store.Set(ctx, rs.roundKey(), string(data), 0); err != nil {
		return fmt.Errorf("failed to save round: %w", err)
	}

	// Verifying read-back: another writer racing us would have bumped
	// the version past ours.
	verify, err := rs.Load(ctx)
	if err == nil && verify.RoundID == round.RoundID && verify.Version != round.Version {
		return fmt.Errorf("%w: read-back at v%d, wrote v%d",
			models.ErrVersionConflict, verify.Version, round.Version)
	}

	rs.writeProjections(ctx, round)
	return nil
}

// writeProjections maintains the read-optimized copies non-leader pods
// poll. Failures degrade: the authoritative round is already saved.
func (rs *RoundStore) writeProjections(ctx context.Context, round *models.Round) {
	state := round.PublicState(rs.waitTimeMs(round))
	if round.Status == models.RoundStatusWait {
		// Late joiners see the prior round's outcome during the wait.
		if prev, err := rs.LoadPrevious(ctx); err == nil && len(prev) > 0 {
			state.PreviousBets = prev
		}
	}
	if data, err := json.Marshal(state); err == nil {
		if err := rs.store.Set(ctx, fmt.Sprintf(store.KeyRoundState, rs.spec.Code), string(data), 0); err != nil {
			log.Warn().Err(err).Str("game", string(rs.spec.Code)).Msg("failed to write state projection")
		}
	}

	coeff := strconv.FormatFloat(round.CurrentCoefficient, 'f', -1, 64)
	if err := rs.store.Set(ctx, fmt.Sprintf(store.KeyRoundCoeff, rs.spec.Code), coeff, 0); err != nil {
		log.Warn().Err(err).Str("game", string(rs.spec.Code)).Msg("failed to write coefficient projection")
	}
}

func (rs *RoundStore) waitTimeMs(round *models.Round) int64 {
	if round.Status != models.RoundStatusWait || round.WaitUntil.IsZero() {
		return 0
	}
	ms := time.Until(round.WaitUntil).Milliseconds()
	if ms < 0 {
		ms = 0
	}
	return ms
}

// Clear deletes the round projection entirely, returning to pre-WAIT.
func (rs *RoundStore) Clear(ctx context.Context) error {
	for _, key := range []string{
		rs.roundKey(),
		fmt.Sprintf(store.KeyRoundState, rs.spec.Code),
		fmt.Sprintf(store.KeyRoundCoeff, rs.spec.Code),
	} {
		if err := rs.store.Del(ctx, key); err != nil {
			return fmt.Errorf("failed to clear round key %s: %w", key, err)
		}
	}
	return nil
}

// PublicState reads the state projection. Missing projection degrades
// to nil.
func (rs *RoundStore) PublicState(ctx context.Context) (*models.PublicState, error) {
	data, err := rs.store.Get(ctx, fmt.Sprintf(store.KeyRoundState, rs.spec.Code))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var state models.PublicState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// CurrentCoefficient reads the cheap coefficient projection.
func (rs *RoundStore) CurrentCoefficient(ctx context.Context) (float64, error) {
	data, err := rs.store.Get(ctx, fmt.Sprintf(store.KeyRoundCoeff, rs.spec.Code))
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(data, 64)
}

// SavePrevious snapshots a finished round's bets for late joiners.
func (rs *RoundStore) SavePrevious(ctx context.Context, bets map[string]*models.Bet) error {
	data, err := json.Marshal(bets)
	if err != nil {
		return fmt.Errorf("failed to marshal previous bets: %w", err)
	}
	return rs.store.Set(ctx, fmt.Sprintf(store.KeyRoundPrevious, rs.spec.Code), string(data), 0)
}

func (rs *RoundStore) LoadPrevious(ctx context.Context) (map[string]*models.Bet, error) {
	data, err := rs.store.Get(ctx, fmt.Sprintf(store.KeyRoundPrevious, rs.spec.Code))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return map[string]*models.Bet{}, nil
		}
		return nil, err
	}
	var bets map[string]*models.Bet
	if err := json.Unmarshal([]byte(data), &bets); err != nil {
		return nil, err
	}
	return bets, nil
}

// AppendHistory adds a finished round's public fairness data to the
// trimmed disclosure list.
func (rs *RoundStore) AppendHistory(ctx context.Context, rec *models.FairnessRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal fairness record: %w", err)
	}
	return rs.store.PushTrim(ctx, fmt.Sprintf(store.KeyRoundHistory, rs.spec.Code),
		string(data), int64(rs.spec.HistorySize))
}

// History returns the most recent fairness disclosures, newest first.
// Transient store errors degrade to an empty list.
func (rs *RoundStore) History(ctx context.Context, limit int) []models.FairnessRecord {
	if limit <= 0 || limit > rs.spec.HistorySize {
		limit = rs.spec.HistorySize
	}
	items, err := rs.store.ListRange(ctx, fmt.Sprintf(store.KeyRoundHistory, rs.spec.Code), 0, int64(limit-1))
	if err != nil {
		log.Warn().Err(err).Str("game", string(rs.spec.Code)).Msg("failed to read fairness history")
		return []models.FairnessRecord{}
	}

	records := make([]models.FairnessRecord, 0, len(items))
	for _, item := range items {
		var rec models.FairnessRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records
}
