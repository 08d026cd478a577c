package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/games-vector/vector-games-v2-sub000/internal/fairness"
	"github.com/games-vector/vector-games-v2-sub000/internal/models"
	"github.com/games-vector/vector-games-v2-sub000/internal/outcome"
)

// RoundEngine is the round state machine: WAIT -> ACTIVE -> FINISHED ->
// (cleared). Only forward transitions; only the elected leader calls
// the mutating methods, but every one of them reloads before mutating
// anyway.
type RoundEngine struct {
	rounds *RoundStore
	gen    *outcome.Generator
	spec   models.GameSpec
	logger zerolog.Logger
}

func NewRoundEngine(rounds *RoundStore, gen *outcome.Generator, spec models.GameSpec) *RoundEngine {
	return &RoundEngine{
		rounds: rounds,
		gen:    gen,
		spec:   spec,
		logger: log.With().Str("game", string(spec.Code)).Logger(),
	}
}

// StartNewRound allocates a fresh WAIT round with its crash coefficient
// pre-computed but hidden, and persists it.
func (e *RoundEngine) StartNewRound(ctx context.Context) (*models.Round, error) {
	serverSeed, err := fairness.NewServerSeed()
	if err != nil {
		return nil, err
	}

	crash, err := e.gen.CrashCoefficient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compute crash coefficient: %w", err)
	}

	now := time.Now()
	round := &models.Round{
		RoundID:            models.NewRoundID(),
		GameCode:           e.spec.Code,
		GameInstanceID:     models.NewGameInstanceID(),
		Status:             models.RoundStatusWait,
		CurrentCoefficient: e.spec.MinCoefficient,
		CrashCoefficient:   crash,
		Speed:              e.gen.Speed(ctx),
		WaitUntil:          now.Add(e.spec.WaitDuration),
		ServerSeed:         serverSeed,
		ServerSeedHash:     fairness.Hash(serverSeed),
		ClientSeeds:        []models.ClientSeed{},
		Bets:               make(map[string]*models.Bet),
		CreatedAt:          now,
	}

	if err := e.rounds.Save(ctx, round); err != nil {
		return nil, err
	}

	e.logger.Info().Str("round_id", round.RoundID).Msg("new round created")
	return round, nil
}

// StartGame moves the round WAIT -> ACTIVE. A wrong current status is
// fatal to the caller, not retried.
func (e *RoundEngine) StartGame(ctx context.Context) (*models.Round, error) {
	round, err := e.rounds.Load(ctx)
	if err != nil {
		return nil, err
	}
	if round.Status != models.RoundStatusWait {
		return nil, fmt.Errorf("%w: cannot start game from status %s",
			models.ErrStateConflict, round.Status)
	}

	round.Status = models.RoundStatusActive
	round.CurrentCoefficient = e.spec.MinCoefficient
	round.StartedAt = time.Now()
	round.IsRunning = true

	if err := e.rounds.Save(ctx, round); err != nil {
		return nil, err
	}

	e.logger.Info().Str("round_id", round.RoundID).Msg("round started")
	return round, nil
}

// TickResult reports what one fast tick did.
type TickResult struct {
	Round *models.Round
	// Stopped is true once the coefficient reached the crash point and
	// the round was finalized.
	Stopped bool
	// Finalized holds the bets endRound resolved, for the settlement
	// sweep.
	Finalized []*models.Bet
}

// Tick recomputes the coefficient from the growth curve. Reloads
// before mutating on every call.
func (e *RoundEngine) Tick(ctx context.Context) (*TickResult, error) {
	round, err := e.rounds.Load(ctx)
	if err != nil {
		return nil, err
	}
	if round.Status != models.RoundStatusActive {
		return nil, fmt.Errorf("%w: cannot tick round in status %s",
			models.ErrStateConflict, round.Status)
	}

	elapsed := time.Since(round.StartedAt).Seconds()
	coeff := e.spec.MinCoefficient + round.Speed*elapsed
	coeff = math.Min(coeff, round.CrashCoefficient)
	round.CurrentCoefficient = models.RoundCoeff(coeff, e.spec.CoeffPrecision)

	if round.CurrentCoefficient >= round.CrashCoefficient {
		finalized, err := e.endRound(ctx, round)
		if err != nil {
			return nil, err
		}
		return &TickResult{Round: round, Stopped: true, Finalized: finalized}, nil
	}

	if err := e.rounds.Save(ctx, round); err != nil {
		return nil, err
	}
	return &TickResult{Round: round}, nil
}

// EndRound finalizes the current round regardless of where the
// coefficient clock stands. Used by the scheduler on shutdown paths.
func (e *RoundEngine) EndRound(ctx context.Context) ([]*models.Bet, error) {
	round, err := e.rounds.Load(ctx)
	if err != nil {
		return nil, err
	}
	if round.Status == models.RoundStatusFinished {
		return nil, nil
	}
	return e.endRound(ctx, round)
}

// endRound sets FINISHED and resolves every non-terminal bet: an auto
// bet whose threshold the round reached wins at that threshold, all
// others lose at coefficient 0.
func (e *RoundEngine) endRound(ctx context.Context, round *models.Round) ([]*models.Bet, error) {
	round.Status = models.RoundStatusFinished
	round.IsRunning = false
	round.CurrentCoefficient = round.CrashCoefficient

	seeds := make([]string, 0, len(round.ClientSeeds))
	for _, cs := range round.ClientSeeds {
		seeds = append(seeds, cs.Seed)
	}
	round.CombinedHash = fairness.CombinedHash(round.ServerSeed, seeds)
	if dec, err := fairness.DecimalOf(round.CombinedHash); err == nil {
		round.FairnessDecimal = dec
	}

	var finalized []*models.Bet
	for _, bet := range round.Bets {
		if bet.Terminal() {
			continue
		}
		auto := models.RoundCoeff(bet.AutoCashoutCoefficient, e.spec.CoeffPrecision)
		if bet.BetSlot == models.BetSlotAuto && auto > 0 && auto <= round.CrashCoefficient {
			bet.Finalize(auto, bet.BetAmount.Mul(decimal.NewFromFloat(auto)))
		} else {
			bet.Finalize(0, decimal.Zero)
		}
		finalized = append(finalized, bet)
	}

	if err := e.rounds.Save(ctx, round); err != nil {
		return nil, err
	}

	// Disclosure and the previous-round snapshot are non-critical:
	// failures log and degrade.
	if err := e.rounds.SavePrevious(ctx, round.Bets); err != nil {
		e.logger.Warn().Err(err).Str("round_id", round.RoundID).Msg("failed to snapshot previous round")
	}
	rec := &models.FairnessRecord{
		RoundID:          round.RoundID,
		CrashCoefficient: round.CrashCoefficient,
		ServerSeed:       round.ServerSeed,
		ServerSeedHash:   round.ServerSeedHash,
		ClientSeeds:      round.ClientSeeds,
		CombinedHash:     round.CombinedHash,
		FairnessDecimal:  round.FairnessDecimal,
		FinishedAt:       time.Now(),
	}
	if err := e.rounds.AppendHistory(ctx, rec); err != nil {
		e.logger.Warn().Err(err).Str("round_id", round.RoundID).Msg("failed to append fairness history")
	}

	e.logger.Info().Str("round_id", round.RoundID).
		Float64("crash_coefficient", round.CrashCoefficient).
		Int("bets", len(round.Bets)).
		Msg("round finished")

	return finalized, nil
}

// Clear deletes the round projection entirely, returning to pre-WAIT.
func (e *RoundEngine) Clear(ctx context.Context) error {
	return e.rounds.Clear(ctx)
}
