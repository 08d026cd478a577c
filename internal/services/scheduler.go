package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/games-vector/vector-games-v2-sub000/internal/models"
)

// crashPause is how long a FINISHED round stays on screen before the
// leader clears it and opens the next WAIT window.
const crashPause = 3 * time.Second

// BroadcastScheduler is the only component that drives time. The
// elected leader runs the two mutating cadences (fast coefficient
// tick, slow full-state tick); every other pod relays projections to
// its own subscribers and never mutates.
type BroadcastScheduler struct {
	engine     *RoundEngine
	ledger     *BetLedger
	rounds     *RoundStore
	settlement *SettlementCoordinator
	elector    *LeaderElector
	publisher  Publisher
	spec       models.GameSpec
	podID      string
	renewTick  time.Duration
	logger     zerolog.Logger

	leading       bool
	cancelLoops   context.CancelFunc
	loops         sync.WaitGroup
	lastPublished float64
}

func NewBroadcastScheduler(
	engine *RoundEngine,
	ledger *BetLedger,
	rounds *RoundStore,
	settlement *SettlementCoordinator,
	elector *LeaderElector,
	publisher Publisher,
	spec models.GameSpec,
	podID string,
	renewTick time.Duration,
) *BroadcastScheduler {
	return &BroadcastScheduler{
		engine:     engine,
		ledger:     ledger,
		rounds:     rounds,
		settlement: settlement,
		elector:    elector,
		publisher:  publisher,
		spec:       spec,
		podID:      podID,
		renewTick:  renewTick,
		logger:     log.With().Str("game", string(spec.Code)).Str("pod", podID).Logger(),
	}
}

// Run drives the acquire/renew loop until ctx is cancelled. Leadership
// loss stops both cadences immediately; reacquisition restarts them
// from the persisted round state.
func (s *BroadcastScheduler) Run(ctx context.Context) {
	s.startRelay(ctx)

	if s.tryLead(ctx) {
		s.logger.Info().Msg("acquired leadership on startup")
	}

	ticker := time.NewTicker(s.renewTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.stopLoops()
			// Release with a fresh context: ctx is already dead.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			_ = s.elector.Release(releaseCtx, s.podID)
			cancel()
			return

		case <-ticker.C:
			if s.leading {
				ok, err := s.elector.Renew(ctx, s.podID)
				if err != nil || !ok {
					s.logger.Warn().Err(err).Msg("leadership renewal failed, stepping down")
					s.stopLoops()
					s.leading = false
					s.startRelay(ctx)
				}
			} else {
				s.tryLead(ctx)
			}
		}
	}
}

func (s *BroadcastScheduler) tryLead(ctx context.Context) bool {
	ok, err := s.elector.TryAcquire(ctx, s.podID)
	if err != nil {
		s.logger.Warn().Err(err).Msg("leader acquisition failed")
		return false
	}
	if !ok {
		return false
	}

	s.stopLoops()
	s.leading = true

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancelLoops = cancel
	s.startLoop(loopCtx, s.fastLoop)
	s.startLoop(loopCtx, s.slowLoop)
	s.logger.Info().Msg("leading round progression")
	return true
}

func (s *BroadcastScheduler) startRelay(ctx context.Context) {
	s.stopLoops()
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancelLoops = cancel
	s.startLoop(loopCtx, s.relayLoop)
	s.startLoop(loopCtx, s.slowLoop)
}

func (s *BroadcastScheduler) startLoop(ctx context.Context, loop func(context.Context)) {
	s.loops.Add(1)
	go func() {
		defer s.loops.Done()
		loop(ctx)
	}()
}

// stopLoops cancels the running cadences and waits for them to exit,
// so an old loop can never overlap its replacement.
func (s *BroadcastScheduler) stopLoops() {
	if s.cancelLoops != nil {
		s.cancelLoops()
		s.cancelLoops = nil
	}
	s.loops.Wait()
}

// fastLoop advances the round state machine. Each pass reloads from
// the store, so a handover mid-phase resumes wherever the last leader
// left off.
func (s *BroadcastScheduler) fastLoop(ctx context.Context) {
	ticker := time.NewTicker(s.spec.FastTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.step(ctx)
		}
	}
}

func (s *BroadcastScheduler) step(ctx context.Context) {
	round, err := s.rounds.Load(ctx)
	if err != nil {
		if errors.Is(err, models.ErrRoundNotFound) {
			s.beginRound(ctx)
			return
		}
		s.logger.Warn().Err(err).Msg("failed to load round on tick")
		return
	}

	switch round.Status {
	case models.RoundStatusWait:
		if time.Now().After(round.WaitUntil) {
			started, err := s.engine.StartGame(ctx)
			if err != nil {
				s.logger.Error().Err(err).Msg("failed to start round")
				return
			}
			s.publisher.PublishState(s.spec.Code, started.PublicState(0))
		}

	case models.RoundStatusActive:
		s.tickActive(ctx)

	case models.RoundStatusFinished:
		if time.Since(round.UpdatedAt) >= crashPause {
			if err := s.engine.Clear(ctx); err != nil {
				s.logger.Error().Err(err).Msg("failed to clear finished round")
				return
			}
			s.beginRound(ctx)
		}
	}
}

func (s *BroadcastScheduler) beginRound(ctx context.Context) {
	round, err := s.engine.StartNewRound(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to create round")
		return
	}
	if err := s.ledger.PromotePending(ctx); err != nil {
		s.logger.Error().Err(err).Msg("failed to promote pending bets")
	}

	// Publish the projection: it includes the promoted bets and the
	// previous round's outcome for late joiners.
	if state, err := s.rounds.PublicState(ctx); err == nil && state != nil {
		s.publisher.PublishState(s.spec.Code, state)
		return
	}
	s.publisher.PublishState(s.spec.Code, round.PublicState(time.Until(round.WaitUntil).Milliseconds()))
}

func (s *BroadcastScheduler) tickActive(ctx context.Context) {
	result, err := s.engine.Tick(ctx)
	if err != nil {
		if errors.Is(err, models.ErrStateConflict) {
			// Status moved under us; next pass resumes from the store.
			return
		}
		s.logger.Error().Err(err).Msg("tick failed")
		return
	}

	s.publisher.PublishCoefficient(s.spec.Code, result.Round.CurrentCoefficient)

	if !result.Stopped {
		// Auto cash-outs settle off the threshold, not the current
		// coefficient. Failures log; they must not block the tick.
		for _, bet := range s.ledger.ScanAutoCashouts(result.Round, result.Round.CurrentCoefficient) {
			if _, err := s.ledger.CashOut(ctx, bet.UserID, bet.PlayerGameID, bet.AutoCashoutCoefficient); err != nil {
				s.logger.Error().Err(err).
					Str("player_game_id", bet.PlayerGameID).
					Msg("auto cashout failed")
			}
		}
		return
	}

	s.settlement.SettleRoundEnd(ctx, s.spec.Code, result.Round, result.Finalized)
	s.publisher.PublishState(s.spec.Code, result.Round.PublicState(0))
}

// slowLoop republishes the full state projection so reconnecting and
// late-joining clients converge without waiting for a state change.
func (s *BroadcastScheduler) slowLoop(ctx context.Context) {
	ticker := time.NewTicker(s.spec.SlowTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state, err := s.rounds.PublicState(ctx)
			if err != nil || state == nil {
				continue
			}
			s.publisher.PublishState(s.spec.Code, state)
		}
	}
}

// relayLoop is the non-leader read path: poll the cheap coefficient
// projection and push changes to this pod's subscribers.
func (s *BroadcastScheduler) relayLoop(ctx context.Context) {
	ticker := time.NewTicker(s.spec.FastTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			coeff, err := s.rounds.CurrentCoefficient(ctx)
			if err != nil || coeff == s.lastPublished {
				continue
			}
			s.lastPublished = coeff
			s.publisher.PublishCoefficient(s.spec.Code, coeff)
		}
	}
}
