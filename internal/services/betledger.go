package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/games-vector/vector-games-v2-sub000/internal/models"
	"github.com/games-vector/vector-games-v2-sub000/internal/store"
)

const saveRetries = 3

// BetLedger does the in-round bookkeeping of bets: placement, queueing
// to the next round, manual and auto cash-out, cancellation. Bet
// operations run on any pod; the round's version check plus the
// terminal-state rule keep them safe alongside the leader's ticks.
type BetLedger struct {
	rounds     *RoundStore
	settlement *SettlementCoordinator
	store      store.Store
	seeds      *UserSeeds
	spec       models.GameSpec
	pendingTTL time.Duration
	logger     zerolog.Logger
}

func NewBetLedger(rounds *RoundStore, settlement *SettlementCoordinator, st store.Store, seeds *UserSeeds, spec models.GameSpec, pendingTTL time.Duration) *BetLedger {
	return &BetLedger{
		rounds:     rounds,
		settlement: settlement,
		store:      st,
		seeds:      seeds,
		spec:       spec,
		pendingTTL: pendingTTL,
		logger:     log.With().Str("game", string(spec.Code)).Str("component", "bet_ledger").Logger(),
	}
}

// Place accepts a wager. During WAIT it lands in the current round;
// during ACTIVE/FINISHED (or with no round at all) it is debited now
// and queued for the next round.
func (l *BetLedger) Place(ctx context.Context, id models.Identity, req *models.BetRequest) (*models.BetAck, error) {
	if err := req.Validate(l.spec); err != nil {
		return nil, err
	}

	lockKey := fmt.Sprintf(store.KeyPlacementLock, l.spec.Code, id.UserID, req.BetSlot)
	locked, err := l.store.SetNX(ctx, lockKey, id.UserID, store.TTLPlacementLock)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire placement lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: placement already in progress", models.ErrActiveSessionExists)
	}
	defer func() { _ = l.store.Del(ctx, lockKey) }()

	round, err := l.rounds.Load(ctx)
	if err != nil && !errors.Is(err, models.ErrRoundNotFound) {
		return nil, err
	}

	if round == nil || round.Status != models.RoundStatusWait {
		return l.queueForNextRound(ctx, id, req, round)
	}
	return l.placeInRound(ctx, id, req, round)
}

func (l *BetLedger) placeInRound(ctx context.Context, id models.Identity, req *models.BetRequest, round *models.Round) (*models.BetAck, error) {
	if existing := round.BetBySlot(id.UserID, req.BetSlot); existing != nil {
		return nil, fmt.Errorf("%w: slot %d already has a bet", models.ErrStateConflict, req.BetSlot)
	}

	playerGameID := models.NewPlayerGameID()
	result, err := l.settlement.Debit(ctx, PlacementParams{
		GameCode:     l.spec.Code,
		RoundID:      round.RoundID,
		UserID:       id.UserID,
		AgentID:      id.AgentID,
		OperatorID:   id.OperatorID,
		Currency:     req.Currency,
		BetAmount:    req.BetAmount,
		BetSlot:      req.BetSlot,
		PlayerGameID: playerGameID,
	})
	if err != nil {
		return nil, err
	}
	if result.Replayed {
		return &models.BetAck{
			Success:      true,
			Code:         models.CodeOK,
			PlayerGameID: result.PlayerGameID,
			Balance:      result.Balance,
		}, nil
	}

	bet := &models.Bet{
		PlayerGameID:           playerGameID,
		UserID:                 id.UserID,
		AgentID:                id.AgentID,
		OperatorID:             id.OperatorID,
		Currency:               req.Currency,
		BetAmount:              req.BetAmount,
		BetSlot:                req.BetSlot,
		AutoCashoutCoefficient: req.AutoCashoutCoefficient,
		Nickname:               id.Nickname,
		Avatar:                 id.Avatar,
		CreatedAt:              time.Now(),
	}

	if err := l.insertBet(ctx, round, bet, id); err != nil {
		// Debit succeeded but the bet could not land: compensate.
		params := PlacementParams{
			GameCode:     l.spec.Code,
			RoundID:      round.RoundID,
			UserID:       id.UserID,
			AgentID:      id.AgentID,
			OperatorID:   id.OperatorID,
			Currency:     req.Currency,
			BetAmount:    req.BetAmount,
			BetSlot:      req.BetSlot,
			PlayerGameID: playerGameID,
		}
		if refundErr := l.settlement.Refund(ctx, params, result.TxID); refundErr != nil {
			l.logger.Error().Bool("manual_intervention", true).
				Str("tx_id", result.TxID).AnErr("refund_error", refundErr).
				Msg("refund after failed bet insert did not go through")
		}
		return nil, err
	}

	return &models.BetAck{
		Success:      true,
		Code:         models.CodeOK,
		PlayerGameID: playerGameID,
		Balance:      result.Balance,
	}, nil
}

// insertBet writes the bet into the round's bets map, reloading and
// replaying on version conflicts. Also ensures the bettor contributed
// a client seed.
func (l *BetLedger) insertBet(ctx context.Context, round *models.Round, bet *models.Bet, id models.Identity) error {
	for attempt := 0; attempt < saveRetries; attempt++ {
		if round.Status != models.RoundStatusWait {
			return fmt.Errorf("%w: round no longer accepting bets", models.ErrStateConflict)
		}
		if existing := round.BetBySlot(bet.UserID, bet.BetSlot); existing != nil {
			return fmt.Errorf("%w: slot %d already has a bet", models.ErrStateConflict, bet.BetSlot)
		}

		round.Bets[bet.PlayerGameID] = bet

		if !round.HasClientSeed(bet.UserID) {
			seed, err := l.seeds.GetOrCreate(ctx, bet.UserID)
			if err != nil {
				return err
			}
			round.ClientSeeds = append(round.ClientSeeds, models.ClientSeed{
				UserID:   bet.UserID,
				Seed:     seed,
				Nickname: id.Nickname,
				Avatar:   id.Avatar,
			})
		}

		err := l.rounds.Save(ctx, round)
		if err == nil {
			return nil
		}
		if !errors.Is(err, models.ErrVersionConflict) {
			return err
		}

		reloaded, loadErr := l.rounds.Load(ctx)
		if loadErr != nil {
			return loadErr
		}
		if reloaded.RoundID != round.RoundID {
			return fmt.Errorf("%w: round rolled over during placement", models.ErrStateConflict)
		}
		round = reloaded
	}
	return fmt.Errorf("%w: could not persist bet after %d attempts", models.ErrVersionConflict, saveRetries)
}

// queueForNextRound debits now and parks the bet until the next round
// enters WAIT. TTL-bounded so a crash cannot orphan the debit forever.
func (l *BetLedger) queueForNextRound(ctx context.Context, id models.Identity, req *models.BetRequest, round *models.Round) (*models.BetAck, error) {
	pendingKey := fmt.Sprintf(store.KeyPendingBet, l.spec.Code, id.UserID, req.BetSlot)
	if _, err := l.store.Get(ctx, pendingKey); err == nil {
		return nil, fmt.Errorf("%w: a bet is already queued for slot %d", models.ErrStateConflict, req.BetSlot)
	}

	roundID := "pending"
	if round != nil {
		roundID = round.RoundID
	}

	playerGameID := models.NewPlayerGameID()
	result, err := l.settlement.Debit(ctx, PlacementParams{
		GameCode:     l.spec.Code,
		RoundID:      roundID,
		UserID:       id.UserID,
		AgentID:      id.AgentID,
		OperatorID:   id.OperatorID,
		Currency:     req.Currency,
		BetAmount:    req.BetAmount,
		BetSlot:      req.BetSlot,
		PlayerGameID: playerGameID,
	})
	if err != nil {
		return nil, err
	}
	if result.Replayed {
		return &models.BetAck{
			Success:      true,
			Code:         models.CodeOK,
			PlayerGameID: result.PlayerGameID,
			Balance:      result.Balance,
			Queued:       true,
		}, nil
	}

	pending := &models.PendingBet{
		UserID:                 id.UserID,
		AgentID:                id.AgentID,
		OperatorID:             id.OperatorID,
		Currency:               req.Currency,
		BetAmount:              req.BetAmount,
		BetSlot:                req.BetSlot,
		AutoCashoutCoefficient: req.AutoCashoutCoefficient,
		PlayerGameID:           playerGameID,
		TxID:                   result.TxID,
		Nickname:               id.Nickname,
		Avatar:                 id.Avatar,
		CreatedAt:              time.Now(),
	}

	data, err := json.Marshal(pending)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal pending bet: %w", err)
	}
	if err := l.store.Set(ctx, pendingKey, string(data), l.pendingTTL); err != nil {
		return nil, fmt.Errorf("failed to store pending bet: %w", err)
	}
	if err := l.store.RPush(ctx, fmt.Sprintf(store.KeyPendingQueue, l.spec.Code), pendingKey); err != nil {
		l.logger.Warn().Err(err).Msg("failed to enqueue pending bet key")
	}

	return &models.BetAck{
		Success:      true,
		Code:         models.CodeOK,
		PlayerGameID: playerGameID,
		Balance:      result.Balance,
		Queued:       true,
	}, nil
}

// PromotePending moves queued bets into the freshly created WAIT round
// in submission order. Each promotion re-validates the duplicate-slot
// rule. Pending records are consumed only after the round save lands,
// so a failed save leaves every debit recoverable: the next attempt
// (or the pending TTL) still sees them. Called by the leader right
// after StartNewRound.
func (l *BetLedger) PromotePending(ctx context.Context) error {
	queueKey := fmt.Sprintf(store.KeyPendingQueue, l.spec.Code)
	keys, err := l.store.ListRange(ctx, queueKey, 0, -1)
	if err != nil {
		return fmt.Errorf("failed to read pending queue: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}

	round, err := l.rounds.Load(ctx)
	if err != nil {
		return err
	}

	for attempt := 0; attempt < saveRetries; attempt++ {
		if round.Status != models.RoundStatusWait {
			return fmt.Errorf("%w: cannot promote into status %s", models.ErrStateConflict, round.Status)
		}

		var consumed []string
		var refunds []*models.PendingBet
		for _, key := range keys {
			data, err := l.store.Get(ctx, key)
			if err != nil {
				// Expired or cancelled while queued; nothing to promote.
				consumed = append(consumed, key)
				continue
			}
			var pending models.PendingBet
			if err := json.Unmarshal([]byte(data), &pending); err != nil {
				l.logger.Warn().Err(err).Str("key", key).Msg("unreadable pending bet dropped")
				consumed = append(consumed, key)
				continue
			}

			if existing := round.BetBySlot(pending.UserID, pending.BetSlot); existing != nil {
				refunds = append(refunds, &pending)
				consumed = append(consumed, key)
				continue
			}

			round.Bets[pending.PlayerGameID] = &models.Bet{
				PlayerGameID:           pending.PlayerGameID,
				UserID:                 pending.UserID,
				AgentID:                pending.AgentID,
				OperatorID:             pending.OperatorID,
				Currency:               pending.Currency,
				BetAmount:              pending.BetAmount,
				BetSlot:                pending.BetSlot,
				AutoCashoutCoefficient: pending.AutoCashoutCoefficient,
				Nickname:               pending.Nickname,
				Avatar:                 pending.Avatar,
				CreatedAt:              pending.CreatedAt,
			}

			if !round.HasClientSeed(pending.UserID) {
				if seed, err := l.seeds.GetOrCreate(ctx, pending.UserID); err == nil {
					round.ClientSeeds = append(round.ClientSeeds, models.ClientSeed{
						UserID:   pending.UserID,
						Seed:     seed,
						Nickname: pending.Nickname,
						Avatar:   pending.Avatar,
					})
				}
			}
			consumed = append(consumed, key)
		}

		err := l.rounds.Save(ctx, round)
		if err == nil {
			for _, pending := range refunds {
				l.refundPending(ctx, pending, round.RoundID)
			}
			for _, key := range consumed {
				_ = l.store.Del(ctx, key)
			}
			return l.store.Del(ctx, queueKey)
		}
		if !errors.Is(err, models.ErrVersionConflict) {
			return err
		}

		// A bet landed in the new round between our load and save.
		// Reload and rebuild from the still-intact pending records.
		reloaded, loadErr := l.rounds.Load(ctx)
		if loadErr != nil {
			return loadErr
		}
		if reloaded.RoundID != round.RoundID {
			return fmt.Errorf("%w: round rolled over during promotion", models.ErrStateConflict)
		}
		round = reloaded
	}
	return fmt.Errorf("%w: could not promote pending bets after %d attempts", models.ErrVersionConflict, saveRetries)
}

func (l *BetLedger) refundPending(ctx context.Context, pending *models.PendingBet, roundID string) {
	err := l.settlement.Refund(ctx, PlacementParams{
		GameCode:     l.spec.Code,
		RoundID:      roundID,
		UserID:       pending.UserID,
		AgentID:      pending.AgentID,
		OperatorID:   pending.OperatorID,
		Currency:     pending.Currency,
		BetAmount:    pending.BetAmount,
		BetSlot:      pending.BetSlot,
		PlayerGameID: pending.PlayerGameID,
	}, pending.TxID)
	if err != nil {
		l.logger.Error().Bool("manual_intervention", true).Err(err).
			Str("tx_id", pending.TxID).Msg("failed to refund unpromotable pending bet")
	}
}

// CashOut finalizes a bet at the given coefficient. Idempotent: an
// already-terminal bet returns its recorded result without touching
// the wallet again.
func (l *BetLedger) CashOut(ctx context.Context, userID, playerGameID string, coefficient float64) (*models.BetAck, error) {
	round, err := l.rounds.Load(ctx)
	if err != nil {
		return nil, err
	}
	if round.Status != models.RoundStatusActive {
		return nil, fmt.Errorf("%w: cashout requires an active round", models.ErrStateConflict)
	}

	for attempt := 0; attempt < saveRetries; attempt++ {
		bet, ok := round.Bets[playerGameID]
		if !ok || bet.UserID != userID {
			return nil, models.ErrBetNotFound
		}
		if bet.Terminal() {
			return &models.BetAck{
				Success:      true,
				Code:         models.CodeOK,
				PlayerGameID: playerGameID,
				Coefficient:  *bet.CashoutCoefficient,
				WinAmount:    *bet.WinAmount,
			}, nil
		}

		coeff := models.RoundCoeff(coefficient, l.spec.CoeffPrecision)
		win := bet.BetAmount.Mul(decimal.NewFromFloat(coeff))
		bet.Finalize(coeff, win)

		err := l.rounds.Save(ctx, round)
		if err == nil {
			if settleErr := l.settlement.SettleBet(ctx, l.spec.Code, round, bet); settleErr != nil {
				l.logger.Error().Err(settleErr).Str("player_game_id", playerGameID).
					Msg("cashout settlement failed")
			}
			return &models.BetAck{
				Success:      true,
				Code:         models.CodeOK,
				PlayerGameID: playerGameID,
				Coefficient:  coeff,
				WinAmount:    win,
			}, nil
		}
		if !errors.Is(err, models.ErrVersionConflict) {
			return nil, err
		}

		round, err = l.rounds.Load(ctx)
		if err != nil {
			return nil, err
		}
		if round.Status != models.RoundStatusActive {
			return nil, fmt.Errorf("%w: round ended during cashout", models.ErrStateConflict)
		}
	}
	return nil, fmt.Errorf("%w: could not persist cashout after %d attempts", models.ErrVersionConflict, saveRetries)
}

// Cancel refunds and removes a non-terminal bet. Active-round bets
// leave the bets map; queued bets leave the pending store. The bet's
// idempotency key is invalidated either way.
func (l *BetLedger) Cancel(ctx context.Context, userID, playerGameID string) (*models.BetAck, error) {
	round, err := l.rounds.Load(ctx)
	if err != nil && !errors.Is(err, models.ErrRoundNotFound) {
		return nil, err
	}

	if round != nil {
		if bet, ok := round.Bets[playerGameID]; ok && bet.UserID == userID {
			return l.cancelRoundBet(ctx, round, bet)
		}
	}
	return l.cancelPending(ctx, userID, playerGameID, round)
}

func (l *BetLedger) cancelRoundBet(ctx context.Context, round *models.Round, bet *models.Bet) (*models.BetAck, error) {
	if round.Status == models.RoundStatusFinished {
		return nil, fmt.Errorf("%w: round already finished", models.ErrStateConflict)
	}
	if bet.Terminal() {
		return nil, fmt.Errorf("%w: bet already settled", models.ErrStateConflict)
	}

	txID, err := l.settlement.TxFor(ctx, bet.PlayerGameID)
	if err != nil {
		return nil, err
	}

	if err := l.settlement.Refund(ctx, PlacementParams{
		GameCode:     l.spec.Code,
		RoundID:      round.RoundID,
		UserID:       bet.UserID,
		AgentID:      bet.AgentID,
		OperatorID:   bet.OperatorID,
		Currency:     bet.Currency,
		BetAmount:    bet.BetAmount,
		BetSlot:      bet.BetSlot,
		PlayerGameID: bet.PlayerGameID,
	}, txID); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < saveRetries; attempt++ {
		delete(round.Bets, bet.PlayerGameID)
		err := l.rounds.Save(ctx, round)
		if err == nil {
			return &models.BetAck{Success: true, Code: models.CodeOK, PlayerGameID: bet.PlayerGameID}, nil
		}
		if !errors.Is(err, models.ErrVersionConflict) {
			return nil, err
		}
		round, err = l.rounds.Load(ctx)
		if err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: could not persist cancellation", models.ErrVersionConflict)
}

func (l *BetLedger) cancelPending(ctx context.Context, userID, playerGameID string, round *models.Round) (*models.BetAck, error) {
	for _, slot := range []int{models.BetSlotManual, models.BetSlotAuto} {
		key := fmt.Sprintf(store.KeyPendingBet, l.spec.Code, userID, slot)
		data, err := l.store.Get(ctx, key)
		if err != nil {
			continue
		}
		var pending models.PendingBet
		if err := json.Unmarshal([]byte(data), &pending); err != nil || pending.PlayerGameID != playerGameID {
			continue
		}

		roundID := "pending"
		if round != nil {
			roundID = round.RoundID
		}
		if err := l.settlement.Refund(ctx, PlacementParams{
			GameCode:     l.spec.Code,
			RoundID:      roundID,
			UserID:       pending.UserID,
			AgentID:      pending.AgentID,
			OperatorID:   pending.OperatorID,
			Currency:     pending.Currency,
			BetAmount:    pending.BetAmount,
			BetSlot:      pending.BetSlot,
			PlayerGameID: pending.PlayerGameID,
		}, pending.TxID); err != nil {
			return nil, err
		}

		if err := l.store.Del(ctx, key); err != nil {
			return nil, err
		}
		return &models.BetAck{Success: true, Code: models.CodeOK, PlayerGameID: playerGameID}, nil
	}
	return nil, models.ErrBetNotFound
}

// ScanAutoCashouts returns the non-terminal auto-slot bets whose
// threshold the coefficient has reached. Both sides are rounded to the
// game's precision first, so floating point cannot skip a hit.
func (l *BetLedger) ScanAutoCashouts(round *models.Round, currentCoefficient float64) []*models.Bet {
	current := models.RoundCoeff(currentCoefficient, l.spec.CoeffPrecision)

	var hits []*models.Bet
	for _, bet := range round.Bets {
		if bet.Terminal() || bet.BetSlot != models.BetSlotAuto || bet.AutoCashoutCoefficient <= 0 {
			continue
		}
		if models.RoundCoeff(bet.AutoCashoutCoefficient, l.spec.CoeffPrecision) <= current {
			hits = append(hits, bet)
		}
	}
	return hits
}
