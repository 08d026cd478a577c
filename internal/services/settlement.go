package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/games-vector/vector-games-v2-sub000/internal/clients"
	"github.com/games-vector/vector-games-v2-sub000/internal/models"
	"github.com/games-vector/vector-games-v2-sub000/internal/store"
)

// SettlementCoordinator wraps every ledger-affecting operation as a
// two-phase saga with idempotency keys and compensating refunds, so
// wallet and local bookkeeping stay consistent under partial failure.
type SettlementCoordinator struct {
	store   store.Store
	wallet  clients.Wallet
	history clients.BetHistory
	idemTTL time.Duration
	logger  zerolog.Logger
}

func NewSettlementCoordinator(st store.Store, wallet clients.Wallet, history clients.BetHistory, idemTTL time.Duration) *SettlementCoordinator {
	return &SettlementCoordinator{
		store:   st,
		wallet:  wallet,
		history: history,
		idemTTL: idemTTL,
		logger:  log.With().Str("component", "settlement").Logger(),
	}
}

// PlacementParams identifies one debit attempt. The idempotency
// fingerprint is derived from every field except PlayerGameID.
type PlacementParams struct {
	GameCode     models.GameCode
	RoundID      string
	UserID       string
	AgentID      string
	OperatorID   string
	Currency     string
	BetAmount    decimal.Decimal
	BetSlot      int
	PlayerGameID string
}

func (p *PlacementParams) fingerprint() string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%s|%d",
		p.GameCode, p.UserID, p.AgentID, p.RoundID, p.BetAmount.String(), p.BetSlot)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// PlaceResult is the cached, replayable response of a successful debit.
type PlaceResult struct {
	TxID         string          `json:"tx_id"`
	PlayerGameID string          `json:"player_game_id"`
	Balance      decimal.Decimal `json:"balance"`
	Replayed     bool            `json:"-"`
}

// Debit runs the debit-then-record saga. A repeat request within the
// idempotency TTL returns the cached response, provided the referenced
// bet still exists; a stale key (bet since cancelled) is discarded and
// the request processed as new.
func (s *SettlementCoordinator) Debit(ctx context.Context, p PlacementParams) (*PlaceResult, error) {
	fp := p.fingerprint()
	idemKey := fmt.Sprintf(store.KeyIdempotency, fp)

	if cached, err := s.store.Get(ctx, idemKey); err == nil {
		var result PlaceResult
		if err := json.Unmarshal([]byte(cached), &result); err == nil {
			if s.betStillExists(ctx, result.PlayerGameID) {
				result.Replayed = true
				return &result, nil
			}
			// Referenced bet is gone (cancelled): stale key, process as new.
			_ = s.store.Del(ctx, idemKey)
		}
	}

	txID := models.NewTxID()
	resp, err := s.wallet.PlaceBet(ctx, clients.WalletRequest{
		AgentID:    p.AgentID,
		UserID:     p.UserID,
		OperatorID: p.OperatorID,
		Amount:     p.BetAmount,
		RoundID:    p.RoundID,
		TxID:       txID,
		Currency:   p.Currency,
		GameCode:   p.GameCode,
	})
	if err != nil {
		return nil, fmt.Errorf("wallet debit failed: %w", err)
	}
	if !resp.Accepted() {
		return nil, fmt.Errorf("%w: %s (%s)", models.ErrExternalRejected, resp.Message, resp.Status)
	}

	if err := s.history.CreatePlacement(ctx, clients.PlacementRecord{
		TxID:         txID,
		PlayerGameID: p.PlayerGameID,
		UserID:       p.UserID,
		AgentID:      p.AgentID,
		OperatorID:   p.OperatorID,
		GameCode:     p.GameCode,
		RoundID:      p.RoundID,
		Currency:     p.Currency,
		BetAmount:    p.BetAmount,
		BetSlot:      p.BetSlot,
		Status:       "PLACED",
		CreatedAt:    time.Now(),
	}); err != nil {
		// Compensating refund with the same transaction id. A failed
		// refund is the one unrecoverable mode and must be observable.
		s.compensate(ctx, p, txID, err)
		return nil, fmt.Errorf("placement record failed: %w", err)
	}

	result := &PlaceResult{TxID: txID, PlayerGameID: p.PlayerGameID, Balance: resp.Balance}

	if err := s.store.Set(ctx, fmt.Sprintf(store.KeyBetTx, p.PlayerGameID), txID, store.TTLBetTx); err != nil {
		s.logger.Warn().Err(err).Str("player_game_id", p.PlayerGameID).Msg("failed to store tx mapping")
	}
	if data, err := json.Marshal(result); err == nil {
		_ = s.store.Set(ctx, idemKey, string(data), s.idemTTL)
		_ = s.store.Set(ctx, fmt.Sprintf(store.KeyIdemByBet, p.PlayerGameID), fp, s.idemTTL)
	}

	return result, nil
}

func (s *SettlementCoordinator) compensate(ctx context.Context, p PlacementParams, txID string, cause error) {
	refund, err := s.wallet.RefundBet(ctx, clients.WalletRequest{
		AgentID:    p.AgentID,
		UserID:     p.UserID,
		OperatorID: p.OperatorID,
		Amount:     p.BetAmount,
		RoundID:    p.RoundID,
		TxID:       txID,
		Currency:   p.Currency,
		GameCode:   p.GameCode,
	})
	if err != nil || !refund.Accepted() {
		s.logger.Error().
			Bool("manual_intervention", true).
			Str("tx_id", txID).
			Str("user_id", p.UserID).
			Str("amount", p.BetAmount.String()).
			AnErr("record_error", cause).
			AnErr("refund_error", err).
			Msg("debit compensation failed, funds at risk")
	}
}

func (s *SettlementCoordinator) betStillExists(ctx context.Context, playerGameID string) bool {
	_, err := s.store.Get(ctx, fmt.Sprintf(store.KeyBetTx, playerGameID))
	return err == nil
}

// TxFor returns the external transaction id recorded for a bet.
func (s *SettlementCoordinator) TxFor(ctx context.Context, playerGameID string) (string, error) {
	txID, err := s.store.Get(ctx, fmt.Sprintf(store.KeyBetTx, playerGameID))
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("%w: no transaction for bet %s", models.ErrBetNotFound, playerGameID)
	}
	return txID, err
}

// SettlementParams describes one credit: the terminal coefficient, the
// payout (zero for losses) and the fairness disclosure for that bet.
type SettlementParams struct {
	GameCode     models.GameCode
	RoundID      string
	PlayerGameID string
	UserID       string
	AgentID      string
	OperatorID   string
	Currency     string
	Coefficient  float64
	WinAmount    decimal.Decimal
	ServerSeed   string
	CombinedHash string
}

// Settle credits the win amount against the original transaction id,
// then writes the settlement record. Each bet settles at most once.
func (s *SettlementCoordinator) Settle(ctx context.Context, p SettlementParams) error {
	// Settle-once guard across pods and retries.
	guardKey := fmt.Sprintf(store.KeySettled, p.PlayerGameID)
	ok, err := s.store.SetNX(ctx, guardKey, p.RoundID, store.TTLSettled)
	if err != nil {
		return fmt.Errorf("failed to acquire settle guard: %w", err)
	}
	if !ok {
		return nil
	}

	txID, err := s.TxFor(ctx, p.PlayerGameID)
	if err != nil {
		_ = s.store.Del(ctx, guardKey)
		return err
	}

	resp, err := s.wallet.SettleBet(ctx, clients.WalletRequest{
		AgentID:    p.AgentID,
		UserID:     p.UserID,
		OperatorID: p.OperatorID,
		Amount:     p.WinAmount,
		RoundID:    p.RoundID,
		TxID:       txID,
		Currency:   p.Currency,
		GameCode:   p.GameCode,
	})
	if err != nil {
		// Release the guard so a retry can settle.
		_ = s.store.Del(ctx, guardKey)
		return fmt.Errorf("wallet credit failed: %w", err)
	}
	if !resp.Accepted() {
		_ = s.store.Del(ctx, guardKey)
		return fmt.Errorf("%w: %s (%s)", models.ErrExternalRejected, resp.Message, resp.Status)
	}

	if err := s.history.RecordSettlement(ctx, clients.SettlementRecord{
		TxID:               txID,
		PlayerGameID:       p.PlayerGameID,
		GameCode:           p.GameCode,
		RoundID:            p.RoundID,
		CashoutCoefficient: p.Coefficient,
		WinAmount:          p.WinAmount,
		ServerSeed:         p.ServerSeed,
		CombinedHash:       p.CombinedHash,
		SettledAt:          time.Now(),
	}); err != nil {
		// The wallet credit stands; the record write is retried out of
		// band by ops tooling. Observable, not fatal.
		s.logger.Error().Err(err).Str("tx_id", txID).
			Str("player_game_id", p.PlayerGameID).
			Msg("settlement record failed after wallet credit")
	}

	return nil
}

// SettleBet settles one terminal round bet.
func (s *SettlementCoordinator) SettleBet(ctx context.Context, gameCode models.GameCode, round *models.Round, bet *models.Bet) error {
	if bet.Synthetic {
		return nil
	}
	if !bet.Terminal() {
		return fmt.Errorf("%w: bet %s is not terminal", models.ErrStateConflict, bet.PlayerGameID)
	}
	return s.Settle(ctx, SettlementParams{
		GameCode:     gameCode,
		RoundID:      round.RoundID,
		PlayerGameID: bet.PlayerGameID,
		UserID:       bet.UserID,
		AgentID:      bet.AgentID,
		OperatorID:   bet.OperatorID,
		Currency:     bet.Currency,
		Coefficient:  *bet.CashoutCoefficient,
		WinAmount:    *bet.WinAmount,
		ServerSeed:   round.ServerSeed,
		CombinedHash: round.CombinedHash,
	})
}

// Refund issues a wallet refund for a placed-but-cancelled bet and
// invalidates its idempotency key, so a future identical placement is
// treated as new rather than a replay.
func (s *SettlementCoordinator) Refund(ctx context.Context, p PlacementParams, txID string) error {
	resp, err := s.wallet.RefundBet(ctx, clients.WalletRequest{
		AgentID:    p.AgentID,
		UserID:     p.UserID,
		OperatorID: p.OperatorID,
		Amount:     p.BetAmount,
		RoundID:    p.RoundID,
		TxID:       txID,
		Currency:   p.Currency,
		GameCode:   p.GameCode,
	})
	if err != nil {
		return fmt.Errorf("wallet refund failed: %w", err)
	}
	if !resp.Accepted() {
		return fmt.Errorf("%w: %s (%s)", models.ErrExternalRejected, resp.Message, resp.Status)
	}

	s.invalidate(ctx, p.PlayerGameID)

	if err := s.history.UpdateStatus(ctx, txID, p.GameCode, "REFUNDED"); err != nil {
		s.logger.Warn().Err(err).Str("tx_id", txID).Msg("failed to mark placement refunded")
	}
	return nil
}

// invalidate drops the idempotency key and tx mapping for a bet.
func (s *SettlementCoordinator) invalidate(ctx context.Context, playerGameID string) {
	byBetKey := fmt.Sprintf(store.KeyIdemByBet, playerGameID)
	if fp, err := s.store.Get(ctx, byBetKey); err == nil {
		_ = s.store.Del(ctx, fmt.Sprintf(store.KeyIdempotency, fp))
		_ = s.store.Del(ctx, byBetKey)
	}
	_ = s.store.Del(ctx, fmt.Sprintf(store.KeyBetTx, playerGameID))
}

// SettleRoundEnd sweeps the bets endRound finalized. Auto-cashout wins
// already settled by the fast tick hold their settle guard, so this
// cannot double-pay. Failures log and continue: one stuck bet must not
// block the sweep.
func (s *SettlementCoordinator) SettleRoundEnd(ctx context.Context, gameCode models.GameCode, round *models.Round, finalized []*models.Bet) {
	for _, bet := range finalized {
		if err := s.SettleBet(ctx, gameCode, round, bet); err != nil {
			s.logger.Error().Err(err).
				Str("round_id", round.RoundID).
				Str("player_game_id", bet.PlayerGameID).
				Msg("round-end settlement failed")
		}
	}
}
