package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Identity is what the gateway bound the connection to.
type Identity struct {
	UserID     string `json:"user_id"`
	AgentID    string `json:"agent_id"`
	OperatorID string `json:"operator_id"`
	Nickname   string `json:"nickname,omitempty"`
	Avatar     string `json:"avatar,omitempty"`
}

// BetRequest is the inbound "bet" action payload.
type BetRequest struct {
	BetAmount              decimal.Decimal `json:"bet_amount"`
	Currency               string          `json:"currency"`
	BetSlot                int             `json:"bet_slot"`
	AutoCashoutCoefficient float64         `json:"auto_cashout_coefficient,omitempty"`
}

func (r *BetRequest) Validate(spec GameSpec) error {
	if r.Currency == "" {
		return fmt.Errorf("%w: currency is required", ErrValidation)
	}
	if r.BetSlot != BetSlotManual && r.BetSlot != BetSlotAuto {
		return fmt.Errorf("%w: bet slot must be 0 or 1", ErrValidation)
	}
	minBet := decimal.NewFromFloat(spec.MinBet)
	maxBet := decimal.NewFromFloat(spec.MaxBet)
	if r.BetAmount.LessThan(minBet) {
		return fmt.Errorf("%w: bet amount below minimum %s", ErrValidation, minBet)
	}
	if r.BetAmount.GreaterThan(maxBet) {
		return fmt.Errorf("%w: bet amount above maximum %s", ErrValidation, maxBet)
	}
	if r.BetSlot == BetSlotAuto && r.AutoCashoutCoefficient < spec.MinCoefficient {
		return fmt.Errorf("%w: auto cashout coefficient must be at least %.2f",
			ErrValidation, spec.MinCoefficient)
	}
	return nil
}

type CashoutRequest struct {
	PlayerGameID string `json:"player_game_id"`
}

type CancelBetRequest struct {
	PlayerGameID string `json:"player_game_id"`
}

type SetUserSeedRequest struct {
	UserSeed string `json:"user_seed"`
}

func (r *SetUserSeedRequest) Validate() error {
	if len(r.UserSeed) < 8 || len(r.UserSeed) > 128 {
		return fmt.Errorf("%w: user seed must be 8-128 characters", ErrValidation)
	}
	return nil
}

// MinesPlayRequest starts a mines session.
type MinesPlayRequest struct {
	BetAmount  decimal.Decimal `json:"bet_amount"`
	Currency   string          `json:"currency"`
	MinesCount int             `json:"mines_count"`
}

func (r *MinesPlayRequest) Validate(spec GameSpec) error {
	if r.Currency == "" {
		return fmt.Errorf("%w: currency is required", ErrValidation)
	}
	minBet := decimal.NewFromFloat(spec.MinBet)
	maxBet := decimal.NewFromFloat(spec.MaxBet)
	if r.BetAmount.LessThan(minBet) || r.BetAmount.GreaterThan(maxBet) {
		return fmt.Errorf("%w: bet amount out of range", ErrValidation)
	}
	if r.MinesCount < spec.MinesCountMin || r.MinesCount > spec.MinesCountMax {
		return fmt.Errorf("%w: mines count must be %d-%d",
			ErrValidation, spec.MinesCountMin, spec.MinesCountMax)
	}
	return nil
}

type MinesRevealRequest struct {
	Cell int `json:"cell"`
}

// BetAck is the acknowledgement for any bet-affecting action.
type BetAck struct {
	Success      bool            `json:"success"`
	Code         string          `json:"code"`
	Message      string          `json:"message,omitempty"`
	PlayerGameID string          `json:"player_game_id,omitempty"`
	Balance      decimal.Decimal `json:"balance,omitempty"`
	Queued       bool            `json:"queued,omitempty"`
	Coefficient  float64         `json:"coefficient,omitempty"`
	WinAmount    decimal.Decimal `json:"win_amount,omitempty"`
}
