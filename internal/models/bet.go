package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	BetSlotManual = 0
	BetSlotAuto   = 1
)

// Bet is one wager inside a round's bets map, keyed by PlayerGameID.
type Bet struct {
	PlayerGameID string          `json:"player_game_id"`
	UserID       string          `json:"user_id"`
	AgentID      string          `json:"agent_id"`
	OperatorID   string          `json:"operator_id"`
	Currency     string          `json:"currency"`
	BetAmount    decimal.Decimal `json:"bet_amount"`
	BetSlot      int             `json:"bet_slot"` // 0 = manual, 1 = auto

	AutoCashoutCoefficient float64 `json:"auto_cashout_coefficient,omitempty"`

	// CashoutCoefficient and WinAmount are both set once the bet is
	// terminal. A terminal bet is immutable.
	CashoutCoefficient *float64         `json:"cashout_coefficient,omitempty"`
	WinAmount          *decimal.Decimal `json:"win_amount,omitempty"`

	Nickname  string `json:"nickname,omitempty"`
	Avatar    string `json:"avatar,omitempty"`
	Synthetic bool   `json:"synthetic,omitempty"` // display-only traffic, never settled

	CreatedAt time.Time `json:"created_at"`
}

// Terminal reports whether the bet has reached its immutable final
// state: cashed out, crashed, or otherwise resolved.
func (b *Bet) Terminal() bool {
	return b.CashoutCoefficient != nil && b.WinAmount != nil
}

// Finalize assigns the terminal pair. It is a no-op on an already
// terminal bet.
func (b *Bet) Finalize(coefficient float64, winAmount decimal.Decimal) {
	if b.Terminal() {
		return
	}
	b.CashoutCoefficient = &coefficient
	b.WinAmount = &winAmount
}

// PendingBet is a wager accepted (and already debited) while no round
// was accepting bets. It is promoted into the next round's bets map
// exactly once, or refunded when its TTL expires unpromoted.
type PendingBet struct {
	UserID                 string          `json:"user_id"`
	AgentID                string          `json:"agent_id"`
	OperatorID             string          `json:"operator_id"`
	Currency               string          `json:"currency"`
	BetAmount              decimal.Decimal `json:"bet_amount"`
	BetSlot                int             `json:"bet_slot"`
	AutoCashoutCoefficient float64         `json:"auto_cashout_coefficient,omitempty"`
	PlayerGameID           string          `json:"player_game_id"`
	TxID                   string          `json:"tx_id"`
	Nickname               string          `json:"nickname,omitempty"`
	Avatar                 string          `json:"avatar,omitempty"`
	CreatedAt              time.Time       `json:"created_at"`
}
