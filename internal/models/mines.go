package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type MinesStatus string

const (
	MinesStatusNone       MinesStatus = "NONE"
	MinesStatusInProgress MinesStatus = "IN_PROGRESS"
	MinesStatusLose       MinesStatus = "LOSE"
	MinesStatusWin        MinesStatus = "WIN"
)

// MinesSession is a single-player provably-fair grid session. One
// session per (userId, gameCode); destroyed on loss, win or cash-out.
type MinesSession struct {
	SessionID  string `json:"session_id"`
	UserID     string `json:"user_id"`
	AgentID    string `json:"agent_id"`
	OperatorID string `json:"operator_id"`
	Currency   string `json:"currency"`

	BetAmount     decimal.Decimal `json:"bet_amount"`
	MinesCount    int             `json:"mines_count"`
	GridSize      int             `json:"grid_size"`
	MinePositions []int           `json:"mine_positions"` // hidden from clients until terminal
	OpenedCells   []int           `json:"opened_cells"`
	Status        MinesStatus     `json:"status"`

	Coefficient  float64         `json:"coefficient"`
	PotentialWin decimal.Decimal `json:"potential_win"`

	ServerSeed     string `json:"server_seed"`
	ServerSeedHash string `json:"server_seed_hash"`
	ClientSeed     string `json:"client_seed"`
	Nonce          int64  `json:"nonce"`

	TxID      string    `json:"tx_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Opened reports whether the cell has already been revealed.
func (s *MinesSession) Opened(cell int) bool {
	for _, c := range s.OpenedCells {
		if c == cell {
			return true
		}
	}
	return false
}

// IsMine reports whether the cell holds a mine.
func (s *MinesSession) IsMine(cell int) bool {
	for _, m := range s.MinePositions {
		if m == cell {
			return true
		}
	}
	return false
}

// MinesState is the client-facing projection: mine positions stay
// hidden while the session is in progress.
type MinesState struct {
	SessionID      string          `json:"session_id"`
	Status         MinesStatus     `json:"status"`
	BetAmount      decimal.Decimal `json:"bet_amount"`
	MinesCount     int             `json:"mines_count"`
	GridSize       int             `json:"grid_size"`
	OpenedCells    []int           `json:"opened_cells"`
	Coefficient    float64         `json:"coefficient"`
	PotentialWin   decimal.Decimal `json:"potential_win"`
	MinePositions  []int           `json:"mine_positions,omitempty"`
	ServerSeedHash string          `json:"server_seed_hash"`
}

func (s *MinesSession) State() *MinesState {
	st := &MinesState{
		SessionID:      s.SessionID,
		Status:         s.Status,
		BetAmount:      s.BetAmount,
		MinesCount:     s.MinesCount,
		GridSize:       s.GridSize,
		OpenedCells:    s.OpenedCells,
		Coefficient:    s.Coefficient,
		PotentialWin:   s.PotentialWin,
		ServerSeedHash: s.ServerSeedHash,
	}
	if s.Status == MinesStatusLose || s.Status == MinesStatusWin {
		st.MinePositions = s.MinePositions
	}
	return st
}
