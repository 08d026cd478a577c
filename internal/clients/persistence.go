package clients

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/games-vector/vector-games-v2-sub000/internal/models"
)

// PlacementRecord is the persistent bet-placement row.
type PlacementRecord struct {
	TxID         string          `json:"tx_id"`
	PlayerGameID string          `json:"player_game_id"`
	UserID       string          `json:"user_id"`
	AgentID      string          `json:"agent_id"`
	OperatorID   string          `json:"operator_id"`
	GameCode     models.GameCode `json:"game_code"`
	RoundID      string          `json:"round_id"`
	Currency     string          `json:"currency"`
	BetAmount    decimal.Decimal `json:"bet_amount"`
	BetSlot      int             `json:"bet_slot"`
	Status       string          `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
}

// SettlementRecord finalizes a placement: coefficient, payout and the
// per-bet fairness disclosure.
type SettlementRecord struct {
	TxID               string          `json:"tx_id"`
	PlayerGameID       string          `json:"player_game_id"`
	GameCode           models.GameCode `json:"game_code"`
	RoundID            string          `json:"round_id"`
	CashoutCoefficient float64         `json:"cashout_coefficient"`
	WinAmount          decimal.Decimal `json:"win_amount"`
	ServerSeed         string          `json:"server_seed,omitempty"`
	CombinedHash       string          `json:"combined_hash,omitempty"`
	SettledAt          time.Time       `json:"settled_at"`
}

// BetHistory is the persistent bet-history collaborator.
type BetHistory interface {
	CreatePlacement(ctx context.Context, rec PlacementRecord) error
	RecordSettlement(ctx context.Context, rec SettlementRecord) error
	UpdateStatus(ctx context.Context, txID string, gameCode models.GameCode, status string) error
	GetByExternalTxID(ctx context.Context, txID string, gameCode models.GameCode) (*PlacementRecord, error)
	ListUserBets(ctx context.Context, userID string, gameCode models.GameCode, limit int) ([]PlacementRecord, error)
}

type BetHistoryClient struct {
	*httpClient
}

func NewBetHistoryClient(baseURL, apiKey string) *BetHistoryClient {
	return &BetHistoryClient{httpClient: newHTTPClient(baseURL, apiKey)}
}

func (c *BetHistoryClient) CreatePlacement(ctx context.Context, rec PlacementRecord) error {
	return c.postJSON(ctx, "/v1/bets", rec, nil)
}

func (c *BetHistoryClient) RecordSettlement(ctx context.Context, rec SettlementRecord) error {
	return c.postJSON(ctx, "/v1/bets/settle", rec, nil)
}

func (c *BetHistoryClient) UpdateStatus(ctx context.Context, txID string, gameCode models.GameCode, status string) error {
	body := map[string]string{
		"tx_id":     txID,
		"game_code": string(gameCode),
		"status":    status,
	}
	return c.postJSON(ctx, "/v1/bets/status", body, nil)
}

func (c *BetHistoryClient) GetByExternalTxID(ctx context.Context, txID string, gameCode models.GameCode) (*PlacementRecord, error) {
	var rec PlacementRecord
	path := fmt.Sprintf("/v1/bets/%s?game_code=%s", txID, gameCode)
	if err := c.getJSON(ctx, path, &rec); err != nil {
		return nil, err
	}
	if rec.TxID == "" {
		return nil, nil
	}
	return &rec, nil
}

func (c *BetHistoryClient) ListUserBets(ctx context.Context, userID string, gameCode models.GameCode, limit int) ([]PlacementRecord, error) {
	var recs []PlacementRecord
	path := fmt.Sprintf("/v1/bets?user_id=%s&game_code=%s&limit=%d", userID, gameCode, limit)
	if err := c.getJSON(ctx, path, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}
