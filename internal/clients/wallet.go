package clients

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/games-vector/vector-games-v2-sub000/internal/models"
)

// WalletRequest is the common payload for debit/credit/refund calls.
type WalletRequest struct {
	AgentID    string          `json:"agent_id"`
	UserID     string          `json:"user_id"`
	OperatorID string          `json:"operator_id"`
	Amount     decimal.Decimal `json:"amount"`
	RoundID    string          `json:"round_id"`
	TxID       string          `json:"tx_id"`
	Currency   string          `json:"currency"`
	GameCode   models.GameCode `json:"game_code"`
}

type WalletResponse struct {
	Status           string          `json:"status"`
	Message          string          `json:"message,omitempty"`
	Balance          decimal.Decimal `json:"balance"`
	BalanceTimestamp int64           `json:"balance_timestamp"`
}

// Accepted reports whether the wallet took the operation.
func (r *WalletResponse) Accepted() bool {
	return r.Status == StatusAccepted
}

// Wallet is the external ledger holding player balances.
type Wallet interface {
	PlaceBet(ctx context.Context, req WalletRequest) (*WalletResponse, error)
	SettleBet(ctx context.Context, req WalletRequest) (*WalletResponse, error)
	RefundBet(ctx context.Context, req WalletRequest) (*WalletResponse, error)
	GetBalance(ctx context.Context, agentID, userID, currency string) (*WalletResponse, error)
}

type WalletClient struct {
	*httpClient
}

func NewWalletClient(baseURL, apiKey string) *WalletClient {
	return &WalletClient{httpClient: newHTTPClient(baseURL, apiKey)}
}

func (c *WalletClient) PlaceBet(ctx context.Context, req WalletRequest) (*WalletResponse, error) {
	var resp WalletResponse
	if err := c.postJSON(ctx, "/v1/wallet/bet", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *WalletClient) SettleBet(ctx context.Context, req WalletRequest) (*WalletResponse, error) {
	var resp WalletResponse
	if err := c.postJSON(ctx, "/v1/wallet/settle", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *WalletClient) RefundBet(ctx context.Context, req WalletRequest) (*WalletResponse, error) {
	var resp WalletResponse
	if err := c.postJSON(ctx, "/v1/wallet/refund", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *WalletClient) GetBalance(ctx context.Context, agentID, userID, currency string) (*WalletResponse, error) {
	var resp WalletResponse
	path := "/v1/wallet/balance?agent_id=" + agentID + "&user_id=" + userID + "&currency=" + currency
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
