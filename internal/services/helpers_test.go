package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/games-vector/vector-games-v2-sub000/internal/clients"
	"github.com/games-vector/vector-games-v2-sub000/internal/models"
	"github.com/games-vector/vector-games-v2-sub000/internal/outcome"
	"github.com/games-vector/vector-games-v2-sub000/internal/store"
)

// fakeWallet records every call and accepts unless told otherwise.
type fakeWallet struct {
	mu sync.Mutex

	placed   []clients.WalletRequest
	settled  []clients.WalletRequest
	refunded []clients.WalletRequest

	rejectPlace  bool
	rejectSettle bool
	failSettle   error
	balance      decimal.Decimal
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{balance: decimal.NewFromInt(1000)}
}

func (w *fakeWallet) PlaceBet(_ context.Context, req clients.WalletRequest) (*clients.WalletResponse, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.rejectPlace {
		return &clients.WalletResponse{Status: "1006", Message: "insufficient funds"}, nil
	}
	w.placed = append(w.placed, req)
	w.balance = w.balance.Sub(req.Amount)
	return &clients.WalletResponse{Status: clients.StatusAccepted, Balance: w.balance}, nil
}

func (w *fakeWallet) SettleBet(_ context.Context, req clients.WalletRequest) (*clients.WalletResponse, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failSettle != nil {
		return nil, w.failSettle
	}
	if w.rejectSettle {
		return &clients.WalletResponse{Status: "1010", Message: "settle rejected"}, nil
	}
	w.settled = append(w.settled, req)
	w.balance = w.balance.Add(req.Amount)
	return &clients.WalletResponse{Status: clients.StatusAccepted, Balance: w.balance}, nil
}

func (w *fakeWallet) RefundBet(_ context.Context, req clients.WalletRequest) (*clients.WalletResponse, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.refunded = append(w.refunded, req)
	w.balance = w.balance.Add(req.Amount)
	return &clients.WalletResponse{Status: clients.StatusAccepted, Balance: w.balance}, nil
}

func (w *fakeWallet) GetBalance(context.Context, string, string, string) (*clients.WalletResponse, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return &clients.WalletResponse{Status: clients.StatusAccepted, Balance: w.balance}, nil
}

func (w *fakeWallet) placeCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.placed)
}

func (w *fakeWallet) settleCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.settled)
}

func (w *fakeWallet) refundCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.refunded)
}

// fakeHistory records placements and settlements in memory.
type fakeHistory struct {
	mu sync.Mutex

	placements  []clients.PlacementRecord
	settlements []clients.SettlementRecord
	statuses    map[string]string

	failCreate error
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{statuses: make(map[string]string)}
}

func (h *fakeHistory) CreatePlacement(_ context.Context, rec clients.PlacementRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failCreate != nil {
		return h.failCreate
	}
	h.placements = append(h.placements, rec)
	return nil
}

func (h *fakeHistory) RecordSettlement(_ context.Context, rec clients.SettlementRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.settlements = append(h.settlements, rec)
	return nil
}

func (h *fakeHistory) UpdateStatus(_ context.Context, txID string, _ models.GameCode, status string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses[txID] = status
	return nil
}

func (h *fakeHistory) GetByExternalTxID(context.Context, string, models.GameCode) (*clients.PlacementRecord, error) {
	return nil, nil
}

func (h *fakeHistory) ListUserBets(context.Context, string, models.GameCode, int) ([]clients.PlacementRecord, error) {
	return nil, nil
}

func (h *fakeHistory) settlementCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.settlements)
}

// nilConfigs is an unconfigured ConfigSource: everything falls back to
// spec defaults.
type nilConfigs struct{}

func (nilConfigs) GetConfig(context.Context, models.GameCode, string) (string, error) {
	return "", nil
}

// recordingPublisher captures fan-out without a websocket hub.
type recordingPublisher struct {
	mu     sync.Mutex
	states []*models.PublicState
	coeffs []float64
}

func (p *recordingPublisher) PublishState(_ models.GameCode, state *models.PublicState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, state)
}

func (p *recordingPublisher) PublishCoefficient(_ models.GameCode, coeff float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.coeffs = append(p.coeffs, coeff)
}

func (p *recordingPublisher) PublishBalance(string, string, decimal.Decimal) {}

func (p *recordingPublisher) stateCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.states)
}

func (p *recordingPublisher) coeffCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.coeffs)
}

// testRig wires a full crash stack over a MemoryStore.
type testRig struct {
	store      *store.MemoryStore
	wallet     *fakeWallet
	history    *fakeHistory
	rounds     *RoundStore
	engine     *RoundEngine
	settlement *SettlementCoordinator
	ledger     *BetLedger
	seeds      *UserSeeds
	spec       models.GameSpec
}

func newTestRig() *testRig {
	spec := models.DefaultCrashSpec()
	spec.WaitDuration = 50 * time.Millisecond
	spec.FastTick = 5 * time.Millisecond
	spec.SlowTick = 50 * time.Millisecond

	st := store.NewMemoryStore()
	wallet := newFakeWallet()
	history := newFakeHistory()
	rounds := NewRoundStore(st, spec)
	seeds := NewUserSeeds(st)
	settlement := NewSettlementCoordinator(st, wallet, history, 10*time.Minute)

	return &testRig{
		store:      st,
		wallet:     wallet,
		history:    history,
		rounds:     rounds,
		engine:     NewRoundEngine(rounds, outcome.NewGenerator(nilConfigs{}, spec), spec),
		settlement: settlement,
		ledger:     NewBetLedger(rounds, settlement, st, seeds, spec, 5*time.Minute),
		seeds:      seeds,
		spec:       spec,
	}
}

// saveRound persists a hand-built round without the engine's seeding.
func (r *testRig) saveRound(t interface{ Fatalf(string, ...interface{}) }, round *models.Round) {
	if round.Bets == nil {
		round.Bets = make(map[string]*models.Bet)
	}
	if err := r.rounds.Save(context.Background(), round); err != nil {
		t.Fatalf("save round: %v", err)
	}
}

func waitRound(crash float64) *models.Round {
	return &models.Round{
		RoundID:            models.NewRoundID(),
		GameCode:           models.GameCodeCrash,
		GameInstanceID:     models.NewGameInstanceID(),
		Status:             models.RoundStatusWait,
		CurrentCoefficient: 1.0,
		CrashCoefficient:   crash,
		Speed:              0.25,
		WaitUntil:          time.Now().Add(time.Minute),
		ServerSeed:         "aa11",
		ServerSeedHash:     "hash-aa11",
		ClientSeeds:        []models.ClientSeed{},
		Bets:               make(map[string]*models.Bet),
		CreatedAt:          time.Now(),
	}
}

var errBoom = errors.New("boom")
