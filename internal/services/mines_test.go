package services

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/games-vector/vector-games-v2-sub000/internal/models"
	"github.com/games-vector/vector-games-v2-sub000/internal/store"
)

type minesRig struct {
	store   *store.MemoryStore
	wallet  *fakeWallet
	history *fakeHistory
	mines   *MinesService
	spec    models.GameSpec
}

func newMinesRig() *minesRig {
	spec := models.DefaultMinesSpec()
	st := store.NewMemoryStore()
	wallet := newFakeWallet()
	history := newFakeHistory()
	settlement := NewSettlementCoordinator(st, wallet, history, 10*time.Minute)
	seeds := NewUserSeeds(st)

	return &minesRig{
		store:   st,
		wallet:  wallet,
		history: history,
		mines:   NewMinesService(st, settlement, seeds, spec, 24*time.Hour),
		spec:    spec,
	}
}

func minesPlay(minesCount int) *models.MinesPlayRequest {
	return &models.MinesPlayRequest{
		BetAmount:  decimal.NewFromInt(10),
		Currency:   "USD",
		MinesCount: minesCount,
	}
}

func TestMinesMultiplier(t *testing.T) {
	// 25 cells, 5 mines, 3 safe reveals:
	// 0.95 / (20/25 * 19/24 * 18/23), floored to 2 decimals.
	prob := (20.0 / 25.0) * (19.0 / 24.0) * (18.0 / 23.0)
	want := math.Floor(0.95/prob*100) / 100

	got := MinesMultiplier(25, 5, 3, 0.05)
	if got != want {
		t.Fatalf("multiplier = %v, want %v", got, want)
	}

	if m := MinesMultiplier(25, 5, 0, 0.05); m != 1.0 {
		t.Fatalf("zero reveals multiplier = %v, want 1.0", m)
	}

	// More mines pay more per reveal.
	if MinesMultiplier(25, 10, 1, 0.05) <= MinesMultiplier(25, 2, 1, 0.05) {
		t.Fatal("riskier board does not pay more")
	}
}

func TestMinesPlayCreatesSession(t *testing.T) {
	rig := newMinesRig()
	ctx := context.Background()

	state, err := rig.mines.Play(ctx, identity("u1"), minesPlay(5))
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if state.Status != models.MinesStatusInProgress {
		t.Fatalf("status = %s, want IN_PROGRESS", state.Status)
	}
	if state.Coefficient != 1.0 {
		t.Fatalf("initial coefficient = %v, want 1.0", state.Coefficient)
	}
	if state.ServerSeedHash == "" {
		t.Fatal("no server seed commitment")
	}
	// Mine positions stay hidden while in progress.
	if len(state.MinePositions) != 0 {
		t.Fatal("mine positions leaked on an open session")
	}
	if rig.wallet.placeCount() != 1 {
		t.Fatalf("wallet debits = %d, want 1", rig.wallet.placeCount())
	}
}

func TestMinesPlayRejectsSecondSession(t *testing.T) {
	rig := newMinesRig()
	ctx := context.Background()

	if _, err := rig.mines.Play(ctx, identity("u1"), minesPlay(5)); err != nil {
		t.Fatalf("first play: %v", err)
	}
	_, err := rig.mines.Play(ctx, identity("u1"), minesPlay(5))
	if !errors.Is(err, models.ErrActiveSessionExists) {
		t.Fatalf("expected ErrActiveSessionExists, got %v", err)
	}
	if rig.wallet.placeCount() != 1 {
		t.Fatalf("second session debited the wallet, debits = %d", rig.wallet.placeCount())
	}
}

func TestMinesPlayValidation(t *testing.T) {
	rig := newMinesRig()

	_, err := rig.mines.Play(context.Background(), identity("u1"), minesPlay(1))
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected ErrValidation for mines count 1, got %v", err)
	}
}

// loadSession reads the raw session so tests can see the mine layout.
func (r *minesRig) loadSession(t *testing.T, userID string) *models.MinesSession {
	t.Helper()
	session, err := r.mines.load(context.Background(), userID)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if session == nil {
		t.Fatal("no session found")
	}
	return session
}

func safeCells(session *models.MinesSession, n int) []int {
	var cells []int
	for c := 1; c <= session.GridSize && len(cells) < n; c++ {
		if !session.IsMine(c) {
			cells = append(cells, c)
		}
	}
	return cells
}

func TestMinesRevealSafeCellGrowsMultiplier(t *testing.T) {
	rig := newMinesRig()
	ctx := context.Background()

	if _, err := rig.mines.Play(ctx, identity("u1"), minesPlay(5)); err != nil {
		t.Fatalf("play: %v", err)
	}
	session := rig.loadSession(t, "u1")
	cell := safeCells(session, 1)[0]

	state, err := rig.mines.Reveal(ctx, identity("u1"), cell)
	if err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if state.Status != models.MinesStatusInProgress {
		t.Fatalf("status = %s, want IN_PROGRESS", state.Status)
	}
	want := MinesMultiplier(25, 5, 1, rig.spec.HouseEdge)
	if state.Coefficient != want {
		t.Fatalf("coefficient = %v, want %v", state.Coefficient, want)
	}

	// Re-opening the same cell is invalid.
	if _, err := rig.mines.Reveal(ctx, identity("u1"), cell); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected ErrValidation re-opening a cell, got %v", err)
	}
	// So is a cell outside the grid.
	if _, err := rig.mines.Reveal(ctx, identity("u1"), 26); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected ErrValidation for out-of-grid cell, got %v", err)
	}
}

func TestMinesRevealMineLosesAndSettlesOnce(t *testing.T) {
	rig := newMinesRig()
	ctx := context.Background()

	if _, err := rig.mines.Play(ctx, identity("u1"), minesPlay(5)); err != nil {
		t.Fatalf("play: %v", err)
	}
	session := rig.loadSession(t, "u1")
	mine := session.MinePositions[0]

	state, err := rig.mines.Reveal(ctx, identity("u1"), mine)
	if err != nil {
		t.Fatalf("reveal mine: %v", err)
	}
	if state.Status != models.MinesStatusLose {
		t.Fatalf("status = %s, want LOSE", state.Status)
	}
	if state.Coefficient != 0 || !state.PotentialWin.IsZero() {
		t.Fatalf("loss paid out: coeff %v, win %s", state.Coefficient, state.PotentialWin)
	}
	// Terminal sessions disclose the layout.
	if len(state.MinePositions) != 5 {
		t.Fatalf("mine positions not disclosed on loss: %v", state.MinePositions)
	}

	// The loss settles exactly once, at zero.
	if rig.wallet.settleCount() != 1 {
		t.Fatalf("wallet credits = %d, want 1", rig.wallet.settleCount())
	}
	if !rig.wallet.settled[0].Amount.IsZero() {
		t.Fatalf("loss credited %s, want 0", rig.wallet.settled[0].Amount)
	}

	// Session destroyed: further reveals conflict, a new play works.
	if _, err := rig.mines.Reveal(ctx, identity("u1"), 1); !errors.Is(err, models.ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict after loss, got %v", err)
	}
	if _, err := rig.mines.Play(ctx, identity("u1"), minesPlay(5)); err != nil {
		t.Fatalf("new play after loss: %v", err)
	}
}

func TestMinesCashout(t *testing.T) {
	rig := newMinesRig()
	ctx := context.Background()

	if _, err := rig.mines.Play(ctx, identity("u1"), minesPlay(5)); err != nil {
		t.Fatalf("play: %v", err)
	}

	// Cashing out before any reveal is a conflict.
	if _, err := rig.mines.Cashout(ctx, identity("u1")); !errors.Is(err, models.ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict before first reveal, got %v", err)
	}

	session := rig.loadSession(t, "u1")
	cells := safeCells(session, 2)
	for _, c := range cells {
		if _, err := rig.mines.Reveal(ctx, identity("u1"), c); err != nil {
			t.Fatalf("reveal %d: %v", c, err)
		}
	}

	state, err := rig.mines.Cashout(ctx, identity("u1"))
	if err != nil {
		t.Fatalf("cashout: %v", err)
	}
	if state.Status != models.MinesStatusWin {
		t.Fatalf("status = %s, want WIN", state.Status)
	}

	wantCoeff := MinesMultiplier(25, 5, 2, rig.spec.HouseEdge)
	wantWin := decimal.NewFromInt(10).Mul(decimal.NewFromFloat(wantCoeff))
	if rig.wallet.settleCount() != 1 {
		t.Fatalf("wallet credits = %d, want 1", rig.wallet.settleCount())
	}
	if !rig.wallet.settled[0].Amount.Equal(wantWin) {
		t.Fatalf("payout = %s, want %s", rig.wallet.settled[0].Amount, wantWin)
	}

	// A second cashout finds no session.
	if _, err := rig.mines.Cashout(ctx, identity("u1")); !errors.Is(err, models.ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict after cashout, got %v", err)
	}
}

func TestMinesWinOnClearingAllSafeCells(t *testing.T) {
	rig := newMinesRig()
	ctx := context.Background()

	// Max mines leaves a single safe cell: one reveal wins outright.
	if _, err := rig.mines.Play(ctx, identity("u1"), minesPlay(24)); err != nil {
		t.Fatalf("play: %v", err)
	}
	session := rig.loadSession(t, "u1")
	cell := safeCells(session, 1)[0]

	state, err := rig.mines.Reveal(ctx, identity("u1"), cell)
	if err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if state.Status != models.MinesStatusWin {
		t.Fatalf("status = %s, want WIN after clearing the board", state.Status)
	}
	if rig.wallet.settleCount() != 1 {
		t.Fatalf("wallet credits = %d, want 1", rig.wallet.settleCount())
	}
}

func TestMinesStateForIdleUser(t *testing.T) {
	rig := newMinesRig()

	state, err := rig.mines.State(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.Status != models.MinesStatusNone {
		t.Fatalf("status = %s, want NONE", state.Status)
	}
}

func TestMinesLayoutDeterministicPerSeeds(t *testing.T) {
	rig := newMinesRig()
	ctx := context.Background()

	if _, err := rig.mines.Play(ctx, identity("u1"), minesPlay(5)); err != nil {
		t.Fatalf("play: %v", err)
	}
	session := rig.loadSession(t, "u1")

	if len(session.MinePositions) != 5 {
		t.Fatalf("layout has %d mines, want 5", len(session.MinePositions))
	}
	seen := make(map[int]bool)
	for _, m := range session.MinePositions {
		if m < 1 || m > 25 {
			t.Fatalf("mine position %d outside the grid", m)
		}
		if seen[m] {
			t.Fatalf("duplicate mine position %d", m)
		}
		seen[m] = true
	}
}
