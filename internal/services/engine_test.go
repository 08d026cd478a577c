package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/games-vector/vector-games-v2-sub000/internal/models"
)

func TestStartNewRound(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()

	round, err := rig.engine.StartNewRound(ctx)
	if err != nil {
		t.Fatalf("start new round: %v", err)
	}

	if round.Status != models.RoundStatusWait {
		t.Fatalf("status = %s, want WAIT", round.Status)
	}
	if round.CrashCoefficient < rig.spec.MinCoefficient {
		t.Fatalf("crash coefficient %v below minimum", round.CrashCoefficient)
	}
	if round.Speed <= 0 {
		t.Fatalf("speed = %v, want positive", round.Speed)
	}
	if round.ServerSeedHash == "" || round.ServerSeed == "" {
		t.Fatal("server seed commitment missing")
	}
	if round.Version != 1 {
		t.Fatalf("version = %d, want 1", round.Version)
	}

	// The crash point must not appear in the public projection.
	state, err := rig.rounds.PublicState(ctx)
	if err != nil {
		t.Fatalf("public state: %v", err)
	}
	if state.CrashCoefficient != 0 {
		t.Fatalf("crash coefficient leaked during WAIT: %v", state.CrashCoefficient)
	}
}

func TestStartGameRequiresWait(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()

	round := waitRound(2.5)
	rig.saveRound(t, round)

	started, err := rig.engine.StartGame(ctx)
	if err != nil {
		t.Fatalf("start game: %v", err)
	}
	if started.Status != models.RoundStatusActive {
		t.Fatalf("status = %s, want ACTIVE", started.Status)
	}

	// Starting twice is a conflict, not a silent restart.
	if _, err := rig.engine.StartGame(ctx); !errors.Is(err, models.ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict on double start, got %v", err)
	}
}

func TestTickGrowsCoefficient(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()

	round := waitRound(100)
	round.Status = models.RoundStatusActive
	round.Speed = 0.25
	round.StartedAt = time.Now().Add(-2 * time.Second)
	rig.saveRound(t, round)

	result, err := rig.engine.Tick(ctx)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if result.Stopped {
		t.Fatal("round stopped far below its crash point")
	}
	// ~2s at 0.25/s on top of 1.0.
	if result.Round.CurrentCoefficient < 1.4 || result.Round.CurrentCoefficient > 1.6 {
		t.Fatalf("coefficient = %v, want about 1.5", result.Round.CurrentCoefficient)
	}
}

func TestTickRejectsNonActive(t *testing.T) {
	rig := newTestRig()
	rig.saveRound(t, waitRound(2.5))

	if _, err := rig.engine.Tick(context.Background()); !errors.Is(err, models.ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict ticking a WAIT round, got %v", err)
	}
}

func TestTickFinishesAtCrashPoint(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()

	round := waitRound(2.5)
	round.Status = models.RoundStatusActive
	round.Speed = 1.0
	round.StartedAt = time.Now().Add(-10 * time.Second)
	round.ClientSeeds = []models.ClientSeed{{UserID: "u1", Seed: "feed1"}}

	autoWin := &models.Bet{
		PlayerGameID:           "pg-auto-win",
		UserID:                 "u1",
		BetAmount:              decimal.NewFromInt(10),
		BetSlot:                models.BetSlotAuto,
		AutoCashoutCoefficient: 2.0,
	}
	autoLose := &models.Bet{
		PlayerGameID:           "pg-auto-lose",
		UserID:                 "u2",
		BetAmount:              decimal.NewFromInt(10),
		BetSlot:                models.BetSlotAuto,
		AutoCashoutCoefficient: 5.0,
	}
	manual := &models.Bet{
		PlayerGameID: "pg-manual",
		UserID:       "u3",
		BetAmount:    decimal.NewFromInt(10),
		BetSlot:      models.BetSlotManual,
	}
	round.Bets = map[string]*models.Bet{
		autoWin.PlayerGameID:  autoWin,
		autoLose.PlayerGameID: autoLose,
		manual.PlayerGameID:   manual,
	}
	rig.saveRound(t, round)

	result, err := rig.engine.Tick(ctx)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !result.Stopped {
		t.Fatal("round should have crashed")
	}
	if result.Round.Status != models.RoundStatusFinished {
		t.Fatalf("status = %s, want FINISHED", result.Round.Status)
	}
	if result.Round.CurrentCoefficient != 2.5 {
		t.Fatalf("final coefficient = %v, want the crash point 2.5", result.Round.CurrentCoefficient)
	}
	if result.Round.CombinedHash == "" {
		t.Fatal("combined hash missing on finished round")
	}
	if len(result.Finalized) != 3 {
		t.Fatalf("finalized %d bets, want 3", len(result.Finalized))
	}

	// The auto bet whose threshold the round reached wins at that
	// threshold, not at the crash point.
	winner := result.Round.Bets["pg-auto-win"]
	if !winner.Terminal() || *winner.CashoutCoefficient != 2.0 {
		t.Fatalf("auto winner coefficient = %v, want 2.0", winner.CashoutCoefficient)
	}
	if !winner.WinAmount.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("auto winner payout = %s, want 20", winner.WinAmount)
	}
	for _, id := range []string{"pg-auto-lose", "pg-manual"} {
		loser := result.Round.Bets[id]
		if !loser.Terminal() || *loser.CashoutCoefficient != 0 || !loser.WinAmount.IsZero() {
			t.Fatalf("bet %s should lose at 0, got %v / %v",
				id, loser.CashoutCoefficient, loser.WinAmount)
		}
	}

	// The crash point is public now.
	state, _ := rig.rounds.PublicState(ctx)
	if state.CrashCoefficient != 2.5 {
		t.Fatalf("crash coefficient not disclosed after finish: %v", state.CrashCoefficient)
	}

	// Fairness disclosure appended.
	records := rig.rounds.History(ctx, 5)
	if len(records) != 1 || records[0].RoundID != round.RoundID {
		t.Fatalf("fairness history = %+v, want one record for %s", records, round.RoundID)
	}
	if records[0].ServerSeed == "" || records[0].CombinedHash == "" {
		t.Fatal("fairness record missing seed disclosure")
	}
}

func TestNewWaitRoundShowsPreviousBets(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()

	round := waitRound(2.5)
	round.Status = models.RoundStatusActive
	round.Speed = 1.0
	round.StartedAt = time.Now().Add(-10 * time.Second)
	round.Bets = map[string]*models.Bet{
		"pg-1": {
			PlayerGameID: "pg-1",
			UserID:       "u1",
			BetAmount:    decimal.NewFromInt(10),
			BetSlot:      models.BetSlotManual,
		},
	}
	rig.saveRound(t, round)

	result, err := rig.engine.Tick(ctx)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !result.Stopped {
		t.Fatal("round should have crashed")
	}
	if err := rig.engine.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := rig.engine.StartNewRound(ctx); err != nil {
		t.Fatalf("start new round: %v", err)
	}

	// Late joiners of the new WAIT round see how the last one ended.
	state, err := rig.rounds.PublicState(ctx)
	if err != nil {
		t.Fatalf("public state: %v", err)
	}
	prev, ok := state.PreviousBets["pg-1"]
	if !ok {
		t.Fatalf("previous bets = %+v, want the finished round's bet", state.PreviousBets)
	}
	if !prev.Terminal() {
		t.Fatal("previous bet snapshot not finalized")
	}
}

func TestTerminalBetsSurviveRoundEnd(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()

	round := waitRound(2.5)
	round.Status = models.RoundStatusActive
	round.Speed = 1.0
	round.StartedAt = time.Now().Add(-10 * time.Second)

	cashed := &models.Bet{
		PlayerGameID: "pg-cashed",
		UserID:       "u1",
		BetAmount:    decimal.NewFromInt(10),
		BetSlot:      models.BetSlotManual,
	}
	cashed.Finalize(1.8, decimal.NewFromInt(18))
	round.Bets = map[string]*models.Bet{cashed.PlayerGameID: cashed}
	rig.saveRound(t, round)

	result, err := rig.engine.Tick(ctx)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(result.Finalized) != 0 {
		t.Fatalf("already-terminal bet re-finalized: %+v", result.Finalized)
	}
	kept := result.Round.Bets["pg-cashed"]
	if *kept.CashoutCoefficient != 1.8 {
		t.Fatalf("terminal bet mutated, coefficient = %v", *kept.CashoutCoefficient)
	}
}

func TestEndRoundIdempotentOnFinished(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()

	round := waitRound(2.5)
	round.Status = models.RoundStatusFinished
	rig.saveRound(t, round)

	finalized, err := rig.engine.EndRound(ctx)
	if err != nil {
		t.Fatalf("end round: %v", err)
	}
	if finalized != nil {
		t.Fatalf("finished round finalized bets again: %+v", finalized)
	}
}
