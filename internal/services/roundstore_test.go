package services

import (
	"context"
	"errors"
	"testing"

	"github.com/games-vector/vector-games-v2-sub000/internal/models"
)

func TestRoundStoreLoadMissing(t *testing.T) {
	rig := newTestRig()

	_, err := rig.rounds.Load(context.Background())
	if !errors.Is(err, models.ErrRoundNotFound) {
		t.Fatalf("expected ErrRoundNotFound, got %v", err)
	}
}

func TestRoundStoreSaveIncrementsVersion(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()

	round := waitRound(2.5)
	rig.saveRound(t, round)
	if round.Version != 1 {
		t.Fatalf("expected version 1 after first save, got %d", round.Version)
	}

	loaded, err := rig.rounds.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Version != 1 {
		t.Fatalf("store version = %d, want 1", loaded.Version)
	}

	rig.saveRound(t, loaded)
	if loaded.Version != 2 {
		t.Fatalf("expected version 2 after second save, got %d", loaded.Version)
	}
}

func TestRoundStoreStaleWriterRejected(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()

	round := waitRound(2.5)
	rig.saveRound(t, round)

	// Two pods load the same version; the first save wins.
	copyA, _ := rig.rounds.Load(ctx)
	copyB, _ := rig.rounds.Load(ctx)

	if err := rig.rounds.Save(ctx, copyA); err != nil {
		t.Fatalf("first writer: %v", err)
	}
	if err := rig.rounds.Save(ctx, copyB); !errors.Is(err, models.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict for stale writer, got %v", err)
	}
}

func TestRoundStoreProjections(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()

	round := waitRound(3.0)
	round.Status = models.RoundStatusActive
	round.CurrentCoefficient = 1.47
	rig.saveRound(t, round)

	state, err := rig.rounds.PublicState(ctx)
	if err != nil {
		t.Fatalf("public state: %v", err)
	}
	if state == nil {
		t.Fatal("expected a state projection after save")
	}
	if state.CurrentCoefficient != 1.47 {
		t.Fatalf("projection coefficient = %v, want 1.47", state.CurrentCoefficient)
	}
	if state.CrashCoefficient != 0 {
		t.Fatalf("crash coefficient leaked before FINISHED: %v", state.CrashCoefficient)
	}

	coeff, err := rig.rounds.CurrentCoefficient(ctx)
	if err != nil {
		t.Fatalf("coefficient projection: %v", err)
	}
	if coeff != 1.47 {
		t.Fatalf("coefficient projection = %v, want 1.47", coeff)
	}
}

func TestRoundStoreCrashRevealedWhenFinished(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()

	round := waitRound(3.0)
	round.Status = models.RoundStatusFinished
	round.CurrentCoefficient = 3.0
	rig.saveRound(t, round)

	state, err := rig.rounds.PublicState(ctx)
	if err != nil {
		t.Fatalf("public state: %v", err)
	}
	if state.CrashCoefficient != 3.0 {
		t.Fatalf("crash coefficient = %v, want 3.0 on finished round", state.CrashCoefficient)
	}
}

func TestRoundStoreClear(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()

	rig.saveRound(t, waitRound(2.0))
	if err := rig.rounds.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}

	if _, err := rig.rounds.Load(ctx); !errors.Is(err, models.ErrRoundNotFound) {
		t.Fatalf("expected round gone after clear, got %v", err)
	}
	state, err := rig.rounds.PublicState(ctx)
	if err != nil || state != nil {
		t.Fatalf("expected empty projection after clear, got %v, %v", state, err)
	}
}

func TestRoundStoreHistoryTrimmed(t *testing.T) {
	rig := newTestRig()
	ctx := context.Background()

	for i := 0; i < rig.spec.HistorySize+10; i++ {
		rec := &models.FairnessRecord{
			RoundID:          models.NewRoundID(),
			CrashCoefficient: float64(i),
		}
		if err := rig.rounds.AppendHistory(ctx, rec); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	records := rig.rounds.History(ctx, 0)
	if len(records) != rig.spec.HistorySize {
		t.Fatalf("history length = %d, want %d", len(records), rig.spec.HistorySize)
	}
	// Newest first.
	if records[0].CrashCoefficient != float64(rig.spec.HistorySize+9) {
		t.Fatalf("newest record crash = %v, want %v",
			records[0].CrashCoefficient, float64(rig.spec.HistorySize+9))
	}
}
