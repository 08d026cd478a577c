package outcome_test

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	"github.com/games-vector/vector-games-v2-sub000/internal/models"
	"github.com/games-vector/vector-games-v2-sub000/internal/outcome"
)

type stubConfig struct {
	values map[string]string
}

func (s *stubConfig) GetConfig(_ context.Context, _ models.GameCode, key string) (string, error) {
	return s.values[key], nil
}

func TestCrashCoefficientWithinConfiguredRanges(t *testing.T) {
	dist := outcome.Distribution{
		Type: outcome.DistributionUniform,
		Ranges: []outcome.Range{
			{Name: "low", Min: 1.0, Max: 2.0, Weight: 0.5},
			{Name: "high", Min: 2.0, Max: 10.0, Weight: 0.5},
		},
	}
	raw, _ := json.Marshal(dist)

	gen := outcome.NewGenerator(
		&stubConfig{values: map[string]string{"coefficient_distribution": string(raw)}},
		models.DefaultCrashSpec(),
	)

	for i := 0; i < 500; i++ {
		coeff, err := gen.CrashCoefficient(context.Background())
		if err != nil {
			t.Fatalf("CrashCoefficient failed: %v", err)
		}
		if coeff < 1.0 || coeff > 10.0 {
			t.Fatalf("coefficient %v outside every configured range", coeff)
		}
		rounded := math.Round(coeff*100) / 100
		if coeff != rounded {
			t.Fatalf("coefficient %v not rounded to 2 decimals", coeff)
		}
	}
}

func TestCrashCoefficientFallsBackOnInvalidConfig(t *testing.T) {
	bad := `{"type":"uniform","ranges":[{"name":"x","min":1,"max":2,"weight":0.4}]}`
	gen := outcome.NewGenerator(
		&stubConfig{values: map[string]string{"coefficient_distribution": bad}},
		models.DefaultCrashSpec(),
	)

	// Weights do not sum to 1, so the default distribution applies.
	for i := 0; i < 200; i++ {
		coeff, err := gen.CrashCoefficient(context.Background())
		if err != nil {
			t.Fatalf("CrashCoefficient failed: %v", err)
		}
		if coeff < 1.0 || coeff > 100.0 {
			t.Fatalf("coefficient %v outside default distribution bounds", coeff)
		}
	}
}

func TestDistributionValidate(t *testing.T) {
	valid := outcome.Distribution{
		Type: outcome.DistributionPower,
		Ranges: []outcome.Range{
			{Name: "a", Min: 1, Max: 2, Weight: 0.505},
			{Name: "b", Min: 2, Max: 3, Weight: 0.5},
		},
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("weights within tolerance should validate, got %v", err)
	}

	invalid := outcome.Distribution{
		Type: outcome.DistributionPower,
		Ranges: []outcome.Range{
			{Name: "a", Min: 1, Max: 2, Weight: 0.6},
			{Name: "b", Min: 2, Max: 3, Weight: 0.5},
		},
	}
	if err := invalid.Validate(); err == nil {
		t.Error("weights summing to 1.1 should not validate")
	}

	badBounds := outcome.Distribution{
		Type:   outcome.DistributionUniform,
		Ranges: []outcome.Range{{Name: "a", Min: 3, Max: 2, Weight: 1}},
	}
	if err := badBounds.Validate(); err == nil {
		t.Error("max < min should not validate")
	}
}

func TestSpeedBounds(t *testing.T) {
	spec := models.DefaultCrashSpec()

	tests := []struct {
		raw  string
		want float64
	}{
		{"", spec.DefaultSpeed},
		{"0.5", 0.5},
		{"0", spec.DefaultSpeed},
		{"-1", spec.DefaultSpeed},
		{"11", spec.DefaultSpeed},
		{"not-a-number", spec.DefaultSpeed},
	}

	for _, tt := range tests {
		gen := outcome.NewGenerator(
			&stubConfig{values: map[string]string{"coefficient_speed": tt.raw}},
			spec,
		)
		if got := gen.Speed(context.Background()); got != tt.want {
			t.Errorf("Speed with config %q = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestMinesLayout(t *testing.T) {
	mines := outcome.MinesLayout("server", "client", 3, 25, 5)

	if len(mines) != 5 {
		t.Fatalf("expected 5 mines, got %d", len(mines))
	}

	seen := make(map[int]bool)
	prev := 0
	for _, m := range mines {
		if m < 1 || m > 25 {
			t.Errorf("mine position %d outside grid", m)
		}
		if seen[m] {
			t.Errorf("duplicate mine position %d", m)
		}
		if m <= prev {
			t.Errorf("positions not sorted ascending: %v", mines)
		}
		seen[m] = true
		prev = m
	}

	again := outcome.MinesLayout("server", "client", 3, 25, 5)
	for i := range mines {
		if mines[i] != again[i] {
			t.Fatal("layout not deterministic for identical seeds")
		}
	}
}
