package models

import "time"

type GameCode string

const (
	GameCodeCrash GameCode = "crash"
	GameCodeMines GameCode = "mines"
)

type RoundStatus string

const (
	RoundStatusWait     RoundStatus = "WAIT"
	RoundStatusActive   RoundStatus = "ACTIVE"
	RoundStatusFinished RoundStatus = "FINISHED"
)

// GameSpec carries the per-game constants that differentiate one game
// code from another. Game-specific behaviour is data, not subclassing.
type GameSpec struct {
	Code           GameCode      `json:"code"`
	WaitDuration   time.Duration `json:"wait_duration"`
	FastTick       time.Duration `json:"fast_tick"`
	SlowTick       time.Duration `json:"slow_tick"`
	CoeffPrecision int           `json:"coeff_precision"` // 2 or 3 decimal places
	MinCoefficient float64       `json:"min_coefficient"`
	DefaultSpeed   float64       `json:"default_speed"` // coefficient growth per second
	MinBet         float64       `json:"min_bet"`
	MaxBet         float64       `json:"max_bet"`
	HistorySize    int           `json:"history_size"`
	HouseEdge      float64       `json:"house_edge"`
	MinesGridSize  int           `json:"mines_grid_size"`
	MinesCountMin  int           `json:"mines_count_min"`
	MinesCountMax  int           `json:"mines_count_max"`
}

func DefaultCrashSpec() GameSpec {
	return GameSpec{
		Code:           GameCodeCrash,
		WaitDuration:   7 * time.Second,
		FastTick:       200 * time.Millisecond,
		SlowTick:       3 * time.Second,
		CoeffPrecision: 2,
		MinCoefficient: 1.0,
		DefaultSpeed:   0.25,
		MinBet:         0.1,
		MaxBet:         1000,
		HistorySize:    30,
		HouseEdge:      0.05,
	}
}

func DefaultMinesSpec() GameSpec {
	return GameSpec{
		Code:           GameCodeMines,
		CoeffPrecision: 2,
		MinBet:         0.1,
		MaxBet:         1000,
		HouseEdge:      0.05,
		MinesGridSize:  25,
		MinesCountMin:  2,
		MinesCountMax:  24,
	}
}
