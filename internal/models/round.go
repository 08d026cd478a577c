package models

import "time"

type ClientSeed struct {
	UserID   string `json:"user_id"`
	Seed     string `json:"seed"`
	Nickname string `json:"nickname,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// Round is the authoritative state of one crash round. The shared store
// owns it; in-process copies are caches that must be reloaded before
// every mutation.
type Round struct {
	RoundID        string      `json:"round_id"`
	GameCode       GameCode    `json:"game_code"`
	GameInstanceID string      `json:"game_instance_id"`
	Status         RoundStatus `json:"status"`

	CurrentCoefficient float64 `json:"current_coefficient"`
	// CrashCoefficient is fixed at round creation and withheld from
	// clients until the round is FINISHED.
	CrashCoefficient float64 `json:"crash_coefficient"`
	// Speed is the growth-curve slope fixed at creation, so every pod
	// recomputes the same curve.
	Speed float64 `json:"speed"`

	StartedAt time.Time `json:"started_at"`
	// WaitUntil is when the WAIT phase is scheduled to end.
	WaitUntil time.Time `json:"wait_until"`
	IsRunning bool      `json:"is_running"`

	// Version increments on every save; a store version ahead of the
	// in-memory one means a concurrent writer got there first.
	Version int64 `json:"version"`

	ServerSeed      string       `json:"server_seed"`
	ServerSeedHash  string       `json:"server_seed_hash"`
	ClientSeeds     []ClientSeed `json:"client_seeds"`
	CombinedHash    string       `json:"combined_hash"`
	FairnessDecimal float64      `json:"fairness_decimal"`

	Bets map[string]*Bet `json:"bets"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasClientSeed reports whether the user already contributed a seed to
// this round.
func (r *Round) HasClientSeed(userID string) bool {
	for _, cs := range r.ClientSeeds {
		if cs.UserID == userID {
			return true
		}
	}
	return false
}

// BetBySlot returns the user's non-refunded bet in the given slot, if any.
func (r *Round) BetBySlot(userID string, slot int) *Bet {
	for _, b := range r.Bets {
		if b.UserID == userID && b.BetSlot == slot {
			return b
		}
	}
	return nil
}

// PublicState is the client-facing projection of a round. The crash
// coefficient appears only once the round is FINISHED.
type PublicState struct {
	Status             RoundStatus     `json:"status"`
	RoundID            string          `json:"round_id"`
	GameInstanceID     string          `json:"game_instance_id"`
	CurrentCoefficient float64         `json:"current_coefficient"`
	CrashCoefficient   float64         `json:"crash_coefficient,omitempty"`
	WaitTimeMs         int64           `json:"wait_time_ms,omitempty"`
	ServerSeedHash     string          `json:"server_seed_hash"`
	Bets               map[string]*Bet `json:"bets"`
	PreviousBets       map[string]*Bet `json:"previous_bets,omitempty"`
}

// PublicState derives the client projection from the authoritative round.
func (r *Round) PublicState(waitTimeMs int64) *PublicState {
	st := &PublicState{
		Status:             r.Status,
		RoundID:            r.RoundID,
		GameInstanceID:     r.GameInstanceID,
		CurrentCoefficient: r.CurrentCoefficient,
		ServerSeedHash:     r.ServerSeedHash,
		Bets:               r.Bets,
	}
	if r.Status == RoundStatusFinished {
		st.CrashCoefficient = r.CrashCoefficient
	}
	if r.Status == RoundStatusWait {
		st.WaitTimeMs = waitTimeMs
	}
	return st
}

// FairnessRecord is the public disclosure appended to history once a
// round finishes.
type FairnessRecord struct {
	RoundID          string       `json:"round_id"`
	CrashCoefficient float64      `json:"crash_coefficient"`
	ServerSeed       string       `json:"server_seed"`
	ServerSeedHash   string       `json:"server_seed_hash"`
	ClientSeeds      []ClientSeed `json:"client_seeds"`
	CombinedHash     string       `json:"combined_hash"`
	FairnessDecimal  float64      `json:"fairness_decimal"`
	FinishedAt       time.Time    `json:"finished_at"`
}
