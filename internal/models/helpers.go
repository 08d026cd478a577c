package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewRoundID returns a time-derived, monotonic round identifier.
func NewRoundID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

func NewGameInstanceID() string {
	return uuid.New().String()
}

func NewPlayerGameID() string {
	return fmt.Sprintf("pg_%s", uuid.New().String())
}

func NewTxID() string {
	return fmt.Sprintf("tx_%s_%d", time.Now().Format("20060102"), uuid.New().ID())
}

// GenerateClientSeed returns 128 bits of hex-encoded entropy.
func GenerateClientSeed() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate client seed: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// RoundCoeff rounds a coefficient to the game's decimal precision.
// Auto-cashout comparisons round both sides through this to avoid
// floating-point false negatives.
func RoundCoeff(v float64, precision int) float64 {
	p := math.Pow(10, float64(precision))
	return math.Round(v*p) / p
}

// FloorCoeff truncates toward zero at the given precision. Mines
// multipliers are floored, never rounded up.
func FloorCoeff(v float64, precision int) float64 {
	p := math.Pow(10, float64(precision))
	return math.Floor(v*p) / p
}
