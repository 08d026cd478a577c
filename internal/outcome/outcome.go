// Package outcome computes round outcomes: the crash coefficient drawn
// from an operator-configurable weighted-range distribution, the
// coefficient growth curve speed, and mines layouts.
package outcome

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/games-vector/vector-games-v2-sub000/internal/fairness"
	"github.com/games-vector/vector-games-v2-sub000/internal/models"
)

const (
	DistributionUniform = "uniform"
	DistributionPower   = "power"

	// powerExponent shapes the in-range draw toward the low end.
	powerExponent = 0.5

	weightTolerance = 0.01
	maxSpeed        = 10.0

	cfgKeyDistribution = "coefficient_distribution"
	cfgKeySpeed        = "coefficient_speed"
)

type Range struct {
	Name   string  `json:"name"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Weight float64 `json:"weight"`
}

type Distribution struct {
	Type   string  `json:"type"`
	Ranges []Range `json:"ranges"`
}

// Validate checks the weights sum to 1 within tolerance and every
// range is well-formed.
func (d *Distribution) Validate() error {
	if d.Type != DistributionUniform && d.Type != DistributionPower {
		return fmt.Errorf("unknown distribution type %q", d.Type)
	}
	if len(d.Ranges) == 0 {
		return fmt.Errorf("distribution has no ranges")
	}
	var sum float64
	for _, r := range d.Ranges {
		if r.Min < 1 || r.Max < r.Min {
			return fmt.Errorf("range %q has invalid bounds [%v,%v]", r.Name, r.Min, r.Max)
		}
		if r.Weight < 0 {
			return fmt.Errorf("range %q has negative weight", r.Name)
		}
		sum += r.Weight
	}
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("range weights sum to %v, want 1", sum)
	}
	return nil
}

// DefaultDistribution is the compiled-in fallback used when the config
// collaborator has nothing, or something invalid, for the game.
func DefaultDistribution() Distribution {
	return Distribution{
		Type: DistributionPower,
		Ranges: []Range{
			{Name: "bust", Min: 1.0, Max: 1.2, Weight: 0.30},
			{Name: "low", Min: 1.2, Max: 2.0, Weight: 0.40},
			{Name: "mid", Min: 2.0, Max: 5.0, Weight: 0.22},
			{Name: "high", Min: 5.0, Max: 20.0, Weight: 0.07},
			{Name: "moon", Min: 20.0, Max: 100.0, Weight: 0.01},
		},
	}
}

// ConfigSource is the external configuration collaborator. A missing
// key returns ("", nil), never an error for "not configured".
type ConfigSource interface {
	GetConfig(ctx context.Context, gameCode models.GameCode, key string) (string, error)
}

type Generator struct {
	configs ConfigSource
	spec    models.GameSpec
}

func NewGenerator(configs ConfigSource, spec models.GameSpec) *Generator {
	return &Generator{configs: configs, spec: spec}
}

// CrashCoefficient draws the round's hidden crash point. Invalid or
// missing operator config falls back silently to the default
// distribution; the generator never fails on configuration.
func (g *Generator) CrashCoefficient(ctx context.Context) (float64, error) {
	dist := g.distribution(ctx)

	u, err := secureUniform()
	if err != nil {
		return 0, err
	}

	r := selectRange(dist.Ranges, u)

	v, err := secureUniform()
	if err != nil {
		return 0, err
	}
	if dist.Type == DistributionPower {
		v = math.Pow(v, powerExponent)
	}

	coeff := r.Min + v*(r.Max-r.Min)
	if coeff < r.Min {
		coeff = r.Min
	}
	if coeff > r.Max {
		coeff = r.Max
	}

	return models.RoundCoeff(coeff, g.spec.CoeffPrecision), nil
}

// selectRange walks the ranges accumulating weight and picks the first
// whose cumulative weight exceeds u. The last range absorbs any
// tolerance slack.
func selectRange(ranges []Range, u float64) Range {
	var cum float64
	for _, r := range ranges {
		cum += r.Weight
		if u < cum {
			return r
		}
	}
	return ranges[len(ranges)-1]
}

func (g *Generator) distribution(ctx context.Context) Distribution {
	raw, err := g.configs.GetConfig(ctx, g.spec.Code, cfgKeyDistribution)
	if err != nil || raw == "" {
		if err != nil {
			log.Warn().Err(err).Str("game", string(g.spec.Code)).
				Msg("distribution config unavailable, using default")
		}
		return DefaultDistribution()
	}

	var dist Distribution
	if err := json.Unmarshal([]byte(raw), &dist); err != nil {
		log.Warn().Err(err).Str("game", string(g.spec.Code)).
			Msg("distribution config unparsable, using default")
		return DefaultDistribution()
	}
	if err := dist.Validate(); err != nil {
		log.Warn().Err(err).Str("game", string(g.spec.Code)).
			Msg("distribution config invalid, using default")
		return DefaultDistribution()
	}
	return dist
}

// Speed returns the coefficient growth per second for the growth curve
// coeff(t) = min(minCoeff + speed*t, crashCoefficient). Operator config
// outside (0,10] falls back to the spec default.
func (g *Generator) Speed(ctx context.Context) float64 {
	raw, err := g.configs.GetConfig(ctx, g.spec.Code, cfgKeySpeed)
	if err != nil || raw == "" {
		return g.spec.DefaultSpeed
	}
	speed, err := strconv.ParseFloat(raw, 64)
	if err != nil || speed <= 0 || speed > maxSpeed {
		log.Warn().Str("game", string(g.spec.Code)).Str("raw", raw).
			Msg("speed config out of bounds, using default")
		return g.spec.DefaultSpeed
	}
	return speed
}

// MinesLayout derives the mine positions for a session: the first
// minesCount positions of the deterministic shuffle over 1..gridSize,
// sorted ascending.
func MinesLayout(serverSeed, clientSeed string, nonce int64, gridSize, minesCount int) []int {
	perm := fairness.DeterministicShuffle(serverSeed, clientSeed, nonce, gridSize)
	mines := make([]int, minesCount)
	copy(mines, perm[:minesCount])
	sort.Ints(mines)
	return mines
}

// secureUniform draws from [0,1) using crypto/rand.
func secureUniform() (float64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("failed to draw entropy: %w", err)
	}
	n := binary.BigEndian.Uint64(buf[:])
	return float64(n>>11) / float64(1<<53), nil
}
