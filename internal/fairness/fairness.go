// Package fairness implements the provably-fair primitives: seed
// generation, the pre-round SHA-256 commitment, the combined hash
// revealed after the round, and the deterministic shuffle used for
// grid layouts. Everything here is a pure function over seed material.
package fairness

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const serverSeedBytes = 32

// NewServerSeed returns 32 bytes of cryptographically secure entropy,
// hex-encoded.
func NewServerSeed() (string, error) {
	bytes := make([]byte, serverSeedBytes)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate server seed: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// Hash is the SHA-256 commitment published before the round starts.
func Hash(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

// CombinedHash binds the server seed to every contributed client seed.
func CombinedHash(serverSeed string, clientSeeds []string) string {
	sum := sha256.Sum256([]byte(serverSeed + ":" + strings.Join(clientSeeds, ":")))
	return hex.EncodeToString(sum[:])
}

// DecimalOf maps a hex digest into [0,1): the first 16 hex characters
// interpreted as a 64-bit integer, scaled by 16^16.
func DecimalOf(digest string) (float64, error) {
	if len(digest) < 16 {
		return 0, fmt.Errorf("digest too short: %d characters", len(digest))
	}
	n, err := strconv.ParseUint(digest[:16], 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid digest prefix: %w", err)
	}
	return float64(n) / math.Pow(16, 16), nil
}

// DeterministicShuffle returns a permutation of 1..n derived from
// HMAC-SHA256(serverSeed, "clientSeed:nonce"). Two bytes of the digest
// feed each Fisher-Yates swap, wrapping when exhausted.
func DeterministicShuffle(serverSeed, clientSeed string, nonce int64, n int) []int {
	mac := hmac.New(sha256.New, []byte(serverSeed))
	fmt.Fprintf(mac, "%s:%d", clientSeed, nonce)
	stream := mac.Sum(nil)

	perm := make([]int, n)
	for i := range perm {
		perm[i] = i + 1
	}

	cursor := 0
	next := func() uint16 {
		hi := stream[cursor%len(stream)]
		lo := stream[(cursor+1)%len(stream)]
		cursor += 2
		return uint16(hi)<<8 | uint16(lo)
	}

	for i := n - 1; i > 0; i-- {
		j := int(next()) % (i + 1)
		perm[i], perm[j] = perm[j], perm[i]
	}

	return perm
}
