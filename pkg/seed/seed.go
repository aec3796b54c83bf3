// Package seed produces the integer seeds sent to the remote generation workflow.
package seed

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// MaxSeed is the largest seed accepted by the remote validation layer (2^31 - 1).
const MaxSeed int64 = 2147483647

var upperBound = big.NewInt(MaxSeed + 1)

// Random returns a uniformly distributed seed in [0, MaxSeed] drawn from crypto/rand.
func Random() (int64, error) {
	n, err := rand.Int(rand.Reader, upperBound)
	if err != nil {
		return 0, fmt.Errorf("failed to read random seed: %w", err)
	}

	return n.Int64(), nil
}

// Clamp forces v into [0, MaxSeed].
func Clamp(v int64) int64 {
	if v < 0 {
		return 0
	}

	if v > MaxSeed {
		return MaxSeed
	}

	return v
}
