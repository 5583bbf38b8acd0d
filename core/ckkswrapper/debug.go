package ckkswrapper

import (
	"math"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
)

// Divergence decrypts ct and compares it with the plaintext shadow it is
// expected to hold. It returns the largest absolute difference and its index.
func (h *HeContext) Divergence(ct *rlwe.Ciphertext, shadow []float64) (maxDiff float64, at int, err error) {
	got, err := h.DecryptFloats(ct, len(shadow))
	if err != nil {
		return 0, -1, err
	}
	at = -1
	for i, want := range shadow {
		if d := math.Abs(got[i] - want); d > maxDiff {
			maxDiff, at = d, i
		}
	}
	return maxDiff, at, nil
}
