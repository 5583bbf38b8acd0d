package ckkswrapper

import (
	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/he/hefloat"
)

// CheatBootstrap refreshes a ciphertext's level by decrypting and re-encrypting.
// It needs the secret key, so it only stands in for real bootstrapping where
// the evaluator and key owner are the same party.
//
// The refreshed ciphertext has the maximum level and default scale.
func (h *HeContext) CheatBootstrap(ct *rlwe.Ciphertext) (*rlwe.Ciphertext, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	pt := h.Decryptor.DecryptNew(ct)
	values := make([]complex128, h.Params.MaxSlots())
	if err := h.Encoder.Decode(pt, values); err != nil {
		return nil, err
	}

	newPt := hefloat.NewPlaintext(h.Params, h.Params.MaxLevel())
	if err := h.Encoder.Encode(values, newPt); err != nil {
		return nil, err
	}
	return h.Encryptor.EncryptNew(newPt)
}

// CheatBootstrapInPlace refreshes a ciphertext in place.
func (h *HeContext) CheatBootstrapInPlace(ct *rlwe.Ciphertext) error {
	refreshed, err := h.CheatBootstrap(ct)
	if err != nil {
		return err
	}
	*ct = *refreshed
	return nil
}

// NeedsBootstrap reports whether fewer than need levels remain in ct.
func NeedsBootstrap(ct *rlwe.Ciphertext, need int) bool {
	return ct.Level() < need
}
