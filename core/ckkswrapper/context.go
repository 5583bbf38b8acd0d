// Package ckkswrapper bundles the CKKS parameters, keys and evaluator used by
// the encrypted layers.
package ckkswrapper

import (
	"fmt"
	"sync"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/he/hefloat"
)

// DefaultLogN is the ring degree used by NewHeContext.
const DefaultLogN = 14

// Literal returns the parameter literal for ring degree 2^logN: a 45-bit base
// prime, three 34-bit rescaling primes and one 43-bit special prime.
func Literal(logN int) hefloat.ParametersLiteral {
	return hefloat.ParametersLiteral{
		LogN:            logN,
		Q:               []uint64{0x200000008001, 0x400018001, 0x3fffd0001, 0x400060001},
		P:               []uint64{0x7fffffd8001},
		LogDefaultScale: 34,
	}
}

// HeContext holds everything needed to encrypt, evaluate and decrypt. The
// lattigo encryptor and evaluator keep scratch buffers, so every operation
// takes mu.
type HeContext struct {
	Params    hefloat.Parameters
	Encoder   *hefloat.Encoder
	Encryptor *rlwe.Encryptor
	Decryptor *rlwe.Decryptor
	Evaluator *hefloat.Evaluator

	mu sync.Mutex
}

// NewHeContext builds a context with DefaultLogN.
func NewHeContext() (*HeContext, error) {
	return NewHeContextWithLogN(DefaultLogN)
}

// NewHeContextWithLogN builds a context with fresh keys for ring degree 2^logN.
func NewHeContextWithLogN(logN int) (*HeContext, error) {
	params, err := hefloat.NewParametersFromLiteral(Literal(logN))
	if err != nil {
		return nil, fmt.Errorf("ckks parameters: %w", err)
	}
	kgen := hefloat.NewKeyGenerator(params)
	sk, pk := kgen.GenKeyPairNew()
	rlk := kgen.GenRelinearizationKeyNew(sk)
	evk := rlwe.NewMemEvaluationKeySet(rlk)

	return &HeContext{
		Params:    params,
		Encoder:   hefloat.NewEncoder(params),
		Encryptor: hefloat.NewEncryptor(params, pk),
		Decryptor: hefloat.NewDecryptor(params, sk),
		Evaluator: hefloat.NewEvaluator(params, evk),
	}, nil
}

// Slots is the number of values one ciphertext carries.
func (h *HeContext) Slots() int { return h.Params.MaxSlots() }

// EncryptFloats encodes vals at the top level and encrypts them.
func (h *HeContext) EncryptFloats(vals []float64) (*rlwe.Ciphertext, error) {
	if len(vals) > h.Slots() {
		return nil, fmt.Errorf("%d values exceed %d slots", len(vals), h.Slots())
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	pt := hefloat.NewPlaintext(h.Params, h.Params.MaxLevel())
	if err := h.Encoder.Encode(vals, pt); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	ct, err := h.Encryptor.EncryptNew(pt)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}
	return ct, nil
}

// DecryptFloats decrypts ct and returns the real parts of its first n slots.
func (h *HeContext) DecryptFloats(ct *rlwe.Ciphertext, n int) ([]float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.decryptLocked(ct, n)
}

func (h *HeContext) decryptLocked(ct *rlwe.Ciphertext, n int) ([]float64, error) {
	if n > h.Slots() {
		return nil, fmt.Errorf("%d values exceed %d slots", n, h.Slots())
	}
	pt := h.Decryptor.DecryptNew(ct)
	decoded := make([]complex128, h.Slots())
	if err := h.Encoder.Decode(pt, decoded); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = real(decoded[i])
	}
	return out, nil
}

// Add returns a+b.
func (h *HeContext) Add(a, b *rlwe.Ciphertext) (*rlwe.Ciphertext, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Evaluator.AddNew(a, b)
}

// MulConst returns c*a, rescaled. It consumes one level.
func (h *HeContext) MulConst(a *rlwe.Ciphertext, c float64) (*rlwe.Ciphertext, error) {
	if a.Level() == 0 {
		return nil, fmt.Errorf("ciphertext has no level left")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	out, err := h.Evaluator.MulNew(a, c)
	if err != nil {
		return nil, err
	}
	if err := h.Evaluator.Rescale(out, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Mul returns a*b, relinearized and rescaled. It consumes one level.
func (h *HeContext) Mul(a, b *rlwe.Ciphertext) (*rlwe.Ciphertext, error) {
	if min(a.Level(), b.Level()) == 0 {
		return nil, fmt.Errorf("ciphertext has no level left")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	out, err := h.Evaluator.MulRelinNew(a, b)
	if err != nil {
		return nil, err
	}
	if err := h.Evaluator.Rescale(out, out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddConst adds c to every slot of a.
func (h *HeContext) AddConst(a *rlwe.Ciphertext, c float64) (*rlwe.Ciphertext, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Evaluator.AddNew(a, c)
}
