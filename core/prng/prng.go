// Package prng provides a splittable, deterministic pseudo-random key.
//
// A Key is a value: splitting it never mutates it, and every draw is a pure
// function of the key, so identical keys always produce identical tensors.
package prng

import (
	"math"
	"math/rand/v2"

	"stacknn/tensor"
)

// Key seeds one deterministic random stream.
type Key [2]uint64

const golden = 0x9e3779b97f4a7c15

// New derives a key from an integer seed.
func New(seed int64) Key {
	s := uint64(seed)
	return Key{mix(s), mix(s ^ golden)}
}

// Split forks k into two independent keys.
func Split(k Key) (Key, Key) {
	ks := SplitN(k, 2)
	return ks[0], ks[1]
}

// SplitN forks k into n independent keys. The i-th key depends only on k and i.
func SplitN(k Key, n int) []Key {
	out := make([]Key, n)
	for i := range out {
		out[i] = Fold(k, i)
	}
	return out
}

// Fold returns the i-th key SplitN would produce, without the others.
func Fold(k Key, i int) Key {
	c := uint64(i) + 1
	return Key{mix(k[0] ^ mix(c)), mix(k[1] + c*golden)}
}

// mix is the splitmix64 finaliser.
func mix(z uint64) uint64 {
	z += golden
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Rand returns a generator positioned at the start of k's stream.
func (k Key) Rand() *rand.Rand {
	return rand.New(rand.NewPCG(k[0], k[1]))
}

// Uniform fills a tensor of the given shape with values in [lo, hi).
func Uniform(k Key, lo, hi float64, shape ...int) *tensor.Tensor {
	r := k.Rand()
	t := tensor.New(shape...)
	for i := range t.Data {
		t.Data[i] = lo + (hi-lo)*r.Float64()
	}
	return t
}

// Normal fills a tensor with N(0, stddev²) samples.
func Normal(k Key, stddev float64, shape ...int) *tensor.Tensor {
	r := k.Rand()
	t := tensor.New(shape...)
	for i := range t.Data {
		t.Data[i] = stddev * r.NormFloat64()
	}
	return t
}

// Bernoulli fills a tensor with 1 where a draw falls below p, else 0.
func Bernoulli(k Key, p float64, shape ...int) *tensor.Tensor {
	r := k.Rand()
	t := tensor.New(shape...)
	for i := range t.Data {
		if r.Float64() < p {
			t.Data[i] = 1
		}
	}
	return t
}

// GlorotUniform draws a [fanIn, fanOut] weight matrix from the Glorot uniform
// distribution.
func GlorotUniform(k Key, fanIn, fanOut int) *tensor.Tensor {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	return Uniform(k, -limit, limit, fanIn, fanOut)
}

// Fill draws a value described by sd from N(0, 1).
func Fill(k Key, sd tensor.ShapeDtype) *tensor.Tensor {
	return Normal(k, 1, sd.Shape...)
}
