package nn

import (
	"stacknn/core/prng"
)

// fnLayer wraps a pure function as a layer without weights.
type fnLayer struct {
	Base
	f func(inputs []any) ([]any, error)
}

// Fn defines a layer from f, which receives exactly nIn values and must
// return exactly nOut.
func Fn(name string, nIn, nOut int, f func(inputs []any) ([]any, error)) Layer {
	l := &fnLayer{f: f}
	l.Base = NewBase(name, nIn, nOut)
	return l
}

func (l *fnLayer) Forward(inputs []any, _, state *Tree, _ prng.Key) ([]any, *Tree, error) {
	out, err := l.f(inputs)
	if err != nil {
		return nil, nil, err
	}
	return out, state, nil
}

// LevelConsumer is implemented by layers that spend multiplicative levels of
// an encrypted input.
type LevelConsumer interface {
	Levels() int
}

// Levels sums the levels consumed along the whole tree. A layer shared at
// several positions is counted at each of them, since each use spends levels.
func Levels(l Layer) int {
	sum := 0
	if lc, ok := l.(LevelConsumer); ok {
		sum += lc.Levels()
	}
	for _, sub := range l.layer().sublayers {
		sum += Levels(sub)
	}
	return sum
}

// Encrypted reports whether any layer in the tree operates on ciphertexts.
func Encrypted(l Layer) bool {
	if e, ok := l.(interface{ Encrypted() bool }); ok && e.Encrypted() {
		return true
	}
	for _, sub := range l.layer().sublayers {
		if Encrypted(sub) {
			return true
		}
	}
	return false
}
