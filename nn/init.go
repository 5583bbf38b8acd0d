package nn

import (
	"fmt"

	"github.com/go-logr/logr"

	"stacknn/core/prng"
	"stacknn/tensor"
)

var log = logr.Discard()

// SetLogger installs the logger used while initializing layers.
func SetLogger(l logr.Logger) { log = l }

// composite is implemented by layers whose params are made of their
// sublayers' params (Serial, Parallel).
type composite interface {
	initSublayers(ini *initializer, sigs []tensor.ShapeDtype, key prng.Key) (params, state *Tree, out []tensor.ShapeDtype, err error)
	propagate(ini *initializer, sigs []tensor.ShapeDtype) ([]tensor.ShapeDtype, error)
}

// initializer carries one Init traversal. seen is keyed by layer identity, so
// a layer reached at several positions is initialized at its first position
// only and handed back unchanged afterwards.
type initializer struct {
	seen  map[*Base]bool
	fresh int
}

func newInitializer() *initializer {
	return &initializer{seen: make(map[*Base]bool)}
}

// Init initializes l and every layer below it for inputs described by sigs,
// storing params and state on each layer and returning the root's trees.
//
// Each layer instance is initialized at most once: calling Init again, or
// reaching a shared instance a second time, returns the trees it already holds.
// Sublayers receive keys forked from key, so the result depends only on key.
func Init(l Layer, sigs []tensor.ShapeDtype, key prng.Key) (params, state *Tree, err error) {
	ini := newInitializer()
	params, state, _, err = ini.init(l, sigs, key)
	if err != nil {
		return nil, nil, err
	}
	log.V(1).Info("model initialized", "layer", l.layer().label(), "fresh", ini.fresh, "weights", params.Size())
	return params, state, nil
}

// OutputSignature reports what l produces for inputs described by sigs.
// Layers with weights must be initialized first.
func OutputSignature(l Layer, sigs ...tensor.ShapeDtype) ([]tensor.ShapeDtype, error) {
	if err := Validate(l); err != nil {
		return nil, err
	}
	b := l.layer()
	if len(sigs) != b.nIn {
		return nil, &ArityError{Layer: b.label(), Want: b.nIn, Got: len(sigs)}
	}
	return newInitializer().signature(l, sigs)
}

func (ini *initializer) init(l Layer, sigs []tensor.ShapeDtype, key prng.Key) (*Tree, *Tree, []tensor.ShapeDtype, error) {
	if l == nil {
		return nil, nil, nil, &ArityError{Layer: "<nil>", Reason: "nil layer"}
	}
	b := l.layer()
	if b.err != nil {
		return nil, nil, nil, b.err
	}
	if len(sigs) != b.nIn {
		return nil, nil, nil, &ArityError{Layer: b.label(), Want: b.nIn, Got: len(sigs)}
	}

	if b.initialized {
		if err := checkSignature(b, sigs); err != nil {
			return nil, nil, nil, err
		}
		if ini.seen[b] {
			log.V(2).Info("reusing shared layer", "layer", b.label())
		}
		out, err := ini.signature(l, sigs)
		if err != nil {
			return nil, nil, nil, err
		}
		return b.params, b.state, out, nil
	}

	var (
		params, state *Tree
		out           []tensor.ShapeDtype
		err           error
	)
	if c, ok := l.(composite); ok {
		params, state, out, err = c.initSublayers(ini, sigs, key)
	} else {
		params, state, err = l.NewParamsAndState(sigs, key)
		if err == nil {
			out, err = leafSignature(l, sigs, params, state)
		}
	}
	if err != nil {
		return nil, nil, nil, err
	}
	if len(out) != b.nOut {
		return nil, nil, nil, &ArityError{Layer: b.label(), Want: b.nOut, Got: len(out),
			Reason: fmt.Sprintf("produces %d outputs but declares %d", len(out), b.nOut)}
	}
	if params == nil {
		params = &Tree{}
	}
	if state == nil {
		state = &Tree{}
	}

	b.params, b.state = params, state
	b.inputSig = append([]tensor.ShapeDtype(nil), sigs...)
	b.initialized = true
	ini.seen[b] = true
	ini.fresh++
	log.V(1).Info("initialized layer", "layer", b.label(), "inputs", sigs)
	return params, state, out, nil
}

func (ini *initializer) signature(l Layer, sigs []tensor.ShapeDtype) ([]tensor.ShapeDtype, error) {
	if c, ok := l.(composite); ok {
		return c.propagate(ini, sigs)
	}
	b := l.layer()
	return leafSignature(l, sigs, b.params, b.state)
}

// leafSignature asks the layer for its outputs, falling back to a forward pass
// over zero tensors.
func leafSignature(l Layer, sigs []tensor.ShapeDtype, params, state *Tree) ([]tensor.ShapeDtype, error) {
	if s, ok := l.(SignatureLayer); ok {
		return s.OutputSignature(sigs)
	}
	b := l.layer()
	inputs := make([]any, len(sigs))
	for i, sd := range sigs {
		if sd.Dtype != tensor.Float64 {
			return nil, fmt.Errorf("%s: cannot infer outputs for %s input; implement OutputSignature", b.label(), sd.Dtype)
		}
		inputs[i] = tensor.Zeros(sd)
	}
	outs, _, err := call(l, inputs, params, state, prng.Key{})
	if err != nil {
		return nil, err
	}
	return SignaturesOf(outs)
}

func checkSignature(b *Base, sigs []tensor.ShapeDtype) error {
	for i, sd := range sigs {
		if i < len(b.inputSig) && !b.inputSig[i].Compatible(sd) {
			return &ShapeMismatchError{Layer: b.label(), Index: i, Want: b.inputSig[i], Got: sd}
		}
	}
	return nil
}

// SignatureOf describes a stack value.
func SignatureOf(v any) (tensor.ShapeDtype, error) {
	if s, ok := v.(interface{ ShapeDtype() tensor.ShapeDtype }); ok {
		return s.ShapeDtype(), nil
	}
	return tensor.ShapeDtype{}, fmt.Errorf("value of type %T has no shape", v)
}

// SignaturesOf describes every value in vs.
func SignaturesOf(vs []any) ([]tensor.ShapeDtype, error) {
	out := make([]tensor.ShapeDtype, len(vs))
	for i, v := range vs {
		sd, err := SignatureOf(v)
		if err != nil {
			return nil, err
		}
		out[i] = sd
	}
	return out, nil
}
