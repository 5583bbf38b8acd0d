package nn

import (
	"fmt"

	"stacknn/core/prng"
	"stacknn/tensor"
)

// Serial composes layers by threading a data stack through them: each
// sublayer pops its inputs from the top, and pushes its outputs back.
type Serial struct {
	Base
}

// NewSerial builds a Serial from layers, skipping nil entries.
func NewSerial(layers ...Layer) *Serial {
	subs := make([]Layer, 0, len(layers))
	for _, l := range layers {
		if l != nil {
			subs = append(subs, l)
		}
	}
	nIn, nOut := serialArity(subs)
	s := &Serial{}
	s.Base = NewBase("Serial", nIn, nOut, WithSublayers(subs...))
	s.adopt()
	return s
}

// serialArity simulates the stack symbolically. Every sublayer that finds
// fewer values than it consumes draws the difference from outside the chain,
// so the simulated depth never goes negative.
func serialArity(ls []Layer) (nIn, nOut int) {
	need, depth := 0, 0
	for _, l := range ls {
		b := l.layer()
		if depth < b.nIn {
			need += b.nIn - depth
			depth = b.nIn
		}
		depth += b.nOut - b.nIn
	}
	return need, depth
}

func (s *Serial) Forward(inputs []any, params, state *Tree, key prng.Key) ([]any, *Tree, error) {
	stack := NewStack(inputs...)
	keys := prng.SplitN(key, len(s.sublayers))
	newState := &Tree{Children: make([]*Tree, len(s.sublayers))}
	for i, l := range s.sublayers {
		sb := l.layer()
		args, err := stack.Pop(sb.nIn)
		if err != nil {
			return nil, nil, &StackUnderflowError{Layer: sb.label(), Want: sb.nIn, Have: stack.Len()}
		}
		p, st := childTrees(params, state, i, l)
		outs, ns, err := call(l, args, p, st, keys[i])
		if err != nil {
			return nil, nil, err
		}
		stack.Push(outs...)
		newState.Children[i] = ns
	}
	return stack.Values(), newState, nil
}

func (s *Serial) initSublayers(ini *initializer, sigs []tensor.ShapeDtype, key prng.Key) (*Tree, *Tree, []tensor.ShapeDtype, error) {
	stack := NewStack(sigs...)
	keys := prng.SplitN(key, len(s.sublayers))
	params := &Tree{Children: make([]*Tree, len(s.sublayers))}
	state := &Tree{Children: make([]*Tree, len(s.sublayers))}
	for i, l := range s.sublayers {
		sb := l.layer()
		args, err := stack.Pop(sb.nIn)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("%s[%d]: %w", s.name, i,
				&StackUnderflowError{Layer: sb.label(), Want: sb.nIn, Have: stack.Len()})
		}
		p, st, out, err := ini.init(l, args, keys[i])
		if err != nil {
			return nil, nil, nil, fmt.Errorf("%s[%d]: %w", s.name, i, err)
		}
		params.Children[i], state.Children[i] = p, st
		stack.Push(out...)
	}
	return params, state, stack.Values(), nil
}

func (s *Serial) propagate(ini *initializer, sigs []tensor.ShapeDtype) ([]tensor.ShapeDtype, error) {
	stack := NewStack(sigs...)
	for i, l := range s.sublayers {
		sb := l.layer()
		args, err := stack.Pop(sb.nIn)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", s.name, i,
				&StackUnderflowError{Layer: sb.label(), Want: sb.nIn, Have: stack.Len()})
		}
		out, err := ini.signature(l, args)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", s.name, i, err)
		}
		stack.Push(out...)
	}
	return stack.Values(), nil
}

// Parallel applies its sublayers to consecutive spans of its inputs and
// concatenates their outputs in sublayer order.
type Parallel struct {
	Base
}

// NewParallel builds a Parallel; nil entries pass one value through unchanged.
func NewParallel(layers ...Layer) *Parallel {
	subs := make([]Layer, len(layers))
	nIn, nOut := 0, 0
	for i, l := range layers {
		if l == nil {
			l = NoOp()
		}
		subs[i] = l
		nIn += l.layer().nIn
		nOut += l.layer().nOut
	}
	p := &Parallel{}
	p.Base = NewBase("Parallel", nIn, nOut, WithSublayers(subs...))
	p.adopt()
	return p
}

func (p *Parallel) Forward(inputs []any, params, state *Tree, key prng.Key) ([]any, *Tree, error) {
	keys := prng.SplitN(key, len(p.sublayers))
	newState := &Tree{Children: make([]*Tree, len(p.sublayers))}
	outs := make([]any, 0, p.nOut)
	off := 0
	for i, l := range p.sublayers {
		n := l.layer().nIn
		if off+n > len(inputs) {
			return nil, nil, &StackUnderflowError{Layer: l.layer().label(), Want: n, Have: len(inputs) - off}
		}
		ps, st := childTrees(params, state, i, l)
		o, ns, err := call(l, inputs[off:off+n], ps, st, keys[i])
		if err != nil {
			return nil, nil, err
		}
		off += n
		outs = append(outs, o...)
		newState.Children[i] = ns
	}
	return outs, newState, nil
}

func (p *Parallel) initSublayers(ini *initializer, sigs []tensor.ShapeDtype, key prng.Key) (*Tree, *Tree, []tensor.ShapeDtype, error) {
	keys := prng.SplitN(key, len(p.sublayers))
	params := &Tree{Children: make([]*Tree, len(p.sublayers))}
	state := &Tree{Children: make([]*Tree, len(p.sublayers))}
	out := make([]tensor.ShapeDtype, 0, p.nOut)
	off := 0
	for i, l := range p.sublayers {
		n := l.layer().nIn
		ps, st, o, err := ini.init(l, sigs[off:off+n], keys[i])
		if err != nil {
			return nil, nil, nil, fmt.Errorf("%s[%d]: %w", p.name, i, err)
		}
		off += n
		params.Children[i], state.Children[i] = ps, st
		out = append(out, o...)
	}
	return params, state, out, nil
}

func (p *Parallel) propagate(ini *initializer, sigs []tensor.ShapeDtype) ([]tensor.ShapeDtype, error) {
	out := make([]tensor.ShapeDtype, 0, p.nOut)
	off := 0
	for i, l := range p.sublayers {
		n := l.layer().nIn
		o, err := ini.signature(l, sigs[off:off+n])
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", p.name, i, err)
		}
		off += n
		out = append(out, o...)
	}
	return out, nil
}

// childTrees picks the i-th slot of the composite's trees, falling back to
// what the sublayer itself holds when the composite was never initialized.
func childTrees(params, state *Tree, i int, l Layer) (*Tree, *Tree) {
	p, s := params.Child(i), state.Child(i)
	if p == nil {
		p = l.layer().params
	}
	if s == nil {
		s = l.layer().state
	}
	return p, s
}

// NewBranch feeds copies of the inputs to each layer and returns all their
// outputs. Each layer reads the top values it needs; the stack below them is
// shared, not partitioned. A single layer is returned as is.
func NewBranch(layers ...Layer) Layer {
	if len(layers) == 1 && layers[0] != nil {
		return layers[0]
	}
	par := NewParallel(layers...)
	var indices []int
	maxIn := 0
	for _, l := range par.sublayers {
		n := l.layer().nIn
		for j := 0; j < n; j++ {
			indices = append(indices, j)
		}
		maxIn = max(maxIn, n)
	}
	s := NewSerial(Select(indices, maxIn), par)
	s.name = "Branch"
	return s
}
