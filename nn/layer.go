package nn

import (
	"fmt"
	"strings"

	"stacknn/core/prng"
	"stacknn/tensor"
)

// Layer is a fixed-arity function from NIn stack values to NOut stack values.
//
// Concrete layers embed Base, which carries arity, sublayers and the params and
// state installed by Init, and implement Forward. Layers with weights also
// override NewParamsAndState.
type Layer interface {
	// Forward consumes exactly NIn inputs and returns exactly NOut outputs plus
	// the new state. It must not modify params or state in place.
	Forward(inputs []any, params, state *Tree, key prng.Key) ([]any, *Tree, error)
	// NewParamsAndState derives initial params and state for inputs described
	// by sigs. It is a pure function of the key.
	NewParamsAndState(sigs []tensor.ShapeDtype, key prng.Key) (params, state *Tree, err error)
	String() string

	layer() *Base
}

// SignatureLayer is implemented by layers that can state their output
// signature without running Forward on placeholder data.
type SignatureLayer interface {
	OutputSignature(inputs []tensor.ShapeDtype) ([]tensor.ShapeDtype, error)
}

// Base is embedded by every layer.
type Base struct {
	name      string
	nIn, nOut int
	sublayers []Layer
	weighted  bool
	err       error

	initialized bool
	inputSig    []tensor.ShapeDtype
	params      *Tree
	state       *Tree

	// composites holding this layer, so replaced trees reach every position
	parents []*Base
}

// Option customises a Base.
type Option func(*Base)

// WithWeights marks a layer as requiring params before it can run forward.
func WithWeights() Option {
	return func(b *Base) { b.weighted = true }
}

// WithSublayers records the children of a composite layer.
func WithSublayers(ls ...Layer) Option {
	return func(b *Base) { b.sublayers = ls }
}

// WithError records a construction problem; it is reported by Validate, Init
// and every forward call.
func WithError(err error) Option {
	return func(b *Base) {
		if b.err == nil {
			b.err = err
		}
	}
}

// NewBase returns a Base for a layer named name taking nIn and producing nOut
// values.
func NewBase(name string, nIn, nOut int, opts ...Option) Base {
	b := Base{name: name, nIn: nIn, nOut: nOut}
	if nIn < 0 || nOut < 0 {
		b.err = &ArityError{Layer: name, Reason: fmt.Sprintf("negative arity (%d, %d)", nIn, nOut)}
	}
	for _, o := range opts {
		o(&b)
	}
	return b
}

func (b *Base) layer() *Base { return b }

func (b *Base) Name() string       { return b.name }
func (b *Base) NIn() int           { return b.nIn }
func (b *Base) NOut() int          { return b.nOut }
func (b *Base) Sublayers() []Layer { return b.sublayers }
func (b *Base) HasWeights() bool   { return b.weighted }
func (b *Base) Initialized() bool  { return b.initialized }
func (b *Base) Params() *Tree      { return b.params }
func (b *Base) State() *Tree       { return b.state }
func (b *Base) Err() error         { return b.err }

// InputSignature returns the signature the layer was initialized for.
func (b *Base) InputSignature() []tensor.ShapeDtype { return b.inputSig }

// SetParams replaces the params installed by Init, e.g. after an optimizer
// step. Every composite holding the layer sees p at each position where the
// layer occurs. On a composite, the children of p are handed down to the
// sublayers; a layer shared at several positions ends up with the child of
// its last position.
func (b *Base) SetParams(p *Tree) {
	b.params = p
	for i, sub := range b.sublayers {
		if c := p.Child(i); c != nil {
			sub.layer().SetParams(c)
		}
	}
	b.relinkParents()
}

// SetState replaces the layer's state, with the same propagation as
// SetParams.
func (b *Base) SetState(s *Tree) {
	b.state = s
	for i, sub := range b.sublayers {
		if c := s.Child(i); c != nil {
			sub.layer().SetState(c)
		}
	}
	b.relinkParents()
}

// adopt records b as the parent of its sublayers.
func (b *Base) adopt() {
	for _, l := range b.sublayers {
		sub := l.layer()
		sub.parents = append(sub.parents, b)
	}
}

// relinkParents points the slots of every parent tree that belong to b at
// b's current trees. Parent trees are patched in place, so grandparents and
// callers holding them observe the change too.
func (b *Base) relinkParents() {
	for _, parent := range b.parents {
		for i, l := range parent.sublayers {
			if l.layer() != b {
				continue
			}
			if parent.params != nil && i < len(parent.params.Children) {
				parent.params.Children[i] = b.params
			}
			if parent.state != nil && i < len(parent.state.Children) {
				parent.state.Children[i] = b.state
			}
		}
	}
}

// NewParamsAndState is the default for layers without weights.
func (b *Base) NewParamsAndState([]tensor.ShapeDtype, prng.Key) (*Tree, *Tree, error) {
	return &Tree{}, &Tree{}, nil
}

// String is the abbreviated form used for debugging: name with arity
// suffixes, and sublayers listed one per line.
func (b *Base) String() string {
	var sb strings.Builder
	b.format(&sb, "")
	return sb.String()
}

func (b *Base) label() string {
	s := b.name
	if b.nIn != 1 {
		s += fmt.Sprintf("_in%d", b.nIn)
	}
	if b.nOut != 1 {
		s += fmt.Sprintf("_out%d", b.nOut)
	}
	return s
}

func (b *Base) format(sb *strings.Builder, indent string) {
	sb.WriteString(b.label())
	if len(b.sublayers) == 0 {
		return
	}
	sb.WriteString("[\n")
	for _, l := range b.sublayers {
		sb.WriteString(indent + "  ")
		l.layer().format(sb, indent+"  ")
		sb.WriteString("\n")
	}
	sb.WriteString(indent + "]")
}

// Info exposes the Base of any layer.
func Info(l Layer) *Base { return l.layer() }

// Rename changes the name a layer reports, e.g. for a combinator assembled
// into a named block.
func Rename(l Layer, name string) { l.layer().name = name }

// Validate walks the tree and returns the first construction error.
func Validate(l Layer) error {
	if l == nil {
		return &ArityError{Layer: "<nil>", Reason: "nil layer"}
	}
	b := l.layer()
	if b.err != nil {
		return b.err
	}
	for i, sub := range b.sublayers {
		if err := Validate(sub); err != nil {
			return fmt.Errorf("%s[%d]: %w", b.name, i, err)
		}
	}
	return nil
}
