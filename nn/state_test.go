package nn

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"stacknn/core/prng"
	"stacknn/tensor"
)

// tally passes its input through and counts forward calls in its state.
type tally struct {
	Base
}

func newTally() *tally {
	t := &tally{}
	t.Base = NewBase("Tally", 1, 1)
	return t
}

func (t *tally) NewParamsAndState([]tensor.ShapeDtype, prng.Key) (*Tree, *Tree, error) {
	return &Tree{}, Leaf(tensor.New(1)), nil
}

func (t *tally) Forward(inputs []any, _, state *Tree, _ prng.Key) ([]any, *Tree, error) {
	n := state.Leaf(0).Data[0]
	return inputs, Leaf(vec(n + 1)), nil
}

// forgetful returns no new state.
type forgetful struct {
	Base
}

func newForgetful() *forgetful {
	f := &forgetful{}
	f.Base = NewBase("Forgetful", 1, 1)
	return f
}

func (f *forgetful) Forward(inputs []any, _, _ *Tree, _ prng.Key) ([]any, *Tree, error) {
	return inputs, nil, nil
}

func TestForwardStateUpdates(t *testing.T) {
	cases := []struct {
		name   string
		build  func(f, c Layer) Layer
		inputs []any
	}{
		{"serial", func(f, c Layer) Layer { return NewSerial(f, c) }, []any{vec(1, 2)}},
		{"parallel", func(f, c Layer) Layer { return NewParallel(f, c) }, []any{vec(1, 2), vec(3, 4)}},
	}
	for _, tc := range cases {
		f, c := newForgetful(), newTally()
		model := tc.build(f, c)
		sigs := make([]tensor.ShapeDtype, len(tc.inputs))
		for i := range sigs {
			sigs[i] = tensor.Sig(2)
		}
		params, _, err := Init(model, sigs, prng.New(0))
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}

		_, ns, err := ApplyWithState(model, prng.New(1), tc.inputs...)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if diff := cmp.Diff([]float64{1}, ns.Child(1).Leaf(0).Data); diff != "" {
			t.Errorf("%s: counter slot (-want +got):\n%s", tc.name, diff)
		}
		if ns.Child(0) != f.State() {
			t.Errorf("%s: a layer returning no state must keep its old one", tc.name)
		}
		if c.State().Leaf(0).Data[0] != 0 {
			t.Errorf("%s: forward must not install the new state", tc.name)
		}
		if Info(model).Params() != params {
			t.Errorf("%s: params changed by a forward pass", tc.name)
		}

		Info(model).SetState(ns)
		if c.State() != ns.Child(1) {
			t.Fatalf("%s: SetState on the composite must reach the sublayer", tc.name)
		}
		_, ns, err = ApplyWithState(model, prng.New(1), tc.inputs...)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got := ns.Child(1).Leaf(0).Data[0]; got != 2 {
			t.Errorf("%s: second pass counted %v, want 2", tc.name, got)
		}
	}
}

func TestSetParamsReachesEveryPosition(t *testing.T) {
	c := newCounting()
	model := NewSerial(mulConst(1), NewSerial(c, c))
	params, _, err := Init(model, []tensor.ShapeDtype{tensor.Sig(2)}, prng.New(4))
	if err != nil {
		t.Fatal(err)
	}

	c.SetParams(Leaf(vec(10, 10)))
	out, err := Apply(c, vec(0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{10, 10}, data(t, out[0])); diff != "" {
		t.Fatalf("layer itself (-want +got):\n%s", diff)
	}
	out, err = Apply(model, vec(0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{20, 20}, data(t, out[0])); diff != "" {
		t.Fatalf("enclosing model must use the new params at both positions (-want +got):\n%s", diff)
	}
	if params.Child(1).Child(0) != c.Params() || params.Child(1).Child(1) != c.Params() {
		t.Fatalf("trees returned by Init must follow the replacement")
	}
}

func TestSetParamsOnCompositeReachesSublayers(t *testing.T) {
	a, b := newCounting(), newCounting()
	pair := NewSerial(a, b)
	if _, _, err := Init(pair, []tensor.ShapeDtype{tensor.Sig(2)}, prng.New(5)); err != nil {
		t.Fatal(err)
	}
	pair.SetParams(&Tree{Children: []*Tree{Leaf(vec(1, 2)), Leaf(vec(3, 4))}})

	out, err := Apply(a, vec(0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{1, 2}, data(t, out[0])); diff != "" {
		t.Fatalf("sublayer (-want +got):\n%s", diff)
	}
	out, err = Apply(pair, vec(0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{4, 6}, data(t, out[0])); diff != "" {
		t.Fatalf("composite (-want +got):\n%s", diff)
	}
}
