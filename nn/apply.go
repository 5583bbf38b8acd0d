package nn

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"stacknn/core/prng"
)

// call runs one layer's Forward after the checks every forward pass shares.
// Errors from Forward are returned unmodified.
func call(l Layer, inputs []any, params, state *Tree, key prng.Key) ([]any, *Tree, error) {
	if l == nil {
		return nil, nil, &ArityError{Layer: "<nil>", Reason: "nil layer"}
	}
	b := l.layer()
	if b.err != nil {
		return nil, nil, b.err
	}
	if len(inputs) != b.nIn {
		return nil, nil, &ArityError{Layer: b.label(), Want: b.nIn, Got: len(inputs)}
	}
	if b.weighted {
		if params.Empty() {
			return nil, nil, &UninitializedLayerError{Layer: b.label()}
		}
		if b.initialized {
			for i, in := range inputs {
				sd, err := SignatureOf(in)
				if err == nil && i < len(b.inputSig) && !b.inputSig[i].Compatible(sd) {
					return nil, nil, &ShapeMismatchError{Layer: b.label(), Index: i, Want: b.inputSig[i], Got: sd}
				}
			}
		}
	}

	outs, newState, err := l.Forward(inputs, params, state, key)
	if err != nil {
		return nil, nil, err
	}
	if len(outs) != b.nOut {
		return nil, nil, &ArityError{Layer: b.label(), Want: b.nOut, Got: len(outs),
			Reason: fmt.Sprintf("returned %d outputs but declares %d", len(outs), b.nOut)}
	}
	if newState == nil {
		newState = state
	}
	return outs, newState, nil
}

// Apply runs l on inputs with the params and state it currently holds.
func Apply(l Layer, inputs ...any) ([]any, error) {
	return ApplyWithKey(l, prng.Key{}, inputs...)
}

// ApplyWithKey is Apply with an explicit randomness key. The new state the
// forward pass produces is dropped; use ApplyWithState to keep it.
func ApplyWithKey(l Layer, key prng.Key, inputs ...any) ([]any, error) {
	outs, _, err := ApplyWithState(l, key, inputs...)
	return outs, err
}

// ApplyWithState runs l like ApplyWithKey and also returns the new state.
// The layer keeps its old state until the caller installs the returned tree
// with SetState.
func ApplyWithState(l Layer, key prng.Key, inputs ...any) ([]any, *Tree, error) {
	if l == nil {
		return nil, nil, &ArityError{Layer: "<nil>", Reason: "nil layer"}
	}
	b := l.layer()
	return call(l, inputs, b.params, b.state, key)
}

// ApplyAll evaluates independent batches concurrently. Every batch gets its
// own stack and a key forked from key; params are only read. The first
// failing batch cancels the rest.
func ApplyAll(ctx context.Context, l Layer, batches [][]any, key prng.Key) ([][]any, error) {
	if err := Validate(l); err != nil {
		return nil, err
	}
	b := l.layer()
	keys := prng.SplitN(key, len(batches))
	results := make([][]any, len(batches))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, batch := range batches {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			outs, _, err := call(l, batch, b.params, b.state, keys[i])
			if err != nil {
				return fmt.Errorf("batch %d: %w", i, err)
			}
			results[i] = outs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
