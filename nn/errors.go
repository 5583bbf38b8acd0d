package nn

import (
	"errors"
	"fmt"

	"stacknn/tensor"
)

var (
	ErrArity          = errors.New("arity mismatch")
	ErrShapeMismatch  = errors.New("shape mismatch")
	ErrUninitialized  = errors.New("layer not initialized")
	ErrStackUnderflow = errors.New("stack underflow")
)

// ArityError reports a wrong number of values, either at a forward call or in
// a layer's declared arity.
type ArityError struct {
	Layer  string
	Want   int
	Got    int
	Reason string
}

func (e *ArityError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.Layer, e.Reason)
	}
	return fmt.Sprintf("%s: expected %d inputs, got %d", e.Layer, e.Want, e.Got)
}

func (e *ArityError) Is(target error) bool { return target == ErrArity }

// StackUnderflowError is raised when a sublayer is due but the data stack
// holds fewer values than it consumes. It is a kind of ArityError.
type StackUnderflowError struct {
	Layer string
	Want  int
	Have  int
}

func (e *StackUnderflowError) Error() string {
	return fmt.Sprintf("%s: needs %d values but the stack holds %d", e.Layer, e.Want, e.Have)
}

func (e *StackUnderflowError) Is(target error) bool {
	return target == ErrStackUnderflow || target == ErrArity
}

// ShapeMismatchError reports an input incompatible with the signature a layer
// was initialized for.
type ShapeMismatchError struct {
	Layer string
	Index int
	Want  tensor.ShapeDtype
	Got   tensor.ShapeDtype
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("%s: input %d is %v, initialized for %v", e.Layer, e.Index, e.Got, e.Want)
}

func (e *ShapeMismatchError) Is(target error) bool { return target == ErrShapeMismatch }

// UninitializedLayerError reports a forward call on a layer that needs
// params before Init was run on it.
type UninitializedLayerError struct {
	Layer string
}

func (e *UninitializedLayerError) Error() string {
	return fmt.Sprintf("%s: layer has weights but was never initialized", e.Layer)
}

func (e *UninitializedLayerError) Is(target error) bool { return target == ErrUninitialized }
