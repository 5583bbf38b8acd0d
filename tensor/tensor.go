package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Tensor is a simple n-D array backed by a flat []float64 in row-major order.
type Tensor struct {
	Data  []float64
	Shape []int
}

// New allocates a zero Tensor of given shape (product of dims = len(Data)).
func New(shape ...int) *Tensor {
	return &Tensor{
		Data:  make([]float64, sizeOf(shape)),
		Shape: append([]int(nil), shape...),
	}
}

// NewWithData creates a 1-D tensor from existing data slice.
func NewWithData(data []float64) *Tensor {
	return &Tensor{
		Data:  append([]float64(nil), data...),
		Shape: []int{len(data)},
	}
}

// FromSlice copies data into a tensor of the given shape.
func FromSlice(data []float64, shape ...int) (*Tensor, error) {
	if len(data) != sizeOf(shape) {
		return nil, fmt.Errorf("data length %d does not match shape %v", len(data), shape)
	}
	return &Tensor{
		Data:  append([]float64(nil), data...),
		Shape: append([]int(nil), shape...),
	}, nil
}

// FromRows builds a 2-D tensor from equally sized rows.
func FromRows(rows [][]float64) (*Tensor, error) {
	if len(rows) == 0 {
		return New(0, 0), nil
	}
	cols := len(rows[0])
	out := New(len(rows), cols)
	for i, r := range rows {
		if len(r) != cols {
			return nil, fmt.Errorf("row %d has %d columns, want %d", i, len(r), cols)
		}
		copy(out.Data[i*cols:], r)
	}
	return out, nil
}

// Zeros allocates a zero tensor described by sd.
func Zeros(sd ShapeDtype) *Tensor {
	return New(sd.Shape...)
}

func sizeOf(shape []int) int {
	total := 1
	for _, d := range shape {
		total *= d
	}
	return total
}

// Size returns the number of elements.
func (t *Tensor) Size() int { return len(t.Data) }

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.Shape) }

// Clone returns a deep copy of t.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		Data:  append([]float64(nil), t.Data...),
		Shape: append([]int(nil), t.Shape...),
	}
}

// ShapeDtype describes t abstractly.
func (t *Tensor) ShapeDtype() ShapeDtype {
	return ShapeDtype{Shape: append([]int(nil), t.Shape...), Dtype: Float64}
}

// Reshape returns a view of t with a new shape of equal size.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	if sizeOf(shape) != len(t.Data) {
		return nil, fmt.Errorf("cannot reshape %v into %v", t.Shape, shape)
	}
	return &Tensor{Data: t.Data, Shape: append([]int(nil), shape...)}, nil
}

// Rows views t as a matrix: all leading axes collapse into rows, the last axis
// is the column axis. A scalar is a 1x1 matrix.
func (t *Tensor) Rows() (rows, cols int) {
	if len(t.Shape) == 0 {
		return 1, 1
	}
	cols = t.Shape[len(t.Shape)-1]
	if cols == 0 {
		return 0, 0
	}
	return len(t.Data) / cols, cols
}

// SameShape reports whether a and b have identical shapes.
func SameShape(a, b *Tensor) bool {
	return equalInts(a.Shape, b.Shape)
}

func checkSameShape(op string, a, b *Tensor) error {
	if !SameShape(a, b) {
		return fmt.Errorf("%s: shape mismatch: %v vs %v", op, a.Shape, b.Shape)
	}
	return nil
}

// Add returns a+b (same shape), or error if shapes differ.
func Add(a, b *Tensor) (*Tensor, error) {
	if err := checkSameShape("Add", a, b); err != nil {
		return nil, err
	}
	out := New(a.Shape...)
	floats.AddTo(out.Data, a.Data, b.Data)
	return out, nil
}

// Sub returns a-b (same shape).
func Sub(a, b *Tensor) (*Tensor, error) {
	if err := checkSameShape("Sub", a, b); err != nil {
		return nil, err
	}
	out := New(a.Shape...)
	floats.SubTo(out.Data, a.Data, b.Data)
	return out, nil
}

// Mul returns the elementwise product a*b (same shape).
func Mul(a, b *Tensor) (*Tensor, error) {
	if err := checkSameShape("Mul", a, b); err != nil {
		return nil, err
	}
	out := New(a.Shape...)
	floats.MulTo(out.Data, a.Data, b.Data)
	return out, nil
}

// Scale returns c*a.
func Scale(c float64, a *Tensor) *Tensor {
	out := New(a.Shape...)
	floats.ScaleTo(out.Data, c, a.Data)
	return out
}

// Map applies fn to each element of a, returns new Tensor.
func Map(a *Tensor, fn func(float64) float64) *Tensor {
	out := New(a.Shape...)
	for i, v := range a.Data {
		out.Data[i] = fn(v)
	}
	return out
}

// MatMul returns a×b (2-D only), or error if dims mismatch.
func MatMul(a, b *Tensor) (*Tensor, error) {
	if len(a.Shape) != 2 || len(b.Shape) != 2 {
		return nil, fmt.Errorf("MatMul requires 2-D tensors, got %v and %v", a.Shape, b.Shape)
	}
	r, k := a.Shape[0], a.Shape[1]
	k2, c := b.Shape[0], b.Shape[1]
	if k != k2 {
		return nil, fmt.Errorf("inner dimensions must match: %d vs %d", k, k2)
	}
	out := New(r, c)
	if r == 0 || c == 0 || k == 0 {
		return out, nil
	}
	am := mat.NewDense(r, k, a.Data)
	bm := mat.NewDense(k, c, b.Data)
	om := mat.NewDense(r, c, out.Data)
	om.Mul(am, bm)
	return out, nil
}

// ReluPlain applies ReLU to each element in a, returns new Tensor.
func ReluPlain(a *Tensor) *Tensor {
	return Map(a, func(v float64) float64 {
		if v > 0 {
			return v
		}
		return 0
	})
}

// Concatenate joins tensors along their last axis. All leading axes must agree.
func Concatenate(ts ...*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("Concatenate: no tensors")
	}
	if len(ts[0].Shape) == 0 {
		return nil, fmt.Errorf("Concatenate: scalar tensors have no axis to join")
	}
	lead := ts[0].Shape[:len(ts[0].Shape)-1]
	rows, _ := ts[0].Rows()
	width := 0
	for i, t := range ts {
		if len(t.Shape) == 0 || !equalInts(t.Shape[:len(t.Shape)-1], lead) {
			return nil, fmt.Errorf("Concatenate: tensor %d has shape %v, leading axes %v expected", i, t.Shape, lead)
		}
		width += t.Shape[len(t.Shape)-1]
	}
	out := New(append(append([]int(nil), lead...), width)...)
	for r := 0; r < rows; r++ {
		off := r * width
		for _, t := range ts {
			_, c := t.Rows()
			copy(out.Data[off:off+c], t.Data[r*c:(r+1)*c])
			off += c
		}
	}
	return out, nil
}

// Mean averages t over one axis; negative axes count from the end.
func Mean(t *Tensor, axis int) (*Tensor, error) {
	if axis < 0 {
		axis += len(t.Shape)
	}
	if axis < 0 || axis >= len(t.Shape) {
		return nil, fmt.Errorf("Mean: axis out of range for shape %v", t.Shape)
	}
	outer := sizeOf(t.Shape[:axis])
	n := t.Shape[axis]
	inner := sizeOf(t.Shape[axis+1:])
	shape := append(append([]int(nil), t.Shape[:axis]...), t.Shape[axis+1:]...)
	out := New(shape...)
	if n == 0 {
		return out, nil
	}
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			sum := 0.0
			for k := 0; k < n; k++ {
				sum += t.Data[(o*n+k)*inner+i]
			}
			out.Data[o*inner+i] = sum / float64(n)
		}
	}
	return out, nil
}

// At returns the element at the given indices.
// For a 4D tensor [a, b, c, d], At(i, j, k, l) returns the element at position [i][j][k][l].
func (t *Tensor) At(indices ...int) float64 {
	return t.Data[t.offset("At", indices)]
}

// Set sets the element at the given indices to the given value.
func (t *Tensor) Set(value float64, indices ...int) {
	t.Data[t.offset("Set", indices)] = value
}

func (t *Tensor) offset(op string, indices []int) int {
	if len(indices) != len(t.Shape) {
		panic(fmt.Sprintf("%s: expected %d indices, got %d", op, len(t.Shape), len(indices)))
	}
	idx := 0
	stride := 1
	for i := len(indices) - 1; i >= 0; i-- {
		if indices[i] < 0 || indices[i] >= t.Shape[i] {
			panic(fmt.Sprintf("%s: index %d out of bounds for dimension %d (shape: %v)", op, indices[i], i, t.Shape))
		}
		idx += indices[i] * stride
		stride *= t.Shape[i]
	}
	return idx
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
