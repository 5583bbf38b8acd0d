package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// Dtype names the element kind a value carries.
type Dtype string

const (
	Float64 Dtype = "float64"
	// CKKS marks CKKS-encrypted vectors; see nn/layers.Ciphertext.
	CKKS Dtype = "ckks"
)

// ShapeDtype describes a value abstractly by its shape and dtype, without data.
type ShapeDtype struct {
	Shape []int `json:"shape" yaml:"shape"`
	Dtype Dtype `json:"dtype" yaml:"dtype"`
}

// Sig is shorthand for a float64 ShapeDtype.
func Sig(shape ...int) ShapeDtype {
	return ShapeDtype{Shape: append([]int(nil), shape...), Dtype: Float64}
}

func (s ShapeDtype) String() string {
	return fmt.Sprintf("ShapeDtype{shape:%v, dtype:%s}", s.Shape, s.Dtype)
}

// Size is the number of elements the shape holds.
func (s ShapeDtype) Size() int { return sizeOf(s.Shape) }

// Equal reports exact equality of shape and dtype.
func (s ShapeDtype) Equal(o ShapeDtype) bool {
	return s.Dtype == o.Dtype && equalInts(s.Shape, o.Shape)
}

// Compatible reports whether a value described by o can be fed where s was
// expected: same dtype and rank, same trailing axes. The leading (batch) axis
// may differ for rank >= 2.
func (s ShapeDtype) Compatible(o ShapeDtype) bool {
	if s.Dtype != o.Dtype || len(s.Shape) != len(o.Shape) {
		return false
	}
	if len(s.Shape) < 2 {
		return equalInts(s.Shape, o.Shape)
	}
	return equalInts(s.Shape[1:], o.Shape[1:])
}

// RowMeanVariance returns the population mean and variance of each row of t,
// treating the last axis as the row.
func RowMeanVariance(t *Tensor) (means, variances []float64) {
	rows, cols := t.Rows()
	means = make([]float64, rows)
	variances = make([]float64, rows)
	for r := 0; r < rows; r++ {
		means[r], variances[r] = stat.PopMeanVariance(t.Data[r*cols:(r+1)*cols], nil)
	}
	return means, variances
}
