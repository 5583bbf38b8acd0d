package layers

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"stacknn/core/prng"
	"stacknn/nn"
	"stacknn/tensor"
)

var approx = cmpopts.EquateApprox(0, 1e-3)

func mustRows(t *testing.T, rows [][]float64) *tensor.Tensor {
	t.Helper()
	x, err := tensor.FromRows(rows)
	if err != nil {
		t.Fatal(err)
	}
	return x
}

func apply1(t *testing.T, l nn.Layer, inputs ...any) *tensor.Tensor {
	t.Helper()
	out, err := nn.Apply(l, inputs...)
	if err != nil {
		t.Fatalf("%s: %v", nn.Info(l).Name(), err)
	}
	if len(out) != 1 {
		t.Fatalf("%s: expected one output, got %d", nn.Info(l).Name(), len(out))
	}
	y, ok := out[0].(*tensor.Tensor)
	if !ok {
		t.Fatalf("%s: expected *tensor.Tensor, got %T", nn.Info(l).Name(), out[0])
	}
	return y
}

func TestReluThenLayerNorm(t *testing.T) {
	x := mustRows(t, [][]float64{
		{-7, -6, -5, -4, -3},
		{-2, -1, 0, 1, 2},
		{3, 4, 5, 6, 7},
	})
	model := nn.NewSerial(Relu(), NewLayerNorm())
	if _, _, err := nn.Init(model, []tensor.ShapeDtype{x.ShapeDtype()}, prng.New(0)); err != nil {
		t.Fatal(err)
	}
	y := apply1(t, model, x)
	want := []float64{
		0, 0, 0, 0, 0,
		-0.75, -0.75, -0.75, 0.5, 1.75,
		-1.414, -0.707, 0, 0.707, 1.414,
	}
	if diff := cmp.Diff(want, y.Data, approx); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{3, 5}, y.Shape); diff != "" {
		t.Fatalf("shape (-want +got):\n%s", diff)
	}
}

func TestParallelMulConstantAdd(t *testing.T) {
	model := nn.NewSerial(
		nn.NewParallel(MulConstant(64), MulConstant(8), MulConstant(1)),
		Add(),
		Add(),
	)
	y := apply1(t, model,
		tensor.NewWithData([]float64{1, 3, 5, 7}),
		tensor.NewWithData([]float64{2, 4, 6, 0}),
		tensor.NewWithData([]float64{3, 5, 7, 1}),
	)
	if diff := cmp.Diff([]float64{83, 229, 375, 449}, y.Data); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestElementwise(t *testing.T) {
	x := tensor.NewWithData([]float64{-1, 0, 2})
	cases := []struct {
		layer nn.Layer
		want  []float64
	}{
		{Relu(), []float64{0, 0, 2}},
		{Sigmoid(), []float64{1 / (1 + math.E), 0.5, 1 / (1 + math.Exp(-2))}},
		{Tanh(), []float64{math.Tanh(-1), 0, math.Tanh(2)}},
		{MulConstant(-3), []float64{3, 0, -6}},
	}
	for _, tc := range cases {
		got := apply1(t, tc.layer, x)
		if diff := cmp.Diff(tc.want, got.Data, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
			t.Errorf("%s (-want +got):\n%s", nn.Info(tc.layer).Name(), diff)
		}
	}
}

func TestSoftmaxRows(t *testing.T) {
	x := mustRows(t, [][]float64{{1, 2, 3}, {1000, 1000, 1000}})
	p := apply1(t, Softmax(), x)
	for r := 0; r < 2; r++ {
		sum := 0.0
		for c := 0; c < 3; c++ {
			sum += p.At(r, c)
		}
		if math.Abs(sum-1) > 1e-12 {
			t.Errorf("row %d sums to %v", r, sum)
		}
	}
	if math.Abs(p.At(1, 0)-1.0/3) > 1e-12 {
		t.Errorf("large logits must stay finite, got %v", p.At(1, 0))
	}
	lp := apply1(t, LogSoftmax(), x)
	for i := range lp.Data {
		if math.Abs(math.Exp(lp.Data[i])-p.Data[i]) > 1e-12 {
			t.Fatalf("exp(LogSoftmax) != Softmax at %d", i)
		}
	}
}

func TestPolynomialActivation(t *testing.T) {
	a, err := NewActivation("ReLU3", nil)
	if err != nil {
		t.Fatal(err)
	}
	y := apply1(t, a, tensor.NewWithData([]float64{0, 1, -2}))
	c := SupportedPolynomials["ReLU3"].Coeffs
	want := []float64{c[0], c[0] + c[1] + c[2], c[0] - 2*c[1] + 4*c[2]}
	if diff := cmp.Diff(want, y.Data, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if a.Levels() != 0 || a.Encrypted() {
		t.Errorf("plaintext activation reports levels %d, encrypted %v", a.Levels(), a.Encrypted())
	}
	if _, err := NewActivation("nope", nil); err == nil {
		t.Fatalf("expected error for unknown polynomial")
	}
}

func TestDense(t *testing.T) {
	d := NewDense(4)
	params, _, err := nn.Init(d, []tensor.ShapeDtype{tensor.Sig(2, 3)}, prng.New(7))
	if err != nil {
		t.Fatal(err)
	}
	w, b := params.Leaf(0), params.Leaf(1)
	if diff := cmp.Diff([]int{3, 4}, w.Shape); diff != "" {
		t.Fatalf("W shape (-want +got):\n%s", diff)
	}
	limit := math.Sqrt(6.0 / 7)
	for _, v := range w.Data {
		if math.Abs(v) > limit {
			t.Fatalf("weight %v outside Glorot limit %v", v, limit)
		}
	}
	// Bias stddev is 1e-6: small but not zero.
	for _, v := range b.Data {
		if v == 0 || math.Abs(v) > 1e-5 {
			t.Fatalf("bias %v not on the 1e-6 scale", v)
		}
	}

	x := mustRows(t, [][]float64{{1, 0, 0}, {0, 2, -1}})
	y := apply1(t, d, x)
	if diff := cmp.Diff([]int{2, 4}, y.Shape); diff != "" {
		t.Fatalf("output shape (-want +got):\n%s", diff)
	}
	for c := 0; c < 4; c++ {
		want0 := w.At(0, c) + b.Data[c]
		want1 := 2*w.At(1, c) - w.At(2, c) + b.Data[c]
		if math.Abs(y.At(0, c)-want0) > 1e-12 || math.Abs(y.At(1, c)-want1) > 1e-12 {
			t.Fatalf("column %d: got (%v, %v), want (%v, %v)", c, y.At(0, c), y.At(1, c), want0, want1)
		}
	}

	// Leading axes beyond the batch are kept.
	d3 := NewDense(4)
	if _, _, err := nn.Init(d3, []tensor.ShapeDtype{tensor.Sig(1, 2, 3)}, prng.New(7)); err != nil {
		t.Fatal(err)
	}
	y3 := apply1(t, d3, tensor.New(5, 2, 3))
	if diff := cmp.Diff([]int{5, 2, 4}, y3.Shape); diff != "" {
		t.Fatalf("rank-3 output shape (-want +got):\n%s", diff)
	}
}

func TestDenseInvalidUnits(t *testing.T) {
	if err := nn.Validate(NewDense(0)); err == nil {
		t.Fatalf("expected construction error for zero units")
	}
}

func TestDropout(t *testing.T) {
	x := tensor.New(1000)
	for i := range x.Data {
		x.Data[i] = 1
	}
	eval := NewDropout(0.5, ModeEval)
	if y := apply1(t, eval, x); y != x {
		t.Fatalf("eval mode must pass the input through")
	}

	train := NewDropout(0.5, ModeTrain)
	out, err := nn.ApplyWithKey(train, prng.New(1), x)
	if err != nil {
		t.Fatal(err)
	}
	y := out[0].(*tensor.Tensor)
	zeros := 0
	for _, v := range y.Data {
		switch v {
		case 0:
			zeros++
		case 2:
		default:
			t.Fatalf("unexpected value %v", v)
		}
	}
	if zeros < 400 || zeros > 600 {
		t.Fatalf("dropped %d of 1000 at rate 0.5", zeros)
	}
	again, _ := nn.ApplyWithKey(train, prng.New(1), x)
	if diff := cmp.Diff(y.Data, again[0].(*tensor.Tensor).Data); diff != "" {
		t.Fatalf("same key must give the same mask")
	}

	if err := nn.Validate(NewDropout(1, ModeTrain)); err == nil {
		t.Fatalf("expected error for rate 1")
	}
	if _, err := ParseMode("test"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestArithmetic(t *testing.T) {
	a := tensor.NewWithData([]float64{5, 6})
	b := tensor.NewWithData([]float64{1, 2})
	if got := apply1(t, SubtractTop(), a, b); !cmp.Equal([]float64{-4, -4}, got.Data) {
		t.Errorf("SubtractTop = %v", got.Data)
	}
	if got := apply1(t, Multiply(), a, b); !cmp.Equal([]float64{5, 12}, got.Data) {
		t.Errorf("Multiply = %v", got.Data)
	}
	if got := apply1(t, Concatenate(3), a, b, a); !cmp.Equal([]float64{5, 6, 1, 2, 5, 6}, got.Data) {
		t.Errorf("Concatenate = %v", got.Data)
	}
	m := mustRows(t, [][]float64{{1, 2}, {3, 4}})
	if got := apply1(t, Mean(-1), m); !cmp.Equal([]float64{1.5, 3.5}, got.Data) {
		t.Errorf("Mean(-1) = %v", got.Data)
	}
	if got := apply1(t, Mean(0), m); !cmp.Equal([]float64{2, 3}, got.Data) {
		t.Errorf("Mean(0) = %v", got.Data)
	}
	if _, err := nn.Apply(Add(), a, tensor.New(3)); err == nil {
		t.Errorf("expected shape error from Add")
	}
}

func TestFlatten(t *testing.T) {
	x := tensor.New(2, 3, 4)
	for i := range x.Data {
		x.Data[i] = float64(i)
	}
	y := apply1(t, NewFlatten(1), x)
	if diff := cmp.Diff([]int{2, 12}, y.Shape); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(x.Data, y.Data); diff != "" {
		t.Fatalf("flatten changed data")
	}
	if y0 := apply1(t, NewFlatten(0), x); len(y0.Shape) != 1 || y0.Shape[0] != 24 {
		t.Fatalf("Flatten(0) shape %v", y0.Shape)
	}
	if _, err := nn.Apply(NewFlatten(4), x); err == nil {
		t.Fatalf("expected error keeping more axes than present")
	}
}

func TestCrossEntropyLoss(t *testing.T) {
	logits := mustRows(t, [][]float64{{0, 0}, {math.Log(3), 0}})
	targets := mustRows(t, [][]float64{{1, 0}, {1, 0}})
	loss := apply1(t, NewCrossEntropyLoss(), logits, targets)
	want := (math.Log(2) + math.Log(4.0/3)) / 2
	if loss.Rank() != 0 || math.Abs(loss.Data[0]-want) > 1e-12 {
		t.Fatalf("loss %v (shape %v), want %v", loss.Data, loss.Shape, want)
	}
	sig, err := nn.OutputSignature(NewCrossEntropyLoss(), tensor.Sig(2, 2), tensor.Sig(2, 2))
	if err != nil || len(sig) != 1 || len(sig[0].Shape) != 0 {
		t.Fatalf("signature %v, %v", sig, err)
	}
}

func TestResidual(t *testing.T) {
	res := Residual(NewDense(3), Tanh())
	x := mustRows(t, [][]float64{{1, -1, 0.5}, {0, 2, -3}})
	sig := []tensor.ShapeDtype{x.ShapeDtype()}
	if _, _, err := nn.Init(res, sig, prng.New(5)); err != nil {
		t.Fatal(err)
	}
	if nn.Info(res).Name() != "Residual" || nn.Info(res).NIn() != 1 || nn.Info(res).NOut() != 1 {
		t.Fatalf("unexpected residual %s", res)
	}

	// Share the residual branch's Dense with f so both compute the same F.
	inner := nn.Info(nn.Info(nn.Info(res).Sublayers()[0]).Sublayers()[1]).Sublayers()[1]
	dense := nn.Info(inner).Sublayers()[0]
	f := nn.NewSerial(dense, Tanh())
	fx := apply1(t, f, x)
	want, _ := tensor.Add(x, fx)
	got := apply1(t, res, x)
	if diff := cmp.Diff(want.Data, got.Data, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Fatalf("Residual(F)(x) != x + F(x) (-want +got):\n%s", diff)
	}
}
