package split

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"stacknn/core/ckkswrapper"
	"stacknn/core/prng"
	"stacknn/nn"
	"stacknn/nn/layers"
	"stacknn/nn/models"
	"stacknn/tensor"
)

func newModel(t *testing.T) *nn.Serial {
	t.Helper()
	m := models.MLP([]int{6, 5}, 3, 0, layers.ModeEval)
	if _, _, err := nn.Init(m, []tensor.ShapeDtype{tensor.Sig(2, 4)}, prng.New(11)); err != nil {
		t.Fatal(err)
	}
	return m
}

func full(t *testing.T, m nn.Layer, x *tensor.Tensor) *tensor.Tensor {
	t.Helper()
	out, err := nn.Apply(m, x)
	if err != nil {
		t.Fatal(err)
	}
	return out[0].(*tensor.Tensor)
}

func TestCutMatchesWholeModel(t *testing.T) {
	m := newModel(t)
	client, server, err := Cut(m, 2)
	if err != nil {
		t.Fatal(err)
	}
	if client.Name() != "MLP/client" || len(client.Sublayers()) != 2 || len(server.Sublayers()) != 3 {
		t.Fatalf("unexpected halves %s / %s", client, server)
	}
	if client.Sublayers()[0] != m.Sublayers()[0] {
		t.Errorf("halves must share the original layer instances")
	}

	x := prng.Normal(prng.New(1), 1, 2, 4)
	mid, err := nn.Apply(client, x)
	if err != nil {
		t.Fatal(err)
	}
	out, err := nn.Apply(server, mid...)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(full(t, m, x).Data, out[0].(*tensor.Tensor).Data); diff != "" {
		t.Errorf("split result differs (-whole +split):\n%s", diff)
	}
}

func TestCutBounds(t *testing.T) {
	m := newModel(t)
	for _, at := range []int{0, -1, len(m.Sublayers())} {
		if _, _, err := Cut(m, at); err == nil {
			t.Errorf("Cut at %d: expected error", at)
		}
	}
	if _, _, _, err := Partition(m, 2, 2); err == nil {
		t.Errorf("empty server part must be rejected")
	}
	head, server, tail, err := Partition(m, 1, len(m.Sublayers()))
	if err != nil {
		t.Fatal(err)
	}
	if tail != nil || len(head.Sublayers()) != 1 || len(server.Sublayers()) != 4 {
		t.Errorf("unexpected partition %v %v %v", head, server, tail)
	}
}

// session runs a server for model on one end of a pipe and returns a
// client on the other end together with a wait function for Serve's result.
func session(t *testing.T, ctx context.Context, server, head, tail nn.Layer) (*Client, func() error) {
	t.Helper()
	srvConn, cliConn := net.Pipe()
	t.Cleanup(func() { cliConn.Close() })

	var wg sync.WaitGroup
	var serveErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer srvConn.Close()
		serveErr = NewServer(server, srvConn, logr.Discard()).Serve(ctx)
	}()
	return NewClient(head, tail, cliConn), func() error {
		wg.Wait()
		return serveErr
	}
}

func TestSplitOverPipe(t *testing.T) {
	m := newModel(t)
	head, server, err := Cut(m, 2)
	if err != nil {
		t.Fatal(err)
	}
	client, wait := session(t, context.Background(), server, head, nil)

	for seed := int64(0); seed < 3; seed++ {
		x := prng.Normal(prng.New(seed), 1, 2, 4)
		out, err := client.Forward(context.Background(), x)
		if err != nil {
			t.Fatalf("batch %d: %v", seed, err)
		}
		if diff := cmp.Diff(full(t, m, x).Data, out[0].(*tensor.Tensor).Data); diff != "" {
			t.Errorf("batch %d differs (-whole +split):\n%s", seed, diff)
		}
	}
	if err := client.Close(); err != nil {
		t.Fatal(err)
	}
	if err := wait(); err != nil {
		t.Fatalf("Serve: %v", err)
	}
}

func TestServerReportsForwardErrors(t *testing.T) {
	m := newModel(t)
	// The server half starts at Dense_5 and expects 6 features; a head that
	// passes inputs through lets the client send the wrong width.
	_, server, err := Cut(m, 2)
	if err != nil {
		t.Fatal(err)
	}
	client, wait := session(t, context.Background(), server, nn.NoOp(), nil)

	_, err = client.Forward(context.Background(), tensor.New(2, 9))
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %v", err)
	}

	// The session survives the failed batch.
	if _, err := client.Forward(context.Background(), tensor.New(2, 6)); err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatal(err)
	}
	if err := wait(); err != nil {
		t.Fatalf("Serve: %v", err)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	_, wait := session(t, ctx, newModel(t), nn.NoOp(), nil)
	cancel()

	done := make(chan error, 1)
	go func() { done <- wait() }()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Serve did not stop after cancel")
	}
}

func TestSplitHEOverPipe(t *testing.T) {
	heCtx, err := ckkswrapper.NewHeContextWithLogN(13)
	if err != nil {
		t.Fatal(err)
	}
	m, err := models.SplitHE(4, 2, heCtx)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := nn.Init(m, []tensor.ShapeDtype{tensor.Sig(3, 5)}, prng.New(2)); err != nil {
		t.Fatal(err)
	}
	head, server, tail, err := Partition(m, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !nn.Encrypted(server) || nn.Levels(server) != 2 {
		t.Fatalf("server part: Encrypted %v, Levels %d", nn.Encrypted(server), nn.Levels(server))
	}

	client, wait := session(t, context.Background(), server, head, tail)
	x := prng.Normal(prng.New(5), 0.5, 3, 5)
	out, err := client.Forward(context.Background(), x)
	if err != nil {
		t.Fatal(err)
	}
	want := full(t, m, x)
	if diff := cmp.Diff(want.Data, out[0].(*tensor.Tensor).Data, cmpopts.EquateApprox(0, 1e-3)); diff != "" {
		t.Errorf("encrypted split differs (-whole +split):\n%s", diff)
	}
	if err := client.Close(); err != nil {
		t.Fatal(err)
	}
	if err := wait(); err != nil {
		t.Fatalf("Serve: %v", err)
	}
}

// chain applies parts in turn, feeding each the previous outputs.
func chain(t *testing.T, inputs []any, parts ...*nn.Serial) []float64 {
	t.Helper()
	vals := inputs
	for _, p := range parts {
		var err error
		if vals, err = nn.Apply(p, vals...); err != nil {
			t.Fatalf("%s: %v", p.Name(), err)
		}
	}
	var flat []float64
	for _, v := range vals {
		flat = append(flat, v.(*tensor.Tensor).Data...)
	}
	return flat
}

func TestCutPassesOuterInputsThroughClient(t *testing.T) {
	// Add reads a second value the client half never touches.
	m := nn.NewSerial(layers.MulConstant(2), layers.Add())
	client, server, err := Cut(m, 1)
	if err != nil {
		t.Fatal(err)
	}
	if client.NIn() != 2 || client.NOut() != 2 || server.NIn() != 2 {
		t.Fatalf("arity client (%d, %d), server %d", client.NIn(), client.NOut(), server.NIn())
	}
	inputs := []any{tensor.NewWithData([]float64{1}), tensor.NewWithData([]float64{5})}
	whole := chain(t, inputs, m)
	if diff := cmp.Diff([]float64{7}, whole); diff != "" {
		t.Fatalf("whole model (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(whole, chain(t, inputs, client, server)); diff != "" {
		t.Errorf("halves differ (-whole +split):\n%s", diff)
	}

	c, wait := session(t, context.Background(), server, client, nil)
	out, err := c.Forward(context.Background(), inputs...)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{7}, out[0].(*tensor.Tensor).Data); diff != "" {
		t.Errorf("over the pipe (-want +got):\n%s", diff)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := wait(); err != nil {
		t.Fatalf("Serve: %v", err)
	}
}

func TestCutPassesLeftoverValuesThroughServer(t *testing.T) {
	// Relu consumes one of the two copies; the other stays below it.
	m := nn.NewSerial(nn.Dup(), layers.Relu())
	client, server, err := Cut(m, 1)
	if err != nil {
		t.Fatal(err)
	}
	if server.NIn() != 2 || server.NOut() != 2 {
		t.Fatalf("server arity (%d, %d), want (2, 2)", server.NIn(), server.NOut())
	}
	inputs := []any{tensor.NewWithData([]float64{-1, 2})}
	whole := chain(t, inputs, m)
	if diff := cmp.Diff([]float64{0, 2, -1, 2}, whole); diff != "" {
		t.Fatalf("whole model (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(whole, chain(t, inputs, client, server)); diff != "" {
		t.Errorf("halves differ (-whole +split):\n%s", diff)
	}
}

func TestPartitionThreadsValuesThroughEveryPart(t *testing.T) {
	// x -> (x, x) -> (3x, x) -> 4x -> 8x
	m := nn.NewSerial(nn.Dup(), layers.MulConstant(3), layers.Add(), layers.MulConstant(2))
	head, server, tail, err := Partition(m, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if server.NIn() != 2 || tail.NIn() != 2 {
		t.Fatalf("server in %d, tail in %d", server.NIn(), tail.NIn())
	}
	inputs := []any{tensor.NewWithData([]float64{1, -2})}
	if diff := cmp.Diff([]float64{8, -16}, chain(t, inputs, head, server, tail)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestClientForwardStopsOnCancel(t *testing.T) {
	srvConn, cliConn := net.Pipe()
	defer srvConn.Close()
	// A server that reads requests and never answers.
	go func() { _, _ = io.Copy(io.Discard, srvConn) }()

	client := NewClient(nn.NoOp(), nil, cliConn)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := client.Forward(ctx, tensor.NewWithData([]float64{1}))
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("Forward returned %v, want context.DeadlineExceeded", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Forward did not return after the deadline")
	}
}
