package split

import (
	"context"
	"fmt"
	"io"

	"stacknn/core/prng"
	"stacknn/nn"
)

// Client evaluates the client parts of a split model and delegates the
// middle to a Server.
type Client struct {
	Head nn.Layer
	Tail nn.Layer // may be nil
	Key  prng.Key

	conn  io.ReadWriter
	proto *Protocol
	batch int
}

// NewClient talks to a server over conn. tail may be nil.
func NewClient(head, tail nn.Layer, conn io.ReadWriter) *Client {
	return &Client{Head: head, Tail: tail, conn: conn, proto: NewProtocol(conn, conn)}
}

// Forward runs one batch through head, server and tail. A server-side
// failure comes back as a *RemoteError and leaves the session usable. When
// ctx is cancelled while the round trip blocks, a conn that is an io.Closer
// is closed and the session is over.
func (c *Client) Forward(ctx context.Context, inputs ...any) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if closer, ok := c.conn.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { _ = closer.Close() })
		defer stop()
	}
	id := c.batch
	c.batch++
	keys := prng.SplitN(prng.Fold(c.Key, id), 2)

	acts, err := nn.ApplyWithKey(c.Head, keys[0], inputs...)
	if err != nil {
		return nil, fmt.Errorf("client head: %w", err)
	}
	if err := c.proto.SendValues(MsgForward, id, acts); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("send batch %d: %w", id, err)
	}
	gotID, outs, err := c.proto.ReceiveValues(MsgOutput)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	if gotID != id {
		return nil, fmt.Errorf("reply for batch %d, expected %d", gotID, id)
	}
	if c.Tail == nil {
		return outs, nil
	}
	outs, err = nn.ApplyWithKey(c.Tail, keys[1], outs...)
	if err != nil {
		return nil, fmt.Errorf("client tail: %w", err)
	}
	return outs, nil
}

// Close tells the server the session is over.
func (c *Client) Close() error {
	return c.proto.SendDone()
}
