package split

import (
	"context"
	"fmt"
	"io"

	"github.com/go-logr/logr"

	"stacknn/core/prng"
	"stacknn/nn"
)

// Server evaluates the server half of a split model for one client.
type Server struct {
	Model nn.Layer
	Key   prng.Key
	Log   logr.Logger

	conn  io.ReadWriter
	proto *Protocol
}

// NewServer serves model over conn.
func NewServer(model nn.Layer, conn io.ReadWriter, log logr.Logger) *Server {
	return &Server{Model: model, Log: log, conn: conn, proto: NewProtocol(conn, conn)}
}

// Serve answers forward requests until the client says done. A batch that
// fails is reported to the client and does not end the session; a broken
// connection does. When ctx is cancelled, a conn that is an io.Closer is
// closed to unblock the read.
func (s *Server) Serve(ctx context.Context) error {
	if err := nn.Validate(s.Model); err != nil {
		return err
	}
	if c, ok := s.conn.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { _ = c.Close() })
		defer stop()
	}
	for {
		msg, err := s.proto.Receive()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("receive: %w", err)
		}
		switch msg.Type {
		case MsgDone:
			s.Log.V(1).Info("client done")
			return nil
		case MsgError:
			return &RemoteError{Msg: fmt.Sprint(msg.Payload)}
		case MsgForward:
		default:
			if err := s.reject(fmt.Errorf("unexpected %s message", msg.Type)); err != nil {
				return err
			}
			continue
		}

		payload, ok := msg.Payload.(ValuesPayload)
		if !ok {
			if err := s.reject(fmt.Errorf("invalid forward payload type %T", msg.Payload)); err != nil {
				return err
			}
			continue
		}
		if err := s.forward(payload); err != nil {
			return err
		}
	}
}

// forward evaluates one batch. Only transport failures are returned.
func (s *Server) forward(payload ValuesPayload) error {
	vals, err := DecodeValues(payload.Values)
	if err != nil {
		return s.reject(err)
	}
	outs, err := nn.ApplyWithKey(s.Model, prng.Fold(s.Key, payload.BatchID), vals...)
	if err != nil {
		s.Log.Error(err, "forward failed", "batch", payload.BatchID)
		return s.proto.SendError(err)
	}
	wire, err := EncodeValues(outs)
	if err != nil {
		return s.reject(err)
	}
	s.Log.V(1).Info("served batch", "batch", payload.BatchID, "inputs", len(vals), "outputs", len(outs))
	return s.proto.Send(&Message{Type: MsgOutput, Payload: ValuesPayload{BatchID: payload.BatchID, Values: wire}})
}

func (s *Server) reject(err error) error {
	s.Log.Error(err, "bad request")
	return s.proto.SendError(err)
}
