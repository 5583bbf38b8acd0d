// Package split runs one Serial model across two parties: the client
// evaluates the leading layers, ships the activations to a server that
// evaluates the rest, and receives the results.
package split

import (
	"encoding/gob"
	"fmt"
	"io"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"

	"stacknn/nn/layers"
	"stacknn/tensor"
)

func init() {
	// Register types for gob encoding
	gob.Register(ValuesPayload{})
}

// MessageType defines message types for the split protocol
type MessageType int

const (
	MsgForward MessageType = iota
	MsgOutput
	MsgDone
	MsgError
)

func (t MessageType) String() string {
	switch t {
	case MsgForward:
		return "forward"
	case MsgOutput:
		return "output"
	case MsgDone:
		return "done"
	case MsgError:
		return "error"
	}
	return fmt.Sprintf("MessageType(%d)", int(t))
}

// Message represents a message in the split protocol
type Message struct {
	Type    MessageType
	Payload interface{}
}

// Value is one stack value on the wire: either a plaintext tensor or a
// serialized ciphertext with the shape it packs.
type Value struct {
	Tensor     *tensor.Tensor
	Ciphertext []byte
	Shape      []int
}

// ValuesPayload carries the stack values of one batch
type ValuesPayload struct {
	BatchID int
	Values  []Value
}

// EncodeValues converts stack values to their wire form.
func EncodeValues(vals []any) ([]Value, error) {
	out := make([]Value, len(vals))
	for i, v := range vals {
		switch x := v.(type) {
		case *tensor.Tensor:
			out[i] = Value{Tensor: x}
		case *layers.Ciphertext:
			b, err := x.Ct.MarshalBinary()
			if err != nil {
				return nil, fmt.Errorf("value %d: %w", i, err)
			}
			out[i] = Value{Ciphertext: b, Shape: x.Shape}
		default:
			return nil, fmt.Errorf("value %d: cannot send %T", i, v)
		}
	}
	return out, nil
}

// DecodeValues is the inverse of EncodeValues.
func DecodeValues(vals []Value) ([]any, error) {
	out := make([]any, len(vals))
	for i, v := range vals {
		switch {
		case v.Tensor != nil:
			out[i] = v.Tensor
		case v.Ciphertext != nil:
			ct := new(rlwe.Ciphertext)
			if err := ct.UnmarshalBinary(v.Ciphertext); err != nil {
				return nil, fmt.Errorf("value %d: %w", i, err)
			}
			out[i] = &layers.Ciphertext{Ct: ct, Shape: v.Shape}
		default:
			return nil, fmt.Errorf("value %d is empty", i)
		}
	}
	return out, nil
}

// Protocol handles split communication
type Protocol struct {
	encoder *gob.Encoder
	decoder *gob.Decoder
}

// NewProtocol creates a new protocol handler
func NewProtocol(r io.Reader, w io.Writer) *Protocol {
	p := &Protocol{}
	if w != nil {
		p.encoder = gob.NewEncoder(w)
	}
	if r != nil {
		p.decoder = gob.NewDecoder(r)
	}
	return p
}

// Send sends a message
func (p *Protocol) Send(msg *Message) error {
	return p.encoder.Encode(msg)
}

// Receive receives a message
func (p *Protocol) Receive() (*Message, error) {
	var msg Message
	if err := p.decoder.Decode(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendValues encodes vals and sends them as a message of type t.
func (p *Protocol) SendValues(t MessageType, batchID int, vals []any) error {
	wire, err := EncodeValues(vals)
	if err != nil {
		return err
	}
	return p.Send(&Message{Type: t, Payload: ValuesPayload{BatchID: batchID, Values: wire}})
}

// SendDone signals completion
func (p *Protocol) SendDone() error {
	return p.Send(&Message{Type: MsgDone})
}

// SendError sends an error message
func (p *Protocol) SendError(err error) error {
	return p.Send(&Message{
		Type:    MsgError,
		Payload: err.Error(),
	})
}

// RemoteError is an error reported by the other party.
type RemoteError struct {
	Msg string
}

func (e *RemoteError) Error() string { return "remote error: " + e.Msg }

// ReceiveValues receives a message of type want and decodes its values.
// A done message yields io.EOF and an error message a *RemoteError.
func (p *Protocol) ReceiveValues(want MessageType) (int, []any, error) {
	msg, err := p.Receive()
	if err != nil {
		return 0, nil, err
	}
	switch msg.Type {
	case MsgError:
		return 0, nil, &RemoteError{Msg: fmt.Sprint(msg.Payload)}
	case MsgDone:
		return 0, nil, io.EOF
	case want:
	default:
		return 0, nil, fmt.Errorf("expected %s message, got %s", want, msg.Type)
	}
	payload, ok := msg.Payload.(ValuesPayload)
	if !ok {
		return 0, nil, fmt.Errorf("invalid %s payload type %T", want, msg.Payload)
	}
	vals, err := DecodeValues(payload.Values)
	if err != nil {
		return 0, nil, err
	}
	return payload.BatchID, vals, nil
}
