// Package transport implements the peer protocol (C7): a TCP stream of
// length-prefixed JSON frames between servers, plus UDP multicast
// discovery announcements. Framing and discovery are plain stdlib
// net/encoding-json code; no third-party wire library in the example
// corpus targets this exact "4-byte length + JSON body" shape, and
// introducing one for a format this small would add a dependency with
// no structural benefit over encoding/binary + encoding/json.
package transport

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/axonmesh/axonmesh/pkg/signal"
)

// maxFrameBytes bounds a single frame to guard against a corrupt or
// hostile length prefix requesting an unreasonable allocation.
const maxFrameBytes = 16 << 20

// FrameKind distinguishes the two top-level peer-protocol messages (§6).
type FrameKind string

const (
	KindSignalFrame FrameKind = "signal"
	KindHelloFrame  FrameKind = "hello"
)

// SignalFrame carries one routed signal between servers. Its JSON form
// is the signal's own fields with a top-level "kind" discriminator
// added (§6: `{"kind":"signal", ...Signal fields}`), not a nested
// object — encoding/json has no inline-embedding tag, so Marshal/
// Unmarshal are implemented by hand below.
type SignalFrame struct {
	Kind   FrameKind
	Signal signal.Signal
}

func (f SignalFrame) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(f.Signal)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(base, &m); err != nil {
		return nil, err
	}
	kind, err := json.Marshal(f.Kind)
	if err != nil {
		return nil, err
	}
	m["kind"] = kind
	return json.Marshal(m)
}

func (f *SignalFrame) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &f.Signal); err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	f.Kind = env.Kind
	return nil
}

// helloNeuron is one entry in a hello frame's neuron list.
type helloNeuron struct {
	ID    string       `json:"id"`
	Layer signal.Layer `json:"layer"`
}

// HelloFrame announces a server's identity and, optionally, its
// locally-owned neurons immediately after a peer link is established. The
// hub's outbound links send it with the server id and an empty neuron
// list.
type HelloFrame struct {
	Kind     FrameKind     `json:"kind"`
	ServerID string        `json:"server_id"`
	Neurons  []helloNeuron `json:"neurons"`
}

// envelope is used only to sniff the "kind" discriminator before
// unmarshaling into the concrete frame type.
type envelope struct {
	Kind FrameKind `json:"kind"`
}

// WriteFrame writes a length-prefixed JSON frame: a 4-byte big-endian
// length followed by that many bytes of JSON.
func WriteFrame(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame and dispatches it by its
// "kind" field into either a SignalFrame or a HelloFrame.
func ReadFrame(r io.Reader) (any, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameBytes {
		return nil, fmt.Errorf("frame of %d bytes exceeds the %d byte limit", n, maxFrameBytes)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode frame envelope: %w", err)
	}

	switch env.Kind {
	case KindSignalFrame:
		var f SignalFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode signal frame: %w", err)
		}
		return f, nil
	case KindHelloFrame:
		var f HelloFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode hello frame: %w", err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unknown frame kind %q", env.Kind)
	}
}
