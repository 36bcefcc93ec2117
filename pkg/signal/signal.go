// Package signal implements the Signal and Gradient value types that carry
// activations forward and error gradients backward between neurons.
package signal

import (
	"time"

	"github.com/google/uuid"
)

// Direction distinguishes a forward activation from a backward gradient.
type Direction string

const (
	Forward  Direction = "forward"
	Backward Direction = "backward"
)

// Layer labels the five layers of the network. Declared as a string type
// so configuration and wire payloads carry it directly.
type Layer string

const (
	L1 Layer = "L1"
	L2 Layer = "L2"
	L3 Layer = "L3"
	L4 Layer = "L4"
	L5 Layer = "L5"
)

// Depth returns the layer's position for ±1-rule adjacency checks. Unknown
// layers return -1 so callers can reject them rather than silently treat
// them as adjacent to everything.
func (l Layer) Depth() int {
	switch l {
	case L1:
		return 1
	case L2:
		return 2
	case L3:
		return 3
	case L4:
		return 4
	case L5:
		return 5
	default:
		return -1
	}
}

// Valid reports whether l is one of L1..L5.
func (l Layer) Valid() bool { return l.Depth() > 0 }

// Activation is the forward payload: textual content, a scalar strength in
// [0,1], and a free-form feature map.
type Activation struct {
	Content  string             `json:"content" msgpack:"content"`
	Strength float64            `json:"strength" msgpack:"strength"`
	Features map[string]float64 `json:"features,omitempty" msgpack:"features,omitempty"`
}

// Gradient is the backward payload: an error-kind tag, a magnitude in
// [0,1], suggested adjustments, and a scalar loss.
type Gradient struct {
	ErrorKind   string   `json:"error_kind" msgpack:"error_kind"`
	Magnitude   float64  `json:"magnitude" msgpack:"magnitude"`
	Adjustments []string `json:"adjustments,omitempty" msgpack:"adjustments,omitempty"`
	Loss        float64  `json:"loss" msgpack:"loss"`
}

// Signal is an immutable record of one hop between two neurons. Ids are
// generated at construction and never reused.
type Signal struct {
	ID          string            `json:"id" msgpack:"id"`
	ParentID    string            `json:"parent_id,omitempty" msgpack:"parent_id,omitempty"`
	BatchID     string            `json:"batch_id" msgpack:"batch_id"`
	SenderID    string            `json:"sender_id" msgpack:"sender_id"`
	ReceiverID  string            `json:"receiver_id" msgpack:"receiver_id"`
	SenderLayer Layer             `json:"sender_layer" msgpack:"sender_layer"`
	RecvLayer   Layer             `json:"receiver_layer" msgpack:"receiver_layer"`
	Direction   Direction         `json:"direction" msgpack:"direction"`
	Timestamp   time.Time         `json:"timestamp" msgpack:"timestamp"`
	Metadata    map[string]string `json:"metadata,omitempty" msgpack:"metadata,omitempty"`
	Activation  *Activation       `json:"activation,omitempty" msgpack:"activation,omitempty"`
	Gradient    *Gradient         `json:"gradient,omitempty" msgpack:"gradient,omitempty"`

	// Hops counts router traversals so the local router can enforce the
	// configured hop limit without consulting any external state.
	Hops int `json:"hops" msgpack:"hops"`
}

// Forward constructs a forward signal carrying an activation.
func Forward(from, to string, layerFrom, layerTo Layer, content string, strength float64, features map[string]float64) Signal {
	return Signal{
		ID:          uuid.NewString(),
		BatchID:     uuid.NewString(),
		SenderID:    from,
		ReceiverID:  to,
		SenderLayer: layerFrom,
		RecvLayer:   layerTo,
		Direction:   Forward,
		Timestamp:   time.Now(),
		Activation: &Activation{
			Content:  content,
			Strength: strength,
			Features: features,
		},
	}
}

// Backward constructs a backward signal carrying a gradient.
func Backward(from, to string, layerFrom, layerTo Layer, grad Gradient) Signal {
	return Signal{
		ID:          uuid.NewString(),
		BatchID:     uuid.NewString(),
		SenderID:    from,
		ReceiverID:  to,
		SenderLayer: layerFrom,
		RecvLayer:   layerTo,
		Direction:   Backward,
		Timestamp:   time.Now(),
		Gradient:    &grad,
	}
}

// Child derives a new signal from a parent, inheriting batch id and an
// incremented hop count — used by the router when it enqueues children
// parsed out of a neuron's response.
func (s Signal) Child(to string, layerTo Layer, content string, strength float64) Signal {
	return Signal{
		ID:          uuid.NewString(),
		ParentID:    s.ID,
		BatchID:     s.BatchID,
		SenderID:    s.ReceiverID,
		ReceiverID:  to,
		SenderLayer: s.RecvLayer,
		RecvLayer:   layerTo,
		Direction:   Forward,
		Timestamp:   time.Now(),
		Hops:        s.Hops + 1,
		Activation: &Activation{
			Content:  content,
			Strength: strength,
		},
	}
}

// ChildGradient derives a backward child signal from a parent.
func (s Signal) ChildGradient(to string, layerTo Layer, grad Gradient) Signal {
	return Signal{
		ID:          uuid.NewString(),
		ParentID:    s.ID,
		BatchID:     s.BatchID,
		SenderID:    s.ReceiverID,
		ReceiverID:  to,
		SenderLayer: s.RecvLayer,
		RecvLayer:   layerTo,
		Direction:   Backward,
		Timestamp:   time.Now(),
		Hops:        s.Hops + 1,
		Gradient:    &grad,
	}
}

// Validate enforces the data-model invariant that backward signals must
// carry a gradient; forward signals need not carry an activation (though
// in practice they always do).
func (s Signal) Validate() error {
	if s.Direction == Backward && s.Gradient == nil {
		return errMissingGradient
	}
	return nil
}

var errMissingGradient = &validationError{"backward signal missing gradient"}

type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }
