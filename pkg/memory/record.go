// Package memory implements the append-only memory store a managed
// neuron writes through to (§4.3 steps 3b, 9) and the similarity
// retrieval used to surface "relevant learnings" during prompt assembly.
package memory

import "time"

// Kind labels a memory record's role.
type Kind string

const (
	KindTask     Kind = "Task"
	KindResult   Kind = "Result"
	KindLearning Kind = "Learning"
	KindError    Kind = "Error"
)

// Record is one append-only memory entry (§6 persistent state schema).
type Record struct {
	NeuronID   string            `msgpack:"neuron_id"`
	Layer      string            `msgpack:"layer"`
	Kind       Kind              `msgpack:"kind"`
	Content    string            `msgpack:"content"`
	Metadata   map[string]string `msgpack:"metadata,omitempty"`
	Importance float64           `msgpack:"importance"`
	Timestamp  time.Time         `msgpack:"timestamp"`
}
