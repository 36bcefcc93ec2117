// Package lm declares the language-model client collaborator. The LM
// itself is out of core scope (§1): it is treated as an opaque
// send_message collaborator the neuron runtime calls under a deadline.
package lm

import "context"

// Client sends a single prompt to a language model and returns its text
// response. Implementations are expected to respect ctx's deadline;
// pkg/neuron additionally wraps every call with its own 30s timeout per
// §4.3 step 5a.
type Client interface {
	Send(ctx context.Context, prompt string) (string, error)
}

// ClientFunc adapts a plain function to the Client interface.
type ClientFunc func(ctx context.Context, prompt string) (string, error)

func (f ClientFunc) Send(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
