package lm

import (
	"context"
	"fmt"
)

// Echo is a deterministic stand-in LM client for running the server
// without a real language-model backend wired in: it acknowledges the
// prompt it received. Useful for local smoke-testing the routing and
// topology machinery end to end.
func Echo() Client {
	return ClientFunc(func(ctx context.Context, prompt string) (string, error) {
		return fmt.Sprintf("ack: received %d bytes", len(prompt)), nil
	})
}
