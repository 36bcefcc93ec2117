// Package tools implements the owned, per-layer {name -> handler} tool
// registry and the layer -> permission matrix from §4.3. Tool descriptors
// are built with mark3labs/mcp-go's tool-schema types so the "JSON-object
// invocation grammar" injected into a neuron's prompt (§4.3 step 3) is a
// real, structured schema rather than a hand-written string.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcp "github.com/mark3labs/mcp-go/mcp"

	"github.com/axonmesh/axonmesh/pkg/coreerr"
	"github.com/axonmesh/axonmesh/pkg/signal"
)

// Handler executes one tool invocation. Arguments are the parsed JSON
// object following the `TOOL: <name> <json>` directive.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Tool pairs an mcp-go schema descriptor with its handler.
type Tool struct {
	Descriptor mcp.Tool
	Handler    Handler
}

// Registry is an owned {name -> Tool} map scoped to one layer.
type Registry struct {
	layer signal.Layer
	tools map[string]Tool
}

// NewRegistry constructs an empty registry for layer.
func NewRegistry(layer signal.Layer) *Registry {
	return &Registry{layer: layer, tools: make(map[string]Tool)}
}

// Register adds a tool. Re-registering a name overwrites the prior entry,
// matching the "owned registry constructed at startup" design note.
func (r *Registry) Register(t Tool) {
	r.tools[t.Descriptor.Name] = t
}

// Execute dispatches a named tool invocation, returning a typed ToolError
// if the tool is not granted to this layer or the handler fails.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, coreerr.New(coreerr.KindToolError, "tool "+name+" not permitted on layer "+string(r.layer))
	}
	result, err := t.Handler(ctx, args)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.KindToolError, "tool "+name+" failed", err)
	}
	return result, nil
}

// Has reports whether name is registered (granted) on this layer.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Grammar renders the "name + one-line description, JSON-object invocation
// grammar" block injected into the prompt at §4.3 step 3.
func (r *Registry) Grammar() string {
	if len(r.tools) == 0 {
		return "No tools are available on this layer."
	}
	var b strings.Builder
	b.WriteString("Available tools (invoke with a line `TOOL: <name> <json-args>`):\n")
	for name, t := range r.tools {
		b.WriteString("- ")
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(t.Descriptor.Description)
		if schema, err := json.Marshal(t.Descriptor.InputSchema); err == nil {
			b.WriteString(" args schema: ")
			b.Write(schema)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// ParseDirective scans a transcript line for the `TOOL: <name> <json>`
// grammar described in §4.3 step 5b. ok is false when no directive is
// present.
func ParseDirective(line string) (name string, args map[string]any, ok bool, err error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "TOOL:") {
		return "", nil, false, nil
	}
	rest := strings.TrimSpace(strings.TrimPrefix(line, "TOOL:"))
	parts := strings.SplitN(rest, " ", 2)
	if len(parts) == 0 || parts[0] == "" {
		return "", nil, true, fmt.Errorf("malformed TOOL directive: missing name")
	}
	name = parts[0]
	args = map[string]any{}
	if len(parts) == 2 && strings.TrimSpace(parts[1]) != "" {
		if err := json.Unmarshal([]byte(parts[1]), &args); err != nil {
			return name, nil, true, fmt.Errorf("malformed TOOL json arguments: %w", err)
		}
	}
	return name, args, true, nil
}
