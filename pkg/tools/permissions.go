package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	mcp "github.com/mark3labs/mcp-go/mcp"

	"github.com/axonmesh/axonmesh/pkg/signal"
)

// BuildForLayer constructs the tool registry the layer -> permission
// matrix (§4.3) grants, honoring any per-neuron tool overrides (an
// allowlist of names to keep; empty means "grant everything the layer
// allows").
func BuildForLayer(layer signal.Layer, overrides []string) *Registry {
	r := NewRegistry(layer)

	switch layer {
	case signal.L1:
		r.Register(shellTool([]string{"echo", "date"}))
	case signal.L2:
		r.Register(readTool(nil)) // nil = any path
		r.Register(writeTool([]string{"./src", "./tests", "./examples", "/tmp"}))
		r.Register(shellTool([]string{"cargo", "ls", "echo", "date", "pwd"}))
	case signal.L3:
		r.Register(readTool([]string{"./src", "./examples", "Cargo.toml"}))
		r.Register(shellTool([]string{"cargo", "rustfmt", "clippy"}))
	case signal.L4:
		r.Register(readTool([]string{"./docs", "./README.md", "./PRD.md"}))
		r.Register(httpFetchTool())
	case signal.L5:
		r.Register(readTool([]string{"./docs", "./README.md", "./PRD.md"}))
		r.Register(httpFetchTool())
		// No write, no shell per §4.3.
	}

	if len(overrides) > 0 {
		allowed := make(map[string]struct{}, len(overrides))
		for _, name := range overrides {
			allowed[name] = struct{}{}
		}
		for name := range r.tools {
			if _, ok := allowed[name]; !ok {
				delete(r.tools, name)
			}
		}
	}
	return r
}

func shellTool(allowedCmds []string) Tool {
	allowed := make(map[string]struct{}, len(allowedCmds))
	for _, c := range allowedCmds {
		allowed[c] = struct{}{}
	}
	return Tool{
		Descriptor: mcp.NewTool("shell",
			mcp.WithDescription("Execute an allowlisted shell command: "+strings.Join(allowedCmds, ", ")),
			mcp.WithString("command", mcp.Required(), mcp.Description("One of the allowlisted commands.")),
			mcp.WithString("args", mcp.Description("Space-separated command arguments.")),
		),
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			cmdName, _ := args["command"].(string)
			if _, ok := allowed[cmdName]; !ok {
				return nil, fmt.Errorf("command %q not permitted on this layer", cmdName)
			}
			var argv []string
			if raw, ok := args["args"].(string); ok && raw != "" {
				argv = strings.Fields(raw)
			}
			cmd := exec.CommandContext(ctx, cmdName, argv...)
			out, err := cmd.CombinedOutput()
			if err != nil {
				return nil, fmt.Errorf("shell command failed: %w", err)
			}
			return map[string]any{"output": string(out)}, nil
		},
	}
}

func readTool(allowedPrefixes []string) Tool {
	return Tool{
		Descriptor: mcp.NewTool("read",
			mcp.WithDescription("Read a file from an allowlisted path."),
			mcp.WithString("path", mcp.Required(), mcp.Description("File path to read.")),
		),
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			path, _ := args["path"].(string)
			if allowedPrefixes != nil && !pathAllowed(path, allowedPrefixes) {
				return nil, fmt.Errorf("path %q not permitted on this layer", path)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read failed: %w", err)
			}
			return map[string]any{"content": string(data)}, nil
		},
	}
}

func writeTool(allowedPrefixes []string) Tool {
	return Tool{
		Descriptor: mcp.NewTool("write",
			mcp.WithDescription("Write a file under an allowlisted directory: "+strings.Join(allowedPrefixes, ", ")),
			mcp.WithString("path", mcp.Required(), mcp.Description("File path to write.")),
			mcp.WithString("content", mcp.Required(), mcp.Description("File content.")),
		),
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			path, _ := args["path"].(string)
			content, _ := args["content"].(string)
			if !pathAllowed(path, allowedPrefixes) {
				return nil, fmt.Errorf("path %q not permitted on this layer", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("write failed: %w", err)
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return nil, fmt.Errorf("write failed: %w", err)
			}
			return map[string]any{"bytes_written": len(content)}, nil
		},
	}
}

func httpFetchTool() Tool {
	return Tool{
		Descriptor: mcp.NewTool("http_fetch",
			mcp.WithDescription("Fetch a URL over HTTP GET (unrestricted on this layer)."),
			mcp.WithString("url", mcp.Required(), mcp.Description("URL to fetch.")),
		),
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			url, _ := args["url"].(string)
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return nil, fmt.Errorf("fetch failed: %w", err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return nil, fmt.Errorf("fetch failed: %w", err)
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return nil, fmt.Errorf("fetch read failed: %w", err)
			}
			return map[string]any{"status": resp.StatusCode, "body": string(body)}, nil
		},
	}
}

func pathAllowed(path string, prefixes []string) bool {
	clean := filepath.Clean(path)
	for _, p := range prefixes {
		if clean == filepath.Clean(p) || strings.HasPrefix(clean, filepath.Clean(p)+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
