package router

import (
	"strings"
)

// parsedChild is one child signal derived from a neuron's transcript,
// still missing the parent context (filled in by the caller).
type parsedChild struct {
	targets   []string
	content   string
	errorType string
	backward  bool
}

// parseTranscript implements the response-parsing contract (§4.3
// "Response-parsing contract"): a transcript may contain a
// `FORWARD_TO: id, id\nCONTENT: ...` block, a
// `BACKWARD_TO: id, id\nERROR_TYPE: label` block, both, or neither.
func parseTranscript(transcript string) []parsedChild {
	lines := strings.Split(transcript, "\n")
	var out []parsedChild

	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])

		switch {
		case strings.HasPrefix(line, "FORWARD_TO:"):
			targets := splitIDs(strings.TrimPrefix(line, "FORWARD_TO:"))
			var content string
			if i+1 < len(lines) && strings.HasPrefix(strings.TrimSpace(lines[i+1]), "CONTENT:") {
				i++
				first := strings.TrimPrefix(strings.TrimSpace(lines[i]), "CONTENT:")
				contentLines := []string{strings.TrimSpace(first)}
				for i+1 < len(lines) && !isDirectiveLine(lines[i+1]) {
					i++
					contentLines = append(contentLines, lines[i])
				}
				content = strings.TrimSpace(strings.Join(contentLines, "\n"))
			}
			out = append(out, parsedChild{targets: targets, content: content})

		case strings.HasPrefix(line, "BACKWARD_TO:"):
			targets := splitIDs(strings.TrimPrefix(line, "BACKWARD_TO:"))
			var errType string
			if i+1 < len(lines) && strings.HasPrefix(strings.TrimSpace(lines[i+1]), "ERROR_TYPE:") {
				errType = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(lines[i+1]), "ERROR_TYPE:"))
				i++
			}
			out = append(out, parsedChild{targets: targets, errorType: errType, backward: true})
		}
	}
	return out
}

// isDirectiveLine reports whether line starts a new FORWARD_TO/BACKWARD_TO
// block, which ends a CONTENT block's "free text until end-of-message."
func isDirectiveLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "FORWARD_TO:") || strings.HasPrefix(trimmed, "BACKWARD_TO:")
}

func splitIDs(s string) []string {
	var ids []string
	for _, part := range strings.Split(s, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

