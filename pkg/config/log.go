package config

import "log"

// logWarnf logs a non-fatal configuration warning. Kept as a thin wrapper
// so Validate's call sites read declaratively.
func logWarnf(format string, args ...any) {
	log.Printf("config: warning: "+format, args...)
}
