package store

import "log"

// Diagnostics is the collaborator-facing warning sink (§6 "Consumed from
// collaborators"). Non-fatal conditions — a decode failure inside list,
// for instance — are reported through it rather than returned as errors.
type Diagnostics interface {
	Warn(message string)
}

// logDiagnostics is the default Diagnostics implementation, logging via
// the standard log package exactly as the teacher's eviction.go reports
// a recoverable git failure ("Warning: ...").
type logDiagnostics struct{}

// NewLogDiagnostics returns a Diagnostics backed by log.Printf.
func NewLogDiagnostics() Diagnostics {
	return logDiagnostics{}
}

func (logDiagnostics) Warn(message string) {
	log.Printf("Warning: %s", message)
}
