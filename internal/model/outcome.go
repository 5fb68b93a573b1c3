package model

import (
	"log/slog"
	"time"
)

// Status classifies the terminal state of one registry entry within a run.
type Status uint8

const (
	// StatusSuccess means the task handler exited zero within the timeout.
	StatusSuccess Status = iota
	// StatusFailure means the handler exited non-zero, failed to start, or
	// was killed by the per-job timeout.
	StatusFailure
	// StatusBlocked means a policy check rejected the record before any
	// subprocess was started.
	StatusBlocked
	// StatusInvalid means the registry line itself was malformed.
	StatusInvalid
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusBlocked:
		return "blocked"
	default:
		return "invalid"
	}
}

// JobOutcome is the terminal result of one SiteRecord. Created exactly once
// by the stage that decided the record's fate and never mutated after.
type JobOutcome struct {
	Status   Status
	Path     string
	Owner    string
	Method   Method
	Duration time.Duration
	Detail   string // which check failed, exit status, timeout note
}

// LogAttrs renders the outcome as the fixed structured audit line fields.
func (o JobOutcome) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("status", o.Status.String()),
		slog.String("path", o.Path),
		slog.String("owner", o.Owner),
		slog.String("method", o.Method.String()),
		slog.Duration("duration", o.Duration),
		slog.String("detail", o.Detail),
	}
}

// Throttle is the resource monitor verdict for a single poll. It is
// recomputed fresh every time and never stored.
type Throttle struct {
	Throttled bool
	Reason    string
}
