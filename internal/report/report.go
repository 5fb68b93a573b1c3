// Package report aggregates job outcomes into the run summary, renders the
// machine-readable run report, and delivers it to the configured sinks.
package report

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/model"
)

var version string

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		version = "unknown"
	} else {
		version = info.Main.Version
	}
}

// Tally collects the outcomes of one run. Every outcome passes through Add
// exactly once, the moment its record reached a terminal state, so the audit
// log line and the report always agree.
type Tally struct {
	mu       sync.Mutex
	runID    string
	hostname string
	started  time.Time
	log      *slog.Logger
	outcomes []model.JobOutcome
	counts   Counts
}

func NewTally(runID string, log *slog.Logger) *Tally {
	if log == nil {
		log = slog.Default()
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &Tally{
		runID:    runID,
		hostname: hostname,
		started:  time.Now(),
		log:      log,
		// initialized so the report renders [] and not null
		outcomes: []model.JobOutcome{},
	}
}

// Add records one outcome and emits its audit line.
func (t *Tally) Add(ctx context.Context, o model.JobOutcome) {
	t.mu.Lock()
	t.outcomes = append(t.outcomes, o)
	switch o.Status {
	case model.StatusSuccess:
		t.counts.Success++
	case model.StatusFailure:
		t.counts.Failure++
	case model.StatusBlocked:
		t.counts.Blocked++
	default:
		t.counts.Invalid++
	}
	t.mu.Unlock()

	level := slog.LevelInfo
	if o.Status != model.StatusSuccess {
		level = slog.LevelWarn
	}
	t.log.LogAttrs(ctx, level, "job outcome", o.LogAttrs()...)
}

// Summary is the aggregate view of one run.
type Summary struct {
	Total    int
	Success  int
	Failure  int
	Blocked  int
	Invalid  int
	Duration time.Duration
}

func (t *Tally) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.counts
	return Summary{
		Total:    c.Success + c.Failure + c.Blocked + c.Invalid,
		Success:  c.Success,
		Failure:  c.Failure,
		Blocked:  c.Blocked,
		Invalid:  c.Invalid,
		Duration: time.Since(t.started),
	}
}

// Log emits the run summary line, and an error-level alert when more than
// one record in ten was blocked by policy.
func (t *Tally) Log(ctx context.Context) {
	s := t.Summary()
	t.log.InfoContext(ctx, "run complete",
		slog.String("run_id", t.runID),
		slog.Int("total", s.Total),
		slog.Int("success", s.Success),
		slog.Int("failure", s.Failure),
		slog.Int("blocked", s.Blocked),
		slog.Int("invalid", s.Invalid),
		slog.Duration("duration", s.Duration),
	)
	if s.Total > 0 && s.Blocked*10 > s.Total {
		t.log.ErrorContext(ctx, "blocked records above alert threshold",
			slog.Int("blocked", s.Blocked),
			slog.Int("total", s.Total),
		)
	}
}

// Document is the persisted run report.
type Document struct {
	RunID    string    `json:"run_id"`
	Version  string    `json:"version"`
	Hostname string    `json:"hostname"`
	Started  string    `json:"started"`
	Finished string    `json:"finished"`
	Duration string    `json:"duration"`
	Counts   Counts    `json:"counts"`
	Outcomes []Outcome `json:"outcomes"`
}

type Counts struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Blocked int `json:"blocked"`
	Invalid int `json:"invalid"`
}

// Outcome is one record's terminal state within the report.
type Outcome struct {
	Status   string `json:"status"`
	Path     string `json:"path"`
	Owner    string `json:"owner"`
	Method   string `json:"method"`
	Duration string `json:"duration"`
	Detail   string `json:"detail,omitempty"`
}

// Document returns the report document based on the outcomes gathered so far.
func (t *Tally) Document() Document {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	outs := make([]Outcome, 0, len(t.outcomes))
	for _, o := range t.outcomes {
		outs = append(outs, Outcome{
			Status:   o.Status.String(),
			Path:     o.Path,
			Owner:    o.Owner,
			Method:   o.Method.String(),
			Duration: o.Duration.Round(time.Millisecond).String(),
			Detail:   o.Detail,
		})
	}
	return Document{
		RunID:    t.runID,
		Version:  version,
		Hostname: t.hostname,
		Started:  t.started.UTC().Format(time.RFC3339),
		Finished: now.UTC().Format(time.RFC3339),
		Duration: now.Sub(t.started).Round(time.Millisecond).String(),
		Counts:   t.counts,
		Outcomes: outs,
	}
}

// AsJSON encodes the report document into JSON format.
func (t *Tally) AsJSON(w io.Writer) error {
	doc := t.Document()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(&doc)
}
