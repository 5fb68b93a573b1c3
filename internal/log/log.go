package log

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/model"
)

type slogKeyT struct{}

var slogKey slogKeyT

// ContextHandler injects attributes stored in the context into every record,
// so per-site fields set once via ContextAttrs appear on all log lines of
// that site's job.
type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(handler slog.Handler) ContextHandler {
	return ContextHandler{
		Handler: handler,
	}
}

func (h ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if a, ok := ctx.Value(slogKey).([]slog.Attr); ok {
		r.AddAttrs(a...)
	}

	return h.Handler.Handle(ctx, r)
}

func ContextAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	a, ok := ctx.Value(slogKey).([]slog.Attr)
	if !ok || a == nil {
		a = make([]slog.Attr, 0, len(attrs))
	}
	a = append(a, attrs...)
	return context.WithValue(ctx, slogKey, a)
}

// Options selects the sinks of the process logger.
type Options struct {
	Verbose bool
	Format  string    // model.LogFormatText or model.LogFormatJSON
	Journal bool      // also write to the systemd journal when available
	Tag     string    // journal SYSLOG_IDENTIFIER
	Writer  io.Writer // defaults to os.Stderr
}

// New builds the process logger. Records always go to Writer; when Journal
// is set and journald is reachable they are mirrored there under Tag.
func New(opts Options) *slog.Logger {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}

	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	var base slog.Handler
	switch opts.Format {
	case model.LogFormatJSON:
		base = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	default:
		base = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}

	handlers := []slog.Handler{base}
	if opts.Journal && journalAvailable() {
		tag := opts.Tag
		if tag == "" {
			tag = model.DefaultLogTag
		}
		handlers = append(handlers, NewJournalHandler(tag, level))
	}

	if len(handlers) == 1 {
		return slog.New(NewContextHandler(handlers[0]))
	}
	return slog.New(NewContextHandler(Fanout(handlers...)))
}
