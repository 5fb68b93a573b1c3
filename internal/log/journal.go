package log

import (
	"context"
	"log/slog"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
)

// journalAvailable reports whether journald accepts messages on this host.
var journalAvailable = journal.Enabled

// JournalHandler writes records to the systemd journal under a fixed
// SYSLOG_IDENTIFIER, so `journalctl -t <tag>` shows the full run history.
type JournalHandler struct {
	tag    string
	level  slog.Leveler
	attrs  []slog.Attr
	prefix string
}

func NewJournalHandler(tag string, level slog.Leveler) *JournalHandler {
	return &JournalHandler{
		tag:   tag,
		level: level,
	}
}

func (h *JournalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *JournalHandler) Handle(_ context.Context, r slog.Record) error {
	vars := make(map[string]string, r.NumAttrs()+len(h.attrs)+1)
	vars["SYSLOG_IDENTIFIER"] = h.tag
	for _, a := range h.attrs {
		addVar(vars, h.prefix, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addVar(vars, h.prefix, a)
		return true
	})
	return journal.Send(r.Message, priority(r.Level), vars)
}

func (h *JournalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &c
}

func (h *JournalHandler) WithGroup(name string) slog.Handler {
	c := *h
	c.prefix = h.prefix + fieldName(name) + "_"
	return &c
}

func addVar(vars map[string]string, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		p := prefix + fieldName(a.Key) + "_"
		for _, ga := range v.Group() {
			addVar(vars, p, ga)
		}
		return
	}
	vars[prefix+fieldName(a.Key)] = v.String()
}

// fieldName maps an attr key onto a valid journal field: uppercase letters,
// digits and underscores, not starting with an underscore or digit.
func fieldName(key string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(key) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	s := b.String()
	if s == "" || s[0] == '_' || (s[0] >= '0' && s[0] <= '9') {
		s = "X" + s
	}
	if len(s) > 64 {
		s = s[:64]
	}
	return s
}

func priority(level slog.Level) journal.Priority {
	switch {
	case level >= slog.LevelError:
		return journal.PriErr
	case level >= slog.LevelWarn:
		return journal.PriWarning
	case level >= slog.LevelInfo:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}
