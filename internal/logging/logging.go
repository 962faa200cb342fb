package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"

	"github.com/anthonybo/meshtastic-dashboard/internal/config"
)

// New creates the process logger. Records go to the systemd journal when
// cfg.Journal is set and the process runs under systemd, otherwise to w in
// the configured format.
func New(cfg config.LogConfig, w io.Writer) *slog.Logger {
	level := ParseLevel(cfg.Level)

	if cfg.Journal && UnderSystemd() {
		return slog.New(NewJournalHandler(level))
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel converts a string level to slog.Level. Unknown values map to
// info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// UnderSystemd reports whether stderr is connected to the journal and the
// journal socket is reachable.
func UnderSystemd() bool {
	return os.Getenv("JOURNAL_STREAM") != "" && journal.Enabled()
}

// ============================================================================
// Journal handler
// ============================================================================

type sendFunc func(message string, priority journal.Priority, vars map[string]string) error

// JournalHandler is a slog.Handler writing structured entries to the
// systemd journal. Attributes become journal fields (COMPONENT=supervisor).
type JournalHandler struct {
	level  slog.Leveler
	attrs  map[string]string
	prefix string
	send   sendFunc
}

// NewJournalHandler creates a handler sending records at or above level.
func NewJournalHandler(level slog.Leveler) *JournalHandler {
	return &JournalHandler{level: level, attrs: map[string]string{}, send: journal.Send}
}

func (h *JournalHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *JournalHandler) Handle(_ context.Context, r slog.Record) error {
	vars := make(map[string]string, len(h.attrs)+r.NumAttrs())
	for k, v := range h.attrs {
		vars[k] = v
	}
	r.Attrs(func(a slog.Attr) bool {
		addField(vars, h.prefix, a)
		return true
	})
	return h.send(r.Message, priority(r.Level), vars)
}

func (h *JournalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := h.clone()
	for _, a := range attrs {
		addField(next.attrs, h.prefix, a)
	}
	return next
}

func (h *JournalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := h.clone()
	next.prefix = joinKey(h.prefix, name)
	return next
}

func (h *JournalHandler) clone() *JournalHandler {
	attrs := make(map[string]string, len(h.attrs))
	for k, v := range h.attrs {
		attrs[k] = v
	}
	return &JournalHandler{level: h.level, attrs: attrs, prefix: h.prefix, send: h.send}
}

func priority(l slog.Level) journal.Priority {
	switch {
	case l >= slog.LevelError:
		return journal.PriErr
	case l >= slog.LevelWarn:
		return journal.PriWarning
	case l >= slog.LevelInfo:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}

func addField(vars map[string]string, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		group := prefix
		if a.Key != "" {
			group = joinKey(prefix, a.Key)
		}
		for _, ga := range a.Value.Group() {
			addField(vars, group, ga)
		}
		return
	}
	if name := fieldName(joinKey(prefix, a.Key)); name != "" {
		vars[name] = a.Value.String()
	}
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "_" + key
}

// fieldName maps a key onto the journal field alphabet [A-Z0-9_]. Leading
// underscores are reserved for trusted fields and are stripped.
func fieldName(key string) string {
	b := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z':
			b = append(b, c-'a'+'A')
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b = append(b, c)
		default:
			b = append(b, '_')
		}
	}
	name := strings.TrimLeft(string(b), "_")
	if name != "" && name[0] >= '0' && name[0] <= '9' {
		name = "F_" + name
	}
	return name
}
