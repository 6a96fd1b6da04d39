// Package slogutil provides the slog handler and logger constructors used by rtm.
package slogutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SubsystemKey is the attribute lifted out of the key=value tail and printed
// in front of the message.
const SubsystemKey = "subsystem"

// Handler formats records as
//
//	TIMESTAMP [level] (subsystem) Message | key=value key=value
type Handler struct {
	w         io.Writer
	level     slog.Leveler
	attrs     []slog.Attr
	groups    []string
	subsystem string
	mu        *sync.Mutex
}

// NewHandler creates a new rtm log handler.
func NewHandler(w io.Writer, opts *slog.HandlerOptions) *Handler {
	var level slog.Leveler = slog.LevelInfo
	if opts != nil && opts.Level != nil {
		level = opts.Level
	}
	return &Handler{
		w:     w,
		level: level,
		mu:    &sync.Mutex{},
	}
}

// Enabled reports whether the handler handles records at the given level.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle formats and writes the log record.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer

	buf.WriteString(r.Time.UTC().Format(time.RFC3339))
	buf.WriteString(" [")
	buf.WriteString(levelString(r.Level))
	buf.WriteString("] ")

	subsystem := h.subsystem
	attrs := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
	attrs = append(attrs, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == SubsystemKey && len(h.groups) == 0 {
			subsystem = a.Value.String()
			return true
		}
		attrs = appendFlattened(attrs, h.prefix(), a)
		return true
	})

	if subsystem != "" {
		buf.WriteString("(")
		buf.WriteString(subsystem)
		buf.WriteString(") ")
	}
	buf.WriteString(r.Message)

	if len(attrs) > 0 {
		buf.WriteString(" |")
		for _, a := range attrs {
			buf.WriteString(" ")
			buf.WriteString(a.Key)
			buf.WriteString("=")
			buf.WriteString(formatValue(a.Value))
		}
	}
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

// WithAttrs returns a new handler with the given attributes added.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := h.clone()
	clone.attrs = make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(clone.attrs, h.attrs)
	for _, a := range attrs {
		if a.Key == SubsystemKey && len(h.groups) == 0 {
			clone.subsystem = a.Value.String()
			continue
		}
		clone.attrs = appendFlattened(clone.attrs, h.prefix(), a)
	}
	return clone
}

// WithGroup returns a new handler with the given group name added.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := h.clone()
	clone.groups = append(append([]string{}, h.groups...), name)
	return clone
}

func (h *Handler) clone() *Handler {
	return &Handler{
		w:         h.w,
		level:     h.level,
		attrs:     h.attrs,
		groups:    h.groups,
		subsystem: h.subsystem,
		mu:        h.mu,
	}
}

func (h *Handler) prefix() string {
	if len(h.groups) == 0 {
		return ""
	}
	return strings.Join(h.groups, ".") + "."
}

// appendFlattened expands group attributes into dotted keys and drops empty ones.
func appendFlattened(dst []slog.Attr, prefix string, a slog.Attr) []slog.Attr {
	a.Value = a.Value.Resolve()
	if a.Value.Kind() == slog.KindGroup {
		groupPrefix := prefix
		if a.Key != "" {
			groupPrefix = prefix + a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			dst = appendFlattened(dst, groupPrefix, ga)
		}
		return dst
	}
	if a.Key == "" {
		return dst
	}
	return append(dst, slog.Attr{Key: prefix + a.Key, Value: a.Value})
}

// levelString returns a lowercase string for the log level.
func levelString(level slog.Level) string {
	switch {
	case level < slog.LevelInfo:
		return "debug"
	case level < slog.LevelWarn:
		return "info"
	case level < slog.LevelError:
		return "warn"
	default:
		return "error"
	}
}

// formatValue formats a slog.Value for display. Strings containing spaces
// are quoted so the key=value tail stays parseable.
func formatValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		s := v.String()
		if s == "" || strings.ContainsAny(s, " \t\n\"=") {
			return strconv.Quote(s)
		}
		return s
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339)
	case slog.KindDuration:
		return v.Duration().String()
	default:
		return fmt.Sprint(v.Any())
	}
}
