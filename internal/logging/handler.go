package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

// CustomHandler renders records as
// "[time] [level] [file:line] message | key=value ...".
type CustomHandler struct {
	w         io.Writer
	level     *slog.LevelVar
	addSource bool
	mu        *sync.Mutex
	attrs     []slog.Attr
}

func NewCustomHandler(w io.Writer, level *slog.LevelVar, addSource bool) *CustomHandler {
	return &CustomHandler{
		w:         w,
		level:     level,
		addSource: addSource,
		mu:        &sync.Mutex{},
	}
}

func (h *CustomHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *CustomHandler) Handle(_ context.Context, r slog.Record) error {
	var line strings.Builder
	line.WriteString("[")
	line.WriteString(r.Time.Format("2006-01-02 15:04:05"))
	line.WriteString("] [")
	line.WriteString(strings.ToLower(r.Level.String()))
	line.WriteString("] ")

	if h.addSource && r.PC != 0 {
		fs := runtime.CallersFrames([]uintptr{r.PC})
		f, _ := fs.Next()
		fmt.Fprintf(&line, "[%s:%d] ", filepath.Base(f.File), f.Line)
	}
	line.WriteString(r.Message)

	first := true
	writeAttr := func(a slog.Attr) bool {
		if first {
			line.WriteString(" | ")
			first = false
		} else {
			line.WriteString(" ")
		}
		line.WriteString(a.Key)
		line.WriteString("=")
		line.WriteString(formatValue(a.Value))
		return true
	}
	for _, a := range h.attrs {
		writeAttr(a)
	}
	r.Attrs(writeAttr)
	line.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, line.String())
	return err
}

// formatValue quotes strings containing spaces so key=value pairs stay splittable.
func formatValue(v slog.Value) string {
	s := fmt.Sprintf("%v", v.Any())
	if v.Kind() == slog.KindString && strings.ContainsAny(s, " \t\"") {
		return strconv.Quote(s)
	}
	return s
}

func (h *CustomHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &c
}

func (h *CustomHandler) WithGroup(string) slog.Handler {
	return h
}
