// Package logging hands out component loggers that share one level and one
// output format.
//
//	logging.SetLevel(slog.LevelDebug)
//	log := logging.Logger(logging.ComponentControl)
//	log.Debug("setup", "request", setup.String())
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Component identifies a subsystem for log filtering.
type Component string

const (
	ComponentGadget    Component = "gadget"
	ComponentControl   Component = "control"
	ComponentStream    Component = "stream"
	ComponentTransport Component = "transport"
	ComponentSource    Component = "source"
	ComponentMonitor   Component = "monitor"
)

type Format int

const (
	FormatText Format = iota
	FormatJSON
)

var (
	level = new(slog.LevelVar)

	mu   sync.RWMutex
	base *slog.Logger
)

func init() {
	level.Set(slog.LevelInfo)
	base = newLogger(os.Stderr, FormatText)
}

func newLogger(w io.Writer, format Format) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == FormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Logger returns a logger tagged with the component. Loggers taken before a
// SetFormat call keep the old format, levels apply to all of them.
func Logger(c Component) *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base.With("component", string(c))
}

func SetLevel(l slog.Level) {
	level.Set(l)
}

func Level() slog.Level {
	return level.Level()
}

func SetFormat(format Format) {
	SetOutput(os.Stderr, format)
}

// SetOutput redirects every logger taken afterwards.
func SetOutput(w io.Writer, format Format) {
	mu.Lock()
	defer mu.Unlock()
	base = newLogger(w, format)
}

// ParseLevel accepts debug, info, warn and error.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return 0, fmt.Errorf("invalid log format %q", s)
	}
}

// Or returns l, or the component logger when l is nil.
func Or(l *slog.Logger, c Component) *slog.Logger {
	if l != nil {
		return l
	}
	return Logger(c)
}

// Every reports whether the n-th occurrence of a repeating failure should be
// logged: the first of a run and then every 100th.
func Every(n uint64) bool {
	return n == 1 || n%100 == 0
}
