// Package debug switches on verbose logging per area of the gate.
//
// Areas are named in CHRONICLE_DEBUG or logging.debug as a comma separated
// list, for example "gate,directory". "all" selects every area. Output goes
// through the default slog logger, so logging.level must be "debug" (or
// "trace" for request bodies) for anything to appear.
package debug

import (
	"context"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync/atomic"
	"unicode/utf8"
)

// Areas that emit debug output.
const (
	Gate      = "gate"
	Directory = "directory"
	Sapient   = "sapient"
	Transport = "transport"
	All       = "all"
)

// LevelTrace sits below slog.LevelDebug and adds truncated request bodies.
const LevelTrace = slog.LevelDebug - 4

// areaSet is replaced wholesale by Init and only read afterwards.
type areaSet map[string]struct{}

var enabled atomic.Pointer[areaSet]

func init() {
	set := parseAreas(os.Getenv("CHRONICLE_DEBUG"))
	enabled.Store(&set)
}

// Init selects the areas to log. A non-empty CHRONICLE_DEBUG wins over
// configured.
func Init(configured string) {
	list := os.Getenv("CHRONICLE_DEBUG")
	if list == "" {
		list = configured
	}
	set := parseAreas(list)
	enabled.Store(&set)
}

// Enabled reports whether area is selected.
func Enabled(area string) bool {
	set := *enabled.Load()
	if _, ok := set[All]; ok {
		return true
	}
	_, ok := set[area]
	return ok
}

// Log writes a debug record tagged with area, if area is selected.
func Log(area, msg string, args ...any) {
	if Enabled(area) {
		slog.Debug(msg, tagged(area, args)...)
	}
}

// Trace writes a trace record tagged with area, if area is selected and the
// default logger accepts LevelTrace.
func Trace(area, msg string, args ...any) {
	if TraceIsEnabled(area) {
		slog.Log(context.Background(), LevelTrace, msg, tagged(area, args)...)
	}
}

// TraceIsEnabled lets callers skip building expensive trace attributes.
func TraceIsEnabled(area string) bool {
	return Enabled(area) && slog.Default().Enabled(context.Background(), LevelTrace)
}

// ParseLevel maps a configured level name to a slog level. "trace" is
// LevelTrace; unknown names fall back to info.
func ParseLevel(name string) slog.Level {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "trace":
		return LevelTrace
	case "warning":
		return slog.LevelWarn
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Categories lists the selected areas in sorted order.
func Categories() []string {
	set := *enabled.Load()
	out := make([]string, 0, len(set))
	for area := range set {
		out = append(out, area)
	}
	slices.Sort(out)
	return out
}

// Truncate shortens s to at most max bytes without splitting a UTF-8
// sequence, marking the cut with "...".
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func tagged(area string, args []any) []any {
	return append([]any{"debug", area}, args...)
}

func parseAreas(list string) areaSet {
	set := make(areaSet)
	for _, area := range strings.Split(list, ",") {
		if area = strings.ToLower(strings.TrimSpace(area)); area != "" {
			set[area] = struct{}{}
		}
	}
	return set
}
