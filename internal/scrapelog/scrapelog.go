// Package scrapelog provides the orchestrator's one-line-per-hospital
// event log in two renderers selected by --json-logs: plain prefixed text
// or flat single-line JSON, one object per line for log shippers.
package scrapelog

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
)

// Logger is the interface the orchestrator logs scrape events through.
type Logger interface {
	// Event logs one structured event: a short name plus arbitrary fields.
	Event(name string, fields map[string]any)
	// Printf logs an unstructured line, used for startup/shutdown chatter
	// that doesn't carry per-hospital fields.
	Printf(format string, args ...any)
}

// New returns a text Logger, or a JSON Logger if jsonLogs is true. Output
// goes to w (callers pass os.Stdout in production, a buffer in tests).
func New(w io.Writer, jsonLogs bool) Logger {
	if jsonLogs {
		return &jsonLogger{out: log.New(w, "", 0)}
	}
	return &textLogger{out: log.New(w, "", log.LstdFlags)}
}

type textLogger struct {
	out *log.Logger
}

func (l *textLogger) Event(name string, fields map[string]any) {
	l.out.Print(formatText(name, fields))
}

func (l *textLogger) Printf(format string, args ...any) {
	l.out.Printf(format, args...)
}

// formatText renders fields in sorted key order so output is deterministic
// and diffable across runs.
func formatText(name string, fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s := name
	for _, k := range keys {
		s += fmt.Sprintf(" %s=%v", k, fields[k])
	}
	return s
}

type jsonLogger struct {
	out *log.Logger
}

func (l *jsonLogger) Event(name string, fields map[string]any) {
	rec := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		rec[k] = v
	}
	rec["event"] = name
	b, err := json.Marshal(rec)
	if err != nil {
		l.out.Printf(`{"event":%q,"marshal_error":%q}`, name, err.Error())
		return
	}
	l.out.Print(string(b))
}

func (l *jsonLogger) Printf(format string, args ...any) {
	l.Event("log", map[string]any{"message": fmt.Sprintf(format, args...)})
}

// Stdout is a convenience constructor matching the CLI's --json-logs flag.
func Stdout(jsonLogs bool) Logger {
	return New(os.Stdout, jsonLogs)
}
