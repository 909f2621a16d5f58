package logs

import (
	"encoding/json"
	"strings"
)

// Filter selects structured log lines. The zero value matches everything.
type Filter struct {
	// MinLevel drops lines below this level (debug, info, warn, error).
	MinLevel     string
	Component    string
	ConversionID string
	JobID        string
}

type entry struct {
	Level        string `json:"level"`
	Component    string `json:"component"`
	ConversionID string `json:"conversion_id"`
	JobID        string `json:"job_id"`
}

var levelRank = map[string]int{"debug": 0, "info": 1, "warn": 2, "warning": 2, "error": 3}

// Empty reports whether f matches every line.
func (f Filter) Empty() bool {
	return strings.TrimSpace(f.MinLevel) == "" && f.Component == "" && f.ConversionID == "" && f.JobID == ""
}

// Match reports whether line passes the filter. Lines that are not JSON
// objects, such as console output, only pass an empty filter.
func (f Filter) Match(line string) bool {
	if f.Empty() {
		return true
	}
	var e entry
	if err := json.Unmarshal([]byte(line), &e); err != nil {
		return false
	}
	if minLevel := strings.ToLower(strings.TrimSpace(f.MinLevel)); minLevel != "" {
		want, ok := levelRank[minLevel]
		got, known := levelRank[strings.ToLower(e.Level)]
		if ok && (!known || got < want) {
			return false
		}
	}
	if f.Component != "" && !strings.EqualFold(e.Component, f.Component) {
		return false
	}
	if f.ConversionID != "" && e.ConversionID != f.ConversionID {
		return false
	}
	if f.JobID != "" && e.JobID != f.JobID {
		return false
	}
	return true
}

func (f Filter) apply(lines []string) []string {
	if f.Empty() || len(lines) == 0 {
		return lines
	}
	out := lines[:0:0]
	for _, line := range lines {
		if f.Match(line) {
			out = append(out, line)
		}
	}
	return out
}
