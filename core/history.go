package core

import (
	"path"
	"strings"

	"pkt.systems/eclkernel/schema"
)

const historySession = 1

type historyBuffer struct {
	entries []schema.HistoryEntry
	max     int
}

func newHistory(max int) *historyBuffer {
	if max <= 0 {
		max = schema.DefaultHistoryMax
	}
	return &historyBuffer{max: max}
}

func newHistoryFromPersisted(max int, entries []schema.HistoryEntry) *historyBuffer {
	h := newHistory(max)
	if len(entries) > h.max {
		entries = entries[len(entries)-h.max:]
	}
	h.entries = append([]schema.HistoryEntry(nil), entries...)
	return h
}

func (h *historyBuffer) Append(line int, code string) bool {
	if h == nil || strings.TrimSpace(code) == "" {
		return false
	}
	h.entries = append(h.entries, schema.HistoryEntry{Session: historySession, Line: line, Input: code})
	if len(h.entries) > h.max {
		h.entries = h.entries[len(h.entries)-h.max:]
	}
	return true
}

func (h *historyBuffer) Entries() []schema.HistoryEntry {
	if h == nil {
		return nil
	}
	return append([]schema.HistoryEntry(nil), h.entries...)
}

// Query selects entries for a history_request.
func (h *historyBuffer) Query(req schema.HistoryRequest) []schema.HistoryEntry {
	if h == nil {
		return nil
	}
	switch req.HistAccessType {
	case "range":
		var out []schema.HistoryEntry
		for _, entry := range h.entries {
			if req.Start > 0 && entry.Line < req.Start {
				continue
			}
			if req.Stop > 0 && entry.Line >= req.Stop {
				continue
			}
			out = append(out, entry)
		}
		return out
	case "search":
		pattern := req.Pattern
		if pattern == "" {
			pattern = "*"
		}
		var out []schema.HistoryEntry
		for _, entry := range h.entries {
			if ok, err := path.Match(pattern, entry.Input); err == nil && ok {
				out = append(out, entry)
			}
		}
		return tail(out, req.N)
	default:
		return tail(h.Entries(), req.N)
	}
}

func tail(entries []schema.HistoryEntry, n int) []schema.HistoryEntry {
	if n <= 0 || n >= len(entries) {
		return entries
	}
	return entries[len(entries)-n:]
}

func historyTriples(entries []schema.HistoryEntry) [][]any {
	out := make([][]any, 0, len(entries))
	for _, entry := range entries {
		out = append(out, []any{entry.Session, entry.Line, entry.Input})
	}
	return out
}
