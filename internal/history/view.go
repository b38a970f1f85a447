package history

import (
	"sync"

	"github.com/park285/cheese-session/pkg/sessiondto"
)

// View is a fetched history with a short preview and an expandable full list. Toggling
// never refetches.
type View struct {
	ViewerID string

	mu        sync.Mutex
	entries   []Entry
	preview   int
	expanded  bool
	loaded    bool
	emptyText string
}

// Visible returns the preview, or every entry when expanded.
func (v *View) Visible() []Entry {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := len(v.entries)
	if !v.expanded && n > v.preview {
		n = v.preview
	}
	return append([]Entry(nil), v.entries[:n]...)
}

func (v *View) All() []Entry {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Entry(nil), v.entries...)
}

// Toggle flips between preview and full list and returns the new state.
func (v *View) Toggle() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.expanded = !v.expanded
	return v.expanded
}

func (v *View) SetExpanded(expanded bool) {
	v.mu.Lock()
	v.expanded = expanded
	v.mu.Unlock()
}

func (v *View) Expanded() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.expanded
}

// HasMore reports whether entries are hidden behind the preview.
func (v *View) HasMore() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.entries) > v.preview
}

// Remaining is the number of entries the preview hides.
func (v *View) Remaining() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.entries) <= v.preview {
		return 0
	}
	return len(v.entries) - v.preview
}

func (v *View) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.entries)
}

// Loaded is false only before the first fetch has finished.
func (v *View) Loaded() bool {
	if v == nil {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loaded
}

func (v *View) EmptyText() string { return v.emptyText }

// Summary counts outcomes over all fetched entries.
func (v *View) Summary() sessiondto.HistorySummary {
	v.mu.Lock()
	defer v.mu.Unlock()
	var s sessiondto.HistorySummary
	for _, e := range v.entries {
		switch e.Outcome {
		case OutcomeWon:
			s.Won++
		case OutcomeLost:
			s.Lost++
		default:
			s.Draw++
		}
	}
	return s
}

// Response renders the visible entries for the presentation layer.
func (v *View) Response() sessiondto.HistoryResponse {
	visible := v.Visible()
	out := sessiondto.HistoryResponse{
		Entries:  make([]sessiondto.HistoryEntry, 0, len(visible)),
		Expanded: v.Expanded(),
		HasMore:  v.HasMore(),
		Summary:  v.Summary(),
	}
	if len(visible) == 0 {
		out.EmptyText = v.emptyText
	}
	for _, e := range visible {
		out.Entries = append(out.Entries, sessiondto.HistoryEntry{
			GameID:           e.Game.ID,
			Outcome:          string(e.Outcome),
			ResultLabel:      e.ResultLabel,
			OpponentID:       e.OpponentID,
			OpponentName:     e.OpponentName,
			Color:            e.Color,
			TimeControlLabel: e.TimeControlLabel,
			CompletedAt:      e.Game.CompletedAt,
			CompletedLabel:   e.CompletedLabel,
		})
	}
	return out
}
