package history

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrSuperseded is returned to a Load whose result arrived after a newer Load started.
var ErrSuperseded = errors.New("history load superseded by a newer request")

// Board holds the current history of one viewer slot. Only the most recently started
// Load may install its result.
type Board struct {
	agg *Aggregator

	mu      sync.Mutex
	seq     uint64
	current *View
}

func NewBoard(agg *Aggregator) *Board { return &Board{agg: agg} }

// Load fetches viewerID's history and makes it current unless a newer Load has begun.
// Re-loading the same viewer keeps the expansion state.
func (b *Board) Load(ctx context.Context, viewerID string) (*View, error) {
	b.mu.Lock()
	b.seq++
	seq := b.seq
	b.mu.Unlock()

	v, err := b.agg.Fetch(ctx, viewerID)

	b.mu.Lock()
	defer b.mu.Unlock()
	if seq != b.seq {
		return nil, ErrSuperseded
	}
	if prev := b.current; prev != nil && prev.ViewerID == strings.TrimSpace(viewerID) {
		v.SetExpanded(prev.Expanded())
	}
	b.current = v
	return v, err
}

// Current returns the last installed view, or nil before the first Load completes.
func (b *Board) Current() *View {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}
