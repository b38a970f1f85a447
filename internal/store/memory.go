package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/park285/cheese-session/internal/domain"
)

// Memory is a development-only in-memory implementation of the relational collaborator.
// The Fail* hooks let tests simulate store outages per dataset.
type Memory struct {
	mu sync.RWMutex

	games    map[string]*domain.GameSession
	chat     map[string][]domain.ChatMessage // gameID -> append order
	profiles map[string]domain.Profile

	// Now assigns created_at to inserted chat messages.
	Now func() time.Time

	FailGames    error
	FailChat     error
	FailProfiles error

	profileCalls int
	chatInserts  int
}

func NewMemory() *Memory {
	return &Memory{
		games:    make(map[string]*domain.GameSession),
		chat:     make(map[string][]domain.ChatMessage),
		profiles: make(map[string]domain.Profile),
		Now:      time.Now,
	}
}

func (m *Memory) GetGame(ctx context.Context, id string) (*domain.GameSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailGames != nil {
		return nil, m.FailGames
	}
	g, ok := m.games[strings.TrimSpace(id)]
	if !ok {
		return nil, nil
	}
	cp := cloneGame(g)
	return &cp, nil
}

func (m *Memory) CompletedGames(ctx context.Context, playerID string, limit int) ([]domain.GameSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailGames != nil {
		return nil, m.FailGames
	}
	if limit <= 0 {
		limit = 20
	}
	var items []domain.GameSession
	for _, g := range m.games {
		if !g.Completed() || !g.IsParticipant(playerID) {
			continue
		}
		items = append(items, cloneGame(g))
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i].CompletedAt, items[j].CompletedAt
		if a == nil || b == nil {
			return b == nil && a != nil
		}
		if !a.Equal(*b) {
			return a.After(*b)
		}
		return items[i].ID > items[j].ID
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *Memory) SaveGame(ctx context.Context, g *domain.GameSession) error {
	if g == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailGames != nil {
		return m.FailGames
	}
	if cur, ok := m.games[g.ID]; ok && cur.Completed() {
		return nil
	}
	cp := cloneGame(g)
	m.games[g.ID] = &cp
	return nil
}

func (m *Memory) ChatHistory(ctx context.Context, gameID string) ([]domain.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailChat != nil {
		return nil, m.FailChat
	}
	out := append([]domain.ChatMessage(nil), m.chat[gameID]...)
	sort.SliceStable(out, func(i, j int) bool { return domain.MessageLess(out[i], out[j]) })
	return out, nil
}

func (m *Memory) InsertChatMessage(ctx context.Context, gameID, senderID, text string) (domain.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailChat != nil {
		return domain.ChatMessage{}, m.FailChat
	}
	msg := domain.ChatMessage{
		ID:        newMessageID(),
		GameID:    gameID,
		SenderID:  senderID,
		Message:   text,
		CreatedAt: m.Now().UTC(),
	}
	m.chat[gameID] = append(m.chat[gameID], msg)
	m.chatInserts++
	return msg, nil
}

// ChatInserts counts successful inserts.
func (m *Memory) ChatInserts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.chatInserts
}

func (m *Memory) ProfilesByIDs(ctx context.Context, ids []string) (map[string]domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profileCalls++
	if m.FailProfiles != nil {
		return nil, m.FailProfiles
	}
	out := make(map[string]domain.Profile, len(ids))
	for _, id := range ids {
		if p, ok := m.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// ProfileCalls counts ProfilesByIDs round trips.
func (m *Memory) ProfileCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.profileCalls
}

func (m *Memory) PutProfile(p domain.Profile) {
	m.mu.Lock()
	m.profiles[p.UserID] = p
	m.mu.Unlock()
}

func cloneGame(g *domain.GameSession) domain.GameSession {
	cp := *g
	if g.CompletedAt != nil {
		ts := *g.CompletedAt
		cp.CompletedAt = &ts
	}
	return cp
}
