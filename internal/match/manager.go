package match

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/park285/cheese-session/internal/domain"
	"github.com/park285/cheese-session/internal/metrics"
	"github.com/park285/cheese-session/internal/notify"
	"github.com/park285/cheese-session/internal/obslog"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultTTL         = 24 * time.Hour
	maxWatchRetries    = 3
	afterCommitTimeout = 10 * time.Second
)

// ResultWriter persists session rows to the relational store.
type ResultWriter interface {
	SaveGame(ctx context.Context, g *domain.GameSession) error
}

type Manager struct {
	rdb  *redis.Client
	bus  *notify.Bus
	repo ResultWriter
	ttl  time.Duration
	now  func() time.Time
}

type Option func(*Manager)

// WithResultWriter wires the relational store used for created and final rows.
func WithResultWriter(w ResultWriter) Option { return func(m *Manager) { m.repo = w } }

func WithTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func NewManager(rdb *redis.Client, bus *notify.Bus, opts ...Option) *Manager {
	m := &Manager{rdb: rdb, bus: bus, ttl: defaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create opens a new in-progress session. colorChoice is "white", "black" or anything else
// for a random seat assignment of the challenger.
func (m *Manager) Create(ctx context.Context, challengerID, targetID, colorChoice string, timeControl int) (*Record, error) {
	if m == nil || m.rdb == nil {
		return nil, fmt.Errorf("match manager not initialized")
	}
	challengerID, targetID = strings.TrimSpace(challengerID), strings.TrimSpace(targetID)
	if challengerID == "" || targetID == "" || challengerID == targetID {
		return nil, ErrInvalidParticipants
	}

	whiteID, blackID := challengerID, targetID
	switch strings.ToLower(strings.TrimSpace(colorChoice)) {
	case "white", "w":
	case "black", "b":
		whiteID, blackID = targetID, challengerID
	default:
		if n, _ := rand.Int(rand.Reader, big.NewInt(2)); n != nil && n.Int64() == 0 {
			whiteID, blackID = targetID, challengerID
		}
	}

	now := m.now().UTC()
	rec := &Record{
		GameSession: domain.GameSession{
			ID:            uuid.NewString(),
			WhitePlayerID: whiteID,
			BlackPlayerID: blackID,
			Status:        domain.StatusInProgress,
			TimeControl:   timeControl,
			CreatedAt:     now,
		},
		MovesUCI:  []string{},
		Version:   1,
		UpdatedAt: now,
	}
	if m.repo != nil {
		if err := m.repo.SaveGame(ctx, &rec.GameSession); err != nil {
			return nil, err
		}
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	if err := m.rdb.Set(ctx, gameKey(rec.ID), raw, m.ttl).Err(); err != nil {
		return nil, err
	}
	obslog.L().Info("session_create",
		zap.String("game_id", rec.ID),
		zap.String("white_id", rec.WhitePlayerID),
		zap.String("black_id", rec.BlackPlayerID),
		zap.Int("time_control", rec.TimeControl),
	)
	return rec, nil
}

// Load returns the live record or ErrNotFound.
func (m *Manager) Load(ctx context.Context, id string) (*Record, error) {
	raw, err := m.rdb.Get(ctx, gameKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Update applies mutate to the record under optimistic concurrency control (WATCH on the
// record key), bumps the version and publishes the new state. A session that becomes
// completed has its draw offer cleared and its final row persisted before the
// completion is announced.
func (m *Manager) Update(ctx context.Context, id string, mutate func(*Record) error) (*Record, error) {
	key := gameKey(id)
	var (
		out          *Record
		completedNow bool
	)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var cur Record
		if err := json.Unmarshal(raw, &cur); err != nil {
			return err
		}
		wasCompleted := cur.Completed()
		if err := mutate(&cur); err != nil {
			return err
		}
		completedNow = !wasCompleted && cur.Completed()
		if cur.Completed() {
			cur.DrawOfferedBy = ""
		}
		cur.Version++
		cur.UpdatedAt = m.now().UTC()
		newRaw, err := json.Marshal(&cur)
		if err != nil {
			return err
		}
		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newRaw, m.ttl)
			return nil
		}); err != nil {
			return err
		}
		out = &cur
		return nil
	}

	var err error
	for i := 0; i < maxWatchRetries; i++ {
		err = m.rdb.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if errors.Is(err, redis.TxFailedErr) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}

	// the record is committed; persisting and announcing it must not depend on the caller staying around
	after, cancel := context.WithTimeout(context.WithoutCancel(ctx), afterCommitTimeout)
	defer cancel()
	kind := EventUpdated
	if completedNow {
		kind = EventCompleted
		metrics.Completions.WithLabelValues(string(out.Result)).Inc()
		obslog.Game(out.ID).Info("session_complete",
			zap.String("result", string(out.Result)),
			zap.String("winner_id", out.WinnerID),
		)
		_ = m.persistFinal(after, out)
	}
	if perr := m.bus.Publish(after, topic(out.ID), kind, "", out); perr != nil {
		obslog.Game(out.ID).Warn("session_publish_error", zap.String("kind", kind), zap.Error(perr))
	}
	return out, nil
}

// Subscribe delivers every published state of the session to fn.
func (m *Manager) Subscribe(ctx context.Context, id string, fn func(kind string, rec *Record)) (*notify.Subscription, error) {
	return m.bus.Subscribe(ctx, topic(id), func(ev notify.Event) {
		var rec Record
		if err := ev.Decode(&rec); err != nil {
			obslog.Game(id).Warn("session_event_decode_error", zap.Error(err))
			return
		}
		fn(ev.Kind, &rec)
	})
}

// Resign completes the session in favour of the resigning player's opponent.
func (m *Manager) Resign(ctx context.Context, id, userID string) (*Record, error) {
	return m.finish(ctx, id, userID, domain.ResultResignation)
}

// Timeout completes the session in favour of the opponent of the flagged player.
func (m *Manager) Timeout(ctx context.Context, id, flaggedID string) (*Record, error) {
	return m.finish(ctx, id, flaggedID, domain.ResultTimeout)
}

func (m *Manager) finish(ctx context.Context, id, loserID string, result domain.ResultKind) (*Record, error) {
	loserID = strings.TrimSpace(loserID)
	return m.Update(ctx, id, func(cur *Record) error {
		if cur.Completed() {
			return ErrCompleted
		}
		if !cur.IsParticipant(loserID) {
			return ErrNotParticipant
		}
		cur.Complete(result, cur.Opponent(loserID), m.now())
		return nil
	})
}

// persistFinal saves the terminal row when a result writer is attached.
func (m *Manager) persistFinal(ctx context.Context, rec *Record) error {
	if m.repo == nil || rec == nil || !rec.Completed() {
		return nil
	}
	if err := m.repo.SaveGame(ctx, &rec.GameSession); err != nil {
		obslog.Game(rec.ID).Error("session_result_persist_error", zap.String("result", string(rec.Result)), zap.Error(err))
		return err
	}
	obslog.Game(rec.ID).Info("session_result_persist", zap.String("result", string(rec.Result)))
	return nil
}

func gameKey(id string) string { return "session:game:" + strings.TrimSpace(id) }
