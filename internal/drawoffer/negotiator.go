package drawoffer

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/park285/cheese-session/internal/domain"
	"github.com/park285/cheese-session/internal/match"
	"github.com/park285/cheese-session/internal/metrics"
	"github.com/park285/cheese-session/internal/notify"
	"github.com/park285/cheese-session/internal/obslog"
	"github.com/park285/cheese-session/pkg/sessiondto"
	"go.uber.org/zap"
)

// Sessions is the live session store the negotiator reads and writes.
type Sessions interface {
	Load(ctx context.Context, id string) (*match.Record, error)
	Update(ctx context.Context, id string, mutate func(*match.Record) error) (*match.Record, error)
	Subscribe(ctx context.Context, id string, fn func(kind string, rec *match.Record)) (*notify.Subscription, error)
}

// Negotiator is one participant's handle on the draw negotiation of a session. Local state
// only changes from store confirmations and pushed session states, never ahead of them.
type Negotiator struct {
	sessions Sessions
	gameID   string
	viewerID string
	now      func() time.Time
	onChange func(View)

	mu        sync.Mutex
	white     string
	black     string
	state     State
	completed bool
	version   int64
	closed    bool
	sub       *notify.Subscription
}

type Option func(*Negotiator)

// WithOnChange registers a callback invoked after every applied state change.
func WithOnChange(fn func(View)) Option { return func(n *Negotiator) { n.onChange = fn } }

func WithClock(now func() time.Time) Option { return func(n *Negotiator) { n.now = now } }

// New subscribes to the session and then loads its current state, so no transition
// between the two steps is missed.
func New(ctx context.Context, sessions Sessions, gameID, viewerID string, opts ...Option) (*Negotiator, error) {
	n := &Negotiator{
		sessions: sessions,
		gameID:   strings.TrimSpace(gameID),
		viewerID: strings.TrimSpace(viewerID),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	sub, err := sessions.Subscribe(ctx, n.gameID, func(_ string, rec *match.Record) { n.apply(rec) })
	if err != nil {
		return nil, err
	}
	n.sub = sub
	if err := n.Refresh(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}
	return n, nil
}

// Refresh reloads the session state from the store.
func (n *Negotiator) Refresh(ctx context.Context) error {
	rec, err := n.sessions.Load(ctx, n.gameID)
	if err != nil {
		return err
	}
	n.apply(rec)
	return nil
}

// apply installs rec if it is newer than what this negotiator has seen.
func (n *Negotiator) apply(rec *match.Record) {
	if rec == nil {
		return
	}
	n.mu.Lock()
	if n.closed || rec.Version <= n.version {
		n.mu.Unlock()
		return
	}
	n.version = rec.Version
	n.white, n.black = rec.WhitePlayerID, rec.BlackPlayerID
	n.completed = rec.Completed()
	if n.completed {
		n.state = State{}
	} else {
		n.state = State{OfferedBy: rec.DrawOfferedBy}
	}
	view := n.viewLocked()
	cb := n.onChange
	n.mu.Unlock()
	if cb != nil {
		cb(view)
	}
}

func (n *Negotiator) View() View {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.viewLocked()
}

func (n *Negotiator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *Negotiator) viewLocked() View {
	peer := ""
	switch n.viewerID {
	case "":
	case n.white:
		peer = n.black
	case n.black:
		peer = n.white
	}
	return n.state.ViewFor(n.viewerID, peer, n.completed)
}

// precheck rejects actions the local state already rules out, without touching the store.
func (n *Negotiator) precheck(action string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch {
	case n.closed:
		return ErrClosed
	case n.completed:
		return ErrGameCompleted
	case n.viewerID == "" || (n.viewerID != n.white && n.viewerID != n.black):
		return ErrNotParticipant
	}
	switch action {
	case "offer":
		if !n.state.Idle() {
			return ErrOfferPending
		}
	default:
		if n.state.Idle() {
			return ErrNoOffer
		}
		if n.state.OfferedBy == n.viewerID {
			return ErrOwnOffer
		}
	}
	return nil
}

// Offer moves Idle to Offered(viewer).
func (n *Negotiator) Offer(ctx context.Context) error {
	return n.act(ctx, "offer", func(cur *match.Record) error {
		if err := n.guard(cur); err != nil {
			return err
		}
		if cur.DrawOfferedBy != "" {
			return ErrOfferPending
		}
		cur.DrawOfferedBy = n.viewerID
		return nil
	})
}

// Accept answers the opponent's offer and completes the session as a draw.
func (n *Negotiator) Accept(ctx context.Context) error {
	return n.act(ctx, "accept", func(cur *match.Record) error {
		if err := n.answerable(cur); err != nil {
			return err
		}
		cur.Complete(domain.ResultDraw, "", n.now())
		return nil
	})
}

// Decline answers the opponent's offer and returns to Idle; the result is untouched.
func (n *Negotiator) Decline(ctx context.Context) error {
	return n.act(ctx, "decline", func(cur *match.Record) error {
		if err := n.answerable(cur); err != nil {
			return err
		}
		cur.DrawOfferedBy = ""
		return nil
	})
}

func (n *Negotiator) guard(cur *match.Record) error {
	if cur.Completed() {
		return ErrGameCompleted
	}
	if !cur.IsParticipant(n.viewerID) {
		return ErrNotParticipant
	}
	return nil
}

func (n *Negotiator) answerable(cur *match.Record) error {
	if err := n.guard(cur); err != nil {
		return err
	}
	if cur.DrawOfferedBy == "" {
		return ErrNoOffer
	}
	if cur.DrawOfferedBy == n.viewerID {
		return ErrOwnOffer
	}
	return nil
}

func (n *Negotiator) act(ctx context.Context, action string, mutate func(*match.Record) error) error {
	log := obslog.Game(n.gameID).With(zap.String("user_id", n.viewerID), zap.String("action", action))
	if err := n.precheck(action); err != nil {
		metrics.DrawActions.WithLabelValues(action, "rejected").Inc()
		log.Debug("draw_action_rejected", zap.Error(err))
		return err
	}
	rec, err := n.sessions.Update(ctx, n.gameID, mutate)
	if err != nil {
		if sessiondto.IsValidation(err) {
			// local state was behind the store
			metrics.DrawActions.WithLabelValues(action, "rejected").Inc()
			if rerr := n.Refresh(ctx); rerr != nil {
				log.Warn("draw_refresh_error", zap.Error(rerr))
			}
		} else {
			metrics.DrawActions.WithLabelValues(action, "error").Inc()
			log.Warn("draw_action_error", zap.Error(err))
		}
		return err
	}
	metrics.DrawActions.WithLabelValues(action, "ok").Inc()
	log.Info("draw_action", zap.String("offered_by", rec.DrawOfferedBy), zap.String("status", string(rec.Status)))
	n.apply(rec)
	return nil
}

// Close stops push delivery. Safe to call more than once.
func (n *Negotiator) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	sub := n.sub
	n.mu.Unlock()
	return sub.Close()
}
