package chat

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/cheese-session/internal/domain"
	"github.com/park285/cheese-session/internal/metrics"
	"github.com/park285/cheese-session/internal/obslog"
	"go.uber.org/zap"
)

// Transport is what a Channel needs from the chat backend. *Hub implements it.
type Transport interface {
	History(ctx context.Context, gameID string) ([]domain.ChatMessage, error)
	Append(ctx context.Context, gameID, senderID, text, ref string) (domain.ChatMessage, error)
	Listen(ctx context.Context, gameID string, fn func(msg domain.ChatMessage, ref string)) (io.Closer, error)
}

// Entry is one displayed line. Pending entries are optimistic echoes of the viewer's own
// sends that the store has not confirmed yet; they carry Ref instead of an id.
type Entry struct {
	domain.ChatMessage
	Ref     string
	Pending bool
}

// Channel is one viewer's ordered view of a session's chat. It merges history replays and
// live pushes into a single sorted, duplicate-free sequence and tracks unread messages
// from the peer while the panel is closed.
type Channel struct {
	t        Transport
	gameID   string
	viewerID string
	now      func() time.Time
	onChange func()

	mu        sync.Mutex
	confirmed []domain.ChatMessage
	seen      map[string]struct{}
	pending   []Entry
	open      bool
	unread    int
	closed    bool
	gen       uint64
	listener  io.Closer
}

type Option func(*Channel)

// WithOnChange registers a callback invoked after the visible sequence or unread count changes.
func WithOnChange(fn func()) Option { return func(c *Channel) { c.onChange = fn } }

func WithClock(now func() time.Time) Option { return func(c *Channel) { c.now = now } }

// Open starts listening for the session and then replays its history, so a message
// committed between the two steps is seen by at least one of them.
func Open(ctx context.Context, t Transport, gameID, viewerID string, opts ...Option) (*Channel, error) {
	c := &Channel{
		t:        t,
		gameID:   strings.TrimSpace(gameID),
		viewerID: strings.TrimSpace(viewerID),
		now:      time.Now,
		seen:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.connect(ctx, false); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Reconnect replaces the live listener and replays history. Messages missed while
// disconnected count as unread like any other new peer message.
func (c *Channel) Reconnect(ctx context.Context) error {
	return c.connect(ctx, true)
}

func (c *Channel) connect(ctx context.Context, countUnread bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.gen++
	gen := c.gen
	old := c.listener
	c.listener = nil
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	l, err := c.t.Listen(ctx, c.gameID, func(msg domain.ChatMessage, ref string) {
		c.deliver(gen, msg, ref, true)
	})
	if err != nil {
		obslog.Game(c.gameID).Warn("chat_listen_error", zap.String("user_id", c.viewerID), zap.Error(err))
		return err
	}
	c.mu.Lock()
	if c.closed || c.gen != gen {
		c.mu.Unlock()
		_ = l.Close()
		return ErrClosed
	}
	c.listener = l
	c.mu.Unlock()

	return c.fetch(ctx, gen, countUnread)
}

// FetchHistory replays the stored history into the view. Safe to call repeatedly.
func (c *Channel) FetchHistory(ctx context.Context) error {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	return c.fetch(ctx, gen, true)
}

func (c *Channel) fetch(ctx context.Context, gen uint64, countUnread bool) error {
	msgs, err := c.t.History(ctx, c.gameID)
	if err != nil {
		obslog.Game(c.gameID).Warn("chat_history_error", zap.String("user_id", c.viewerID), zap.Error(err))
		return err
	}
	changed := false
	c.mu.Lock()
	if c.closed || c.gen != gen {
		c.mu.Unlock()
		return nil
	}
	for _, m := range msgs {
		if c.insertLocked(m, "", countUnread) {
			changed = true
		}
	}
	c.mu.Unlock()
	if changed {
		c.changed()
	}
	return nil
}

// Ingest merges one authoritative message into the view. It reports whether the
// message was new. ref reconciles a pending echo of the same send.
func (c *Channel) Ingest(msg domain.ChatMessage, ref string) bool {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	return c.deliver(gen, msg, ref, true)
}

func (c *Channel) deliver(gen uint64, msg domain.ChatMessage, ref string, countUnread bool) bool {
	c.mu.Lock()
	if c.closed || c.gen != gen {
		c.mu.Unlock()
		return false
	}
	added := c.insertLocked(msg, ref, countUnread)
	c.mu.Unlock()
	if added {
		metrics.ChatMessages.WithLabelValues("received").Inc()
		c.changed()
	} else {
		metrics.ChatMessages.WithLabelValues("duplicate").Inc()
	}
	return added
}

// insertLocked places msg in sorted position unless its id was already seen.
func (c *Channel) insertLocked(msg domain.ChatMessage, ref string, countUnread bool) bool {
	if msg.ID == "" || (msg.GameID != "" && msg.GameID != c.gameID) {
		return false
	}
	if ref != "" {
		c.dropPendingLocked(ref)
	}
	if _, ok := c.seen[msg.ID]; ok {
		return false
	}
	c.seen[msg.ID] = struct{}{}
	i := sort.Search(len(c.confirmed), func(i int) bool { return domain.MessageLess(msg, c.confirmed[i]) })
	c.confirmed = append(c.confirmed, domain.ChatMessage{})
	copy(c.confirmed[i+1:], c.confirmed[i:])
	c.confirmed[i] = msg
	if countUnread && !c.open && msg.SenderID != c.viewerID {
		c.unread++
	}
	return true
}

func (c *Channel) dropPendingLocked(ref string) bool {
	for i, e := range c.pending {
		if e.Ref == ref {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return true
		}
	}
	return false
}

// Send appends text as the viewer. The message shows immediately as a pending echo and
// is replaced by the stored row once confirmed. On failure the echo is withdrawn and the
// error returned so the caller can keep its input for a retry.
func (c *Channel) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		metrics.ChatMessages.WithLabelValues("rejected").Inc()
		return ErrEmptyMessage
	}
	ref := uuid.NewString()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending = append(c.pending, Entry{
		ChatMessage: domain.ChatMessage{GameID: c.gameID, SenderID: c.viewerID, Message: text, CreatedAt: c.now().UTC()},
		Ref:         ref,
		Pending:     true,
	})
	c.mu.Unlock()
	c.changed()

	msg, err := c.t.Append(ctx, c.gameID, c.viewerID, text, ref)
	if err != nil {
		metrics.ChatMessages.WithLabelValues("send_error").Inc()
		c.mu.Lock()
		dropped := c.dropPendingLocked(ref)
		c.mu.Unlock()
		if dropped {
			c.changed()
		}
		return err
	}
	metrics.ChatMessages.WithLabelValues("sent").Inc()
	c.Ingest(msg, ref)
	return nil
}

// Messages returns the confirmed messages in order.
func (c *Channel) Messages() []domain.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.ChatMessage(nil), c.confirmed...)
}

// Entries returns confirmed messages followed by pending echoes.
func (c *Channel) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, 0, len(c.confirmed)+len(c.pending))
	for _, m := range c.confirmed {
		out = append(out, Entry{ChatMessage: m})
	}
	return append(out, c.pending...)
}

// SetOpen marks the panel open or closed. Opening resets the unread count.
func (c *Channel) SetOpen(open bool) {
	c.mu.Lock()
	changed := c.open != open || (open && c.unread != 0)
	c.open = open
	if open {
		c.unread = 0
	}
	c.mu.Unlock()
	if changed {
		c.changed()
	}
}

func (c *Channel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *Channel) Unread() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread
}

func (c *Channel) GameID() string { return c.gameID }

func (c *Channel) ViewerID() string { return c.viewerID }

func (c *Channel) changed() {
	if c.onChange != nil {
		c.onChange()
	}
}

// Close releases the listener. Deliveries and fetch results arriving afterwards are
// discarded. Safe to call more than once.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	l := c.listener
	c.listener = nil
	c.mu.Unlock()
	if l != nil {
		return l.Close()
	}
	return nil
}
