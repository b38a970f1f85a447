package chat

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/park285/cheese-session/internal/domain"
	"github.com/park285/cheese-session/internal/metrics"
	"github.com/park285/cheese-session/internal/notify"
	"github.com/park285/cheese-session/internal/obslog"
	"github.com/park285/cheese-session/pkg/sessiondto"
	"go.uber.org/zap"
)

// EventInsert is published for every committed chat row.
const EventInsert = "chat.insert"

var (
	ErrEmptyMessage = sessiondto.Validation("chat message is empty")
	ErrClosed       = sessiondto.Validation("chat channel closed")
	ErrUnavailable  = sessiondto.Transient("chat store unavailable")
	ErrNoSession    = sessiondto.NotFound("chat session not found")
	ErrNotSeated    = sessiondto.Validation("sender is not a participant of this session")
)

// MessageStore is the durable side of the chat: the chat_messages table plus the
// online_games row that names the two participants allowed to write.
type MessageStore interface {
	GetGame(ctx context.Context, id string) (*domain.GameSession, error)
	ChatHistory(ctx context.Context, gameID string) ([]domain.ChatMessage, error)
	InsertChatMessage(ctx context.Context, gameID, senderID, text string) (domain.ChatMessage, error)
}

// Hub couples the message store with the notification bus: every committed row is
// announced to all current listeners of its session.
type Hub struct {
	store MessageStore
	bus   *notify.Bus
}

func NewHub(store MessageStore, bus *notify.Bus) *Hub { return &Hub{store: store, bus: bus} }

func topic(gameID string) string { return "chat:" + strings.TrimSpace(gameID) }

// History returns every message of the session ordered by created_at ascending.
func (h *Hub) History(ctx context.Context, gameID string) ([]domain.ChatMessage, error) {
	msgs, err := h.store.ChatHistory(ctx, strings.TrimSpace(gameID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return msgs, nil
}

// Append inserts a message from one of the session's two participants and announces it.
// ref is echoed back to listeners so the sender can reconcile its optimistic entry. A
// failed announcement is only logged: the row is durable and listeners recover it on
// their next history fetch.
func (h *Hub) Append(ctx context.Context, gameID, senderID, text, ref string) (domain.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ChatMessage{}, ErrEmptyMessage
	}
	gameID, senderID = strings.TrimSpace(gameID), strings.TrimSpace(senderID)
	if err := h.seated(ctx, gameID, senderID); err != nil {
		return domain.ChatMessage{}, err
	}
	msg, err := h.store.InsertChatMessage(ctx, gameID, senderID, text)
	if err != nil {
		obslog.Game(gameID).Warn("chat_insert_error", zap.String("sender_id", senderID), zap.Error(err))
		return domain.ChatMessage{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	metrics.ChatMessages.WithLabelValues("inserted").Inc()
	if perr := h.bus.Publish(ctx, topic(gameID), EventInsert, ref, msg); perr != nil {
		obslog.Game(gameID).Warn("chat_publish_error", zap.String("message_id", msg.ID), zap.Error(perr))
	}
	return msg, nil
}

func (h *Hub) seated(ctx context.Context, gameID, senderID string) error {
	g, err := h.store.GetGame(ctx, gameID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if g == nil {
		return ErrNoSession
	}
	if senderID == "" || !g.IsParticipant(senderID) {
		metrics.ChatMessages.WithLabelValues("rejected").Inc()
		obslog.Game(gameID).Warn("chat_sender_rejected", zap.String("sender_id", senderID))
		return ErrNotSeated
	}
	return nil
}

// Listen delivers every announced message of the session with the sender's echo ref.
func (h *Hub) Listen(ctx context.Context, gameID string, fn func(msg domain.ChatMessage, ref string)) (io.Closer, error) {
	sub, err := h.bus.Subscribe(ctx, topic(gameID), func(ev notify.Event) {
		if ev.Kind != EventInsert {
			return
		}
		var msg domain.ChatMessage
		if err := ev.Decode(&msg); err != nil {
			obslog.Game(gameID).Warn("chat_event_decode_error", zap.Error(err))
			return
		}
		fn(msg, ev.Ref)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return sub, nil
}
