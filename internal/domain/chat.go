package domain

import "time"

// ChatMessage mirrors a row of chat_messages.
type ChatMessage struct {
	ID        string    `json:"id"`
	GameID    string    `json:"game_id"`
	SenderID  string    `json:"sender_id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageLess orders messages by created_at, ties broken by id.
func MessageLess(a, b ChatMessage) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
