package match

import (
	"time"

	"github.com/park285/cheese-session/internal/domain"
	"github.com/park285/cheese-session/pkg/sessiondto"
)

// Record is the live state of one online game held in Redis. DrawOfferedBy is the
// lightweight negotiation field; it is always cleared when the session completes.
type Record struct {
	domain.GameSession
	MovesUCI      []string  `json:"moves_uci"`
	DrawOfferedBy string    `json:"draw_offered_by,omitempty"`
	Version       int64     `json:"version"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Event kinds published on the session topic.
const (
	EventUpdated   = "session.updated"
	EventCompleted = "session.completed"
)

var (
	ErrNotFound            = sessiondto.NotFound("game session not found")
	ErrInvalidParticipants = sessiondto.Validation("a session needs two distinct participants")
	ErrCompleted           = sessiondto.Validation("game session already completed")
	ErrNotParticipant      = sessiondto.Validation("user is not a participant of this session")
	ErrNotYourTurn         = sessiondto.Validation("not your turn")
	ErrIllegalMove         = sessiondto.Validation("illegal move")
	ErrConflict            = sessiondto.Transient("concurrent session update, retry")
)

func topic(gameID string) string { return "session:" + gameID }
