package domain

import (
	"errors"
	"strings"
	"time"
)

// Status is the lifecycle state of an online game as stored in online_games.status.
// Values other than the two below are carried through opaquely.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// ResultKind is the outcome kind stored in online_games.result.
type ResultKind string

const (
	ResultCheckmate   ResultKind = "checkmate"
	ResultResignation ResultKind = "resignation"
	ResultTimeout     ResultKind = "timeout"
	ResultStalemate   ResultKind = "stalemate"
	ResultDraw        ResultKind = "draw"
)

// GameSession mirrors a row of online_games. Absent identifiers are empty strings.
type GameSession struct {
	ID            string     `json:"id"`
	WhitePlayerID string     `json:"white_player_id,omitempty"`
	BlackPlayerID string     `json:"black_player_id,omitempty"`
	Status        Status     `json:"status"`
	Result        ResultKind `json:"result,omitempty"`
	WinnerID      string     `json:"winner_id,omitempty"`
	TimeControl   int        `json:"time_control,omitempty"` // seconds per side, 0 when unset
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

var (
	ErrCompletedAtMismatch = errors.New("completed_at must be set iff status is completed")
	ErrWinnerNotSeated     = errors.New("winner must occupy a seat")
)

// Completed reports whether the session reached its terminal state.
func (g *GameSession) Completed() bool {
	return g != nil && g.Status == StatusCompleted
}

// IsParticipant reports whether userID occupies either seat.
func (g *GameSession) IsParticipant(userID string) bool {
	userID = strings.TrimSpace(userID)
	if g == nil || userID == "" {
		return false
	}
	return g.WhitePlayerID == userID || g.BlackPlayerID == userID
}

// Opponent returns the identifier seated across from userID, or "" when userID is not seated
// or the other seat is unfilled.
func (g *GameSession) Opponent(userID string) string {
	if g == nil {
		return ""
	}
	switch strings.TrimSpace(userID) {
	case "":
		return ""
	case g.WhitePlayerID:
		return g.BlackPlayerID
	case g.BlackPlayerID:
		return g.WhitePlayerID
	}
	return ""
}

// IsWhite reports whether userID holds the white seat.
func (g *GameSession) IsWhite(userID string) bool {
	return g != nil && userID != "" && g.WhitePlayerID == userID
}

// Validate checks the record invariants.
func (g *GameSession) Validate() error {
	if (g.CompletedAt != nil) != (g.Status == StatusCompleted) {
		return ErrCompletedAtMismatch
	}
	if g.WinnerID != "" && g.WinnerID != g.WhitePlayerID && g.WinnerID != g.BlackPlayerID {
		return ErrWinnerNotSeated
	}
	return nil
}

// Complete moves the session to its terminal state. completedAt is only ever set once;
// calling Complete on a completed session returns false and changes nothing.
func (g *GameSession) Complete(result ResultKind, winnerID string, at time.Time) bool {
	if g.Completed() {
		return false
	}
	ts := at.UTC()
	g.Status = StatusCompleted
	g.Result = result
	g.WinnerID = strings.TrimSpace(winnerID)
	g.CompletedAt = &ts
	return true
}

// Profile mirrors a row of profiles.
type Profile struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
}

// Name prefers the display name and falls back to the username.
func (p *Profile) Name() string {
	if p == nil {
		return ""
	}
	if n := strings.TrimSpace(p.DisplayName); n != "" {
		return n
	}
	return strings.TrimSpace(p.Username)
}
