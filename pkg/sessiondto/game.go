package sessiondto

import "time"

// CreateGameRequest opens a session between the caller and OpponentID. Color is the
// caller's seat: "white", "black" or empty for a random draw.
type CreateGameRequest struct {
	OpponentID  string `json:"opponent_id" binding:"required"`
	Color       string `json:"color"`
	TimeControl int    `json:"time_control" binding:"gte=0"`
}

type GameResponse struct {
	ID            string    `json:"id"`
	WhitePlayerID string    `json:"white_player_id"`
	BlackPlayerID string    `json:"black_player_id"`
	Status        string    `json:"status"`
	TimeControl   int       `json:"time_control"`
	CreatedAt     time.Time `json:"created_at"`
}
