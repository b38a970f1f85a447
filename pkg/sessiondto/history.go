package sessiondto

import "time"

type HistoryEntry struct {
	GameID           string     `json:"game_id"`
	Outcome          string     `json:"outcome"`
	ResultLabel      string     `json:"result_label"`
	OpponentID       string     `json:"opponent_id,omitempty"`
	OpponentName     string     `json:"opponent_name"`
	Color            string     `json:"color"`
	TimeControlLabel string     `json:"time_control_label,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CompletedLabel   string     `json:"completed_label,omitempty"`
}

type HistorySummary struct {
	Won  int `json:"won"`
	Lost int `json:"lost"`
	Draw int `json:"draw"`
}

type HistoryResponse struct {
	Entries   []HistoryEntry `json:"entries"`
	Expanded  bool           `json:"expanded"`
	HasMore   bool           `json:"has_more"`
	Summary   HistorySummary `json:"summary"`
	EmptyText string         `json:"empty_text,omitempty"`
}
