package sessiondto

import "time"

// Frame types written to the session stream.
const (
	FrameSnapshot = "snapshot"
	FrameError    = "error"
)

// Command types read from the session stream.
const (
	CmdChatSend    = "chat.send"
	CmdChatOpen    = "chat.open"
	CmdDrawOffer   = "draw.offer"
	CmdDrawAccept  = "draw.accept"
	CmdDrawDecline = "draw.decline"
	CmdMove        = "move"
	CmdResign      = "resign"
	// CmdFlag reports that the sender's own clock ran out.
	CmdFlag = "clock.flag"
)

type Command struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Open bool   `json:"open,omitempty"`
	Move string `json:"move,omitempty"`
}

type ChatLine struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"sender_id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	Mine      bool      `json:"mine"`
	Pending   bool      `json:"pending,omitempty"`
}

type ChatState struct {
	Title     string     `json:"title"`
	Open      bool       `json:"open"`
	Unread    int        `json:"unread"`
	Lines     []ChatLine `json:"lines"`
	EmptyText string     `json:"empty_text,omitempty"`
}

type DrawState struct {
	IsOffering  bool   `json:"is_offering"`
	IsReceiving bool   `json:"is_receiving"`
	CanOffer    bool   `json:"can_offer"`
	Prompt      string `json:"prompt,omitempty"`
}

type Frame struct {
	Type     string     `json:"type"`
	GameID   string     `json:"game_id"`
	Status   string     `json:"status,omitempty"`
	Result   string     `json:"result,omitempty"`
	WinnerID string     `json:"winner_id,omitempty"`
	Moves    []string   `json:"moves,omitempty"`
	Chat     *ChatState `json:"chat,omitempty"`
	Draw     *DrawState `json:"draw,omitempty"`
	Error    string     `json:"error,omitempty"`
	Code     string     `json:"code,omitempty"`
}
