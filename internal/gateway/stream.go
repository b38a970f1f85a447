package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/park285/cheese-session/internal/chat"
	"github.com/park285/cheese-session/internal/domain"
	"github.com/park285/cheese-session/internal/drawoffer"
	"github.com/park285/cheese-session/internal/match"
	"github.com/park285/cheese-session/internal/notify"
	"github.com/park285/cheese-session/internal/obslog"
	"github.com/park285/cheese-session/pkg/sessiondto"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const writeTimeout = 5 * time.Second

var errUnknownCommand = sessiondto.Validation("unknown command")

// stream upgrades to a WebSocket carrying one participant's live view of a session:
// snapshot frames out, commands in.
func (s *Server) stream(c *gin.Context) {
	viewer := ViewerID(c)
	gameID := c.Param("id")
	rec, err := s.d.Sessions.Load(c.Request.Context(), gameID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "code": errorCode(err)})
		return
	}
	if !rec.IsParticipant(viewer) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant", "code": sessiondto.CodeValidation})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(s.d.AllowedOrigins),
	})
	if err != nil {
		obslog.Game(gameID).Warn("stream_accept_error", zap.String("user_id", viewer), zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	sess := &streamSession{conn: conn, gameID: gameID, viewer: viewer, server: s, dirty: make(chan struct{}, 1)}
	defer sess.close()
	if err := sess.open(ctx, rec); err != nil {
		_ = sess.writeError(ctx, err)
		conn.Close(websocket.StatusTryAgainLater, "session unavailable")
		return
	}
	log := obslog.Game(gameID).With(zap.String("user_id", viewer))
	log.Info("stream_open")

	go sess.writeLoop(ctx)
	sess.poke()

	for {
		var cmd sessiondto.Command
		if err := wsjson.Read(ctx, conn, &cmd); err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				log.Debug("stream_read_end", zap.Error(err))
			}
			break
		}
		if err := sess.handle(ctx, cmd); err != nil {
			_ = sess.writeError(ctx, err)
		}
	}
	log.Info("stream_close")
	conn.Close(websocket.StatusNormalClosure, "")
}

type streamSession struct {
	server *Server
	conn   *websocket.Conn
	gameID string
	viewer string
	title  string

	draw  *drawoffer.Negotiator
	chat  *chat.Channel
	sub   *notify.Subscription
	dirty chan struct{}

	recMu sync.Mutex
	rec   *match.Record

	writeMu sync.Mutex
}

func (ss *streamSession) open(ctx context.Context, rec *match.Record) error {
	ss.title = ss.server.d.Catalog.Text("chat.title", map[string]any{"Opponent": ss.server.opponentName(ctx, rec, ss.viewer)}, "")
	ss.track(rec)
	sub, err := ss.server.d.Sessions.Subscribe(ctx, ss.gameID, func(_ string, r *match.Record) {
		if ss.track(r) {
			ss.poke()
		}
	})
	if err != nil {
		return err
	}
	ss.sub = sub
	if fresh, err := ss.server.d.Sessions.Load(ctx, ss.gameID); err == nil {
		ss.track(fresh)
	}
	neg, err := drawoffer.New(ctx, ss.server.d.Sessions, ss.gameID, ss.viewer, drawoffer.WithOnChange(func(drawoffer.View) { ss.poke() }))
	if err != nil {
		return err
	}
	ss.draw = neg
	ch, err := chat.Open(ctx, ss.server.d.Chat, ss.gameID, ss.viewer, chat.WithOnChange(ss.poke))
	if err != nil {
		return err
	}
	ss.chat = ch
	return nil
}

func (ss *streamSession) close() {
	if ss.sub != nil {
		_ = ss.sub.Close()
	}
	if ss.draw != nil {
		_ = ss.draw.Close()
	}
	if ss.chat != nil {
		_ = ss.chat.Close()
	}
}

// track keeps the newest session record seen; it reports whether r replaced it.
func (ss *streamSession) track(r *match.Record) bool {
	if r == nil {
		return false
	}
	ss.recMu.Lock()
	defer ss.recMu.Unlock()
	if ss.rec != nil && r.Version <= ss.rec.Version {
		return false
	}
	ss.rec = r
	return true
}

func (ss *streamSession) record() *match.Record {
	ss.recMu.Lock()
	defer ss.recMu.Unlock()
	return ss.rec
}

// poke schedules a snapshot; bursts of changes collapse into one frame.
func (ss *streamSession) poke() {
	select {
	case ss.dirty <- struct{}{}:
	default:
	}
}

func (ss *streamSession) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ss.dirty:
			if err := ss.write(ctx, ss.snapshot()); err != nil {
				obslog.Game(ss.gameID).Debug("stream_write_error", zap.String("user_id", ss.viewer), zap.Error(err))
				return
			}
		}
	}
}

func (ss *streamSession) handle(ctx context.Context, cmd sessiondto.Command) error {
	switch cmd.Type {
	case sessiondto.CmdChatSend:
		return ss.chat.Send(ctx, cmd.Text)
	case sessiondto.CmdChatOpen:
		ss.chat.SetOpen(cmd.Open)
		return nil
	case sessiondto.CmdDrawOffer:
		return ss.draw.Offer(ctx)
	case sessiondto.CmdDrawAccept:
		return ss.draw.Accept(ctx)
	case sessiondto.CmdDrawDecline:
		return ss.draw.Decline(ctx)
	case sessiondto.CmdMove:
		return ss.settle(ss.server.d.Sessions.PlayMove(ctx, ss.gameID, ss.viewer, cmd.Move))
	case sessiondto.CmdResign:
		return ss.settle(ss.server.d.Sessions.Resign(ctx, ss.gameID, ss.viewer))
	case sessiondto.CmdFlag:
		return ss.settle(ss.server.d.Sessions.Timeout(ctx, ss.gameID, ss.viewer))
	default:
		return errUnknownCommand
	}
}

// settle applies the record a session command returned without waiting for its push.
func (ss *streamSession) settle(rec *match.Record, err error) error {
	if err != nil {
		obslog.Game(ss.gameID).Debug("stream_command_rejected", zap.String("user_id", ss.viewer), zap.Error(err))
		return err
	}
	if ss.track(rec) {
		ss.poke()
	}
	return nil
}

func (ss *streamSession) snapshot() sessiondto.Frame {
	cat := ss.server.d.Catalog
	dv := ss.draw.View()
	status := string(domain.StatusInProgress)
	if dv.Completed {
		status = string(domain.StatusCompleted)
	}
	var (
		result, winner string
		moves          []string
	)
	if rec := ss.record(); rec != nil {
		if rec.Completed() {
			status = string(domain.StatusCompleted)
			result, winner = string(rec.Result), rec.WinnerID
		}
		moves = append(moves, rec.MovesUCI...)
	}
	draw := &sessiondto.DrawState{IsOffering: dv.IsOffering, IsReceiving: dv.IsReceiving, CanOffer: dv.CanOffer}
	if status == string(domain.StatusCompleted) {
		// the record may finish before the negotiator hears about it
		draw = &sessiondto.DrawState{}
	}
	switch {
	case draw.IsOffering:
		draw.Prompt = cat.Text("draw.offering", nil, "")
	case draw.IsReceiving:
		draw.Prompt = cat.Text("draw.receiving", nil, "")
	}

	entries := ss.chat.Entries()
	cs := &sessiondto.ChatState{
		Title:  ss.title,
		Open:   ss.chat.IsOpen(),
		Unread: ss.chat.Unread(),
		Lines:  make([]sessiondto.ChatLine, 0, len(entries)),
	}
	for _, e := range entries {
		id := e.ID
		if e.Pending {
			id = e.Ref
		}
		cs.Lines = append(cs.Lines, sessiondto.ChatLine{
			ID:        id,
			SenderID:  e.SenderID,
			Message:   e.Message,
			CreatedAt: e.CreatedAt,
			Mine:      e.SenderID == ss.viewer,
			Pending:   e.Pending,
		})
	}
	if len(cs.Lines) == 0 {
		cs.EmptyText = cat.Text("chat.empty", nil, "")
	}
	return sessiondto.Frame{
		Type:     sessiondto.FrameSnapshot,
		GameID:   ss.gameID,
		Status:   status,
		Result:   result,
		WinnerID: winner,
		Moves:    moves,
		Chat:     cs,
		Draw:     draw,
	}
}

func (ss *streamSession) writeError(ctx context.Context, err error) error {
	return ss.write(ctx, sessiondto.Frame{Type: sessiondto.FrameError, GameID: ss.gameID, Error: err.Error(), Code: errorCode(err)})
}

func (ss *streamSession) write(ctx context.Context, f sessiondto.Frame) error {
	ss.writeMu.Lock()
	defer ss.writeMu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	err := wsjson.Write(wctx, ss.conn, f)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
