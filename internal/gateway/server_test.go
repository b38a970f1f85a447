package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/park285/cheese-session/internal/chat"
	"github.com/park285/cheese-session/internal/domain"
	"github.com/park285/cheese-session/internal/history"
	"github.com/park285/cheese-session/internal/match"
	"github.com/park285/cheese-session/internal/notify"
	"github.com/park285/cheese-session/internal/store"
	"github.com/park285/cheese-session/pkg/sessiondto"
	"github.com/redis/go-redis/v9"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type fixture struct {
	srv      *httptest.Server
	auth     *Auth
	sessions *match.Manager
	mem      *store.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	mem := store.NewMemory()
	mem.PutProfile(domain.Profile{UserID: "u1", Username: "one"})
	mem.PutProfile(domain.Profile{UserID: "u2", Username: "two", DisplayName: "Player Two"})
	bus := notify.NewBus(rdb)
	sessions := match.NewManager(rdb, bus, match.WithResultWriter(mem))
	auth := NewAuth("test-secret")

	r := NewRouter(Deps{
		Sessions: sessions,
		Chat:     chat.NewHub(mem, bus),
		History:  history.NewAggregator(mem, mem),
		Profiles: mem,
		Auth:     auth,
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, auth: auth, sessions: sessions, mem: mem}
}

func (f *fixture) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := f.auth.Issue(userID, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/healthz", "/metrics"} {
		resp, err := http.Get(f.srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s: status %d", path, resp.StatusCode)
		}
	}
}

func TestHistoryRequiresToken(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/api/history")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/api/history", nil)
	req.Header.Set("Authorization", "Bearer "+NewAuth("other").mustIssue(t, "u1"))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for foreign signature, got %d", resp.StatusCode)
	}
}

func (a *Auth) mustIssue(t *testing.T, userID string) string {
	t.Helper()
	tok, err := a.Issue(userID, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

func TestHistoryFromViewerPerspective(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.sessions.Create(ctx, "u1", "u2", "white", 300)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.sessions.Resign(ctx, rec.ID, "u1"); err != nil {
		t.Fatalf("Resign: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/api/history", nil)
	req.Header.Set("Authorization", "Bearer "+f.token(t, "u1"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var body sessiondto.HistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Entries) != 1 {
		t.Fatalf("expected one entry, got %+v", body)
	}
	e := body.Entries[0]
	if e.Outcome != "lost" || e.ResultLabel != "Resignation" || e.OpponentName != "Player Two" || e.TimeControlLabel != "5m" {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if body.Summary.Lost != 1 {
		t.Fatalf("unexpected summary: %+v", body.Summary)
	}
}

func TestHistoryStoreFailure(t *testing.T) {
	f := newFixture(t)
	f.mem.FailGames = errTest("games down")
	req := httptest.NewRequest(http.MethodGet, "/api/history?token="+f.token(t, "u1"), nil)
	w := httptest.NewRecorder()
	f.srv.Config.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable || !strings.Contains(w.Body.String(), sessiondto.CodeTransient) {
		t.Fatalf("expected 503 transient, got %d %s", w.Code, w.Body.String())
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }

func dialStream(t *testing.T, f *fixture, gameID, userID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/api/games/" + gameID + "/stream?token=" + f.token(t, userID)
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial %s: %v", userID, err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, what string, ok func(sessiondto.Frame) bool) sessiondto.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		var f sessiondto.Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			t.Fatalf("waiting for %s: %v", what, err)
		}
		if ok(f) {
			return f
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, cmd sessiondto.Command) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, cmd); err != nil {
		t.Fatalf("write %s: %v", cmd.Type, err)
	}
}

func TestStreamDrawAndChat(t *testing.T) {
	f := newFixture(t)
	rec, err := f.sessions.Create(context.Background(), "u1", "u2", "white", 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	c1 := dialStream(t, f, rec.ID, "u1")
	c2 := dialStream(t, f, rec.ID, "u2")

	first := readUntil(t, c1, "initial snapshot", func(fr sessiondto.Frame) bool { return fr.Type == sessiondto.FrameSnapshot })
	if first.Chat.Title != "Chat with Player Two" || !first.Draw.CanOffer || first.Chat.EmptyText == "" {
		t.Fatalf("unexpected initial snapshot: %+v %+v", first.Chat, first.Draw)
	}
	readUntil(t, c2, "initial snapshot", func(fr sessiondto.Frame) bool { return fr.Type == sessiondto.FrameSnapshot })

	send(t, c1, sessiondto.Command{Type: sessiondto.CmdDrawOffer})
	readUntil(t, c1, "offering", func(fr sessiondto.Frame) bool { return fr.Draw != nil && fr.Draw.IsOffering })
	recv := readUntil(t, c2, "receiving", func(fr sessiondto.Frame) bool { return fr.Draw != nil && fr.Draw.IsReceiving })
	if recv.Draw.Prompt != "Opponent offers a draw" {
		t.Fatalf("unexpected prompt: %q", recv.Draw.Prompt)
	}

	send(t, c2, sessiondto.Command{Type: sessiondto.CmdChatSend, Text: "   "})
	errFrame := readUntil(t, c2, "validation error", func(fr sessiondto.Frame) bool { return fr.Type == sessiondto.FrameError })
	if errFrame.Code != sessiondto.CodeValidation {
		t.Fatalf("unexpected error frame: %+v", errFrame)
	}

	send(t, c2, sessiondto.Command{Type: sessiondto.CmdChatSend, Text: "gg"})
	got := readUntil(t, c1, "chat line", func(fr sessiondto.Frame) bool { return fr.Chat != nil && len(fr.Chat.Lines) > 0 })
	if len(got.Chat.Lines) != 1 || got.Chat.Lines[0].Message != "gg" || got.Chat.Lines[0].Mine || got.Chat.Unread != 1 {
		t.Fatalf("unexpected chat state: %+v", got.Chat)
	}
	send(t, c1, sessiondto.Command{Type: sessiondto.CmdChatOpen, Open: true})
	readUntil(t, c1, "unread reset", func(fr sessiondto.Frame) bool { return fr.Chat != nil && fr.Chat.Open && fr.Chat.Unread == 0 })

	send(t, c2, sessiondto.Command{Type: sessiondto.CmdDrawAccept})
	done := readUntil(t, c1, "completion", func(fr sessiondto.Frame) bool { return fr.Status == string(domain.StatusCompleted) })
	if done.Draw.IsOffering || done.Draw.IsReceiving || done.Draw.CanOffer {
		t.Fatalf("completed session must not show an offer: %+v", done.Draw)
	}
	g, _ := f.mem.GetGame(context.Background(), rec.ID)
	if g == nil || g.Result != domain.ResultDraw || g.WinnerID != "" {
		t.Fatalf("draw not persisted: %+v", g)
	}
}

func TestStreamRejectsOutsiders(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.sessions.Create(context.Background(), "u1", "u2", "white", 0)

	req := httptest.NewRequest(http.MethodGet, "/api/games/"+rec.ID+"/stream?token="+f.token(t, "u3"), nil)
	w := httptest.NewRecorder()
	f.srv.Config.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/games/missing/stream?token="+f.token(t, "u1"), nil)
	w = httptest.NewRecorder()
	f.srv.Config.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestAuthParse(t *testing.T) {
	a := NewAuth("s")
	sub, err := a.Parse(a.mustIssue(t, "u9"))
	if err != nil || sub != "u9" {
		t.Fatalf("Parse: %q %v", sub, err)
	}
	expired, _ := a.Issue("u9", -time.Minute)
	if _, err := a.Parse(expired); err == nil {
		t.Fatalf("expected expired token to fail")
	}
	if _, err := a.Parse(a.mustIssue(t, "")); err == nil {
		t.Fatalf("expected empty subject to fail")
	}
}

func (f *fixture) createGame(t *testing.T, userID, body string) (int, sessiondto.GameResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/games", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+f.token(t, userID))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.srv.Config.Handler.ServeHTTP(w, req)
	var out sessiondto.GameResponse
	if w.Code == http.StatusCreated {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return w.Code, out
}

func TestCreateGame(t *testing.T) {
	f := newFixture(t)
	code, g := f.createGame(t, "u1", `{"opponent_id":"u2","color":"black","time_control":180}`)
	if code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}
	if g.ID == "" || g.WhitePlayerID != "u2" || g.BlackPlayerID != "u1" || g.Status != string(domain.StatusInProgress) || g.TimeControl != 180 {
		t.Fatalf("unexpected game: %+v", g)
	}
	if _, err := f.sessions.Load(context.Background(), g.ID); err != nil {
		t.Fatalf("live record missing: %v", err)
	}
	if row, _ := f.mem.GetGame(context.Background(), g.ID); row == nil {
		t.Fatalf("created row missing from store")
	}

	if code, _ := f.createGame(t, "u1", `{"opponent_id":"u1"}`); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for self-play, got %d", code)
	}
	if code, _ := f.createGame(t, "u1", `{"color":"white"}`); code != http.StatusBadRequest {
		t.Fatalf("expected 400 without opponent, got %d", code)
	}
}

// playTo sends move on from and waits until watch sees n moves.
func playTo(t *testing.T, from, watch *websocket.Conn, move string, n int) sessiondto.Frame {
	t.Helper()
	send(t, from, sessiondto.Command{Type: sessiondto.CmdMove, Move: move})
	return readUntil(t, watch, move, func(fr sessiondto.Frame) bool { return fr.Type == sessiondto.FrameSnapshot && len(fr.Moves) == n })
}

func TestStreamMovesToCheckmate(t *testing.T) {
	f := newFixture(t)
	code, g := f.createGame(t, "u1", `{"opponent_id":"u2","color":"white"}`)
	if code != http.StatusCreated {
		t.Fatalf("create: %d", code)
	}
	white := dialStream(t, f, g.ID, "u1")
	black := dialStream(t, f, g.ID, "u2")
	readUntil(t, white, "initial snapshot", func(fr sessiondto.Frame) bool { return fr.Type == sessiondto.FrameSnapshot })
	readUntil(t, black, "initial snapshot", func(fr sessiondto.Frame) bool { return fr.Type == sessiondto.FrameSnapshot })

	send(t, black, sessiondto.Command{Type: sessiondto.CmdMove, Move: "e7e5"})
	errFrame := readUntil(t, black, "turn error", func(fr sessiondto.Frame) bool { return fr.Type == sessiondto.FrameError })
	if errFrame.Code != sessiondto.CodeValidation {
		t.Fatalf("unexpected error frame: %+v", errFrame)
	}

	playTo(t, white, black, "f2f3", 1)
	playTo(t, black, white, "e7e5", 2)
	playTo(t, white, black, "g2g4", 3)
	last := playTo(t, black, white, "d8h4", 4)
	if last.Status != string(domain.StatusCompleted) || last.Result != string(domain.ResultCheckmate) || last.WinnerID != "u2" {
		t.Fatalf("unexpected final frame: status=%s result=%s winner=%s", last.Status, last.Result, last.WinnerID)
	}
	if last.Draw == nil || last.Draw.CanOffer {
		t.Fatalf("finished game must not allow offers: %+v", last.Draw)
	}
	row, _ := f.mem.GetGame(context.Background(), g.ID)
	if row == nil || row.Result != domain.ResultCheckmate || row.WinnerID != "u2" {
		t.Fatalf("checkmate not persisted: %+v", row)
	}
}

func TestStreamResignAndFlag(t *testing.T) {
	f := newFixture(t)
	for _, tc := range []struct {
		cmd    string
		result domain.ResultKind
	}{
		{sessiondto.CmdResign, domain.ResultResignation},
		{sessiondto.CmdFlag, domain.ResultTimeout},
	} {
		_, g := f.createGame(t, "u1", `{"opponent_id":"u2","color":"white","time_control":60}`)
		c1 := dialStream(t, f, g.ID, "u1")
		c2 := dialStream(t, f, g.ID, "u2")
		readUntil(t, c2, "initial snapshot", func(fr sessiondto.Frame) bool { return fr.Type == sessiondto.FrameSnapshot })

		send(t, c1, sessiondto.Command{Type: tc.cmd})
		done := readUntil(t, c2, tc.cmd, func(fr sessiondto.Frame) bool { return fr.Status == string(domain.StatusCompleted) })
		if done.Result != string(tc.result) || done.WinnerID != "u2" {
			t.Fatalf("%s: unexpected frame result=%s winner=%s", tc.cmd, done.Result, done.WinnerID)
		}
		send(t, c1, sessiondto.Command{Type: sessiondto.CmdMove, Move: "e2e4"})
		if fr := readUntil(t, c1, "completed error", func(fr sessiondto.Frame) bool { return fr.Type == sessiondto.FrameError }); fr.Code != sessiondto.CodeValidation {
			t.Fatalf("%s: expected validation error after completion, got %+v", tc.cmd, fr)
		}
	}
}
