package match

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/park285/cheese-session/internal/domain"
	"github.com/park285/cheese-session/internal/notify"
	"github.com/park285/cheese-session/internal/store"
	"github.com/redis/go-redis/v9"
)

func newTestManager(t *testing.T) (*Manager, *store.Memory) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	mem := store.NewMemory()
	return NewManager(rdb, notify.NewBus(rdb), WithResultWriter(mem)), mem
}

func TestCreateAssignsRequestedColor(t *testing.T) {
	m, mem := newTestManager(t)
	ctx := context.Background()
	rec, err := m.Create(ctx, "u1", "u2", "black", 300)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.WhitePlayerID != "u2" || rec.BlackPlayerID != "u1" {
		t.Fatalf("unexpected seats: white=%s black=%s", rec.WhitePlayerID, rec.BlackPlayerID)
	}
	if rec.Status != domain.StatusInProgress || rec.CompletedAt != nil {
		t.Fatalf("new session must be in progress: %+v", rec.GameSession)
	}
	if g, _ := mem.GetGame(ctx, rec.ID); g == nil {
		t.Fatalf("expected created row in store")
	}
	if _, err := m.Create(ctx, "u1", "u1", "white", 0); err == nil {
		t.Fatalf("expected self-play to be rejected")
	}
}

func TestResignCompletesAndClearsOffer(t *testing.T) {
	m, mem := newTestManager(t)
	ctx := context.Background()
	rec, err := m.Create(ctx, "u1", "u2", "white", 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Update(ctx, rec.ID, func(r *Record) error { r.DrawOfferedBy = "u1"; return nil }); err != nil {
		t.Fatalf("Update: %v", err)
	}

	done, err := m.Resign(ctx, rec.ID, "u1")
	if err != nil {
		t.Fatalf("Resign: %v", err)
	}
	if !done.Completed() || done.Result != domain.ResultResignation || done.WinnerID != "u2" {
		t.Fatalf("unexpected resign result: %+v", done.GameSession)
	}
	if done.DrawOfferedBy != "" {
		t.Fatalf("draw offer must not outlive the session")
	}
	if done.CompletedAt == nil {
		t.Fatalf("completed_at must be set")
	}

	if _, err := m.Resign(ctx, rec.ID, "u2"); !errors.Is(err, ErrCompleted) {
		t.Fatalf("expected ErrCompleted on second resign, got %v", err)
	}
	g, _ := mem.GetGame(ctx, rec.ID)
	if g == nil || !g.Completed() || g.WinnerID != "u2" {
		t.Fatalf("final row not persisted: %+v", g)
	}
}

func TestResignRejectsNonParticipant(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	rec, _ := m.Create(ctx, "u1", "u2", "white", 0)
	if _, err := m.Resign(ctx, rec.ID, "u3"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	if _, err := m.Resign(ctx, "missing", "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTimeoutAwardsOpponent(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	rec, _ := m.Create(ctx, "u1", "u2", "white", 60)
	done, err := m.Timeout(ctx, rec.ID, "u2")
	if err != nil {
		t.Fatalf("Timeout: %v", err)
	}
	if done.Result != domain.ResultTimeout || done.WinnerID != "u1" {
		t.Fatalf("unexpected timeout result: %+v", done.GameSession)
	}
}

func TestPlayMoveCheckmateCompletes(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	rec, _ := m.Create(ctx, "u1", "u2", "white", 0)

	if _, err := m.PlayMove(ctx, rec.ID, "u2", "e7e5"); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("expected ErrNotYourTurn, got %v", err)
	}
	if _, err := m.PlayMove(ctx, rec.ID, "u1", "e2e5"); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("expected ErrIllegalMove, got %v", err)
	}

	moves := []struct{ user, mv string }{{"u1", "f2f3"}, {"u2", "e5"}, {"u1", "g2g4"}, {"u2", "d8h4"}}
	var last *Record
	for _, mv := range moves {
		r, err := m.PlayMove(ctx, rec.ID, mv.user, mv.mv)
		if err != nil {
			t.Fatalf("PlayMove %s: %v", mv.mv, err)
		}
		last = r
	}
	if !last.Completed() || last.Result != domain.ResultCheckmate || last.WinnerID != "u2" {
		t.Fatalf("expected black checkmate win, got %+v", last.GameSession)
	}
	if len(last.MovesUCI) != 4 || last.MovesUCI[1] != "e7e5" {
		t.Fatalf("unexpected moves: %v", last.MovesUCI)
	}
}

func TestUpdatePublishesCompletion(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	rec, _ := m.Create(ctx, "u1", "u2", "white", 0)

	kinds := make(chan string, 4)
	sub, err := m.Subscribe(ctx, rec.ID, func(kind string, r *Record) { kinds <- kind })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	if _, err := m.Resign(ctx, rec.ID, "u2"); err != nil {
		t.Fatalf("Resign: %v", err)
	}
	select {
	case k := <-kinds:
		if k != EventCompleted {
			t.Fatalf("expected %s, got %s", EventCompleted, k)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("completion event not delivered")
	}
}

// cancellingWriter cancels the caller's context as soon as the final row arrives and
// then takes a while to commit, honouring whatever context it was handed.
type cancellingWriter struct {
	*store.Memory
	cancel func()
}

func (w *cancellingWriter) SaveGame(ctx context.Context, g *domain.GameSession) error {
	if g.Completed() {
		w.cancel()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("final row written without a deadline")
		}
	}
	return w.Memory.SaveGame(ctx, g)
}

func TestFinalRowSurvivesCallerCancellation(t *testing.T) {
	base, _ := newTestManager(t)
	mem := store.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewManager(base.rdb, base.bus, WithResultWriter(&cancellingWriter{Memory: mem, cancel: cancel}))

	rec, err := m.Create(ctx, "u1", "u2", "white", 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	kinds := make(chan string, 4)
	sub, err := m.Subscribe(context.Background(), rec.ID, func(kind string, _ *Record) { kinds <- kind })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	done, err := m.Resign(ctx, rec.ID, "u1")
	if err != nil || !done.Completed() {
		t.Fatalf("Resign: %+v %v", done, err)
	}
	if ctx.Err() == nil {
		t.Fatalf("caller context should have been cancelled during the write")
	}
	select {
	case k := <-kinds:
		if k != EventCompleted {
			t.Fatalf("expected %s, got %s", EventCompleted, k)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("completion not announced after caller went away")
	}
	g, _ := mem.GetGame(context.Background(), rec.ID)
	if g == nil || !g.Completed() || g.Result != domain.ResultResignation || g.WinnerID != "u2" {
		t.Fatalf("final row lost after caller went away: %+v", g)
	}
}
