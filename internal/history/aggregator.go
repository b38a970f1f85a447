package history

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/park285/cheese-session/internal/domain"
	"github.com/park285/cheese-session/internal/metrics"
	"github.com/park285/cheese-session/internal/msgcat"
	"github.com/park285/cheese-session/internal/obslog"
	"github.com/park285/cheese-session/pkg/sessiondto"
	"go.uber.org/zap"
)

const (
	DefaultLimit   = 20
	DefaultPreview = 5
	DateLayout     = "Jan 2, 2006, 03:04 PM"
)

var ErrUnavailable = sessiondto.Transient("game history unavailable")

// GameSource lists a player's completed sessions, newest completion first.
type GameSource interface {
	CompletedGames(ctx context.Context, playerID string, limit int) ([]domain.GameSession, error)
}

// ProfileSource resolves profiles for a set of user ids in one round trip.
type ProfileSource interface {
	ProfilesByIDs(ctx context.Context, ids []string) (map[string]domain.Profile, error)
}

type Outcome string

const (
	OutcomeWon  Outcome = "won"
	OutcomeLost Outcome = "lost"
	OutcomeDraw Outcome = "draw"
)

// OutcomeFor reports the result of g from viewerID's side.
func OutcomeFor(g domain.GameSession, viewerID string) Outcome {
	switch strings.TrimSpace(g.WinnerID) {
	case "":
		return OutcomeDraw
	case viewerID:
		return OutcomeWon
	default:
		return OutcomeLost
	}
}

// Entry is one completed session seen from the viewer's side.
type Entry struct {
	Game             domain.GameSession
	Outcome          Outcome
	ResultLabel      string
	OpponentID       string
	Opponent         *domain.Profile // nil when unresolved
	OpponentName     string
	Color            string
	TimeControlLabel string
	CompletedLabel   string
}

type Aggregator struct {
	games    GameSource
	profiles ProfileSource
	cat      *msgcat.Catalog
	limit    int
	preview  int
	loc      *time.Location
}

type Option func(*Aggregator)

func WithLimit(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.limit = n
		}
	}
}

func WithPreview(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.preview = n
		}
	}
}

func WithCatalog(c *msgcat.Catalog) Option { return func(a *Aggregator) { a.cat = c } }

// WithLocation sets the zone used for completion date labels (UTC by default).
func WithLocation(loc *time.Location) Option {
	return func(a *Aggregator) {
		if loc != nil {
			a.loc = loc
		}
	}
}

func NewAggregator(games GameSource, profiles ProfileSource, opts ...Option) *Aggregator {
	a := &Aggregator{
		games:    games,
		profiles: profiles,
		limit:    DefaultLimit,
		preview:  DefaultPreview,
		loc:      time.UTC,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.cat == nil {
		a.cat = msgcat.MustDefault()
	}
	if a.preview > a.limit {
		a.preview = a.limit
	}
	return a
}

// Fetch builds the viewer's history. A failed session fetch returns an empty, loaded view
// together with the error; a failed profile lookup only degrades opponent names.
func (a *Aggregator) Fetch(ctx context.Context, viewerID string) (*View, error) {
	viewerID = strings.TrimSpace(viewerID)
	log := obslog.L().With(zap.String("user_id", viewerID))
	v := &View{ViewerID: viewerID, preview: a.preview, loaded: true, emptyText: a.cat.Text("history.empty", nil, "")}

	games, err := a.games.CompletedGames(ctx, viewerID, a.limit)
	if err != nil {
		metrics.HistoryFetches.WithLabelValues("error").Inc()
		log.Warn("history_fetch_error", zap.Error(err))
		return v, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(games) > a.limit {
		games = games[:a.limit]
	}

	var profiles map[string]domain.Profile
	if ids := participantIDs(games); len(ids) > 0 && a.profiles != nil {
		profiles, err = a.profiles.ProfilesByIDs(ctx, ids)
		if err != nil {
			metrics.HistoryFetches.WithLabelValues("degraded").Inc()
			log.Warn("history_profiles_error", zap.Int("ids", len(ids)), zap.Int("resolved", len(profiles)), zap.Error(err))
		}
	}

	v.entries = make([]Entry, 0, len(games))
	for _, g := range games {
		v.entries = append(v.entries, a.entry(g, viewerID, profiles))
	}
	if err == nil {
		metrics.HistoryFetches.WithLabelValues("ok").Inc()
	}
	log.Debug("history_fetch", zap.Int("games", len(v.entries)))
	return v, nil
}

func (a *Aggregator) entry(g domain.GameSession, viewerID string, profiles map[string]domain.Profile) Entry {
	e := Entry{
		Game:             g,
		Outcome:          OutcomeFor(g, viewerID),
		ResultLabel:      a.ResultLabel(g.Result),
		OpponentID:       g.Opponent(viewerID),
		Color:            "black",
		TimeControlLabel: a.TimeControlLabel(g.TimeControl),
		CompletedLabel:   a.CompletedLabel(g.CompletedAt),
	}
	if g.IsWhite(viewerID) {
		e.Color = "white"
	}
	if p, ok := profiles[e.OpponentID]; ok && e.OpponentID != "" {
		e.Opponent = &p
		e.OpponentName = p.Name()
	}
	if e.OpponentName == "" {
		e.OpponentName = a.cat.Text("history.opponent_unknown", nil, "Unknown")
	}
	return e
}

// ResultLabel maps a result kind to its display label. Unknown kinds pass through verbatim.
func (a *Aggregator) ResultLabel(r domain.ResultKind) string {
	raw := strings.TrimSpace(string(r))
	if raw == "" {
		return a.cat.Text("history.result.unknown", nil, "Unknown")
	}
	key := "history.result." + raw
	if !a.cat.Has(key) {
		return raw
	}
	return a.cat.Text(key, nil, raw)
}

// TimeControlLabel renders whole minutes per side, or "" when unset.
func (a *Aggregator) TimeControlLabel(seconds int) string {
	if seconds <= 0 {
		return ""
	}
	minutes := seconds / 60
	return a.cat.Text("history.time_control", map[string]any{"Minutes": minutes}, fmt.Sprintf("%dm", minutes))
}

func (a *Aggregator) CompletedLabel(at *time.Time) string {
	if at == nil || at.IsZero() {
		return ""
	}
	return at.In(a.loc).Format(DateLayout)
}

// participantIDs returns the distinct non-empty seat ids of games, sorted.
func participantIDs(games []domain.GameSession) []string {
	set := make(map[string]struct{}, len(games)*2)
	for _, g := range games {
		for _, id := range []string{g.WhitePlayerID, g.BlackPlayerID} {
			if id = strings.TrimSpace(id); id != "" {
				set[id] = struct{}{}
			}
		}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
