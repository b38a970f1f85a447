package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/park285/cheese-session/internal/chat"
	"github.com/park285/cheese-session/internal/history"
	"github.com/park285/cheese-session/internal/match"
	"github.com/park285/cheese-session/internal/msgcat"
	"github.com/park285/cheese-session/internal/obslog"
	"github.com/park285/cheese-session/pkg/sessiondto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Deps are the coordination components the gateway exposes.
type Deps struct {
	Sessions       *match.Manager
	Chat           *chat.Hub
	History        *history.Aggregator
	Profiles       history.ProfileSource
	Catalog        *msgcat.Catalog
	Auth           *Auth
	AllowedOrigins []string
}

type Server struct {
	d Deps
}

// NewRouter builds the HTTP surface: health, metrics, history, session creation and the
// live session stream.
func NewRouter(d Deps) *gin.Engine {
	if d.Catalog == nil {
		d.Catalog = msgcat.MustDefault()
	}
	s := &Server{d: d}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", d.Auth.Middleware())
	api.GET("/history", s.history)
	api.POST("/games", s.createGame)
	api.GET("/games/:id/stream", s.stream)
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		obslog.L().Debug("http_request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

func (s *Server) history(c *gin.Context) {
	viewer := ViewerID(c)
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	v, err := s.d.History.Fetch(ctx, viewer)
	if v != nil {
		v.SetExpanded(c.Query("expanded") == "true")
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "code": errorCode(err), "history": v.Response()})
		return
	}
	c.JSON(http.StatusOK, v.Response())
}

func (s *Server) createGame(c *gin.Context) {
	var in sessiondto.CreateGameRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": sessiondto.CodeValidation})
		return
	}
	viewer := ViewerID(c)
	rec, err := s.d.Sessions.Create(c.Request.Context(), viewer, in.OpponentID, in.Color, in.TimeControl)
	if err != nil {
		obslog.L().Warn("session_create_error", zap.String("user_id", viewer), zap.String("opponent_id", in.OpponentID), zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "code": errorCode(err)})
		return
	}
	c.JSON(http.StatusCreated, sessiondto.GameResponse{
		ID:            rec.ID,
		WhitePlayerID: rec.WhitePlayerID,
		BlackPlayerID: rec.BlackPlayerID,
		Status:        string(rec.Status),
		TimeControl:   rec.TimeControl,
		CreatedAt:     rec.CreatedAt,
	})
}

// opponentName resolves the display name of the viewer's opponent, or the unknown label.
func (s *Server) opponentName(ctx context.Context, rec *match.Record, viewer string) string {
	unknown := s.d.Catalog.Text("history.opponent_unknown", nil, "Unknown")
	opp := rec.Opponent(viewer)
	if opp == "" || s.d.Profiles == nil {
		return unknown
	}
	profiles, err := s.d.Profiles.ProfilesByIDs(ctx, []string{opp})
	if err != nil {
		obslog.Game(rec.ID).Warn("stream_profile_error", zap.String("user_id", opp), zap.Error(err))
	}
	if p, ok := profiles[opp]; ok {
		if n := p.Name(); n != "" {
			return n
		}
	}
	return unknown
}

func errorCode(err error) string {
	var de sessiondto.DomainError
	if errors.As(err, &de) && de.Code != "" {
		return de.Code
	}
	return "internal"
}

func statusFor(err error) int {
	switch {
	case sessiondto.IsNotFound(err):
		return http.StatusNotFound
	case sessiondto.IsValidation(err):
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}

func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		o = strings.TrimPrefix(strings.TrimPrefix(o, "https://"), "http://")
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}
