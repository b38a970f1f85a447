package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/park285/cheese-session/internal/domain"
)

// Repository is the Postgres-backed relational collaborator.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Repository{db: db}, nil
}

// NewRepositoryFromDB wraps an already opened pool.
func NewRepositoryFromDB(db *sql.DB) *Repository { return &Repository{db: db} }

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

const gameColumns = `id, status, result, winner_id, white_player_id, black_player_id, time_control, created_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGame(row rowScanner) (*domain.GameSession, error) {
	var (
		g           domain.GameSession
		status      string
		result      sql.NullString
		winner      sql.NullString
		white       sql.NullString
		black       sql.NullString
		timeControl sql.NullInt64
		completedAt sql.NullTime
	)
	if err := row.Scan(&g.ID, &status, &result, &winner, &white, &black, &timeControl, &g.CreatedAt, &completedAt); err != nil {
		return nil, err
	}
	g.Status = domain.Status(status)
	g.Result = domain.ResultKind(result.String)
	g.WinnerID = winner.String
	g.WhitePlayerID = white.String
	g.BlackPlayerID = black.String
	if timeControl.Valid {
		g.TimeControl = int(timeControl.Int64)
	}
	if completedAt.Valid {
		ts := completedAt.Time
		g.CompletedAt = &ts
	}
	return &g, nil
}

// GetGame loads one session; nil when missing.
func (r *Repository) GetGame(ctx context.Context, id string) (*domain.GameSession, error) {
	q := `SELECT ` + gameColumns + ` FROM online_games WHERE id = $1`
	g, err := scanGame(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select online game: %w", err)
	}
	return g, nil
}

// CompletedGames returns up to limit completed sessions where playerID holds either seat,
// newest completion first.
func (r *Repository) CompletedGames(ctx context.Context, playerID string, limit int) ([]domain.GameSession, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT ` + gameColumns + `
		FROM online_games
		WHERE (white_player_id = $1 OR black_player_id = $1) AND status = $2
		ORDER BY completed_at DESC
		LIMIT $3`
	rows, err := r.db.QueryContext(ctx, q, playerID, string(domain.StatusCompleted), limit)
	if err != nil {
		return nil, fmt.Errorf("select completed games: %w", err)
	}
	defer rows.Close()

	games := make([]domain.GameSession, 0, limit)
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("scan online game: %w", err)
		}
		games = append(games, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate online games: %w", err)
	}
	return games, nil
}

// SaveGame upserts a session. A completed row is never reopened and its completed_at is kept.
func (r *Repository) SaveGame(ctx context.Context, g *domain.GameSession) error {
	if g == nil {
		return fmt.Errorf("nil online game payload")
	}
	q := `INSERT INTO online_games (
			id, status, result, winner_id, white_player_id, black_player_id,
			time_control, created_at, completed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			result = EXCLUDED.result,
			winner_id = EXCLUDED.winner_id,
			completed_at = COALESCE(online_games.completed_at, EXCLUDED.completed_at)
		WHERE online_games.status <> 'completed'`

	var completedAt any
	if g.CompletedAt != nil {
		completedAt = *g.CompletedAt
	}
	_, err := r.db.ExecContext(ctx, q,
		g.ID,
		string(g.Status),
		nullString(string(g.Result)),
		nullString(g.WinnerID),
		nullString(g.WhitePlayerID),
		nullString(g.BlackPlayerID),
		nullInt(g.TimeControl),
		g.CreatedAt,
		completedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert online game: %w", err)
	}
	return nil
}

// ChatHistory returns every message of a session in created_at order.
func (r *Repository) ChatHistory(ctx context.Context, gameID string) ([]domain.ChatMessage, error) {
	const q = `
		SELECT id, game_id, sender_id, message, created_at
		FROM chat_messages
		WHERE game_id = $1
		ORDER BY created_at ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, q, gameID)
	if err != nil {
		return nil, fmt.Errorf("select chat messages: %w", err)
	}
	defer rows.Close()

	var out []domain.ChatMessage
	for rows.Next() {
		var m domain.ChatMessage
		if err := rows.Scan(&m.ID, &m.GameID, &m.SenderID, &m.Message, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat messages: %w", err)
	}
	return out, nil
}

// InsertChatMessage appends a message; created_at is assigned by the database.
func (r *Repository) InsertChatMessage(ctx context.Context, gameID, senderID, text string) (domain.ChatMessage, error) {
	const q = `
		INSERT INTO chat_messages (id, game_id, sender_id, message)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`
	m := domain.ChatMessage{GameID: gameID, SenderID: senderID, Message: text}
	if err := r.db.QueryRowContext(ctx, q, newMessageID(), gameID, senderID, text).Scan(&m.ID, &m.CreatedAt); err != nil {
		return domain.ChatMessage{}, fmt.Errorf("insert chat message: %w", err)
	}
	return m, nil
}

// newMessageID returns a time-ordered id, so messages sharing a created_at keep
// their insertion order.
func newMessageID() string { return uuid.Must(uuid.NewV7()).String() }

// ProfilesByIDs resolves a set of users in one round trip, keyed by user_id.
func (r *Repository) ProfilesByIDs(ctx context.Context, ids []string) (map[string]domain.Profile, error) {
	out := make(map[string]domain.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	const q = `
		SELECT user_id, username, display_name
		FROM profiles
		WHERE user_id = ANY($1)`
	rows, err := r.db.QueryContext(ctx, q, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("select profiles: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			p       domain.Profile
			display sql.NullString
		)
		if err := rows.Scan(&p.UserID, &p.Username, &display); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		p.DisplayName = display.String
		out[p.UserID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n > 0}
}
