package match

import (
	"context"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"github.com/park285/cheese-session/internal/domain"
)

// PlayMove applies a move for userID (UCI preferred, SAN accepted) and completes the
// session on checkmate, stalemate or any automatic draw the rules library reports.
func (m *Manager) PlayMove(ctx context.Context, id, userID, move string) (*Record, error) {
	userID = strings.TrimSpace(userID)
	raw := strings.TrimSpace(move)
	if raw == "" {
		return nil, ErrIllegalMove
	}
	return m.Update(ctx, id, func(cur *Record) error {
		if cur.Completed() {
			return ErrCompleted
		}
		if !cur.IsParticipant(userID) {
			return ErrNotParticipant
		}
		game := reconstruct(cur.MovesUCI)
		if game == nil {
			return ErrIllegalMove
		}
		white := game.Position().Turn() == nchess.White
		if white != cur.IsWhite(userID) {
			return ErrNotYourTurn
		}
		if err := game.PushNotationMove(strings.ToLower(raw), nchess.UCINotation{}, nil); err != nil {
			if err := game.PushNotationMove(raw, nchess.AlgebraicNotation{}, nil); err != nil {
				return ErrIllegalMove
			}
		}
		last := lastMove(game)
		if last == nil {
			return ErrIllegalMove
		}
		cur.MovesUCI = append(cur.MovesUCI, last.String())

		switch game.Outcome() {
		case nchess.WhiteWon:
			cur.Complete(domain.ResultCheckmate, cur.WhitePlayerID, m.now())
		case nchess.BlackWon:
			cur.Complete(domain.ResultCheckmate, cur.BlackPlayerID, m.now())
		case nchess.Draw:
			result := domain.ResultDraw
			if game.Method() == nchess.Stalemate {
				result = domain.ResultStalemate
			}
			cur.Complete(result, "", m.now())
		}
		return nil
	})
}

func reconstruct(moves []string) *nchess.Game {
	game := nchess.NewGame()
	for _, mv := range moves {
		if err := game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			return nil
		}
	}
	return game
}

func lastMove(game *nchess.Game) *nchess.Move {
	moves := game.Moves()
	if len(moves) == 0 {
		return nil
	}
	return moves[len(moves)-1]
}
