package engine

import (
	"encoding/json"

	"github.com/cockroachdb/errors"

	"github.com/wricardo/mcp-training/tictactoe/game/service"
)

var (
	ErrNotInProgress = errors.New("Game is not in progress")
	ErrInvalidMove   = errors.New("Invalid move")
)

// Evaluator starts fresh tic-tac-toe games
type Evaluator struct{}

// NewEvaluator returns the tic-tac-toe evaluator
func NewEvaluator() Evaluator {
	return Evaluator{}
}

// Initial returns an empty board with Player1 to move
func (Evaluator) Initial() service.Game {
	return NewGame()
}

// Game is an immutable tic-tac-toe state
type Game struct {
	Board         Board    `json:"board"`
	CurrentPlayer Player   `json:"current_player"`
	LastMove      Position `json:"current_position"`
	Status        Status   `json:"state"`
	Winner        *Player  `json:"winner"`
	Score         Score    `json:"score"`
}

// NewGame returns an empty board with Player1 to move
func NewGame() Game {
	return Game{
		CurrentPlayer: Player1,
		Status:        InProgress,
	}
}

// Apply places the current player's mark and hands the turn over.
//
// Only PlaceAt moves are accepted. A placement that completes a line ends the
// game with the mover as winner; filling the board without a line is a draw.
func (g Game) Apply(raw json.RawMessage) (service.Game, error) {
	if g.Status != InProgress {
		return nil, ErrNotInProgress
	}

	var mv Move
	if err := json.Unmarshal(raw, &mv); err != nil || mv.PlaceAt == nil {
		return nil, ErrInvalidMove
	}

	next, err := g.place(*mv.PlaceAt)
	if err != nil {
		return nil, err
	}
	return next, nil
}

func (g Game) place(pos Position) (Game, error) {
	board, err := g.Board.Set(pos, g.CurrentPlayer.Cell())
	if err != nil {
		return g, err
	}

	next := g
	next.Board = board
	next.LastMove = pos

	if _, won := board.Winner(); won {
		winner := g.CurrentPlayer
		next.Winner = &winner
		next.Status = GameOver
		switch winner {
		case Player1:
			next.Score.Player1++
		case Player2:
			next.Score.Player2++
		}
		return next, nil
	}
	if board.Full() {
		next.Status = GameOver
		return next, nil
	}

	next.CurrentPlayer = g.CurrentPlayer.Next()
	return next, nil
}

// Cursor returns the square of the last placement
func (g Game) Cursor() service.Position {
	return service.Position{X: g.LastMove.X, Y: g.LastMove.Y}
}

// Over reports whether the game has finished
func (g Game) Over() bool {
	return g.Status == GameOver
}
