package main

import (
	"github.com/wricardo/mcp-training/tictactoe/game/engine"
)

// preferred squares after winning and blocking: center, then corners
var preferred = []engine.Position{
	{X: 1, Y: 1},
	{X: 0, Y: 0}, {X: 2, Y: 0}, {X: 0, Y: 2}, {X: 2, Y: 2},
}

// SystematicStrategy picks the bot's next placement.
//
// In order: complete a line, block the opponent's line, take the center, take
// a corner, take the first free square.
type SystematicStrategy struct{}

// NextMove returns the square to place on, or false when the board is full
// or the game is over
func (SystematicStrategy) NextMove(g engine.Game) (engine.Position, bool) {
	if g.Over() {
		return engine.Position{}, false
	}
	free := g.Board.AvailableMoves()
	if len(free) == 0 {
		return engine.Position{}, false
	}

	mine := g.CurrentPlayer.Cell()
	theirs := g.CurrentPlayer.Next().Cell()

	if pos, ok := completesLine(g.Board, free, mine); ok {
		return pos, true
	}
	if pos, ok := completesLine(g.Board, free, theirs); ok {
		return pos, true
	}

	for _, pos := range preferred {
		if cell, err := g.Board.Get(pos); err == nil && cell == engine.Empty {
			return pos, true
		}
	}
	return free[0], true
}

// completesLine finds a free square that gives cell a line
func completesLine(board engine.Board, free []engine.Position, cell engine.Cell) (engine.Position, bool) {
	for _, pos := range free {
		next, err := board.Set(pos, cell)
		if err != nil {
			continue
		}
		if winner, ok := next.Winner(); ok && winner == cell {
			return pos, true
		}
	}
	return engine.Position{}, false
}
