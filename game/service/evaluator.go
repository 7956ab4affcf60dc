package service

import "encoding/json"

// Game is an immutable snapshot of a match's rules state.
//
// Apply never mutates the receiver: it returns the state after move, or an
// error whose text is relayed verbatim to the player who sent the move.
// Implementations must be encodable with encoding/json.
type Game interface {
	Apply(move json.RawMessage) (Game, error)
}

// Evaluator creates the starting Game of a new match
type Evaluator interface {
	Initial() Game
}

// Positioner is implemented by games that track where the last move landed.
// The dispatcher copies it into the mover's PlayerData.
type Positioner interface {
	Cursor() Position
}
