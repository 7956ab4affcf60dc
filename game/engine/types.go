package engine

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// BoardSize is the width and height of the board
const BoardSize = 3

// Cell is the content of one board square
type Cell int

const (
	Empty Cell = iota
	Cross
	Circle
)

var cellNames = map[Cell]string{Empty: "Empty", Cross: "Cross", Circle: "Circle"}

func (c Cell) String() string {
	return cellNames[c]
}

// Symbol returns the single-character rendering of the cell
func (c Cell) Symbol() string {
	switch c {
	case Cross:
		return "X"
	case Circle:
		return "O"
	default:
		return " "
	}
}

func (c Cell) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Cell) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for cell, n := range cellNames {
		if n == name {
			*c = cell
			return nil
		}
	}
	return errors.Newf("unknown cell %q", name)
}

// Player is one side of the match. Player1 places crosses and moves first.
type Player int

const (
	Player1 Player = iota + 1
	Player2
)

// Next returns the other player
func (p Player) Next() Player {
	if p == Player1 {
		return Player2
	}
	return Player1
}

// Cell returns the mark the player places
func (p Player) Cell() Cell {
	if p == Player1 {
		return Cross
	}
	return Circle
}

func (p Player) String() string {
	switch p {
	case Player1:
		return "Player1"
	case Player2:
		return "Player2"
	}
	return ""
}

func (p Player) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Player) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "Player1":
		*p = Player1
	case "Player2":
		*p = Player2
	default:
		return errors.Newf("unknown player %q", name)
	}
	return nil
}

// Status is the lifecycle stage of a game
type Status string

const (
	InProgress Status = "InProgress"
	GameOver   Status = "GameOver"
)

// Position is a board coordinate; X is the column and Y the row.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Position) inBounds() bool {
	return p.X >= 0 && p.X < BoardSize && p.Y >= 0 && p.Y < BoardSize
}

// Score counts wins per player across rounds
type Score struct {
	Player1 int `json:"player1"`
	Player2 int `json:"player2"`
}

// Move is the wire form of a move: {"PlaceAt":{"x":1,"y":2}}
type Move struct {
	PlaceAt *Position `json:"PlaceAt,omitempty"`
}

// PlaceAt builds the wire form of a placement
func PlaceAt(x, y int) json.RawMessage {
	data, _ := json.Marshal(Move{PlaceAt: &Position{X: x, Y: y}})
	return data
}
