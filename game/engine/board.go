package engine

import (
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	ErrOutOfBounds = errors.New("This cell is out of bounds!")
	ErrCellTaken   = errors.New("Cell is not empty")
)

// Board is a 3x3 grid indexed [row][column]
type Board [BoardSize][BoardSize]Cell

// Get returns the cell at pos
func (b Board) Get(pos Position) (Cell, error) {
	if !pos.inBounds() {
		return Empty, ErrOutOfBounds
	}
	return b[pos.Y][pos.X], nil
}

// Set returns a copy of the board with cell placed at pos
func (b Board) Set(pos Position, cell Cell) (Board, error) {
	current, err := b.Get(pos)
	if err != nil {
		return b, err
	}
	if current != Empty {
		return b, ErrCellTaken
	}
	b[pos.Y][pos.X] = cell
	return b, nil
}

// AvailableMoves lists the empty squares in row-major order
func (b Board) AvailableMoves() []Position {
	var moves []Position
	for y := 0; y < BoardSize; y++ {
		for x := 0; x < BoardSize; x++ {
			if b[y][x] == Empty {
				moves = append(moves, Position{X: x, Y: y})
			}
		}
	}
	return moves
}

// Winner returns the mark occupying a full row, column or diagonal
func (b Board) Winner() (Cell, bool) {
	lines := make([][BoardSize]Cell, 0, 2*BoardSize+2)
	var diag, anti [BoardSize]Cell
	for i := 0; i < BoardSize; i++ {
		var col [BoardSize]Cell
		for j := 0; j < BoardSize; j++ {
			col[j] = b[j][i]
		}
		lines = append(lines, b[i], col)
		diag[i] = b[i][i]
		anti[i] = b[i][BoardSize-1-i]
	}
	lines = append(lines, diag, anti)

	for _, line := range lines {
		if line[0] == Empty {
			continue
		}
		if line[0] == line[1] && line[1] == line[2] {
			return line[0], true
		}
	}
	return Empty, false
}

// Full reports whether no empty square is left
func (b Board) Full() bool {
	return len(b.AvailableMoves()) == 0
}

// String renders the board as three lines of X, O and dots
func (b Board) String() string {
	var sb strings.Builder
	for y := 0; y < BoardSize; y++ {
		for x := 0; x < BoardSize; x++ {
			sym := b[y][x].Symbol()
			if sym == " " {
				sym = "."
			}
			sb.WriteString(sym)
		}
		if y < BoardSize-1 {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
