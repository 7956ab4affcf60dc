package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wricardo/mcp-training/tictactoe/game/engine"
)

// replay applies placements alternately starting with Player1
func replay(t *testing.T, moves ...engine.Position) engine.Game {
	t.Helper()
	g := engine.NewGame()
	for _, mv := range moves {
		next, err := g.Apply(engine.PlaceAt(mv.X, mv.Y))
		require.NoError(t, err)
		g = next.(engine.Game)
	}
	return g
}

func pos(x, y int) engine.Position { return engine.Position{X: x, Y: y} }

func TestSystematicStrategy_NextMove(t *testing.T) {
	s := SystematicStrategy{}

	tests := []struct {
		name     string
		moves    []engine.Position
		expected engine.Position
	}{
		{"opens in the center", nil, pos(1, 1)},
		{"takes a corner when center is gone", []engine.Position{pos(1, 1)}, pos(0, 0)},
		{"completes its own line", []engine.Position{pos(0, 0), pos(0, 1), pos(1, 0), pos(1, 1)}, pos(2, 0)},
		{"blocks the opponent", []engine.Position{pos(0, 0), pos(1, 1), pos(2, 2), pos(1, 0)}, pos(1, 2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := s.NextMove(replay(t, tt.moves...))
			require.True(t, ok)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestSystematicStrategy_GameOver(t *testing.T) {
	g := replay(t, pos(0, 0), pos(1, 0), pos(0, 1), pos(1, 1), pos(0, 2))
	require.True(t, g.Over())

	_, ok := SystematicStrategy{}.NextMove(g)
	assert.False(t, ok)
}

func TestSystematicStrategy_SelfPlayNeverLoses(t *testing.T) {
	g := engine.NewGame()
	for !g.Over() {
		mv, ok := SystematicStrategy{}.NextMove(g)
		require.True(t, ok)
		next, err := g.Apply(engine.PlaceAt(mv.X, mv.Y))
		require.NoError(t, err)
		g = next.(engine.Game)
	}
	assert.Nil(t, g.Winner, "two perfect players draw:\n%s", g.Board)
}
