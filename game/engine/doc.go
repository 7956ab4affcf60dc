// Package engine provides the tic-tac-toe rules evaluated inside each session.
//
// The engine package implements:
//   - A 3x3 board with win and draw detection
//   - Immutable Game values that satisfy service.Game
//   - The Evaluator handed to the dispatcher
//
// Moves arrive as raw JSON in the form {"PlaceAt":{"x":0,"y":2}}, where x is
// the column and y the row. Player1 places crosses and moves first. The
// broker alternates turns between the two seated clients, and Game flips its
// own current player after every placement, so the two stay in step.
//
// Usage:
//
//	g := engine.NewEvaluator().Initial()
//	g, err := g.Apply(engine.PlaceAt(1, 1))
//	if err != nil {
//		// "Cell is not empty", "This cell is out of bounds!", ...
//	}
package engine
