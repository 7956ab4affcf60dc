package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wricardo/mcp-training/tictactoe/game/engine"
	"github.com/wricardo/mcp-training/tictactoe/game/service"
	"github.com/wricardo/mcp-training/tictactoe/game/session"
	"github.com/wricardo/mcp-training/tictactoe/metrics"
)

var sessionIDPattern = regexp.MustCompile(`^[A-Z]{5}$`)

type closeCounter struct {
	closed int
}

func (o *closeCounter) Push([]byte) bool { return true }
func (o *closeCounter) Close()           { o.closed++ }

type broker struct {
	t          *testing.T
	ctx        context.Context
	clients    *session.ClientRegistry
	sessions   *session.Manager
	dispatcher *service.Dispatcher
	registry   *prometheus.Registry
}

func newBroker(t *testing.T) *broker {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(metrics.WithRegistry(reg))
	clients := session.NewClientRegistry()
	sessions := session.NewManager(session.NewIDGenerator(session.DefaultIDLength))
	return &broker{
		t:          t,
		ctx:        context.Background(),
		clients:    clients,
		sessions:   sessions,
		dispatcher: service.NewDispatcher(clients, sessions, engine.NewEvaluator(), zerolog.Nop(), m),
		registry:   reg,
	}
}

// counter reads tictactoe_<name>{label=value} from the broker's registry
func (b *broker) counter(name, value string) float64 {
	b.t.Helper()
	families, err := b.registry.Gather()
	require.NoError(b.t, err)
	for _, mf := range families {
		if mf.GetName() != "tictactoe_"+name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetValue() == value {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func (b *broker) connect(id string) []service.Outbound {
	b.t.Helper()
	require.NoError(b.t, b.clients.Insert(&service.Client{ID: id, Outbox: &closeCounter{}}))
	return b.dispatcher.Connect(b.ctx, id)
}

func (b *broker) send(id string, ev service.ClientEvent) []service.Outbound {
	return b.dispatcher.Dispatch(b.ctx, id, ev)
}

func (b *broker) place(id string, x, y int) []service.Outbound {
	return b.send(id, service.MakeMove(engine.PlaceAt(x, y)))
}

func (b *broker) listed() []string {
	out := b.send("observer", service.ListSessions())
	require.Len(b.t, out, 1)
	return out[0].Event.Sessions
}

func (b *broker) session(id string) service.SessionInfo {
	b.t.Helper()
	info, ok := b.sessions.Get(id)
	require.True(b.t, ok, "session %s should exist", id)
	return info
}

// startMatch seats a and b in a fresh session and returns its id
func (b *broker) startMatch(a, c string) string {
	b.t.Helper()
	b.connect(a)
	b.connect(c)
	out := b.send(a, service.CreateSession())
	require.Len(b.t, out, 1)
	id := out[0].Event.SessionID
	require.Len(b.t, b.send(c, service.JoinSession(id)), 2)
	return id
}

func targets(out []service.Outbound) []string {
	ids := make([]string, 0, len(out))
	for _, o := range out {
		ids = append(ids, o.Target)
	}
	return ids
}

func gameOf(t *testing.T, snap service.GameSnapshot) engine.Game {
	t.Helper()
	g, ok := snap.Game.(engine.Game)
	require.True(t, ok, "expected engine.Game, got %T", snap.Game)
	return g
}

func TestDispatcher_CreateThenJoin(t *testing.T) {
	b := newBroker(t)
	b.connect("A")
	b.connect("B")

	out := b.send("A", service.CreateSession())
	require.Len(t, out, 1)
	assert.Equal(t, "A", out[0].Target)
	assert.Equal(t, service.ServerQueue, out[0].Event.Kind)

	id := out[0].Event.SessionID
	assert.Regexp(t, sessionIDPattern, id)
	assert.Equal(t, []string{id}, b.listed())

	out = b.send("B", service.JoinSession(id))
	require.Len(t, out, 2)
	assert.ElementsMatch(t, []string{"A", "B"}, targets(out))

	first, err := json.Marshal(out[0].Event)
	require.NoError(t, err)
	second, err := json.Marshal(out[1].Event)
	require.NoError(t, err)
	assert.JSONEq(t, string(first), string(second))

	start := out[0].Event
	assert.Equal(t, service.ServerGameStart, start.Kind)
	players := start.State.Players
	assert.Equal(t, service.SlotFull, players.Kind)
	assert.Equal(t, "A", players.First.ID)
	assert.Equal(t, "B", players.Second.ID)
	assert.Equal(t, "A", players.Active)
	assert.Equal(t, engine.NewGame(), gameOf(t, start.State))

	info := b.session(id)
	assert.Equal(t, map[string]bool{"A": true, "B": true}, info.Members)
}

func TestDispatcher_MatchScenario(t *testing.T) {
	b := newBroker(t)
	id := b.startMatch("A", "B")

	// B moving on A's turn is dropped without a reply
	assert.Empty(t, b.place("B", 0, 0))
	assert.Equal(t, engine.NewGame(), gameOf(t, b.session(id).State))
	assert.Equal(t, "A", b.session(id).State.Players.Active)

	out := b.place("A", 1, 2)
	require.Len(t, out, 2)
	assert.ElementsMatch(t, []string{"A", "B"}, targets(out))
	for _, o := range out {
		assert.Equal(t, service.ServerGameUpdate, o.Event.Kind)
		assert.Equal(t, "B", o.Event.State.Players.Active)
	}

	state := out[0].Event.State
	assert.Equal(t, service.Position{X: 1, Y: 2}, state.Players.First.CurrentPos)
	assert.Equal(t, engine.Cross, gameOf(t, state).Board[2][1])
	assert.Equal(t, engine.Player2, gameOf(t, state).CurrentPlayer)
}

func TestDispatcher_StrictAlternation(t *testing.T) {
	b := newBroker(t)
	id := b.startMatch("A", "B")

	moves := []struct {
		player string
		x, y   int
	}{
		{"A", 0, 0}, {"B", 1, 0}, {"A", 0, 1}, {"B", 1, 1},
	}

	for i, mv := range moves {
		other := "B"
		if mv.player == "B" {
			other = "A"
		}

		// the idle player is always ignored
		require.Empty(t, b.place(other, 2, 2), "move %d", i)

		out := b.place(mv.player, mv.x, mv.y)
		require.Len(t, out, 2, "move %d", i)

		players := b.session(id).State.Players
		assert.Equal(t, other, players.Active, "move %d", i)
		assert.True(t, players.Contains(players.Active))
	}

	// A completes the left column
	out := b.place("A", 0, 2)
	require.Len(t, out, 2)
	g := gameOf(t, out[0].Event.State)
	assert.True(t, g.Over())
	require.NotNil(t, g.Winner)
	assert.Equal(t, engine.Player1, *g.Winner)

	// finished games reject further moves
	out = b.place("B", 2, 2)
	require.Len(t, out, 1)
	assert.Equal(t, "B", out[0].Target)
	assert.Equal(t, service.ErrorEvent(engine.ErrNotInProgress.Error()), out[0].Event)
}

func TestDispatcher_IllegalMoveErrorsOnlyToMover(t *testing.T) {
	b := newBroker(t)
	id := b.startMatch("A", "B")

	require.Len(t, b.place("A", 1, 1), 2)
	before := b.session(id)

	out := b.place("B", 1, 1)
	require.Len(t, out, 1)
	assert.Equal(t, "B", out[0].Target)
	assert.Equal(t, service.ErrorEvent("Cell is not empty"), out[0].Event)

	out = b.send("B", service.MakeMove(json.RawMessage(`{"Teleport":{}}`)))
	require.Len(t, out, 1)
	assert.Equal(t, service.ErrorEvent("Invalid move"), out[0].Event)

	after := b.session(id)
	assert.Equal(t, before.State.Players, after.State.Players)
	assert.Equal(t, gameOf(t, before.State), gameOf(t, after.State))

	assert.Equal(t, float64(2), b.counter("moves_total", metrics.MoveRejected))
}

func TestDispatcher_JoinFullSession(t *testing.T) {
	b := newBroker(t)
	id := b.startMatch("A", "B")
	b.connect("C")

	before := b.session(id)
	out := b.send("C", service.JoinSession(id))

	require.Len(t, out, 1)
	assert.Equal(t, "C", out[0].Target)
	assert.Equal(t, service.ErrorEvent(service.MsgSessionFull), out[0].Event)
	assert.Equal(t, before, b.session(id))

	c, ok := b.clients.Get("C")
	require.True(t, ok)
	assert.Empty(t, c.SessionID)
}

func TestDispatcher_JoinUnknownSession(t *testing.T) {
	b := newBroker(t)
	b.connect("A")

	out := b.send("A", service.JoinSession("NEWID"))
	require.Len(t, out, 1)
	assert.Equal(t, service.QueueEvent("NEWID"), out[0].Event)

	info := b.session("NEWID")
	assert.Equal(t, service.SlotPartial, info.State.Players.Kind)
	assert.Equal(t, "A", info.State.Players.First.ID)
	assert.Nil(t, info.State.Game)
}

// The waiting player of a Partial session is queued again rather than
// paired with itself.
func TestDispatcher_RejoinWhileWaitingIsNotSelfPairing(t *testing.T) {
	b := newBroker(t)
	b.connect("A")

	require.Len(t, b.send("A", service.JoinSession("ROOM1")), 1)
	out := b.send("A", service.JoinSession("ROOM1"))

	require.Len(t, out, 1)
	assert.Equal(t, service.QueueEvent("ROOM1"), out[0].Event)
	info := b.session("ROOM1")
	assert.Equal(t, service.SlotPartial, info.State.Players.Kind)
	assert.Nil(t, info.State.Game)
	assert.Equal(t, map[string]bool{"A": true}, info.Members)
}

func TestDispatcher_JoinEmptySessionID(t *testing.T) {
	b := newBroker(t)
	b.connect("A")

	out := b.send("A", service.JoinSession(""))
	require.Len(t, out, 1)
	assert.Equal(t, service.ErrorEvent(service.MsgInvalidSessionID), out[0].Event)
	assert.Equal(t, 0, b.sessions.Count())
	assert.Empty(t, b.listed())

	c, _ := b.clients.Get("A")
	assert.Empty(t, c.SessionID)

	b.dispatcher.Disconnect(b.ctx, "A")
	assert.Equal(t, 0, b.sessions.Count())
}

func TestDispatcher_SwitchingSessionsLeavesThePreviousOne(t *testing.T) {
	b := newBroker(t)
	b.connect("A")

	b.send("A", service.JoinSession("ROOM1"))
	b.send("A", service.JoinSession("ROOM2"))

	_, ok := b.sessions.Get("ROOM1")
	assert.False(t, ok, "abandoned waiting room is reaped")
	assert.Equal(t, []string{"ROOM2"}, b.listed())
}

func TestDispatcher_LeaveSession(t *testing.T) {
	b := newBroker(t)
	id := b.startMatch("A", "B")

	assert.Nil(t, b.send("A", service.LeaveSession()))

	info := b.session(id)
	assert.Equal(t, map[string]bool{"A": false, "B": true}, info.Members)
	c, _ := b.clients.Get("A")
	assert.Empty(t, c.SessionID)

	// leaving twice is a no-op
	assert.Nil(t, b.send("A", service.LeaveSession()))

	assert.Nil(t, b.send("B", service.LeaveSession()))
	_, ok := b.sessions.Get(id)
	assert.False(t, ok)
	assert.Empty(t, b.listed())
}

func TestDispatcher_ListSessionsVisibility(t *testing.T) {
	b := newBroker(t)
	assert.Empty(t, b.listed())

	var ids []string
	for i := 0; i < 3; i++ {
		player := fmt.Sprintf("p%d", i)
		b.connect(player)
		out := b.send(player, service.CreateSession())
		ids = append(ids, out[0].Event.SessionID)
	}
	assert.ElementsMatch(t, ids, b.listed())

	// a session created but never joined stays hidden
	_, err := b.sessions.Create("GHOST")
	require.NoError(t, err)
	assert.NotContains(t, b.listed(), "GHOST")

	b.dispatcher.Disconnect(b.ctx, "p0")
	assert.ElementsMatch(t, ids[1:], b.listed())
}

func TestDispatcher_DisconnectReaping(t *testing.T) {
	b := newBroker(t)
	id := b.startMatch("A", "B")

	a, _ := b.clients.Get("A")
	b.dispatcher.Disconnect(b.ctx, "A")

	assert.Equal(t, 1, a.Outbox.(*closeCounter).closed)
	assert.False(t, b.clients.Has("A"))
	info := b.session(id)
	assert.Equal(t, map[string]bool{"A": false, "B": true}, info.Members)

	b.dispatcher.Disconnect(b.ctx, "B")
	_, ok := b.sessions.Get(id)
	assert.False(t, ok)
	assert.Equal(t, 0, b.sessions.Count())

	// unknown ids are ignored
	b.dispatcher.Disconnect(b.ctx, "B")
}

func TestDispatcher_ReconnectResumesMatch(t *testing.T) {
	b := newBroker(t)
	id := b.startMatch("A", "B")
	require.Len(t, b.place("A", 0, 0), 2)

	b.dispatcher.Disconnect(b.ctx, "B")
	out := b.connect("B")

	require.Len(t, out, 1)
	assert.Equal(t, "B", out[0].Target)
	assert.Equal(t, service.ServerGameStart, out[0].Event.Kind)
	assert.Equal(t, "B", out[0].Event.State.Players.Active)
	assert.Equal(t, engine.Cross, gameOf(t, out[0].Event.State).Board[0][0])

	c, _ := b.clients.Get("B")
	assert.Equal(t, id, c.SessionID)
	assert.True(t, b.session(id).Members["B"])

	require.Len(t, b.place("B", 1, 1), 2)
}

func TestDispatcher_RejoinFullSessionAsPlayer(t *testing.T) {
	b := newBroker(t)
	id := b.startMatch("A", "B")

	require.Nil(t, b.send("B", service.LeaveSession()))
	before := b.session(id)
	out := b.send("B", service.JoinSession(id))

	require.Len(t, out, 1)
	assert.Equal(t, "B", out[0].Target)
	assert.Equal(t, service.ErrorEvent(service.MsgSessionFull), out[0].Event)
	assert.Equal(t, before, b.session(id))
	assert.False(t, b.session(id).Members["B"])

	c, _ := b.clients.Get("B")
	assert.Empty(t, c.SessionID)
}

func TestDispatcher_ReconnectAfterSwitchingSessions(t *testing.T) {
	for i := 0; i < 50; i++ {
		b := newBroker(t)
		first := b.startMatch("A", "B")

		b.connect("C")
		require.Len(t, b.send("C", service.JoinSession("YYYYY")), 1)
		require.Len(t, b.send("A", service.JoinSession("YYYYY")), 2)
		assert.False(t, b.session(first).Members["A"])

		b.dispatcher.Disconnect(b.ctx, "A")
		out := b.connect("A")

		require.Len(t, out, 1)
		assert.Equal(t, service.ServerGameStart, out[0].Event.Kind)
		assert.Equal(t, "C", out[0].Event.State.Players.First.ID)

		c, _ := b.clients.Get("A")
		require.Equal(t, "YYYYY", c.SessionID)
		assert.True(t, b.session("YYYYY").Members["A"])
		assert.False(t, b.session(first).Members["A"])
	}
}

func TestDispatcher_MoveOutsideSession(t *testing.T) {
	b := newBroker(t)
	b.connect("A")

	assert.Empty(t, b.place("A", 0, 0))
	assert.Empty(t, b.place("ghost", 0, 0))
	assert.Equal(t, float64(1), b.counter("errors_total", metrics.KindConsistency))
}

func TestDispatcher_PartialSessionIgnoresMoves(t *testing.T) {
	b := newBroker(t)
	b.connect("A")
	out := b.send("A", service.CreateSession())
	id := out[0].Event.SessionID

	assert.Empty(t, b.place("A", 0, 0))
	assert.Nil(t, b.session(id).State.Game)
}

func TestDispatcher_ConcurrentMatches(t *testing.T) {
	b := newBroker(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, c := fmt.Sprintf("a%d", i), fmt.Sprintf("c%d", i)
			room := fmt.Sprintf("ROOM%d", i)
			assert.NoError(t, b.clients.Insert(&service.Client{ID: a}))
			assert.NoError(t, b.clients.Insert(&service.Client{ID: c}))
			b.send(a, service.JoinSession(room))
			b.send(c, service.JoinSession(room))
			b.place(a, 0, 0)
			b.place(c, 1, 1)
			b.dispatcher.Disconnect(b.ctx, a)
			b.dispatcher.Disconnect(b.ctx, c)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, b.sessions.Count())
	assert.Equal(t, 0, b.clients.Count())
}
