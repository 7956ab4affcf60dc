package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/wricardo/mcp-training/tictactoe/game/engine"
	"github.com/wricardo/mcp-training/tictactoe/game/service"
)

const writeWait = 5 * time.Second

// parseCommand turns one command line ("join K7QXZ", "place 1 2") into a
// client event
func parseCommand(line string) (service.ClientEvent, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return service.ClientEvent{}, errors.New("empty command")
	}

	switch strings.ToLower(fields[0]) {
	case "list":
		return service.ListSessions(), nil
	case "create":
		return service.CreateSession(), nil
	case "leave":
		return service.LeaveSession(), nil
	case "join":
		if len(fields) != 2 {
			return service.ClientEvent{}, errors.New("usage: join <session-id>")
		}
		return service.JoinSession(fields[1]), nil
	case "place":
		if len(fields) != 3 {
			return service.ClientEvent{}, errors.New("usage: place <x> <y>")
		}
		x, err := strconv.Atoi(fields[1])
		if err != nil {
			return service.ClientEvent{}, errors.Wrap(err, "x")
		}
		y, err := strconv.Atoi(fields[2])
		if err != nil {
			return service.ClientEvent{}, errors.Wrap(err, "y")
		}
		return service.MakeMove(engine.PlaceAt(x, y)), nil
	}
	return service.ClientEvent{}, errors.Newf("unknown command %q", fields[0])
}

// dial connects as clientID, retrying with exponential backoff. A 409 means
// the id is taken and is not retried.
func dial(ctx context.Context, baseURL, clientID string, retries uint64, logger zerolog.Logger) (*websocket.Conn, error) {
	url := strings.TrimRight(baseURL, "/") + "/" + clientID

	var conn *websocket.Conn
	op := func() error {
		c, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusConflict {
				return backoff.Permanent(errors.Newf("client id %s is already connected", clientID))
			}
			return errors.Wrapf(err, "dial %s", url)
		}
		conn = c
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 2 * time.Second

	err := backoff.RetryNotify(op,
		backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx),
		func(err error, next time.Duration) {
			logger.Warn().Err(err).Dur("retry_in", next).Msg("connect failed")
		})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// probe is one connected client session
type probe struct {
	id     string
	conn   *websocket.Conn
	out    io.Writer
	logger zerolog.Logger

	// bot mode
	strategy *SystematicStrategy
	finished chan struct{}
	finish   sync.Once

	// gorilla connections allow one concurrent writer
	writeMu sync.Mutex
	closing atomic.Bool
}

func (p *probe) send(ev service.ClientEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// close sends a normal closure so the server runs its disconnect path, and
// bounds the wait for the server's closing frame.
func (p *probe) close() {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.closing.Store(true)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	p.conn.SetReadDeadline(time.Now().Add(writeWait))
}

// readLoop prints every server event until the connection closes
func (p *probe) readLoop() error {
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if p.closing.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return errors.Wrap(err, "read")
		}

		var ev service.ServerEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			p.logger.Warn().Err(err).Str("frame", string(data)).Msg("undecodable server frame")
			continue
		}
		fmt.Fprintln(p.out, formatEvent(ev))

		if p.strategy != nil {
			if err := p.respond(ev); err != nil {
				return err
			}
		}
	}
}

// run sends events in order, waits for replies and closes the connection
func (p *probe) run(ctx context.Context, events []service.ClientEvent, wait time.Duration) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(p.readLoop)

	g.Go(func() error {
		defer p.close()
		for _, ev := range events {
			if err := p.send(ev); err != nil {
				return errors.Wrapf(err, "send %s", ev.Kind)
			}
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
		}
		return nil
	})

	return g.Wait()
}

// interactive sends one event per input line until EOF or "quit"
func (p *probe) interactive(ctx context.Context, in io.Reader) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(p.readLoop)

	g.Go(func() error {
		defer p.close()
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return nil
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if line == "quit" || line == "exit" {
				return nil
			}
			ev, err := parseCommand(line)
			if err != nil {
				fmt.Fprintf(p.out, "! %v\n", err)
				continue
			}
			if err := p.send(ev); err != nil {
				return errors.Wrapf(err, "send %s", ev.Kind)
			}
		}
		return scanner.Err()
	})

	return g.Wait()
}

// autoplay sends first, then plays every turn of this client with the
// strategy until the game ends or the broker reports an error
func (p *probe) autoplay(ctx context.Context, first service.ClientEvent, strategy *SystematicStrategy) error {
	p.strategy = strategy
	p.finished = make(chan struct{})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(p.readLoop)

	g.Go(func() error {
		defer p.close()
		if err := p.send(first); err != nil {
			return errors.Wrapf(err, "send %s", first.Kind)
		}
		select {
		case <-p.finished:
		case <-ctx.Done():
		}
		return nil
	})

	return g.Wait()
}

// respond places the strategy's move when ev hands the turn to this client
func (p *probe) respond(ev service.ServerEvent) error {
	switch ev.Kind {
	case service.ServerError:
		p.finish.Do(func() { close(p.finished) })
		return nil
	case service.ServerGameStart, service.ServerGameUpdate:
	default:
		return nil
	}

	var game engine.Game
	if err := json.Unmarshal(ev.State.RawGame, &game); err != nil {
		return errors.Wrap(err, "decode game")
	}
	if game.Over() {
		p.finish.Do(func() { close(p.finished) })
		return nil
	}
	if ev.State.Players.Kind != service.SlotFull || ev.State.Players.Active != p.id || p.closing.Load() {
		return nil
	}

	pos, ok := p.strategy.NextMove(game)
	if !ok {
		return nil
	}
	p.logger.Debug().Int("x", pos.X).Int("y", pos.Y).Msg("placing")
	return p.send(service.MakeMove(engine.PlaceAt(pos.X, pos.Y)))
}

// formatEvent renders a server event for the terminal
func formatEvent(ev service.ServerEvent) string {
	switch ev.Kind {
	case service.ServerListSessions:
		if len(ev.Sessions) == 0 {
			return "sessions: none"
		}
		return "sessions: " + strings.Join(ev.Sessions, ", ")
	case service.ServerQueue:
		return "queued in " + ev.SessionID + ", waiting for an opponent"
	case service.ServerError:
		return "error: " + ev.Message
	case service.ServerGameStart, service.ServerGameUpdate:
		return formatState(ev)
	}
	return string(ev.Kind)
}

func formatState(ev service.ServerEvent) string {
	var sb strings.Builder
	players := ev.State.Players
	if players.Kind == service.SlotFull {
		fmt.Fprintf(&sb, "%s: %s (X) vs %s (O), %s to move\n", ev.Kind, players.First.ID, players.Second.ID, players.Active)
	} else {
		fmt.Fprintf(&sb, "%s: %s\n", ev.Kind, players.Kind)
	}

	var game engine.Game
	if len(ev.State.RawGame) > 0 && json.Unmarshal(ev.State.RawGame, &game) == nil {
		sb.WriteString(game.Board.String())
		if game.Over() {
			if game.Winner != nil {
				fmt.Fprintf(&sb, "\ngame over, %s wins", *game.Winner)
			} else {
				sb.WriteString("\ngame over, draw")
			}
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
