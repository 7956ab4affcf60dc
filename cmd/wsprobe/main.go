// Command wsprobe is a terminal client for the tic-tac-toe session broker.
//
// One-shot commands connect, send a single event, print whatever the broker
// replies within --wait and disconnect:
//
//	wsprobe list
//	wsprobe --id alice join K7QXZ
//	wsprobe --id alice place 1 2
//
// "play" keeps the connection open and reads commands from stdin, one per
// line (list, create, join <id>, leave, place <x> <y>, quit).
//
// "bot [session-id]" joins the session, or creates one, and plays every turn
// of its client until the game ends.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/wricardo/mcp-training/tictactoe/game/service"
	"github.com/wricardo/mcp-training/tictactoe/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "wsprobe: %v\n", err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "wsprobe",
		Usage: "Talk to a tic-tac-toe session broker over WebSocket",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "ws://localhost:8000/ws", Usage: "Broker WebSocket base URL; the client id is appended", Sources: cli.EnvVars("WSPROBE_URL")},
			&cli.StringFlag{Name: "id", Usage: "Client id (defaults to a random UUID)", Sources: cli.EnvVars("WSPROBE_ID")},
			&cli.DurationFlag{Name: "wait", Value: time.Second, Usage: "How long one-shot commands wait for replies"},
			&cli.Uint64Flag{Name: "retries", Value: 5, Usage: "Connection attempts before giving up"},
			&cli.StringFlag{Name: "log-level", Value: "warn", Usage: "Log level", Sources: cli.EnvVars("LOG_LEVEL")},
		},
		Commands: []*cli.Command{
			oneShot("list", "List joinable sessions"),
			oneShot("create", "Create a session and wait in it"),
			oneShot("leave", "Leave the current session"),
			oneShot("join", "Join or create session <id>"),
			oneShot("place", "Place a mark at <x> <y>"),
			{
				Name:      "bot",
				Usage:     "Join or create a session and play it automatically",
				ArgsUsage: "[session-id]",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					first := service.CreateSession()
					if id := cmd.Args().First(); id != "" {
						first = service.JoinSession(id)
					}

					p, err := connect(ctx, cmd)
					if err != nil {
						return err
					}
					defer p.conn.Close()
					return p.autoplay(ctx, first, &SystematicStrategy{})
				},
			},
			{
				Name:  "play",
				Usage: "Interactive session reading commands from stdin",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					p, err := connect(ctx, cmd)
					if err != nil {
						return err
					}
					defer p.conn.Close()
					return p.interactive(ctx, os.Stdin)
				},
			},
		},
	}
}

// oneShot builds a command that sends the event named by its own name and args
func oneShot(name, usage string) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			line := strings.Join(append([]string{name}, cmd.Args().Slice()...), " ")
			ev, err := parseCommand(line)
			if err != nil {
				return err
			}

			p, err := connect(ctx, cmd)
			if err != nil {
				return err
			}
			defer p.conn.Close()
			return p.run(ctx, []service.ClientEvent{ev}, cmd.Duration("wait"))
		},
	}
}

func connect(ctx context.Context, cmd *cli.Command) (*probe, error) {
	logger, err := logging.New(logging.Options{
		Service: "wsprobe",
		Level:   cmd.String("log-level"),
		Pretty:  true,
	})
	if err != nil {
		return nil, err
	}

	id := cmd.String("id")
	if id == "" {
		id = uuid.NewString()
	}
	logger = logger.With().Str("client_id", id).Logger()

	conn, err := dial(ctx, cmd.String("url"), id, cmd.Uint64("retries"), logger)
	if err != nil {
		return nil, errors.Wrap(err, "connect")
	}
	logger.Info().Msg("connected")
	fmt.Fprintf(os.Stdout, "connected as %s\n", id)

	return &probe{id: id, conn: conn, out: os.Stdout, logger: logger}, nil
}
