// Command tictactoe starts the tic-tac-toe session broker.
//
// It supports two modes:
//  1. "serve" (default) – runs the HTTP server exposing the WebSocket protocol,
//     the read-only REST API, Prometheus metrics and an /mcp HTTP endpoint
//  2. "mcp" – runs an MCP stdio server against API_URL, or against an internal
//     broker on a loopback port when nothing answers there
//
// Every flag can also be set through the environment (or a .env file) and
// ngrok tunneling can expose the server during development.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/wricardo/mcp-training/tictactoe/api"
	"github.com/wricardo/mcp-training/tictactoe/game/engine"
	"github.com/wricardo/mcp-training/tictactoe/game/service"
	"github.com/wricardo/mcp-training/tictactoe/game/session"
	"github.com/wricardo/mcp-training/tictactoe/logging"
	"github.com/wricardo/mcp-training/tictactoe/metrics"
	"github.com/wricardo/mcp-training/tictactoe/transport/mcp"
	"github.com/wricardo/mcp-training/tictactoe/transport/websocket"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "Tic-Tac-Toe Session Broker"
)

const shutdownTimeout = 10 * time.Second

// config is the resolved command line and environment configuration
type config struct {
	Host string
	Port int

	LogLevel  string
	LogPretty bool
	LogFile   string

	IDLength        int
	CollisionPolicy session.CollisionPolicy
	RateLimit       float64
	RateBurst       int

	NgrokEnabled   bool
	NgrokAuthtoken string
	NgrokDomain    string

	APIURL string
}

func (c config) addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

func main() {
	// .env is optional
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: error loading .env file: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:    "tictactoe",
		Usage:   "Multiplayer tic-tac-toe session broker over WebSocket",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Value: "localhost", Usage: "HTTP server host", Sources: cli.EnvVars("HOST")},
			&cli.IntFlag{Name: "port", Value: 8000, Usage: "HTTP server port", Sources: cli.EnvVars("PORT")},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "Log level (debug, info, warn, error)", Sources: cli.EnvVars("LOG_LEVEL")},
			&cli.BoolFlag{Name: "log-pretty", Usage: "Human-readable console logs", Sources: cli.EnvVars("LOG_PRETTY")},
			&cli.StringFlag{Name: "log-file", Usage: "Also write JSON logs to this rotated file", Sources: cli.EnvVars("LOG_FILE")},
			&cli.IntFlag{Name: "session-id-length", Value: session.DefaultIDLength, Usage: "Length of generated session ids", Sources: cli.EnvVars("SESSION_ID_LENGTH")},
			&cli.StringFlag{Name: "session-collision-policy", Value: "overwrite", Usage: "What creating a taken session id does: overwrite or reject", Sources: cli.EnvVars("SESSION_COLLISION_POLICY")},
			&cli.FloatFlag{Name: "rate-limit", Usage: "Inbound events per second per connection (0 disables)", Sources: cli.EnvVars("RATE_LIMIT")},
			&cli.IntFlag{Name: "rate-burst", Value: 10, Usage: "Burst size of the per-connection rate limiter", Sources: cli.EnvVars("RATE_BURST")},
			&cli.BoolFlag{Name: "ngrok", Usage: "Enable ngrok tunnel", Sources: cli.EnvVars("NGROK_ENABLED")},
			&cli.StringFlag{Name: "ngrok-auth", Usage: "Ngrok auth token", Sources: cli.EnvVars("NGROK_AUTHTOKEN", "NGROK_AUTH_TOKEN")},
			&cli.StringFlag{Name: "ngrok-domain", Usage: "Custom ngrok domain (optional)", Sources: cli.EnvVars("NGROK_DOMAIN")},
		},
		Commands: []*cli.Command{
			{
				Name:    "serve",
				Aliases: []string{"server", "http"},
				Usage:   "Run the broker with WebSocket, REST API, metrics and MCP endpoint",
				Action:  serveAction,
			},
			{
				Name:    "mcp",
				Aliases: []string{"stdio-mcp", "mcp-stdio"},
				Usage:   "Run an MCP stdio server for operators",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "api-url", Value: "http://localhost:8000", Usage: "Broker REST API to proxy", Sources: cli.EnvVars("API_URL")},
				},
				Action: mcpAction,
			},
		},
		Action: serveAction,
	}
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := configFromCommand(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, false)
	if err != nil {
		return err
	}
	return runServer(ctx, cfg, logger)
}

func mcpAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := configFromCommand(cmd)
	if err != nil {
		return err
	}
	cfg.APIURL = cmd.String("api-url")

	// stdout carries the MCP protocol
	logger, err := newLogger(cfg, true)
	if err != nil {
		return err
	}
	return runStdioMCP(ctx, cfg, logger)
}

// configFromCommand resolves flags into a config
func configFromCommand(cmd *cli.Command) (config, error) {
	policy, err := session.ParseCollisionPolicy(cmd.String("session-collision-policy"))
	if err != nil {
		return config{}, err
	}

	cfg := config{
		Host:            cmd.String("host"),
		Port:            cmd.Int("port"),
		LogLevel:        cmd.String("log-level"),
		LogPretty:       cmd.Bool("log-pretty"),
		LogFile:         cmd.String("log-file"),
		IDLength:        cmd.Int("session-id-length"),
		CollisionPolicy: policy,
		RateLimit:       cmd.Float("rate-limit"),
		RateBurst:       cmd.Int("rate-burst"),
		NgrokEnabled:    cmd.Bool("ngrok"),
		NgrokAuthtoken:  cmd.String("ngrok-auth"),
		NgrokDomain:     cmd.String("ngrok-domain"),
	}
	return cfg, cfg.validate()
}

func (c config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.Newf("invalid port %d", c.Port)
	}
	if c.IDLength <= 0 {
		return errors.Newf("session id length must be positive, got %d", c.IDLength)
	}
	if c.RateLimit < 0 {
		return errors.Newf("rate limit must not be negative, got %v", c.RateLimit)
	}
	return nil
}

func newLogger(cfg config, forceStderr bool) (zerolog.Logger, error) {
	opts := logging.Options{
		Service: "tictactoe",
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty && !forceStderr,
		Output:  os.Stderr,
	}
	if cfg.LogFile != "" {
		opts.File = &logging.FileOptions{Path: cfg.LogFile, MaxSizeMB: 50, MaxBackups: 3, MaxAgeDays: 7}
	}
	return logging.New(opts)
}

// broker holds the wired components of one server instance
type broker struct {
	clients    *session.ClientRegistry
	sessions   *session.Manager
	dispatcher *service.Dispatcher
	ws         *websocket.Handler
	registry   *prometheus.Registry
}

// newBroker wires registries, dispatcher and connection handler
func newBroker(cfg config, logger zerolog.Logger) *broker {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(metrics.WithRegistry(registry))

	clients := session.NewClientRegistry()
	sessions := session.NewManager(
		session.NewIDGenerator(cfg.IDLength),
		session.WithCollisionPolicy(cfg.CollisionPolicy),
	)
	dispatcher := service.NewDispatcher(clients, sessions, engine.NewEvaluator(), logger, m)
	ws := websocket.NewHandler(clients, dispatcher, logger, m, websocket.Options{
		RateLimit: rate.Limit(cfg.RateLimit),
		Burst:     cfg.RateBurst,
	})

	return &broker{
		clients:    clients,
		sessions:   sessions,
		dispatcher: dispatcher,
		ws:         ws,
		registry:   registry,
	}
}

// router mounts the API server at the root and the MCP endpoint at /mcp.
// The MCP tools call back into the API at baseURL.
func (b *broker) router(baseURL string, logger zerolog.Logger) http.Handler {
	apiServer := api.NewServer(b.sessions, b.clients, b.ws, b.registry, logger)
	mcpClient := mcp.NewClient(baseURL)

	mux := http.NewServeMux()
	mux.Handle("/", apiServer)
	mux.HandleFunc("/mcp", mcpClient.HTTPHandler())
	return mux
}

// runServer serves until ctx is cancelled, then shuts down gracefully
func runServer(ctx context.Context, cfg config, logger zerolog.Logger) error {
	addr := cfg.addr()
	b := newBroker(cfg, logger)
	handler := b.router("http://"+addr, logger)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", addr)
	}

	// No write timeout: WebSocket connections are long-lived.
	httpServer := &http.Server{
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	logger.Info().
		Str("version", Version).
		Str("addr", addr).
		Msg("starting " + AppName)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().
			Str("websocket", fmt.Sprintf("ws://%s/ws/{client_id}", addr)).
			Str("api", fmt.Sprintf("http://%s/api", addr)).
			Str("mcp", fmt.Sprintf("http://%s/mcp", addr)).
			Str("metrics", fmt.Sprintf("http://%s/metrics", addr)).
			Msg("HTTP server listening")
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})

	if cfg.NgrokEnabled {
		g.Go(func() error {
			return runNgrok(gctx, cfg, handler, logger)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "http server shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// runNgrok serves handler through an ngrok tunnel until ctx is done.
// A missing token or a failed tunnel is logged and does not stop the server.
func runNgrok(ctx context.Context, cfg config, handler http.Handler, logger zerolog.Logger) error {
	log := logger.With().Str("component", "ngrok").Logger()

	if cfg.NgrokAuthtoken == "" {
		log.Warn().Msg("ngrok enabled but no auth token provided (use --ngrok-auth or NGROK_AUTHTOKEN)")
		return nil
	}

	var tunnel ngrokConfig.Tunnel
	if cfg.NgrokDomain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(cfg.NgrokDomain))
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(cfg.NgrokAuthtoken))
	if err != nil {
		log.Error().Err(err).Msg("failed to start ngrok tunnel")
		return nil
	}

	url := tun.URL()
	log.Info().
		Str("url", url).
		Str("websocket", url+"/ws/{client_id}").
		Str("mcp", url+"/mcp").
		Msg("ngrok tunnel established")

	srv := &http.Server{Handler: handler}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	if err := srv.Serve(tun); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		log.Error().Err(err).Msg("ngrok server error")
	}
	log.Info().Msg("ngrok tunnel closed")
	return nil
}

// runStdioMCP runs an MCP stdio server. It proxies to cfg.APIURL when a broker
// answers there; otherwise it starts an internal broker on a random loopback
// port and targets that.
func runStdioMCP(ctx context.Context, cfg config, logger zerolog.Logger) error {
	baseURL := cfg.APIURL

	if !apiAvailable(ctx, baseURL) {
		logger.Info().Str("api_url", baseURL).Msg("no broker found, starting internal HTTP server")

		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return errors.Wrap(err, "listen for internal server")
		}
		baseURL = "http://" + listener.Addr().String()

		b := newBroker(cfg, logger)
		httpServer := &http.Server{Handler: b.router(baseURL, logger)}
		go func() {
			if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("internal HTTP server error")
			}
		}()
		defer httpServer.Close()
	}

	logger.Info().Str("api_url", baseURL).Msg("MCP stdio server ready")

	mcpClient := mcp.NewClient(baseURL)
	if err := server.ServeStdio(mcpClient.GetMCPServer()); err != nil {
		return errors.Wrap(err, "mcp stdio server")
	}
	return nil
}

// apiAvailable reports whether a broker answers its health check at baseURL
func apiAvailable(ctx context.Context, baseURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/health", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
