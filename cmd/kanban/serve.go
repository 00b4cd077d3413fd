package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"kanban/internal/activity"
	"kanban/internal/auth"
	"kanban/internal/board"
	"kanban/internal/broadcast"
	"kanban/internal/server"
	"kanban/internal/storage/sqlite"
	"kanban/internal/util"
)

type serveOptions struct {
	addr             string
	jwtSecret        string
	jwksURL          string
	audience         string
	issuer           string
	redisAddr        string
	redisChannel     string
	subscriberBuffer int
	activityBuffer   int
	txRetries        int
}

func serveCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and board websocket server",
		Long: `Start the board server.

Tokens are verified with a shared HS256 secret (--jwt-secret) or against the
keys published at a JWKS endpoint (--jwks-url). With --redis set, events are
relayed between server instances sharing the same database.

Examples:
  kanban serve --addr :8080 --jwt-secret dev-secret
  kanban serve --jwks-url https://issuer/.well-known/jwks.json --jwt-audience kanban`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.addr, "addr", util.EnvOrDefault("KANBAN_ADDR", ":8080"), "HTTP listen address")
	f.StringVar(&opts.jwtSecret, "jwt-secret", util.EnvOrDefault("KANBAN_JWT_SECRET", ""), "Shared HS256 secret for bearer tokens")
	f.StringVar(&opts.jwksURL, "jwks-url", util.EnvOrDefault("KANBAN_JWKS_URL", ""), "JWKS endpoint for RS256 bearer tokens")
	f.StringVar(&opts.audience, "jwt-audience", util.EnvOrDefault("KANBAN_JWT_AUDIENCE", ""), "Required token audience")
	f.StringVar(&opts.issuer, "jwt-issuer", util.EnvOrDefault("KANBAN_JWT_ISSUER", ""), "Required token issuer")
	f.StringVar(&opts.redisAddr, "redis", util.EnvOrDefault("KANBAN_REDIS_ADDR", ""), "Redis address or URL for cross-instance events")
	f.StringVar(&opts.redisChannel, "redis-channel", util.EnvOrDefault("KANBAN_REDIS_CHANNEL", broadcast.DefaultRedisChannel), "Redis pub/sub channel")
	f.IntVar(&opts.subscriberBuffer, "subscriber-buffer", util.EnvIntOrDefault("KANBAN_SUBSCRIBER_BUFFER", 64), "Events a viewer may fall behind before it is dropped")
	f.IntVar(&opts.activityBuffer, "activity-buffer", util.EnvIntOrDefault("KANBAN_ACTIVITY_BUFFER", 256), "Pending activity entries before new ones are dropped")
	f.IntVar(&opts.txRetries, "tx-retries", util.EnvIntOrDefault("KANBAN_TX_RETRIES", 3), "Retries for transactions that hit a busy database")
	return cmd
}

func runServe(opts serveOptions) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	logger.Info("kanban server", slog.String("version", Version))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	authenticator, closeAuth, err := newAuth(opts, logger)
	if err != nil {
		return err
	}
	defer closeAuth()

	store, err := sqlite.Open(dbPath, logger, sqlite.WithTxRetries(opts.txRetries))
	if err != nil {
		return fmt.Errorf("unable to open database: %w", err)
	}
	defer store.Close()

	recorder := activity.NewRecorder(store, logger, opts.activityBuffer)
	defer recorder.Close()

	hub := broadcast.NewHub(logger, opts.subscriberBuffer)
	if opts.redisAddr != "" {
		rc, err := newRedis(ctx, opts.redisAddr)
		if err != nil {
			return err
		}
		defer rc.Close()
		relay := broadcast.NewRedisRelay(rc, hub, opts.redisChannel, logger)
		hub.SetRelay(relay)
		go relay.Run(ctx)
		logger.Info("relaying events through redis", slog.String("channel", opts.redisChannel))
	}

	svc := board.NewService(store, hub, recorder, logger)
	srv := server.New(svc, hub, authenticator, logger)

	httpServer := &http.Server{
		Addr:    opts.addr,
		Handler: srv.Engine(),
	}

	go func() {
		logger.Info("starting server", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped unexpectedly", slog.String("error", err.Error()))
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", slog.String("error", err.Error()))
	}
	cancel()

	logger.Info("server stopped")
	return nil
}

func newAuth(opts serveOptions, logger *slog.Logger) (*auth.Auth, func(), error) {
	switch {
	case opts.jwksURL != "":
		jwks, err := keyfunc.Get(opts.jwksURL, keyfunc.Options{
			RefreshInterval:   time.Hour,
			RefreshRateLimit:  5 * time.Minute,
			RefreshUnknownKID: true,
			RefreshErrorHandler: func(err error) {
				logger.Warn("jwks refresh failed", slog.String("error", err.Error()))
			},
		})
		if err != nil {
			return nil, nil, fmt.Errorf("jwks: %w", err)
		}
		return auth.NewJWKS(jwks, opts.audience, opts.issuer), jwks.EndBackground, nil
	case opts.jwtSecret != "":
		return auth.NewHMAC([]byte(opts.jwtSecret), opts.audience, opts.issuer), func() {}, nil
	default:
		return nil, nil, errors.New("either --jwt-secret or --jwks-url is required")
	}
}

func newRedis(ctx context.Context, addr string) (*redis.Client, error) {
	redisOpts, err := redis.ParseURL(addr)
	if err != nil {
		redisOpts = &redis.Options{Addr: addr}
	}
	rc := redis.NewClient(redisOpts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}
