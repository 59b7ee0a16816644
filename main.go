package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"prism-client/api"
	"prism-client/config"
	"prism-client/events"
	"prism-client/journal"
	"prism-client/mutation"
	"prism-client/remote"
	"prism-client/session"
	"prism-client/store"
)

const appName = "prism-client"

// set with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Optimistic local mirror of the Prism project backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the local gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath, os.Getenv)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	})
	cmd.AddCommand(tokenCmd(&configPath))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, version)
		},
	})
	return cmd
}

// tokenCmd mints a test-mode token for signing in against a local gateway.
func tokenCmd(configPath *string) *cobra.Command {
	var (
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Mint a test-mode bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath, os.Getenv)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !cfg.Auth.TestMode {
				return errors.New("tokens can only be minted in auth test mode")
			}
			token, err := session.TestToken([]byte(cfg.Auth.TestSecret), session.TokenOptions{
				Subject:  args[0],
				Role:     role,
				Audience: cfg.Auth.Audience,
				Issuer:   cfg.Auth.Issuer(),
				TTL:      ttl,
			})
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "Role claim (manager or client)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}

func newLogger(cfg config.Config) *log.Logger {
	logger := log.New()
	logger.SetFormatter(&log.JSONFormatter{})
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
		log.SetLevel(log.DebugLevel)
	}
	return logger
}

// newAuth returns the token validator and a cleanup for its key refresher.
func newAuth(cfg config.Auth, logger *log.Logger) (*session.Auth, func(), error) {
	if cfg.TestMode {
		logger.Warn("auth test mode: accepting HS256 tokens signed with TEST_JWT_SECRET")
		return session.NewTestAuth([]byte(cfg.TestSecret), cfg.Audience, cfg.Issuer()), func() {}, nil
	}
	jwks, err := keyfunc.Get(cfg.JWKSURL(), keyfunc.Options{
		RefreshInterval: time.Hour,
		RefreshErrorHandler: func(err error) {
			logger.WithError(err).Error("jwks refresh")
		},
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("jwks: %w", err)
	}
	return session.NewAuth(jwks, cfg.Audience, cfg.Issuer()), jwks.EndBackground, nil
}

// app holds the wired components behind the gateway.
type app struct {
	store    *store.Store
	ctrl     *mutation.Controller
	remote   *remote.Client
	sessions *session.Provider
	registry *prometheus.Registry
	closers  []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func build(ctx context.Context, cfg config.Config, logger *log.Logger) (*app, error) {
	a := &app{registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	auth, endJWKS, err := newAuth(cfg.Auth, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, endJWKS)
	a.sessions = session.NewProvider(auth, logger)

	a.remote = remote.New(cfg.BackendBaseURL, a.sessions, logger,
		remote.WithTimeout(cfg.RequestTimeout),
		remote.WithAuthErrorHandler(func(error) {
			a.sessions.SignOut("credentials rejected by backend")
		}),
	)

	outcomes, err := mutation.NewMetricsObserver(a.registry)
	if err != nil {
		a.close()
		return nil, err
	}
	opts := []mutation.Option{
		mutation.WithFetcher(a.remote),
		mutation.WithSubject(func() string {
			s, _ := a.sessions.Current()
			return s.Subject
		}),
		mutation.WithObserver(mutation.LogObserver{Logger: logger}),
		mutation.WithObserver(outcomes),
	}
	if cfg.Journal.ConnectionString != "" {
		j, err := journal.Open(ctx, cfg.Journal.ConnectionString, cfg.Journal.Table, logger)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("journal: %w", err)
		}
		a.closers = append(a.closers, j.Close)
		opts = append(opts, mutation.WithObserver(j))
	}

	a.store = store.New()
	a.ctrl = mutation.NewController(a.store, logger, opts...)

	// any session change ends the previous user's view of the data
	a.closers = append(a.closers, a.sessions.Subscribe(func(ev session.Event) {
		a.ctrl.Reset()
	}))
	return a, nil
}

func newEcho(a *app, logger *log.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentEncoding},
	}))
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "prism_client",
		Registerer: a.registry,
	}))
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: a.registry}))

	api.Register(e, a.ctrl, a.store, a.remote, a.sessions, logger)
	return e
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := newLogger(cfg)

	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	a, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if cfg.Redis.ConnectionString != "" {
		rc := redis.NewClient(events.RedisOptions(cfg.Redis.ConnectionString))
		defer rc.Close()
		sub := events.NewSubscriber(rc, cfg.Redis.Channel, a.ctrl, a.sessions, logger)
		go sub.Run(ctx)
	} else {
		logger.Warn("no redis configured: remote changes are only seen on reload")
	}

	e := newEcho(a, logger)
	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(log.Fields{"addr": cfg.ListenAddr, "version": version}).Info("gateway starting")
		errCh <- e.Start(cfg.ListenAddr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("gateway stopping")
	return e.Shutdown(shutdownCtx)
}
