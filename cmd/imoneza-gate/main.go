package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexjbarnes/imoneza-gate/imoneza"
	"github.com/alexjbarnes/imoneza-gate/internal/admin"
	"github.com/alexjbarnes/imoneza-gate/internal/auth"
	"github.com/alexjbarnes/imoneza-gate/internal/catalog"
	"github.com/alexjbarnes/imoneza-gate/internal/config"
	"github.com/alexjbarnes/imoneza-gate/internal/gateway"
	"github.com/alexjbarnes/imoneza-gate/internal/logging"
	"github.com/alexjbarnes/imoneza-gate/internal/mcpserver"
	"github.com/alexjbarnes/imoneza-gate/internal/metrics"
	"github.com/alexjbarnes/imoneza-gate/internal/models"
	"github.com/alexjbarnes/imoneza-gate/internal/server"
	"github.com/alexjbarnes/imoneza-gate/internal/state"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	var err error

	switch {
	case len(os.Args) > 1 && os.Args[1] == "hash-password":
		// Handled before config loading.
		hashPassword()
		return
	case len(os.Args) > 1 && os.Args[1] == "push":
		err = runPush(os.Args[2:])
	case len(os.Args) > 1 && os.Args[1] == "version":
		fmt.Println(Version)
		return
	default:
		err = run()
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func hashPassword() {
	fmt.Fprint(os.Stderr, "Enter password: ")
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		fmt.Fprintln(os.Stderr, "no input")
		os.Exit(1)
	}
	password := scanner.Text()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(hash))
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Info("imoneza-gate starting",
		slog.String("version", Version),
		slog.String("upstream", cfg.UpstreamURL),
		slog.String("protected", cfg.ProtectedPathPattern),
		slog.Bool("mcp", cfg.EnableMCP),
	)

	upstream, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return fmt.Errorf("parsing upstream url: %w", err)
	}

	authenticator, err := newAuthenticator(cfg)
	if err != nil {
		return err
	}

	appState, err := state.LoadAt(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer appState.Close()

	seeded, err := appState.SeedSettings(cfg.SeedSettings())
	if err != nil {
		return fmt.Errorf("seeding settings: %w", err)
	}
	if seeded {
		logger.Info("settings seeded from environment")
	}

	m := metrics.New()
	clients := catalog.Clients{
		AccessURL:     cfg.AccessAPIURL,
		ManagementURL: cfg.ManagementAPIURL,
		HTTPClient:    imoneza.NewHTTPClient(cfg.HTTPTimeout),
	}
	svc := catalog.NewService(appState, clients, logger.With(slog.String("component", "catalog")), m)

	access := gateway.Middleware(gateway.Config{
		Settings: appState,
		NewChecker: func(s models.Settings) gateway.AccessChecker {
			return clients.Access(s)
		},
		SiteURL:           cfg.SiteURL,
		ResourceKeyPrefix: cfg.ResourceKeyPrefix,
		CookieName:        cfg.CookieName,
		CookieTTL:         cfg.CookieTTL,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
		Logger:            logger.With(slog.String("component", "gateway")),
		Metrics:           m,
	})

	gatewayHandler := server.NewGatewayMux(server.GatewayConfig{
		Upstream:         upstream,
		ProtectedPattern: cfg.ProtectedPathPattern,
		Access:           access,
		Logger:           logger,
	})

	adminHandler := admin.NewHandler(admin.HandlerConfig{
		Service:     svc,
		Store:       appState,
		Logger:      logger.With(slog.String("component", "admin")),
		ResourceURL: cfg.ResourceURL,
	})

	var mcpHandler http.Handler
	if cfg.EnableMCP {
		mcpServer := mcp.NewServer(&mcp.Implementation{
			Name:    "imoneza-gate",
			Version: Version,
		}, nil)
		mcpserver.RegisterTools(mcpServer, svc)

		mcpHandler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
			return mcpServer
		}, nil)
	}

	adminMux := server.NewAdminMux(server.AdminConfig{
		Admin:      adminHandler.Routes(),
		Auth:       auth.Middleware(authenticator, logger),
		Metrics:    m.Handler(),
		MCPHandler: mcpHandler,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return serveHTTP(gctx, "gateway", cfg.GatewayListenAddr, gatewayHandler, logger)
	})

	g.Go(func() error {
		return serveHTTP(gctx, "admin", cfg.AdminListenAddr, adminMux, logger)
	})

	return g.Wait()
}

func newAuthenticator(cfg *config.Config) (*auth.Authenticator, error) {
	users, err := cfg.ParseAdminUsers()
	if err != nil {
		return nil, fmt.Errorf("parsing ADMIN_USERS: %w", err)
	}

	entries, err := cfg.ParseAdminAPIKeys()
	if err != nil {
		return nil, fmt.Errorf("parsing ADMIN_API_KEYS: %w", err)
	}

	keys := make([]auth.APIKey, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, auth.APIKey{UserID: e.UserID, Key: e.Key})
	}

	return auth.NewAuthenticator(users, keys), nil
}

// serveHTTP runs one listener until ctx is cancelled, then drains it.
func serveHTTP(ctx context.Context, name, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", slog.String("server", name), slog.String("error", err.Error()))
		}
	}()

	logger.Info("listening", slog.String("server", name), slog.String("addr", addr))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}

	return nil
}
