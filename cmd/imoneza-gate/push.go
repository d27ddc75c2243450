package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexjbarnes/imoneza-gate/imoneza"
	"github.com/alexjbarnes/imoneza-gate/internal/catalog"
	"github.com/alexjbarnes/imoneza-gate/internal/config"
	"github.com/alexjbarnes/imoneza-gate/internal/logging"
	"github.com/alexjbarnes/imoneza-gate/internal/state"
)

// runPush mirrors a resource manifest to the Management API. With
// -watch it keeps running and re-pushes on every change to the file.
func runPush(args []string) error {
	fs := flag.NewFlagSet("push", flag.ContinueOnError)
	watch := fs.Bool("watch", false, "re-push whenever the manifest changes")
	force := fs.Bool("force", false, "push every entry even if unchanged")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: imoneza-gate push [-watch] [-force] <manifest.yaml>")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("push takes exactly one manifest path")
	}

	path := fs.Arg(0)

	cfg, err := config.LoadForPush()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)

	appState, err := state.LoadAt(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer appState.Close()

	if _, err := appState.SeedSettings(cfg.SeedSettings()); err != nil {
		return fmt.Errorf("seeding settings: %w", err)
	}

	svc := catalog.NewService(appState, catalog.Clients{
		AccessURL:     cfg.AccessAPIURL,
		ManagementURL: cfg.ManagementAPIURL,
		HTTPClient:    imoneza.NewHTTPClient(cfg.HTTPTimeout),
	}, logger, nil)

	if !svc.Settings().ManagementReady() {
		return fmt.Errorf("management API credentials are not configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *watch {
		logger.Info("watching manifest", slog.String("path", path))

		return svc.WatchManifest(ctx, path, *force, func(s catalog.PushSummary) {
			printSummary(os.Stdout, s)
		})
	}

	m, err := catalog.LoadManifest(path)
	if err != nil {
		return err
	}

	summary := svc.PushManifest(ctx, m, *force)
	printSummary(os.Stdout, summary)

	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d resources failed", summary.Failed, len(m.Resources))
	}

	return nil
}

func printSummary(w io.Writer, s catalog.PushSummary) {
	fmt.Fprintf(w, "pushed %d, unchanged %d, deactivated %d, failed %d\n",
		s.Pushed, s.Unchanged, s.Deactivated, s.Failed)

	for _, e := range s.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}
