package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounceInterval batches the burst of events an editor produces
// on save into a single re-push.
const watchDebounceInterval = 500 * time.Millisecond

// WatchManifest pushes the manifest at path and then re-pushes it each
// time the file changes, until ctx is cancelled. The parent directory is
// watched so editors that save by rename are still seen. onPush, if
// non-nil, receives every summary.
func (s *Service) WatchManifest(ctx context.Context, path string, force bool, onPush func(PushSummary)) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving manifest path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return fmt.Errorf("watching manifest dir: %w", err)
	}

	push := func() {
		m, err := LoadManifest(absPath)
		if err != nil {
			s.logger.Warn("manifest unreadable", slog.String("path", absPath), slog.String("error", err.Error()))
			return
		}

		summary := s.PushManifest(ctx, m, force)
		if onPush != nil {
			onPush(summary)
		}
	}

	push()

	s.logger.Info("manifest watcher started", slog.String("path", absPath))

	var pendingSince time.Time

	ticker := time.NewTicker(watchDebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed unexpectedly")
			}

			if filepath.Clean(event.Name) != absPath {
				continue
			}

			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				pendingSince = time.Now()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed unexpectedly")
			}

			s.logger.Warn("watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			if pendingSince.IsZero() || time.Since(pendingSince) < 300*time.Millisecond {
				continue
			}

			pendingSince = time.Time{}
			push()
		}
	}
}
