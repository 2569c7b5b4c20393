package schema

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Invalidator drops a cached schema. *Resolver implements it.
type Invalidator interface {
	Invalidate(modelID string)
}

// WatchDir invalidates the cached schema of a model whenever its
// declaration file (<model>.yaml) in dir changes. It blocks until ctx is
// done or the watcher fails.
func WatchDir(ctx context.Context, dir string, inv Invalidator, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			modelID, ok := modelIDForPath(ev.Name)
			if !ok {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) ||
				ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				logger.Debug("schema declaration changed", "model", modelID, "op", ev.Op.String())
				inv.Invalidate(modelID)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}
}

func modelIDForPath(path string) (string, bool) {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || filepath.Ext(base) != ".yaml" {
		return "", false
	}
	return strings.TrimSuffix(base, ".yaml"), true
}
