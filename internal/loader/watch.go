package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/florianilch/claudine-credentials/internal/credentials"
	"github.com/florianilch/claudine-credentials/internal/keychaincache"
)

// Watch follows changes to the credentials file until ctx ends. Every change
// resets file tracking. A cached record that came from the file is
// invalidated as well; records from the secure store stay cached so a file
// change never causes another prompt.
//
// The parent directory is watched because credential writers replace the
// file by renaming a temp file over it.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	path := filepath.Clean(l.file.Path())
	dir := filepath.Dir(path)
	// The directory may not exist before the first login.
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	l.logger.InfoContext(ctx, "watching credentials file", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path || (event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write)) {
				continue
			}
			l.onFileChanged(ctx, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.WarnContext(ctx, "credentials file watcher error", "error", err)
		}
	}
}

func (l *Loader) onFileChanged(ctx context.Context, event fsnotify.Event) {
	l.ResetFileTracking()

	fromFile := func(entry keychaincache.Entry) bool {
		return entry.State == keychaincache.StateCached && entry.Record.Source() == credentials.SourceFile
	}
	if l.cache.InvalidateIf(ctx, l.key, fromFile) {
		l.logger.InfoContext(ctx, "credentials file changed, cache invalidated", "path", event.Name, "op", event.Op.String())
		return
	}
	l.logger.DebugContext(ctx, "credentials file changed", "path", event.Name, "op", event.Op.String())
}
