package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/remodel-labs/remodel/internal/refs"
	"github.com/remodel-labs/remodel/pkg/tmd"
)

// IndexModel parses and resolves one model directory and saves the result.
func IndexModel(store *Store, root string) error {
	model, err := tmd.Parse(root)
	if err != nil {
		return err
	}
	index := refs.Resolve(model)
	return store.SaveModel(uuid.NewString(), model, index)
}

// IndexAll indexes several model directories. Parsing and resolution run in
// parallel; catalog writes are serialized.
func IndexAll(ctx context.Context, store *Store, roots []string, log *slog.Logger) error {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for _, root := range roots {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			model, err := tmd.Parse(root)
			if err != nil {
				return fmt.Errorf("%s: %w", root, err)
			}
			index := refs.Resolve(model)

			mu.Lock()
			defer mu.Unlock()
			if err := store.SaveModel(uuid.NewString(), model, index); err != nil {
				return fmt.Errorf("%s: %w", root, err)
			}
			log.Info("model indexed", "root", root, "tables", len(model.Tables))
			return nil
		})
	}
	return g.Wait()
}

// DiscoverModels finds model directories under a workspace root: every
// directory containing a definition/ folder. A root that is itself a model
// directory yields just that directory.
func DiscoverModels(workspace string) ([]string, error) {
	if _, err := os.Stat(filepath.Join(workspace, tmd.DefinitionDir)); err == nil {
		return []string{workspace}, nil
	}
	entries, err := os.ReadDir(workspace)
	if err != nil {
		return nil, err
	}
	var roots []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dir := filepath.Join(workspace, e.Name())
		if _, err := os.Stat(filepath.Join(dir, tmd.DefinitionDir)); err == nil {
			roots = append(roots, dir)
		}
	}
	return roots, nil
}

// Watch re-indexes a model directory whenever its definition files change,
// until the context is cancelled. Events are debounced so one save covers a
// burst of writes.
func Watch(ctx context.Context, store *Store, root string, log *slog.Logger) error {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	for _, dir := range []string{tmd.DefinitionDir, tmd.TablesDir, tmd.RolesDir} {
		p := filepath.Join(root, filepath.FromSlash(dir))
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := watcher.Add(p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	const debounce = 250 * time.Millisecond
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(ev.Name, tmd.FileExt) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("watch error", "error", err)
		case <-timerC:
			timer = nil
			timerC = nil
			if err := IndexModel(store, root); err != nil {
				log.Error("re-index failed", "root", root, "error", err)
				continue
			}
			log.Info("model re-indexed", "root", root)
		}
	}
}
