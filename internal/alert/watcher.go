package alert

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// RuleWatcher reloads a rule file into an Evaluator whenever it changes.
// A file that fails to load is logged and the current rules stay active.
type RuleWatcher struct {
	path      string
	loader    *RuleLoader
	evaluator *Evaluator
	logger    *zap.Logger

	// reloaded is signalled after each reload attempt; tests only
	reloaded chan error
}

// NewRuleWatcher creates a watcher for path
func NewRuleWatcher(path string, loader *RuleLoader, evaluator *Evaluator, logger *zap.Logger) *RuleWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RuleWatcher{
		path:      filepath.Clean(path),
		loader:    loader,
		evaluator: evaluator,
		logger:    logger.Named("rules"),
	}
}

// Run watches until ctx is cancelled. The parent directory is watched so
// editors that replace the file by rename are picked up.
func (w *RuleWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("unable to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("unable to watch %s: %w", w.path, err)
	}

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			w.notify(w.Reload())
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("rule watcher error", zap.Error(err))
		case <-ctx.Done():
			return nil
		}
	}
}

// Reload loads the file once and swaps the rules on success
func (w *RuleWatcher) Reload() error {
	rules, err := w.loader.LoadFile(w.path)
	if err != nil {
		w.logger.Error("rule reload failed, keeping current rules", zap.String("path", w.path), zap.Error(err))
		return err
	}
	if err := w.evaluator.SetRules(rules); err != nil {
		w.logger.Error("rule reload failed, keeping current rules", zap.String("path", w.path), zap.Error(err))
		return err
	}
	w.logger.Info("alert rules reloaded", zap.String("path", w.path), zap.Int("rules", len(rules)))
	return nil
}

func (w *RuleWatcher) notify(err error) {
	if w.reloaded == nil {
		return
	}
	select {
	case w.reloaded <- err:
	default:
	}
}
