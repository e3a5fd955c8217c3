package server

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/multierr"

	"github.com/conneroisu/nanorender/internal/watcher"
)

// WatchFiles watches the template root and the data file and feeds
// changes to HandleChanges until ctx is cancelled.
func (s *PreviewServer) WatchFiles(ctx context.Context) error {
	fw, err := watcher.NewFileWatcher(s.config.Watch.Debounce, s.logger)
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}

	fw.AddFilter(watcher.NoGitFilter)
	fw.AddFilter(watcher.NoEditorTempFilter)
	wanted := []watcher.FileFilter{watcher.ExtensionFilter(s.config.Templates.Extensions...)}
	if file := s.config.Data.File; file != "" {
		wanted = append(wanted, watcher.PathFilter(file))
		// Editors often replace files, so watch the directory rather than the file.
		if err := fw.AddPath(filepath.Dir(file)); err != nil {
			_ = fw.Stop()
			return err
		}
	}
	fw.AddFilter(watcher.AnyFilter(wanted...))
	fw.AddHandler(s.HandleChanges)

	if err := fw.AddRecursive(s.loader.Root()); err != nil {
		_ = fw.Stop()
		return fmt.Errorf("watching %s: %w", s.loader.Root(), err)
	}
	if err := fw.Start(ctx); err != nil {
		_ = fw.Stop()
		return err
	}

	go func() {
		<-ctx.Done()
		_ = fw.Stop()
	}()

	s.logger.Info(ctx, "Watching for changes", "templates", s.loader.Root(), "data", s.config.Data.File)
	return nil
}

// HandleChanges reacts to one debounced batch: changed templates are
// reloaded and dropped from the compile cache, a changed data file
// replaces the store, and browsers are told to reload.
func (s *PreviewServer) HandleChanges(events []watcher.ChangeEvent) error {
	ctx := context.Background()
	var errs error

	for _, event := range events {
		if s.isDataFile(event.Path) {
			errs = multierr.Append(errs, s.reloadData(ctx))
			continue
		}

		name, err := s.loader.Name(event.Path)
		if err != nil || !s.loader.IsTemplate(name) {
			continue
		}

		previous, hadPrevious := s.loader.Cached(name)
		_, changed, err := s.loader.Reload(name)
		if hadPrevious && (changed || err != nil) {
			s.engine.Invalidate(previous.Source)
		}
		if err != nil {
			// Deleted or renamed away; pages that used it now 404.
			s.failures.RemoveFile(name)
			s.logger.Debug(ctx, "Template gone", "template", name, "event", event.Type.String())
			s.reload(name)
			continue
		}
		if changed || !hadPrevious {
			s.logger.Info(ctx, "Template changed", "template", name, "event", event.Type.String())
			s.reload(name)
		}
	}

	return errs
}

func (s *PreviewServer) isDataFile(path string) bool {
	file := s.config.Data.File
	return file != "" && filepath.Clean(path) == filepath.Clean(file)
}

// reloadData keeps the previous data when the file no longer parses.
func (s *PreviewServer) reloadData(ctx context.Context) error {
	file := s.config.Data.File
	next, err := s.dataLoader.Load(file)
	if err != nil {
		s.logger.Warn(ctx, err, "Data reload failed, keeping previous data", "file", file)
		return err
	}
	s.data.Replace(next)
	s.logger.Info(ctx, "Data reloaded", "file", file, "keys", len(next))
	return nil
}
