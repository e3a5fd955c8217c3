package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/nanorender/internal/logging"
)

func TestEventTypeString(t *testing.T) {
	assert.Equal(t, "created", EventTypeCreated.String())
	assert.Equal(t, "modified", EventTypeModified.String())
	assert.Equal(t, "deleted", EventTypeDeleted.String())
	assert.Equal(t, "renamed", EventTypeRenamed.String())
	assert.Equal(t, "unknown", EventType(42).String())
}

func TestDebouncerBatchesAndDeduplicates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := NewDebouncer(20 * time.Millisecond)
	go d.run(ctx)

	d.Add(ChangeEvent{Type: EventTypeCreated, Path: "b.html"})
	d.Add(ChangeEvent{Type: EventTypeModified, Path: "a.html"})
	d.Add(ChangeEvent{Type: EventTypeDeleted, Path: "b.html"})

	select {
	case batch := <-d.Output():
		require.Len(t, batch, 2)
		assert.Equal(t, "a.html", batch[0].Path)
		assert.Equal(t, "b.html", batch[1].Path)
		assert.Equal(t, EventTypeDeleted, batch[1].Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no batch delivered")
	}
}

func TestFilters(t *testing.T) {
	ext := ExtensionFilter(".html", ".MD")
	assert.True(t, ext("site/index.html"))
	assert.True(t, ext("README.md"))
	assert.False(t, ext("style.css"))

	exclude := ExcludeFilter("_*", "*.bak")
	assert.False(t, exclude("pages/_layout.html"))
	assert.False(t, exclude("index.html.bak"))
	assert.True(t, exclude("index.html"))

	assert.False(t, NoEditorTempFilter("index.html~"))
	assert.False(t, NoEditorTempFilter(".index.html.swp"))
	assert.False(t, NoEditorTempFilter(".#index.html"))
	assert.True(t, NoEditorTempFilter("index.html"))

	assert.False(t, NoGitFilter("repo/.git/HEAD"))
	assert.True(t, NoGitFilter("repo/templates/index.html"))

	data := PathFilter("data/site.json")
	assert.True(t, data("./data/site.json"))
	assert.False(t, data("data/other.json"))

	either := AnyFilter(ext, data)
	assert.True(t, either("data/site.json"))
	assert.True(t, either("page.html"))
	assert.False(t, either("data/other.json"))
}

func TestFileWatcherDeliversChanges(t *testing.T) {
	dir := t.TempDir()
	fw, err := NewFileWatcher(30*time.Millisecond, logging.NewNopLogger())
	require.NoError(t, err)
	defer fw.Stop()

	fw.AddFilter(ExtensionFilter(".html"))
	batches := make(chan []ChangeEvent, 4)
	fw.AddHandler(func(events []ChangeEvent) error {
		batches <- events
		return nil
	})
	require.NoError(t, fw.AddRecursive(dir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fw.Start(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.css"), []byte("x"), 0o644))
	target := filepath.Join(dir, "index.html")
	require.NoError(t, os.WriteFile(target, []byte("<p>hi</p>"), 0o644))

	select {
	case batch := <-batches:
		require.Len(t, batch, 1)
		assert.Equal(t, target, batch[0].Path)
	case <-time.After(5 * time.Second):
		t.Fatal("no change delivered")
	}
}
