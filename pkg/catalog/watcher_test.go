package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	catalogV1 = "version: \"1.0\"\npost_actions:\n  - name: auto-assign\n    builtin: auto-assign\n"
	catalogV2 = "version: \"1.0\"\npost_actions:\n  - name: auto-assign\n    builtin: auto-assign\n  - name: parity\n    builtin: sum-parity\n"
)

func TestWatcher_ReloadsAndKeepsPreviousOnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "postactions.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogV1), 0o600))

	w, err := NewWatcher(path, checker(t), nil)
	require.NoError(t, err)
	w.SetDebounce(20 * time.Millisecond)

	reloaded := make(chan *Catalog, 4)
	w.OnReload = func(c *Catalog) { reloaded <- c }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	assert.Equal(t, []string{"auto-assign"}, w.Current().Names())

	require.NoError(t, os.WriteFile(path, []byte(catalogV2), 0o600))
	select {
	case c := <-reloaded:
		assert.Equal(t, []string{"auto-assign", "parity"}, c.Names())
	case <-time.After(5 * time.Second):
		t.Fatal("catalog was not reloaded")
	}
	assert.Equal(t, []string{"auto-assign", "parity"}, w.Current().Names())

	require.NoError(t, os.WriteFile(path, []byte("version: \"9.0\"\n"), 0o600))
	require.Eventually(t, func() bool {
		_, failed := w.Reloads()
		return failed > 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"auto-assign", "parity"}, w.Current().Names())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestNewWatcher_InitialLoadMustSucceed(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), checker(t), nil)
	assert.Error(t, err)
}
