package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScriptWatcherReportsWrites(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "session.yaml")
	other := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(script, []byte("steps: []\n"), 0o600))

	changed := make(chan string, 4)
	w, err := newScriptWatcher([]string{script}, func(path string) {
		changed <- path
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer func() { _ = w.Stop() }()

	require.NoError(t, os.WriteFile(other, []byte("ignored"), 0o600))
	require.NoError(t, os.WriteFile(script, []byte("steps: [{}]\n"), 0o600))

	select {
	case got := <-changed:
		want, err := filepath.Abs(script)
		require.NoError(t, err)
		require.Equal(t, want, got)
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}
}
