package snapshot

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watzon/targethook/internal/config"
	"github.com/watzon/targethook/internal/database"
	"github.com/watzon/targethook/internal/targeting"
)

func testStore(t *testing.T) *targeting.Store {
	t.Helper()

	db, err := database.Open(&config.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "snapshot.db"),
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return targeting.NewStore(db)
}

func seed(t *testing.T, store *targeting.Store) targeting.OwnerID {
	t.Helper()
	ctx := context.Background()
	owner := targeting.NewOwnerID()

	_, err := store.UpsertHook(ctx, &targeting.Hook{
		Owner: owner, Slot: "loot", Filter: targeting.ObjectItem, Uses: 2, Callback: "on_loot",
	})
	require.NoError(t, err)
	_, err = store.UpsertHook(ctx, &targeting.Hook{
		Owner: owner, Slot: "watch", Filter: targeting.ObjectAll, Uses: targeting.UsesUnlimited,
	})
	require.NoError(t, err)

	_, err = store.InsertTarget(ctx, &targeting.Target{Owner: owner, Slot: "loot", Entity: "chest-1", Region: "crypt"})
	require.NoError(t, err)
	_, err = store.InsertTarget(ctx, &targeting.Target{
		Owner: owner, Slot: "watch", Region: "crypt", Position: targeting.Vector{X: 1.5, Y: -2, Z: 0.25},
	})
	require.NoError(t, err)

	return owner
}

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path       string
		format     Format
		compressed bool
		wantErr    bool
	}{
		{"dump.json", FormatJSON, false, false},
		{"dir/Dump.YAML", FormatYAML, false, false},
		{"dump.yml.zst", FormatYAML, true, false},
		{"dump.json.zst", FormatJSON, true, false},
		{"dump.txt", "", false, true},
		{"dump.zst", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			format, compressed, err := FormatFromPath(tt.path)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.format, format)
			assert.Equal(t, tt.compressed, compressed)
		})
	}
}

func TestCaptureFilter(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	owner := seed(t, store)
	seed(t, store)

	all, err := Capture(ctx, store, Filter{})
	require.NoError(t, err)
	assert.Len(t, all.Hooks, 4)
	assert.Len(t, all.Targets, 4)
	assert.Equal(t, CurrentVersion, all.Version)

	mine, err := Capture(ctx, store, Filter{Owner: owner, SlotPattern: "lo*"})
	require.NoError(t, err)
	require.Len(t, mine.Hooks, 1)
	require.Len(t, mine.Targets, 1)
	assert.Equal(t, "loot", mine.Hooks[0].Slot)
	assert.Equal(t, targeting.EntityRef("chest-1"), mine.Targets[0].Entity)
}

func TestWriteReadRestore(t *testing.T) {
	ctx := context.Background()
	src := testStore(t)
	owner := seed(t, src)

	snap, err := Capture(ctx, src, Filter{})
	require.NoError(t, err)

	for _, name := range []string{"dump.json", "dump.yaml.zst"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, WriteFile(path, snap))

			got, err := ReadFile(path)
			require.NoError(t, err)
			require.Len(t, got.Hooks, 2)
			require.Len(t, got.Targets, 2)

			dst := testStore(t)
			res, err := Restore(ctx, dst, got)
			require.NoError(t, err)
			assert.Equal(t, RestoreResult{Hooks: 2, Targets: 2}, res)

			hook, err := dst.GetHookBySlot(ctx, owner, "loot")
			require.NoError(t, err)
			require.NotNil(t, hook)
			assert.Equal(t, targeting.ObjectItem, hook.Filter)
			assert.Equal(t, 2, hook.Uses)
			assert.Equal(t, "on_loot", hook.Callback)

			ground, err := dst.TargetAt(ctx, owner, "watch", 0)
			require.NoError(t, err)
			assert.Equal(t, targeting.Vector{X: 1.5, Y: -2, Z: 0.25}, ground.Position)
			assert.Equal(t, targeting.EntityRef("crypt"), ground.Region)
		})
	}
}

func TestCompressedFileIsZstd(t *testing.T) {
	snap := &Snapshot{Version: CurrentVersion}
	path := filepath.Join(t.TempDir(), "dump.json.zst")
	require.NoError(t, WriteFile(path, snap))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(data), 4)
	assert.Equal(t, []byte{0x28, 0xb5, 0x2f, 0xfd}, data[:4])
}

func TestRestoreRejectsNewerVersion(t *testing.T) {
	_, err := Restore(context.Background(), testStore(t), &Snapshot{Version: CurrentVersion + 1})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestEncodeUnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, Encode(&buf, &Snapshot{}, Format("toml")), ErrUnsupportedFormat)
	_, err := Decode(&buf, Format("toml"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestRestoreIsAtomic(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	owner := targeting.NewOwnerID()

	snap := &Snapshot{
		Version: CurrentVersion,
		Hooks: []*targeting.Hook{
			{Owner: owner, Slot: "good", Filter: targeting.ObjectAll, Uses: 1},
			{Owner: owner, Slot: "bad", Filter: targeting.ObjectAll, Uses: 0},
		},
	}

	_, err := Restore(ctx, store, snap)
	require.Error(t, err)
	assert.True(t, database.IsCheckError(err))
	assert.ErrorContains(t, err, "invalid uses_remaining 0")

	hooks, err := store.ListHooks(ctx, targeting.HookFilter{Owner: owner})
	require.NoError(t, err)
	assert.Empty(t, hooks)
}
