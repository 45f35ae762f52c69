package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watzon/targethook/internal/config"
	"github.com/watzon/targethook/internal/database"
	"github.com/watzon/targethook/internal/snapshot"
	"github.com/watzon/targethook/internal/targeting"
)

func resetFlags() {
	cfgFile, dbPath, verbose = "", "", false
	hooksOwner, hooksSlot, hooksFormat = "", "", formatTable
	targetsOwner, targetsSlot, targetsLimit, targetsIndex, targetsFormat = "", "", 0, 0, formatTable
	dbDumpOwner, dbDumpSlot = "", ""
	replayUseConfigDB, replayWatch, replayFormat = false, false, formatTable
}

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)

	err := rootCmd.Execute()
	return buf.String(), err
}

func openTestDB(t *testing.T, path string) *database.DB {
	t.Helper()

	db, err := database.Open(&config.DatabaseConfig{
		Path:         path,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// seedDB creates a database with one limited and one unlimited hook and two
// captured targets in "loot".
func seedDB(t *testing.T) (string, targeting.OwnerID, int64) {
	t.Helper()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "cli.db")
	db := openTestDB(t, path)
	store := targeting.NewStore(db)
	owner := targeting.NewOwnerID()

	id, err := store.UpsertHook(ctx, &targeting.Hook{
		Owner: owner, Slot: "loot", Filter: targeting.ObjectItem, Uses: 2, Callback: "on_loot",
	})
	require.NoError(t, err)
	_, err = store.UpsertHook(ctx, &targeting.Hook{
		Owner: owner, Slot: "watch", Filter: targeting.ObjectAll, Uses: targeting.UsesUnlimited,
	})
	require.NoError(t, err)

	for _, e := range []targeting.EntityRef{"chest-1", "chest-2"} {
		_, err := store.InsertTarget(ctx, &targeting.Target{Owner: owner, Slot: "loot", Entity: e, Region: "crypt"})
		require.NoError(t, err)
	}

	require.NoError(t, db.Close())
	return path, owner, id
}

func TestVersionCommand(t *testing.T) {
	out, err := executeCommand(t, "version")
	require.NoError(t, err)
	assert.Equal(t, Version()+"\n", out)
	assert.True(t, strings.HasPrefix(out, "targethook version "))
}

func TestHooksCommands(t *testing.T) {
	path, owner, id := seedDB(t)

	out, err := executeCommand(t, "--db", path, "hooks", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "loot")
	assert.Contains(t, out, "watch")
	assert.Contains(t, out, "unlimited")

	out, err = executeCommand(t, "--db", path, "hooks", "list", "--slot", "lo*", "--format", "json")
	require.NoError(t, err)
	var hooks []targeting.Hook
	require.NoError(t, json.Unmarshal([]byte(out), &hooks))
	require.Len(t, hooks, 1)
	assert.Equal(t, owner, hooks[0].Owner)

	_, err = executeCommand(t, "--db", path, "hooks", "show", "999")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	out, err = executeCommand(t, "--db", path, "hooks", "show", strconv.FormatInt(id, 10))
	require.NoError(t, err)
	assert.Contains(t, out, "on_loot")
	assert.Contains(t, out, "Targets:")

	_, err = executeCommand(t, "--db", path, "hooks", "delete")
	assert.ErrorContains(t, err, "--owner and --slot")

	out, err = executeCommand(t, "--db", path, "hooks", "delete", "--owner", string(owner), "--slot", "loot")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted")

	store := targeting.NewStore(openTestDB(t, path))
	hook, err := store.GetHook(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, hook)

	n, err := store.CountTargets(context.Background(), owner, "loot")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "targets survive hook deletion")
}

func TestTargetsCommands(t *testing.T) {
	path, owner, _ := seedDB(t)

	out, err := executeCommand(t, "--db", path, "targets", "count", "--owner", string(owner), "--slot", "loot")
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)

	out, err = executeCommand(t, "--db", path, "targets", "get", "--owner", string(owner), "--slot", "loot", "--index", "1", "-f", "json")
	require.NoError(t, err)
	var target targeting.Target
	require.NoError(t, json.Unmarshal([]byte(out), &target))
	assert.Equal(t, targeting.EntityRef("chest-2"), target.Entity)

	out, err = executeCommand(t, "--db", path, "targets", "get", "--owner", string(owner), "--slot", "loot", "--index", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "Entity:")

	out, err = executeCommand(t, "--db", path, "targets", "list", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "chest-1")
	assert.NotContains(t, out, "chest-2")

	_, err = executeCommand(t, "--db", path, "targets", "delete", "1")
	require.NoError(t, err)
	_, err = executeCommand(t, "--db", path, "targets", "delete", "1")
	assert.Error(t, err)

	out, err = executeCommand(t, "--db", path, "targets", "clear", "--owner", string(owner), "--slot", "loot")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared 1")

	_, err = executeCommand(t, "--db", path, "targets", "count", "--owner", "not-a-uuid", "--slot", "loot")
	assert.Error(t, err)
}

func TestDBDumpAndLoad(t *testing.T) {
	path, owner, _ := seedDB(t)
	dump := filepath.Join(t.TempDir(), "dump.yaml.zst")

	out, err := executeCommand(t, "--db", path, "db", "dump", dump)
	require.NoError(t, err)
	assert.Contains(t, out, "Dumped 2 hooks and 2 targets")

	_, err = executeCommand(t, "--db", path, "db", "dump", filepath.Join(t.TempDir(), "dump.csv"))
	assert.Error(t, err)

	_, err = executeCommand(t, "--db", path, "db", "dump", "s3://backups/")
	assert.ErrorIs(t, err, snapshot.ErrInvalidURL)

	// No backup.s3 credentials configured.
	_, err = executeCommand(t, "--db", path, "db", "dump", "s3://backups/dump.json")
	assert.ErrorIs(t, err, snapshot.ErrInvalidConfig)

	fresh := filepath.Join(t.TempDir(), "fresh.db")
	out, err = executeCommand(t, "--db", fresh, "db", "load", dump)
	require.NoError(t, err)
	assert.Contains(t, out, "Loaded 2 hooks and 2 targets")

	out, err = executeCommand(t, "--db", fresh, "db", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Hooks:   2 (1 unlimited)")
	assert.Contains(t, out, "001_targeting_hooks")
	assert.Contains(t, out, "3 applied, 0 pending")

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"version": 1, "hooks": [
		{"owner": "`+string(owner)+`", "slot": "broken", "object_type_filter": 1, "uses_remaining": 0}
	]}`), 0o600))
	_, err = executeCommand(t, "--db", fresh, "db", "load", bad)
	assert.ErrorContains(t, err, "invalid uses_remaining 0")

	store := targeting.NewStore(openTestDB(t, fresh))
	hook, err := store.GetHookBySlot(context.Background(), owner, "loot")
	require.NoError(t, err)
	require.NotNil(t, hook)
	assert.Equal(t, "on_loot", hook.Callback)

	out, err = executeCommand(t, "--db", fresh, "db", "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "up to date")
}

func TestReplayCommand(t *testing.T) {
	out, err := executeCommand(t, "replay", filepath.Join("..", "replay", "testdata", "limited_uses.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "PASS")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`
name: wrong count
steps:
  - connect: {account: ada, region: hall}
  - add_hook: {account: ada, slot: s}
  - expect: {account: ada, slot: s, count: 3}
`), 0o600))

	out, err = executeCommand(t, "replay", bad)
	assert.ErrorIs(t, err, errReplayFailed)
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, out, "count = 0, want 3")
}

func TestReplayUsesConfiguredDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	script := filepath.Join("..", "replay", "testdata", "cancel_without_callback.yaml")

	_, err := executeCommand(t, "--db", path, "replay", "--use-db", script)
	require.NoError(t, err)

	out, err := executeCommand(t, "--db", path, "db", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Hooks:   0")
}

func TestServeMux(t *testing.T) {
	path := filepath.Join(t.TempDir(), "serve.db")
	db := openTestDB(t, path)
	store := targeting.NewStore(db)

	srv := httptest.NewServer(serveMux("/metrics", db, store))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), "targethook_hooks_added_total")
}

func TestSetupLogging(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	verbose = false
	setupLogging(&config.LoggingConfig{Level: "warn", Format: "json"})
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	verbose = true
	setupLogging(&config.LoggingConfig{Level: "warn", Format: "console", Timestamp: true})
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	setupLogging(&config.LoggingConfig{Level: "trace"})
	assert.Equal(t, zerolog.TraceLevel, zerolog.GlobalLevel())
	verbose = false
}

func TestEngineConfig(t *testing.T) {
	ecfg, err := engineConfig(&config.TargetingConfig{DefaultUses: -1, DefaultFilter: "creature|door", MaxSlotLength: 32})
	require.NoError(t, err)
	assert.Equal(t, -1, ecfg.DefaultUses)
	assert.Equal(t, targeting.ObjectCreature|targeting.ObjectDoor, ecfg.DefaultFilter)
	assert.Equal(t, 32, ecfg.MaxSlotLength)

	_, err = engineConfig(&config.TargetingConfig{DefaultFilter: "dragon"})
	assert.ErrorIs(t, err, targeting.ErrInvalidFilter)
}
