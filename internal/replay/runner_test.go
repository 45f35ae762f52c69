package replay

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watzon/targethook/internal/config"
	"github.com/watzon/targethook/internal/database"
	"github.com/watzon/targethook/internal/simhost"
	"github.com/watzon/targethook/internal/targeting"
)

func testRunner(t *testing.T) *Runner {
	t.Helper()

	db, err := database.Open(&config.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "replay.db"),
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewRunner(targeting.NewStore(db), simhost.New(), nil)
}

func TestRunTestdataScripts(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			sc, err := LoadFile(path)
			require.NoError(t, err)

			report, err := testRunner(t).Run(context.Background(), sc)
			require.NoError(t, err)
			assert.Equal(t, len(sc.Steps), report.Steps)
			assert.Positive(t, report.Checks)
			assert.True(t, report.OK(), "failures: %+v", report.Failures)
		})
	}
}

func TestRunCollectsFailures(t *testing.T) {
	sc, err := Parse([]byte(`
name: wrong expectations
steps:
  - connect: {account: eve, region: hall}
  - add_hook: {account: eve, slot: s, uses: 2}
  - expect: {account: eve, slot: s, uses: 5, count: 1}
`))
	require.NoError(t, err)

	report, err := testRunner(t).Run(context.Background(), sc)
	require.NoError(t, err)
	assert.False(t, report.OK())
	require.Len(t, report.Failures, 2)
	assert.Equal(t, 3, report.Failures[0].Step)
	assert.Equal(t, "expect", report.Failures[0].Op)
	assert.Contains(t, report.Failures[0].Message, "count = 0, want 1")
	assert.Contains(t, report.Failures[1].Message, "uses = 2, want 5")
}

func TestRunSelectRequiresConnection(t *testing.T) {
	sc, err := Parse([]byte(`
steps:
  - add_hook: {account: finn, slot: s}
  - select: {account: finn, entity: rat-1}
`))
	require.NoError(t, err)

	_, err = testRunner(t).Run(context.Background(), sc)
	require.Error(t, err)
	assert.ErrorIs(t, err, simhost.ErrNotConnected)
	assert.Contains(t, err.Error(), "step 2 (select)")
}

func TestRunRejectsBadInput(t *testing.T) {
	sc, err := Parse([]byte(`
steps:
  - connect: {account: gus}
  - add_hook: {account: gus, slot: s, filter: dragon}
`))
	require.NoError(t, err)

	_, err = testRunner(t).Run(context.Background(), sc)
	assert.ErrorIs(t, err, targeting.ErrInvalidFilter)
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no steps", `name: empty`},
		{"two ops", `steps: [{connect: {account: a}, disconnect: {account: a}}]`},
		{"no op", `steps: [{}]`},
		{"missing account", `steps: [{enter: {slot: s}}]`},
		{"place without region", `steps: [{place: {entity: e}}]`},
		{"not yaml", `steps: [`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalidScript)
		})
	}
}

func TestLoadFileDefaultsName(t *testing.T) {
	sc, err := LoadFile(filepath.Join("testdata", "cancel_without_callback.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "cancel without callback", sc.Name)

	_, err = LoadFile(filepath.Join("testdata", "missing.yaml"))
	assert.Error(t, err)
}
