package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectBuilder(t *testing.T) {
	tests := []struct {
		name      string
		build     func() *SelectBuilder
		wantQuery string
		wantArgs  []any
	}{
		{
			name: "bare",
			build: func() *SelectBuilder {
				return NewSelect("*", "targeting_hooks")
			},
			wantQuery: "SELECT * FROM targeting_hooks",
		},
		{
			name: "conditions joined with and",
			build: func() *SelectBuilder {
				return NewSelect("hook_id, slot_name", "targeting_hooks").
					Where("owner_ref = ?", "o-1").
					Where("uses_remaining > ?", 0).
					OrderBy("hook_id")
			},
			wantQuery: "SELECT hook_id, slot_name FROM targeting_hooks WHERE owner_ref = ? AND uses_remaining > ? ORDER BY hook_id",
			wantArgs:  []any{"o-1", 0},
		},
		{
			name: "optional condition skipped",
			build: func() *SelectBuilder {
				return NewSelect("*", "targeting_targets").
					WhereIf(false, "owner_ref = ?", "").
					OrderBy("slot_name", "target_id").
					Limit(10)
			},
			wantQuery: "SELECT * FROM targeting_targets ORDER BY slot_name, target_id LIMIT 10",
		},
		{
			name: "zero limit ignored",
			build: func() *SelectBuilder {
				return NewSelect("*", "targeting_targets").WhereIf(true, "slot_name = ?", "loot").Limit(0)
			},
			wantQuery: "SELECT * FROM targeting_targets WHERE slot_name = ?",
			wantArgs:  []any{"loot"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := tt.build().Build()
			assert.Equal(t, tt.wantQuery, query)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}
