package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertSQL(t *testing.T) {
	sql, err := UpsertSQL(UpsertConfig{
		Table:        "carriers",
		Columns:      []string{"mc_number", "legal_name", "email"},
		ConflictKeys: []string{"mc_number"},
	})
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "carriers" ("mc_number", "legal_name", "email") VALUES ($1, $2, $3) `+
			`ON CONFLICT ("mc_number") DO UPDATE SET "legal_name" = EXCLUDED."legal_name", "email" = EXCLUDED."email"`,
		sql)
}

func TestUpsertSQL_ExplicitUpdateCols(t *testing.T) {
	sql, err := UpsertSQL(UpsertConfig{
		Table:        "public.blocked_ips",
		Columns:      []string{"ip", "reason", "blocked_at"},
		ConflictKeys: []string{"ip"},
		UpdateCols:   []string{"reason"},
	})
	require.NoError(t, err)
	assert.Contains(t, sql, `INSERT INTO "public"."blocked_ips"`)
	assert.Contains(t, sql, `DO UPDATE SET "reason" = EXCLUDED."reason"`)
	assert.NotContains(t, sql, `"blocked_at" = EXCLUDED`)
}

func TestUpsertSQL_DoNothing(t *testing.T) {
	sql, err := UpsertSQL(UpsertConfig{
		Table:        "t",
		Columns:      []string{"id"},
		ConflictKeys: []string{"id"},
	})
	require.NoError(t, err)
	assert.Contains(t, sql, "DO NOTHING")
}

func TestUpsertSQL_NoColumns(t *testing.T) {
	_, err := UpsertSQL(UpsertConfig{Table: "t", ConflictKeys: []string{"id"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestUpsertSQL_NoConflictKeys(t *testing.T) {
	_, err := UpsertSQL(UpsertConfig{Table: "t", Columns: []string{"id", "name"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestQuoteTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"public.carriers", `"public"."carriers"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, quoteTable(tt.input))
		})
	}
}
