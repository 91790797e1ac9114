package db

import (
	"slices"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig describes a single-row INSERT ... ON CONFLICT statement.
// Arguments bind to Columns in order. A nil UpdateCols refreshes every
// column outside ConflictKeys.
type UpsertConfig struct {
	Table        string
	Columns      []string
	ConflictKeys []string
	UpdateCols   []string
}

// UpsertSQL renders cfg with $n placeholders and quoted identifiers.
func UpsertSQL(cfg UpsertConfig) (string, error) {
	switch {
	case len(cfg.Columns) == 0:
		return "", eris.New("db: upsert: no columns specified")
	case len(cfg.ConflictKeys) == 0:
		return "", eris.New("db: upsert: no conflict keys specified")
	}

	update := cfg.UpdateCols
	if update == nil {
		for _, c := range cfg.Columns {
			if !slices.Contains(cfg.ConflictKeys, c) {
				update = append(update, c)
			}
		}
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(quoteTable(cfg.Table))
	b.WriteString(" (")
	b.WriteString(quoteList(cfg.Columns))
	b.WriteString(") VALUES (")
	for i := range cfg.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("$" + strconv.Itoa(i+1))
	}
	b.WriteString(") ON CONFLICT (")
	b.WriteString(quoteList(cfg.ConflictKeys))
	b.WriteString(") ")

	if len(update) == 0 {
		b.WriteString("DO NOTHING")
		return b.String(), nil
	}
	b.WriteString("DO UPDATE SET ")
	for i, col := range update {
		if i > 0 {
			b.WriteString(", ")
		}
		q := pgx.Identifier{col}.Sanitize()
		b.WriteString(q + " = EXCLUDED." + q)
	}
	return b.String(), nil
}

// quoteTable quotes an optionally schema-qualified table name.
func quoteTable(table string) string {
	return pgx.Identifier(strings.SplitN(table, ".", 2)).Sanitize()
}

func quoteList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
