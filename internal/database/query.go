package database

import (
	"fmt"
	"strings"
)

// SelectBuilder assembles a SELECT statement whose conditions are joined with
// AND. Column and table names are trusted input; values are always bound.
type SelectBuilder struct {
	columns string
	table   string
	conds   []string
	args    []any
	orderBy []string
	limit   int
}

func NewSelect(columns, table string) *SelectBuilder {
	return &SelectBuilder{columns: columns, table: table}
}

// Where adds a condition such as "owner_ref = ?" with its bound values.
func (q *SelectBuilder) Where(cond string, args ...any) *SelectBuilder {
	q.conds = append(q.conds, cond)
	q.args = append(q.args, args...)
	return q
}

// WhereIf adds the condition only when ok is true, for optional filters.
func (q *SelectBuilder) WhereIf(ok bool, cond string, args ...any) *SelectBuilder {
	if !ok {
		return q
	}
	return q.Where(cond, args...)
}

func (q *SelectBuilder) OrderBy(exprs ...string) *SelectBuilder {
	q.orderBy = append(q.orderBy, exprs...)
	return q
}

// Limit caps the row count. Zero or less means no limit.
func (q *SelectBuilder) Limit(n int) *SelectBuilder {
	q.limit = n
	return q
}

func (q *SelectBuilder) Build() (string, []any) {
	var sb strings.Builder

	sb.WriteString("SELECT ")
	sb.WriteString(q.columns)
	sb.WriteString(" FROM ")
	sb.WriteString(q.table)

	if len(q.conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(q.conds, " AND "))
	}

	if len(q.orderBy) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(q.orderBy, ", "))
	}

	if q.limit > 0 {
		sb.WriteString(fmt.Sprintf(" LIMIT %d", q.limit))
	}

	return sb.String(), q.args
}
