// Package database builds parameterized list queries for the repositories.
// Identifiers are sanitized through pgx; values always travel as placeholders.
package database

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// ConditionType is a SQL comparison operator.
type ConditionType string

const (
	Equal              ConditionType = "="
	NotEqual           ConditionType = "!="
	GreaterThan        ConditionType = ">"
	LessThan           ConditionType = "<"
	LessThanOrEqual    ConditionType = "<="
	GreaterThanOrEqual ConditionType = ">="

	// unset marks Limit/Offset as not requested.
	unset = -1
)

// Condition is a single WHERE predicate.
type Condition struct {
	Field string
	Type  ConditionType
	Value any
}

// WhereCond builds a field/operator/value predicate.
func WhereCond(field string, condType ConditionType, value any) Condition {
	return Condition{Field: field, Type: condType, Value: value}
}

// ListQueryOptions describes a SELECT over one table.
type ListQueryOptions struct {
	Table      string
	Columns    []string
	Conditions []Condition
	OrderBy    string
	OrderDir   string
	Limit      int
	Offset     int
}

// ListQueryOption mutates ListQueryOptions.
type ListQueryOption func(*ListQueryOptions)

// NewListQueryOptions applies opts over defaults for the given table.
func NewListQueryOptions(table string, opts ...ListQueryOption) *ListQueryOptions {
	options := &ListQueryOptions{
		Table:  table,
		Limit:  unset,
		Offset: unset,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// WithColumns sets the columns to select. Empty means SELECT *.
func WithColumns(cols ...string) ListQueryOption {
	return func(o *ListQueryOptions) {
		o.Columns = cols
	}
}

// WithCondition appends one predicate; predicates are ANDed.
func WithCondition(cond Condition) ListQueryOption {
	return func(o *ListQueryOptions) {
		o.Conditions = append(o.Conditions, cond)
	}
}

// WithOrderBy sets the ordering column and direction (ASC or DESC).
func WithOrderBy(column, direction string) ListQueryOption {
	return func(o *ListQueryOptions) {
		o.OrderBy = column
		o.OrderDir = direction
	}
}

// WithLimit sets the limit. Zero is a valid explicit limit.
func WithLimit(limit int) ListQueryOption {
	return func(o *ListQueryOptions) {
		if limit >= 0 {
			o.Limit = limit
		}
	}
}

// WithOffset sets the offset. Zero is a valid explicit offset.
func WithOffset(offset int) ListQueryOption {
	return func(o *ListQueryOptions) {
		if offset >= 0 {
			o.Offset = offset
		}
	}
}

func sanitize(ident string) string {
	return pgx.Identifier{ident}.Sanitize()
}

// BuildListQuery renders options into a query string and its argument list.
func BuildListQuery(options *ListQueryOptions) (string, []any) {
	if options == nil {
		return "", nil
	}

	var query strings.Builder
	query.WriteString("SELECT ")
	if len(options.Columns) == 0 {
		query.WriteString("*")
	} else {
		cols := make([]string, len(options.Columns))
		for i, col := range options.Columns {
			cols[i] = sanitize(col)
		}
		query.WriteString(strings.Join(cols, ", "))
	}
	query.WriteString(" FROM ")
	query.WriteString(sanitize(options.Table))

	var args []any
	param := 1
	if len(options.Conditions) > 0 {
		predicates := make([]string, 0, len(options.Conditions))
		for _, cond := range options.Conditions {
			if cond.Field == "" {
				continue
			}
			predicates = append(predicates,
				fmt.Sprintf("%s %s $%d", sanitize(cond.Field), cond.Type, param))
			args = append(args, cond.Value)
			param++
		}
		if len(predicates) > 0 {
			query.WriteString(" WHERE ")
			query.WriteString(strings.Join(predicates, " AND "))
		}
	}

	if options.OrderBy != "" {
		query.WriteString(" ORDER BY ")
		query.WriteString(sanitize(options.OrderBy))
		if dir := strings.ToUpper(options.OrderDir); dir == "ASC" || dir == "DESC" {
			query.WriteString(" ")
			query.WriteString(dir)
		}
	}

	if options.Limit != unset {
		query.WriteString(fmt.Sprintf(" LIMIT $%d", param))
		args = append(args, options.Limit)
		param++
	}
	if options.Offset != unset {
		query.WriteString(fmt.Sprintf(" OFFSET $%d", param))
		args = append(args, options.Offset)
	}

	return query.String(), args
}
