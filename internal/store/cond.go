package store

import (
	"fmt"
	"strings"
)

// Clause is one ANDed predicate in a WHERE clause: SQL holds a
// fragment with a single numbered placeholder ($N, filled in by
// BuildWhere), Arg is the bound value.
type Clause struct {
	SQL string
	Arg any
}

// BuildWhere ANDs every clause together, per spec §4.2 "filter
// conditions are AND of the set fields", and numbers placeholders
// starting at startAt (so callers can prepend other bound args).
func BuildWhere(clauses []Clause, startAt int) (where string, args []any) {
	if len(clauses) == 0 {
		return "TRUE", nil
	}
	parts := make([]string, 0, len(clauses))
	args = make([]any, 0, len(clauses))
	n := startAt
	for _, c := range clauses {
		parts = append(parts, fmt.Sprintf(c.SQL, n))
		args = append(args, c.Arg)
		n++
	}
	return strings.Join(parts, " AND "), args
}
