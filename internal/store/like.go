package store

import "strings"

// EscapeLike escapes SQL LIKE metacharacters (and the escape character
// itself) so that a case-insensitive substring filter matches the
// input literally, per spec §4.2's "SQL-style wildcards and quotes in
// the input MUST be escaped so they match literally".
func EscapeLike(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`%`, `\%`,
		`_`, `\_`,
		`'`, `''`,
	)
	return r.Replace(s)
}

// ContainsPattern builds the ILIKE pattern for a case-insensitive
// substring match on raw bytes.
func ContainsPattern(s string) string {
	return "%" + EscapeLike(s) + "%"
}
