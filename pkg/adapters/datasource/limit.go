package datasource

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	limitPattern     = regexp.MustCompile(`(?i)\bLIMIT\s+\d+`)
	rownumPattern    = regexp.MustCompile(`(?i)\bROWNUM\s*<=?\s*\d+`)
	fetchPattern     = regexp.MustCompile(`(?i)\bFETCH\s+(FIRST|NEXT)\s+\d+\s+ROWS?\s+ONLY\b`)
	topPattern       = regexp.MustCompile(`(?i)^\s*SELECT\s+TOP\s+\d+\b`)
	trailingSemiOnce = regexp.MustCompile(`;\s*$`)
)

// HasExplicitLimit reports whether the SQL already bounds its result set in
// any dialect's syntax. The server-side limit is applied only when this is
// false; a user-specified limit always wins.
func HasExplicitLimit(sqlQuery string) bool {
	return limitPattern.MatchString(sqlQuery) ||
		rownumPattern.MatchString(sqlQuery) ||
		fetchPattern.MatchString(sqlQuery) ||
		topPattern.MatchString(sqlQuery)
}

// ApplyLimit bounds the query server-side in the dialect's syntax. The limit
// is clamped to MaxQueryLimit. SQL that already carries a limit is returned
// unchanged.
func ApplyLimit(d Dialect, sqlQuery string, limit int) string {
	if HasExplicitLimit(sqlQuery) {
		return sqlQuery
	}
	if limit <= 0 || limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	trimmed := strings.TrimSpace(trailingSemiOnce.ReplaceAllString(sqlQuery, ""))

	switch d {
	case DialectOracle:
		// FETCH FIRST works on 12c+; wrapping with ROWNUM would break
		// ORDER BY semantics.
		return fmt.Sprintf("%s FETCH FIRST %d ROWS ONLY", trimmed, limit)
	default:
		return fmt.Sprintf("%s LIMIT %d", trimmed, limit)
	}
}
