// Package sqlcheck validates generated SQL before execution: single
// statement only, read-only verbs, no modifying CTEs.
package sqlcheck

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrMultipleStatements indicates the SQL contains more than one statement.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")

	// ErrNotReadOnly indicates a statement outside the read-only allow list.
	ErrNotReadOnly = errors.New("statement is not read-only; only SELECT, WITH, SHOW and EXPLAIN are permitted")

	// ErrEmptyStatement indicates nothing remained after normalization.
	ErrEmptyStatement = errors.New("empty SQL statement")
)

// SQLType classifies the leading verb of a statement.
type SQLType string

const (
	TypeSelect  SQLType = "SELECT"
	TypeWith    SQLType = "WITH"
	TypeShow    SQLType = "SHOW"
	TypeExplain SQLType = "EXPLAIN"
	TypeInsert  SQLType = "INSERT"
	TypeUpdate  SQLType = "UPDATE"
	TypeDelete  SQLType = "DELETE"
	TypeDDL     SQLType = "DDL"
	TypeOther   SQLType = "OTHER"
)

// ValidationResult carries the normalized SQL and any validation error.
type ValidationResult struct {
	NormalizedSQL string
	Type          SQLType
	Error         error
}

// ValidateAndNormalize checks the statement and strips the trailing
// semicolon. Validation order:
//  1. Trim and strip the trailing semicolon (normalize)
//  2. Reject remaining semicolons outside string literals (multi-statement)
//  3. Classify the leading verb
//  4. When readOnly, reject anything outside SELECT/WITH/SHOW/EXPLAIN and
//     reject WITH statements whose body modifies data
func ValidateAndNormalize(sqlQuery string, readOnly bool) ValidationResult {
	sqlQuery = strings.TrimSpace(sqlQuery)
	if sqlQuery == "" {
		return ValidationResult{Error: ErrEmptyStatement}
	}

	normalized := stripTrailingSemicolon(sqlQuery)
	if normalized == "" {
		return ValidationResult{Error: ErrEmptyStatement}
	}

	if hasSemicolonOutsideStrings(normalized) {
		return ValidationResult{Error: ErrMultipleStatements}
	}

	sqlType := DetectSQLType(normalized)
	if readOnly {
		switch sqlType {
		case TypeSelect, TypeShow, TypeExplain:
		case TypeWith:
			if cteModifies(normalized) {
				return ValidationResult{Type: sqlType, Error: ErrNotReadOnly}
			}
		default:
			return ValidationResult{Type: sqlType, Error: ErrNotReadOnly}
		}
	}

	return ValidationResult{NormalizedSQL: normalized, Type: sqlType}
}

// DetectSQLType classifies the statement by its first keyword.
func DetectSQLType(sqlQuery string) SQLType {
	fields := strings.Fields(strings.ToUpper(strings.TrimSpace(sqlQuery)))
	if len(fields) == 0 {
		return TypeOther
	}
	switch fields[0] {
	case "SELECT":
		return TypeSelect
	case "WITH":
		return TypeWith
	case "SHOW":
		return TypeShow
	case "EXPLAIN":
		return TypeExplain
	case "INSERT":
		return TypeInsert
	case "UPDATE":
		return TypeUpdate
	case "DELETE":
		return TypeDelete
	case "CREATE", "ALTER", "DROP", "TRUNCATE", "GRANT", "REVOKE":
		return TypeDDL
	default:
		return TypeOther
	}
}

// modifyingVerb finds data-modifying keywords as whole words. Used only on
// WITH statements, where postgres allows INSERT/UPDATE/DELETE inside a CTE.
var modifyingVerb = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|MERGE|TRUNCATE)\b`)

// cteModifies reports whether a WITH statement contains a modifying verb
// outside string literals.
func cteModifies(sqlQuery string) bool {
	return modifyingVerb.MatchString(maskStrings(sqlQuery))
}

// maskStrings blanks out string literal contents so keyword scans cannot be
// fooled by values like 'please update me'. Masking works on bytes: quote
// characters are single-byte in UTF-8, and every byte of a multibyte
// character is >= 0x80, so blanking per byte never corrupts the scan.
func maskStrings(sqlQuery string) string {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
	)

	out := []byte(sqlQuery)
	state := stateNormal
	prev := byte(0)

	for i := 0; i < len(out); i++ {
		char := out[i]
		switch state {
		case stateNormal:
			switch char {
			case '\'':
				state = stateSingleQuote
			case '"':
				state = stateDoubleQuote
			}
		case stateSingleQuote:
			if char == '\'' && prev != '\\' {
				state = stateNormal
			} else {
				out[i] = ' '
			}
		case stateDoubleQuote:
			if char == '"' && prev != '\\' {
				state = stateNormal
			} else {
				out[i] = ' '
			}
		}
		prev = char
	}
	return string(out)
}

// hasSemicolonOutsideStrings reports any semicolon outside string literals.
// The trailing semicolon is already stripped, so any hit means a second
// statement.
func hasSemicolonOutsideStrings(sqlQuery string) bool {
	return strings.ContainsRune(maskStrings(sqlQuery), ';')
}

// stripTrailingSemicolon removes one trailing semicolon plus surrounding
// whitespace.
func stripTrailingSemicolon(sqlQuery string) string {
	sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	if strings.HasSuffix(sqlQuery, ";") {
		sqlQuery = strings.TrimRight(strings.TrimSuffix(sqlQuery, ";"), " \t\n\r")
	}
	return sqlQuery
}
