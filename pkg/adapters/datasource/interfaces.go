package datasource

import (
	"context"

	"github.com/sqlsage-io/sqlsage-engine/pkg/schema"
)

// MaxQueryLimit is the hard cap on rows returned by Execute. Protects
// against unbounded generated queries.
const MaxQueryLimit = 1000

// Adapter is the dialect contract. Each implementation owns its connection
// pool checkout and must be closed when done.
type Adapter interface {
	// TestConnection verifies the database is reachable with valid
	// credentials by running a real probe query, not just opening a socket.
	TestConnection(ctx context.Context) error

	// Introspect returns the normalized schema snapshot. Accessibility
	// follows the dialect's rules (information_schema for postgres/mysql,
	// all_tables/all_views for oracle, sqlite_master for sqlite).
	Introspect(ctx context.Context) (*schema.Snapshot, error)

	// Execute runs a query with bounded results. A server-side limit is
	// applied only if the SQL has no user-specified limit. Errors are
	// classified into the apperrors taxonomy.
	Execute(ctx context.Context, sqlQuery string, limit int) (*ResultSet, error)

	// DryRun validates SQL syntax without executing it, when the dialect
	// supports a cheap probe (EXPLAIN or equivalent). Implementations that
	// cannot probe return nil.
	DryRun(ctx context.Context, sqlQuery string) error

	// Idioms returns the dialect's SQL idioms for prompt construction.
	Idioms() Idioms

	// Handle returns the connection handle this adapter serves.
	Handle() *Handle

	// Close releases the adapter. The underlying pool stays alive under
	// the connection manager's TTL.
	Close() error
}

// Idioms declares dialect-specific SQL conventions. The prompt builder emits
// these verbatim so the model targets the right dialect.
type Idioms struct {
	Dialect          Dialect
	LimitSyntax      string // e.g. "LIMIT n" or "WHERE ROWNUM <= n / FETCH FIRST n ROWS ONLY"
	CurrentTimestamp string // e.g. "NOW()", "SYSDATE"
	ConcatOperator   string // e.g. "||", "CONCAT(a, b)"
	IdentifierQuote  string // e.g. `"`, "`"
	Pagination       string // e.g. "LIMIT n OFFSET m", "OFFSET m ROWS FETCH NEXT n ROWS ONLY"
	Notes            []string
}

// Rules renders the idioms as prompt-ready instruction lines.
func (i Idioms) Rules() []string {
	rules := []string{
		"Target dialect: " + string(i.Dialect),
		"Row limiting: " + i.LimitSyntax,
		"Current timestamp: " + i.CurrentTimestamp,
		"String concatenation: " + i.ConcatOperator,
		"Quote identifiers with " + i.IdentifierQuote + " only when required",
		"Pagination: " + i.Pagination,
	}
	return append(rules, i.Notes...)
}

// ResultSet holds the results of executing generated SQL.
type ResultSet struct {
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}
