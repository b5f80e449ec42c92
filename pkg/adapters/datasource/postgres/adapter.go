// Package postgres implements the datasource adapter for PostgreSQL using
// the pgx stdlib driver.
package postgres

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"go.uber.org/zap"

	"github.com/sqlsage-io/sqlsage-engine/pkg/adapters/datasource"
	"github.com/sqlsage-io/sqlsage-engine/pkg/schema"
)

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			Dialect:     datasource.DialectPostgres,
			DisplayName: "PostgreSQL",
			Description: "Connect to PostgreSQL 12+",
		},
		Factory: New,
	})
}

// Adapter executes against a PostgreSQL database.
type Adapter struct {
	handle  *datasource.Handle
	connMgr *datasource.ConnectionManager
	dsn     string
	logger  *zap.Logger
}

// New creates a PostgreSQL adapter. The pool is checked out lazily from the
// connection manager on first use.
func New(ctx context.Context, cfg datasource.Config, connMgr *datasource.ConnectionManager) (datasource.Adapter, error) {
	if cfg.Database == "" {
		return nil, fmt.Errorf("database is required")
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Path:   "/" + cfg.Database,
	}

	return &Adapter{
		handle:  datasource.NewHandle(cfg),
		connMgr: connMgr,
		dsn:     u.String(),
		logger:  zap.L().Named("postgres-adapter"),
	}, nil
}

// TestConnection verifies credentials with a real query, not just a socket
// open.
func (a *Adapter) TestConnection(ctx context.Context) error {
	db, err := a.connMgr.GetOrCreatePool(ctx, a.handle.PoolKey(), "pgx", a.dsn)
	if err != nil {
		return datasource.ClassifyError(datasource.DialectPostgres, err)
	}
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return datasource.ClassifyError(datasource.DialectPostgres, err)
	}
	return nil
}

// Introspect lists all tables and views in the target database the role can
// select from, with columns, primary keys, foreign keys and up to three
// sample rows per table.
func (a *Adapter) Introspect(ctx context.Context) (*schema.Snapshot, error) {
	db, err := a.connMgr.GetOrCreatePool(ctx, a.handle.PoolKey(), "pgx", a.dsn)
	if err != nil {
		return nil, datasource.ClassifyError(datasource.DialectPostgres, err)
	}

	tables, err := a.introspectRelations(ctx, db, "BASE TABLE")
	if err != nil {
		return nil, datasource.ClassifyError(datasource.DialectPostgres, err)
	}
	views, err := a.introspectRelations(ctx, db, "VIEW")
	if err != nil {
		return nil, datasource.ClassifyError(datasource.DialectPostgres, err)
	}

	info := schema.ConnectionInfo{
		Host:     a.handle.Host(),
		Port:     a.handle.Port(),
		Database: a.handle.Database(),
	}
	return schema.Normalize(a.handle.Database(), info, tables, views), nil
}

// Execute runs a query with a server-side limit when the SQL carries none.
func (a *Adapter) Execute(ctx context.Context, sqlQuery string, limit int) (*datasource.ResultSet, error) {
	db, err := a.connMgr.GetOrCreatePool(ctx, a.handle.PoolKey(), "pgx", a.dsn)
	if err != nil {
		return nil, datasource.ClassifyError(datasource.DialectPostgres, err)
	}

	bounded := datasource.ApplyLimit(datasource.DialectPostgres, sqlQuery, limit)
	result, err := datasource.RunQuery(ctx, db, bounded)
	if err != nil {
		return nil, datasource.ClassifyError(datasource.DialectPostgres, err).WithSQL(sqlQuery)
	}
	return result, nil
}

// DryRun validates syntax via EXPLAIN without executing.
func (a *Adapter) DryRun(ctx context.Context, sqlQuery string) error {
	db, err := a.connMgr.GetOrCreatePool(ctx, a.handle.PoolKey(), "pgx", a.dsn)
	if err != nil {
		return datasource.ClassifyError(datasource.DialectPostgres, err)
	}
	if _, err := db.ExecContext(ctx, "EXPLAIN "+sqlQuery); err != nil {
		return datasource.ClassifyError(datasource.DialectPostgres, err).WithSQL(sqlQuery)
	}
	return nil
}

// Idioms declares PostgreSQL SQL conventions for the prompt builder.
func (a *Adapter) Idioms() datasource.Idioms {
	return datasource.Idioms{
		Dialect:          datasource.DialectPostgres,
		LimitSyntax:      "LIMIT n",
		CurrentTimestamp: "NOW()",
		ConcatOperator:   "||",
		IdentifierQuote:  `"`,
		Pagination:       "LIMIT n OFFSET m",
		Notes: []string{
			"Use ILIKE for case-insensitive matching",
			"Cast with the :: operator, e.g. col::INTEGER",
		},
	}
}

// Handle returns the connection handle.
func (a *Adapter) Handle() *datasource.Handle { return a.handle }

// Close releases the adapter; the pool stays under the manager's TTL.
func (a *Adapter) Close() error { return nil }

var _ datasource.Adapter = (*Adapter)(nil)
