// Package mysql implements the datasource adapter for MySQL and MariaDB.
package mysql

import (
	"context"
	"fmt"

	gomysql "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/sqlsage-io/sqlsage-engine/pkg/adapters/datasource"
	"github.com/sqlsage-io/sqlsage-engine/pkg/schema"
)

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			Dialect:     datasource.DialectMySQL,
			DisplayName: "MySQL",
			Description: "Connect to MySQL 5.7+ or MariaDB",
		},
		Factory: New,
	})
}

// Adapter executes against a MySQL database.
type Adapter struct {
	handle  *datasource.Handle
	connMgr *datasource.ConnectionManager
	dsn     string
	logger  *zap.Logger
}

// New creates a MySQL adapter.
func New(ctx context.Context, cfg datasource.Config, connMgr *datasource.ConnectionManager) (datasource.Adapter, error) {
	if cfg.Database == "" {
		return nil, fmt.Errorf("database is required")
	}

	mc := gomysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	mc.DBName = cfg.Database
	mc.ParseTime = true

	return &Adapter{
		handle:  datasource.NewHandle(cfg),
		connMgr: connMgr,
		dsn:     mc.FormatDSN(),
		logger:  zap.L().Named("mysql-adapter"),
	}, nil
}

// TestConnection verifies credentials with a real query.
func (a *Adapter) TestConnection(ctx context.Context) error {
	db, err := a.connMgr.GetOrCreatePool(ctx, a.handle.PoolKey(), "mysql", a.dsn)
	if err != nil {
		return datasource.ClassifyError(datasource.DialectMySQL, err)
	}
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return datasource.ClassifyError(datasource.DialectMySQL, err)
	}
	return nil
}

// Introspect lists all tables and views in the target database the role can
// select from.
func (a *Adapter) Introspect(ctx context.Context) (*schema.Snapshot, error) {
	db, err := a.connMgr.GetOrCreatePool(ctx, a.handle.PoolKey(), "mysql", a.dsn)
	if err != nil {
		return nil, datasource.ClassifyError(datasource.DialectMySQL, err)
	}

	tables, err := a.introspectRelations(ctx, db, "BASE TABLE")
	if err != nil {
		return nil, datasource.ClassifyError(datasource.DialectMySQL, err)
	}
	views, err := a.introspectRelations(ctx, db, "VIEW")
	if err != nil {
		return nil, datasource.ClassifyError(datasource.DialectMySQL, err)
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
	db, err := a.connMgr.GetOrCreatePool(ctx, a.handle.PoolKey(), "mysql", a.dsn)
	if err != nil {
		return nil, datasource.ClassifyError(datasource.DialectMySQL, err)
	}

	bounded := datasource.ApplyLimit(datasource.DialectMySQL, sqlQuery, limit)
	result, err := datasource.RunQuery(ctx, db, bounded)
	if err != nil {
		return nil, datasource.ClassifyError(datasource.DialectMySQL, err).WithSQL(sqlQuery)
	}
	return result, nil
}

// DryRun validates syntax via EXPLAIN without executing.
func (a *Adapter) DryRun(ctx context.Context, sqlQuery string) error {
	db, err := a.connMgr.GetOrCreatePool(ctx, a.handle.PoolKey(), "mysql", a.dsn)
	if err != nil {
		return datasource.ClassifyError(datasource.DialectMySQL, err)
	}
	if _, err := db.ExecContext(ctx, "EXPLAIN "+sqlQuery); err != nil {
		return datasource.ClassifyError(datasource.DialectMySQL, err).WithSQL(sqlQuery)
	}
	return nil
}

// Idioms declares MySQL SQL conventions for the prompt builder.
func (a *Adapter) Idioms() datasource.Idioms {
	return datasource.Idioms{
		Dialect:          datasource.DialectMySQL,
		LimitSyntax:      "LIMIT n",
		CurrentTimestamp: "NOW()",
		ConcatOperator:   "CONCAT(a, b)",
		IdentifierQuote:  "`",
		Pagination:       "LIMIT n OFFSET m",
		Notes: []string{
			"Cast with CAST(col AS type); || is not string concatenation",
		},
	}
}

// Handle returns the connection handle.
func (a *Adapter) Handle() *datasource.Handle { return a.handle }

// Close releases the adapter; the pool stays under the manager's TTL.
func (a *Adapter) Close() error { return nil }

var _ datasource.Adapter = (*Adapter)(nil)
