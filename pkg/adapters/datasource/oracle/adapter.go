// Package oracle implements the datasource adapter for Oracle using the
// pure-Go go-ora driver.
package oracle

import (
	"context"
	"fmt"

	go_ora "github.com/sijms/go-ora/v2"
	"go.uber.org/zap"

	"github.com/sqlsage-io/sqlsage-engine/pkg/adapters/datasource"
	"github.com/sqlsage-io/sqlsage-engine/pkg/schema"
)

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			Dialect:     datasource.DialectOracle,
			DisplayName: "Oracle",
			Description: "Connect to Oracle 12c+",
		},
		Factory: New,
	})
}

// Adapter executes against an Oracle database.
type Adapter struct {
	handle  *datasource.Handle
	connMgr *datasource.ConnectionManager
	dsn     string
	logger  *zap.Logger
}

// New creates an Oracle adapter. ServiceName takes precedence over SID when
// both are set.
func New(ctx context.Context, cfg datasource.Config, connMgr *datasource.ConnectionManager) (datasource.Adapter, error) {
	service := cfg.ServiceName
	if service == "" {
		service = cfg.SID
	}
	if service == "" {
		return nil, fmt.Errorf("oracle requires a service_name or sid")
	}

	dsn := go_ora.BuildUrl(cfg.Host, cfg.Port, service, cfg.User, cfg.Password, nil)

	return &Adapter{
		handle:  datasource.NewHandle(cfg),
		connMgr: connMgr,
		dsn:     dsn,
		logger:  zap.L().Named("oracle-adapter"),
	}, nil
}

// TestConnection verifies credentials with a real query.
func (a *Adapter) TestConnection(ctx context.Context) error {
	db, err := a.connMgr.GetOrCreatePool(ctx, a.handle.PoolKey(), "oracle", a.dsn)
	if err != nil {
		return datasource.ClassifyError(datasource.DialectOracle, err)
	}
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1 FROM DUAL").Scan(&one); err != nil {
		return datasource.ClassifyError(datasource.DialectOracle, err)
	}
	return nil
}

// Introspect queries all_tables/all_views (never dba_ views), listing only
// schemas with at least one accessible table and flagging the current
// user's schema.
func (a *Adapter) Introspect(ctx context.Context) (*schema.Snapshot, error) {
	db, err := a.connMgr.GetOrCreatePool(ctx, a.handle.PoolKey(), "oracle", a.dsn)
	if err != nil {
		return nil, datasource.ClassifyError(datasource.DialectOracle, err)
	}

	tables, err := a.introspectTables(ctx, db)
	if err != nil {
		return nil, datasource.ClassifyError(datasource.DialectOracle, err)
	}
	views, err := a.introspectViews(ctx, db)
	if err != nil {
		return nil, datasource.ClassifyError(datasource.DialectOracle, err)
	}

	info := schema.ConnectionInfo{
		Host:     a.handle.Host(),
		Port:     a.handle.Port(),
		Database: a.handle.Database(),
	}
	return schema.Normalize(a.handle.Database(), info, tables, views), nil
}

// Execute runs a query with a server-side FETCH FIRST when the SQL carries
// no limit of its own.
func (a *Adapter) Execute(ctx context.Context, sqlQuery string, limit int) (*datasource.ResultSet, error) {
	db, err := a.connMgr.GetOrCreatePool(ctx, a.handle.PoolKey(), "oracle", a.dsn)
	if err != nil {
		return nil, datasource.ClassifyError(datasource.DialectOracle, err)
	}

	bounded := datasource.ApplyLimit(datasource.DialectOracle, sqlQuery, limit)
	result, err := datasource.RunQuery(ctx, db, bounded)
	if err != nil {
		return nil, datasource.ClassifyError(datasource.DialectOracle, err).WithSQL(sqlQuery)
	}
	return result, nil
}

// DryRun parses the statement via EXPLAIN PLAN without executing it.
func (a *Adapter) DryRun(ctx context.Context, sqlQuery string) error {
	db, err := a.connMgr.GetOrCreatePool(ctx, a.handle.PoolKey(), "oracle", a.dsn)
	if err != nil {
		return datasource.ClassifyError(datasource.DialectOracle, err)
	}
	if _, err := db.ExecContext(ctx, "EXPLAIN PLAN FOR "+sqlQuery); err != nil {
		return datasource.ClassifyError(datasource.DialectOracle, err).WithSQL(sqlQuery)
	}
	return nil
}

// Idioms declares Oracle SQL conventions for the prompt builder.
func (a *Adapter) Idioms() datasource.Idioms {
	return datasource.Idioms{
		Dialect:          datasource.DialectOracle,
		LimitSyntax:      "WHERE ROWNUM <= n or FETCH FIRST n ROWS ONLY; never LIMIT",
		CurrentTimestamp: "SYSDATE",
		ConcatOperator:   "||",
		IdentifierQuote:  `"`,
		Pagination:       "OFFSET m ROWS FETCH NEXT n ROWS ONLY",
		Notes: []string{
			"Use FROM DUAL for expressions without a table",
			"Date arithmetic uses SYSDATE and INTERVAL literals",
		},
	}
}

// Handle returns the connection handle.
func (a *Adapter) Handle() *datasource.Handle { return a.handle }

// Close releases the adapter; the pool stays under the manager's TTL.
func (a *Adapter) Close() error { return nil }

var _ datasource.Adapter = (*Adapter)(nil)
