// Package sqlite implements the datasource adapter for SQLite using the
// pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/sqlsage-io/sqlsage-engine/pkg/adapters/datasource"
	"github.com/sqlsage-io/sqlsage-engine/pkg/apperrors"
	"github.com/sqlsage-io/sqlsage-engine/pkg/schema"
)

const maxSampleRows = 3

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			Dialect:     datasource.DialectSQLite,
			DisplayName: "SQLite",
			Description: "Open a local SQLite file",
		},
		Factory: New,
	})
}

// Adapter executes against a SQLite file.
type Adapter struct {
	handle  *datasource.Handle
	connMgr *datasource.ConnectionManager
	dsn     string
	logger  *zap.Logger
}

// New creates a SQLite adapter. The file must exist unless CreateIfMissing
// is set: the driver would otherwise create an empty database for any typo
// in the path.
func New(ctx context.Context, cfg datasource.Config, connMgr *datasource.ConnectionManager) (datasource.Adapter, error) {
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("file_path is required for sqlite")
	}

	if _, err := os.Stat(cfg.FilePath); err != nil {
		if !os.IsNotExist(err) {
			return nil, apperrors.New(apperrors.KindConnection, "cannot access sqlite file", false, err)
		}
		if !cfg.CreateIfMissing {
			return nil, apperrors.New(apperrors.KindConnection,
				fmt.Sprintf("sqlite file %s does not exist", cfg.FilePath), false, err)
		}
	}

	return &Adapter{
		handle:  datasource.NewHandle(cfg),
		connMgr: connMgr,
		dsn:     cfg.FilePath,
		logger:  zap.L().Named("sqlite-adapter"),
	}, nil
}

// TestConnection verifies the file opens and answers a real query.
func (a *Adapter) TestConnection(ctx context.Context) error {
	db, err := a.connMgr.GetOrCreatePool(ctx, a.handle.PoolKey(), "sqlite", a.dsn)
	if err != nil {
		return datasource.ClassifyError(datasource.DialectSQLite, err)
	}
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return datasource.ClassifyError(datasource.DialectSQLite, err)
	}
	return nil
}

// Introspect reads sqlite_master filtered by type. Views is always
// initialized to an empty list even when none exist, so downstream JSON
// consumers see an array, not null.
func (a *Adapter) Introspect(ctx context.Context) (*schema.Snapshot, error) {
	db, err := a.connMgr.GetOrCreatePool(ctx, a.handle.PoolKey(), "sqlite", a.dsn)
	if err != nil {
		return nil, datasource.ClassifyError(datasource.DialectSQLite, err)
	}

	tables, err := a.introspectType(ctx, db, "table")
	if err != nil {
		return nil, datasource.ClassifyError(datasource.DialectSQLite, err)
	}
	views, err := a.introspectType(ctx, db, "view")
	if err != nil {
		return nil, datasource.ClassifyError(datasource.DialectSQLite, err)
	}
	if views == nil {
		views = []schema.TableInfo{}
	}

	info := schema.ConnectionInfo{
		Host:     "localhost",
		Port:     0,
		Database: a.dsn,
	}
	return schema.Normalize(a.dsn, info, tables, views), nil
}

func (a *Adapter) introspectType(ctx context.Context, db *sql.DB, objType string) ([]schema.TableInfo, error) {
	rows, err := datasource.QueryStrings(ctx, db,
		"SELECT name FROM sqlite_master WHERE type = ? AND name NOT LIKE 'sqlite_%' ORDER BY name", objType)
	if err != nil {
		return nil, fmt.Errorf("list %ss: %w", objType, err)
	}

	tables := make([]schema.TableInfo, 0, len(rows))
	for _, row := range rows {
		name := row[0]
		table := schema.TableInfo{FullName: name, TableName: name}

		if err := a.loadColumns(ctx, db, name, &table); err != nil {
			return nil, err
		}
		if err := a.loadForeignKeys(ctx, db, name, &table); err != nil {
			return nil, err
		}
		if objType == "table" {
			if err := a.loadIndexes(ctx, db, name, &table); err != nil {
				return nil, err
			}
			if samples, err := a.loadSampleRows(ctx, db, name); err == nil {
				table.SampleRows = samples
			}
		}
		tables = append(tables, table)
	}
	return tables, nil
}

func (a *Adapter) loadColumns(ctx context.Context, db *sql.DB, tableName string, table *schema.TableInfo) error {
	// PRAGMA table_info: cid, name, type, notnull, dflt_value, pk
	rows, err := datasource.QueryStrings(ctx, db, fmt.Sprintf("PRAGMA table_info(%q)", tableName))
	if err != nil {
		return fmt.Errorf("columns for %s: %w", tableName, err)
	}

	for _, row := range rows {
		col := schema.ColumnInfo{
			Name:         row[1],
			DataType:     strings.ToLower(row[2]),
			IsNullable:   row[3] == "0",
			DefaultValue: row[4],
			IsPrimaryKey: row[5] != "0",
		}
		table.Columns = append(table.Columns, col)
		if col.IsPrimaryKey {
			table.PrimaryKey = append(table.PrimaryKey, col.Name)
		}
	}
	return nil
}

func (a *Adapter) loadForeignKeys(ctx context.Context, db *sql.DB, tableName string, table *schema.TableInfo) error {
	// PRAGMA foreign_key_list: id, seq, table, from, to, on_update, on_delete, match.
	// SQLite foreign keys carry no constraint name.
	rows, err := datasource.QueryStrings(ctx, db, fmt.Sprintf("PRAGMA foreign_key_list(%q)", tableName))
	if err != nil {
		return fmt.Errorf("foreign keys for %s: %w", tableName, err)
	}

	for _, row := range rows {
		table.ForeignKeys = append(table.ForeignKeys, schema.ForeignKey{
			Column:    row[3],
			RefTable:  row[2],
			RefColumn: row[4],
		})
	}
	return nil
}

func (a *Adapter) loadIndexes(ctx context.Context, db *sql.DB, tableName string, table *schema.TableInfo) error {
	// PRAGMA index_list: seq, name, unique, origin, partial
	rows, err := datasource.QueryStrings(ctx, db, fmt.Sprintf("PRAGMA index_list(%q)", tableName))
	if err != nil {
		return fmt.Errorf("indexes for %s: %w", tableName, err)
	}

	for _, row := range rows {
		name, unique, origin := row[1], row[2], row[3]
		if origin == "pk" {
			continue
		}
		idx := schema.IndexInfo{Name: name, Unique: unique != "0"}

		// PRAGMA index_info: seqno, cid, name
		cols, err := datasource.QueryStrings(ctx, db, fmt.Sprintf("PRAGMA index_info(%q)", name))
		if err != nil {
			return fmt.Errorf("index columns for %s: %w", name, err)
		}
		for _, c := range cols {
			idx.Columns = append(idx.Columns, c[2])
		}
		table.Indexes = append(table.Indexes, idx)
	}
	return nil
}

func (a *Adapter) loadSampleRows(ctx context.Context, db *sql.DB, tableName string) ([]map[string]any, error) {
	result, err := datasource.RunQuery(ctx, db,
		fmt.Sprintf("SELECT * FROM %q LIMIT %d", tableName, maxSampleRows))
	if err != nil {
		return nil, err
	}
	return result.Rows, nil
}

// Execute runs a query with a server-side LIMIT when the SQL carries none.
func (a *Adapter) Execute(ctx context.Context, sqlQuery string, limit int) (*datasource.ResultSet, error) {
	db, err := a.connMgr.GetOrCreatePool(ctx, a.handle.PoolKey(), "sqlite", a.dsn)
	if err != nil {
		return nil, datasource.ClassifyError(datasource.DialectSQLite, err)
	}

	bounded := datasource.ApplyLimit(datasource.DialectSQLite, sqlQuery, limit)
	result, err := datasource.RunQuery(ctx, db, bounded)
	if err != nil {
		return nil, datasource.ClassifyError(datasource.DialectSQLite, err).WithSQL(sqlQuery)
	}
	return result, nil
}

// DryRun validates syntax via EXPLAIN QUERY PLAN without executing.
func (a *Adapter) DryRun(ctx context.Context, sqlQuery string) error {
	db, err := a.connMgr.GetOrCreatePool(ctx, a.handle.PoolKey(), "sqlite", a.dsn)
	if err != nil {
		return datasource.ClassifyError(datasource.DialectSQLite, err)
	}
	if _, err := db.ExecContext(ctx, "EXPLAIN QUERY PLAN "+sqlQuery); err != nil {
		return datasource.ClassifyError(datasource.DialectSQLite, err).WithSQL(sqlQuery)
	}
	return nil
}

// Idioms declares SQLite SQL conventions for the prompt builder.
func (a *Adapter) Idioms() datasource.Idioms {
	return datasource.Idioms{
		Dialect:          datasource.DialectSQLite,
		LimitSyntax:      "LIMIT n",
		CurrentTimestamp: "datetime('now')",
		ConcatOperator:   "||",
		IdentifierQuote:  `"`,
		Pagination:       "LIMIT n OFFSET m",
		Notes: []string{
			"Types are dynamic; prefer CAST for explicit conversions",
		},
	}
}

// Handle returns the connection handle.
func (a *Adapter) Handle() *datasource.Handle { return a.handle }

// Close releases the adapter; the pool stays under the manager's TTL.
func (a *Adapter) Close() error { return nil }

var _ datasource.Adapter = (*Adapter)(nil)
