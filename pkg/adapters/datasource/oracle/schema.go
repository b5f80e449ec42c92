package oracle

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sqlsage-io/sqlsage-engine/pkg/adapters/datasource"
	"github.com/sqlsage-io/sqlsage-engine/pkg/schema"
)

const maxSampleRows = 3

// systemSchemas are Oracle-internal owners excluded from introspection.
var systemSchemas = map[string]bool{
	"SYS": true, "SYSTEM": true, "OUTLN": true, "XDB": true,
	"CTXSYS": true, "MDSYS": true, "ORDSYS": true, "DBSNMP": true,
	"APPQOSSYS": true, "WMSYS": true, "OLAPSYS": true, "GSMADMIN_INTERNAL": true,
}

func (a *Adapter) currentUser(ctx context.Context, db *sql.DB) (string, error) {
	rows, err := datasource.QueryStrings(ctx, db, "SELECT USER FROM DUAL")
	if err != nil || len(rows) == 0 {
		return "", err
	}
	return rows[0][0], nil
}

func (a *Adapter) introspectTables(ctx context.Context, db *sql.DB) ([]schema.TableInfo, error) {
	currentUser, err := a.currentUser(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("resolve current user: %w", err)
	}

	// all_tables, not dba_tables: only objects the session can actually see.
	rows, err := datasource.QueryStrings(ctx, db,
		"SELECT owner, table_name, num_rows FROM all_tables ORDER BY owner, table_name")
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	tables := make([]schema.TableInfo, 0, len(rows))
	for _, row := range rows {
		owner, tableName := row[0], row[1]
		if systemSchemas[owner] {
			continue
		}

		table := schema.TableInfo{
			FullName:  owner + "." + tableName,
			TableName: tableName,
		}

		if err := a.loadColumns(ctx, db, owner, tableName, &table); err != nil {
			return nil, err
		}
		if err := a.loadForeignKeys(ctx, db, owner, tableName, &table); err != nil {
			return nil, err
		}
		if err := a.loadIndexes(ctx, db, owner, tableName, &table); err != nil {
			return nil, err
		}

		// Only sample the current user's schema; cross-schema sampling can
		// hit fine-grained access control.
		if strings.EqualFold(owner, currentUser) {
			if samples, err := a.loadSampleRows(ctx, db, table.FullName); err == nil {
				table.SampleRows = samples
			}
		}

		tables = append(tables, table)
	}
	return tables, nil
}

func (a *Adapter) introspectViews(ctx context.Context, db *sql.DB) ([]schema.TableInfo, error) {
	rows, err := datasource.QueryStrings(ctx, db,
		"SELECT owner, view_name FROM all_views ORDER BY owner, view_name")
	if err != nil {
		return nil, fmt.Errorf("list views: %w", err)
	}

	views := make([]schema.TableInfo, 0, len(rows))
	for _, row := range rows {
		owner, viewName := row[0], row[1]
		if systemSchemas[owner] {
			continue
		}

		view := schema.TableInfo{
			FullName:  owner + "." + viewName,
			TableName: viewName,
		}
		if err := a.loadColumns(ctx, db, owner, viewName, &view); err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// columnsSQL binds the owner and table name twice; go-ora binds positionally,
// so each placeholder number appears exactly once.
const columnsSQL = `
	SELECT c.column_name, c.data_type, c.nullable, c.data_default,
	       CASE WHEN pk.column_name IS NOT NULL THEN 'Y' ELSE 'N' END
	FROM all_tab_columns c
	LEFT JOIN (
		SELECT cc.column_name
		FROM all_constraints con
		JOIN all_cons_columns cc
		  ON con.constraint_name = cc.constraint_name AND con.owner = cc.owner
		WHERE con.constraint_type = 'P' AND con.owner = :1 AND con.table_name = :2
	) pk ON pk.column_name = c.column_name
	WHERE c.owner = :3 AND c.table_name = :4
	ORDER BY c.column_id`

func (a *Adapter) loadColumns(ctx context.Context, db *sql.DB, owner, tableName string, table *schema.TableInfo) error {
	rows, err := datasource.QueryStrings(ctx, db, columnsSQL, owner, tableName, owner, tableName)
	if err != nil {
		return fmt.Errorf("columns for %s.%s: %w", owner, tableName, err)
	}

	for _, row := range rows {
		col := schema.ColumnInfo{
			Name:         row[0],
			DataType:     strings.ToLower(row[1]),
			IsNullable:   row[2] == "Y",
			DefaultValue: strings.TrimSpace(row[3]),
			IsPrimaryKey: row[4] == "Y",
		}
		table.Columns = append(table.Columns, col)
		if col.IsPrimaryKey {
			table.PrimaryKey = append(table.PrimaryKey, col.Name)
		}
	}
	return nil
}

const fkSQL = `
	SELECT cc.column_name, rcon.table_name, rcc.column_name, con.constraint_name
	FROM all_constraints con
	JOIN all_cons_columns cc
	  ON con.constraint_name = cc.constraint_name AND con.owner = cc.owner
	JOIN all_constraints rcon
	  ON con.r_constraint_name = rcon.constraint_name AND con.r_owner = rcon.owner
	JOIN all_cons_columns rcc
	  ON rcon.constraint_name = rcc.constraint_name AND rcon.owner = rcc.owner
	 AND cc.position = rcc.position
	WHERE con.constraint_type = 'R' AND con.owner = :1 AND con.table_name = :2`

func (a *Adapter) loadForeignKeys(ctx context.Context, db *sql.DB, owner, tableName string, table *schema.TableInfo) error {
	rows, err := datasource.QueryStrings(ctx, db, fkSQL, owner, tableName)
	if err != nil {
		return fmt.Errorf("foreign keys for %s.%s: %w", owner, tableName, err)
	}

	for _, row := range rows {
		table.ForeignKeys = append(table.ForeignKeys, schema.ForeignKey{
			Column:         row[0],
			RefTable:       row[1],
			RefColumn:      row[2],
			ConstraintName: row[3],
		})
	}
	return nil
}

const indexesSQL = `
	SELECT i.index_name, c.column_name, i.uniqueness
	FROM all_indexes i
	JOIN all_ind_columns c
	  ON i.index_name = c.index_name AND i.owner = c.index_owner
	WHERE i.owner = :1 AND i.table_name = :2
	ORDER BY i.index_name, c.column_position`

func (a *Adapter) loadIndexes(ctx context.Context, db *sql.DB, owner, tableName string, table *schema.TableInfo) error {
	rows, err := datasource.QueryStrings(ctx, db, indexesSQL, owner, tableName)
	if err != nil {
		return fmt.Errorf("indexes for %s.%s: %w", owner, tableName, err)
	}

	byName := make(map[string]int)
	for _, row := range rows {
		name, column, uniqueness := row[0], row[1], row[2]
		i, ok := byName[name]
		if !ok {
			i = len(table.Indexes)
			byName[name] = i
			table.Indexes = append(table.Indexes, schema.IndexInfo{
				Name:   name,
				Unique: uniqueness == "UNIQUE",
			})
		}
		table.Indexes[i].Columns = append(table.Indexes[i].Columns, column)
	}
	return nil
}

func (a *Adapter) loadSampleRows(ctx context.Context, db *sql.DB, fullName string) ([]map[string]any, error) {
	result, err := datasource.RunQuery(ctx, db,
		fmt.Sprintf("SELECT * FROM %s FETCH FIRST %d ROWS ONLY", fullName, maxSampleRows))
	if err != nil {
		return nil, err
	}
	return result.Rows, nil
}
