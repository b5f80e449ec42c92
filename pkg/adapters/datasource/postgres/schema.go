package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sqlsage-io/sqlsage-engine/pkg/adapters/datasource"
	"github.com/sqlsage-io/sqlsage-engine/pkg/schema"
)

// maxSampleRows caps sample rows collected per table for LLM context.
const maxSampleRows = 3

// introspectRelations lists relations of the given type (BASE TABLE or VIEW)
// the current role can select from.
func (a *Adapter) introspectRelations(ctx context.Context, db *sql.DB, tableType string) ([]schema.TableInfo, error) {
	const relationsSQL = `
		SELECT table_schema, table_name
		FROM information_schema.tables
		WHERE table_type = $1
		  AND table_schema NOT IN ('pg_catalog', 'information_schema')
		  AND has_table_privilege(quote_ident(table_schema) || '.' || quote_ident(table_name), 'SELECT')
		ORDER BY table_schema, table_name`

	rows, err := datasource.QueryStrings(ctx, db, relationsSQL, tableType)
	if err != nil {
		return nil, fmt.Errorf("list relations: %w", err)
	}

	tables := make([]schema.TableInfo, 0, len(rows))
	for _, row := range rows {
		schemaName, tableName := row[0], row[1]

		table := schema.TableInfo{
			FullName:  schemaName + "." + tableName,
			TableName: tableName,
		}

		if err := a.loadColumns(ctx, db, schemaName, tableName, &table); err != nil {
			return nil, err
		}
		if err := a.loadForeignKeys(ctx, db, schemaName, tableName, &table); err != nil {
			return nil, err
		}
		if err := a.loadIndexes(ctx, db, schemaName, tableName, &table); err != nil {
			return nil, err
		}

		if tableType == "BASE TABLE" {
			// Sample rows are best-effort; a failure here must not fail
			// introspection.
			if samples, err := a.loadSampleRows(ctx, db, table.FullName); err == nil {
				table.SampleRows = samples
			}
		}

		tables = append(tables, table)
	}
	return tables, nil
}

func (a *Adapter) loadColumns(ctx context.Context, db *sql.DB, schemaName, tableName string, table *schema.TableInfo) error {
	const columnsSQL = `
		SELECT c.column_name, c.data_type, c.is_nullable, COALESCE(c.column_default, ''),
		       CASE WHEN pk.column_name IS NOT NULL THEN 'YES' ELSE 'NO' END AS is_pk
		FROM information_schema.columns c
		LEFT JOIN (
			SELECT kcu.column_name
			FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage kcu
			  ON tc.constraint_name = kcu.constraint_name
			 AND tc.table_schema = kcu.table_schema
			WHERE tc.constraint_type = 'PRIMARY KEY'
			  AND tc.table_schema = $1 AND tc.table_name = $2
		) pk ON pk.column_name = c.column_name
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`

	rows, err := datasource.QueryStrings(ctx, db, columnsSQL, schemaName, tableName)
	if err != nil {
		return fmt.Errorf("columns for %s.%s: %w", schemaName, tableName, err)
	}

	for _, row := range rows {
		col := schema.ColumnInfo{
			Name:         row[0],
			DataType:     row[1],
			IsNullable:   row[2] == "YES",
			DefaultValue: row[3],
			IsPrimaryKey: row[4] == "YES",
		}
		table.Columns = append(table.Columns, col)
		if col.IsPrimaryKey {
			table.PrimaryKey = append(table.PrimaryKey, col.Name)
		}
	}
	return nil
}

func (a *Adapter) loadForeignKeys(ctx context.Context, db *sql.DB, schemaName, tableName string, table *schema.TableInfo) error {
	const fkSQL = `
		SELECT kcu.column_name, ccu.table_name AS ref_table, ccu.column_name AS ref_column,
		       tc.constraint_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
		  ON tc.constraint_name = ccu.constraint_name
		 AND tc.table_schema = ccu.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		  AND tc.table_schema = $1 AND tc.table_name = $2`

	rows, err := datasource.QueryStrings(ctx, db, fkSQL, schemaName, tableName)
	if err != nil {
		return fmt.Errorf("foreign keys for %s.%s: %w", schemaName, tableName, err)
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

func (a *Adapter) loadIndexes(ctx context.Context, db *sql.DB, schemaName, tableName string, table *schema.TableInfo) error {
	const indexesSQL = `
		SELECT i.relname, a.attname, ix.indisunique
		FROM pg_class t
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_index ix ON t.oid = ix.indrelid
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
		WHERE n.nspname = $1 AND t.relname = $2 AND NOT ix.indisprimary
		ORDER BY i.relname, array_position(ix.indkey, a.attnum)`

	rows, err := datasource.QueryStrings(ctx, db, indexesSQL, schemaName, tableName)
	if err != nil {
		return fmt.Errorf("indexes for %s.%s: %w", schemaName, tableName, err)
	}

	byName := make(map[string]int)
	for _, row := range rows {
		name, column, unique := row[0], row[1], row[2]
		i, ok := byName[name]
		if !ok {
			i = len(table.Indexes)
			byName[name] = i
			table.Indexes = append(table.Indexes, schema.IndexInfo{
				Name:   name,
				Unique: unique == "true" || unique == "t",
			})
		}
		table.Indexes[i].Columns = append(table.Indexes[i].Columns, column)
	}
	return nil
}

func (a *Adapter) loadSampleRows(ctx context.Context, db *sql.DB, fullName string) ([]map[string]any, error) {
	result, err := datasource.RunQuery(ctx, db, fmt.Sprintf("SELECT * FROM %s LIMIT %d", fullName, maxSampleRows))
	if err != nil {
		return nil, err
	}
	return result.Rows, nil
}
