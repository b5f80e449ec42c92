package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sqlsage-io/sqlsage-engine/pkg/adapters/datasource"
	"github.com/sqlsage-io/sqlsage-engine/pkg/schema"
)

const maxSampleRows = 3

func (a *Adapter) introspectRelations(ctx context.Context, db *sql.DB, tableType string) ([]schema.TableInfo, error) {
	const relationsSQL = `
		SELECT table_schema, table_name
		FROM information_schema.tables
		WHERE table_type = ? AND table_schema = DATABASE()
		ORDER BY table_name`

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

		if err := a.loadColumns(ctx, db, tableName, &table); err != nil {
			return nil, err
		}
		if err := a.loadForeignKeys(ctx, db, tableName, &table); err != nil {
			return nil, err
		}
		if err := a.loadIndexes(ctx, db, tableName, &table); err != nil {
			return nil, err
		}

		if tableType == "BASE TABLE" {
			if samples, err := a.loadSampleRows(ctx, db, tableName); err == nil {
				table.SampleRows = samples
			}
		}

		tables = append(tables, table)
	}
	return tables, nil
}

func (a *Adapter) loadColumns(ctx context.Context, db *sql.DB, tableName string, table *schema.TableInfo) error {
	const columnsSQL = `
		SELECT column_name, data_type, is_nullable, COALESCE(column_default, ''), column_key
		FROM information_schema.columns
		WHERE table_schema = DATABASE() AND table_name = ?
		ORDER BY ordinal_position`

	rows, err := datasource.QueryStrings(ctx, db, columnsSQL, tableName)
	if err != nil {
		return fmt.Errorf("columns for %s: %w", tableName, err)
	}

	for _, row := range rows {
		col := schema.ColumnInfo{
			Name:         row[0],
			DataType:     row[1],
			IsNullable:   row[2] == "YES",
			DefaultValue: row[3],
			IsPrimaryKey: row[4] == "PRI",
		}
		table.Columns = append(table.Columns, col)
		if col.IsPrimaryKey {
			table.PrimaryKey = append(table.PrimaryKey, col.Name)
		}
	}
	return nil
}

func (a *Adapter) loadForeignKeys(ctx context.Context, db *sql.DB, tableName string, table *schema.TableInfo) error {
	const fkSQL = `
		SELECT column_name, referenced_table_name, referenced_column_name, constraint_name
		FROM information_schema.key_column_usage
		WHERE table_schema = DATABASE() AND table_name = ?
		  AND referenced_table_name IS NOT NULL`

	rows, err := datasource.QueryStrings(ctx, db, fkSQL, tableName)
	if err != nil {
		return fmt.Errorf("foreign keys for %s: %w", tableName, err)
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

func (a *Adapter) loadIndexes(ctx context.Context, db *sql.DB, tableName string, table *schema.TableInfo) error {
	const indexesSQL = `
		SELECT index_name, column_name, non_unique
		FROM information_schema.statistics
		WHERE table_schema = DATABASE() AND table_name = ? AND index_name <> 'PRIMARY'
		ORDER BY index_name, seq_in_index`

	rows, err := datasource.QueryStrings(ctx, db, indexesSQL, tableName)
	if err != nil {
		return fmt.Errorf("indexes for %s: %w", tableName, err)
	}

	byName := make(map[string]int)
	for _, row := range rows {
		name, column, nonUnique := row[0], row[1], row[2]
		i, ok := byName[name]
		if !ok {
			i = len(table.Indexes)
			byName[name] = i
			table.Indexes = append(table.Indexes, schema.IndexInfo{
				Name:   name,
				Unique: nonUnique == "0",
			})
		}
		table.Indexes[i].Columns = append(table.Indexes[i].Columns, column)
	}
	return nil
}

func (a *Adapter) loadSampleRows(ctx context.Context, db *sql.DB, tableName string) ([]map[string]any, error) {
	result, err := datasource.RunQuery(ctx, db, fmt.Sprintf("SELECT * FROM `%s` LIMIT %d", tableName, maxSampleRows))
	if err != nil {
		return nil, err
	}
	return result.Rows, nil
}
