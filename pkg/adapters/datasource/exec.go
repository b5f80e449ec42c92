package datasource

import (
	"context"
	"database/sql"
)

// RunQuery executes SQL over a database/sql pool and collects rows into the
// dialect-agnostic ResultSet. Shared by every adapter.
func RunQuery(ctx context.Context, db *sql.DB, sqlQuery string) (*ResultSet, error) {
	rows, err := db.QueryContext(ctx, sqlQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	resultRows := make([]map[string]any, 0)
	values := make([]any, len(columns))
	scanTargets := make([]any, len(columns))
	for i := range values {
		scanTargets[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, err
		}
		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			v := values[i]
			// Normalize []byte to string so results serialize cleanly.
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			rowMap[col] = v
		}
		resultRows = append(resultRows, rowMap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &ResultSet{
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}

// QueryStrings runs a query whose rows are all text, returning each row as a
// string slice. Used by introspection queries.
func QueryStrings(ctx context.Context, db *sql.DB, sqlQuery string, args ...any) ([][]string, error) {
	rows, err := db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out [][]string
	raw := make([]sql.NullString, len(columns))
	scanTargets := make([]any, len(columns))
	for i := range raw {
		scanTargets[i] = &raw[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, err
		}
		row := make([]string, len(columns))
		for i, ns := range raw {
			if ns.Valid {
				row[i] = ns.String
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
