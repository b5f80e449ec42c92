package datasource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionID(t *testing.T) {
	h := NewHandle(Config{Dialect: DialectPostgres, Host: "db.internal", Port: 5432, Database: "erp", User: "app"})
	assert.Equal(t, "erp_db.internal_5432", h.ConnectionID())

	s := NewHandle(Config{Dialect: DialectSQLite, FilePath: "/var/data/app.db"})
	assert.Equal(t, "/var/data/app.db_sqlite_0", s.ConnectionID())
}

func TestPoolKeyIncludesUser(t *testing.T) {
	a := NewHandle(Config{Dialect: DialectPostgres, Host: "h", Port: 5432, Database: "erp", User: "alice"})
	b := NewHandle(Config{Dialect: DialectPostgres, Host: "h", Port: 5432, Database: "erp", User: "bob"})

	assert.NotEqual(t, a.PoolKey(), b.PoolKey(), "different roles must not share a pool")
	assert.Equal(t, a.ConnectionID(), b.ConnectionID(), "the connection id is user-agnostic")
}

func TestParseDialect(t *testing.T) {
	tests := []struct {
		in      string
		want    Dialect
		wantErr bool
	}{
		{"postgres", DialectPostgres, false},
		{"PostgreSQL", DialectPostgres, false},
		{"pg", DialectPostgres, false},
		{"mysql", DialectMySQL, false},
		{"mariadb", DialectMySQL, false},
		{"oracle", DialectOracle, false},
		{"sqlite3", DialectSQLite, false},
		{" sqlite ", DialectSQLite, false},
		{"mssql", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseDialect(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}
