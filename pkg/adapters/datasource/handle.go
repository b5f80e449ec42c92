// Package datasource hides dialect differences behind one adapter contract:
// connect, introspect, execute, disconnect. Dialect-specific SQL idioms are
// declared here and consumed by the prompt builder.
package datasource

import (
	"fmt"
	"strings"
)

// Dialect enumerates the supported database families.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectOracle   Dialect = "oracle"
	DialectSQLite   Dialect = "sqlite"
)

// ParseDialect normalizes a dialect string.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pg":
		return DialectPostgres, nil
	case "mysql", "mariadb":
		return DialectMySQL, nil
	case "oracle":
		return DialectOracle, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", s)
	}
}

// Config holds everything needed to open a connection.
type Config struct {
	Dialect  Dialect
	Host     string
	Port     int
	Database string
	User     string
	Password string

	// Oracle only: one of SID or ServiceName.
	SID         string
	ServiceName string

	// SQLite only.
	FilePath string
	// CreateIfMissing lets the SQLite adapter create the file. Off by
	// default: a typo in the path should fail, not silently create an
	// empty database.
	CreateIfMissing bool
}

// Handle identifies an open database session. Immutable; created on connect
// and destroyed on disconnect.
type Handle struct {
	dialect  Dialect
	host     string
	port     int
	database string
	user     string
	filePath string
}

// NewHandle builds a handle from a validated config.
func NewHandle(cfg Config) *Handle {
	return &Handle{
		dialect:  cfg.Dialect,
		host:     cfg.Host,
		port:     cfg.Port,
		database: cfg.Database,
		user:     cfg.User,
		filePath: cfg.FilePath,
	}
}

// Dialect returns the handle's dialect.
func (h *Handle) Dialect() Dialect { return h.dialect }

// Host returns the database host.
func (h *Handle) Host() string { return h.host }

// Port returns the database port.
func (h *Handle) Port() int { return h.port }

// Database returns the database name.
func (h *Handle) Database() string { return h.database }

// User returns the connected role.
func (h *Handle) User() string { return h.user }

// ConnectionID derives the stable partition key used by every downstream
// cache and persisted artifact: "{database}_{host}_{port}", or
// "{file_path}_sqlite_0" for SQLite.
func (h *Handle) ConnectionID() string {
	if h.dialect == DialectSQLite {
		return fmt.Sprintf("%s_sqlite_0", h.filePath)
	}
	return fmt.Sprintf("%s_%s_%d", h.database, h.host, h.port)
}

// PoolKey identifies the connection pool this handle checks out from. Pools
// are shared per (dialect, host, port, database, user).
func (h *Handle) PoolKey() string {
	return fmt.Sprintf("%s:%s:%d:%s:%s", h.dialect, h.host, h.port, h.database, h.user)
}
