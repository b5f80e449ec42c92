// Package schema defines the canonical introspected schema shape shared by
// every downstream consumer, plus its cache and fingerprinting.
package schema

import (
	"fmt"
	"strings"
	"time"
)

// ConnectionInfo identifies the database a snapshot was taken from. It is
// attached at normalization time and must survive every downstream
// transform; the connection_id derivation depends on it.
type ConnectionInfo struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Database string `json:"database" yaml:"database"`
}

// ColumnInfo describes one column with a dialect-normalized type string.
type ColumnInfo struct {
	Name         string `json:"name" yaml:"name"`
	DataType     string `json:"data_type" yaml:"data_type"`
	IsNullable   bool   `json:"is_nullable" yaml:"is_nullable"`
	IsPrimaryKey bool   `json:"is_primary_key" yaml:"is_primary_key"`
	DefaultValue string `json:"default_value,omitempty" yaml:"default_value,omitempty"`
}

// ForeignKey describes one outgoing reference. ConstraintName is empty for
// dialects that do not name foreign keys (SQLite).
type ForeignKey struct {
	Column         string `json:"column" yaml:"column"`
	RefTable       string `json:"ref_table" yaml:"ref_table"`
	RefColumn      string `json:"ref_column" yaml:"ref_column"`
	ConstraintName string `json:"constraint_name,omitempty" yaml:"constraint_name,omitempty"`
}

// IndexInfo describes one secondary index.
type IndexInfo struct {
	Name    string   `json:"name" yaml:"name"`
	Columns []string `json:"columns" yaml:"columns"`
	Unique  bool     `json:"unique" yaml:"unique"`
}

// TableInfo describes one table or view.
type TableInfo struct {
	FullName    string       `json:"full_name" yaml:"full_name"` // schema-qualified
	TableName   string       `json:"table_name" yaml:"table_name"`
	Columns     []ColumnInfo `json:"columns" yaml:"columns"`
	PrimaryKey  []string     `json:"primary_key" yaml:"primary_key"`
	ForeignKeys []ForeignKey `json:"foreign_keys" yaml:"foreign_keys"`
	Indexes     []IndexInfo  `json:"indexes,omitempty" yaml:"indexes,omitempty"`
	RowCount    int64        `json:"row_count,omitempty" yaml:"row_count,omitempty"`

	// SampleRows holds at most three rows for LLM context at the "large"
	// prompt strategy.
	SampleRows []map[string]any `json:"sample_rows,omitempty" yaml:"sample_rows,omitempty"`
}

// Column returns the named column, or nil.
func (t *TableInfo) Column(name string) *ColumnInfo {
	for i := range t.Columns {
		if strings.EqualFold(t.Columns[i].Name, name) {
			return &t.Columns[i]
		}
	}
	return nil
}

// Snapshot is the canonical introspected shape of one database.
// Tables is an ordered list, never a map; consumers iterate. Views is always
// non-nil so JSON consumers see an array, not null.
type Snapshot struct {
	DatabaseName   string         `json:"database_name" yaml:"database_name"`
	ConnectionInfo ConnectionInfo `json:"connection_info" yaml:"connection_info"`
	Tables         []TableInfo    `json:"tables" yaml:"tables"`
	Views          []TableInfo    `json:"views" yaml:"views"`
	Timestamp      time.Time      `json:"timestamp" yaml:"timestamp"`

	byName map[string]int
}

// Normalize attaches connection info from the handle, guarantees a non-nil
// Views list and builds the lookup index. Every snapshot must pass through
// here before downstream use.
func Normalize(databaseName string, info ConnectionInfo, tables, views []TableInfo) *Snapshot {
	if views == nil {
		views = []TableInfo{}
	}
	s := &Snapshot{
		DatabaseName:   databaseName,
		ConnectionInfo: info,
		Tables:         tables,
		Views:          views,
		Timestamp:      time.Now().UTC(),
	}
	s.reindex()
	return s
}

func (s *Snapshot) reindex() {
	s.byName = make(map[string]int, len(s.Tables))
	for i := range s.Tables {
		s.byName[strings.ToLower(s.Tables[i].TableName)] = i
		s.byName[strings.ToLower(s.Tables[i].FullName)] = i
	}
}

// Table returns the table by simple or schema-qualified name, or nil.
func (s *Snapshot) Table(name string) *TableInfo {
	if s.byName == nil {
		s.reindex()
	}
	if i, ok := s.byName[strings.ToLower(name)]; ok {
		return &s.Tables[i]
	}
	return nil
}

// HasColumn reports whether (table, column) exists in the snapshot.
func (s *Snapshot) HasColumn(table, column string) bool {
	t := s.Table(table)
	if t == nil {
		return false
	}
	return t.Column(column) != nil
}

// TableNames returns the ordered list of table names.
func (s *Snapshot) TableNames() []string {
	names := make([]string, len(s.Tables))
	for i := range s.Tables {
		names[i] = s.Tables[i].TableName
	}
	return names
}

// Restrict returns a copy limited to the named tables, preserving order.
// ConnectionInfo, DatabaseName, Views and Timestamp are carried through
// unchanged. Unknown names are ignored; an empty subset returns the
// snapshot itself.
func (s *Snapshot) Restrict(tables []string) *Snapshot {
	if len(tables) == 0 {
		return s
	}
	want := make(map[string]bool, len(tables))
	for _, t := range tables {
		want[strings.ToLower(t)] = true
	}

	kept := make([]TableInfo, 0, len(tables))
	for _, t := range s.Tables {
		if want[strings.ToLower(t.TableName)] || want[strings.ToLower(t.FullName)] {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		return s
	}

	out := &Snapshot{
		DatabaseName:   s.DatabaseName,
		ConnectionInfo: s.ConnectionInfo,
		Tables:         kept,
		Views:          s.Views,
		Timestamp:      s.Timestamp,
	}
	out.reindex()
	return out
}

// Validate checks the invariants every consumer relies on.
func (s *Snapshot) Validate() error {
	if s.ConnectionInfo == (ConnectionInfo{}) {
		return fmt.Errorf("snapshot missing connection_info")
	}
	if s.Views == nil {
		return fmt.Errorf("snapshot views must be an empty list, not nil")
	}
	if s.DatabaseName == "" {
		return fmt.Errorf("snapshot missing database_name")
	}
	return nil
}
