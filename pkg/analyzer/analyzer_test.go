package analyzer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlsage-io/sqlsage-engine/pkg/adapters/datasource"
	"github.com/sqlsage-io/sqlsage-engine/pkg/apperrors"
	"github.com/sqlsage-io/sqlsage-engine/pkg/schema"
)

func analyzerSnapshot() *schema.Snapshot {
	tables := []schema.TableInfo{
		{FullName: "users", TableName: "users",
			Columns: []schema.ColumnInfo{{Name: "id", DataType: "integer"}}},
		{FullName: "user_roles", TableName: "user_roles",
			Columns: []schema.ColumnInfo{{Name: "id", DataType: "integer"}}},
		{FullName: "user_role_permissions", TableName: "user_role_permissions",
			Columns: []schema.ColumnInfo{{Name: "id", DataType: "integer"}}},
		{FullName: "orders", TableName: "orders",
			Columns: []schema.ColumnInfo{{Name: "id", DataType: "integer"}}},
	}
	return schema.Normalize("erp", schema.ConnectionInfo{Host: "h", Port: 5432, Database: "erp"}, tables, nil)
}

func TestAnalyzeObjectNotFoundSuggestsClosestNames(t *testing.T) {
	a := New(2000)
	err := apperrors.New(apperrors.KindObjectNotFound,
		`relation "role_permission" does not exist`, true, nil)

	analysis := a.Analyze(err, `SELECT * FROM role_permission`, analyzerSnapshot(), datasource.DialectPostgres)

	assert.Equal(t, apperrors.KindObjectNotFound, analysis.Kind)
	assert.True(t, analysis.ShouldRetry)
	require.NotEmpty(t, analysis.SuggestedTables)
	assert.Equal(t, "user_role_permissions", analysis.SuggestedTables[0],
		"closest name by edit distance comes first")
	assert.Len(t, analysis.SuggestedTables, 3)
	require.NotEmpty(t, analysis.Hints)
	assert.Contains(t, analysis.Hints[0], "role_permission")
}

func TestAnalyzeObjectNotFoundStripsSchemaPrefix(t *testing.T) {
	a := New(2000)
	err := apperrors.New(apperrors.KindObjectNotFound,
		`relation "public.userz" does not exist`, true, nil)

	analysis := a.Analyze(err, "SELECT * FROM public.userz", analyzerSnapshot(), datasource.DialectPostgres)

	require.NotEmpty(t, analysis.SuggestedTables)
	assert.Equal(t, "users", analysis.SuggestedTables[0])
}

func TestAnalyzeTypeMismatchPostgres(t *testing.T) {
	a := New(2000)
	err := apperrors.New(apperrors.KindTypeMismatch,
		"operator does not exist: integer = varchar", true, nil)

	analysis := a.Analyze(err, "SELECT * FROM orders WHERE id = name", analyzerSnapshot(), datasource.DialectPostgres)

	assert.True(t, analysis.ShouldRetry)
	assert.True(t, analysis.ForceFullTypes, "retry prompt must show full column types")
	require.NotNil(t, analysis.TypeInfo)
	assert.Equal(t, "INTEGER", analysis.TypeInfo.LeftType)
	assert.Equal(t, "VARCHAR", analysis.TypeInfo.RightType)
	assert.Equal(t, "col::INTEGER", analysis.TypeInfo.CastSuggestion)
}

func TestAnalyzeTypeMismatchOracle(t *testing.T) {
	a := New(2000)
	err := apperrors.New(apperrors.KindTypeMismatch,
		"ORA-00932: inconsistent datatypes: expected NUMBER got CHAR", true, nil)

	analysis := a.Analyze(err, "SELECT 1 FROM dual", analyzerSnapshot(), datasource.DialectOracle)

	require.NotNil(t, analysis.TypeInfo)
	assert.Equal(t, "NUMBER", analysis.TypeInfo.LeftType)
	assert.Equal(t, "CHAR", analysis.TypeInfo.RightType)
	assert.Equal(t, "CAST(col AS NUMBER)", analysis.TypeInfo.CastSuggestion)
}

func TestAnalyzeMentionedTables(t *testing.T) {
	a := New(2000)
	err := apperrors.New(apperrors.KindSyntax, `syntax error near "orders"`, true, nil)

	analysis := a.Analyze(err, "SELECT * FROM orders JOIN user_roles", analyzerSnapshot(), datasource.DialectPostgres)

	assert.Contains(t, analysis.MentionedTables, "orders")
	assert.Contains(t, analysis.MentionedTables, "user_roles")
	assert.NotContains(t, analysis.MentionedTables, "users",
		"users appears only inside user_roles, not as a whole identifier")
}

func TestShouldRetryMatrix(t *testing.T) {
	a := New(2000)
	tests := []struct {
		name  string
		err   error
		retry bool
	}{
		{"auth never retries", apperrors.New(apperrors.KindAuth, "bad password", false, nil), false},
		{"permission never retries", apperrors.New(apperrors.KindPermission, "denied", false, nil), false},
		{"cancelled never retries", apperrors.New(apperrors.KindCancelled, "ctx done", false, nil), false},
		{"retryable connection retries", apperrors.New(apperrors.KindConnection, "reset", true, nil), true},
		{"non-retryable connection stops", apperrors.New(apperrors.KindConnection, "refused", false, nil), false},
		{"syntax retries", apperrors.New(apperrors.KindSyntax, "near SELECT", true, nil), true},
		{"timeout retries", apperrors.New(apperrors.KindTimeout, "deadline", true, nil), true},
		{"result too large retries", apperrors.New(apperrors.KindResultTooLarge, "10M rows", true, nil), true},
		{"short unclassified retries", errors.New("boom"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			analysis := a.Analyze(tt.err, "", analyzerSnapshot(), datasource.DialectPostgres)
			assert.Equal(t, tt.retry, analysis.ShouldRetry)
		})
	}
}

func TestUnclassifiedLongErrorDoesNotRetry(t *testing.T) {
	a := New(10)
	analysis := a.Analyze(errors.New("this message is far longer than ten characters"),
		"", nil, datasource.DialectPostgres)

	assert.Equal(t, apperrors.KindOther, analysis.Kind)
	assert.False(t, analysis.ShouldRetry)
}

func TestAnalyzeNilSnapshot(t *testing.T) {
	a := New(2000)
	err := apperrors.New(apperrors.KindObjectNotFound, `table "x" not found`, true, nil)

	analysis := a.Analyze(err, "SELECT * FROM x", nil, datasource.DialectMySQL)

	assert.True(t, analysis.ShouldRetry)
	assert.Empty(t, analysis.MentionedTables)
	assert.Empty(t, analysis.SuggestedTables)
}

func TestContainsWord(t *testing.T) {
	assert.True(t, containsWord("select * from orders where", "orders"))
	assert.True(t, containsWord("orders", "orders"))
	assert.False(t, containsWord("user_accounts", "user"))
	assert.False(t, containsWord("reorders", "orders"))
	assert.True(t, containsWord("join orders,users", "users"))
}
