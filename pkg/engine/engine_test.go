package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sqlsage-io/sqlsage-engine/pkg/adapters/datasource"
	"github.com/sqlsage-io/sqlsage-engine/pkg/apperrors"
	"github.com/sqlsage-io/sqlsage-engine/pkg/budget"
	"github.com/sqlsage-io/sqlsage-engine/pkg/config"
	"github.com/sqlsage-io/sqlsage-engine/pkg/graph"
	"github.com/sqlsage-io/sqlsage-engine/pkg/llm"
	"github.com/sqlsage-io/sqlsage-engine/pkg/ontology"
	"github.com/sqlsage-io/sqlsage-engine/pkg/retrieval"
	"github.com/sqlsage-io/sqlsage-engine/pkg/schema"
)

// mockAdapter is a function-field adapter double.
type mockAdapter struct {
	handle *datasource.Handle

	IntrospectFunc func(ctx context.Context) (*schema.Snapshot, error)
	ExecuteFunc    func(ctx context.Context, sqlQuery string, limit int) (*datasource.ResultSet, error)
	DryRunFunc     func(ctx context.Context, sqlQuery string) error

	ExecuteCalls int32
	DryRunCalls  int32
}

func (m *mockAdapter) TestConnection(ctx context.Context) error { return nil }

func (m *mockAdapter) Introspect(ctx context.Context) (*schema.Snapshot, error) {
	if m.IntrospectFunc != nil {
		return m.IntrospectFunc(ctx)
	}
	return engineSnapshot(), nil
}

func (m *mockAdapter) Execute(ctx context.Context, sqlQuery string, limit int) (*datasource.ResultSet, error) {
	atomic.AddInt32(&m.ExecuteCalls, 1)
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, sqlQuery, limit)
	}
	return &datasource.ResultSet{Columns: []string{"n"}, Rows: []map[string]any{{"n": 1}}, RowCount: 1}, nil
}

func (m *mockAdapter) DryRun(ctx context.Context, sqlQuery string) error {
	atomic.AddInt32(&m.DryRunCalls, 1)
	if m.DryRunFunc != nil {
		return m.DryRunFunc(ctx, sqlQuery)
	}
	return nil
}

func (m *mockAdapter) Idioms() datasource.Idioms {
	return datasource.Idioms{
		Dialect:          datasource.DialectPostgres,
		LimitSyntax:      "LIMIT n",
		CurrentTimestamp: "NOW()",
		ConcatOperator:   "||",
		IdentifierQuote:  `"`,
		Pagination:       "LIMIT n OFFSET m",
	}
}

func (m *mockAdapter) Handle() *datasource.Handle { return m.handle }

func (m *mockAdapter) Close() error { return nil }

var _ datasource.Adapter = (*mockAdapter)(nil)

func newMockAdapter() *mockAdapter {
	return &mockAdapter{
		handle: datasource.NewHandle(datasource.Config{
			Dialect: datasource.DialectPostgres,
			Host:    "h", Port: 5432, Database: "erp", User: "u",
		}),
	}
}

func engineSnapshot() *schema.Snapshot {
	tables := []schema.TableInfo{
		{FullName: "vendors", TableName: "vendors",
			Columns: []schema.ColumnInfo{
				{Name: "id", DataType: "integer", IsPrimaryKey: true},
				{Name: "name", DataType: "text"},
			}},
		{FullName: "purchase_orders", TableName: "purchase_orders",
			Columns: []schema.ColumnInfo{
				{Name: "id", DataType: "integer", IsPrimaryKey: true},
				{Name: "vendor_id", DataType: "integer"},
				{Name: "total", DataType: "numeric"},
			},
			ForeignKeys: []schema.ForeignKey{{Column: "vendor_id", RefTable: "vendors", RefColumn: "id"}}},
	}
	return schema.Normalize("erp", schema.ConnectionInfo{Host: "h", Port: 5432, Database: "erp"}, tables, nil)
}

func engineConfig() *config.Config {
	return &config.Config{
		Env: "local",
		LLM: config.LLMConfig{
			Provider: "openai", Model: "gpt-4o",
			MaxContextTokens: 100000, MaxOutputTokens: 1024,
			RequestTimeoutSeconds: 5,
		},
		Ontology:  config.OntologyConfig{Enabled: false, Mode: "dynamic", MaxConcepts: 20},
		Graph:     config.GraphConfig{Enabled: false, Backend: "memory", MaxJoinDepth: 2},
		Retrieval: config.RetrievalConfig{Enabled: false, TopK: 3, SimilarityThreshold: 0.7, Collection: "past_queries"},
		Engine: config.EngineConfig{
			MaxAttempts: 3, ReadOnly: true, RowLimit: 100,
			ErrorQuoteLimit: 120, MaxErrorLength: 2000,
		},
	}
}

// seedExample stores one sizable past query. Its section appears on the
// first attempt only, so retry prompts have room to shrink below attempt 0.
func seedExample(t *testing.T, store *retrieval.Store) {
	t.Helper()
	require.NoError(t, store.Record(context.Background(), retrieval.Record{
		UserQuery: "list vendors with their purchase orders",
		SQLQuery: "SELECT v.id, v.name, po.id AS order_id, po.total, po.vendor_id " +
			"FROM vendors v LEFT JOIN purchase_orders po ON po.vendor_id = v.id " +
			"LEFT JOIN purchase_orders prev ON prev.vendor_id = v.id AND prev.id < po.id " +
			"GROUP BY v.id, v.name, po.id, po.total, po.vendor_id " +
			"ORDER BY v.name, po.id",
		Dialect: "postgres", SchemaName: "erp", Success: true,
	}))
}

// sqlResponder returns each canned SQL in order, repeating the last.
func sqlResponder(statements ...string) *llm.MockProvider {
	m := llm.NewMockProvider()
	var calls int32
	m.CompleteJSONFunc = func(context.Context, []llm.Message, llm.Params, string) (json.RawMessage, error) {
		i := int(atomic.AddInt32(&calls, 1)) - 1
		if i >= len(statements) {
			i = len(statements) - 1
		}
		payload := map[string]string{"sql": statements[i], "explanation": "test"}
		raw, _ := json.Marshal(payload)
		return raw, nil
	}
	return m
}

func newEngine(t *testing.T, cfg *config.Config, provider *llm.MockProvider) (*Engine, *retrieval.Store) {
	t.Helper()
	logger := zap.NewNop()
	store := retrieval.NewStore(cfg.Retrieval, retrieval.NewMemoryVectorBackend(), provider, logger)
	return New(
		config.NewStore(cfg),
		provider,
		budget.New(cfg.LLM.MaxContextTokens, cfg.Budget.StrategyOverride),
		ontology.NewService(cfg.Ontology, provider, logger),
		graph.NewServiceWithBackend(cfg.Graph, graph.NewMemoryBackend(), logger),
		store,
		schema.NewCache(10*time.Minute, logger),
		logger,
	), store
}

func TestRunFirstAttemptSuccess(t *testing.T) {
	cfg := engineConfig()
	provider := sqlResponder("SELECT name FROM vendors")
	eng, _ := newEngine(t, cfg, provider)
	adapter := newMockAdapter()

	res, err := eng.Run(context.Background(), adapter, "list vendor names", Options{})
	require.NoError(t, err)

	assert.Equal(t, "SELECT name FROM vendors", res.SQL)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, res.ResultSet.RowCount)
	assert.Equal(t, int32(1), adapter.ExecuteCalls)

	// Prompt carries the schema and the question, and no disabled sections.
	require.NotEmpty(t, provider.Prompts)
	user := provider.Prompts[0][1].Content
	assert.Contains(t, user, "Schema:")
	assert.Contains(t, user, "Question: list vendor names")
	assert.NotContains(t, user, "Recommended columns")
	assert.NotContains(t, user, "Similar past queries")
}

func TestRunRetriesAfterExecutionError(t *testing.T) {
	cfg := engineConfig()
	cfg.Retrieval.Enabled = true
	cfg.Retrieval.SimilarityThreshold = 0.5
	provider := sqlResponder(
		"SELECT * FROM vendorz",
		"SELECT * FROM vendors",
	)
	eng, store := newEngine(t, cfg, provider)
	seedExample(t, store)

	adapter := newMockAdapter()
	adapter.ExecuteFunc = func(_ context.Context, sqlQuery string, _ int) (*datasource.ResultSet, error) {
		if sqlQuery == "SELECT * FROM vendorz" {
			return nil, apperrors.New(apperrors.KindObjectNotFound,
				`relation "vendorz" does not exist`, true, nil).WithSQL(sqlQuery)
		}
		return &datasource.ResultSet{RowCount: 2}, nil
	}

	res, err := eng.Run(context.Background(), adapter, "list vendors", Options{})
	require.NoError(t, err)

	assert.Equal(t, "SELECT * FROM vendors", res.SQL)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, int32(2), adapter.ExecuteCalls)

	require.Len(t, provider.Prompts, 2)
	first := promptTokens(provider.Prompts[0])
	retry := promptTokens(provider.Prompts[1])
	assert.Less(t, retry, first, "retry prompt must be strictly smaller than attempt 0")

	retryUser := provider.Prompts[1][1].Content
	assert.Contains(t, retryUser, "vendorz", "retry prompt quotes the failure")
	assert.NotContains(t, retryUser, "Similar past queries", "retrieval is first-attempt only")
}

func TestRunGenerationFailureNeverExecutes(t *testing.T) {
	cfg := engineConfig()
	cfg.Retrieval.Enabled = true
	provider := llm.NewMockProvider()
	provider.CompleteJSONFunc = func(context.Context, []llm.Message, llm.Params, string) (json.RawMessage, error) {
		return nil, errors.New("model unavailable")
	}
	eng, store := newEngine(t, cfg, provider)
	seedExample(t, store)
	adapter := newMockAdapter()

	_, err := eng.Run(context.Background(), adapter, "list vendors", Options{})
	require.Error(t, err)

	var qe *QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, int32(0), adapter.ExecuteCalls, "no SQL may run when generation failed")
	assert.Len(t, qe.Attempts, cfg.Engine.MaxAttempts+1)
}

func TestRunNoRetryOnPermissionError(t *testing.T) {
	cfg := engineConfig()
	provider := sqlResponder("SELECT * FROM vendors")
	eng, _ := newEngine(t, cfg, provider)

	adapter := newMockAdapter()
	adapter.ExecuteFunc = func(context.Context, string, int) (*datasource.ResultSet, error) {
		return nil, apperrors.New(apperrors.KindPermission, "permission denied for table vendors", false, nil)
	}

	_, err := eng.Run(context.Background(), adapter, "list vendors", Options{})
	require.Error(t, err)

	var qe *QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, apperrors.KindPermission, qe.Kind)
	assert.Len(t, qe.Attempts, 1, "permission errors are terminal")
	assert.Equal(t, int32(1), adapter.ExecuteCalls)
	require.NotNil(t, qe.Partial)
	assert.Equal(t, "SELECT * FROM vendors", qe.Partial.SQL)
}

func TestRunCancelledContext(t *testing.T) {
	cfg := engineConfig()
	provider := sqlResponder("SELECT 1")
	eng, _ := newEngine(t, cfg, provider)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := eng.Run(ctx, newMockAdapter(), "list vendors", Options{})
	require.Error(t, err)

	var qe *QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, apperrors.KindCancelled, qe.Kind)
}

func TestRunValidatorRejectionTriggersRegeneration(t *testing.T) {
	cfg := engineConfig()
	cfg.Retrieval.Enabled = true
	provider := sqlResponder(
		"SELECT 1; DROP TABLE vendors",
		"SELECT 1",
	)
	eng, store := newEngine(t, cfg, provider)
	seedExample(t, store)
	adapter := newMockAdapter()

	res, err := eng.Run(context.Background(), adapter, "anything", Options{})
	require.NoError(t, err)

	assert.Equal(t, "SELECT 1", res.SQL)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, int32(1), adapter.ExecuteCalls, "the rejected statement never reaches the database")
}

func TestRunDisallowedVerbNeverExecutes(t *testing.T) {
	cfg := engineConfig()
	cfg.Retrieval.Enabled = true
	provider := sqlResponder(
		"DROP TABLE vendors",
		"SELECT count(*) FROM vendors",
	)
	eng, store := newEngine(t, cfg, provider)
	seedExample(t, store)
	adapter := newMockAdapter()

	res, err := eng.Run(context.Background(), adapter, "how many vendors", Options{})
	require.NoError(t, err)

	assert.Equal(t, "SELECT count(*) FROM vendors", res.SQL)
	assert.Equal(t, int32(1), adapter.ExecuteCalls)
}

func TestRunDryRunProbeFirstAttemptOnly(t *testing.T) {
	cfg := engineConfig()
	cfg.Retrieval.Enabled = true
	provider := sqlResponder(
		"SELECT * FROM vendorz",
		"SELECT * FROM vendors",
	)
	eng, store := newEngine(t, cfg, provider)
	seedExample(t, store)

	adapter := newMockAdapter()
	adapter.DryRunFunc = func(_ context.Context, sqlQuery string) error {
		if sqlQuery == "SELECT * FROM vendorz" {
			return apperrors.New(apperrors.KindObjectNotFound,
				`relation "vendorz" does not exist`, true, nil)
		}
		return nil
	}

	res, err := eng.Run(context.Background(), adapter, "list vendors", Options{DryRunProbe: true})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, int32(1), adapter.DryRunCalls, "probe runs on the first attempt only")
	assert.Equal(t, int32(1), adapter.ExecuteCalls)
}

func TestRunSerializesPerHandle(t *testing.T) {
	cfg := engineConfig()
	provider := sqlResponder("SELECT 1")
	eng, _ := newEngine(t, cfg, provider)

	var inFlight, maxInFlight int32
	adapter := newMockAdapter()
	adapter.ExecuteFunc = func(context.Context, string, int) (*datasource.ResultSet, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			cur := atomic.LoadInt32(&maxInFlight)
			if n <= cur || atomic.CompareAndSwapInt32(&maxInFlight, cur, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return &datasource.ResultSet{}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.Run(context.Background(), adapter, "q", Options{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight),
		"queries on one handle must not overlap")
}

func TestRunAsyncRecordDrainsOnShutdown(t *testing.T) {
	cfg := engineConfig()
	cfg.Retrieval.Enabled = true
	cfg.Engine.AsyncRecord = true
	provider := sqlResponder("SELECT name FROM vendors")
	eng, store := newEngine(t, cfg, provider)

	_, err := eng.Run(context.Background(), newMockAdapter(), "list vendor names", Options{})
	require.NoError(t, err)

	eng.Shutdown()

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "the successful pair is recorded before shutdown returns")
}

func TestRunRetryAfterBackoffHonoredOnce(t *testing.T) {
	cfg := engineConfig()
	provider := llm.NewMockProvider()
	var calls int32
	provider.CompleteJSONFunc = func(context.Context, []llm.Message, llm.Params, string) (json.RawMessage, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, &llm.RetryAfterError{After: 10 * time.Millisecond, Cause: errors.New("429")}
		}
		return json.RawMessage(`{"sql": "SELECT 1", "explanation": "ok"}`), nil
	}
	eng, _ := newEngine(t, cfg, provider)

	res, err := eng.Run(context.Background(), newMockAdapter(), "q", Options{})
	require.NoError(t, err)

	assert.Equal(t, "SELECT 1", res.SQL)
	assert.Equal(t, 1, res.Attempts, "a rate-limit backoff is not a new attempt")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRunFocusedTablesAfterObjectNotFound(t *testing.T) {
	cfg := engineConfig()
	cfg.Retrieval.Enabled = true
	provider := sqlResponder(
		"SELECT * FROM vendorz",
		"SELECT * FROM vendors",
	)
	eng, store := newEngine(t, cfg, provider)
	seedExample(t, store)

	adapter := newMockAdapter()
	var failed int32
	adapter.ExecuteFunc = func(_ context.Context, sqlQuery string, _ int) (*datasource.ResultSet, error) {
		if atomic.AddInt32(&failed, 1) == 1 {
			return nil, apperrors.New(apperrors.KindObjectNotFound,
				`relation "vendorz" does not exist`, true, nil).WithSQL(sqlQuery)
		}
		return &datasource.ResultSet{}, nil
	}

	_, err := eng.Run(context.Background(), adapter, "list vendors", Options{})
	require.NoError(t, err)

	require.Len(t, provider.Prompts, 2)
	retryUser := provider.Prompts[1][1].Content
	assert.Contains(t, retryUser, "vendors", "suggested tables focus the retry schema")
}

func TestNarrowTables(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, narrowTables([]string{"a", "b"}, []string{"b", "c"}, nil))
	assert.Equal(t, []string{"x"}, narrowTables(nil, nil, []string{"x"}),
		"caller restriction survives when analysis found nothing")
	assert.Nil(t, narrowTables(nil, nil, nil))
}

func TestStartsWithAllowedKeyword(t *testing.T) {
	tests := []struct {
		sql  string
		want bool
	}{
		{"SELECT 1", true},
		{"  with x as (select 1) select * from x", true},
		{"SHOW TABLES", true},
		{"EXPLAIN SELECT 1", true},
		{"DROP TABLE t", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, startsWithAllowedKeyword(tt.sql, defaultAllowedKeywords), tt.sql)
	}
}

func TestAllowedVerbs(t *testing.T) {
	assert.Equal(t, defaultAllowedKeywords, allowedVerbs(nil))
	assert.Equal(t, defaultAllowedKeywords, allowedVerbs([]string{"", "  "}))
	assert.Equal(t, []string{"SELECT", "VALUES"}, allowedVerbs([]string{"select", " values "}))
}

func TestRunConfiguredAllowedKeywords(t *testing.T) {
	cfg := engineConfig()
	cfg.Retrieval.Enabled = true
	cfg.Engine.AllowedKeywords = []string{"SELECT"}
	provider := sqlResponder(
		"SHOW TABLES",
		"SELECT name FROM vendors",
	)
	eng, store := newEngine(t, cfg, provider)
	seedExample(t, store)
	adapter := newMockAdapter()

	res, err := eng.Run(context.Background(), adapter, "list vendor names", Options{})
	require.NoError(t, err)

	assert.Equal(t, "SELECT name FROM vendors", res.SQL,
		"SHOW is rejected when the configured allow list omits it")
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, int32(1), adapter.ExecuteCalls)
}

func TestReleaseHandleForgetsLock(t *testing.T) {
	cfg := engineConfig()
	provider := sqlResponder("SELECT 1")
	eng, _ := newEngine(t, cfg, provider)
	adapter := newMockAdapter()

	_, err := eng.Run(context.Background(), adapter, "q", Options{})
	require.NoError(t, err)

	connectionID := adapter.Handle().ConnectionID()
	eng.mu.RLock()
	_, held := eng.locks[connectionID]
	eng.mu.RUnlock()
	require.True(t, held)

	eng.ReleaseHandle(connectionID)

	eng.mu.RLock()
	_, held = eng.locks[connectionID]
	eng.mu.RUnlock()
	assert.False(t, held, "released handles leave no lock behind")
	assert.Nil(t, eng.snapshots.Get(connectionID), "released handles leave no snapshot behind")

	// The handle stays usable; state is recreated on demand.
	_, err = eng.Run(context.Background(), adapter, "q", Options{})
	assert.NoError(t, err)
}

func TestSwapSubsystemsNextQueryUsesNewInstances(t *testing.T) {
	cfg := engineConfig()
	cfg.Retrieval.Enabled = true
	cfg.Retrieval.SimilarityThreshold = 0.5
	provider := sqlResponder("SELECT name FROM vendors")
	eng, _ := newEngine(t, cfg, provider)
	adapter := newMockAdapter()

	_, err := eng.Run(context.Background(), adapter, "list vendor names", Options{})
	require.NoError(t, err)
	eng.Shutdown()

	// A freshly built store with a seeded example replaces the original.
	replacement := retrieval.NewStore(cfg.Retrieval, retrieval.NewMemoryVectorBackend(), provider, zap.NewNop())
	seedExample(t, replacement)
	eng.SwapSubsystems(nil, nil, replacement)

	_, err = eng.Run(context.Background(), adapter, "list vendor names", Options{})
	require.NoError(t, err)

	last := provider.Prompts[len(provider.Prompts)-1][1].Content
	assert.Contains(t, last, "Similar past queries",
		"the query after the swap reads the replacement store")
}

func TestQueryErrorMessage(t *testing.T) {
	qe := &QueryError{
		Kind:     apperrors.KindObjectNotFound,
		Message:  `relation "x" does not exist`,
		Attempts: []Attempt{{SQL: "SELECT 1", Error: "boom"}},
	}
	assert.Equal(t, fmt.Sprintf("%s: %s (after 1 attempts)", apperrors.KindObjectNotFound, qe.Message), qe.Error())
}
