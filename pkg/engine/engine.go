package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sqlsage-io/sqlsage-engine/pkg/adapters/datasource"
	"github.com/sqlsage-io/sqlsage-engine/pkg/analyzer"
	"github.com/sqlsage-io/sqlsage-engine/pkg/apperrors"
	"github.com/sqlsage-io/sqlsage-engine/pkg/budget"
	"github.com/sqlsage-io/sqlsage-engine/pkg/config"
	"github.com/sqlsage-io/sqlsage-engine/pkg/graph"
	"github.com/sqlsage-io/sqlsage-engine/pkg/llm"
	"github.com/sqlsage-io/sqlsage-engine/pkg/ontology"
	"github.com/sqlsage-io/sqlsage-engine/pkg/retrieval"
	"github.com/sqlsage-io/sqlsage-engine/pkg/schema"
	"github.com/sqlsage-io/sqlsage-engine/pkg/sqlcheck"
)

// Default per-attempt deadlines, enforced even when the request deadline is
// farther out.
const (
	defaultLLMDeadline = 60 * time.Second
	defaultDBDeadline  = 120 * time.Second
)

// Options tunes a single run.
type Options struct {
	// Tables restricts generation to the named tables from the start.
	Tables []string

	// DryRunProbe validates the first candidate SQL with the adapter's
	// cheap probe before executing it.
	DryRunProbe bool
}

// Engine wires every subsystem behind the single run entrypoint. Instances
// are safe for concurrent use; queries on the same handle serialize, queries
// on different handles run in parallel.
type Engine struct {
	cfgStore  *config.Store
	provider  llm.Provider
	budgeter  *budget.Budgeter
	ontology  *ontology.Service
	graph     *graph.Service
	retrieval *retrieval.Store
	snapshots *schema.Cache
	analyzer  *analyzer.Analyzer
	logger    *zap.Logger

	mu    sync.RWMutex // guards subsystem swaps and locks
	locks map[string]*sync.Mutex

	recordWG sync.WaitGroup
}

// New assembles the engine.
func New(
	cfgStore *config.Store,
	provider llm.Provider,
	budgeter *budget.Budgeter,
	ontologySvc *ontology.Service,
	graphSvc *graph.Service,
	retrievalStore *retrieval.Store,
	snapshots *schema.Cache,
	logger *zap.Logger,
) *Engine {
	cfg := cfgStore.Current()
	return &Engine{
		cfgStore:  cfgStore,
		provider:  provider,
		budgeter:  budgeter,
		ontology:  ontologySvc,
		graph:     graphSvc,
		retrieval: retrievalStore,
		snapshots: snapshots,
		analyzer:  analyzer.New(cfg.Engine.MaxErrorLength),
		logger:    logger.Named("engine"),
		locks:     make(map[string]*sync.Mutex),
	}
}

// handleLock returns the mutex serializing queries on one connection.
func (e *Engine) handleLock(connectionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[connectionID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[connectionID] = l
	}
	return l
}

// enabledSet is the subsystem availability snapshot taken at Generate entry.
// Toggling a subsystem mid-query never affects the in-flight query.
type enabledSet struct {
	ontology  bool
	graph     bool
	retrieval bool
}

// subsystems is the set of swappable context providers a single query runs
// against, captured once at Run entry.
type subsystems struct {
	ontology  *ontology.Service
	graph     *graph.Service
	retrieval *retrieval.Store
}

// Run executes one natural-language query end to end. At most one query
// runs per handle at a time; callers on the same handle queue FIFO.
func (e *Engine) Run(ctx context.Context, adapter datasource.Adapter, question string, opts Options) (*Result, error) {
	handle := adapter.Handle()
	connectionID := handle.ConnectionID()

	lock := e.handleLock(connectionID)
	lock.Lock()
	defer lock.Unlock()

	if inj := sqlcheck.CheckQuestionForInjection(question); inj != nil {
		e.logger.Warn("question flagged as injection payload",
			zap.String("connection_id", connectionID),
			zap.String("fingerprint", inj.Fingerprint))
	}

	snap, err := e.snapshot(ctx, adapter, connectionID)
	if err != nil {
		return nil, &QueryError{Kind: apperrors.KindOf(err), Message: err.Error()}
	}

	cfg := e.cfgStore.Current()
	enabled := enabledSet{
		ontology:  cfg.Ontology.Enabled,
		graph:     cfg.Graph.Enabled,
		retrieval: cfg.Retrieval.Enabled,
	}

	e.mu.RLock()
	provider := e.provider
	budgeter := e.budgeter
	subs := subsystems{ontology: e.ontology, graph: e.graph, retrieval: e.retrieval}
	e.mu.RUnlock()

	qs := &queryState{focusedTables: opts.Tables}
	state := StateGenerate
	var candidate generatedSQL
	var resultSet *datasource.ResultSet

	for {
		if ctx.Err() != nil {
			return nil, e.fail(qs, apperrors.New(apperrors.KindCancelled, "query cancelled", false, ctx.Err()))
		}

		switch state {
		case StateGenerate:
			candidate, budgeter, err = e.generate(ctx, provider, budgeter, subs, cfg, adapter, snap, connectionID, question, enabled, qs)
			if err != nil {
				var appErr *apperrors.Error
				if errors.As(err, &appErr) && (appErr.Kind == apperrors.KindBudget || appErr.Kind == apperrors.KindCancelled) {
					return nil, e.fail(qs, appErr)
				}
				qs.lastError = err
				qs.recordAttempt("", err)
				state = StateAnalyzeError
				continue
			}
			qs.lastSQL = candidate.SQL
			qs.lastExplain = candidate.Explanation
			state = StateValidate

		case StateValidate:
			vr := sqlcheck.ValidateAndNormalize(candidate.SQL, cfg.Engine.ReadOnly)
			if vr.Error != nil {
				qs.lastError = apperrors.New(apperrors.KindSyntax, vr.Error.Error(), true, vr.Error).WithSQL(candidate.SQL)
				qs.recordAttempt(candidate.SQL, qs.lastError)
				state = StateAnalyzeError
				continue
			}
			candidate.SQL = vr.NormalizedSQL

			if opts.DryRunProbe && qs.attempt == 0 {
				probeCtx, cancel := context.WithTimeout(ctx, defaultDBDeadline)
				probeErr := adapter.DryRun(probeCtx, candidate.SQL)
				cancel()
				if probeErr != nil {
					qs.lastError = probeErr
					qs.recordAttempt(candidate.SQL, probeErr)
					state = StateAnalyzeError
					continue
				}
			}
			state = StateExecute

		case StateExecute:
			execCtx, cancel := context.WithTimeout(ctx, defaultDBDeadline)
			resultSet, err = adapter.Execute(execCtx, candidate.SQL, cfg.Engine.RowLimit)
			cancel()
			if err != nil {
				qs.lastError = err
				qs.recordAttempt(candidate.SQL, err)
				state = StateAnalyzeError
				continue
			}
			qs.recordAttempt(candidate.SQL, nil)
			state = StateSucceed

		case StateAnalyzeError:
			analysis := e.analyzer.Analyze(qs.lastError, qs.lastSQL, snap, handle.Dialect())
			if !analysis.ShouldRetry || qs.attempt >= cfg.Engine.MaxAttempts {
				return nil, e.fail(qs, qs.lastError)
			}

			qs.attempt++
			qs.errorHints = analysis.Hints
			qs.forceFullTypes = qs.forceFullTypes || analysis.ForceFullTypes
			qs.focusedTables = narrowTables(analysis.MentionedTables, analysis.SuggestedTables, opts.Tables)
			// The broken SQL must never be re-sent; a fresh generation is
			// mandatory.
			qs.lastSQL = ""
			candidate = generatedSQL{}
			state = StateGenerate

		case StateSucceed:
			e.recordSuccess(cfg, subs, connectionID, handle, snap, question, candidate.SQL, enabled)
			return &Result{
				SQL:         candidate.SQL,
				Explanation: candidate.Explanation,
				ResultSet:   resultSet,
				Attempts:    qs.attempt + 1,
				Strategy:    budgeter.Strategy(),
			}, nil
		}
	}
}

// generate assembles the prompt and invokes the LLM. On budget overflow it
// degrades the strategy one step and rebuilds; if the most concise strategy
// still overflows, it returns a Budget error.
func (e *Engine) generate(
	ctx context.Context,
	provider llm.Provider,
	budgeter *budget.Budgeter,
	subs subsystems,
	cfg *config.Config,
	adapter datasource.Adapter,
	snap *schema.Snapshot,
	connectionID, question string,
	enabled enabledSet,
	qs *queryState,
) (generatedSQL, *budget.Budgeter, error) {
	in := promptInput{
		idioms:     adapter.Idioms(),
		snap:       snap,
		question:   question,
		quoteLimit: cfg.Engine.ErrorQuoteLimit,
	}

	// Subsystem contributions are advisory: a panic or error inside any of
	// them makes the feature unavailable for this attempt, nothing more.
	if enabled.ontology {
		in.ontologyBlock = e.safeOntologyBlock(ctx, subs, connectionID, question, snap)
	}
	if enabled.graph {
		in.graphBlock = e.safeGraphBlock(ctx, subs, connectionID, question)
	}
	if enabled.retrieval && qs.attempt == 0 {
		in.retrievalBlock = e.safeRetrievalBlock(ctx, subs, question, adapter, snap)
	}
	if qs.attempt > 0 && qs.lastError != nil {
		in.errMessage = qs.lastError.Error()
		in.hints = qs.errorHints
		if len(qs.history) > 0 {
			in.failedSQL = qs.history[len(qs.history)-1].SQL
		}
	}

	messages, tokens := buildPrompt(budgeter, in, qs)

	// Retry prompts must be strictly smaller than the first attempt;
	// degrade until they are.
	limit := budgeter.MaxTokens()
	for tokens > limit || (qs.attempt > 0 && qs.firstPromptTokens > 0 && tokens >= qs.firstPromptTokens) {
		next, ok := budget.Degrade(budgeter.Strategy())
		if !ok {
			if tokens > limit {
				return generatedSQL{}, budgeter, apperrors.New(apperrors.KindBudget,
					fmt.Sprintf("prompt (%d tokens) exceeds context window (%d) at the most concise strategy", tokens, limit), false, nil)
			}
			// Smaller than the window but not smaller than attempt 0:
			// drop the advisory sections and keep only schema + error.
			in.ontologyBlock, in.graphBlock, in.retrievalBlock = "", "", ""
			messages, tokens = buildPrompt(budgeter, in, qs)
			if qs.firstPromptTokens > 0 && tokens >= qs.firstPromptTokens {
				return generatedSQL{}, budgeter, apperrors.New(apperrors.KindBudget,
					"retry prompt cannot shrink below the first attempt", false, nil)
			}
			break
		}
		budgeter = budgeter.WithStrategy(next)
		messages, tokens = buildPrompt(budgeter, in, qs)
	}

	if qs.attempt == 0 {
		qs.firstPromptTokens = tokens
	}

	e.logger.Debug("prompt assembled",
		zap.String("connection_id", connectionID),
		zap.Int("attempt", qs.attempt),
		zap.Int("tokens", tokens),
		zap.String("strategy", string(budgeter.Strategy())))

	raw, err := e.completeWithDeadline(ctx, provider, messages, cfg)
	if err != nil {
		return generatedSQL{}, budgeter, err
	}

	var out generatedSQL
	if err := json.Unmarshal(raw, &out); err != nil || out.SQL == "" {
		return generatedSQL{}, budgeter, apperrors.New(apperrors.KindSyntax,
			"model response is not the expected JSON shape", true, err)
	}
	if !startsWithAllowedKeyword(out.SQL, allowedVerbs(cfg.Engine.AllowedKeywords)) {
		return generatedSQL{}, budgeter, apperrors.New(apperrors.KindSyntax,
			"generated statement does not start with an allowed keyword", true, nil).WithSQL(out.SQL)
	}
	return out, budgeter, nil
}

// completeWithDeadline calls the provider under the per-attempt LLM
// deadline, honoring one rate-limit backoff hint.
func (e *Engine) completeWithDeadline(ctx context.Context, provider llm.Provider, messages []llm.Message, cfg *config.Config) (json.RawMessage, error) {
	deadline := defaultLLMDeadline
	if cfg.LLM.RequestTimeoutSeconds > 0 {
		deadline = time.Duration(cfg.LLM.RequestTimeoutSeconds) * time.Second
	}

	call := func() (json.RawMessage, error) {
		callCtx, cancel := context.WithTimeout(ctx, deadline)
		defer cancel()
		return provider.CompleteJSON(callCtx, messages, llm.Params{
			Temperature: 0,
			MaxTokens:   cfg.LLM.MaxOutputTokens,
		}, `{"sql": "string", "explanation": "string"}`)
	}

	raw, err := call()
	if err == nil {
		return raw, nil
	}

	var ra *llm.RetryAfterError
	if errors.As(err, &ra) && ra.After > 0 && ra.After <= 30*time.Second {
		select {
		case <-time.After(ra.After):
		case <-ctx.Done():
			return nil, apperrors.New(apperrors.KindCancelled, "query cancelled", false, ctx.Err())
		}
		if raw, err = call(); err == nil {
			return raw, nil
		}
	}
	return nil, llm.ClassifyError(err)
}

// snapshot returns the cached snapshot or introspects.
func (e *Engine) snapshot(ctx context.Context, adapter datasource.Adapter, connectionID string) (*schema.Snapshot, error) {
	if snap := e.snapshots.Get(connectionID); snap != nil {
		return snap, nil
	}
	snap, err := adapter.Introspect(ctx)
	if err != nil {
		return nil, err
	}
	e.snapshots.Put(connectionID, snap)
	return snap.Restrict(e.snapshots.Subset(connectionID)), nil
}

// safeOntologyBlock resolves the question against the ontology; any panic
// or error just drops the section.
func (e *Engine) safeOntologyBlock(ctx context.Context, subs subsystems, connectionID, question string, snap *schema.Snapshot) (block string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("ontology panicked, skipping for this attempt", zap.Any("panic", r))
			block = ""
		}
	}()

	res, err := subs.ontology.Resolve(ctx, connectionID, question, snap)
	if err != nil {
		if !errors.Is(err, apperrors.ErrDisabled) {
			e.logger.Warn("ontology unavailable for this attempt", zap.Error(err))
		}
		return ""
	}
	return formatResolution(res)
}

func (e *Engine) safeGraphBlock(ctx context.Context, subs subsystems, connectionID, question string) (block string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("graph panicked, skipping for this attempt", zap.Any("panic", r))
			block = ""
		}
	}()

	o, _ := subs.ontology.Cached(connectionID)
	insights, err := subs.graph.Insights(ctx, connectionID, question, o)
	if err != nil {
		if !errors.Is(err, apperrors.ErrDisabled) {
			e.logger.Warn("graph unavailable for this attempt", zap.Error(err))
		}
		return ""
	}
	return graph.FormatInsights(insights)
}

func (e *Engine) safeRetrievalBlock(ctx context.Context, subs subsystems, question string, adapter datasource.Adapter, snap *schema.Snapshot) (block string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("retrieval panicked, skipping for this attempt", zap.Any("panic", r))
			block = ""
		}
	}()

	examples, err := subs.retrieval.Search(ctx, question, string(adapter.Handle().Dialect()), snap.DatabaseName)
	if err != nil {
		if !errors.Is(err, apperrors.ErrDisabled) {
			e.logger.Warn("retrieval unavailable for this attempt", zap.Error(err))
		}
		return ""
	}
	return retrieval.FormatExamples(examples)
}

// formatResolution renders ontology hints as a prompt block.
func formatResolution(res *ontology.ResolutionResult) string {
	if res == nil || len(res.Hints) == 0 {
		return ""
	}
	block := "Recommended columns:\n"
	for _, h := range res.Hints {
		block += fmt.Sprintf("- %s.%s (%s of %s, confidence %.2f)\n", h.Table, h.Column, h.Property, h.Concept, h.Confidence)
	}
	return block[:len(block)-1]
}

// recordSuccess stores the pair in the retrieval store, asynchronously when
// configured. Async records drain on Shutdown.
func (e *Engine) recordSuccess(cfg *config.Config, subs subsystems, connectionID string, handle *datasource.Handle, snap *schema.Snapshot, question, sql string, enabled enabledSet) {
	if !enabled.retrieval {
		return
	}

	rec := retrieval.Record{
		UserQuery:    question,
		SQLQuery:     sql,
		ConnectionID: connectionID,
		Dialect:      string(handle.Dialect()),
		SchemaName:   snap.DatabaseName,
		Success:      true,
	}

	store := func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Warn("retrieval record panicked", zap.Any("panic", r))
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := subs.retrieval.Record(ctx, rec); err != nil && !errors.Is(err, apperrors.ErrDisabled) {
			e.logger.Warn("retrieval record failed", zap.Error(err))
		}
	}

	if cfg.Engine.AsyncRecord {
		e.recordWG.Add(1)
		go func() {
			defer e.recordWG.Done()
			store()
		}()
		return
	}
	store()
}

// fail builds the caller-facing error with the full attempt trace.
func (e *Engine) fail(qs *queryState, err error) *QueryError {
	qe := &QueryError{
		Kind:     apperrors.KindOf(err),
		Attempts: qs.history,
	}
	if err != nil {
		qe.Message = err.Error()
	}
	if qs.lastSQL != "" || qs.lastExplain != "" {
		qe.Partial = &Partial{SQL: qs.lastSQL, Explanation: qs.lastExplain}
	}
	return qe
}

// narrowTables merges the analyzer's table evidence into the focused set.
// Falls back to the caller's restriction when analysis found nothing.
func narrowTables(mentioned, suggested, fallback []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range [][]string{mentioned, suggested} {
		for _, t := range list {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// Shutdown drains in-flight async records.
func (e *Engine) Shutdown() {
	e.recordWG.Wait()
}

// SwapProvider installs a new LLM provider and budgeter. Used by the reload
// coordinator; in-flight queries keep the instances they started with.
func (e *Engine) SwapProvider(provider llm.Provider, budgeter *budget.Budgeter) {
	e.mu.Lock()
	e.provider = provider
	e.budgeter = budgeter
	e.mu.Unlock()
}

// SwapSubsystems installs rebuilt ontology, graph, and retrieval instances.
// Nil arguments keep the current instance. The very next query picks them
// up; in-flight queries finish on the instances they started with.
func (e *Engine) SwapSubsystems(ontologySvc *ontology.Service, graphSvc *graph.Service, retrievalStore *retrieval.Store) {
	e.mu.Lock()
	if ontologySvc != nil {
		e.ontology = ontologySvc
	}
	if graphSvc != nil {
		e.graph = graphSvc
	}
	if retrievalStore != nil {
		e.retrieval = retrievalStore
	}
	e.mu.Unlock()
}

// ReleaseHandle forgets per-connection engine state: the serialization lock
// and the cached snapshot. Call when a connection is closed so the maps do
// not grow with every handle ever seen.
func (e *Engine) ReleaseHandle(connectionID string) {
	e.mu.Lock()
	delete(e.locks, connectionID)
	e.mu.Unlock()
	e.snapshots.Invalidate(connectionID)
}
