// Package reload applies configuration changes to live subsystems without
// a restart. Reload is best-effort: when a subsystem fails to reinitialize,
// the previous instance stays active and the failure is logged.
package reload

import (
	"context"

	"go.uber.org/zap"

	"github.com/sqlsage-io/sqlsage-engine/pkg/budget"
	"github.com/sqlsage-io/sqlsage-engine/pkg/config"
	"github.com/sqlsage-io/sqlsage-engine/pkg/engine"
	"github.com/sqlsage-io/sqlsage-engine/pkg/graph"
	"github.com/sqlsage-io/sqlsage-engine/pkg/llm"
	"github.com/sqlsage-io/sqlsage-engine/pkg/ontology"
	"github.com/sqlsage-io/sqlsage-engine/pkg/retrieval"
)

// Coordinator owns the live subsystem instances and swaps them when the
// configuration changes. In-flight queries keep the instances they started
// with; the next query sees the new set.
type Coordinator struct {
	cfgStore *config.Store
	eng      *engine.Engine
	logger   *zap.Logger

	provider  llm.Provider
	embedder  llm.Embedder
	budgeter  *budget.Budgeter
	ontology  *ontology.Service
	graphSvc  *graph.Service
	retrieval *retrieval.Store
	backend   retrieval.VectorBackend
}

// New creates a coordinator over the current instances.
func New(
	cfgStore *config.Store,
	eng *engine.Engine,
	provider llm.Provider,
	embedder llm.Embedder,
	budgeter *budget.Budgeter,
	ontologySvc *ontology.Service,
	graphSvc *graph.Service,
	retrievalStore *retrieval.Store,
	backend retrieval.VectorBackend,
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		cfgStore:  cfgStore,
		eng:       eng,
		logger:    logger.Named("reload"),
		provider:  provider,
		embedder:  embedder,
		budgeter:  budgeter,
		ontology:  ontologySvc,
		graphSvc:  graphSvc,
		retrieval: retrievalStore,
		backend:   backend,
	}
}

// Apply validates and installs the new configuration, then reinitializes
// only the subsystems whose sections changed.
func (c *Coordinator) Apply(ctx context.Context, next *config.Config) error {
	prev := c.cfgStore.Current()
	if err := c.cfgStore.Swap(next); err != nil {
		return err
	}

	llmChanged := prev.LLM != next.LLM
	budgetChanged := llmChanged || prev.Budget != next.Budget

	if llmChanged {
		provider, err := llm.NewProvider(&next.LLM, c.logger)
		if err != nil {
			// Previous provider stays active.
			c.logger.Error("llm provider reload failed, keeping previous", zap.Error(err))
		} else {
			c.provider = provider
			c.logger.Info("llm provider reloaded",
				zap.String("provider", next.LLM.Provider),
				zap.String("model", next.LLM.Model))
		}

		embedder, err := llm.NewEmbedder(&next.LLM, c.logger)
		if err != nil {
			c.logger.Error("embedder reload failed, keeping previous", zap.Error(err))
		} else {
			c.embedder = embedder
		}
	}

	if budgetChanged {
		c.budgeter = budget.New(next.LLM.MaxContextTokens, next.Budget.StrategyOverride)
		c.logger.Info("budgeter rebuilt",
			zap.Int("max_context_tokens", next.LLM.MaxContextTokens),
			zap.String("strategy", string(c.budgeter.Strategy())))
	}

	ontologyChanged := prev.Ontology != next.Ontology || llmChanged
	graphChanged := prev.Graph != next.Graph
	retrievalChanged := prev.Retrieval != next.Retrieval || llmChanged

	if ontologyChanged {
		svc := ontology.NewService(next.Ontology, c.provider, c.logger)
		// A pure toggle or provider swap does not change what an already
		// generated ontology would contain; carry the cache over so active
		// connections keep their ontologies.
		if generationUnchanged(prev, next) {
			carryOntologies(c.ontology, svc)
		}
		c.ontology = svc
		c.logger.Info("ontology service reloaded", zap.Bool("enabled", next.Ontology.Enabled))
	}

	if graphChanged {
		old := c.graphSvc
		c.graphSvc = graph.NewService(ctx, next.Graph, c.logger)
		if old != nil {
			if err := old.Close(ctx); err != nil {
				c.logger.Warn("closing previous graph backend failed", zap.Error(err))
			}
		}
		c.logger.Info("graph service reloaded",
			zap.Bool("enabled", next.Graph.Enabled),
			zap.String("backend", next.Graph.Backend))
	}

	if retrievalChanged {
		c.retrieval = retrieval.NewStore(next.Retrieval, c.backend, c.embedder, c.logger)
		c.logger.Info("retrieval store reloaded", zap.Bool("enabled", next.Retrieval.Enabled))
	}

	if c.eng != nil {
		if llmChanged || budgetChanged {
			c.eng.SwapProvider(c.provider, c.budgeter)
		}
		if ontologyChanged || graphChanged || retrievalChanged {
			var o *ontology.Service
			var g *graph.Service
			var r *retrieval.Store
			if ontologyChanged {
				o = c.ontology
			}
			if graphChanged {
				g = c.graphSvc
			}
			if retrievalChanged {
				r = c.retrieval
			}
			c.eng.SwapSubsystems(o, g, r)
		}
	}
	return nil
}

// generationUnchanged reports whether the ontology change affects what a
// generation run would produce. Enable/disable flips and persistence
// settings do not; mode, static path and the concept cap do.
func generationUnchanged(prev, next *config.Config) bool {
	return prev.Ontology.Mode == next.Ontology.Mode &&
		prev.Ontology.StaticPath == next.Ontology.StaticPath &&
		prev.Ontology.MaxConcepts == next.Ontology.MaxConcepts &&
		prev.LLM == next.LLM
}

// carryOntologies moves cached ontologies from the old service to the new
// one so active connections are not regenerated.
func carryOntologies(old, next *ontology.Service) {
	if old == nil || next == nil {
		return
	}
	next.Adopt(old.Snapshot())
}

// Provider returns the live provider.
func (c *Coordinator) Provider() llm.Provider { return c.provider }

// Budgeter returns the live budgeter.
func (c *Coordinator) Budgeter() *budget.Budgeter { return c.budgeter }

// Ontology returns the live ontology service.
func (c *Coordinator) Ontology() *ontology.Service { return c.ontology }

// Graph returns the live graph service.
func (c *Coordinator) Graph() *graph.Service { return c.graphSvc }

// Retrieval returns the live retrieval store.
func (c *Coordinator) Retrieval() *retrieval.Store { return c.retrieval }
