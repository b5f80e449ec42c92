package ontology

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sqlsage-io/sqlsage-engine/pkg/apperrors"
	"github.com/sqlsage-io/sqlsage-engine/pkg/config"
	"github.com/sqlsage-io/sqlsage-engine/pkg/llm"
	"github.com/sqlsage-io/sqlsage-engine/pkg/schema"
)

// Service caches one ontology per connection, regenerating when the schema
// fingerprint changes. Concurrent first requests for the same connection
// collapse into a single generation via singleflight.
type Service struct {
	cfg       config.OntologyConfig
	generator *Generator
	logger    *zap.Logger

	mu    sync.RWMutex
	cache map[string]*Ontology // keyed by connection_id

	group singleflight.Group
}

// NewService creates an ontology service.
func NewService(cfg config.OntologyConfig, provider llm.Provider, logger *zap.Logger) *Service {
	return &Service{
		cfg:       cfg,
		generator: NewGenerator(provider, cfg.MaxConcepts, logger),
		logger:    logger.Named("ontology-service"),
		cache:     make(map[string]*Ontology),
	}
}

// Get returns the ontology for the connection, generating (or loading, in
// static mode) on a miss or on fingerprint mismatch. Returns
// apperrors.ErrDisabled when the ontology layer is turned off.
func (s *Service) Get(ctx context.Context, connectionID string, snap *schema.Snapshot) (*Ontology, error) {
	if !s.cfg.Enabled {
		return nil, apperrors.ErrDisabled
	}

	fingerprint := schema.Fingerprint(snap)

	s.mu.RLock()
	cached, ok := s.cache[connectionID]
	s.mu.RUnlock()
	if ok && cached.SchemaFingerprint == fingerprint {
		return cached, nil
	}
	if ok {
		s.logger.Info("schema fingerprint changed, regenerating ontology",
			zap.String("connection_id", connectionID))
	}

	// One generation per connection_id at a time; concurrent callers share
	// the result.
	v, err, _ := s.group.Do(connectionID, func() (any, error) {
		s.mu.RLock()
		current, ok := s.cache[connectionID]
		s.mu.RUnlock()
		if ok && current.SchemaFingerprint == fingerprint {
			return current, nil
		}
		return s.build(ctx, connectionID, snap, fingerprint)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Ontology), nil
}

func (s *Service) build(ctx context.Context, connectionID string, snap *schema.Snapshot, fingerprint string) (*Ontology, error) {
	var (
		o   *Ontology
		err error
	)
	switch s.cfg.Mode {
	case "static":
		o, err = LoadYAML(s.cfg.StaticPath)
		if err != nil {
			return nil, fmt.Errorf("load static ontology: %w", err)
		}
		o.ConnectionID = connectionID
		// A static ontology may describe columns the live schema no longer
		// has; prune so the binding invariant holds.
		if removed := o.Prune(snap); removed > 0 {
			s.logger.Warn("pruned stale static ontology properties",
				zap.String("connection_id", connectionID),
				zap.Int("removed", removed))
		}
		o.SchemaFingerprint = fingerprint
	default:
		o, err = s.generator.Generate(ctx, connectionID, snap)
		if err != nil {
			return nil, err
		}
	}

	s.logger.Info("ontology ready",
		zap.String("connection_id", connectionID),
		zap.Int("concepts", len(o.Concepts)),
		zap.Int("properties", len(o.Properties)),
		zap.Int("relationships", len(o.Relationships)))

	if s.cfg.PersistDir != "" {
		if err := s.persist(o); err != nil {
			s.logger.Warn("ontology persist failed", zap.Error(err))
		}
	}

	s.mu.Lock()
	s.cache[connectionID] = o
	s.mu.Unlock()
	return o, nil
}

func (s *Service) persist(o *Ontology) error {
	if s.cfg.PersistFormat == "owl" {
		_, err := SaveOWL(s.cfg.PersistDir, o)
		return err
	}
	_, err := SaveYAML(s.cfg.PersistDir, o)
	return err
}

// Resolve maps a question to column hints against the cached ontology.
func (s *Service) Resolve(ctx context.Context, connectionID, question string, snap *schema.Snapshot) (*ResolutionResult, error) {
	o, err := s.Get(ctx, connectionID, snap)
	if err != nil {
		return nil, err
	}
	return Resolve(question, o, snap), nil
}

// Cached returns the cached ontology without triggering generation.
func (s *Service) Cached(connectionID string) (*Ontology, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.cache[connectionID]
	return o, ok
}

// Snapshot returns a copy of the cache for handover during reload.
func (s *Service) Snapshot() map[string]*Ontology {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*Ontology, len(s.cache))
	for k, v := range s.cache {
		out[k] = v
	}
	return out
}

// Adopt merges previously cached ontologies into this service. Used by the
// reload coordinator to carry ontologies across a settings change that does
// not affect generation.
func (s *Service) Adopt(ontologies map[string]*Ontology) {
	s.mu.Lock()
	for k, v := range ontologies {
		if _, exists := s.cache[k]; !exists {
			s.cache[k] = v
		}
	}
	s.mu.Unlock()
}

// Invalidate drops the cached ontology for a connection. Called when the
// datasource disconnects.
func (s *Service) Invalidate(connectionID string) {
	s.mu.Lock()
	delete(s.cache, connectionID)
	s.mu.Unlock()
}

// InvalidateAll drops every cached ontology.
func (s *Service) InvalidateAll() {
	s.mu.Lock()
	s.cache = make(map[string]*Ontology)
	s.mu.Unlock()
}
