package ontology

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/sqlsage-io/sqlsage-engine/pkg/llm"
	"github.com/sqlsage-io/sqlsage-engine/pkg/schema"
)

// DefaultMaxConcepts caps how many concepts a generated ontology may carry.
const DefaultMaxConcepts = 20

// Generator runs the three-phase LLM extraction: concepts, then properties
// per concept, then relationships.
type Generator struct {
	provider    llm.Provider
	maxConcepts int
	logger      *zap.Logger
}

// NewGenerator creates an ontology generator.
func NewGenerator(provider llm.Provider, maxConcepts int, logger *zap.Logger) *Generator {
	if maxConcepts <= 0 {
		maxConcepts = DefaultMaxConcepts
	}
	return &Generator{
		provider:    provider,
		maxConcepts: maxConcepts,
		logger:      logger.Named("ontology-generator"),
	}
}

// Generate builds an ontology from the snapshot. Concepts referencing
// unknown tables and properties referencing unknown columns are discarded;
// the result always satisfies the snapshot-binding invariant.
func (g *Generator) Generate(ctx context.Context, connectionID string, snap *schema.Snapshot) (*Ontology, error) {
	concepts, err := g.extractConcepts(ctx, snap)
	if err != nil {
		return nil, fmt.Errorf("concept extraction: %w", err)
	}

	var properties []Property
	for i := range concepts {
		props, err := g.mapProperties(ctx, snap, &concepts[i])
		if err != nil {
			// A single concept failing must not discard the rest.
			g.logger.Warn("property mapping failed",
				zap.String("concept", concepts[i].Name),
				zap.Error(err))
			continue
		}
		properties = append(properties, props...)
	}

	relationships, err := g.extractRelationships(ctx, snap, concepts)
	if err != nil {
		g.logger.Warn("relationship extraction failed", zap.Error(err))
		relationships = fkRelationships(snap, concepts)
	}

	return &Ontology{
		Database:          snap.DatabaseName,
		ConnectionID:      connectionID,
		Concepts:          concepts,
		Properties:        properties,
		Relationships:     relationships,
		GeneratedAt:       time.Now().UTC(),
		SchemaFingerprint: schema.Fingerprint(snap),
	}, nil
}

// ---------------------------------------------------------------------------
// Phase 1: concept extraction
// ---------------------------------------------------------------------------

type rawConcept struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tables      []string `json:"tables"`
	Synonyms    []string `json:"synonyms"`
}

func (g *Generator) extractConcepts(ctx context.Context, snap *schema.Snapshot) ([]Concept, error) {
	tableNames := snap.TableNames()

	var sb strings.Builder
	sb.WriteString("Identify the business concepts in this database. Tables:\n")
	for _, name := range tableNames {
		sb.WriteString("- " + name + "\n")
	}
	fmt.Fprintf(&sb, `
Return a JSON array of at most %d concepts. Each concept:
{"name": "PascalCaseNoun", "description": "...", "tables": ["..."], "synonyms": ["..."]}
Only use these exact table names. Do not invent tables.`, g.maxConcepts)

	raw, err := g.provider.CompleteJSON(ctx,
		[]llm.Message{
			{Role: llm.RoleSystem, Content: "You are a data modeling expert. Respond with JSON only."},
			{Role: llm.RoleUser, Content: sb.String()},
		},
		llm.Params{Temperature: 0.2},
		`[{"name": "string", "description": "string", "tables": ["string"], "synonyms": ["string"]}]`)
	if err != nil {
		return nil, err
	}

	var rawConcepts []rawConcept
	if err := json.Unmarshal(raw, &rawConcepts); err != nil {
		return nil, fmt.Errorf("unmarshal concepts: %w", err)
	}

	concepts := make([]Concept, 0, len(rawConcepts))
	for _, rc := range rawConcepts {
		if len(rc.Tables) == 0 {
			continue
		}
		if rc.Name == "" {
			rc.Name = FallbackConceptName(rc.Tables[0])
		}
		// Hard constraint: every referenced table must exist in the
		// snapshot, otherwise the whole concept is discarded.
		valid := true
		for _, t := range rc.Tables {
			if snap.Table(t) == nil {
				g.logger.Debug("discarding concept with unknown table",
					zap.String("concept", rc.Name),
					zap.String("table", t))
				valid = false
				break
			}
		}
		if !valid {
			continue
		}

		concepts = append(concepts, Concept{
			Name:        rc.Name,
			Description: rc.Description,
			Tables:      rc.Tables,
			Synonyms:    rc.Synonyms,
		})
		if len(concepts) >= g.maxConcepts {
			break
		}
	}
	return concepts, nil
}

// ---------------------------------------------------------------------------
// Phase 2: property mapping
// ---------------------------------------------------------------------------

type rawProperty struct {
	Table           string  `json:"table"`
	Column          string  `json:"column"`
	PropertyName    string  `json:"property_name"`
	SemanticMeaning string  `json:"semantic_meaning"`
	Confidence      float64 `json:"confidence"`
}

func (g *Generator) mapProperties(ctx context.Context, snap *schema.Snapshot, concept *Concept) ([]Property, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Map the columns of concept %q to named properties. Tables and columns:\n", concept.Name)
	for _, tableName := range concept.Tables {
		t := snap.Table(tableName)
		if t == nil {
			continue
		}
		fmt.Fprintf(&sb, "%s:\n", t.TableName)
		for _, c := range t.Columns {
			fmt.Fprintf(&sb, "  - %s (%s)\n", c.Name, c.DataType)
		}
	}
	sb.WriteString(`
Return a JSON array. Each entry:
{"table": "...", "column": "...", "property_name": "compoundtoken", "semantic_meaning": "...", "confidence": 0.0-1.0}
property_name is a single lowercase compound token such as "vendorname" or "orderdate".
Only use the listed tables and columns.`)

	raw, err := g.provider.CompleteJSON(ctx,
		[]llm.Message{
			{Role: llm.RoleSystem, Content: "You are a data modeling expert. Respond with JSON only."},
			{Role: llm.RoleUser, Content: sb.String()},
		},
		llm.Params{Temperature: 0.2},
		`[{"table": "string", "column": "string", "property_name": "string", "semantic_meaning": "string", "confidence": 0.9}]`)
	if err != nil {
		return nil, err
	}

	var rawProps []rawProperty
	if err := json.Unmarshal(raw, &rawProps); err != nil {
		return nil, fmt.Errorf("unmarshal properties: %w", err)
	}

	props := make([]Property, 0, len(rawProps))
	for _, rp := range rawProps {
		// Discard mappings referring to unknown tables or columns.
		if !snap.HasColumn(rp.Table, rp.Column) {
			g.logger.Debug("discarding property with unknown column",
				zap.String("table", rp.Table),
				zap.String("column", rp.Column))
			continue
		}
		if rp.PropertyName == "" {
			continue
		}
		conf := rp.Confidence
		if conf < 0 {
			conf = 0
		}
		if conf > 1 {
			conf = 1
		}
		props = append(props, Property{
			Concept:         concept.Name,
			PropertyName:    strings.ToLower(rp.PropertyName),
			Table:           rp.Table,
			Column:          rp.Column,
			SemanticMeaning: rp.SemanticMeaning,
			Confidence:      conf,
		})
	}
	return props, nil
}

// ---------------------------------------------------------------------------
// Phase 3: relationship extraction
// ---------------------------------------------------------------------------

type rawRelationship struct {
	FromConcept string  `json:"from_concept"`
	ToConcept   string  `json:"to_concept"`
	Type        string  `json:"type"`
	ViaTable    string  `json:"via_table"`
	Confidence  float64 `json:"confidence"`
}

func (g *Generator) extractRelationships(ctx context.Context, snap *schema.Snapshot, concepts []Concept) ([]Relationship, error) {
	candidates := fkRelationships(snap, concepts)

	var sb strings.Builder
	sb.WriteString("Classify relationships between these concepts:\n")
	for _, c := range concepts {
		fmt.Fprintf(&sb, "- %s (tables: %s)\n", c.Name, strings.Join(c.Tables, ", "))
	}
	sb.WriteString("\nForeign-key derived candidates:\n")
	for _, r := range candidates {
		fmt.Fprintf(&sb, "- %s -> %s via %s\n", r.FromConcept, r.ToConcept, r.ViaTable)
	}
	sb.WriteString(`
Name and classify each candidate, and add relationships implied by naming
conventions that foreign keys miss. Allowed types: references, belongs_to,
has_many, associated_with.
Return a JSON array:
{"from_concept": "...", "to_concept": "...", "type": "...", "via_table": "...", "confidence": 0.0-1.0}`)

	raw, err := g.provider.CompleteJSON(ctx,
		[]llm.Message{
			{Role: llm.RoleSystem, Content: "You are a data modeling expert. Respond with JSON only."},
			{Role: llm.RoleUser, Content: sb.String()},
		},
		llm.Params{Temperature: 0.2},
		`[{"from_concept": "string", "to_concept": "string", "type": "references", "via_table": "string", "confidence": 0.8}]`)
	if err != nil {
		return nil, err
	}

	var rawRels []rawRelationship
	if err := json.Unmarshal(raw, &rawRels); err != nil {
		return nil, fmt.Errorf("unmarshal relationships: %w", err)
	}

	known := make(map[string]bool, len(concepts))
	for _, c := range concepts {
		known[c.Name] = true
	}

	rels := make([]Relationship, 0, len(rawRels))
	for _, rr := range rawRels {
		// Each relationship must reference two existing concepts.
		if !known[rr.FromConcept] || !known[rr.ToConcept] {
			continue
		}
		switch rr.Type {
		case RelReferences, RelBelongsTo, RelHasMany, RelAssociatedWith:
		default:
			rr.Type = RelAssociatedWith
		}
		rels = append(rels, Relationship{
			FromConcept: rr.FromConcept,
			ToConcept:   rr.ToConcept,
			Type:        rr.Type,
			ViaTable:    rr.ViaTable,
			Confidence:  rr.Confidence,
		})
	}
	return rels, nil
}

// fkRelationships derives one candidate relationship per foreign key,
// mapping tables to the concepts that realize them.
func fkRelationships(snap *schema.Snapshot, concepts []Concept) []Relationship {
	conceptByTable := make(map[string]string)
	for _, c := range concepts {
		for _, t := range c.Tables {
			conceptByTable[strings.ToLower(t)] = c.Name
		}
	}

	var rels []Relationship
	seen := make(map[string]bool)
	for _, t := range snap.Tables {
		from := conceptByTable[strings.ToLower(t.TableName)]
		if from == "" {
			continue
		}
		for _, fk := range t.ForeignKeys {
			to := conceptByTable[strings.ToLower(fk.RefTable)]
			if to == "" || to == from {
				continue
			}
			key := from + "\x00" + to + "\x00" + t.TableName
			if seen[key] {
				continue
			}
			seen[key] = true
			rels = append(rels, Relationship{
				FromConcept: from,
				ToConcept:   to,
				Type:        RelReferences,
				ViaTable:    t.TableName,
				Confidence:  0.8,
			})
		}
	}
	return rels
}

// FallbackConceptName derives a PascalCase concept name from a table name
// when the model omits one: "purchase_orders" becomes "PurchaseOrder".
func FallbackConceptName(tableName string) string {
	parts := strings.Split(strings.ToLower(tableName), "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		p = inflection.Singular(p)
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, "")
}
