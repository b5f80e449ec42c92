// Package ontology builds and serves a domain ontology over a database
// schema: concepts, properties bound to concrete columns, and relationships.
// Generation is LLM-driven; resolution maps natural-language questions to
// column hints.
package ontology

import (
	"time"

	"github.com/sqlsage-io/sqlsage-engine/pkg/schema"
)

// Relationship types. Closed set.
const (
	RelReferences     = "references"
	RelBelongsTo      = "belongs_to"
	RelHasMany        = "has_many"
	RelAssociatedWith = "associated_with"
)

// Concept is a domain entity realized in one or more tables.
type Concept struct {
	Name        string   `json:"name" yaml:"name"` // PascalCase domain noun
	Description string   `json:"description" yaml:"description"`
	Tables      []string `json:"tables" yaml:"tables"`
	Synonyms    []string `json:"synonyms,omitempty" yaml:"synonyms,omitempty"`
}

// Property is a concept attribute mapped to one concrete (table, column).
type Property struct {
	Concept         string  `json:"concept" yaml:"concept"`
	PropertyName    string  `json:"property_name" yaml:"property_name"` // compound token such as "vendorname"
	Table           string  `json:"table" yaml:"table"`
	Column          string  `json:"column" yaml:"column"`
	SemanticMeaning string  `json:"semantic_meaning" yaml:"semantic_meaning"`
	Confidence      float64 `json:"confidence" yaml:"confidence"`
}

// Relationship links two concepts.
type Relationship struct {
	FromConcept string  `json:"from_concept" yaml:"from_concept"`
	ToConcept   string  `json:"to_concept" yaml:"to_concept"`
	Type        string  `json:"type" yaml:"type"`
	ViaTable    string  `json:"via_table,omitempty" yaml:"via_table,omitempty"`
	Confidence  float64 `json:"confidence" yaml:"confidence"`
}

// Ontology is bound to one connection_id. Every Property's (table, column)
// must exist in the current schema snapshot; stale properties are pruned on
// reload.
type Ontology struct {
	Database          string         `json:"database" yaml:"database"`
	ConnectionID      string         `json:"connection_id" yaml:"connection_id"`
	Concepts          []Concept      `json:"concepts" yaml:"concepts"`
	Properties        []Property     `json:"properties" yaml:"properties"`
	Relationships     []Relationship `json:"relationships" yaml:"relationships"`
	GeneratedAt       time.Time      `json:"generated_at" yaml:"generated_at"`
	SchemaFingerprint string         `json:"schema_fingerprint" yaml:"schema_fingerprint"`
}

// Concept returns the named concept, or nil.
func (o *Ontology) Concept(name string) *Concept {
	for i := range o.Concepts {
		if o.Concepts[i].Name == name {
			return &o.Concepts[i]
		}
	}
	return nil
}

// Prune drops properties whose (table, column) no longer exists in the
// snapshot, concepts with no surviving table, and relationships referencing
// dropped concepts. Returns the number of properties removed.
func (o *Ontology) Prune(snap *schema.Snapshot) int {
	kept := o.Properties[:0]
	removed := 0
	for _, p := range o.Properties {
		if snap.HasColumn(p.Table, p.Column) {
			kept = append(kept, p)
		} else {
			removed++
		}
	}
	o.Properties = kept

	keptConcepts := o.Concepts[:0]
	alive := make(map[string]bool)
	for _, c := range o.Concepts {
		var tables []string
		for _, t := range c.Tables {
			if snap.Table(t) != nil {
				tables = append(tables, t)
			}
		}
		if len(tables) > 0 {
			c.Tables = tables
			keptConcepts = append(keptConcepts, c)
			alive[c.Name] = true
		}
	}
	o.Concepts = keptConcepts

	keptRels := o.Relationships[:0]
	for _, r := range o.Relationships {
		if alive[r.FromConcept] && alive[r.ToConcept] {
			keptRels = append(keptRels, r)
		}
	}
	o.Relationships = keptRels

	return removed
}

// ColumnHint suggests that a specific column is relevant to the question.
type ColumnHint struct {
	Table      string  `json:"table"`
	Column     string  `json:"column"`
	Concept    string  `json:"concept"`
	Property   string  `json:"property"`
	Confidence float64 `json:"confidence"`
}

// ResolutionResult is the outcome of resolving a question against the
// ontology.
type ResolutionResult struct {
	Hints      []ColumnHint `json:"hints"`
	Concepts   []string     `json:"concepts"` // matched concept names
	Reasoning  string       `json:"reasoning"`
	Confidence float64      `json:"confidence"`
}
