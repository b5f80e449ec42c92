package ontology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlsage-io/sqlsage-engine/pkg/schema"
)

func vendorSnapshot() *schema.Snapshot {
	tables := []schema.TableInfo{
		{
			FullName:  "purchase_order",
			TableName: "purchase_order",
			Columns: []schema.ColumnInfo{
				{Name: "vendorgroup", DataType: "varchar"},
				{Name: "country", DataType: "varchar"},
				{Name: "totalinrpo", DataType: "numeric"},
			},
		},
	}
	return schema.Normalize("erp", schema.ConnectionInfo{Host: "h", Port: 5432, Database: "erp"}, tables, nil)
}

func vendorOntology() *Ontology {
	return &Ontology{
		Database:     "erp",
		ConnectionID: "erp_h_5432",
		Concepts: []Concept{
			{Name: "Vendor", Description: "a supplier", Tables: []string{"purchase_order"}, Synonyms: []string{"supplier"}},
		},
		Properties: []Property{
			{Concept: "Vendor", PropertyName: "vendorname", Table: "purchase_order", Column: "vendorgroup", Confidence: 0.9},
			{Concept: "Vendor", PropertyName: "vendorcountry", Table: "purchase_order", Column: "country", Confidence: 0.7},
		},
	}
}

func TestResolveVendorNameQuestion(t *testing.T) {
	snap := vendorSnapshot()
	res := Resolve("find all unique vendor names", vendorOntology(), snap)

	require.NotEmpty(t, res.Hints)
	assert.Equal(t, "purchase_order", res.Hints[0].Table)
	assert.Equal(t, "vendorgroup", res.Hints[0].Column)
	assert.Contains(t, res.Concepts, "Vendor")

	// Every hint must point at a real column.
	for _, h := range res.Hints {
		assert.True(t, snap.HasColumn(h.Table, h.Column), "%s.%s", h.Table, h.Column)
	}
}

func TestResolveCompactTokenMatch(t *testing.T) {
	// "vendor name" with a space must match the compound "vendorname".
	res := Resolve("what is the vendor name for order 7", vendorOntology(), vendorSnapshot())
	require.NotEmpty(t, res.Hints)
	assert.Equal(t, "vendorgroup", res.Hints[0].Column)
}

func TestResolveSynonymMatchesConcept(t *testing.T) {
	res := Resolve("list suppliers by country", vendorOntology(), vendorSnapshot())
	assert.Contains(t, res.Concepts, "Vendor")
}

func TestResolveShortWordsDoNotMatch(t *testing.T) {
	// Words under four characters must not trigger compound matching.
	res := Resolve("sum of all", vendorOntology(), vendorSnapshot())
	assert.Empty(t, res.Hints)
}

func TestResolveConfidenceFormula(t *testing.T) {
	o := vendorOntology()
	snap := vendorSnapshot()

	t.Run("no matches scores base", func(t *testing.T) {
		res := Resolve("zzz qqq", o, snap)
		assert.InDelta(t, 0.5, res.Confidence, 1e-9)
	})

	t.Run("concept and property matches add up", func(t *testing.T) {
		res := Resolve("find all unique vendor names", o, snap)
		// 0.5 base + 0.2 concept + 0.15 property + 0.15 * mean(conf)
		require.NotEmpty(t, res.Hints)
		mean := 0.0
		for _, h := range res.Hints {
			mean += h.Confidence
		}
		mean /= float64(len(res.Hints))
		assert.InDelta(t, 0.5+0.2+0.15+0.15*mean, res.Confidence, 1e-9)
	})

	t.Run("never reaches 1.0", func(t *testing.T) {
		boosted := vendorOntology()
		for i := range boosted.Properties {
			boosted.Properties[i].Confidence = 1.0
		}
		res := Resolve("find all unique vendor names", boosted, snap)
		assert.LessOrEqual(t, res.Confidence, 0.99)
	})
}

func TestResolveStaleHintsFilteredAgainstSnapshot(t *testing.T) {
	o := vendorOntology()
	o.Properties = append(o.Properties, Property{
		Concept: "Vendor", PropertyName: "vendorphone", Table: "purchase_order", Column: "phone", Confidence: 0.8,
	})

	res := Resolve("vendor phone", o, vendorSnapshot())
	for _, h := range res.Hints {
		assert.NotEqual(t, "phone", h.Column, "hints for missing columns must be dropped")
	}
}

func TestResolveNilOntology(t *testing.T) {
	res := Resolve("anything", nil, vendorSnapshot())
	assert.Empty(t, res.Hints)
	assert.Empty(t, res.Concepts)
}

func TestPrune(t *testing.T) {
	o := vendorOntology()
	o.Properties = append(o.Properties, Property{
		Concept: "Vendor", PropertyName: "ghost", Table: "dropped_table", Column: "x", Confidence: 0.5,
	})
	o.Concepts = append(o.Concepts, Concept{Name: "Ghost", Tables: []string{"dropped_table"}})
	o.Relationships = append(o.Relationships, Relationship{FromConcept: "Vendor", ToConcept: "Ghost", Type: RelReferences})

	removed := o.Prune(vendorSnapshot())
	assert.Equal(t, 1, removed)
	assert.Len(t, o.Concepts, 1)
	assert.Empty(t, o.Relationships, "relationships to pruned concepts drop")
}
