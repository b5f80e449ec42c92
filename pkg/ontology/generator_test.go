package ontology

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sqlsage-io/sqlsage-engine/pkg/llm"
)

// phaseMock answers the three generation phases in order by sniffing the
// prompt text.
func phaseMock(concepts, properties, relationships string) *llm.MockProvider {
	m := llm.NewMockProvider()
	m.CompleteJSONFunc = func(_ context.Context, messages []llm.Message, _ llm.Params, _ string) (json.RawMessage, error) {
		prompt := messages[len(messages)-1].Content
		switch {
		case strings.Contains(prompt, "business concepts"):
			return json.RawMessage(concepts), nil
		case strings.Contains(prompt, "Map the columns"):
			return json.RawMessage(properties), nil
		default:
			return json.RawMessage(relationships), nil
		}
	}
	return m
}

func TestGenerateDiscardsUnknownTables(t *testing.T) {
	mock := phaseMock(
		`[
			{"name": "Vendor", "description": "supplier", "tables": ["purchase_order"], "synonyms": ["supplier"]},
			{"name": "Invoice", "description": "hallucinated", "tables": ["invoices"], "synonyms": []}
		]`,
		`[{"table": "purchase_order", "column": "vendorgroup", "property_name": "vendorname", "semantic_meaning": "supplier name", "confidence": 0.9}]`,
		`[]`,
	)

	g := NewGenerator(mock, 20, zap.NewNop())
	o, err := g.Generate(context.Background(), "erp_h_5432", vendorSnapshot())
	require.NoError(t, err)

	require.Len(t, o.Concepts, 1)
	assert.Equal(t, "Vendor", o.Concepts[0].Name)
	assert.NotEmpty(t, o.SchemaFingerprint)
}

func TestGenerateDiscardsUnknownColumns(t *testing.T) {
	mock := phaseMock(
		`[{"name": "Vendor", "description": "", "tables": ["purchase_order"], "synonyms": []}]`,
		`[
			{"table": "purchase_order", "column": "vendorgroup", "property_name": "vendorname", "confidence": 0.9},
			{"table": "purchase_order", "column": "no_such_column", "property_name": "ghost", "confidence": 0.9}
		]`,
		`[]`,
	)

	g := NewGenerator(mock, 20, zap.NewNop())
	o, err := g.Generate(context.Background(), "erp_h_5432", vendorSnapshot())
	require.NoError(t, err)

	require.Len(t, o.Properties, 1)
	assert.Equal(t, "vendorgroup", o.Properties[0].Column)
}

func TestGenerateNamesUnnamedConceptsFromTable(t *testing.T) {
	mock := phaseMock(
		`[{"name": "", "description": "supplier orders", "tables": ["purchase_order"], "synonyms": []}]`,
		`[]`,
		`[]`,
	)

	g := NewGenerator(mock, 20, zap.NewNop())
	o, err := g.Generate(context.Background(), "erp_h_5432", vendorSnapshot())
	require.NoError(t, err)

	require.Len(t, o.Concepts, 1)
	assert.Equal(t, "PurchaseOrder", o.Concepts[0].Name,
		"a concept the model left unnamed takes its first table's derived name")
}

func TestGenerateCapsConcepts(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("[")
	for i := 0; i < 10; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(`{"name": "C` + string(rune('A'+i)) + `", "tables": ["purchase_order"]}`)
	}
	sb.WriteString("]")

	mock := phaseMock(sb.String(), `[]`, `[]`)
	g := NewGenerator(mock, 3, zap.NewNop())
	o, err := g.Generate(context.Background(), "erp_h_5432", vendorSnapshot())
	require.NoError(t, err)
	assert.Len(t, o.Concepts, 3)
}

func TestGenerateRelationshipsRequireKnownConcepts(t *testing.T) {
	mock := phaseMock(
		`[{"name": "Vendor", "tables": ["purchase_order"]}]`,
		`[]`,
		`[
			{"from_concept": "Vendor", "to_concept": "Vendor", "type": "references", "via_table": "purchase_order", "confidence": 0.8},
			{"from_concept": "Vendor", "to_concept": "Phantom", "type": "references", "via_table": "x", "confidence": 0.8}
		]`,
	)

	g := NewGenerator(mock, 20, zap.NewNop())
	o, err := g.Generate(context.Background(), "erp_h_5432", vendorSnapshot())
	require.NoError(t, err)

	require.Len(t, o.Relationships, 1)
	assert.Equal(t, "Vendor", o.Relationships[0].ToConcept)
}

func TestGenerateUnknownRelationshipTypeNormalized(t *testing.T) {
	mock := phaseMock(
		`[{"name": "Vendor", "tables": ["purchase_order"]}]`,
		`[]`,
		`[{"from_concept": "Vendor", "to_concept": "Vendor", "type": "made_up", "confidence": 0.5}]`,
	)

	g := NewGenerator(mock, 20, zap.NewNop())
	o, err := g.Generate(context.Background(), "erp_h_5432", vendorSnapshot())
	require.NoError(t, err)
	require.Len(t, o.Relationships, 1)
	assert.Equal(t, RelAssociatedWith, o.Relationships[0].Type)
}

func TestFallbackConceptName(t *testing.T) {
	tests := []struct {
		table string
		want  string
	}{
		{table: "purchase_orders", want: "PurchaseOrder"},
		{table: "users", want: "User"},
		{table: "order_line_items", want: "OrderLineItem"},
		{table: "wue", want: "Wue"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FallbackConceptName(tt.table), tt.table)
	}
}
