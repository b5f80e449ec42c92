package budget

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sqlsage-io/sqlsage-engine/pkg/schema"
)

// SchemaOptions tunes the schema section beyond what the strategy dictates.
type SchemaOptions struct {
	// FullTypes forces full column types regardless of strategy. Set after
	// a type-mismatch error so the model sees both sides of the comparison.
	FullTypes bool

	// Tables restricts the section to the named tables (the focused set on
	// retries). Empty means all tables in the snapshot.
	Tables []string
}

// FormatSchema renders the schema section at the strategy's detail level:
// concise lists column names; semi adds types and key flags; expanded adds
// foreign-key targets; large adds sample rows.
func (b *Budgeter) FormatSchema(snap *schema.Snapshot, opts SchemaOptions) string {
	view := snap.Restrict(opts.Tables)

	var sb strings.Builder
	for i := range view.Tables {
		writeTable(&sb, &view.Tables[i], b.strategy, opts.FullTypes)
	}
	for i := range view.Views {
		sb.WriteString("view ")
		writeTable(&sb, &view.Views[i], b.strategy, opts.FullTypes)
	}

	return b.Fit(SectionSchema, strings.TrimRight(sb.String(), "\n"))
}

func writeTable(sb *strings.Builder, t *schema.TableInfo, strat Strategy, fullTypes bool) {
	if strat == StrategyConcise && !fullTypes {
		names := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			names[i] = c.Name
		}
		fmt.Fprintf(sb, "%s: %s\n", t.TableName, strings.Join(names, ", "))
		return
	}

	fkByColumn := make(map[string]schema.ForeignKey, len(t.ForeignKeys))
	for _, fk := range t.ForeignKeys {
		fkByColumn[strings.ToLower(fk.Column)] = fk
	}

	fmt.Fprintf(sb, "%s (\n", t.TableName)
	for _, c := range t.Columns {
		fmt.Fprintf(sb, "  %s %s", c.Name, c.DataType)
		if c.IsPrimaryKey {
			sb.WriteString(" PK")
		}
		if fk, ok := fkByColumn[strings.ToLower(c.Name)]; ok {
			if strat == StrategyExpanded || strat == StrategyLarge || fullTypes {
				fmt.Fprintf(sb, " FK->%s.%s", fk.RefTable, fk.RefColumn)
			} else {
				sb.WriteString(" FK")
			}
		}
		if !c.IsNullable {
			sb.WriteString(" NOT NULL")
		}
		sb.WriteString("\n")
	}
	sb.WriteString(")\n")

	if strat == StrategyLarge && len(t.SampleRows) > 0 {
		sb.WriteString("  sample rows:\n")
		for _, row := range t.SampleRows {
			sb.WriteString("    " + formatRow(row) + "\n")
		}
	}
}

// formatRow renders a sample row with stable key order.
func formatRow(row map[string]any) string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, row[k])
	}
	return strings.Join(parts, ", ")
}

// FormatSystem renders the system section: role instruction plus the
// dialect rules emitted verbatim.
func (b *Budgeter) FormatSystem(dialectRules []string) string {
	var sb strings.Builder
	sb.WriteString("You are an expert SQL generator. Produce a single read-only SQL statement answering the user's question against the provided schema.\n")
	for _, rule := range dialectRules {
		sb.WriteString("- " + rule + "\n")
	}
	return b.Fit(SectionSystem, strings.TrimRight(sb.String(), "\n"))
}

// FormatError renders the retry error block, quoting at most quoteLimit
// characters of the database error.
func (b *Budgeter) FormatError(failedSQL, errMsg string, hints []string, quoteLimit int) string {
	if quoteLimit > 0 && len(errMsg) > quoteLimit {
		errMsg = cutRuneSafe(errMsg, quoteLimit)
	}

	var sb strings.Builder
	sb.WriteString("The previous attempt failed.\n")
	if failedSQL != "" {
		sb.WriteString("Failed SQL: " + failedSQL + "\n")
	}
	sb.WriteString("Database error: " + errMsg + "\n")
	for _, h := range hints {
		sb.WriteString("- " + h + "\n")
	}
	return b.Fit(SectionError, strings.TrimRight(sb.String(), "\n"))
}

// FormatConversation renders retrieval examples and semantic context within
// the conversation share.
func (b *Budgeter) FormatConversation(blocks []string) string {
	joined := strings.Join(blocks, "\n\n")
	return b.Fit(SectionConversation, joined)
}
