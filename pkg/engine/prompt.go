package engine

import (
	"strings"

	"github.com/sqlsage-io/sqlsage-engine/pkg/adapters/datasource"
	"github.com/sqlsage-io/sqlsage-engine/pkg/budget"
	"github.com/sqlsage-io/sqlsage-engine/pkg/llm"
	"github.com/sqlsage-io/sqlsage-engine/pkg/schema"
)

// jsonContract is the response-shape reminder appended to every prompt.
const jsonContract = `Respond with a single JSON object: {"sql": "<one SQL statement>", "explanation": "<one sentence>"}. No markdown, no prose outside the JSON.`

// promptInput carries the per-attempt section content. Empty sections are
// omitted from the assembled prompt.
type promptInput struct {
	idioms         datasource.Idioms
	snap           *schema.Snapshot
	question       string
	ontologyBlock  string
	graphBlock     string
	retrievalBlock string

	// retry-only
	failedSQL  string
	errMessage string
	hints      []string
	quoteLimit int
}

// buildPrompt assembles the messages in the fixed order: system, ontology
// context, graph insights, retrieval examples, focused schema, error block
// on retries, the question, then the JSON contract. Every section passes
// through the budgeter before inclusion.
func buildPrompt(b *budget.Budgeter, in promptInput, qs *queryState) ([]llm.Message, int) {
	system := b.FormatSystem(in.idioms.Rules())

	var sections []string
	if qs.attempt == 0 {
		// Retrieval and graph context are first-attempt only; retry
		// prompts must shrink.
		var conv []string
		if in.ontologyBlock != "" {
			conv = append(conv, in.ontologyBlock)
		}
		if in.graphBlock != "" {
			conv = append(conv, in.graphBlock)
		}
		if in.retrievalBlock != "" {
			conv = append(conv, in.retrievalBlock)
		}
		if len(conv) > 0 {
			sections = append(sections, b.FormatConversation(conv))
		}
	} else if in.ontologyBlock != "" {
		sections = append(sections, b.FormatConversation([]string{in.ontologyBlock}))
	}

	schemaBlock := b.FormatSchema(in.snap, budget.SchemaOptions{
		FullTypes: qs.forceFullTypes,
		Tables:    qs.focusedTables,
	})
	sections = append(sections, "Schema:\n"+schemaBlock)

	if qs.attempt > 0 && in.errMessage != "" {
		sections = append(sections, b.FormatError(in.failedSQL, in.errMessage, in.hints, in.quoteLimit))
	}

	sections = append(sections, "Question: "+in.question)
	sections = append(sections, jsonContract)

	user := strings.Join(sections, "\n\n")
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user},
	}
	return messages, promptTokens(messages)
}

// promptTokens estimates the total prompt size.
func promptTokens(messages []llm.Message) int {
	total := 0
	for _, m := range messages {
		total += budget.EstimateTokens(m.Content)
	}
	return total
}

// generatedSQL is the parsed model response.
type generatedSQL struct {
	SQL         string `json:"sql"`
	Explanation string `json:"explanation"`
}

// defaultAllowedKeywords are the verbs a generated statement may start with
// when the configuration names none.
var defaultAllowedKeywords = []string{"SELECT", "WITH", "SHOW", "EXPLAIN"}

// allowedVerbs normalizes the configured allow list, falling back to the
// default set.
func allowedVerbs(configured []string) []string {
	if len(configured) == 0 {
		return defaultAllowedKeywords
	}
	out := make([]string, 0, len(configured))
	for _, kw := range configured {
		kw = strings.ToUpper(strings.TrimSpace(kw))
		if kw != "" {
			out = append(out, kw)
		}
	}
	if len(out) == 0 {
		return defaultAllowedKeywords
	}
	return out
}

// startsWithAllowedKeyword checks the statement's first word against the
// allow list.
func startsWithAllowedKeyword(sql string, allowed []string) bool {
	fields := strings.Fields(strings.ToUpper(strings.TrimSpace(sql)))
	if len(fields) == 0 {
		return false
	}
	for _, kw := range allowed {
		if fields[0] == kw {
			return true
		}
	}
	return false
}
