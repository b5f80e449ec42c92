package ontology

import (
	"fmt"
	"strings"

	"github.com/sqlsage-io/sqlsage-engine/pkg/schema"
)

// minCompoundWordLen is the shortest question word considered for compound
// property matching. Shorter words ("id", "of") match almost everything.
const minCompoundWordLen = 4

// Resolve maps a natural-language question to column hints using the
// ontology. Matching is lexical, not LLM-driven, so it is cheap enough to
// run on every query. Every returned hint is guaranteed to reference a
// column present in the snapshot.
func Resolve(question string, o *Ontology, snap *schema.Snapshot) *ResolutionResult {
	res := &ResolutionResult{}
	if o == nil || question == "" {
		return res
	}

	q := strings.ToLower(question)
	qCompact := compactToken(q)
	qWords := questionWords(q)

	matchedConcepts := make(map[string]bool)
	for _, c := range o.Concepts {
		if conceptMatches(q, qWords, &c) {
			matchedConcepts[c.Name] = true
			res.Concepts = append(res.Concepts, c.Name)
		}
	}

	var propConfidences []float64
	seen := make(map[string]bool)
	propertyMatched := false
	for _, p := range o.Properties {
		how := propertyMatch(q, qCompact, qWords, &p)
		if how == "" {
			continue
		}
		if !snap.HasColumn(p.Table, p.Column) {
			continue
		}
		key := strings.ToLower(p.Table + "." + p.Column)
		if seen[key] {
			continue
		}
		seen[key] = true
		propertyMatched = true

		res.Hints = append(res.Hints, ColumnHint{
			Table:      p.Table,
			Column:     p.Column,
			Concept:    p.Concept,
			Property:   p.PropertyName,
			Confidence: p.Confidence,
		})
		propConfidences = append(propConfidences, p.Confidence)
		res.Reasoning += fmt.Sprintf("%s.%s matched via %s (%s); ", p.Table, p.Column, p.PropertyName, how)
	}

	res.Confidence = scoreResolution(len(matchedConcepts) > 0, propertyMatched, propConfidences)
	res.Reasoning = strings.TrimSuffix(res.Reasoning, "; ")
	return res
}

// scoreResolution combines the evidence kinds into one confidence value:
// a 0.5 base, 0.2 for a concept match, 0.15 for any property match and
// 0.15 weighted by the mean property confidence, clamped to [0, 0.99].
func scoreResolution(conceptMatched, propertyMatched bool, propConfidences []float64) float64 {
	score := 0.5
	if conceptMatched {
		score += 0.2
	}
	if propertyMatched {
		score += 0.15
	}
	if len(propConfidences) > 0 {
		sum := 0.0
		for _, c := range propConfidences {
			sum += c
		}
		score += 0.15 * (sum / float64(len(propConfidences)))
	}
	if score > 0.99 {
		score = 0.99
	}
	if score < 0 {
		score = 0
	}
	return score
}

func conceptMatches(q string, qWords []string, c *Concept) bool {
	name := strings.ToLower(c.Name)
	if strings.Contains(q, name) || strings.Contains(compactToken(q), name) {
		return true
	}
	for _, syn := range c.Synonyms {
		if syn != "" && strings.Contains(q, strings.ToLower(syn)) {
			return true
		}
	}
	// Singular/plural tolerance on whole question words.
	for _, w := range qWords {
		if w == name || w+"s" == name || w == name+"s" {
			return true
		}
	}
	return false
}

// propertyMatch reports how (if at all) the property matches the question.
// Three strategies, in order: the question contains the property name; the
// property name contains the question; a long-enough question word is a
// substring of the compound property name. Underscore-split tokens of the
// column name extend the third strategy.
func propertyMatch(q, qCompact string, qWords []string, p *Property) string {
	name := strings.ToLower(p.PropertyName)
	if name == "" {
		return ""
	}

	if strings.Contains(q, name) || strings.Contains(qCompact, name) {
		return "question contains property"
	}
	if strings.Contains(name, strings.TrimSpace(q)) {
		return "property contains question"
	}
	for _, w := range qWords {
		if len(w) < minCompoundWordLen {
			continue
		}
		if strings.Contains(name, w) {
			return "compound word match"
		}
		for _, tok := range strings.Split(strings.ToLower(p.Column), "_") {
			if len(tok) >= minCompoundWordLen && (tok == w || strings.Contains(w, tok) || strings.Contains(tok, w)) {
				return "column token match"
			}
		}
	}
	return ""
}

// compactToken strips spaces and punctuation so "vendor name" can match the
// compound property "vendorname".
func compactToken(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func questionWords(q string) []string {
	fields := strings.FieldsFunc(q, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_')
	})
	out := fields[:0]
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
