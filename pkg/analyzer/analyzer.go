// Package analyzer turns classified database errors into actionable
// guidance for the retry prompt: likely misspelled identifiers, cast
// suggestions for type mismatches, and a retry verdict.
package analyzer

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/agext/levenshtein"

	"github.com/sqlsage-io/sqlsage-engine/pkg/adapters/datasource"
	"github.com/sqlsage-io/sqlsage-engine/pkg/apperrors"
	"github.com/sqlsage-io/sqlsage-engine/pkg/schema"
)

// maxSuggestions caps how many closest names are offered for a missing
// identifier.
const maxSuggestions = 3

// TypeInfo carries both sides of a type-mismatch comparison plus a cast.
type TypeInfo struct {
	LeftType       string `json:"left_type,omitempty"`
	RightType      string `json:"right_type,omitempty"`
	CastSuggestion string `json:"cast_suggestion,omitempty"`
}

// ErrorAnalysis is the analyzer's verdict on one failed attempt.
type ErrorAnalysis struct {
	Kind apperrors.Kind `json:"kind"`

	// MentionedTables are snapshot tables referenced by the error message
	// or the failed SQL. They become the focused set on retry.
	MentionedTables []string `json:"mentioned_tables,omitempty"`

	// SuggestedTables are the closest existing names to a missing
	// identifier, by edit distance.
	SuggestedTables []string `json:"suggested_tables,omitempty"`

	TypeInfo *TypeInfo `json:"type_info,omitempty"`

	// Hints are prompt-ready correction lines.
	Hints []string `json:"hints,omitempty"`

	// ForceFullTypes tells the prompt builder to render full column types
	// regardless of strategy.
	ForceFullTypes bool `json:"force_full_types,omitempty"`

	ShouldRetry bool `json:"should_retry"`
}

// Analyzer inspects failed attempts against the schema snapshot.
type Analyzer struct {
	maxErrorLength int
}

// New creates an analyzer. Errors longer than maxErrorLength that carry no
// classification are not retried.
func New(maxErrorLength int) *Analyzer {
	if maxErrorLength <= 0 {
		maxErrorLength = 2000
	}
	return &Analyzer{maxErrorLength: maxErrorLength}
}

// quotedIdentifier matches identifiers quoted in database error messages:
// "name", 'name', `name` or relation "x.y".
var quotedIdentifier = regexp.MustCompile("[\"'`]([A-Za-z_][A-Za-z0-9_.]*)[\"'`]")

// Analyze classifies the failure and derives retry guidance. The snapshot
// may be nil when introspection itself failed; analysis degrades to the
// kind and retry verdict.
func (a *Analyzer) Analyze(err error, failedSQL string, snap *schema.Snapshot, dialect datasource.Dialect) *ErrorAnalysis {
	analysis := &ErrorAnalysis{Kind: apperrors.KindOf(err)}

	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}

	if snap != nil {
		analysis.MentionedTables = mentionedTables(errMsg+" "+failedSQL, snap)
	}

	switch analysis.Kind {
	case apperrors.KindObjectNotFound:
		analysis.ShouldRetry = true
		if snap != nil {
			a.suggestNames(analysis, errMsg, snap)
		}

	case apperrors.KindTypeMismatch:
		analysis.ShouldRetry = true
		analysis.ForceFullTypes = true
		analysis.TypeInfo = extractTypeInfo(errMsg, dialect)
		if analysis.TypeInfo != nil && analysis.TypeInfo.CastSuggestion != "" {
			analysis.Hints = append(analysis.Hints,
				"Cast explicitly, for example "+analysis.TypeInfo.CastSuggestion)
		}
		analysis.Hints = append(analysis.Hints,
			"Check column types in the schema and compare compatible types only")

	case apperrors.KindSyntax:
		analysis.ShouldRetry = true
		analysis.Hints = append(analysis.Hints,
			"Fix the SQL syntax for the "+string(dialect)+" dialect")

	case apperrors.KindResultTooLarge:
		analysis.ShouldRetry = true
		analysis.Hints = append(analysis.Hints,
			"Narrow the result set: add filters or aggregate instead of selecting raw rows")

	case apperrors.KindTimeout:
		analysis.ShouldRetry = true
		analysis.Hints = append(analysis.Hints,
			"Simplify the query; the previous one exceeded the execution deadline")

	case apperrors.KindAuth, apperrors.KindPermission, apperrors.KindCancelled:
		// Retrying cannot help: credentials and grants do not change
		// between attempts, and cancellation is the caller's decision.
		analysis.ShouldRetry = false

	case apperrors.KindConnection:
		analysis.ShouldRetry = apperrors.IsRetryable(err)

	default:
		// Unclassified errors retry only when short enough to quote
		// meaningfully in the next prompt.
		analysis.ShouldRetry = len(errMsg) <= a.maxErrorLength
	}

	return analysis
}

// mentionedTables collects snapshot tables whose names appear in the text.
func mentionedTables(text string, snap *schema.Snapshot) []string {
	lower := strings.ToLower(text)
	var tables []string
	for _, name := range snap.TableNames() {
		if containsWord(lower, strings.ToLower(name)) {
			tables = append(tables, name)
		}
	}
	return tables
}

// containsWord checks for the name bounded by non-identifier characters so
// "user" does not match inside "user_accounts".
func containsWord(text, name string) bool {
	for start := 0; ; {
		i := strings.Index(text[start:], name)
		if i < 0 {
			return false
		}
		i += start
		before := i == 0 || !isIdentChar(text[i-1])
		afterIdx := i + len(name)
		after := afterIdx >= len(text) || !isIdentChar(text[afterIdx])
		if before && after {
			return true
		}
		start = i + 1
	}
}

func isIdentChar(b byte) bool {
	return b == '_' || b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}

// suggestNames finds the snapshot names closest to the missing identifier.
func (a *Analyzer) suggestNames(analysis *ErrorAnalysis, errMsg string, snap *schema.Snapshot) {
	matches := quotedIdentifier.FindAllStringSubmatch(errMsg, -1)
	if len(matches) == 0 {
		return
	}

	// Use the first quoted identifier; databases quote the offender first.
	missing := strings.ToLower(matches[0][1])
	if i := strings.LastIndex(missing, "."); i >= 0 {
		missing = missing[i+1:]
	}

	type scored struct {
		name string
		dist int
	}
	var candidates []scored
	for _, name := range snap.TableNames() {
		d := levenshtein.Distance(missing, strings.ToLower(name), nil)
		candidates = append(candidates, scored{name: name, dist: d})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return candidates[i].name < candidates[j].name
	})

	for i := 0; i < len(candidates) && i < maxSuggestions; i++ {
		analysis.SuggestedTables = append(analysis.SuggestedTables, candidates[i].name)
	}
	if len(analysis.SuggestedTables) > 0 {
		analysis.Hints = append(analysis.Hints, fmt.Sprintf(
			"%q does not exist; closest existing tables: %s",
			missing, strings.Join(analysis.SuggestedTables, ", ")))
	}
}

// typePair matches the common "type x vs type y" phrasings across dialects:
// postgres "operator does not exist: integer = text", oracle
// "inconsistent datatypes: expected NUMBER got CHAR".
var typePairPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)operator does not exist:\s*(\w+)\s*[=<>~!]+\s*(\w+)`),
	regexp.MustCompile(`(?i)expected\s+(\w+)\s+got\s+(\w+)`),
	regexp.MustCompile(`(?i)cannot be matched|incompatible types:\s*(\w+)\s+and\s+(\w+)`),
}

func extractTypeInfo(errMsg string, dialect datasource.Dialect) *TypeInfo {
	for _, re := range typePairPatterns {
		m := re.FindStringSubmatch(errMsg)
		if len(m) == 3 && m[1] != "" && m[2] != "" {
			info := &TypeInfo{
				LeftType:  strings.ToUpper(m[1]),
				RightType: strings.ToUpper(m[2]),
			}
			info.CastSuggestion = castSuggestion(dialect, info.LeftType)
			return info
		}
	}
	return &TypeInfo{CastSuggestion: castSuggestion(dialect, "INTEGER")}
}

// castSuggestion renders the dialect's cast idiom for the target type.
func castSuggestion(dialect datasource.Dialect, targetType string) string {
	if dialect == datasource.DialectPostgres {
		return "col::" + targetType
	}
	return "CAST(col AS " + targetType + ")"
}
