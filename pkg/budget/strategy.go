// Package budget picks a prompt verbosity strategy from the model's context
// window and keeps every prompt section within its token share.
package budget

import (
	"strings"
	"unicode/utf8"
)

// Strategy controls prompt verbosity and section budgets.
type Strategy string

const (
	StrategyConcise  Strategy = "concise"
	StrategySemi     Strategy = "semi"
	StrategyExpanded Strategy = "expanded"
	StrategyLarge    Strategy = "large"
)

// Section names a budgeted prompt section.
type Section string

const (
	SectionSystem       Section = "system"
	SectionSchema       Section = "schema"
	SectionConversation Section = "conversation"
	SectionError        Section = "error"
)

// shares maps each strategy to its per-section budget fractions. The
// remainder is reserved headroom for the question and response contract.
var shares = map[Strategy]map[Section]float64{
	StrategyConcise:  {SectionSystem: 0.15, SectionSchema: 0.40, SectionConversation: 0.20, SectionError: 0.15},
	StrategySemi:     {SectionSystem: 0.12, SectionSchema: 0.45, SectionConversation: 0.20, SectionError: 0.13},
	StrategyExpanded: {SectionSystem: 0.10, SectionSchema: 0.50, SectionConversation: 0.20, SectionError: 0.10},
	StrategyLarge:    {SectionSystem: 0.08, SectionSchema: 0.55, SectionConversation: 0.20, SectionError: 0.10},
}

// SelectStrategy picks the strategy for a model's declared context window.
// A non-empty override wins.
func SelectStrategy(maxContextTokens int, override string) Strategy {
	if override != "" {
		switch Strategy(strings.ToLower(override)) {
		case StrategyConcise, StrategySemi, StrategyExpanded, StrategyLarge:
			return Strategy(strings.ToLower(override))
		}
	}
	switch {
	case maxContextTokens <= 3000:
		return StrategyConcise
	case maxContextTokens <= 6000:
		return StrategySemi
	case maxContextTokens <= 10000:
		return StrategyExpanded
	default:
		return StrategyLarge
	}
}

// Degrade steps the strategy one level down when a prompt exceeds the
// budget even after truncation. Concise has nowhere left to go.
func Degrade(s Strategy) (Strategy, bool) {
	switch s {
	case StrategyLarge:
		return StrategyExpanded, true
	case StrategyExpanded:
		return StrategySemi, true
	case StrategySemi:
		return StrategyConcise, true
	default:
		return StrategyConcise, false
	}
}

// EstimateTokens is the fixed heuristic: ceil(chars/4). The budgeter must
// not depend on any model-specific tokenizer.
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// TruncateSuffix is appended when a section overflows its cap.
const TruncateSuffix = " ...(truncated)"

// Truncate caps text at maxTokens, appending the literal truncation suffix
// on overflow. The result, suffix included, stays within the cap.
func Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if EstimateTokens(text) <= maxTokens {
		return text
	}
	maxChars := maxTokens*4 - len(TruncateSuffix)
	if maxChars <= 0 {
		return TruncateSuffix[:maxTokens*4]
	}
	return cutRuneSafe(text, maxChars) + TruncateSuffix
}

// cutRuneSafe cuts s at max bytes, backing off to the previous rune
// boundary so a multibyte character is never split.
func cutRuneSafe(s string, max int) string {
	if max >= len(s) {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// Budgeter allocates token caps per prompt section for one strategy.
type Budgeter struct {
	strategy  Strategy
	maxTokens int
}

// New creates a budgeter for the model's context window.
func New(maxContextTokens int, override string) *Budgeter {
	return &Budgeter{
		strategy:  SelectStrategy(maxContextTokens, override),
		maxTokens: maxContextTokens,
	}
}

// WithStrategy returns a budgeter forced to the given strategy over the
// same token budget. Used when degrading on budget overflow.
func (b *Budgeter) WithStrategy(s Strategy) *Budgeter {
	return &Budgeter{strategy: s, maxTokens: b.maxTokens}
}

// Strategy returns the active strategy.
func (b *Budgeter) Strategy() Strategy { return b.strategy }

// MaxTokens returns the total token budget.
func (b *Budgeter) MaxTokens() int { return b.maxTokens }

// SectionCap returns the token cap for a section under the active strategy.
func (b *Budgeter) SectionCap(section Section) int {
	return int(float64(b.maxTokens) * shares[b.strategy][section])
}

// Fit truncates text to the section's cap.
func (b *Budgeter) Fit(section Section, text string) string {
	return Truncate(text, b.SectionCap(section))
}
