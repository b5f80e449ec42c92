package budget

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSelectStrategy(t *testing.T) {
	tests := []struct {
		name      string
		maxTokens int
		override  string
		want      Strategy
	}{
		{name: "tiny window", maxTokens: 2000, want: StrategyConcise},
		{name: "boundary concise", maxTokens: 3000, want: StrategyConcise},
		{name: "semi", maxTokens: 4096, want: StrategySemi},
		{name: "boundary semi", maxTokens: 6000, want: StrategySemi},
		{name: "expanded", maxTokens: 8000, want: StrategyExpanded},
		{name: "boundary expanded", maxTokens: 10000, want: StrategyExpanded},
		{name: "large", maxTokens: 128000, want: StrategyLarge},
		{name: "override wins", maxTokens: 128000, override: "concise", want: StrategyConcise},
		{name: "override case-insensitive", maxTokens: 2000, override: "Large", want: StrategyLarge},
		{name: "bogus override ignored", maxTokens: 2000, override: "verbose", want: StrategyConcise},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectStrategy(tt.maxTokens, tt.override))
		})
	}
}

func TestDegrade(t *testing.T) {
	s, ok := Degrade(StrategyLarge)
	assert.True(t, ok)
	assert.Equal(t, StrategyExpanded, s)

	s, ok = Degrade(s)
	assert.True(t, ok)
	assert.Equal(t, StrategySemi, s)

	s, ok = Degrade(s)
	assert.True(t, ok)
	assert.Equal(t, StrategyConcise, s)

	_, ok = Degrade(StrategyConcise)
	assert.False(t, ok, "concise has nowhere left to go")
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("a"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 25, EstimateTokens(strings.Repeat("x", 100)))
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("word ", 200)

	t.Run("fits untouched", func(t *testing.T) {
		assert.Equal(t, "short", Truncate("short", 100))
	})

	t.Run("overflow gets suffix and stays in budget", func(t *testing.T) {
		out := Truncate(long, 50)
		assert.True(t, strings.HasSuffix(out, TruncateSuffix))
		assert.LessOrEqual(t, EstimateTokens(out), 50)
	})

	t.Run("zero budget", func(t *testing.T) {
		assert.Equal(t, "", Truncate(long, 0))
	})

	t.Run("multibyte text cut at rune boundary", func(t *testing.T) {
		wide := strings.Repeat("ガリバー商事 ", 100)
		for budget := 5; budget <= 40; budget++ {
			out := Truncate(wide, budget)
			assert.True(t, utf8.ValidString(out), "budget %d", budget)
			assert.LessOrEqual(t, EstimateTokens(out), budget)
		}
	})
}

func TestCutRuneSafe(t *testing.T) {
	assert.Equal(t, "abc", cutRuneSafe("abc", 10))
	assert.Equal(t, "ab", cutRuneSafe("abc", 2))
	// "ガ" is three bytes; a cut inside it backs off to the boundary.
	assert.Equal(t, "ガ", cutRuneSafe("ガリ", 4))
	assert.Equal(t, "", cutRuneSafe("ガリ", 2))
}

func TestBudgeterSectionCaps(t *testing.T) {
	b := New(8000, "")
	assert.Equal(t, StrategyExpanded, b.Strategy())

	// Every section output must fit its cap at every strategy.
	long := strings.Repeat("column_name varchar, ", 3000)
	for _, strat := range []Strategy{StrategyConcise, StrategySemi, StrategyExpanded, StrategyLarge} {
		wb := b.WithStrategy(strat)
		for _, section := range []Section{SectionSystem, SectionSchema, SectionConversation, SectionError} {
			out := wb.Fit(section, long)
			assert.LessOrEqual(t, EstimateTokens(out), wb.SectionCap(section),
				"strategy %s section %s", strat, section)
		}
	}
}

func TestSectionSharesSumBelowOne(t *testing.T) {
	// Headroom must remain for the question and response contract.
	for strat, m := range shares {
		total := 0.0
		for _, share := range m {
			total += share
		}
		assert.Less(t, total, 1.0, "strategy %s", strat)
	}
}
