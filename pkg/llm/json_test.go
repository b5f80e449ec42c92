package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
		wantErr  bool
	}{
		{
			name:     "bare object",
			response: `{"sql": "SELECT 1"}`,
			want:     `{"sql": "SELECT 1"}`,
		},
		{
			name:     "code fence",
			response: "```json\n{\"sql\": \"SELECT 1\"}\n```",
			want:     `{"sql": "SELECT 1"}`,
		},
		{
			name:     "fence without language tag",
			response: "```\n{\"sql\": \"SELECT 1\"}\n```",
			want:     `{"sql": "SELECT 1"}`,
		},
		{
			name:     "think tag prefix",
			response: "<think>reasoning about joins</think>\n{\"sql\": \"SELECT 1\"}",
			want:     `{"sql": "SELECT 1"}`,
		},
		{
			name:     "surrounding prose",
			response: "Here is the query:\n{\"sql\": \"SELECT 1\"}\nHope that helps!",
			want:     `{"sql": "SELECT 1"}`,
		},
		{
			name:     "array payload",
			response: `The concepts are: [{"name": "Vendor"}]`,
			want:     `[{"name": "Vendor"}]`,
		},
		{
			name:     "braces inside strings do not break balancing",
			response: `{"sql": "SELECT '{' FROM t", "explanation": "ok"}`,
			want:     `{"sql": "SELECT '{' FROM t", "explanation": "ok"}`,
		},
		{
			name:     "escaped quote inside string",
			response: `{"sql": "SELECT \"a\" FROM t"}`,
			want:     `{"sql": "SELECT \"a\" FROM t"}`,
		},
		{
			name:     "nested object",
			response: `{"outer": {"inner": 1}}`,
			want:     `{"outer": {"inner": 1}}`,
		},
		{
			name:     "no json at all",
			response: "I cannot answer that.",
			wantErr:  true,
		},
		{
			name:     "unbalanced object",
			response: `{"sql": "SELECT 1"`,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.response)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseJSONResponse(t *testing.T) {
	type payload struct {
		SQL         string `json:"sql"`
		Explanation string `json:"explanation"`
	}

	got, err := ParseJSONResponse[payload]("```json\n{\"sql\": \"SELECT 1\", \"explanation\": \"one\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", got.SQL)
	assert.Equal(t, "one", got.Explanation)

	_, err = ParseJSONResponse[payload](`{"sql": 42}`)
	assert.Error(t, err)
}
