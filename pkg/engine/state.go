// Package engine runs the query state machine: prompt assembly, LLM
// generation, validation, execution and analyzed retries.
package engine

import (
	"fmt"

	"github.com/sqlsage-io/sqlsage-engine/pkg/adapters/datasource"
	"github.com/sqlsage-io/sqlsage-engine/pkg/apperrors"
	"github.com/sqlsage-io/sqlsage-engine/pkg/budget"
)

// State enumerates the machine's states.
type State string

const (
	StateGenerate     State = "generate"
	StateValidate     State = "validate"
	StateExecute      State = "execute"
	StateAnalyzeError State = "analyze_error"
	StateSucceed      State = "succeed"
	StateFail         State = "fail"
)

// Attempt records one generation attempt for the diagnostic trace.
type Attempt struct {
	SQL   string `json:"sql"`
	Error string `json:"error"`
}

// Result is the success payload of one run.
type Result struct {
	SQL         string                `json:"sql"`
	Explanation string                `json:"explanation"`
	ResultSet   *datasource.ResultSet `json:"result"`
	Attempts    int                   `json:"attempts"`
	Strategy    budget.Strategy       `json:"strategy"`
}

// QueryError is the failure payload: the final classified error plus the
// full attempt trace. Partial carries the last generated SQL and
// explanation for diagnostics; it is never a query result.
type QueryError struct {
	Kind     apperrors.Kind `json:"kind"`
	Message  string         `json:"message"`
	Attempts []Attempt      `json:"attempts"`
	Partial  *Partial       `json:"partial,omitempty"`
}

// Partial is the last generated output before failure.
type Partial struct {
	SQL         string `json:"sql,omitempty"`
	Explanation string `json:"explanation,omitempty"`
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: %s (after %d attempts)", e.Kind, e.Message, len(e.Attempts))
}

// queryState is the mutable state threaded through one run.
type queryState struct {
	attempt        int
	focusedTables  []string
	forceFullTypes bool
	lastSQL        string
	lastExplain    string
	lastError      error
	errorHints     []string
	history        []Attempt

	// firstPromptTokens is the attempt-0 prompt size; every retry prompt
	// must stay strictly below it.
	firstPromptTokens int
}

func (qs *queryState) recordAttempt(sql string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	qs.history = append(qs.history, Attempt{SQL: sql, Error: msg})
}
