package sqlcheck

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult describes a detected injection pattern.
type InjectionCheckResult struct {
	IsSQLi      bool
	Fingerprint string
	Input       string
}

// CheckQuestionForInjection runs libinjection over the raw user question.
// Generated SQL is validated separately; this catches questions that are
// themselves injection payloads ("'; DROP TABLE users--") before they ever
// reach the model.
func CheckQuestionForInjection(question string) *InjectionCheckResult {
	isSQLi, fingerprint := libinjection.IsSQLi(question)
	if !isSQLi {
		return nil
	}
	return &InjectionCheckResult{
		IsSQLi:      true,
		Fingerprint: string(fingerprint),
		Input:       question,
	}
}
