package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sqlsage-io/sqlsage-engine/pkg/apperrors"
)

// RetryAfterError carries a server-supplied backoff hint from a rate-limited
// provider response.
type RetryAfterError struct {
	After time.Duration
	Cause error
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s: %v", e.After, e.Cause)
}

func (e *RetryAfterError) Unwrap() error { return e.Cause }

// maxRetryAfter caps how long we honor a provider's retry-after hint.
const maxRetryAfter = 30 * time.Second

// ClassifyError maps a provider failure onto the engine error taxonomy.
func ClassifyError(err error) *apperrors.Error {
	if err == nil {
		return nil
	}

	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.New(apperrors.KindTimeout, "llm request timed out", true, err)
	}
	if errors.Is(err, context.Canceled) {
		return apperrors.New(apperrors.KindCancelled, "llm request cancelled", false, err)
	}

	errStr := err.Error()
	lower := strings.ToLower(errStr)

	// Authentication errors (not retryable).
	if strings.Contains(errStr, "401") || strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "invalid api key") {
		return apperrors.New(apperrors.KindProvider, "authentication failed", false, err)
	}

	// Model or endpoint not found (not retryable without a config change).
	if strings.Contains(errStr, "404") ||
		(strings.Contains(lower, "model") && strings.Contains(lower, "not found")) {
		return apperrors.New(apperrors.KindProvider, "model or endpoint not found", false, err)
	}

	// Rate limiting (retryable after backoff).
	if strings.Contains(errStr, "429") || strings.Contains(lower, "rate limit") {
		return apperrors.New(apperrors.KindProvider, "rate limited", true, err)
	}

	// Connection failures and 5xx server errors (retryable).
	if strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host") ||
		strings.Contains(errStr, "500") || strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") || strings.Contains(errStr, "504") {
		return apperrors.New(apperrors.KindProvider, "provider unavailable", true, err)
	}

	if strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded") {
		return apperrors.New(apperrors.KindTimeout, "llm request timed out", true, err)
	}

	return apperrors.New(apperrors.KindProvider, "llm error", false, err)
}
