package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackzampolin/enrich/internal/providers"
)

// Outcome classifies one request attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	// OutcomeTransient is a timeout, connection fault or 5xx.
	OutcomeTransient
	// OutcomeRateLimited is a 429 or equivalent.
	OutcomeRateLimited
	// OutcomeUnsalvageable means the service answered but nothing usable
	// could be recovered from the text.
	OutcomeUnsalvageable
	// OutcomeFatal means the request cannot succeed as sent.
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeUnsalvageable:
		return "unsalvageable"
	case OutcomeFatal:
		return "fatal"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// attemptError carries an attempt's outcome through the retry loop.
type attemptError struct {
	outcome    Outcome
	retryAfter time.Duration
	err        error
}

func (e *attemptError) Error() string {
	return fmt.Sprintf("%s: %v", e.outcome, e.err)
}

func (e *attemptError) Unwrap() error {
	return e.err
}

func newAttemptError(outcome Outcome, err error) *attemptError {
	return &attemptError{outcome: outcome, err: err}
}

// classifySendError maps an error returned by CompletionClient.Send. parent
// is the run context; a per-call timeout while parent is alive is transient.
func classifySendError(parent context.Context, err error) *attemptError {
	if parent.Err() != nil {
		return newAttemptError(OutcomeFatal, parent.Err())
	}
	if rle, ok := providers.IsRateLimitError(err); ok {
		return &attemptError{outcome: OutcomeRateLimited, retryAfter: rle.RetryAfter, err: err}
	}
	var se *providers.StatusError
	if errors.As(err, &se) {
		return newAttemptError(OutcomeFatal, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || isTransientError(err) {
		return newAttemptError(OutcomeTransient, err)
	}
	return newAttemptError(OutcomeFatal, err)
}

// classifyCompletion maps a non-ok completion status.
func classifyCompletion(c *providers.Completion) *attemptError {
	msg := c.ErrorMessage
	if msg == "" {
		msg = string(c.Status)
	}
	switch c.Status {
	case providers.StatusRateLimited:
		return &attemptError{
			outcome:    OutcomeRateLimited,
			retryAfter: c.RetryAfter,
			err:        fmt.Errorf("rate limited (status %d): %s", c.StatusCode, msg),
		}
	case providers.StatusTransportError:
		return newAttemptError(OutcomeTransient, fmt.Errorf("transport error (status %d): %s", c.StatusCode, msg))
	default:
		return newAttemptError(OutcomeFatal, fmt.Errorf("unexpected completion status %q: %s", c.Status, msg))
	}
}

// isTransientError matches transport failures that surface only as text.
func isTransientError(err error) bool {
	errStr := strings.ToLower(err.Error())
	for _, s := range []string{
		"status 500", "status 502", "status 503", "status 504",
		"timeout", "deadline exceeded",
		"connection refused", "connection reset", "no such host", "eof",
	} {
		if strings.Contains(errStr, s) {
			return true
		}
	}
	return false
}
