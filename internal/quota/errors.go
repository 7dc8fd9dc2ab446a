package quota

import "fmt"

// Retry hints surfaced in 429 responses. Window denials use the window
// duration; a concurrency denial should clear much sooner.
const ConcurrentRetryAfter = 30

// RateLimitError is a terminal admission denial.
type RateLimitError struct {
	LimitType  string // "concurrent", "minute", "hour" or "day"
	RetryAfter int    // seconds
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s limit exceeded, retry after %ds", e.LimitType, e.RetryAfter)
}
