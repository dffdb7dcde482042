package resolver

import (
	"context"
	"errors"
	"fmt"
)

// Category is the normalized failure taxonomy for identity resolution.
type Category string

const (
	CategoryNotFound    Category = "not_found"
	CategoryTimeout     Category = "timeout"
	CategoryOutage      Category = "outage"
	CategoryRateLimited Category = "rate_limited"
	CategoryBadData     Category = "bad_data"
	CategoryUnsupported Category = "unsupported"
)

// ErrNotFound matches any ResolveError in the not-found category.
var ErrNotFound = &ResolveError{Category: CategoryNotFound}

// ResolveError wraps resolution failures with a category. Retryable is set
// for transient categories (timeout, outage, rate-limited).
type ResolveError struct {
	Category   Category
	DID        string
	Message    string
	Underlying error
	Retryable  bool
}

func (e *ResolveError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("resolve %s [%s]: %s: %v", e.DID, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("resolve %s [%s]: %s", e.DID, e.Category, e.Message)
}

func (e *ResolveError) Unwrap() error {
	return e.Underlying
}

// Is matches on category so callers can test errors.Is(err, ErrNotFound).
func (e *ResolveError) Is(target error) bool {
	t, ok := target.(*ResolveError)
	if !ok {
		return false
	}
	return e.Category == t.Category
}

// NewResolveError builds a ResolveError with automatic retry classification.
func NewResolveError(category Category, did, message string, underlying error) *ResolveError {
	return &ResolveError{
		Category:   category,
		DID:        did,
		Message:    message,
		Underlying: underlying,
		Retryable: category == CategoryTimeout ||
			category == CategoryOutage ||
			category == CategoryRateLimited,
	}
}

// IsRetryable reports whether err is a transient resolution failure.
// Context deadline errors count as timeouts.
func IsRetryable(err error) bool {
	var re *ResolveError
	if errors.As(err, &re) {
		return re.Retryable
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// CategoryOf returns the category of err, classifying bare context errors.
func CategoryOf(err error) Category {
	var re *ResolveError
	if errors.As(err, &re) {
		return re.Category
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	return CategoryOutage
}
