package lifecycle

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared by every store and provider.
var (
	// ErrNotInitialized is returned when a store is used before Init.
	ErrNotInitialized = errors.New("not initialized")

	// ErrStoreUnavailable wraps I/O or connection failures. Retryable.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrProviderFailure marks a single failed capability invocation.
	ErrProviderFailure = errors.New("provider failure")

	// ErrInvalidRecord indicates a record missing required fields.
	ErrInvalidRecord = errors.New("invalid lifecycle record")
)

// ProviderError records which tool failed.
type ProviderError struct {
	Provider string
	Tool     string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s/%s: %v", ErrProviderFailure, e.Provider, e.Tool, e.Err)
}

// Unwrap exposes both the sentinel and the cause to errors.Is.
func (e *ProviderError) Unwrap() []error {
	return []error{ErrProviderFailure, e.Err}
}

// PartialWriteError reports the per-store outcome of a memory dual write.
// A nil field means that sub-write succeeded.
type PartialWriteError struct {
	Semantic error
	Recency  error
}

func (e *PartialWriteError) Error() string {
	var parts []string
	if e.Semantic != nil {
		parts = append(parts, "semantic: "+e.Semantic.Error())
	}
	if e.Recency != nil {
		parts = append(parts, "recency: "+e.Recency.Error())
	}
	return "partial memory write failure: " + strings.Join(parts, "; ")
}

// Unwrap returns the underlying sub-write failures. A total failure also
// matches ErrStoreUnavailable.
func (e *PartialWriteError) Unwrap() []error {
	var errs []error
	if e.Total() {
		errs = append(errs, ErrStoreUnavailable)
	}
	if e.Semantic != nil {
		errs = append(errs, e.Semantic)
	}
	if e.Recency != nil {
		errs = append(errs, e.Recency)
	}
	return errs
}

// Total reports whether every sub-write failed.
func (e *PartialWriteError) Total() bool {
	return e.Semantic != nil && e.Recency != nil
}

// Unavailable wraps err as a retryable store failure.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
