// Package nemerrors defines the pipeline error taxonomy and the retryable
// classification consumed by the provider retry layer.
//
// Record-level faults never surface as errors: the validator and detector
// absorb them into gap and suspect annotations. The errors here are the
// range-level and pipeline-level outcomes callers must handle.
package nemerrors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/benmccoy/go-nem-collector/internal/models"
)

// Sentinel errors for the pipeline taxonomy. Wrap them with fmt.Errorf and
// %w so errors.Is works across component boundaries.
var (
	// ErrInvalidRange indicates start > end or an unsupported resolution.
	ErrInvalidRange = errors.New("invalid range")
	// ErrSourceUnavailable indicates the provider could not be reached after
	// bounded retries.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrInsufficientHistory indicates an imputation strategy lacked the
	// surrounding data it requires.
	ErrInsufficientHistory = errors.New("insufficient history")
	// ErrNotFound indicates no stored data covers any of the requested range.
	ErrNotFound = errors.New("not found")
	// ErrTimeout indicates the per-request pipeline deadline expired.
	// Sub-ranges persisted before expiry remain persisted.
	ErrTimeout = errors.New("pipeline timeout")
)

// InvalidRange builds an ErrInvalidRange with detail.
func InvalidRange(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidRange, fmt.Sprintf(format, args...))
}

// SourceUnavailable wraps a provider failure after retries were exhausted.
func SourceUnavailable(attempts int, cause error) error {
	return fmt.Errorf("%w after %d attempts: %v", ErrSourceUnavailable, attempts, cause)
}

// ValidationError describes a record-level schema violation. The validator
// logs these and converts the affected record into a gap; they abort a whole
// dataset only when every record is unusable.
type ValidationError struct {
	Field     string
	Timestamp time.Time
	Message   string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Timestamp.IsZero() {
		return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error for field %s at %s: %s",
		e.Field, e.Timestamp.Format(time.RFC3339), e.Message)
}

// PartialCoverageError reports that a load request is only partially covered
// by stored data. It is recoverable: Covered names the available subrange and
// Missing lists the holes the caller may re-fetch.
type PartialCoverageError struct {
	Covered models.Range
	Missing []models.Range
}

// Error implements the error interface.
func (e *PartialCoverageError) Error() string {
	parts := make([]string, 0, len(e.Missing))
	for _, m := range e.Missing {
		parts = append(parts, m.String())
	}
	return fmt.Sprintf("partial coverage: stored data covers %s, missing %s",
		e.Covered, strings.Join(parts, ", "))
}

// IsRetryable reports whether an operation that produced err is worth
// retrying. Network faults, deadline expiries, and provider unavailability
// are transient; everything else in the taxonomy is permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidRange) || errors.Is(err, ErrNotFound) {
		return false
	}
	if errors.Is(err, ErrSourceUnavailable) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"connection refused", "connection reset", "temporar", "server error", "too many requests"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
