package nemerrors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benmccoy/go-nem-collector/internal/models"
)

func TestSentinelWrapping(t *testing.T) {
	err := InvalidRange("start %d after end %d", 2, 1)
	assert.ErrorIs(t, err, ErrInvalidRange)
	assert.Contains(t, err.Error(), "start 2 after end 1")

	err = SourceUnavailable(3, errors.New("connection refused"))
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.Contains(t, err.Error(), "after 3 attempts")

	wrapped := fmt.Errorf("loading series: %w", ErrNotFound)
	assert.ErrorIs(t, wrapped, ErrNotFound)
}

func TestValidationError_Error(t *testing.T) {
	ts := time.Date(2020, time.January, 1, 0, 0, 0, 0, models.MarketTime)
	err := &ValidationError{Field: "demand_mw", Timestamp: ts, Message: "not a number"}
	assert.Contains(t, err.Error(), "demand_mw")
	assert.Contains(t, err.Error(), "not a number")

	noTS := &ValidationError{Field: "spot_price", Message: "required field missing"}
	assert.NotContains(t, noTS.Error(), "0001-01-01")
}

func TestPartialCoverageError_Error(t *testing.T) {
	start := time.Date(2020, time.January, 1, 0, 0, 0, 0, models.MarketTime)
	err := &PartialCoverageError{
		Covered: models.Range{Start: start, End: start.Add(24 * time.Hour)},
		Missing: []models.Range{{Start: start.Add(24 * time.Hour), End: start.Add(48 * time.Hour)}},
	}
	assert.Contains(t, err.Error(), "partial coverage")
	assert.Contains(t, err.Error(), "missing")

	var target *PartialCoverageError
	wrapped := fmt.Errorf("load failed: %w", err)
	require.ErrorAs(t, wrapped, &target)
	assert.Len(t, target.Missing, 1)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"invalid range", InvalidRange("bad"), false},
		{"not found", fmt.Errorf("x: %w", ErrNotFound), false},
		{"source unavailable", SourceUnavailable(3, errors.New("boom")), true},
		{"deadline", context.DeadlineExceeded, true},
		{"connection refused text", errors.New("dial tcp: connection refused"), true},
		{"server error text", errors.New("server error 503"), true},
		{"plain error", errors.New("schema mismatch"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
