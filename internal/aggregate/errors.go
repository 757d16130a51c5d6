package aggregate

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

// Errors fatal to one aggregation pass.
var (
	ErrAggregationUnavailable     = eris.New("aggregation unavailable")
	ErrMalformedAggregationResult = eris.New("malformed aggregation result")
)

// MalformedResultError carries the payload the procedure returned when it
// was not a sequence of scores. It matches ErrMalformedAggregationResult.
type MalformedResultError struct {
	Received json.RawMessage
	Cause    error
}

func (e *MalformedResultError) Error() string {
	if e.Cause != nil {
		return ErrMalformedAggregationResult.Error() + ": " + e.Cause.Error()
	}
	return ErrMalformedAggregationResult.Error()
}

func (e *MalformedResultError) Is(target error) bool {
	return target == ErrMalformedAggregationResult
}

func (e *MalformedResultError) Unwrap() error { return e.Cause }
