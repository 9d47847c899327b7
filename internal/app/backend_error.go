package app

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// phaseError tags a context failure with the command phase that hit it, such
// as "engine.refresh" or "backend.directory".
type phaseError struct {
	Phase    string
	Kind     string
	Deadline *time.Time
	Err      error
}

func (e *phaseError) Error() string {
	switch e.Kind {
	case "timeout":
		if e.Deadline != nil {
			return fmt.Sprintf("%s timed out at %s: %v", e.Phase, e.Deadline.Format(time.RFC3339), e.Err)
		}
		return fmt.Sprintf("%s timed out: %v", e.Phase, e.Err)
	case "canceled":
		return fmt.Sprintf("%s canceled: %v", e.Phase, e.Err)
	}
	return e.Err.Error()
}

func (e *phaseError) Unwrap() error { return e.Err }

func annotatePhase(ctx context.Context, phase string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		pe := &phaseError{Phase: phase, Kind: "timeout", Err: err}
		if deadline, ok := ctx.Deadline(); ok {
			deadline = deadline.UTC()
			pe.Deadline = &deadline
		}
		return pe
	case errors.Is(err, context.Canceled):
		return &phaseError{Phase: phase, Kind: "canceled", Err: err}
	}
	return err
}

// timedOutPhase returns the phase of an annotated timeout.
func timedOutPhase(err error) (string, bool) {
	var pe *phaseError
	if !errors.As(err, &pe) || pe.Kind != "timeout" {
		return "", false
	}
	return pe.Phase, true
}
