package app

import (
	"errors"
	"fmt"

	"github.com/agis/tcal/internal/calendar"
	"github.com/agis/tcal/internal/contract"
	"github.com/agis/tcal/internal/dispatch"
	"github.com/agis/tcal/internal/interact"
	"github.com/agis/tcal/internal/output"
	"github.com/agis/tcal/internal/source"
)

type AppError struct {
	Code    int
	Err     error
	Printed bool
}

func (e AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit code %d", e.Code)
	}
	return e.Err.Error()
}

func Wrap(code int, err error) error {
	if err == nil {
		return nil
	}
	return AppError{Code: code, Err: err}
}

func WrapPrinted(code int, err error) error {
	if err == nil {
		return nil
	}
	return AppError{Code: code, Err: err, Printed: true}
}

func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var e AppError
	if errors.As(err, &e) {
		return e.Code
	}
	return 1
}

func failWithHint(printer output.Printer, code contract.ErrorCode, err error, hint string, exitCode int) error {
	if err == nil {
		err = errors.New("unknown error")
	}
	_ = printer.Error(code, err.Error(), hint)
	return WrapPrinted(exitCode, err)
}

// classify maps an engine error to an exit code, an envelope code and a hint.
func classify(err error) (int, contract.ErrorCode, string) {
	var werr *dispatch.WriteError
	switch {
	case interact.IsValidation(err):
		return 2, contract.ErrValidation, "Only tasks, time blocks, bookings and work items move; resizes must leave at least 15 minutes"
	case errors.Is(err, dispatch.ErrUnsupported), errors.Is(err, dispatch.ErrMissingKey):
		return 2, contract.ErrValidation, "The event has no writable origin record"
	case errors.Is(err, calendar.ErrEventNotFound), errors.Is(err, source.ErrNotFound):
		return 4, contract.ErrNotFound, "Check ids with `tcal events list --fields id,title,start`"
	case errors.As(err, &werr):
		return 6, contract.ErrWriteFailed, "The change was not applied; run `tcal doctor` and retry"
	}
	if phase, ok := timedOutPhase(err); ok {
		return 6, contract.ErrBackendUnavailable, fmt.Sprintf("%s ran past the deadline; raise --timeout or retry", phase)
	}
	return 6, contract.ErrBackendUnavailable, "Run `tcal doctor` for remediation"
}

func fail(printer output.Printer, err error) error {
	code, ec, hint := classify(err)
	return failWithHint(printer, ec, err, hint, code)
}
