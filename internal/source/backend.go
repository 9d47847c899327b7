// Package source fetches raw records from the origin systems and sends
// partial updates back to them.
package source

import (
	"context"
	"errors"
	"time"

	"github.com/agis/tcal/internal/contract"
	"github.com/agis/tcal/internal/dispatch"
	"github.com/agis/tcal/internal/normalize"
)

var ErrNotFound = errors.New("record not found")

// FetchFilter bounds a read to the half-open window [From, To).
type FetchFilter struct {
	From time.Time
	To   time.Time
}

type Backend interface {
	Doctor(context.Context) ([]contract.DoctorCheck, error)
	// Fetch returns the raw records of one source. Only that source's slice
	// of the batch is populated.
	Fetch(context.Context, contract.Source, FetchFilter) (normalize.Batch, error)
	Directory(context.Context) (contract.Directory, error)
	Write(context.Context, dispatch.Request) error
}

// HolidayFeed replaces the holidays read endpoint when configured.
type HolidayFeed interface {
	Holidays(ctx context.Context, f FetchFilter) ([]normalize.RawHoliday, error)
}

func merge(dst *normalize.Batch, b normalize.Batch) {
	dst.ExternalTasks = append(dst.ExternalTasks, b.ExternalTasks...)
	dst.WorkItems = append(dst.WorkItems, b.WorkItems...)
	dst.Leave = append(dst.Leave, b.Leave...)
	dst.Holidays = append(dst.Holidays, b.Holidays...)
	dst.TimeBlocks = append(dst.TimeBlocks, b.TimeBlocks...)
	dst.Bookings = append(dst.Bookings, b.Bookings...)
}
