package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agis/tcal/internal/contract"
	"github.com/agis/tcal/internal/dispatch"
	"github.com/agis/tcal/internal/normalize"
	"github.com/agis/tcal/internal/window"
)

type fakeBackend struct {
	batches map[contract.Source]normalize.Batch
	fail    map[contract.Source]error
	panics  map[contract.Source]bool
}

func (f *fakeBackend) Doctor(context.Context) ([]contract.DoctorCheck, error) { return nil, nil }

func (f *fakeBackend) Fetch(_ context.Context, src contract.Source, _ FetchFilter) (normalize.Batch, error) {
	if f.panics[src] {
		panic("boom")
	}
	if err := f.fail[src]; err != nil {
		return normalize.Batch{}, err
	}
	return f.batches[src], nil
}

func (f *fakeBackend) Directory(context.Context) (contract.Directory, error) {
	return contract.Directory{}, nil
}

func (f *fakeBackend) Write(context.Context, dispatch.Request) error { return nil }

func TestLoaderKeepsSuccessfulSourcesWhenOthersFail(t *testing.T) {
	fb := &fakeBackend{
		batches: map[contract.Source]normalize.Batch{
			contract.SourceTasks: {ExternalTasks: []normalize.RawExternalTask{
				{ID: 1, Title: "Install", Date: "2025-04-08", Time: "09:00", Duration: "2h"},
			}},
			contract.SourceWorkItems: {WorkItems: []normalize.RawWorkItem{
				{ID: "w1", Title: "Spec", DueDate: "2025-04-09"},
			}},
			contract.SourceTimeBlocks: {TimeBlocks: []normalize.RawTimeBlock{
				{ID: "b1", Start: "2025-04-08T12:00:00Z", End: "2025-04-08T13:00:00Z"},
			}},
		},
		fail: map[contract.Source]error{
			contract.SourceLeave: errors.New("status 503"),
		},
		panics: map[contract.Source]bool{
			contract.SourceBookings: true,
		},
	}
	loader := NewLoader(fb, nil).WithSources(
		contract.SourceTasks,
		contract.SourceWorkItems,
		contract.SourceLeave,
		contract.SourceTimeBlocks,
		contract.SourceBookings,
	)

	win := window.Resolve(window.ModeWeek, time.Date(2025, 4, 8, 0, 0, 0, 0, time.UTC), window.DefaultOptions())
	rep := loader.Load(context.Background(), win.Key(), FetchFilter{From: win.Start, To: win.End})

	if len(rep.Failed) != 2 {
		t.Fatalf("expected 2 failed sources, got %+v", rep.Failed)
	}
	if rep.Failed[0].Source != "leave" || rep.Failed[1].Source != "bookings" {
		t.Fatalf("unexpected failed order %+v", rep.Failed)
	}
	res := normalize.Normalize(rep.Batch, win)
	if len(res.Events) != 3 {
		t.Fatalf("expected events from the 3 healthy sources, got %d", len(res.Events))
	}
	if rep.WindowKey != win.Key() {
		t.Fatalf("report not tagged with window key")
	}
}

type fakeHolidays struct{ items []normalize.RawHoliday }

func (f fakeHolidays) Holidays(context.Context, FetchFilter) ([]normalize.RawHoliday, error) {
	return f.items, nil
}

func TestLoaderPrefersHolidayFeed(t *testing.T) {
	fb := &fakeBackend{fail: map[contract.Source]error{contract.SourceHolidays: errors.New("not called")}}
	feed := fakeHolidays{items: []normalize.RawHoliday{{ID: "ny", Name: "New Year", Date: "2026-01-01"}}}
	rep := NewLoader(fb, feed).WithSources(contract.SourceHolidays).Load(context.Background(), "k", FetchFilter{})
	if len(rep.Failed) != 0 || len(rep.Batch.Holidays) != 1 {
		t.Fatalf("expected holiday from feed, got %+v", rep)
	}
}
