package source

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agis/tcal/internal/contract"
	"github.com/agis/tcal/internal/log"
	"github.com/agis/tcal/internal/normalize"
	"github.com/agis/tcal/internal/observability"
)

// Report is the combined outcome of fetching every source for one window.
type Report struct {
	WindowKey string                   `json:"window_key"`
	Batch     normalize.Batch          `json:"-"`
	Failed    []contract.SourceFailure `json:"failed"`
}

// Loader fans a window fetch out to every source concurrently.
type Loader struct {
	backend  Backend
	holidays HolidayFeed
	sources  []contract.Source
}

// NewLoader fetches all sources from b. When holidays is non-nil it serves the
// holidays source instead of the backend.
func NewLoader(b Backend, holidays HolidayFeed) *Loader {
	return &Loader{backend: b, holidays: holidays, sources: contract.Sources}
}

// WithSources restricts the loader to a subset of sources.
func (l *Loader) WithSources(sources ...contract.Source) *Loader {
	cp := *l
	cp.sources = sources
	return &cp
}

// Load fetches every source and waits for all of them. A failing source
// contributes no records and is listed in Report.Failed; it never cancels the
// others.
func (l *Loader) Load(ctx context.Context, key string, f FetchFilter) Report {
	results := make([]normalize.Batch, len(l.sources))
	errs := make([]error, len(l.sources))

	var g errgroup.Group
	for i, src := range l.sources {
		g.Go(func() error {
			started := time.Now()
			batch, err := l.fetchOne(ctx, src, f)
			observability.RecordFetch(string(src), time.Since(started), err)
			if err != nil {
				log.Error("source fetch failed", err, "source", src, "window", key)
				errs[i] = err
				return nil
			}
			log.Debug("source fetched", "source", src, "records", batch.Len(), "elapsed", time.Since(started))
			results[i] = batch
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{WindowKey: key, Failed: []contract.SourceFailure{}}
	for i, src := range l.sources {
		if errs[i] != nil {
			rep.Failed = append(rep.Failed, contract.SourceFailure{Source: string(src), Message: errs[i].Error()})
			continue
		}
		merge(&rep.Batch, results[i])
	}
	return rep
}

func (l *Loader) fetchOne(ctx context.Context, src contract.Source, f FetchFilter) (batch normalize.Batch, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("source %s panicked: %v", src, r)
		}
	}()
	if src == contract.SourceHolidays && l.holidays != nil {
		items, err := l.holidays.Holidays(ctx, f)
		if err != nil {
			return normalize.Batch{}, err
		}
		return normalize.Batch{Holidays: items}, nil
	}
	return l.backend.Fetch(ctx, src, f)
}
