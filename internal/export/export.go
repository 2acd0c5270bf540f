// Package export turns configured calendar feeds into CSV files on disk,
// once or on a cron schedule.
package export

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"icscsv/internal/config"
	"icscsv/internal/convert"
	"icscsv/internal/ics"
	appLog "icscsv/internal/log"
	"icscsv/internal/metric"
)

// Status is the outcome of the most recent export of one feed.
type Status struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Path       string    `json:"path,omitempty"`
	EventCount int       `json:"event_count"`
	FromCache  bool      `json:"from_cache"`
	UpdatedAt  time.Time `json:"updated_at"`
	Error      string    `json:"error,omitempty"`
}

// Exporter fetches feeds and writes <outDir>/<id>.csv for each.
type Exporter struct {
	fetcher  *ics.Fetcher
	outDir   string
	writeBOM bool

	mu     sync.RWMutex
	status map[string]Status
}

// New creates an Exporter writing into outDir.
func New(fetcher *ics.Fetcher, outDir string, writeBOM bool) *Exporter {
	return &Exporter{
		fetcher:  fetcher,
		outDir:   outDir,
		writeBOM: writeBOM,
		status:   make(map[string]Status),
	}
}

// FromConfig builds an Exporter from the application config.
func FromConfig(cfg *config.Config) *Exporter {
	return New(ics.NewFetcher(cfg.CacheDir), cfg.OutputDir, cfg.WriteBOM)
}

// RunOnce exports every source, one after the other. A failing feed is
// logged and recorded; it never stops the others. The joined error of all
// failures is returned.
func (e *Exporter) RunOnce(ctx context.Context, sources []ics.Source) error {
	var errs []error
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := e.ExportOne(ctx, src); err != nil {
			errs = append(errs, fmt.Errorf("feed %s: %w", src.ID, err))
		}
	}
	return errors.Join(errs...)
}

// ExportOne fetches, converts and writes a single feed. A feed without
// events reports ics.ErrNoEvents and leaves any previous file in place.
func (e *Exporter) ExportOne(ctx context.Context, src ics.Source) (Status, error) {
	start := time.Now()
	st := Status{ID: src.ID, Name: src.Name}

	fail := func(result string, err error) (Status, error) {
		metric.ObserveConversion(metric.SourceFeed, result, 0, start)
		st.Error = err.Error()
		st.UpdatedAt = time.Now()
		if prev, ok := e.Get(src.ID); ok {
			st.Path = prev.Path
		}
		e.record(st)
		appLog.Error("feed export failed", err, "id", src.ID)
		return st, err
	}

	res, err := e.fetcher.FetchOne(ctx, src)
	if err != nil {
		return fail(metric.ResultError, err)
	}
	st.FromCache = res.FromCache

	if info, err := ics.Inspect(res.Body); err == nil {
		appLog.Debug("feed calendar", "id", src.ID, "name", info.Name, "prodid", info.ProductID, "strict_events", info.StrictEvents)
	} else {
		appLog.Debug("feed is not a strict calendar", "id", src.ID, "err", err)
	}

	events := ics.ParseSource(src, res.Body)
	if len(events) == 0 {
		return fail(metric.ResultNoEvents, ics.ErrNoEvents)
	}

	out := []byte(convert.ToCSV(events))
	if e.writeBOM {
		if out, err = convert.WithBOM(string(out)); err != nil {
			return fail(metric.ResultError, err)
		}
	}

	path := filepath.Join(e.outDir, src.ID+".csv")
	if err := config.WriteFileAtomic(path, out, 0o644); err != nil {
		return fail(metric.ResultError, fmt.Errorf("write %s: %w", path, err))
	}

	metric.ObserveConversion(metric.SourceFeed, metric.ResultOK, len(events), start)
	st.Path = path
	st.EventCount = len(events)
	st.UpdatedAt = time.Now()
	e.record(st)

	appLog.Info("feed exported", "id", src.ID, "path", path, "event_count", len(events), "from_cache", res.FromCache)
	return st, nil
}

func (e *Exporter) record(st Status) {
	e.mu.Lock()
	e.status[st.ID] = st
	e.mu.Unlock()
}

// Get returns the last recorded status for a feed.
func (e *Exporter) Get(id string) (Status, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.status[id]
	return st, ok
}

// Statuses returns every recorded status, sorted by feed ID.
func (e *Exporter) Statuses() []Status {
	e.mu.RLock()
	out := make([]Status, 0, len(e.status))
	for _, st := range e.status {
		out = append(out, st)
	}
	e.mu.RUnlock()

	slices.SortFunc(out, func(a, b Status) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Schedule runs RunOnce on the cron spec until ctx is done. Overlapping
// runs are skipped rather than queued.
func (e *Exporter) Schedule(ctx context.Context, spec string, sources []ics.Source) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(spec, func() {
		appLog.Info("scheduled export start", "feeds", len(sources))
		if err := e.RunOnce(ctx, sources); err != nil {
			appLog.Error("scheduled export finished with errors", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule %q: %w", spec, err)
	}

	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		appLog.Info("export scheduler stopped")
	}()
	return c, nil
}
