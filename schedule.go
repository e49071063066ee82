package arrivals

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"tidbyt.dev/arrivals/downloader"
	"tidbyt.dev/arrivals/metrics"
	"tidbyt.dev/arrivals/model"
	"tidbyt.dev/arrivals/parse"
	"tidbyt.dev/arrivals/storage"
)

const (
	DefaultStaticURL     = "http://web.mta.info/developers/data/nyct/subway/google_transit.zip"
	DefaultStaticTimeout = 45 * time.Second
	DefaultStaticMaxSize = 800 << 20 // 800 MB
)

// Produces the static GTFS archive.
type StaticSource interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// Downloads the static archive over HTTP.
type HTTPStaticSource struct {
	URL        string
	Headers    map[string]string
	Timeout    time.Duration
	MaxSize    int
	Downloader downloader.Downloader
}

func (s *HTTPStaticSource) Fetch(ctx context.Context) ([]byte, error) {
	d := s.Downloader
	if d == nil {
		d = downloader.HTTPDownloader{}
	}

	body, err := d.Get(ctx, s.URL, s.Headers, downloader.GetOptions{
		Timeout: s.Timeout,
		MaxSize: s.MaxSize,
	})
	if err != nil {
		return nil, classifyFetchError("fetching static schedule", err)
	}

	return body, nil
}

type staticResult struct {
	reader   storage.IndexReader
	metadata *storage.IndexMetadata
	entries  int
	loadedAt time.Time
	err      error
}

// ScheduleStore loads the static schedule on first use and keeps it
// for the life of the process. Concurrent callers share a single
// load. A failed load is remembered just like a successful one, until
// Invalidate is called.
type ScheduleStore struct {
	Source  StaticSource
	Storage storage.Storage

	// Bounds the whole download and parse. Parsing checks the
	// deadline between batches of stop_times rows.
	LoadTimeout time.Duration

	// Expected agency timezone. A mismatch is logged.
	Timezone string

	Logger  zerolog.Logger
	Metrics *metrics.Collector
	TimeNow func() time.Time

	group      singleflight.Group
	mutex      sync.RWMutex
	result     *staticResult
	generation int
	loading    bool
	indexID    string
}

func NewScheduleStore(source StaticSource, s storage.Storage) *ScheduleStore {
	return &ScheduleStore{
		Source:      source,
		Storage:     s,
		LoadTimeout: DefaultStaticTimeout,
		TimeNow:     time.Now,
	}
}

// Returns the loaded schedule index, loading it if needed.
//
// The load itself is not tied to ctx: if ctx is done before the load
// completes, this caller gets an error but the load carries on for
// everyone else.
func (s *ScheduleStore) Load(ctx context.Context) (storage.IndexReader, error) {
	s.mutex.RLock()
	result, gen := s.result, s.generation
	s.mutex.RUnlock()

	if result != nil {
		return result.reader, result.err
	}

	ch := s.startLoad(gen)

	select {
	case res := <-ch:
		result := res.Val.(*staticResult)
		return result.reader, result.err
	case <-ctx.Done():
		return nil, newError(KindStaticDataUnavailable, "waiting for static schedule", ctx.Err())
	}
}

// Returns the loaded schedule index without waiting for it. Nil while
// a load is running or after a failed one. If nothing has been
// attempted yet, a load is started in the background.
func (s *ScheduleStore) Ready() storage.IndexReader {
	s.mutex.RLock()
	result, gen := s.result, s.generation
	s.mutex.RUnlock()

	if result != nil {
		return result.reader
	}

	// DoChan's channel is buffered, so nobody needs to receive.
	s.startLoad(gen)
	return nil
}

// Joins the load for generation gen, starting it if needed.
func (s *ScheduleStore) startLoad(gen int) <-chan singleflight.Result {
	return s.group.DoChan(fmt.Sprintf("static-%d", gen), func() (interface{}, error) {
		return s.load(gen), nil
	})
}

// Forgets the current result, successful or not. The next Load
// fetches the archive again.
func (s *ScheduleStore) Invalidate() {
	s.mutex.Lock()
	s.result = nil
	s.generation++
	s.mutex.Unlock()

	s.Metrics.StaticInvalidated()
	s.Logger.Info().Msg("static schedule invalidated")
}

// Reports the store's state. Never triggers a load.
func (s *ScheduleStore) Status() model.StaticStatus {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	status := model.StaticStatus{
		Loading: s.loading,
	}

	if s.result == nil {
		return status
	}

	if s.result.err != nil {
		status.Error = s.result.err.Error()
		return status
	}

	loadedAt := s.result.loadedAt
	status.Loaded = true
	status.LoadedAt = &loadedAt
	status.Stops = s.result.metadata.Stops
	status.ScheduleEntries = s.result.entries
	status.SkippedRows = s.result.metadata.SkippedRows
	return status
}

func (s *ScheduleStore) now() time.Time {
	if s.TimeNow != nil {
		return s.TimeNow()
	}
	return time.Now()
}

// Runs a single load and records the result, unless the store was
// invalidated in the meantime.
func (s *ScheduleStore) load(gen int) *staticResult {
	s.mutex.Lock()
	if s.result != nil && s.generation == gen {
		result := s.result
		s.mutex.Unlock()
		return result
	}
	s.loading = true
	s.mutex.Unlock()

	start := time.Now()
	result := s.fetchAndParse()
	took := time.Since(start)

	s.Metrics.StaticLoad(result.err, took)
	if result.err != nil {
		s.Logger.Error().Err(result.err).Dur("took", took).Msg("static schedule load failed")
	} else {
		s.Logger.Info().
			Str("index", result.metadata.ID[:12]).
			Int("stops", result.metadata.Stops).
			Int("schedule_entries", result.entries).
			Int("skipped_rows", result.metadata.SkippedRows).
			Str("max_arrival", result.metadata.MaxArrival).
			Dur("took", took).
			Msg("static schedule loaded")

		if s.Timezone != "" && result.metadata.Timezone != "" && result.metadata.Timezone != s.Timezone {
			s.Logger.Warn().
				Str("agency_timezone", result.metadata.Timezone).
				Str("timezone", s.Timezone).
				Msg("static schedule timezone differs from configured timezone")
		}

		if result.metadata.SkippedRows > 0 {
			s.Logger.Warn().
				Int("skipped_rows", result.metadata.SkippedRows).
				Msg("static schedule has invalid rows, skipped them")
		}
		s.Metrics.StaticSkippedRows(result.metadata.SkippedRows)
	}

	s.mutex.Lock()
	s.loading = false
	stale := ""
	if s.generation == gen {
		s.result = result
		if result.err == nil {
			if s.indexID != result.metadata.ID {
				stale = s.indexID
			}
			s.indexID = result.metadata.ID
		}
	} else if result.err == nil && result.metadata.ID != s.indexID {
		// Invalidated while loading. Nobody will ever use this.
		stale = result.metadata.ID
	}
	s.mutex.Unlock()

	if stale != "" {
		if err := s.Storage.Drop(stale); err != nil {
			s.Logger.Warn().Err(err).Str("index", stale).Msg("dropping stale schedule index")
		}
	}

	return result
}

func (s *ScheduleStore) fetchAndParse() *staticResult {
	fail := func(err error) *staticResult {
		return &staticResult{err: newError(KindStaticDataUnavailable, "loading static schedule", err)}
	}

	timeout := s.LoadTimeout
	if timeout <= 0 {
		timeout = DefaultStaticTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if s.Source == nil {
		return fail(newError(KindConfiguration, "loading static schedule", fmt.Errorf("no static source configured")))
	}

	buf, err := s.Source.Fetch(ctx)
	if err != nil {
		return fail(err)
	}

	id := fmt.Sprintf("%x", sha256.Sum256(buf))

	writer, err := s.Storage.GetWriter(id)
	if err != nil {
		return fail(fmt.Errorf("getting index writer: %w", err))
	}

	metadata, err := parse.ParseStatic(ctx, writer, buf)
	if err != nil {
		writer.Close()
		s.Storage.Drop(id)
		kind := KindUpstreamProtocol
		if ctx.Err() != nil {
			kind = KindUpstreamTimeout
		}
		return fail(newError(kind, "parsing static schedule", err))
	}
	metadata.ID = id

	reader, err := s.Storage.GetReader(id)
	if err != nil {
		return fail(fmt.Errorf("getting index reader: %w", err))
	}

	_, entries, err := reader.Counts()
	if err != nil {
		return fail(fmt.Errorf("counting index: %w", err))
	}

	return &staticResult{
		reader:   reader,
		metadata: metadata,
		entries:  entries,
		loadedAt: s.now(),
	}
}
