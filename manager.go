package arrivals

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"

	"tidbyt.dev/arrivals/downloader"
	"tidbyt.dev/arrivals/metrics"
	"tidbyt.dev/arrivals/model"
	"tidbyt.dev/arrivals/storage"
)

const DefaultTimezone = "America/New_York"

type Options struct {
	// Civil time zone for display and schedule arithmetic.
	Location *time.Location

	StaticURL     string
	StaticHeaders map[string]string
	StaticTimeout time.Duration
	StaticMaxSize int

	APIKey           string
	FeedURLs         map[string]string
	RealtimeTimeout  time.Duration
	RealtimeMaxSize  int
	RealtimeCacheTTL time.Duration

	CacheTTL time.Duration

	// Defaults to in-memory maps.
	Storage storage.Storage

	// Override the MTA sources, mostly for tests.
	StaticSource StaticSource
	FeedSource   FeedSource

	Logger  zerolog.Logger
	Metrics *metrics.Collector
	TimeNow func() time.Time
}

// Manager answers arrival queries. It owns the static schedule, the
// realtime feed and the response cache.
type Manager struct {
	Store      *ScheduleStore
	Stops      *StopNames
	Reconciler *Reconciler
	Cache      *ResponseCache
	Location   *time.Location

	// Routes that can be queried.
	Routes []string

	Logger  zerolog.Logger
	Metrics *metrics.Collector
	TimeNow func() time.Time
}

func NewManager(opts Options) *Manager {
	loc := opts.Location
	if loc == nil {
		var err error
		loc, err = time.LoadLocation(DefaultTimezone)
		if err != nil {
			loc = time.UTC
		}
	}

	timeNow := opts.TimeNow
	if timeNow == nil {
		timeNow = time.Now
	}

	st := opts.Storage
	if st == nil {
		st = storage.NewMemoryStorage()
	}

	// Realtime feeds are fetched per route, but routes share feeds,
	// so a short lived cache of the raw bytes saves round trips.
	mem := downloader.NewMemoryDownloader()

	staticSource := opts.StaticSource
	if staticSource == nil {
		staticURL := opts.StaticURL
		if staticURL == "" {
			staticURL = DefaultStaticURL
		}
		staticSource = &HTTPStaticSource{
			URL:        staticURL,
			Headers:    opts.StaticHeaders,
			Timeout:    orDefault(opts.StaticTimeout, DefaultStaticTimeout),
			MaxSize:    orDefault(opts.StaticMaxSize, DefaultStaticMaxSize),
			Downloader: downloader.HTTPDownloader{},
		}
	}

	store := NewScheduleStore(staticSource, st)
	store.LoadTimeout = orDefault(opts.StaticTimeout, DefaultStaticTimeout)
	store.Timezone = loc.String()
	store.Logger = opts.Logger.With().Str("component", "schedule").Logger()
	store.Metrics = opts.Metrics
	store.TimeNow = timeNow

	stops := &StopNames{Store: store}

	feedURLs := opts.FeedURLs
	if feedURLs == nil {
		feedURLs = DefaultFeedURLs()
	}

	feedSource := opts.FeedSource
	if feedSource == nil {
		feed := NewRealtimeFeed(opts.APIKey, feedURLs, mem)
		feed.Timeout = orDefault(opts.RealtimeTimeout, DefaultRealtimeTimeout)
		feed.MaxSize = orDefault(opts.RealtimeMaxSize, DefaultRealtimeMaxSize)
		feed.CacheTTL = orDefault(opts.RealtimeCacheTTL, DefaultRealtimeCacheTTL)
		feed.Stops = stops
		feed.Logger = opts.Logger.With().Str("component", "realtime").Logger()
		feed.Metrics = opts.Metrics
		feedSource = feed
	}

	routes := make([]string, 0, len(feedURLs))
	for route := range feedURLs {
		routes = append(routes, route)
	}
	sort.Strings(routes)

	cache := NewResponseCache(orDefault(opts.CacheTTL, DefaultCacheTTL))
	cache.TimeNow = timeNow
	cache.Metrics = opts.Metrics

	return &Manager{
		Store: store,
		Stops: stops,
		Reconciler: &Reconciler{
			Feed:  feedSource,
			Store: store,
			Lookup: &Lookup{
				Location: loc,
				Logger:   opts.Logger.With().Str("component", "lookup").Logger(),
				Metrics:  opts.Metrics,
			},
			Location: loc,
			Limit:    MaxArrivals,
			TimeNow:  timeNow,
			Logger:   opts.Logger.With().Str("component", "reconciler").Logger(),
			Metrics:  opts.Metrics,
		},
		Cache:    cache,
		Location: loc,
		Routes:   routes,
		Logger:   opts.Logger,
		Metrics:  opts.Metrics,
		TimeNow:  timeNow,
	}
}

func orDefault[T comparable](v T, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

// Upcoming arrivals at a directional stop for a route. IDs are
// case-insensitive.
func (m *Manager) Arrivals(ctx context.Context, stopID string, routeID string) (*model.ArrivalsResponse, error) {
	stopID = strings.ToUpper(strings.TrimSpace(stopID))
	routeID = strings.ToUpper(strings.TrimSpace(routeID))

	if stopID == "" {
		m.Metrics.Request(KindInvalidRequest.String())
		return nil, newError(KindInvalidRequest, "querying arrivals", errors.New("stop_id is required"))
	}
	if routeID == "" {
		m.Metrics.Request(KindInvalidRequest.String())
		return nil, newError(KindInvalidRequest, "querying arrivals", errors.New("route_id is required"))
	}

	records, err := m.Cache.GetOrCompute(stopID, routeID, func() ([]model.ArrivalRecord, error) {
		return m.Reconciler.Reconcile(ctx, stopID, routeID)
	})
	if err != nil {
		m.Metrics.Request(KindOf(err).String())
		return nil, err
	}
	m.Metrics.Request("ok")

	return &model.ArrivalsResponse{
		StopID:      stopID,
		StopName:    m.Stops.Name(stopID),
		RouteID:     routeID,
		GeneratedAt: m.TimeNow().In(m.Location).Format(model.TimestampFormat),
		Arrivals:    records,
	}, nil
}

// State of the static schedule. Doesn't trigger a load.
func (m *Manager) Health() model.StaticStatus {
	return m.Store.Status()
}

// Starts loading the static schedule without waiting for it.
func (m *Manager) Warm() {
	go func() {
		if _, err := m.Store.Load(context.Background()); err != nil {
			m.Logger.Warn().Err(err).Msg("static schedule unavailable, serving realtime only")
		}
	}()
}

// Discards the static schedule and cached responses, then loads the
// schedule again.
func (m *Manager) ReloadStatic(ctx context.Context) error {
	m.Store.Invalidate()
	m.Cache.Clear()

	_, err := m.Store.Load(ctx)
	return err
}
