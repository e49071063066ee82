package arrivals

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"tidbyt.dev/arrivals/downloader"
	"tidbyt.dev/arrivals/metrics"
	"tidbyt.dev/arrivals/model"
	"tidbyt.dev/arrivals/parse"
)

const (
	DefaultRealtimeTimeout  = 30 * time.Second
	DefaultRealtimeMaxSize  = 1 << 20 // 1 MB
	DefaultRealtimeCacheTTL = 10 * time.Second

	// Consecutive transport failures before the breaker opens, and
	// how long it stays open.
	DefaultBreakerFailures = 5
	DefaultBreakerTimeout  = 30 * time.Second

	APIKeyHeader = "x-api-key"

	mtaFeedBase = "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/nyct%2Fgtfs"
)

// Produces realtime stop time events for a route.
type FeedSource interface {
	Events(ctx context.Context, routeID string) ([]model.RealtimeEvent, error)
}

// MTA subway route to GTFS-rt feed URL. Several routes share a feed.
func DefaultFeedURLs() map[string]string {
	urls := map[string]string{}
	for _, group := range []struct {
		suffix string
		routes []string
	}{
		{"", []string{"1", "2", "3", "4", "5", "6", "7", "S", "GS"}},
		{"-ace", []string{"A", "C", "E", "H", "FS"}},
		{"-bdfm", []string{"B", "D", "F", "M"}},
		{"-g", []string{"G"}},
		{"-jz", []string{"J", "Z"}},
		{"-l", []string{"L"}},
		{"-nqrw", []string{"N", "Q", "R", "W"}},
		{"-si", []string{"SI"}},
	} {
		for _, route := range group.routes {
			urls[route] = mtaFeedBase + group.suffix
		}
	}
	return urls
}

// Fetches and decodes the MTA GTFS-rt feed for a route. Each feed URL
// gets its own circuit breaker, so a failing feed fails fast without
// affecting the others. Nothing is retried.
type RealtimeFeed struct {
	APIKey   string
	FeedURLs map[string]string
	Timeout  time.Duration
	MaxSize  int

	// Raw feed bytes are reused for this long. Zero disables.
	CacheTTL time.Duration

	BreakerFailures uint32
	BreakerTimeout  time.Duration

	Downloader downloader.Downloader

	// Resolves destinations from the trip's last stop. Optional.
	Stops *StopNames

	Logger  zerolog.Logger
	Metrics *metrics.Collector

	mutex    sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[[]byte]
}

func NewRealtimeFeed(apiKey string, feedURLs map[string]string, d downloader.Downloader) *RealtimeFeed {
	if feedURLs == nil {
		feedURLs = DefaultFeedURLs()
	}
	return &RealtimeFeed{
		APIKey:          apiKey,
		FeedURLs:        feedURLs,
		Timeout:         DefaultRealtimeTimeout,
		MaxSize:         DefaultRealtimeMaxSize,
		CacheTTL:        DefaultRealtimeCacheTTL,
		BreakerFailures: DefaultBreakerFailures,
		BreakerTimeout:  DefaultBreakerTimeout,
		Downloader:      d,
	}
}

func (f *RealtimeFeed) Events(ctx context.Context, routeID string) ([]model.RealtimeEvent, error) {
	const op = "fetching realtime feed"

	if f.APIKey == "" {
		return nil, newError(KindConfiguration, op, errors.New("MTA API key is not configured"))
	}

	url, found := f.FeedURLs[routeID]
	if !found {
		return nil, newError(KindInvalidRequest, op, fmt.Errorf("unknown route '%s'", routeID))
	}

	data, err := f.fetch(ctx, url)
	if err != nil {
		e := classifyFetchError(op, err)
		f.Metrics.RealtimeError(e.Kind.String())
		f.Logger.Warn().Err(err).Str("route_id", routeID).Str("kind", e.Kind.String()).Msg("realtime fetch failed")
		return nil, e
	}

	rt, err := parse.ParseRealtime(ctx, [][]byte{data})
	if err != nil {
		kind := KindUpstreamProtocol
		if ctx.Err() != nil {
			kind = KindUpstreamTimeout
		}
		f.Metrics.RealtimeError(kind.String())
		return nil, newError(kind, "decoding realtime feed", err)
	}

	f.Logger.Debug().
		Str("route_id", routeID).
		Uint64("feed_timestamp", rt.Timestamp).
		Int("trips", rt.NumTrips).
		Int("canceled_trips", rt.NumCanceledTrips).
		Int("events", len(rt.Events)).
		Msg("realtime feed decoded")

	destinations := map[string]string{}
	events := make([]model.RealtimeEvent, 0, len(rt.Events))
	for _, ev := range rt.Events {
		if !routeMatches(ev.RouteID, routeID) {
			continue
		}

		dest, seen := destinations[ev.TerminalStopID]
		if !seen {
			if ev.TerminalStopID != "" {
				dest, _ = f.Stops.Lookup(ev.TerminalStopID)
			}
			destinations[ev.TerminalStopID] = dest
		}

		route := ev.RouteID
		if route == "" {
			route = routeID
		}

		events = append(events, model.RealtimeEvent{
			TripID:      ev.TripID,
			RouteID:     route,
			StopID:      ev.StopID,
			Destination: dest,
			Arrival:     ev.ArrivalTime,
			Departure:   ev.DepartureTime,
		})
	}

	return events, nil
}

// Feeds carry several routes. Express variants (6X, 7X, FX) count as
// the route itself. Trips without a route are kept.
func routeMatches(eventRoute string, routeID string) bool {
	return eventRoute == "" || eventRoute == routeID || eventRoute == routeID+"X"
}

func (f *RealtimeFeed) fetch(ctx context.Context, url string) ([]byte, error) {
	d := f.Downloader
	if d == nil {
		d = downloader.HTTPDownloader{}
	}

	return f.breaker(url).Execute(func() ([]byte, error) {
		return d.Get(ctx, url, map[string]string{APIKeyHeader: f.APIKey}, downloader.GetOptions{
			Timeout:  f.Timeout,
			MaxSize:  f.MaxSize,
			Cache:    f.CacheTTL > 0,
			CacheTTL: f.CacheTTL,
		})
	})
}

func (f *RealtimeFeed) breaker(url string) *gobreaker.CircuitBreaker[[]byte] {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.breakers == nil {
		f.breakers = map[string]*gobreaker.CircuitBreaker[[]byte]{}
	}

	if cb, found := f.breakers[url]; found {
		return cb
	}

	failures := f.BreakerFailures
	if failures == 0 {
		failures = DefaultBreakerFailures
	}

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        url,
		MaxRequests: 1,
		Timeout:     f.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Only upstream outages trip the breaker. Rejected
		// credentials and client errors are not its business.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var statusErr *downloader.StatusError
			if errors.As(err, &statusErr) {
				return statusErr.StatusCode < 500
			}
			return errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			f.Logger.Warn().Str("feed", name).Str("from", from.String()).Str("to", to.String()).Msg("realtime breaker state changed")
		},
	})
	f.breakers[url] = cb

	return cb
}
