package arrivals_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/arrivals"
	"tidbyt.dev/arrivals/downloader"
	"tidbyt.dev/arrivals/model"
	"tidbyt.dev/arrivals/storage"
	"tidbyt.dev/arrivals/testutil"
)

func realtimeFixture(t *testing.T) (*testutil.MockServer, *arrivals.RealtimeFeed) {
	server := testutil.NewMockServer()
	t.Cleanup(server.Close)

	feed := arrivals.NewRealtimeFeed("secret", map[string]string{
		"1": server.URL("/nyct/gtfs"),
		"2": server.URL("/nyct/gtfs"),
		"A": server.URL("/nyct/gtfs-ace"),
		"C": server.URL("/nyct/gtfs-ace"),
	}, downloader.NewMemoryDownloader())
	feed.CacheTTL = 0
	feed.Timeout = time.Second

	return server, feed
}

func TestRealtimeFeedEvents(t *testing.T) {
	server, feed := realtimeFixture(t)
	store := arrivals.NewScheduleStore(
		staticBytes(testutil.BuildZip(t, testutil.SubwayStatic())),
		storage.NewMemoryStorage(),
	)
	_, err := store.Load(context.Background())
	require.NoError(t, err)
	feed.Stops = &arrivals.StopNames{Store: store}

	at := time.Unix(1710504000, 0).UTC()
	server.Set("/nyct/gtfs", testutil.BuildFeed(t, at, []testutil.Update{
		{TripID: "T1", RouteID: "1", StopID: "127S", Arrival: at.Add(5 * time.Minute)},
		{TripID: "T1", RouteID: "1", StopID: "142S", Arrival: at.Add(25 * time.Minute)},
		{TripID: "T9", RouteID: "2", StopID: "127S", Arrival: at.Add(2 * time.Minute)},
		{TripID: "T7", RouteID: "", StopID: "127S", Departure: at.Add(3 * time.Minute)},
	}))

	events, err := feed.Events(context.Background(), "1")
	require.NoError(t, err)

	assert.Equal(t, "secret", server.Last("/nyct/gtfs").Header.Get("x-api-key"))
	assert.Equal(t, []model.RealtimeEvent{
		{
			TripID:      "T1",
			RouteID:     "1",
			StopID:      "127S",
			Destination: "South Ferry",
			Arrival:     at.Add(5 * time.Minute),
		},
		{
			TripID:      "T1",
			RouteID:     "1",
			StopID:      "142S",
			Destination: "South Ferry",
			Arrival:     at.Add(25 * time.Minute),
		},
		{
			// Route missing in the feed
			TripID:      "T7",
			RouteID:     "1",
			StopID:      "127S",
			Destination: "Times Sq-42 St",
			Departure:   at.Add(3 * time.Minute),
		},
	}, events)
}

func TestRealtimeFeedConfiguration(t *testing.T) {
	server, feed := realtimeFixture(t)

	feed.APIKey = ""
	_, err := feed.Events(context.Background(), "1")
	require.Error(t, err)
	assert.Equal(t, arrivals.KindConfiguration, arrivals.KindOf(err))
	assert.Equal(t, 0, server.Count("/nyct/gtfs"))

	feed.APIKey = "secret"
	_, err = feed.Events(context.Background(), "X")
	require.Error(t, err)
	assert.Equal(t, arrivals.KindInvalidRequest, arrivals.KindOf(err))
}

func TestRealtimeFeedFailures(t *testing.T) {
	for _, tc := range []struct {
		name   string
		setup  func(*testutil.MockServer)
		kind   arrivals.Kind
		expect string
	}{
		{
			"credential rejected",
			func(s *testutil.MockServer) { s.SetStatus("/nyct/gtfs", http.StatusForbidden) },
			arrivals.KindConfiguration,
			"status 403",
		},
		{
			"server error",
			func(s *testutil.MockServer) { s.SetStatus("/nyct/gtfs", http.StatusInternalServerError) },
			arrivals.KindUpstreamProtocol,
			"status 500",
		},
		{
			"garbage payload",
			func(s *testutil.MockServer) { s.Set("/nyct/gtfs", []byte("\xff\xff\xff\xff")) },
			arrivals.KindUpstreamProtocol,
			"decoding realtime feed",
		},
		{
			"timeout",
			func(s *testutil.MockServer) {
				s.Set("/nyct/gtfs", []byte{})
				s.SetDelay("/nyct/gtfs", 500*time.Millisecond)
			},
			arrivals.KindUpstreamTimeout,
			"",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			server, feed := realtimeFixture(t)
			feed.Timeout = 50 * time.Millisecond
			tc.setup(server)

			_, err := feed.Events(context.Background(), "1")
			require.Error(t, err)
			assert.Equal(t, tc.kind, arrivals.KindOf(err))
			assert.Contains(t, err.Error(), tc.expect)
		})
	}
}

func TestRealtimeFeedBreaker(t *testing.T) {
	server, feed := realtimeFixture(t)
	feed.BreakerFailures = 3
	feed.BreakerTimeout = time.Minute

	// Client errors don't trip the breaker
	server.SetStatus("/nyct/gtfs", http.StatusUnauthorized)
	for i := 0; i < 5; i++ {
		_, err := feed.Events(context.Background(), "1")
		assert.Equal(t, arrivals.KindConfiguration, arrivals.KindOf(err))
	}
	assert.Equal(t, 5, server.Count("/nyct/gtfs"))

	// Server errors do
	server.SetStatus("/nyct/gtfs", http.StatusBadGateway)
	for i := 0; i < 3; i++ {
		_, err := feed.Events(context.Background(), "1")
		assert.Equal(t, arrivals.KindUpstreamProtocol, arrivals.KindOf(err))
	}
	assert.Equal(t, 8, server.Count("/nyct/gtfs"))

	// Open: fails fast, no request made
	_, err := feed.Events(context.Background(), "2")
	assert.Equal(t, arrivals.KindUpstreamUnavailable, arrivals.KindOf(err))
	assert.Equal(t, 8, server.Count("/nyct/gtfs"))

	// Other feeds unaffected
	at := time.Unix(1710504000, 0)
	server.Set("/nyct/gtfs-ace", testutil.BuildFeed(t, at, nil))
	_, err = feed.Events(context.Background(), "A")
	assert.NoError(t, err)
}

func TestRealtimeFeedCachesSharedFeeds(t *testing.T) {
	server, feed := realtimeFixture(t)
	feed.CacheTTL = time.Minute

	at := time.Unix(1710504000, 0).UTC()
	server.Set("/nyct/gtfs-ace", testutil.BuildFeed(t, at, []testutil.Update{
		{TripID: "A1", RouteID: "A", StopID: "A27S", Arrival: at.Add(time.Minute)},
		{TripID: "C1", RouteID: "C", StopID: "A27S", Arrival: at.Add(2 * time.Minute)},
	}))

	events, err := feed.Events(context.Background(), "A")
	require.NoError(t, err)
	require.Equal(t, 1, len(events))
	assert.Equal(t, "A1", events[0].TripID)
	// No schedule, no destination
	assert.Equal(t, "", events[0].Destination)

	events, err = feed.Events(context.Background(), "C")
	require.NoError(t, err)
	require.Equal(t, 1, len(events))
	assert.Equal(t, "C1", events[0].TripID)

	assert.Equal(t, 1, server.Count("/nyct/gtfs-ace"))
}

func TestDefaultFeedURLs(t *testing.T) {
	urls := arrivals.DefaultFeedURLs()

	for route, suffix := range map[string]string{
		"1":  "nyct%2Fgtfs",
		"6":  "nyct%2Fgtfs",
		"A":  "nyct%2Fgtfs-ace",
		"F":  "nyct%2Fgtfs-bdfm",
		"G":  "nyct%2Fgtfs-g",
		"Z":  "nyct%2Fgtfs-jz",
		"L":  "nyct%2Fgtfs-l",
		"W":  "nyct%2Fgtfs-nqrw",
		"SI": "nyct%2Fgtfs-si",
	} {
		url, found := urls[route]
		require.True(t, found, route)
		assert.Equal(t, "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/"+suffix, url, route)
	}
}
