package arrivals_test

import (
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/arrivals"
	"tidbyt.dev/arrivals/metrics"
	"tidbyt.dev/arrivals/model"
	"tidbyt.dev/arrivals/storage"
)

func newYork(t testing.TB) *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

func TestScheduledInstant(t *testing.T) {
	nyc := newYork(t)
	ref := time.Date(2024, 3, 15, 7, 30, 0, 0, nyc)

	for _, tc := range []struct {
		name     string
		tod      model.TimeOfDay
		ref      time.Time
		expected time.Time
	}{
		{
			"same day",
			model.TimeOfDay{Hours: 8, Minutes: 5},
			ref,
			time.Date(2024, 3, 15, 8, 5, 0, 0, nyc),
		},
		{
			"past midnight rolls over",
			model.TimeOfDay{Hours: 25, Minutes: 3},
			ref,
			time.Date(2024, 3, 16, 1, 3, 0, 0, nyc),
		},
		{
			"exactly 24h",
			model.TimeOfDay{Hours: 24},
			ref,
			time.Date(2024, 3, 16, 0, 0, 0, 0, nyc),
		},
		{
			"rollover across month end",
			model.TimeOfDay{Hours: 24, Minutes: 30},
			time.Date(2024, 3, 31, 22, 0, 0, 0, nyc),
			time.Date(2024, 4, 1, 0, 30, 0, 0, nyc),
		},
		{
			// 02:30 UTC on the 16th is still the 15th in
			// New York.
			"reference date taken in civil zone",
			model.TimeOfDay{Hours: 22},
			time.Date(2024, 3, 16, 2, 30, 0, 0, time.UTC),
			time.Date(2024, 3, 15, 22, 0, 0, 0, nyc),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := arrivals.ScheduledInstant(tc.tod, tc.ref, nyc)
			assert.True(t, tc.expected.Equal(got), "expected %s, got %s", tc.expected, got)
			assert.Equal(t, nyc, got.Location())
		})
	}
}

func buildIndex(t *testing.T, entries []model.ScheduleEntry) storage.IndexReader {
	s := storage.NewMemoryStorage()
	writer, err := s.GetWriter("lookup")
	require.NoError(t, err)
	require.NoError(t, writer.BeginStopTimes())
	for _, e := range entries {
		e := e
		require.NoError(t, writer.WriteStopTime(&e))
	}
	require.NoError(t, writer.EndStopTimes())
	reader, err := s.GetReader("lookup")
	require.NoError(t, err)
	return reader
}

func TestLookupScheduledArrival(t *testing.T) {
	nyc := newYork(t)
	ref := time.Date(2024, 3, 15, 7, 30, 0, 0, nyc)

	index := buildIndex(t, []model.ScheduleEntry{
		{TripID: "T1", StopID: "127S", Arrival: "08:05:00"},
		{TripID: "T1", StopID: "127S", Arrival: "09:05:00"},
		{TripID: "LATE", StopID: "127S", Arrival: "25:03:00"},
		{TripID: "BROKEN", StopID: "127S", Arrival: "8 o'clock"},
	})

	lookup := &arrivals.Lookup{Location: nyc}

	got := lookup.ScheduledArrival(index, "T1", "127S", ref)
	assert.True(t, time.Date(2024, 3, 15, 8, 5, 0, 0, nyc).Equal(got), got.String())

	got = lookup.ScheduledArrival(index, "LATE", "127S", ref)
	assert.True(t, time.Date(2024, 3, 16, 1, 3, 0, 0, nyc).Equal(got), got.String())

	// Absent cases
	assert.True(t, lookup.ScheduledArrival(index, "T1", "127N", ref).IsZero())
	assert.True(t, lookup.ScheduledArrival(index, "NOPE", "127S", ref).IsZero())
	assert.True(t, lookup.ScheduledArrival(index, "BROKEN", "127S", ref).IsZero())
	assert.True(t, lookup.ScheduledArrival(nil, "T1", "127S", ref).IsZero())
}

func TestLookupEmptyArrivalTime(t *testing.T) {
	nyc := newYork(t)
	ref := time.Date(2024, 3, 15, 7, 30, 0, 0, nyc)

	index := buildIndex(t, []model.ScheduleEntry{
		{TripID: "T1", StopID: "126S", Arrival: ""},
		{TripID: "T1", StopID: "127S", Arrival: "8 o'clock"},
	})

	m := metrics.NewCollector()
	lookup := &arrivals.Lookup{Location: nyc, Metrics: m}

	// Non-timepoint stops are absent, not malformed
	assert.True(t, lookup.ScheduledArrival(index, "T1", "126S", ref).IsZero())
	assert.Equal(t, 0.0, promtest.ToFloat64(m.LookupFailures.WithLabelValues("malformed_time")))

	assert.True(t, lookup.ScheduledArrival(index, "T1", "127S", ref).IsZero())
	assert.Equal(t, 1.0, promtest.ToFloat64(m.LookupFailures.WithLabelValues("malformed_time")))
}
