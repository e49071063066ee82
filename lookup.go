package arrivals

import (
	"time"

	"github.com/rs/zerolog"

	"tidbyt.dev/arrivals/metrics"
	"tidbyt.dev/arrivals/model"
	"tidbyt.dev/arrivals/parse"
	"tidbyt.dev/arrivals/storage"
)

// Resolves scheduled arrival instants from the static schedule.
// Lookups never fail: anything that prevents an answer yields the
// zero time, with unexpected problems logged and counted.
type Lookup struct {
	Location *time.Location
	Logger   zerolog.Logger
	Metrics  *metrics.Collector
}

// Scheduled arrival of tripID at stopID on the service day of
// refDate, in the civil zone. Zero if the index is nil or has no
// usable entry.
func (l *Lookup) ScheduledArrival(index storage.IndexReader, tripID string, stopID string, refDate time.Time) time.Time {
	if index == nil {
		return time.Time{}
	}

	raw, found, err := index.ScheduledArrival(tripID, stopID)
	if err != nil {
		l.Logger.Warn().Err(err).Str("trip_id", tripID).Str("stop_id", stopID).Msg("schedule lookup failed")
		l.Metrics.LookupFailure("storage")
		return time.Time{}
	}
	// Non-timepoint rows may leave arrival_time empty.
	if !found || raw == "" {
		return time.Time{}
	}

	tod, err := parse.ParseTimeOfDay(raw)
	if err != nil {
		l.Logger.Warn().Err(err).Str("trip_id", tripID).Str("stop_id", stopID).Msg("malformed arrival_time in schedule")
		l.Metrics.LookupFailure("malformed_time")
		return time.Time{}
	}

	return ScheduledInstant(tod, refDate, l.Location)
}

// Places a schedule time-of-day on the calendar date of refDate in
// loc. Hours of 24 and above roll over into the next day.
func ScheduledInstant(tod model.TimeOfDay, refDate time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}

	year, month, day := refDate.In(loc).Date()

	hours := tod.Hours
	if hours >= 24 {
		hours -= 24
		day++
	}

	// time.Date normalizes day and hour overflow.
	return time.Date(year, month, day, hours, tod.Minutes, tod.Seconds, 0, loc)
}
