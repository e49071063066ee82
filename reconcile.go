package arrivals

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"tidbyt.dev/arrivals/metrics"
	"tidbyt.dev/arrivals/model"
	"tidbyt.dev/arrivals/storage"
)

// Most arrivals returned for a single stop.
const MaxArrivals = 10

// Combines realtime predictions for a stop with the static schedule.
type Reconciler struct {
	Feed     FeedSource
	Store    *ScheduleStore
	Lookup   *Lookup
	Location *time.Location
	Limit    int
	TimeNow  func() time.Time
	Logger   zerolog.Logger
	Metrics  *metrics.Collector
}

// Upcoming arrivals at stopID for routeID, soonest first.
func (r *Reconciler) Reconcile(ctx context.Context, stopID string, routeID string) ([]model.ArrivalRecord, error) {
	start := time.Now()
	defer func() { r.Metrics.Reconciled(time.Since(start)) }()

	events, err := r.Feed.Events(ctx, routeID)
	if err != nil {
		return nil, classifyFetchError("fetching realtime feed", err)
	}

	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}

	// One clock reading and one schedule snapshot for the whole
	// batch. The schedule is never waited for.
	now := r.now().In(loc)
	index := r.scheduleIndex()

	records := []model.ArrivalRecord{}
	for _, ev := range events {
		if ev.StopID != stopID {
			continue
		}

		if err := validateEvent(ev); err != nil {
			r.Logger.Warn().Err(err).Str("trip_id", ev.TripID).Str("stop_id", ev.StopID).Msg("dropping realtime event")
			r.Metrics.MalformedEvent()
			continue
		}

		actual := ev.Instant()
		if actual.IsZero() {
			continue
		}
		actual = actual.In(loc)

		var scheduled time.Time
		if index != nil {
			scheduled = r.Lookup.ScheduledArrival(index, ev.TripID, stopID, now)
		}

		records = append(records, buildRecord(ev, routeID, actual, scheduled, now, loc))
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Actual.Before(records[j].Actual)
	})

	limit := r.Limit
	if limit <= 0 {
		limit = MaxArrivals
	}
	if len(records) > limit {
		records = records[:limit]
	}

	return records, nil
}

func (r *Reconciler) now() time.Time {
	if r.TimeNow != nil {
		return r.TimeNow()
	}
	return time.Now()
}

func (r *Reconciler) scheduleIndex() storage.IndexReader {
	if r.Store == nil || r.Lookup == nil {
		return nil
	}
	index := r.Store.Ready()
	if index == nil {
		r.Logger.Debug().Msg("static schedule unavailable, scheduled times omitted")
		return nil
	}
	return index
}

var (
	errMissingTripID = errors.New("missing trip_id")
	errNegativeTime  = errors.New("timestamp before 1970")
)

func validateEvent(ev model.RealtimeEvent) error {
	if ev.TripID == "" {
		return newError(KindMalformedEvent, "validating event", errMissingTripID)
	}
	if (!ev.Arrival.IsZero() && ev.Arrival.Unix() < 0) || (!ev.Departure.IsZero() && ev.Departure.Unix() < 0) {
		return newError(KindMalformedEvent, "validating event", errNegativeTime)
	}
	return nil
}

func buildRecord(
	ev model.RealtimeEvent,
	routeID string,
	actual time.Time,
	scheduled time.Time,
	now time.Time,
	loc *time.Location,
) model.ArrivalRecord {
	record := model.ArrivalRecord{
		Route:            ev.RouteID,
		Destination:      ev.Destination,
		ScheduledArrival: model.UnavailableScheduled,
		ActualArrival:    actual.Format(model.ClockFormat),
		Delay:            Classify(actual, scheduled),
		CountdownMinutes: Countdown(actual, now),
		TripID:           ev.TripID,
		Actual:           actual,
		Scheduled:        scheduled,
	}

	if record.Route == "" {
		record.Route = routeID
	}
	if record.Destination == "" {
		record.Destination = model.UnknownDestination
	}
	if !scheduled.IsZero() {
		record.ScheduledArrival = scheduled.In(loc).Format(model.ClockFormat)
	}

	return record
}
