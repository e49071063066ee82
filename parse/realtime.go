package parse

import (
	"context"
	"fmt"
	"time"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	proto "google.golang.org/protobuf/proto"
)

// A single stop time prediction. Zero ArrivalTime or DepartureTime
// means the feed didn't provide one.
type StopTimeEvent struct {
	TripID        string
	RouteID       string
	StopID        string
	ArrivalTime   time.Time
	DepartureTime time.Time

	// Last stop of the trip, as per the trip update. Useful for
	// figuring out where the train is headed.
	TerminalStopID string
}

// Contains key data from a GTFS Realtime feed
type Realtime struct {
	// Timestamp of the feed. If loaded from multiple feeds, the
	// last one wins.
	Timestamp uint64
	Events    []*StopTimeEvent

	// These exist to simplify debugging down the road
	NumTrips         int
	NumCanceledTrips int
	NumSkippedStops  int
}

func ParseRealtime(ctx context.Context, feeds [][]byte) (*Realtime, error) {
	rt := &Realtime{
		Events: []*StopTimeEvent{},
	}

	for _, feed := range feeds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Unmarshal proto
		f := &gtfsproto.FeedMessage{}
		err := proto.Unmarshal(feed, f)
		if err != nil {
			return nil, fmt.Errorf("unmarshaling protobuf: %w", err)
		}

		// Header
		header := f.GetHeader()

		version := header.GetGtfsRealtimeVersion()
		if version != "2.0" && version != "1.0" {
			return nil, fmt.Errorf("version %s not supported", version)
		}

		if header.GetIncrementality() != gtfsproto.FeedHeader_FULL_DATASET {
			return nil, fmt.Errorf("feed incrementality %s not supported", header.GetIncrementality())
		}

		rt.Timestamp = header.GetTimestamp()

		processEntities(rt, f.GetEntity())
	}

	return rt, nil
}

func processEntities(rt *Realtime, entities []*gtfsproto.FeedEntity) {
	for _, entity := range entities {
		// We only care about TripUpdates
		tu := entity.GetTripUpdate()
		if tu == nil {
			continue
		}

		trip := tu.GetTrip()

		// Canceled trips won't arrive anywhere. ADDED and
		// DUPLICATED trips still do, they just won't have a
		// scheduled time to compare against.
		if trip.GetScheduleRelationship() == gtfsproto.TripDescriptor_CANCELED {
			rt.NumCanceledTrips++
			continue
		}
		rt.NumTrips++

		updates := tu.GetStopTimeUpdate()
		terminal := ""
		if len(updates) > 0 {
			terminal = updates[len(updates)-1].GetStopId()
		}

		for _, update := range updates {
			switch update.GetScheduleRelationship() {
			case gtfsproto.TripUpdate_StopTimeUpdate_SKIPPED:
				rt.NumSkippedStops++
				continue
			case gtfsproto.TripUpdate_StopTimeUpdate_NO_DATA:
				continue
			}

			rt.Events = append(rt.Events, &StopTimeEvent{
				TripID:         trip.GetTripId(),
				RouteID:        trip.GetRouteId(),
				StopID:         update.GetStopId(),
				ArrivalTime:    eventTime(update.GetArrival()),
				DepartureTime:  eventTime(update.GetDeparture()),
				TerminalStopID: terminal,
			})
		}
	}
}

func eventTime(ev *gtfsproto.TripUpdate_StopTimeEvent) time.Time {
	unix := ev.GetTime()
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0).UTC()
}
