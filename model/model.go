package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Display formats for instants rendered in the civil time zone.
const (
	ClockFormat     = "03:04 PM"
	TimestampFormat = "2006-01-02 03:04:05 PM"
)

const (
	UnknownDestination   = "Unknown Destination"
	UnavailableScheduled = "Unavailable"
	UnavailableStopName  = "Stop Name Unavailable"
)

// A stop from stops.txt. Only the fields needed for name resolution
// are retained.
type Stop struct {
	ID            string
	Name          string
	ParentStation string
}

// A single (trip_id, stop_id) row from stop_times.txt. Arrival holds
// the raw "HH:MM:SS" value from the file. It is validated on lookup,
// not on load.
type ScheduleEntry struct {
	TripID       string
	StopID       string
	StopSequence uint32
	Arrival      string
}

// Wall-clock offset from the start of a service day. Hours may
// exceed 23 for trips that run past midnight.
type TimeOfDay struct {
	Hours   int
	Minutes int
	Seconds int
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hours, t.Minutes, t.Seconds)
}

// Duration since the start of the service day.
func (t TimeOfDay) Duration() time.Duration {
	return time.Duration(t.Hours)*time.Hour +
		time.Duration(t.Minutes)*time.Minute +
		time.Duration(t.Seconds)*time.Second
}

// One stop-time prediction from the realtime feed. Zero Arrival or
// Departure means the feed didn't provide it.
type RealtimeEvent struct {
	TripID      string
	RouteID     string
	StopID      string
	Destination string
	Arrival     time.Time
	Departure   time.Time
}

// The instant the train is expected at the stop. Arrival is
// preferred over departure. Zero if neither is set.
func (e RealtimeEvent) Instant() time.Time {
	if !e.Arrival.IsZero() {
		return e.Arrival
	}
	return e.Departure
}

type DelayKind int

const (
	// Zero value: no scheduled time to compare against.
	DelayUnknown DelayKind = iota
	DelayOnTime
	DelayLate
	DelayEarly
)

func (k DelayKind) String() string {
	switch k {
	case DelayOnTime:
		return "on_time"
	case DelayLate:
		return "late"
	case DelayEarly:
		return "early"
	}
	return "unknown"
}

// Schedule adherence of a single arrival. Minutes is always
// non-negative and only meaningful for DelayLate and DelayEarly.
type DelayLabel struct {
	Kind    DelayKind
	Minutes int
}

func (d DelayLabel) IsKnown() bool {
	return d.Kind != DelayUnknown
}

func (d DelayLabel) String() string {
	switch d.Kind {
	case DelayOnTime:
		return "On time"
	case DelayLate:
		return fmt.Sprintf("%d min late", d.Minutes)
	case DelayEarly:
		return fmt.Sprintf("%d min early", d.Minutes)
	}
	return ""
}

// Unknown delays serialize as null.
func (d DelayLabel) MarshalJSON() ([]byte, error) {
	if !d.IsKnown() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

// A reconciled arrival as presented to clients.
type ArrivalRecord struct {
	Route            string     `json:"route"`
	Destination      string     `json:"destination"`
	ScheduledArrival string     `json:"scheduled_arrival"`
	ActualArrival    string     `json:"actual_arrival"`
	Delay            DelayLabel `json:"delay"`
	CountdownMinutes int        `json:"countdown_minutes"`

	TripID    string    `json:"-"`
	Actual    time.Time `json:"-"`
	Scheduled time.Time `json:"-"`
}

type ArrivalsResponse struct {
	StopID      string          `json:"stop_id"`
	StopName    string          `json:"stop_name"`
	RouteID     string          `json:"route_id"`
	GeneratedAt string          `json:"generated_at"`
	Arrivals    []ArrivalRecord `json:"arrivals"`
}

// Lifecycle state of the static schedule.
type StaticStatus struct {
	Loaded          bool       `json:"loaded"`
	Loading         bool       `json:"loading"`
	LoadedAt        *time.Time `json:"loaded_at,omitempty"`
	Error           string     `json:"error,omitempty"`
	Stops           int        `json:"stops"`
	ScheduleEntries int        `json:"schedule_entries"`
	SkippedRows     int        `json:"skipped_rows,omitempty"`
}
