package arrivals

import (
	"strings"

	"tidbyt.dev/arrivals/model"
)

// Strips a single trailing direction letter (N, S, E or W) from a
// directional stop ID. "127N" becomes "127".
func ParentStopID(stopID string) string {
	if stopID == "" {
		return stopID
	}
	if strings.ContainsAny(stopID[len(stopID)-1:], "NSEW") {
		return stopID[:len(stopID)-1]
	}
	return stopID
}

// Resolves stop IDs to human readable names via the static schedule.
type StopNames struct {
	Store *ScheduleStore
}

// Name of the station for stopID. Directional IDs resolve via their
// parent. False if the schedule is unavailable or the stop unknown,
// including while the schedule is still loading.
func (n *StopNames) Lookup(stopID string) (string, bool) {
	if n == nil || n.Store == nil {
		return "", false
	}

	index := n.Store.Ready()
	if index == nil {
		return "", false
	}

	for _, id := range []string{ParentStopID(stopID), stopID} {
		stop, err := index.Stop(id)
		if err != nil || stop == nil || stop.Name == "" {
			continue
		}
		return stop.Name, true
	}

	return "", false
}

// Like Lookup, but with a placeholder name for unresolvable stops.
func (n *StopNames) Name(stopID string) string {
	if name, ok := n.Lookup(stopID); ok {
		return name
	}
	return model.UnavailableStopName
}
