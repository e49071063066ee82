package parse

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"tidbyt.dev/arrivals/model"
	"tidbyt.dev/arrivals/storage"
)

type StopTimeCSV struct {
	TripID       string `csv:"trip_id"`
	StopID       string `csv:"stop_id"`
	StopSequence uint32 `csv:"stop_sequence"`
	ArrivalTime  string `csv:"arrival_time"`
}

// Parses a GTFS time of the form "HH:MM:SS". Hours run past 23 for
// service continuing after midnight, so "25:03:00" is valid.
func ParseTimeOfDay(s string) (model.TimeOfDay, error) {
	split := strings.Split(strings.TrimSpace(s), ":")
	if len(split) != 3 {
		return model.TimeOfDay{}, fmt.Errorf("found %d parts in '%s'", len(split), s)
	}

	hms := [3]int{}
	for i, str := range split {
		j, err := strconv.Atoi(str)
		if err != nil {
			return model.TimeOfDay{}, fmt.Errorf("non-integer in '%s' pos %d", s, i)
		}
		hms[i] = j
	}

	if hms[0] < 0 || hms[0] > 99 {
		return model.TimeOfDay{}, fmt.Errorf("invalid hour in '%s'", s)
	}

	if hms[1] < 0 || hms[1] > 59 {
		return model.TimeOfDay{}, fmt.Errorf("invalid minute in '%s'", s)
	}

	if hms[2] < 0 || hms[2] > 59 {
		return model.TimeOfDay{}, fmt.Errorf("invalid second in '%s'", s)
	}

	return model.TimeOfDay{Hours: hms[0], Minutes: hms[1], Seconds: hms[2]}, nil
}

// How many stop_times rows to parse between deadline checks.
const stopTimesCheckEvery = 10000

// Writes one schedule entry per stop_times.txt row. Arrival times
// are stored as found; a malformed value only affects lookups of
// that entry. Rows without a trip_id, or referencing a stop missing
// from stops, are skipped.
//
// Returns the latest well-formed arrival_time seen, as "HH:MM:SS",
// the number of rows written and the number of rows skipped.
func ParseStopTimes(
	ctx context.Context,
	writer storage.IndexWriter,
	data io.Reader,
	stops map[string]bool,
) (string, int, int, error) {

	var maxArrival model.TimeOfDay
	numRows := 0
	numSkipped := 0

	i := -1
	err := gocsv.UnmarshalToCallbackWithError(data, func(st *StopTimeCSV) error {
		i += 1
		if i%stopTimesCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return errors.Wrapf(err, "row %d", i+1)
			}
		}

		if st.TripID == "" || st.StopID == "" || !stops[st.StopID] {
			numSkipped++
			return nil
		}

		if tod, err := ParseTimeOfDay(st.ArrivalTime); err == nil && tod.Duration() > maxArrival.Duration() {
			maxArrival = tod
		}

		err := writer.WriteStopTime(&model.ScheduleEntry{
			TripID:       st.TripID,
			StopID:       st.StopID,
			StopSequence: st.StopSequence,
			Arrival:      strings.TrimSpace(st.ArrivalTime),
		})
		if err != nil {
			return errors.Wrapf(err, "writing stop_time (row %d)", i+1)
		}
		numRows++

		return nil
	})

	if err != nil {
		return "", 0, 0, errors.Wrap(err, "unmarshaling stop_times csv")
	}

	return maxArrival.String(), numRows, numSkipped, nil
}
