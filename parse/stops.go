package parse

import (
	"fmt"
	"io"

	"github.com/gocarina/gocsv"

	"tidbyt.dev/arrivals/model"
	"tidbyt.dev/arrivals/storage"
)

type StopCSV struct {
	ID            string `csv:"stop_id"`
	Name          string `csv:"stop_name"`
	LocationType  int8   `csv:"location_type"`
	ParentStation string `csv:"parent_station"`
}

const (
	locationTypeGenericNode  = 3
	locationTypeBoardingArea = 4
)

// Writes stops.txt to the index, returning the set of stop IDs
// written and the number of rows skipped. Rows without a stop_id,
// repeats of an earlier stop_id and rows missing a required stop_name
// are skipped. A parent_station that doesn't exist is dropped, the
// stop itself is kept.
func ParseStops(writer storage.IndexWriter, data io.Reader) (map[string]bool, int, error) {
	stopCsv := []*StopCSV{}
	if err := gocsv.Unmarshal(data, &stopCsv); err != nil {
		return nil, 0, fmt.Errorf("unmarshaling stops csv: %w", err)
	}

	skipped := 0
	stopIDs := map[string]bool{}
	valid := make([]*StopCSV, 0, len(stopCsv))
	for _, st := range stopCsv {
		if st.ID == "" || stopIDs[st.ID] {
			skipped++
			continue
		}

		// stop_name is "[o]ptional for locations which are
		// generic nodes (location_type=3) or boarding areas
		// (location_type=4)" and otherwise required
		if st.Name == "" && st.LocationType != locationTypeGenericNode && st.LocationType != locationTypeBoardingArea {
			skipped++
			continue
		}

		stopIDs[st.ID] = true
		valid = append(valid, st)
	}

	for _, st := range valid {
		parent := st.ParentStation
		if parent != "" && !stopIDs[parent] {
			skipped++
			parent = ""
		}

		err := writer.WriteStop(&model.Stop{
			ID:            st.ID,
			Name:          st.Name,
			ParentStation: parent,
		})
		if err != nil {
			return nil, 0, fmt.Errorf("writing stop '%s': %w", st.ID, err)
		}
	}

	return stopIDs, skipped, nil
}
