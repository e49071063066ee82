package parse

import (
	"archive/zip"
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/arrivals/model"
	"tidbyt.dev/arrivals/storage"
)

func buildZip(t *testing.T, files map[string][]string) []byte {
	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	for filename, content := range files {
		f, err := w.Create(filename)
		require.NoError(t, err)
		_, err = f.Write([]byte(strings.Join(content, "\n")))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	return buf.Bytes()
}

// A small subway feed with a trip running past midnight
func fixtureSimple() map[string][]string {
	return map[string][]string{
		"agency.txt": {
			"agency_id,agency_name,agency_url,agency_timezone",
			"MTA NYCT,MTA New York City Transit,http://www.mta.info,America/New_York",
		},
		"stops.txt": {
			"stop_id,stop_name,stop_lat,stop_lon,location_type,parent_station",
			"127,Times Sq-42 St,40.75529,-73.987495,1,",
			"127N,Times Sq-42 St,40.75529,-73.987495,0,127",
			"127S,Times Sq-42 St,40.75529,-73.987495,0,127",
			"128,34 St-Penn Station,40.750373,-73.991057,1,",
		},
		"stop_times.txt": {
			"trip_id,arrival_time,departure_time,stop_id,stop_sequence",
			"AFA23GEN-1038-Weekday-00_000600_1..N03R,08:00:00,08:00:00,128,1",
			"AFA23GEN-1038-Weekday-00_000600_1..N03R,08:02:30,08:02:30,127N,2",
			"AFA23GEN-1038-Weekday-00_142350_1..S03R,23:59:00,23:59:00,127S,1",
			"AFA23GEN-1038-Weekday-00_142350_1..S03R,24:01:30,24:01:30,128,2",
		},
		// Not needed, and ignored
		"trips.txt": {
			"route_id,service_id,trip_id",
			"1,Weekday,AFA23GEN-1038-Weekday-00_000600_1..N03R",
		},
	}
}

func TestParseValidFeed(t *testing.T) {
	s := storage.NewMemoryStorage()
	writer, err := s.GetWriter("test")
	require.NoError(t, err)

	metadata, err := ParseStatic(context.Background(), writer, buildZip(t, fixtureSimple()))
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", metadata.Timezone)
	assert.Equal(t, 4, metadata.Stops)
	assert.Equal(t, 4, metadata.ScheduleEntries)
	assert.Equal(t, "24:01:30", metadata.MaxArrival)
	assert.Equal(t, 0, metadata.SkippedRows)

	reader, err := s.GetReader("test")
	require.NoError(t, err)

	stop, err := reader.Stop("127N")
	require.NoError(t, err)
	assert.Equal(t, &model.Stop{ID: "127N", Name: "Times Sq-42 St", ParentStation: "127"}, stop)

	arrival, found, err := reader.ScheduledArrival("AFA23GEN-1038-Weekday-00_142350_1..S03R", "128")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "24:01:30", arrival)
}

func TestParseMissingRequiredFile(t *testing.T) {
	for _, file := range []string{
		"stops.txt",
		"stop_times.txt",
	} {
		writer, err := storage.NewMemoryStorage().GetWriter("test")
		require.NoError(t, err)

		files := fixtureSimple()
		delete(files, file)
		_, err = ParseStatic(context.Background(), writer, buildZip(t, files))
		assert.Error(t, err, "missing "+file)
	}

	// Ok for agency.txt to be missing. No timezone then.
	writer, err := storage.NewMemoryStorage().GetWriter("test")
	require.NoError(t, err)
	files := fixtureSimple()
	delete(files, "agency.txt")
	metadata, err := ParseStatic(context.Background(), writer, buildZip(t, files))
	require.NoError(t, err)
	assert.Equal(t, "", metadata.Timezone)
	assert.Equal(t, 4, metadata.ScheduleEntries)
}

func TestParseBrokenFile(t *testing.T) {
	// Individual files in the feed broken.
	for _, file := range []string{
		"agency.txt",
		"stops.txt",
		"stop_times.txt",
	} {
		writer, err := storage.NewMemoryStorage().GetWriter("test")
		require.NoError(t, err)

		files := fixtureSimple()
		files[file][1] = "malformed"

		_, err = ParseStatic(context.Background(), writer, buildZip(t, files))
		assert.Error(t, err, "malformed "+file)
	}

	// Zip file broken.
	writer, err := storage.NewMemoryStorage().GetWriter("test")
	require.NoError(t, err)

	_, err = ParseStatic(context.Background(), writer, []byte("malformed"))
	assert.Error(t, err, "malformed zip file")
}

// Rows with dangling references are skipped. Everything else in the
// archive still loads.
func TestParseSkipsInvalidRows(t *testing.T) {
	files := fixtureSimple()
	files["stops.txt"] = append(files["stops.txt"],
		"129,,40.747215,-73.993365,1,",
		"130N,28 St,40.747215,-73.993365,0,130",
	)
	files["stop_times.txt"] = append(files["stop_times.txt"],
		"AFA23GEN-1038-Weekday-00_000600_1..N03R,08:04:00,08:04:00,999X,3",
		",08:06:00,08:06:00,127N,4",
	)

	s := storage.NewMemoryStorage()
	writer, err := s.GetWriter("test")
	require.NoError(t, err)

	metadata, err := ParseStatic(context.Background(), writer, buildZip(t, files))
	require.NoError(t, err)
	assert.Equal(t, 5, metadata.Stops)
	assert.Equal(t, 4, metadata.ScheduleEntries)
	assert.Equal(t, 4, metadata.SkippedRows)

	reader, err := s.GetReader("test")
	require.NoError(t, err)

	arrival, found, err := reader.ScheduledArrival("AFA23GEN-1038-Weekday-00_000600_1..N03R", "127N")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "08:02:30", arrival)

	stop, err := reader.Stop("130N")
	require.NoError(t, err)
	assert.Equal(t, &model.Stop{ID: "130N", Name: "28 St"}, stop)

	stop, err = reader.Stop("129")
	require.NoError(t, err)
	assert.Nil(t, stop)
}

func TestParseCanceled(t *testing.T) {
	writer, err := storage.NewMemoryStorage().GetWriter("test")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = ParseStatic(ctx, writer, buildZip(t, fixtureSimple()))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

// Some agencies place files in subdirectories. They shouldn't, but
// they do. Make sure we can handle that.
func TestParseUnorthodoxArchiveStructure(t *testing.T) {
	goodFiles := fixtureSimple()
	badFiles := map[string][]string{}
	for name, contents := range goodFiles {
		badFiles["google_transit/"+name] = contents
	}
	sillyZip := buildZip(t, badFiles)

	s := storage.NewSQLiteStorage()
	writer, err := s.GetWriter("test")
	require.NoError(t, err)

	metadata, err := ParseStatic(context.Background(), writer, sillyZip)
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", metadata.Timezone)
	assert.Equal(t, 4, metadata.Stops)

	reader, err := s.GetReader("test")
	require.NoError(t, err)
	stops, entries, err := reader.Counts()
	require.NoError(t, err)
	assert.Equal(t, 4, stops)
	assert.Equal(t, 4, entries)
}

func TestParseByteOrderMark(t *testing.T) {
	files := fixtureSimple()
	files["stops.txt"][0] = "\ufeff" + files["stops.txt"][0]

	s := storage.NewMemoryStorage()
	writer, err := s.GetWriter("test")
	require.NoError(t, err)

	_, err = ParseStatic(context.Background(), writer, buildZip(t, files))
	require.NoError(t, err)

	reader, err := s.GetReader("test")
	require.NoError(t, err)
	stop, err := reader.Stop("128")
	require.NoError(t, err)
	require.NotNil(t, stop)
	assert.Equal(t, "34 St-Penn Station", stop.Name)
}
