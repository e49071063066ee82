package storage

import (
	"tidbyt.dev/arrivals/model"
)

// Storage holds parsed static schedule indexes, keyed by an
// identifier chosen by the caller (typically a hash of the archive).
// Indexes live for the lifetime of the process.
type Storage interface {
	// Gets a writer for a new index with the given ID. Any
	// existing index with the same ID is replaced.
	GetWriter(id string) (IndexWriter, error)

	// Gets a reader for a previously written index.
	GetReader(id string) (IndexReader, error)

	// Releases the index with the given ID. Readers obtained
	// before the call may start failing.
	Drop(id string) error
}

// Summary of a parsed static archive.
type IndexMetadata struct {
	ID              string
	Timezone        string
	Stops           int
	ScheduleEntries int
	MaxArrival      string

	// Rows in stops.txt and stop_times.txt that failed validation
	// and were left out.
	SkippedRows int
}

// Writes stops and schedule entries for a single index.
//
// As stop_times.txt tends to be very large, BeginStopTimes() and
// EndStopTimes() are called before and after all calls to
// WriteStopTime(), allowing transactions/batching/whathaveyou.
//
// When the same (trip_id, stop_id) pair is written more than once,
// the first entry written is kept.
type IndexWriter interface {
	WriteStop(stop *model.Stop) error
	BeginStopTimes() error
	WriteStopTime(entry *model.ScheduleEntry) error
	EndStopTimes() error
	Close() error
}

// Read side of an index. Safe for concurrent use once the writer
// has been closed.
type IndexReader interface {
	// Stop with the given ID, or nil if there's no such stop.
	Stop(stopID string) (*model.Stop, error)

	// Raw arrival_time of the first entry for (tripID, stopID).
	// Second return value is false if there's no entry.
	ScheduledArrival(tripID string, stopID string) (string, bool, error)

	// Number of stops and schedule entries in the index.
	Counts() (int, int, error)
}
