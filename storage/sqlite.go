package storage

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"tidbyt.dev/arrivals/model"
)

// Each index is a separate in-memory SQLite database. Nothing is
// written to disk.
type SQLiteStorage struct {
	mutex sync.Mutex
	dbs   map[string]*sql.DB
}

type SQLiteIndexWriter struct {
	db                  *sql.DB
	stopTimeInsertQuery *sql.Stmt
	stopTimeInsertTx    *sql.Tx
}

type SQLiteIndexReader struct {
	db *sql.DB
}

func NewSQLiteStorage() *SQLiteStorage {
	return &SQLiteStorage{
		dbs: map[string]*sql.DB{},
	}
}

func (s *SQLiteStorage) GetWriter(id string) (IndexWriter, error) {
	// Named shared-cache databases let every connection in the
	// pool see the same data. A single connection keeps the
	// database alive and avoids table locking between them.
	sourceName := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())

	db, err := sql.Open("sqlite3", sourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	for name, query := range map[string]string{
		"stops": `
CREATE TABLE stops (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    parent_station TEXT
);`,
		"stop_times": `
CREATE TABLE stop_times (
    trip_id TEXT NOT NULL,
    stop_id TEXT NOT NULL,
    stop_sequence INTEGER NOT NULL,
    arrival_time TEXT NOT NULL,
PRIMARY KEY (trip_id, stop_id)
);`,
	} {
		_, err = db.Exec(query)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("creating %s table: %w", name, err)
		}
	}

	s.mutex.Lock()
	old := s.dbs[id]
	s.dbs[id] = db
	s.mutex.Unlock()

	if old != nil {
		old.Close()
	}

	return &SQLiteIndexWriter{
		db: db,
	}, nil
}

func (s *SQLiteStorage) GetReader(id string) (IndexReader, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	db, found := s.dbs[id]
	if !found {
		return nil, fmt.Errorf("index %s does not exist", id)
	}

	return &SQLiteIndexReader{
		db: db,
	}, nil
}

func (s *SQLiteStorage) Drop(id string) error {
	s.mutex.Lock()
	db, found := s.dbs[id]
	delete(s.dbs, id)
	s.mutex.Unlock()

	if !found {
		return nil
	}

	err := db.Close()
	if err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

func (f *SQLiteIndexWriter) WriteStop(stop *model.Stop) error {
	_, err := f.db.Exec(`
INSERT INTO stops (id, name, parent_station)
VALUES (?, ?, ?)`,
		stop.ID,
		stop.Name,
		stop.ParentStation,
	)
	if err != nil {
		return fmt.Errorf("inserting stop: %w", err)
	}
	return nil
}

func (f *SQLiteIndexWriter) BeginStopTimes() error {
	// transaction with prepared statement.
	var err error
	f.stopTimeInsertTx, err = f.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning stop_time insert transaction: %w", err)
	}

	// OR IGNORE keeps the first row for each (trip_id, stop_id).
	f.stopTimeInsertQuery, err = f.stopTimeInsertTx.Prepare(`
INSERT OR IGNORE INTO stop_times (trip_id, stop_id, stop_sequence, arrival_time)
VALUES (?, ?, ?, ?)`)
	if err != nil {
		f.stopTimeInsertTx.Rollback()
		f.stopTimeInsertTx = nil
		return fmt.Errorf("preparing stop_time insert: %w", err)
	}

	return nil
}

func (f *SQLiteIndexWriter) WriteStopTime(entry *model.ScheduleEntry) error {
	if f.stopTimeInsertQuery == nil {
		return fmt.Errorf("stop_time written outside BeginStopTimes/EndStopTimes")
	}

	_, err := f.stopTimeInsertQuery.Exec(
		entry.TripID,
		entry.StopID,
		entry.StopSequence,
		entry.Arrival,
	)
	if err != nil {
		f.stopTimeInsertQuery.Close()
		f.stopTimeInsertTx.Rollback()
		f.stopTimeInsertTx = nil
		f.stopTimeInsertQuery = nil
		return fmt.Errorf("inserting stop_time: %w", err)
	}

	return nil
}

func (f *SQLiteIndexWriter) EndStopTimes() error {
	if f.stopTimeInsertTx == nil {
		return fmt.Errorf("no stop_time insert transaction")
	}

	// commit transaction and clean up
	f.stopTimeInsertQuery.Close()
	err := f.stopTimeInsertTx.Commit()
	f.stopTimeInsertTx = nil
	f.stopTimeInsertQuery = nil
	if err != nil {
		return fmt.Errorf("committing stop_time insert transaction: %w", err)
	}

	return nil
}

func (f *SQLiteIndexWriter) Close() error {
	if f.stopTimeInsertTx != nil {
		f.stopTimeInsertQuery.Close()
		f.stopTimeInsertTx.Rollback()
		f.stopTimeInsertTx = nil
		f.stopTimeInsertQuery = nil
	}
	return nil
}

func (f *SQLiteIndexReader) Stop(stopID string) (*model.Stop, error) {
	var stop model.Stop
	var parent sql.NullString
	err := f.db.QueryRow(`
SELECT id, name, parent_station
FROM stops
WHERE id = ?`, stopID).Scan(&stop.ID, &stop.Name, &parent)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying stop: %w", err)
	}
	stop.ParentStation = parent.String
	return &stop, nil
}

func (f *SQLiteIndexReader) ScheduledArrival(tripID string, stopID string) (string, bool, error) {
	var arrival string
	err := f.db.QueryRow(`
SELECT arrival_time
FROM stop_times
WHERE trip_id = ? AND stop_id = ?`, tripID, stopID).Scan(&arrival)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("querying stop_time: %w", err)
	}
	return arrival, true, nil
}

func (f *SQLiteIndexReader) Counts() (int, int, error) {
	var stops, entries int
	err := f.db.QueryRow(`
SELECT
    (SELECT COUNT(*) FROM stops),
    (SELECT COUNT(*) FROM stop_times)`).Scan(&stops, &entries)
	if err != nil {
		return 0, 0, fmt.Errorf("counting rows: %w", err)
	}
	return stops, entries, nil
}
