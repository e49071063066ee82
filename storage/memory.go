package storage

import (
	"fmt"
	"sync"

	"tidbyt.dev/arrivals/model"
)

// In memory implementation of Storage below

type MemoryStorage struct {
	mutex   sync.RWMutex
	indexes map[string]*MemoryIndex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		indexes: map[string]*MemoryIndex{},
	}
}

func (s *MemoryStorage) GetWriter(id string) (IndexWriter, error) {
	index := &MemoryIndex{
		stops:    map[string]*model.Stop{},
		arrivals: map[scheduleKey]string{},
	}

	s.mutex.Lock()
	s.indexes[id] = index
	s.mutex.Unlock()

	return index, nil
}

func (s *MemoryStorage) GetReader(id string) (IndexReader, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	index, found := s.indexes[id]
	if !found {
		return nil, fmt.Errorf("index %s does not exist", id)
	}
	return index, nil
}

func (s *MemoryStorage) Drop(id string) error {
	s.mutex.Lock()
	delete(s.indexes, id)
	s.mutex.Unlock()
	return nil
}

type scheduleKey struct {
	tripID string
	stopID string
}

// Maps keyed on stop_id and (trip_id, stop_id). Written by a single
// goroutine, then read concurrently.
type MemoryIndex struct {
	stops    map[string]*model.Stop
	arrivals map[scheduleKey]string
}

func (m *MemoryIndex) WriteStop(stop *model.Stop) error {
	if _, found := m.stops[stop.ID]; found {
		return fmt.Errorf("repeated stop_id '%s'", stop.ID)
	}
	s := *stop
	m.stops[stop.ID] = &s
	return nil
}

func (m *MemoryIndex) BeginStopTimes() error {
	return nil
}

func (m *MemoryIndex) WriteStopTime(entry *model.ScheduleEntry) error {
	key := scheduleKey{entry.TripID, entry.StopID}
	if _, found := m.arrivals[key]; found {
		return nil
	}
	m.arrivals[key] = entry.Arrival
	return nil
}

func (m *MemoryIndex) EndStopTimes() error {
	return nil
}

func (m *MemoryIndex) Close() error {
	return nil
}

func (m *MemoryIndex) Stop(stopID string) (*model.Stop, error) {
	stop, found := m.stops[stopID]
	if !found {
		return nil, nil
	}
	s := *stop
	return &s, nil
}

func (m *MemoryIndex) ScheduledArrival(tripID string, stopID string) (string, bool, error) {
	arrival, found := m.arrivals[scheduleKey{tripID, stopID}]
	return arrival, found, nil
}

func (m *MemoryIndex) Counts() (int, int, error) {
	return len(m.stops), len(m.arrivals), nil
}
