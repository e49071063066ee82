package testutil

// Helpers and configuration for tests.

import (
	"archive/zip"
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	p "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/require"
	proto "google.golang.org/protobuf/proto"
)

func BuildZip(
	t testing.TB,
	files map[string][]string,
) []byte {

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

// A small slice of the NYC subway: the 1 train between 59 St and
// South Ferry, with both directions of Times Sq.
func SubwayStatic() map[string][]string {
	return map[string][]string{
		"agency.txt": {
			"agency_id,agency_name,agency_url,agency_timezone",
			"MTA NYCT,MTA New York City Transit,http://www.mta.info,America/New_York",
		},
		"stops.txt": {
			"stop_id,stop_name,stop_lat,stop_lon,location_type,parent_station",
			"125,59 St-Columbus Circle,40.768247,-73.981929,1,",
			"125S,59 St-Columbus Circle,40.768247,-73.981929,,125",
			"127,Times Sq-42 St,40.75529,-73.987495,1,",
			"127N,Times Sq-42 St,40.75529,-73.987495,,127",
			"127S,Times Sq-42 St,40.75529,-73.987495,,127",
			"142,South Ferry,40.702068,-74.013664,1,",
			"142S,South Ferry,40.702068,-74.013664,,142",
		},
		"stop_times.txt": {
			"trip_id,arrival_time,departure_time,stop_id,stop_sequence",
			"T1,08:00:00,08:00:00,125S,1",
			"T1,08:05:00,08:05:00,127S,2",
			"T1,08:25:00,08:25:00,142S,3",
			"T2,08:10:00,08:10:00,127S,2",
			"T3,08:15:00,08:15:00,127S,2",
			"LATE,23:58:00,23:58:00,125S,1",
			"LATE,24:03:00,24:03:00,127S,2",
		},
	}
}

// A single stop time update for BuildFeed.
type Update struct {
	TripID    string
	RouteID   string
	StopID    string
	Arrival   time.Time
	Departure time.Time
}

// Builds a GTFS-rt FeedMessage holding one TripUpdate per distinct
// trip, with stop time updates in the order given.
func BuildFeed(t testing.TB, timestamp time.Time, updates []Update) []byte {
	tripUpdates := map[string]*p.TripUpdate{}
	order := []string{}

	for _, u := range updates {
		tu, found := tripUpdates[u.TripID]
		if !found {
			tu = &p.TripUpdate{
				Trip: &p.TripDescriptor{
					TripId:  proto.String(u.TripID),
					RouteId: proto.String(u.RouteID),
				},
			}
			tripUpdates[u.TripID] = tu
			order = append(order, u.TripID)
		}

		stu := &p.TripUpdate_StopTimeUpdate{
			StopId: proto.String(u.StopID),
		}
		if !u.Arrival.IsZero() {
			stu.Arrival = &p.TripUpdate_StopTimeEvent{Time: proto.Int64(u.Arrival.Unix())}
		}
		if !u.Departure.IsZero() {
			stu.Departure = &p.TripUpdate_StopTimeEvent{Time: proto.Int64(u.Departure.Unix())}
		}
		tu.StopTimeUpdate = append(tu.StopTimeUpdate, stu)
	}

	entities := []*p.FeedEntity{}
	for _, tripID := range order {
		entities = append(entities, &p.FeedEntity{
			Id:         proto.String(tripID),
			TripUpdate: tripUpdates[tripID],
		})
	}

	data, err := proto.Marshal(&p.FeedMessage{
		Header: &p.FeedHeader{
			GtfsRealtimeVersion: proto.String("1.0"),
			Incrementality:      p.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(uint64(timestamp.Unix())),
		},
		Entity: entities,
	})
	require.NoError(t, err)

	return data
}

// Serves canned responses by path, and records requests.
type MockServer struct {
	Server *httptest.Server

	mutex    sync.Mutex
	feeds    map[string][]byte
	statuses map[string]int
	delays   map[string]time.Duration
	requests []*http.Request
}

func NewMockServer() *MockServer {
	m := &MockServer{
		feeds:    map[string][]byte{},
		statuses: map[string]int{},
		delays:   map[string]time.Duration{},
	}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handler))
	return m
}

func (m *MockServer) handler(w http.ResponseWriter, r *http.Request) {
	m.mutex.Lock()
	m.requests = append(m.requests, r)
	feed, found := m.feeds[r.URL.Path]
	status := m.statuses[r.URL.Path]
	delay := m.delays[r.URL.Path]
	m.mutex.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if status != 0 {
		w.WriteHeader(status)
		return
	}

	if !found {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Write(feed)
}

func (m *MockServer) URL(path string) string {
	return m.Server.URL + path
}

func (m *MockServer) Set(path string, body []byte) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.feeds[path] = body
	delete(m.statuses, path)
}

func (m *MockServer) SetStatus(path string, status int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.statuses[path] = status
}

func (m *MockServer) SetDelay(path string, delay time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.delays[path] = delay
}

// Number of requests made for path.
func (m *MockServer) Count(path string) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	n := 0
	for _, r := range m.requests {
		if r.URL.Path == path {
			n++
		}
	}
	return n
}

// Most recent request for path, or nil.
func (m *MockServer) Last(path string) *http.Request {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for i := len(m.requests) - 1; i >= 0; i-- {
		if m.requests[i].URL.Path == path {
			return m.requests[i]
		}
	}
	return nil
}

func (m *MockServer) Close() {
	m.Server.Close()
}
