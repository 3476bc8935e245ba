package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"
)

// FeedRecord is one alert held by the fake service.
type FeedRecord struct {
	ID          int64
	Description string
	SasURL      string
	Timestamp   time.Time
	Resolved    bool
}

// FeedServer is an in-process fake of the remote alert service. It
// honors the documented query contract: pages contain only unresolved
// records with id strictly greater than the requested cutoff, capped
// at the requested page size.
type FeedServer struct {
	APIKey string

	mu          sync.Mutex
	records     map[int64]*FeedRecord
	counter     int64
	failFeed    bool
	failResolve bool
	failCounter bool
	feedCalls   int
	server      *httptest.Server
}

// StartFeedServer starts a fake feed service requiring the given API key.
func StartFeedServer(t *testing.T, apiKey string) *FeedServer {
	t.Helper()

	fs := &FeedServer{
		APIKey:  apiKey,
		records: make(map[int64]*FeedRecord),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/FileData", fs.handleFeed)
	mux.HandleFunc("/resolvealert", fs.handleResolve)
	mux.HandleFunc("/Counter", fs.handleCounter)

	fs.server = httptest.NewServer(mux)
	t.Cleanup(fs.server.Close)
	return fs
}

// URL returns the base URL of the fake service.
func (fs *FeedServer) URL() string {
	return fs.server.URL
}

// Seed adds an unresolved record.
func (fs *FeedServer) Seed(id int64, description string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.records[id] = &FeedRecord{
		ID:          id,
		Description: description,
		SasURL:      "https://blob.example.com/" + strconv.FormatInt(id, 10),
		Timestamp:   time.Now().UTC().Truncate(time.Second),
	}
}

// SetCounter sets the occupancy counter value.
func (fs *FeedServer) SetCounter(value int64) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.counter = value
}

// FailFeed makes subsequent page fetches return 500.
func (fs *FeedServer) FailFeed(fail bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.failFeed = fail
}

// FailResolve makes subsequent resolve calls return 500.
func (fs *FeedServer) FailResolve(fail bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.failResolve = fail
}

// FailCounter makes subsequent counter fetches return 500.
func (fs *FeedServer) FailCounter(fail bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.failCounter = fail
}

// FeedCalls returns how many page fetches the service has served.
func (fs *FeedServer) FeedCalls() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.feedCalls
}

// IsResolved reports whether the record is marked resolved server-side.
func (fs *FeedServer) IsResolved(id int64) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	rec, ok := fs.records[id]
	return ok && rec.Resolved
}

func (fs *FeedServer) authorized(r *http.Request) bool {
	return r.Header.Get("X-API-Key") == fs.APIKey
}

func (fs *FeedServer) handleFeed(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.feedCalls++

	if !fs.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if fs.failFeed {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	cutoff, _ := strconv.ParseInt(r.URL.Query().Get("cutoffId"), 10, 64)
	pageSize, err := strconv.Atoi(r.URL.Query().Get("pageSize"))
	if err != nil || pageSize <= 0 {
		pageSize = 100
	}

	var ids []int64
	for id, rec := range fs.records {
		if id > cutoff && !rec.Resolved {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > pageSize {
		ids = ids[:pageSize]
	}

	type wireAlert struct {
		FileID    string `json:"fileId"`
		SasURL    string `json:"sasUrl"`
		Alert     string `json:"alert"`
		Timestamp string `json:"timestamp"`
	}
	resp := struct {
		Data []wireAlert `json:"data"`
	}{Data: []wireAlert{}}

	for _, id := range ids {
		rec := fs.records[id]
		resp.Data = append(resp.Data, wireAlert{
			FileID:    strconv.FormatInt(rec.ID, 10),
			SasURL:    rec.SasURL,
			Alert:     rec.Description,
			Timestamp: rec.Timestamp.Format(time.RFC3339),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (fs *FeedServer) handleResolve(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if !fs.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if fs.failResolve {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id, err := strconv.ParseInt(r.URL.Query().Get("fileId"), 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// Resolving an unknown or already-resolved id is accepted; the
	// service is the source of truth and the call is idempotent.
	if rec, ok := fs.records[id]; ok {
		rec.Resolved = true
	}
	w.WriteHeader(http.StatusOK)
}

func (fs *FeedServer) handleCounter(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if !fs.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if fs.failCounter {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	type counterRow struct {
		RowKey string `json:"rowKey"`
		Count  int64  `json:"count"`
	}
	resp := struct {
		Data []counterRow `json:"data"`
	}{
		Data: []counterRow{
			{RowKey: "stale_counter", Count: -1},
			{RowKey: "unique_counter", Count: fs.counter},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
