package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/alertsync/internal/client"
	"github.com/t77yq/alertsync/internal/credential"
	"github.com/t77yq/alertsync/internal/feed"
	"github.com/t77yq/alertsync/internal/history"
	"github.com/t77yq/alertsync/internal/model"
	"github.com/t77yq/alertsync/internal/monitor"
	"github.com/t77yq/alertsync/internal/poller"
	"github.com/t77yq/alertsync/internal/testutil"
)

type fixture struct {
	feed   *testutil.FeedServer
	server *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := zaptest.NewLogger(t)
	remote := testutil.StartFeedServer(t, "secret-1")

	gate := credential.NewGate()
	gate.Set("secret-1")

	resolutionLog, err := history.NewSQLiteResolutionLog(logger, history.InMemoryDSN)
	require.NoError(t, err)
	t.Cleanup(func() { resolutionLog.Close() })

	feedClient := client.NewFeedClient(remote.URL(), gate, 5*time.Second, logger)
	synchronizer := feed.NewSynchronizer(feedClient, gate, resolutionLog, logger)
	counterPoller := poller.NewCounterPoller(feedClient, gate, time.Second, logger)
	statsReporter := monitor.NewStatsReporter(synchronizer, counterPoller, time.Minute, logger)

	srv := NewServer(":0", synchronizer, counterPoller, statsReporter, resolutionLog, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &fixture{feed: remote, server: ts}
}

func (f *fixture) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (f *fixture) post(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Post(f.server.URL+path, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestAlertFlow(t *testing.T) {
	f := newFixture(t)
	f.feed.Seed(3, "helmet missing")
	f.feed.Seed(1, "no vest")
	f.feed.Seed(2, "restricted zone")

	// Load the first page.
	status := f.post(t, "/alerts/load", nil)
	require.Equal(t, http.StatusOK, status)

	var alerts struct {
		Alerts []model.Alert `json:"alerts"`
		Cutoff int64         `json:"cutoff"`
	}
	status = f.get(t, "/alerts", &alerts)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, alerts.Alerts, 3)
	assert.EqualValues(t, 3, alerts.Alerts[0].ID)
	assert.EqualValues(t, 3, alerts.Cutoff)

	// Resolve one and observe the reconciled snapshot.
	status = f.post(t, "/alerts/2/resolve", nil)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, f.feed.IsResolved(2))

	status = f.get(t, "/alerts", &alerts)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, alerts.Alerts, 2)
	assert.EqualValues(t, 3, alerts.Alerts[0].ID)
	assert.EqualValues(t, 1, alerts.Alerts[1].ID)

	// The resolution shows up in the session history.
	var hist struct {
		Resolutions []history.Resolution `json:"resolutions"`
		Total       int                  `json:"total"`
	}
	status = f.get(t, "/history", &hist)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, hist.Total)
	require.Len(t, hist.Resolutions, 1)
	assert.EqualValues(t, 2, hist.Resolutions[0].AlertID)
}

func TestLoadMoreFailureSurfacesRetryableError(t *testing.T) {
	f := newFixture(t)
	f.feed.FailFeed(true)

	var body map[string]string
	status := f.post(t, "/alerts/load", &body)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Contains(t, body["error"], "try again")

	// The guard is released; a later trigger succeeds.
	f.feed.FailFeed(false)
	f.feed.Seed(1, "no vest")
	status = f.post(t, "/alerts/load", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestResolveValidation(t *testing.T) {
	f := newFixture(t)

	status := f.post(t, "/alerts/not-a-number/resolve", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	f.feed.FailResolve(true)
	var body map[string]string
	status = f.post(t, "/alerts/7/resolve", &body)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Contains(t, body["error"], "try again")
}

func TestCounterEndpoint(t *testing.T) {
	f := newFixture(t)

	// Poller not started yet: no published value.
	var body map[string]any
	status := f.get(t, "/counter", &body)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["available"])
}

func TestStatsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.feed.Seed(1, "no vest")
	require.Equal(t, http.StatusOK, f.post(t, "/alerts/load", nil))

	var stats monitor.Stats
	status := f.get(t, "/stats", &stats)
	require.Equal(t, http.StatusOK, status)
	// The reporter has not sampled yet; the endpoint still serves the
	// zero-value snapshot.
	assert.Zero(t, stats.Cutoff)
}
