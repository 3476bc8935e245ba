package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/alertsync/internal/credential"
	"github.com/t77yq/alertsync/internal/model"
)

const (
	// PageSize is the fixed cap on records per feed page.
	PageSize = 100

	// CounterKey is the well-known row key of the occupancy counter.
	CounterKey = "unique_counter"

	apiKeyHeader = "X-API-Key"
)

// wireAlert is the feed's on-the-wire record shape. The numeric id is
// transmitted as text.
type wireAlert struct {
	FileID    string `json:"fileId"`
	SasURL    string `json:"sasUrl"`
	Alert     string `json:"alert"`
	Timestamp string `json:"timestamp"`
}

type feedResponse struct {
	Data []wireAlert `json:"data"`
}

type counterRow struct {
	RowKey string `json:"rowKey"`
	Count  int64  `json:"count"`
}

type counterResponse struct {
	Data []counterRow `json:"data"`
}

// FeedClient is a stateless wrapper around the remote alert service.
// Every call is pure request/response; nothing is retained between
// calls and nothing is retried internally.
type FeedClient struct {
	baseURL    string
	gate       *credential.Gate
	logger     *zap.Logger
	httpClient *http.Client
}

// NewFeedClient creates a feed client against the given base URL. The
// credential gate supplies the access secret on each call.
func NewFeedClient(baseURL string, gate *credential.Gate, timeout time.Duration, logger *zap.Logger) *FeedClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FeedClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		gate:    gate,
		logger:  logger.Named("feed-client"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// FetchPage requests all unresolved alerts with id strictly greater
// than cutoff, capped at PageSize. An empty slice means the feed is
// caught up.
func (c *FeedClient) FetchPage(ctx context.Context, cutoff int64) ([]model.Alert, error) {
	q := url.Values{}
	q.Set("cutoffId", strconv.FormatInt(cutoff, 10))
	q.Set("hasAlert", "false")
	q.Set("pageSize", strconv.Itoa(PageSize))
	q.Set("resolvedAlert", "false")

	body, err := c.get(ctx, "fetch_page", "/FileData?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var resp feedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &MalformedResponseError{Op: "fetch_page", Reason: err.Error()}
	}
	if resp.Data == nil {
		return nil, &MalformedResponseError{Op: "fetch_page", Reason: "missing data envelope"}
	}

	alerts := make([]model.Alert, 0, len(resp.Data))
	for _, w := range resp.Data {
		id, err := strconv.ParseInt(w.FileID, 10, 64)
		if err != nil {
			return nil, &MalformedResponseError{
				Op:     "fetch_page",
				Reason: fmt.Sprintf("unparsable file id %q", w.FileID),
			}
		}
		observedAt, err := time.Parse(time.RFC3339, w.Timestamp)
		if err != nil {
			return nil, &MalformedResponseError{
				Op:     "fetch_page",
				Reason: fmt.Sprintf("unparsable timestamp %q", w.Timestamp),
			}
		}
		alerts = append(alerts, model.Alert{
			ID:          id,
			FileID:      w.FileID,
			ResourceRef: w.SasURL,
			Description: w.Alert,
			ObservedAt:  observedAt,
		})
	}

	c.logger.Debug("Fetched feed page",
		zap.Int64("cutoff", cutoff),
		zap.Int("records", len(alerts)))

	return alerts, nil
}

// Resolve marks one alert resolved server-side. Resolving an
// already-resolved id is assumed safe server-side; the client does not
// verify.
func (c *FeedClient) Resolve(ctx context.Context, fileID string) error {
	q := url.Values{}
	q.Set("fileId", fileID)

	secret, err := c.gate.Get()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/resolvealert?"+q.Encode(), nil)
	if err != nil {
		return &TransportError{Op: "resolve", Err: err}
	}
	req.Header.Set(apiKeyHeader, secret)
	req.Header.Set("X-Correlation-Id", uuid.New().String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: "resolve", Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransportError{Op: "resolve", StatusCode: resp.StatusCode}
	}

	c.logger.Debug("Resolved alert", zap.String("file_id", fileID))
	return nil
}

// FetchCounter reads the occupancy counter. The service returns a list
// of rows; only the well-known CounterKey row is consumed.
func (c *FeedClient) FetchCounter(ctx context.Context) (int64, error) {
	q := url.Values{}
	q.Set("counterId", CounterKey)

	body, err := c.get(ctx, "fetch_counter", "/Counter?"+q.Encode())
	if err != nil {
		return 0, err
	}

	var resp counterResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, &MalformedResponseError{Op: "fetch_counter", Reason: err.Error()}
	}
	for _, row := range resp.Data {
		if row.RowKey == CounterKey {
			return row.Count, nil
		}
	}
	return 0, &MalformedResponseError{
		Op:     "fetch_counter",
		Reason: fmt.Sprintf("no row with key %q", CounterKey),
	}
}

func (c *FeedClient) get(ctx context.Context, op, requestPath string) ([]byte, error) {
	secret, err := c.gate.Get()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+requestPath, nil)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	req.Header.Set(apiKeyHeader, secret)
	req.Header.Set("X-Correlation-Id", uuid.New().String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode}
	}
	return body, nil
}
