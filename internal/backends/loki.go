package backends

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/compass-investigate/compass/internal/cerrors"
	"github.com/compass-investigate/compass/internal/logging"
)

// LokiClient implements LogBackend against a Loki server's HTTP query
// API.
type LokiClient struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	log     *logging.Logger
}

// NewLokiClient returns a client talking to baseURL (e.g.
// "http://loki:3100").
func NewLokiClient(baseURL string, timeout time.Duration) *LokiClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	log := logging.GetLogger("backends.loki")
	return &LokiClient{
		baseURL: baseURL,
		client:  newHTTPClient(timeout),
		breaker: newBreaker("loki", log),
		log:     log,
	}
}

type lokiQueryRangeResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string `json:"resultType"`
		Result     []struct {
			Stream map[string]string `json:"stream"`
			Values [][2]string       `json:"values"`
		} `json:"result"`
	} `json:"data"`
}

// QueryRange executes expr as a LogQL query over [start, end] (unix
// seconds), returning at most limit entries across all matched
// streams.
func (c *LokiClient) QueryRange(ctx context.Context, expr string, start, end int64, limit int) ([]LogEntry, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		return c.doQueryRange(ctx, expr, start, end, limit)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	return result.([]LogEntry), nil
}

func (c *LokiClient) doQueryRange(ctx context.Context, expr string, start, end int64, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	reqURL := fmt.Sprintf("%s/loki/api/v1/query_range?query=%s&start=%d&end=%d&limit=%d",
		c.baseURL, url.QueryEscape(expr), start*1e9, end*1e9, limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindTransport, err, "loki: build request")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindTransport, err, "loki: request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindTransport, err, "loki: read response body")
	}
	if resp.StatusCode != http.StatusOK {
		c.log.WarnWithFields("loki query failed", logging.Field("status", resp.StatusCode), logging.Field("body", string(body)))
		return nil, cerrors.New(cerrors.KindTransport, fmt.Sprintf("loki: query failed (status %d)", resp.StatusCode))
	}

	var parsed lokiQueryRangeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, cerrors.Wrap(cerrors.KindTransport, err, "loki: parse response")
	}
	if parsed.Status != "success" {
		return nil, cerrors.New(cerrors.KindTransport, fmt.Sprintf("loki: query returned status %q", parsed.Status))
	}

	var entries []LogEntry
outer:
	for _, stream := range parsed.Data.Result {
		for _, v := range stream.Values {
			if len(entries) >= limit {
				break outer
			}
			ns, err := strconv.ParseInt(v[0], 10, 64)
			if err != nil {
				continue
			}
			entries = append(entries, LogEntry{Stream: stream.Stream, Time: ns, Line: v[1]})
		}
	}
	c.log.DebugWithFields("loki query returned entries", logging.Field("count", len(entries)))
	return entries, nil
}
