package backends

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/compass-investigate/compass/internal/cerrors"
	"github.com/compass-investigate/compass/internal/logging"
)

// TempoClient implements TraceBackend against a Tempo server's native
// HTTP search API.
type TempoClient struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	log     *logging.Logger
}

// NewTempoClient returns a client talking to baseURL (e.g.
// "http://tempo:3200").
func NewTempoClient(baseURL string, timeout time.Duration) *TempoClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	log := logging.GetLogger("backends.tempo")
	return &TempoClient{
		baseURL: baseURL,
		client:  newHTTPClient(timeout),
		breaker: newBreaker("tempo", log),
		log:     log,
	}
}

type tempoSearchResponse struct {
	Traces []struct {
		TraceID           string `json:"traceID"`
		RootServiceName   string `json:"rootServiceName"`
		RootTraceName     string `json:"rootTraceName"`
		DurationMs        int64  `json:"durationMs"`
		StartTimeUnixNano string `json:"startTimeUnixNano"`
	} `json:"traces"`
}

// Query runs expr as a TraceQL search over [start, end] (unix
// seconds), returning at most limit matching traces.
func (c *TempoClient) Query(ctx context.Context, expr string, start, end int64, limit int) ([]TraceSummary, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		return c.doSearch(ctx, expr, start, end, limit)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	return result.([]TraceSummary), nil
}

func (c *TempoClient) doSearch(ctx context.Context, expr string, start, end int64, limit int) ([]TraceSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	reqURL := fmt.Sprintf("%s/api/search?q=%s&start=%d&end=%d&limit=%d",
		c.baseURL, url.QueryEscape(expr), start, end, limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindTransport, err, "tempo: build request")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindTransport, err, "tempo: request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindTransport, err, "tempo: read response body")
	}
	if resp.StatusCode != http.StatusOK {
		c.log.WarnWithFields("tempo search failed", logging.Field("status", resp.StatusCode), logging.Field("body", string(body)))
		return nil, cerrors.New(cerrors.KindTransport, fmt.Sprintf("tempo: search failed (status %d)", resp.StatusCode))
	}

	var parsed tempoSearchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, cerrors.Wrap(cerrors.KindTransport, err, "tempo: parse response")
	}

	summaries := make([]TraceSummary, 0, len(parsed.Traces))
	for _, t := range parsed.Traces {
		summaries = append(summaries, TraceSummary{
			TraceID:     t.TraceID,
			ServiceName: t.RootServiceName,
			RootSpan:    t.RootTraceName,
			DurationMS:  t.DurationMs,
			StatusCode:  "",
		})
	}
	c.log.DebugWithFields("tempo search returned traces", logging.Field("count", len(summaries)))
	return summaries, nil
}
