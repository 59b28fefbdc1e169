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

// PrometheusClient implements MetricBackend against a Prometheus (or
// Prometheus-API-compatible, e.g. Mimir) server's HTTP query API.
type PrometheusClient struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	log     *logging.Logger
}

// NewPrometheusClient returns a client talking to baseURL (e.g.
// "http://prometheus:9090"), bounded by timeout per request and
// circuit-broken across requests.
func NewPrometheusClient(baseURL string, timeout time.Duration) *PrometheusClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	log := logging.GetLogger("backends.prometheus")
	return &PrometheusClient{
		baseURL: baseURL,
		client:  newHTTPClient(timeout),
		breaker: newBreaker("prometheus", log),
		log:     log,
	}
}

type prometheusQueryRangeResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Data   struct {
		ResultType string `json:"resultType"`
		Result     []struct {
			Metric map[string]string `json:"metric"`
			Values [][2]any          `json:"values"`
		} `json:"result"`
	} `json:"data"`
}

// Query executes expr as a Prometheus range query over [start, end]
// (unix seconds), stepping every 15s, and flattens every series'
// samples into the MetricBackend.Sample shape.
func (c *PrometheusClient) Query(ctx context.Context, expr string, start, end int64) ([]Sample, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		return c.doQueryRange(ctx, expr, start, end)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	return result.([]Sample), nil
}

func (c *PrometheusClient) doQueryRange(ctx context.Context, expr string, start, end int64) ([]Sample, error) {
	reqURL := fmt.Sprintf("%s/api/v1/query_range?query=%s&start=%d&end=%d&step=15s",
		c.baseURL, url.QueryEscape(expr), start, end)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindTransport, err, "prometheus: build request")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindTransport, err, "prometheus: request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindTransport, err, "prometheus: read response body")
	}
	if resp.StatusCode != http.StatusOK {
		c.log.WarnWithFields("prometheus query failed", logging.Field("status", resp.StatusCode), logging.Field("body", string(body)))
		return nil, cerrors.New(cerrors.KindTransport, fmt.Sprintf("prometheus: query failed (status %d)", resp.StatusCode))
	}

	var parsed prometheusQueryRangeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, cerrors.Wrap(cerrors.KindTransport, err, "prometheus: parse response")
	}
	if parsed.Status != "success" {
		return nil, cerrors.New(cerrors.KindTransport, fmt.Sprintf("prometheus: query error: %s", parsed.Error))
	}

	var samples []Sample
	for _, series := range parsed.Data.Result {
		for _, v := range series.Values {
			ts, value, ok := parseSamplePair(v)
			if !ok {
				continue
			}
			samples = append(samples, Sample{Labels: series.Metric, Value: value, Timestamp: ts})
		}
	}
	c.log.DebugWithFields("prometheus query returned samples", logging.Field("count", len(samples)))
	return samples, nil
}

// parseSamplePair decodes a Prometheus `[timestamp, "value"]` pair.
func parseSamplePair(v [2]any) (int64, float64, bool) {
	tsFloat, ok := v[0].(float64)
	if !ok {
		return 0, 0, false
	}
	valueStr, ok := v[1].(string)
	if !ok {
		return 0, 0, false
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, 0, false
	}
	return int64(tsFloat), value, true
}
