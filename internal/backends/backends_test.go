package backends

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusClientQueryParsesSamples(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/query_range", r.URL.Path)
		fmt.Fprint(w, `{
			"status": "success",
			"data": {
				"resultType": "matrix",
				"result": [
					{"metric": {"pod": "a-1"}, "values": [[1000, "1.5"], [1015, "2.0"]]}
				]
			}
		}`)
	}))
	defer srv.Close()

	c := NewPrometheusClient(srv.URL, time.Second)
	samples, err := c.Query(context.Background(), `up{job="a"}`, 1000, 1015)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, "a-1", samples[0].Labels["pod"])
	assert.Equal(t, 1.5, samples[0].Value)
	assert.Equal(t, int64(1000), samples[0].Timestamp)
	assert.Equal(t, 2.0, samples[1].Value)
}

func TestPrometheusClientQueryReturnsErrorOnFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "boom")
	}))
	defer srv.Close()

	c := NewPrometheusClient(srv.URL, time.Second)
	_, err := c.Query(context.Background(), "up", 0, 1)
	assert.Error(t, err)
}

func TestPrometheusClientQuerySkipsMalformedPairs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"status": "success",
			"data": {"resultType": "matrix", "result": [
				{"metric": {}, "values": [[1000, "not-a-number"], [1001, "3.0"]]}
			]}
		}`)
	}))
	defer srv.Close()

	c := NewPrometheusClient(srv.URL, time.Second)
	samples, err := c.Query(context.Background(), "up", 0, 1)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 3.0, samples[0].Value)
}

func TestLokiClientQueryRangeParsesEntriesAndConvertsTimestamps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/loki/api/v1/query_range", r.URL.Path)
		fmt.Fprint(w, `{
			"status": "success",
			"data": {
				"resultType": "streams",
				"result": [
					{"stream": {"app": "checkout"}, "values": [["1000000000", "first line"], ["2000000000", "second line"]]}
				]
			}
		}`)
	}))
	defer srv.Close()

	c := NewLokiClient(srv.URL, time.Second)
	entries, err := c.QueryRange(context.Background(), `{app="checkout"}`, 0, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "checkout", entries[0].Stream["app"])
	assert.Equal(t, int64(1000000000), entries[0].Time)
	assert.Equal(t, "first line", entries[0].Line)
}

func TestLokiClientQueryRangeRespectsLimitAcrossStreams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"status": "success",
			"data": {"resultType": "streams", "result": [
				{"stream": {"app": "a"}, "values": [["1", "l1"], ["2", "l2"]]},
				{"stream": {"app": "b"}, "values": [["3", "l3"], ["4", "l4"]]}
			]}
		}`)
	}))
	defer srv.Close()

	c := NewLokiClient(srv.URL, time.Second)
	entries, err := c.QueryRange(context.Background(), `{app=~".+"}`, 0, 10, 3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestLokiClientQueryRangeReturnsErrorOnNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status": "error"}`)
	}))
	defer srv.Close()

	c := NewLokiClient(srv.URL, time.Second)
	_, err := c.QueryRange(context.Background(), "{app=\"x\"}", 0, 1, 10)
	assert.Error(t, err)
}

func TestTempoClientQueryParsesTraceSummaries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/search", r.URL.Path)
		fmt.Fprint(w, `{
			"traces": [
				{"traceID": "abc123", "rootServiceName": "checkout", "rootTraceName": "POST /checkout", "durationMs": 42}
			]
		}`)
	}))
	defer srv.Close()

	c := NewTempoClient(srv.URL, time.Second)
	traces, err := c.Query(context.Background(), `{duration > 40ms}`, 0, 1, 10)
	require.NoError(t, err)
	require.Len(t, traces, 1)
	assert.Equal(t, "abc123", traces[0].TraceID)
	assert.Equal(t, "checkout", traces[0].ServiceName)
	assert.Equal(t, int64(42), traces[0].DurationMS)
}

func TestTempoClientQueryReturnsErrorOnFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewTempoClient(srv.URL, time.Second)
	_, err := c.Query(context.Background(), "{}", 0, 1, 10)
	assert.Error(t, err)
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewPrometheusClient(srv.URL, time.Second)
	for i := 0; i < 5; i++ {
		_, err := c.Query(context.Background(), "up", 0, 1)
		assert.Error(t, err)
	}

	callsBeforeOpen := calls
	_, err := c.Query(context.Background(), "up", 0, 1)
	assert.Error(t, err)
	assert.Equal(t, callsBeforeOpen, calls, "circuit breaker should short-circuit without hitting the server")
}
