// Package backends defines the §6 MetricBackend/LogBackend/TraceBackend
// ports and their concrete HTTP-based implementations.
package backends

import "context"

// Sample is one metric observation returned by a MetricBackend query.
type Sample struct {
	Labels    map[string]string
	Value     float64
	Timestamp int64 // unix seconds
}

// MetricBackend is the §6 MetricBackend port.
type MetricBackend interface {
	Query(ctx context.Context, expr string, start, end int64) ([]Sample, error)
}

// LogEntry is one line returned by a LogBackend query_range.
type LogEntry struct {
	Stream map[string]string
	Time   int64 // unix nanoseconds
	Line   string
}

// LogBackend is the §6 LogBackend port.
type LogBackend interface {
	QueryRange(ctx context.Context, expr string, start, end int64, limit int) ([]LogEntry, error)
}

// TraceSummary is one trace returned by a TraceBackend query.
type TraceSummary struct {
	TraceID     string
	ServiceName string
	RootSpan    string
	DurationMS  int64
	StatusCode  string
}

// TraceBackend is the §6 TraceBackend port.
type TraceBackend interface {
	Query(ctx context.Context, expr string, start, end int64, limit int) ([]TraceSummary, error)
}
