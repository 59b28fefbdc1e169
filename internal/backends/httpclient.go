package backends

import (
	"net"
	"net/http"
	"time"
)

// newHTTPClient returns an http.Client tuned for sustained query
// traffic against a single observability backend: a bounded
// per-host connection pool so repeated queries reuse sockets instead
// of paying a new TLS handshake every call.
func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxConnsPerHost:     20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}
