// utils/http.go
package utils

import (
	"net"
	"net/http"
	"time"
)

// NewHTTPClient returns a client tuned for many small requests to a single
// upstream node. The refresh workers and point lookups share one instance.
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = 64
	transport.MaxIdleConnsPerHost = 32
	transport.IdleConnTimeout = 90 * time.Second
	transport.DialContext = (&net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
