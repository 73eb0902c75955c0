package httpclient

import (
	"crypto/tls"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single HTTP attempt. Retrying across attempts
// is the caller's concern.
const DefaultTimeout = 30 * time.Second

// NewDefaultHTTPClient creates a simple HTTP client with a timeout
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
	}
}

// NewHTTPClientWithTLS creates an HTTP client that optionally skips
// certificate verification, for services deployed with self-signed
// certificates.
func NewHTTPClientWithTLS(timeout time.Duration, verify bool) *http.Client {
	client := NewDefaultHTTPClient(timeout)
	if !verify {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return client
}
