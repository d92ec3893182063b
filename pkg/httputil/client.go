// Package httputil provides shared HTTP client utilities.
package httputil

import (
	"time"

	"github.com/go-resty/resty/v2"
)

// NewRestyClient returns a resty client with a request timeout and retries disabled.
// Retry policy belongs to callers.
func NewRestyClient(baseURL string, timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("User-Agent", "smsrelay/1.0")
	if baseURL != "" {
		client.SetBaseURL(baseURL)
	}
	return client
}
