// Package protocol implements the AMEE line protocol: per-verb path
// allow-lists, request message construction, response splitting and the
// dispatcher that ties them to the session manager.
package protocol

import (
	"time"
)

// ProtocolVersion is the version token sent on every request line.
const ProtocolVersion = "HTTP/1.1"

// Connection defaults used when Settings leaves them unset.
const (
	DefaultPort        = 80
	DefaultSSLPort     = 443
	DefaultReadTimeout = 30 * time.Second
	DefaultDialTimeout = 10 * time.Second
)

// MaxAttempts bounds how often one call reaches the server: the first
// attempt plus a single replay after a 401.
const MaxAttempts = 2

// UnauthorizedMarker identifies an authorization failure in the status line.
const UnauthorizedMarker = "401 UNAUTH"

// Supported request methods.
const (
	MethodGet    = "GET"
	MethodPost   = "POST"
	MethodPut    = "PUT"
	MethodDelete = "DELETE"
)

// Statistics tracks dispatch metrics for monitoring and debugging
type Statistics struct {
	TotalRequests       int           `json:"totalRequests"`
	SuccessfulRequests  int           `json:"successfulRequests"`
	FailedRequests      int           `json:"failedRequests"`
	Retries             int           `json:"retries"`
	AverageResponseTime time.Duration `json:"averageResponseTime"`
	LastRequestTime     time.Time     `json:"lastRequestTime"`
	BytesSent           int64         `json:"bytesSent"`
	BytesReceived       int64         `json:"bytesReceived"`
}
