// Package apierr holds the error type shared by every upstream client
// (Confluence, feeds, the summarizer API and Slack).
package apierr

import (
	"fmt"
	"io"
	"strings"
)

// maxPayload caps how much of an upstream error body is kept for logging.
const maxPayload = 2048

// TransportError reports a failed call to an upstream service: either the
// request never completed (Err set) or it came back with a non-2xx status.
type TransportError struct {
	Service    string // "confluence", "feed", "openai", "slack"
	Op         string // what was being attempted, e.g. "search blogposts"
	StatusCode int    // 0 when the request never got a response
	Payload    string // upstream response body or API error code
	Err        error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Service, e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.StatusCode)
	}
	if e.Payload != "" {
		fmt.Fprintf(&b, ": %s", e.Payload)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// FromStatus builds a TransportError for a non-2xx response, keeping a
// bounded prefix of the body.
func FromStatus(service, op string, status int, body io.Reader) *TransportError {
	var payload string
	if body != nil {
		data, _ := io.ReadAll(io.LimitReader(body, maxPayload))
		payload = strings.TrimSpace(string(data))
	}
	return &TransportError{Service: service, Op: op, StatusCode: status, Payload: payload}
}

// Wrap builds a TransportError for a request that failed before a status
// was available.
func Wrap(service, op string, err error) *TransportError {
	return &TransportError{Service: service, Op: op, Err: err}
}

// IsSuccess reports whether status is 2xx.
func IsSuccess(status int) bool {
	return status >= 200 && status < 300
}
