package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// DownstreamError carries a downstream service's failure back to the caller:
// the downstream HTTP status when one was received, or a 502 when the call
// never produced a response. The message is human-readable and never exposes
// local filesystem or transport detail.
type DownstreamError struct {
	StatusCode int
	Message    string
}

func (e *DownstreamError) Error() string {
	return fmt.Sprintf("downstream error (status %d): %s", e.StatusCode, e.Message)
}

// errorFromResponse builds a DownstreamError from a non-2xx response,
// preferring the downstream's own message field when the body carries one.
func errorFromResponse(resp *http.Response) *DownstreamError {
	msg := http.StatusText(resp.StatusCode)

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err == nil && len(body) > 0 {
		var payload struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if jsonErr := json.Unmarshal(body, &payload); jsonErr == nil {
			if payload.Message != "" {
				msg = payload.Message
			} else if payload.Error != "" {
				msg = payload.Error
			}
		}
	}

	return &DownstreamError{StatusCode: resp.StatusCode, Message: msg}
}

// errorFromTransport wraps a network-level failure (timeout, refused
// connection) as a generic bad-gateway error for the named service.
func errorFromTransport(service string) *DownstreamError {
	return &DownstreamError{
		StatusCode: http.StatusBadGateway,
		Message:    service + " is unavailable",
	}
}
