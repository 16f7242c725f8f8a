package http

import (
	"encoding/json"
	"net/http"
	"time"
)

// Timings is the per-request timing breakdown.
type Timings struct {
	Blocked        time.Duration `json:"blocked"`
	LookingUp      time.Duration `json:"lookingUp"`
	Connecting     time.Duration `json:"connecting"`
	TLSHandshaking time.Duration `json:"tlsHandshaking"`
	Sending        time.Duration `json:"sending"`
	Waiting        time.Duration `json:"waiting"`
	Receiving      time.Duration `json:"receiving"`
	Duration       time.Duration `json:"duration"`
}

// Response represents an HTTP response with its body already read.
type Response struct {
	StatusCode int
	Status     string
	Headers    http.Header
	Body       []byte
	Timings    Timings
}

// GetBodyAsJSON unmarshals the response body into the provided interface
func (r *Response) GetBodyAsJSON(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

// GetHeader returns the value of the specified header
func (r *Response) GetHeader(key string) string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get(key)
}

// IsSuccess returns true if the response status code is in the 2xx range
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsFailure reports whether the status counts as a failed request (>= 400
// or no response at all).
func (r *Response) IsFailure() bool {
	return r.StatusCode == 0 || r.StatusCode >= 400
}
