package loadtest

import (
	"fmt"
	"time"
)

// Check is a named predicate over a response.
type Check struct {
	Name string
	Fn   func(*Response) bool
}

// StatusIs checks the response status code. Named "status is <code>".
func StatusIs(code int) Check {
	return Check{
		Name: fmt.Sprintf("status is %d", code),
		Fn:   func(r *Response) bool { return r.Status == code },
	}
}

// DurationUnder checks http_req_duration against limit.
// Named "response time < <limit>". A failed request never passes.
func DurationUnder(limit time.Duration) Check {
	return Check{
		Name: fmt.Sprintf("response time < %s", limit),
		Fn: func(r *Response) bool {
			return r.Error == nil && r.Timings.Duration < limit
		},
	}
}
