package pipeline

import "time"

// Outcome is the terminal state of one proxied request.
type Outcome string

const (
	OutcomeCompleted     Outcome = "completed"
	OutcomeNoRoute       Outcome = "no_route"
	OutcomeConnectFailed Outcome = "connect_failed"
	OutcomeStreamFailed  Outcome = "stream_failed"
)

// Result is what one request run reports upward for logging and metrics.
type Result struct {
	Outcome Outcome

	// Prefix and Target are set once the route resolved; empty on no-route.
	Prefix string
	Target string

	// StatusCode is the status relayed to the client, or the synthetic
	// error status the pipeline produced itself.
	StatusCode int

	// BytesToBackend counts request body bytes relayed upstream;
	// BytesToClient counts response body bytes relayed back.
	BytesToBackend int64
	BytesToClient  int64

	Duration time.Duration

	// Err is the terminal failure, nil when Outcome is OutcomeCompleted.
	Err error

	// Aborted is set when the failure happened after response bytes had
	// already reached the client. The bytes cannot be un-sent, so the
	// caller must terminate the client connection instead of writing an
	// error response.
	Aborted bool
}

// Completed reports whether the request finished cleanly.
func (r Result) Completed() bool {
	return r.Outcome == OutcomeCompleted
}
