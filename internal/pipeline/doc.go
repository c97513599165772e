// Package pipeline orchestrates one proxied request/response cycle: route
// resolution, connection acquisition, request relay, response relay, and
// translation of every partial-failure mode into a client-visible result.
//
// Both directions of a request stream independently and concurrently; no
// body is ever buffered whole. A request moves through
// Idle -> RouteResolved -> Connecting -> Connected -> Streaming and ends in
// Completed or Failed; Failed is reachable from every non-terminal state.
package pipeline
