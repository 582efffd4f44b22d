// Package gateway runs a chat-gateway process.
//
// # Overview
//
// The Gateway owns every long-lived component of the chat core and wires them
// together:
//
//   - store: SQLite persistence for messages, membership, unread counters and agents
//   - broker: in-memory or Redis Streams transport between publisher and bridge
//   - fanout and agents pools: bounded background work with caller-runs overflow
//   - publisher and bridge: message fan-out to live viewers and notifications
//   - orchestrator: agent replies to "@ai" mentions, when an LLM is configured
//   - hub: live destinations served over websocket at /ws
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return gw.Run(ctx) // blocks until ctx is canceled
//
// New declares the bridge queue on the broker before anything can publish, so
// messages sent before the consumer starts are not lost. Run serves HTTP and
// consumes the bridge queue until ctx ends, then shuts down: the HTTP server
// stops accepting requests, the agent pool drains into the fanout pool, the
// fanout pool drains into the broker, and finally the broker and store close.
//
// # HTTP Endpoints
//
//	GET  /health                        liveness
//	GET  /health/ready                  broker reachability
//	GET  /metrics                       Prometheus metrics (when enabled)
//	GET  /ws                            websocket live delivery
//	POST /api/rooms/{roomID}/messages   send a message
//	GET  /api/rooms/{roomID}/messages   history (?limit=50&before=<epoch ms>)
//	POST /api/rooms/{roomID}/read       reset the caller's unread counter
//	GET  /api/rooms/last-messages       newest message per room (?roomIds=a,b)
//	GET  /api/unread                    unread counts per room
//
// API routes require "Authorization: Bearer <jwt>" whose sub claim is the
// member ID. The websocket also accepts the token as ?access_token=.
package gateway
