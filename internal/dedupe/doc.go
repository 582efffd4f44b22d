// Package dedupe makes at-least-once delivery safe to act on.
//
// A broker may hand the same message to a consumer more than once, for
// example after a crash between handling and acknowledgement. Consumers claim
// each message ID before acting on it and skip IDs that are already claimed.
package dedupe
