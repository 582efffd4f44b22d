// Package ratelimit gates agent calls per (room, agent) pair.
//
// Two gates apply: a cooldown since the last consumed call and a daily quota
// that resets when the calendar day changes in a fixed time zone. Allow and
// Consume are separate calls, so two concurrent callers may both pass Allow
// before either consumes; over-admission is bounded by the number of
// in-flight calls.
//
// Memory keeps state in process and forgets it on restart. Redis keeps the
// same state in Redis so several gateway instances share one budget.
package ratelimit
