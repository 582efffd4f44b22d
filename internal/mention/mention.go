// ABOUTME: Detects and strips the "@ai" marker that invites room agents to reply
// ABOUTME: Pure functions over message text, safe for concurrent use

// Package mention recognizes the agent-invocation marker in chat text.
package mention

import "regexp"

// Marker is the token that addresses the agents attached to a room.
const Marker = "@ai"

// The marker must start the text or follow whitespace, and must not run into
// another word character ("@aicorp" and "email@ai" are not mentions).
var markerPattern = regexp.MustCompile(`(?i)(^|\s)@ai(\b|[^\w])`)

// Detect reports whether text contains the marker anywhere.
func Detect(text string) bool {
	if text == "" {
		return false
	}
	return markerPattern.MatchString(text)
}

// StripFirst replaces the first marker occurrence, including the whitespace
// before it, with a single space. Later occurrences are left untouched.
func StripFirst(text string) string {
	if text == "" {
		return text
	}
	loc := markerPattern.FindStringIndex(text)
	if loc == nil {
		return text
	}
	return text[:loc[0]] + " " + text[loc[1]:]
}
