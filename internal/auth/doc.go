// Package auth identifies chat members on HTTP and websocket requests.
//
// Members present an HS256 JWT, either as "Authorization: Bearer <token>" or,
// for websocket upgrades, as the access_token query parameter. The "sub"
// claim is the member ID; the optional "name" claim is the display name used
// on messages the member sends.
//
// Issuing tokens to end users is outside this service. The chat-gateway
// "token" subcommand mints tokens for development and tests.
package auth
