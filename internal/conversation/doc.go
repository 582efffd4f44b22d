// Package conversation is the request-facing layer of the chat core.
//
// # Service
//
// The Service turns a member's request into store writes and background work:
//
//	svc := conversation.New(store, publisher, orchestrator, logger)
//
// Key operations:
//
//   - SendMessage(ctx, req): persist a message, publish it and wake agents
//   - History(ctx, room, member, limit, before): page through a room
//   - LastMessages(ctx, member, rooms): newest message per room
//   - MarkRead(ctx, room, member): zero the member's unread counter
//   - UnreadSummary(ctx, member): unread counts for every room
//
// # Record First
//
// A message is written to the store before anything else happens. Only a
// failed write is reported to the sender. Publishing to the broker and agent
// orchestration run in the background, so a broker outage delays live
// delivery but never loses a message.
//
// # Agent Mentions
//
// A message containing "@ai" wakes every agent attached to the room. Agents
// receive the text with the first mention removed. Rooms with no attached
// agents skip orchestration entirely.
//
// # Membership
//
// Members are identified by their immutable member id. Every operation that
// names a room checks that the caller belongs to it and returns ErrNotMember
// otherwise.
package conversation
