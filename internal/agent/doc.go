// Package agent answers "@ai" mentions with replies from the AI agents
// attached to a room.
//
// # Orchestrator
//
// OnHumanMessage is called after a human message is persisted. It returns a
// Run immediately and does all of its work on the agents pool:
//
//	run := orch.OnHumanMessage(agent.Trigger{
//		RoomID:     roomID,
//		Text:       mention.StripFirst(text),
//		AgentIDs:   attached,
//		ReceivedAt: receivedAt,
//	})
//
// Context loading starts right away with its deadline counted from
// ReceivedAt. When AgentIDs is nil the attached agents are resolved on the
// pool first. Each agent then gets its own branch on the pool. A branch is gated by the rate limiter, waits a bounded time
// for room context, calls the Completer, and on a non-blank reply persists it
// as a message authored by the agent and hands it to the fanout publisher.
// The limiter is charged only after the reply is delivered.
//
// Branches never affect each other. Every branch ends in one Outcome:
//
//   - delivered: a reply was stored and published
//   - throttled: the limiter refused the call
//   - declined: the agent returned a blank reply
//   - failed: the completion or the store write returned an error
//   - missing: the attached agent has no profile
//   - canceled: the orchestrator stopped or its pool closed first
//
// Run.Wait and Run.Outcomes exist for bookkeeping and tests. Request handlers
// never wait on a Run.
//
// # Context
//
// Assembler.BuildAsync starts loading the room's recent messages and returns
// a Future. Future.Await gives up at the future's deadline and returns an
// empty context instead of an error.
//
// # Catalog
//
// Agent profiles, rooms and attachments are seeded from a TOML catalog:
//
//	[[agents]]
//	id = "ai_helper"
//	name = "Helper"
//	persona = "You are a concise assistant."
//	temperature = 0.7
//	rooms = ["general"]
//
//	[[rooms]]
//	id = "general"
//	members = ["alice", "bob"]
package agent
