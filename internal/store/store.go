// ABOUTME: Store interfaces and data types for chat persistence
// ABOUTME: Defines Message, RoomMember, AgentProfile and the narrow interfaces the core consumes

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateMessage is returned when a message ID has already been stored
var ErrDuplicateMessage = errors.New("message already exists")

// History limits applied to every page request.
const (
	MinHistoryLimit = 1
	MaxHistoryLimit = 200
)

// MaxLastMessageRooms caps the room IDs accepted by LastMessages.
const MaxLastMessageRooms = 500

// Message is a single persisted chat message. Messages are immutable once created.
type Message struct {
	ID          string    `json:"messageId"`
	Seq         int64     `json:"id"` // storage sequence, tie-breaker for equal timestamps
	RoomID      string    `json:"roomId"`
	Sender      string    `json:"sender"`   // user ID or agent ID
	DisplayName string    `json:"username"` // label shown to viewers
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"createdAt"`
}

// RoomMember is a member's unread state in a room.
type RoomMember struct {
	RoomID      string
	MemberID    string
	UnreadCount int
	JoinedAt    time.Time
}

// UnreadCount is a per-room unread total for one member.
type UnreadCount struct {
	RoomID string `json:"roomId"`
	Count  int    `json:"unread"`
}

// AgentProfile describes an AI participant. Temperature and TopP are optional.
type AgentProfile struct {
	ID          string
	Name        string
	Persona     string
	Temperature *float64
	TopP        *float64
	CreatedAt   time.Time
}

// MessageStore persists and retrieves chat messages.
type MessageStore interface {
	// CreateMessage stores a new message; the store assigns CreatedAt and Seq.
	CreateMessage(ctx context.Context, roomID, id, sender, displayName, content string) (*Message, error)
	GetMessage(ctx context.Context, id string) (*Message, error)
	// History returns up to limit messages older than before (if set), oldest first.
	History(ctx context.Context, roomID string, limit int, before *time.Time) ([]*Message, error)
	// LastMessages returns the newest message of each given room the member belongs to.
	LastMessages(ctx context.Context, memberID string, roomIDs []string) ([]*Message, error)
}

// UnreadTracker maintains per-member unread counters with atomic updates only.
type UnreadTracker interface {
	// BumpUnread increments every member's counter except the sender's and
	// returns the number of rows touched.
	BumpUnread(ctx context.Context, roomID, senderID string) (int64, error)
	ResetUnread(ctx context.Context, roomID, memberID string) (int64, error)
	UnreadSummary(ctx context.Context, memberID string) ([]UnreadCount, error)
}

// MembershipStore answers room membership questions.
type MembershipStore interface {
	AddMember(ctx context.Context, roomID, memberID string) error
	ListMembers(ctx context.Context, roomID string) ([]string, error)
	IsMember(ctx context.Context, roomID, memberID string) (bool, error)
}

// AgentStore holds agent profiles and their room attachments.
type AgentStore interface {
	UpsertAgent(ctx context.Context, agent *AgentProfile) error
	GetAgent(ctx context.Context, id string) (*AgentProfile, error)
	AttachAgent(ctx context.Context, roomID, agentID string) error
	ListRoomAgents(ctx context.Context, roomID string) ([]string, error)
}

// Store is everything the chat core persists.
type Store interface {
	MessageStore
	UnreadTracker
	MembershipStore
	AgentStore

	// Close releases any resources held by the store
	Close() error
}

// ClampHistoryLimit bounds a requested page size to [MinHistoryLimit, MaxHistoryLimit].
func ClampHistoryLimit(limit int) int {
	if limit < MinHistoryLimit {
		return MinHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}
