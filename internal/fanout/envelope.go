// ABOUTME: Wire types for chat fan-out: the broker envelope and per-member notifications
// ABOUTME: Also maps rooms to routing keys and back

package fanout

import (
	"strings"
	"time"

	"github.com/2389/coven-chat/internal/store"
)

// Broker topology.
const (
	RoutingKeyPrefix = "chat.message.room."
	RoomPattern      = "chat.message.room.*"
	BridgeQueue      = "chat.ws-bridge"
)

// RoutingKey returns the routing key messages of roomID are published under.
func RoutingKey(roomID string) string {
	return RoutingKeyPrefix + roomID
}

// RoomFromRoutingKey recovers the room ID from a routing key.
func RoomFromRoutingKey(routingKey string) (string, bool) {
	room, ok := strings.CutPrefix(routingKey, RoutingKeyPrefix)
	if !ok || strings.TrimSpace(room) == "" {
		return "", false
	}
	return room, true
}

// Envelope is the JSON body published to the broker and forwarded verbatim
// to room viewers.
type Envelope struct {
	Seq       int64     `json:"id"`
	RoomID    string    `json:"roomId"`
	MessageID string    `json:"messageId"`
	Sender    string    `json:"sender"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewEnvelope builds the envelope for a persisted message.
func NewEnvelope(m *store.Message) Envelope {
	return Envelope{
		Seq:       m.Seq,
		RoomID:    m.RoomID,
		MessageID: m.ID,
		Sender:    m.Sender,
		Username:  m.DisplayName,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

// NotificationMessage is the type of notification sent for a new message.
const NotificationMessage = "MESSAGE"

// Notification tells a member that a room they belong to has a new message.
type Notification struct {
	Type         string `json:"type"`
	RoomID       string `json:"roomId"`
	SenderUserID string `json:"senderUserId"`
	Sender       string `json:"sender"`
	Username     string `json:"username"`
	Preview      string `json:"preview"`
	CreatedAt    int64  `json:"createdAt"` // epoch milliseconds
}
