// ABOUTME: Conversation service is the entry point for sending and reading room messages
// ABOUTME: Messages are persisted first; fan-out and agent replies happen in the background

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/2389/coven-chat/internal/agent"
	"github.com/2389/coven-chat/internal/mention"
	"github.com/2389/coven-chat/internal/metrics"
	"github.com/2389/coven-chat/internal/store"
)

// MaxContentLength caps a message body, in runes.
const MaxContentLength = 4000

var (
	// ErrNotMember is returned when the caller does not belong to the room.
	ErrNotMember = errors.New("not a member of this room")
	// ErrEmptyMessage is returned for blank message content.
	ErrEmptyMessage = errors.New("message content is empty")
	// ErrMessageTooLong is returned when content exceeds MaxContentLength.
	ErrMessageTooLong = errors.New("message content is too long")
)

// ConversationStore defines what the service needs from storage
type ConversationStore interface {
	store.MessageStore
	store.UnreadTracker
	IsMember(ctx context.Context, roomID, memberID string) (bool, error)
	ListRoomAgents(ctx context.Context, roomID string) ([]string, error)
}

// Publisher fans persisted messages out to live viewers.
type Publisher interface {
	PublishAsync(msg *store.Message)
}

// Orchestrator wakes the agents of a room.
type Orchestrator interface {
	OnHumanMessage(t agent.Trigger) *agent.Run
}

// Service handles member requests against rooms.
type Service struct {
	store        ConversationStore
	publisher    Publisher
	orchestrator Orchestrator
	logger       *slog.Logger
}

// New creates a Service. orchestrator may be nil when no agent backend is
// configured; mentions are then stored like any other text.
func New(st ConversationStore, publisher Publisher, orchestrator Orchestrator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:        st,
		publisher:    publisher,
		orchestrator: orchestrator,
		logger:       logger.With("component", "conversation"),
	}
}

// SendRequest is a member posting to a room.
type SendRequest struct {
	RoomID      string
	SenderID    string
	DisplayName string
	Content     string
}

// SendResult is the stored message plus the agent run it started, if any.
type SendResult struct {
	Message *store.Message
	Run     *agent.Run
}

// SendMessage records the message, then schedules publication and agent
// replies. Only validation and store errors are returned.
func (s *Service) SendMessage(ctx context.Context, req *SendRequest) (*SendResult, error) {
	receivedAt := time.Now()
	if strings.TrimSpace(req.Content) == "" {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(req.Content) > MaxContentLength {
		return nil, ErrMessageTooLong
	}
	if err := s.requireMember(ctx, req.RoomID, req.SenderID); err != nil {
		return nil, err
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName = req.SenderID
	}

	// Record first: nothing downstream runs unless the message is durable.
	msg, err := s.store.CreateMessage(ctx, req.RoomID, uuid.NewString(), req.SenderID, displayName, req.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to record message: %w", err)
	}
	metrics.MessagesCreated.WithLabelValues("human").Inc()

	s.logger.Debug("message recorded",
		"room_id", msg.RoomID,
		"message_id", msg.ID,
		"sender", msg.Sender)

	s.publisher.PublishAsync(msg)

	return &SendResult{Message: msg, Run: s.maybeOrchestrate(ctx, msg, receivedAt)}, nil
}

func (s *Service) maybeOrchestrate(ctx context.Context, msg *store.Message, receivedAt time.Time) *agent.Run {
	if s.orchestrator == nil || !mention.Detect(msg.Content) {
		return nil
	}

	agents, err := s.store.ListRoomAgents(ctx, msg.RoomID)
	if err != nil {
		s.logger.Warn("listing room agents failed", "room_id", msg.RoomID, "error", err)
		return nil
	}
	if len(agents) == 0 {
		s.logger.Debug("mention in room without agents", "room_id", msg.RoomID)
		return nil
	}

	return s.orchestrator.OnHumanMessage(agent.Trigger{
		RoomID:     msg.RoomID,
		Text:       mention.StripFirst(msg.Content),
		AgentIDs:   agents,
		ReceivedAt: receivedAt,
	})
}

// History returns up to limit messages older than before, oldest first.
func (s *Service) History(ctx context.Context, roomID, memberID string, limit int, before *time.Time) ([]*store.Message, error) {
	if err := s.requireMember(ctx, roomID, memberID); err != nil {
		return nil, err
	}
	return s.store.History(ctx, roomID, store.ClampHistoryLimit(limit), before)
}

// LastMessages returns the newest message of each listed room the member is in.
func (s *Service) LastMessages(ctx context.Context, memberID string, roomIDs []string) ([]*store.Message, error) {
	return s.store.LastMessages(ctx, memberID, roomIDs)
}

// MarkRead zeroes the member's unread counter for the room.
func (s *Service) MarkRead(ctx context.Context, roomID, memberID string) error {
	n, err := s.store.ResetUnread(ctx, roomID, memberID)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotMember
	}
	return nil
}

// UnreadSummary lists rooms where the member has unread messages.
func (s *Service) UnreadSummary(ctx context.Context, memberID string) ([]store.UnreadCount, error) {
	return s.store.UnreadSummary(ctx, memberID)
}

func (s *Service) requireMember(ctx context.Context, roomID, memberID string) error {
	ok, err := s.store.IsMember(ctx, roomID, memberID)
	if err != nil {
		return fmt.Errorf("checking membership: %w", err)
	}
	if !ok {
		return ErrNotMember
	}
	return nil
}
