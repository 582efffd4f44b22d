// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and inject failures per operation

package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu         sync.RWMutex
	messages   []*Message               // insertion order
	byID       map[string]*Message      // keyed by message ID
	members    map[string][]*RoomMember // keyed by room ID
	agents     map[string]*AgentProfile // keyed by agent ID
	roomAgents map[string][]string      // keyed by room ID
	seq        int64

	// Now overrides the clock used for CreatedAt.
	Now func() time.Time

	// Err* inject failures into the matching operation when set.
	ErrCreateMessage error
	ErrBumpUnread    error
	ErrListMembers   error
	ErrHistory       error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		byID:       make(map[string]*Message),
		members:    make(map[string][]*RoomMember),
		agents:     make(map[string]*AgentProfile),
		roomAgents: make(map[string][]string),
		Now:        time.Now,
	}
}

// CreateMessage stores a new message.
func (m *MockStore) CreateMessage(ctx context.Context, roomID, id, sender, displayName, content string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ErrCreateMessage != nil {
		return nil, m.ErrCreateMessage
	}
	if _, exists := m.byID[id]; exists {
		return nil, ErrDuplicateMessage
	}

	m.seq++
	msg := &Message{
		ID:          id,
		Seq:         m.seq,
		RoomID:      roomID,
		Sender:      sender,
		DisplayName: displayName,
		Content:     content,
		CreatedAt:   m.Now().UTC().Truncate(time.Microsecond),
	}
	m.messages = append(m.messages, msg)
	m.byID[id] = msg

	result := *msg
	return &result, nil
}

// GetMessage retrieves a message by ID.
func (m *MockStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *msg
	return &result, nil
}

// History returns messages oldest first.
func (m *MockStore) History(ctx context.Context, roomID string, limit int, before *time.Time) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.ErrHistory != nil {
		return nil, m.ErrHistory
	}

	limit = ClampHistoryLimit(limit)
	var matched []*Message
	for _, msg := range m.messages {
		if msg.RoomID != roomID {
			continue
		}
		if before != nil && !msg.CreatedAt.Before(*before) {
			continue
		}
		c := *msg
		matched = append(matched, &c)
	}

	sortNewestFirst(matched)
	if len(matched) > limit {
		matched = matched[:limit]
	}
	slices.Reverse(matched)
	return matched, nil
}

// LastMessages returns the newest message per room the member belongs to.
func (m *MockStore) LastMessages(ctx context.Context, memberID string, roomIDs []string) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Message
	for _, roomID := range normalizeRoomIDs(roomIDs) {
		if !m.isMemberLocked(roomID, memberID) {
			continue
		}
		var latest *Message
		for _, msg := range m.messages {
			if msg.RoomID != roomID {
				continue
			}
			if latest == nil || newerThan(msg, latest) {
				latest = msg
			}
		}
		if latest != nil {
			c := *latest
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out, nil
}

// BumpUnread increments every member's counter except the sender's.
func (m *MockStore) BumpUnread(ctx context.Context, roomID, senderID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ErrBumpUnread != nil {
		return 0, m.ErrBumpUnread
	}

	var n int64
	for _, member := range m.members[roomID] {
		if member.MemberID == senderID {
			continue
		}
		member.UnreadCount++
		n++
	}
	return n, nil
}

// ResetUnread zeroes one member's counter.
func (m *MockStore) ResetUnread(ctx context.Context, roomID, memberID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, member := range m.members[roomID] {
		if member.MemberID == memberID {
			member.UnreadCount = 0
			return 1, nil
		}
	}
	return 0, nil
}

// UnreadSummary lists rooms where the member has unread messages.
func (m *MockStore) UnreadSummary(ctx context.Context, memberID string) ([]UnreadCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []UnreadCount
	for roomID, members := range m.members {
		for _, member := range members {
			if member.MemberID == memberID && member.UnreadCount > 0 {
				out = append(out, UnreadCount{RoomID: roomID, Count: member.UnreadCount})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out, nil
}

// Unread returns a member's current counter, or -1 if not a member.
func (m *MockStore) Unread(roomID, memberID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, member := range m.members[roomID] {
		if member.MemberID == memberID {
			return member.UnreadCount
		}
	}
	return -1
}

// AddMember adds a member to a room.
func (m *MockStore) AddMember(ctx context.Context, roomID, memberID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isMemberLocked(roomID, memberID) {
		return nil
	}
	m.members[roomID] = append(m.members[roomID], &RoomMember{
		RoomID:   roomID,
		MemberID: memberID,
		JoinedAt: m.Now(),
	})
	return nil
}

// ListMembers returns member IDs in join order.
func (m *MockStore) ListMembers(ctx context.Context, roomID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.ErrListMembers != nil {
		return nil, m.ErrListMembers
	}

	out := make([]string, 0, len(m.members[roomID]))
	for _, member := range m.members[roomID] {
		out = append(out, member.MemberID)
	}
	return out, nil
}

// IsMember reports whether memberID belongs to roomID.
func (m *MockStore) IsMember(ctx context.Context, roomID, memberID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isMemberLocked(roomID, memberID), nil
}

func (m *MockStore) isMemberLocked(roomID, memberID string) bool {
	for _, member := range m.members[roomID] {
		if member.MemberID == memberID {
			return true
		}
	}
	return false
}

// UpsertAgent creates or replaces an agent profile.
func (m *MockStore) UpsertAgent(ctx context.Context, agent *AgentProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := *agent
	m.agents[a.ID] = &a
	return nil
}

// GetAgent retrieves an agent profile.
func (m *MockStore) GetAgent(ctx context.Context, id string) (*AgentProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *a
	return &result, nil
}

// AttachAgent attaches an agent to a room. Unlike SQLite, the agent need not exist,
// which lets tests model a dangling attachment.
func (m *MockStore) AttachAgent(ctx context.Context, roomID, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if slices.Contains(m.roomAgents[roomID], agentID) {
		return nil
	}
	m.roomAgents[roomID] = append(m.roomAgents[roomID], agentID)
	return nil
}

// ListRoomAgents returns the agents attached to a room.
func (m *MockStore) ListRoomAgents(ctx context.Context, roomID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.roomAgents[roomID]), nil
}

// Messages returns a copy of every stored message in insertion order.
func (m *MockStore) Messages() []*Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Message, 0, len(m.messages))
	for _, msg := range m.messages {
		c := *msg
		out = append(out, &c)
	}
	return out
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

func newerThan(a, b *Message) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.Seq > b.Seq
	}
	return a.CreatedAt.After(b.CreatedAt)
}

func sortNewestFirst(msgs []*Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return newerThan(msgs[i], msgs[j]) })
}

// Ensure MockStore implements Store
var _ Store = (*MockStore)(nil)
