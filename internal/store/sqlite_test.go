// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers message persistence, history ordering and paging, unread counters, membership and agents

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// fixedClock returns a clock that advances by step on every call.
func fixedClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := cur
		cur = cur.Add(step)
		return t
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file was not created in nested directory")
}

func TestNewSQLiteStore_Memory(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	_, err = s.CreateMessage(ctx, "room-1", "m-1", "alice", "Alice", "hi")
	require.NoError(t, err)

	got, err := s.GetMessage(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Content)
}

func TestCreateMessage_AssignsSeqAndTime(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	before := time.Now().UTC().Add(-time.Second)
	m1, err := s.CreateMessage(ctx, "room-1", "m-1", "alice", "Alice", "first")
	require.NoError(t, err)
	m2, err := s.CreateMessage(ctx, "room-1", "m-2", "bob", "Bob", "second")
	require.NoError(t, err)

	assert.Greater(t, m2.Seq, m1.Seq)
	assert.True(t, m1.CreatedAt.After(before))
	assert.Equal(t, "Alice", m1.DisplayName)

	got, err := s.GetMessage(ctx, "m-2")
	require.NoError(t, err)
	assert.Equal(t, m2.Seq, got.Seq)
	assert.Equal(t, "room-1", got.RoomID)
	assert.Equal(t, "bob", got.Sender)
	assert.True(t, m2.CreatedAt.Equal(got.CreatedAt))
}

func TestCreateMessage_DuplicateID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateMessage(ctx, "room-1", "dup", "alice", "Alice", "one")
	require.NoError(t, err)

	_, err = s.CreateMessage(ctx, "room-1", "dup", "alice", "Alice", "two")
	assert.ErrorIs(t, err, ErrDuplicateMessage)
}

func TestGetMessage_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetMessage(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHistory_OldestFirstWithLimit(t *testing.T) {
	s := newTestStore(t)
	s.now = fixedClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), time.Second)
	ctx := context.Background()

	for i := range 5 {
		_, err := s.CreateMessage(ctx, "room-1", fmt.Sprintf("m-%d", i), "alice", "Alice", fmt.Sprintf("msg %d", i))
		require.NoError(t, err)
	}
	_, err := s.CreateMessage(ctx, "room-2", "other", "bob", "Bob", "elsewhere")
	require.NoError(t, err)

	msgs, err := s.History(ctx, "room-1", 3, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	// The newest three, returned oldest first
	assert.Equal(t, "msg 2", msgs[0].Content)
	assert.Equal(t, "msg 3", msgs[1].Content)
	assert.Equal(t, "msg 4", msgs[2].Content)
}

func TestHistory_TiesBrokenBySeq(t *testing.T) {
	s := newTestStore(t)
	same := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return same }
	ctx := context.Background()

	for i := range 4 {
		_, err := s.CreateMessage(ctx, "room-1", fmt.Sprintf("m-%d", i), "alice", "Alice", fmt.Sprintf("msg %d", i))
		require.NoError(t, err)
	}

	msgs, err := s.History(ctx, "room-1", 10, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	for i := 1; i < len(msgs); i++ {
		assert.Greater(t, msgs[i].Seq, msgs[i-1].Seq)
	}

	// A page of two must be the last two inserted, not an arbitrary pair
	page, err := s.History(ctx, "room-1", 2, nil)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "msg 2", page[0].Content)
	assert.Equal(t, "msg 3", page[1].Content)
}

func TestHistory_BeforeCursor(t *testing.T) {
	s := newTestStore(t)
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = fixedClock(start, time.Minute)
	ctx := context.Background()

	for i := range 5 {
		_, err := s.CreateMessage(ctx, "room-1", fmt.Sprintf("m-%d", i), "alice", "Alice", fmt.Sprintf("msg %d", i))
		require.NoError(t, err)
	}

	cursor := start.Add(3 * time.Minute) // created_at of msg 3
	msgs, err := s.History(ctx, "room-1", 50, &cursor)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "msg 0", msgs[0].Content)
	assert.Equal(t, "msg 2", msgs[2].Content)
}

func TestHistory_ConcurrentWritersStayOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 10 {
				_, err := s.CreateMessage(ctx, "room-1", fmt.Sprintf("w%d-%d", w, i), "alice", "Alice", "x")
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	msgs, err := s.History(ctx, "room-1", 200, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 40)
	for i := 1; i < len(msgs); i++ {
		prev, cur := msgs[i-1], msgs[i]
		ordered := prev.CreatedAt.Before(cur.CreatedAt) ||
			(prev.CreatedAt.Equal(cur.CreatedAt) && prev.Seq < cur.Seq)
		assert.True(t, ordered, "message %d out of order", i)
	}
}

func TestHistory_LimitClamped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := range 3 {
		_, err := s.CreateMessage(ctx, "room-1", fmt.Sprintf("m-%d", i), "alice", "Alice", "x")
		require.NoError(t, err)
	}

	msgs, err := s.History(ctx, "room-1", 0, nil)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestBumpUnread_ExcludesSender(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	members := []string{"alice", "bob", "carol", "dave"}
	for _, m := range members {
		require.NoError(t, s.AddMember(ctx, "room-1", m))
	}
	require.NoError(t, s.AddMember(ctx, "room-2", "bob"))

	n, err := s.BumpUnread(ctx, "room-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(len(members)-1), n)

	for _, m := range members {
		got, err := s.GetMember(ctx, "room-1", m)
		require.NoError(t, err)
		if m == "alice" {
			assert.Equal(t, 0, got.UnreadCount)
		} else {
			assert.Equal(t, 1, got.UnreadCount, m)
		}
	}

	other, err := s.GetMember(ctx, "room-2", "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, other.UnreadCount, "other rooms are untouched")
}

func TestBumpUnread_ConcurrentNoLostUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddMember(ctx, "room-1", "alice"))
	require.NoError(t, s.AddMember(ctx, "room-1", "bob"))

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.BumpUnread(ctx, "room-1", "alice")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	bob, err := s.GetMember(ctx, "room-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, 20, bob.UnreadCount)
}

func TestResetUnreadAndSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, room := range []string{"room-1", "room-2"} {
		require.NoError(t, s.AddMember(ctx, room, "alice"))
		require.NoError(t, s.AddMember(ctx, room, "bob"))
		_, err := s.BumpUnread(ctx, room, "alice")
		require.NoError(t, err)
	}

	summary, err := s.UnreadSummary(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []UnreadCount{{RoomID: "room-1", Count: 1}, {RoomID: "room-2", Count: 1}}, summary)

	n, err := s.ResetUnread(ctx, "room-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	summary, err = s.UnreadSummary(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []UnreadCount{{RoomID: "room-2", Count: 1}}, summary)
}

func TestMembership(t *testing.T) {
	s := newTestStore(t)
	s.now = fixedClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), time.Second)
	ctx := context.Background()

	require.NoError(t, s.AddMember(ctx, "room-1", "bob"))
	require.NoError(t, s.AddMember(ctx, "room-1", "alice"))
	require.NoError(t, s.AddMember(ctx, "room-1", "bob")) // idempotent

	members, err := s.ListMembers(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "alice"}, members)

	ok, err := s.IsMember(ctx, "room-1", "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.IsMember(ctx, "room-1", "mallory")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAgents_UpsertGetAttach(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	temp := 0.3
	require.NoError(t, s.UpsertAgent(ctx, &AgentProfile{
		ID:          "ai_tutor",
		Name:        "Tutor",
		Persona:     "You teach English.",
		Temperature: &temp,
	}))

	got, err := s.GetAgent(ctx, "ai_tutor")
	require.NoError(t, err)
	assert.Equal(t, "Tutor", got.Name)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.3, *got.Temperature, 1e-9)
	assert.Nil(t, got.TopP)

	// Upsert replaces fields
	require.NoError(t, s.UpsertAgent(ctx, &AgentProfile{ID: "ai_tutor", Name: "Tutor v2"}))
	got, err = s.GetAgent(ctx, "ai_tutor")
	require.NoError(t, err)
	assert.Equal(t, "Tutor v2", got.Name)
	assert.Nil(t, got.Temperature)

	_, err = s.GetAgent(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.AttachAgent(ctx, "room-1", "ai_tutor"))
	require.NoError(t, s.AttachAgent(ctx, "room-1", "ai_tutor"))
	agents, err := s.ListRoomAgents(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ai_tutor"}, agents)

	agents, err = s.ListRoomAgents(ctx, "room-2")
	require.NoError(t, err)
	assert.Empty(t, agents)

	// Attachment requires an existing agent
	assert.Error(t, s.AttachAgent(ctx, "room-1", "ghost"))
}

func TestLastMessages_OnlyMemberRooms(t *testing.T) {
	s := newTestStore(t)
	s.now = fixedClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), time.Second)
	ctx := context.Background()

	require.NoError(t, s.AddMember(ctx, "room-1", "alice"))
	require.NoError(t, s.AddMember(ctx, "room-2", "alice"))
	require.NoError(t, s.AddMember(ctx, "room-3", "bob"))

	for i, room := range []string{"room-1", "room-1", "room-2", "room-3"} {
		_, err := s.CreateMessage(ctx, room, fmt.Sprintf("m-%d", i), "bob", "Bob", fmt.Sprintf("msg %d", i))
		require.NoError(t, err)
	}

	last, err := s.LastMessages(ctx, "alice", []string{"room-1", " room-2 ", "room-3", "room-1", ""})
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "room-1", last[0].RoomID)
	assert.Equal(t, "msg 1", last[0].Content)
	assert.Equal(t, "room-2", last[1].RoomID)
	assert.Equal(t, "msg 2", last[1].Content)

	none, err := s.LastMessages(ctx, "alice", nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}
