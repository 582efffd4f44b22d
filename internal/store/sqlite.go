// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides message history, unread counters, membership and agent tables with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dsn := path
	memory := path == ":memory:"
	if !memory {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		// Pragmas in the DSN apply to every pooled connection, not just the first.
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if memory {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling foreign keys: %w", err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS chat_messages (
			seq          INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id   TEXT NOT NULL UNIQUE,
			room_id      TEXT NOT NULL,
			sender       TEXT NOT NULL,
			display_name TEXT NOT NULL,
			content      TEXT NOT NULL,
			created_at   INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_chat_messages_room_created
			ON chat_messages(room_id, created_at DESC, seq DESC);

		CREATE TABLE IF NOT EXISTS room_members (
			room_id      TEXT NOT NULL,
			member_id    TEXT NOT NULL,
			unread_count INTEGER NOT NULL DEFAULT 0,
			joined_at    INTEGER NOT NULL,

			PRIMARY KEY (room_id, member_id),
			CHECK (unread_count >= 0)
		);

		CREATE INDEX IF NOT EXISTS idx_room_members_member ON room_members(member_id);

		CREATE TABLE IF NOT EXISTS ai_agents (
			agent_id    TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			persona     TEXT NOT NULL DEFAULT '',
			temperature REAL,
			top_p       REAL,
			created_at  INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS room_ai_members (
			room_id  TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			added_at INTEGER NOT NULL,

			PRIMARY KEY (room_id, agent_id),
			FOREIGN KEY (agent_id) REFERENCES ai_agents(agent_id)
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// CreateMessage inserts a message and returns it with its assigned sequence and timestamp.
// A reused message ID returns ErrDuplicateMessage.
func (s *SQLiteStore) CreateMessage(ctx context.Context, roomID, id, sender, displayName, content string) (*Message, error) {
	createdAt := s.now().UTC().Truncate(time.Microsecond)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (message_id, room_id, sender, display_name, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, roomID, sender, displayName, content, createdAt.UnixMicro())
	if err != nil {
		if isConstraintViolation(err) {
			return nil, ErrDuplicateMessage
		}
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading message sequence: %w", err)
	}

	s.logger.Debug("saved message", "message_id", id, "room_id", roomID, "seq", seq)

	return &Message{
		ID:          id,
		Seq:         seq,
		RoomID:      roomID,
		Sender:      sender,
		DisplayName: displayName,
		Content:     content,
		CreatedAt:   createdAt,
	}, nil
}

// GetMessage retrieves a message by its ID
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT seq, message_id, room_id, sender, display_name, content, created_at
		FROM chat_messages WHERE message_id = ?
	`, id)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}
	return msg, nil
}

// History pages newest-first with a stable (created_at, seq) order and
// returns the page oldest-first.
func (s *SQLiteStore) History(ctx context.Context, roomID string, limit int, before *time.Time) ([]*Message, error) {
	limit = ClampHistoryLimit(limit)

	query := `
		SELECT seq, message_id, room_id, sender, display_name, content, created_at
		FROM chat_messages
		WHERE room_id = ?`
	args := []any{roomID}
	if before != nil {
		query += ` AND created_at < ?`
		args = append(args, before.UTC().UnixMicro())
	}
	query += ` ORDER BY created_at DESC, seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}

	slices.Reverse(msgs)
	return msgs, nil
}

// LastMessages returns the newest message per room, restricted to rooms the member belongs to.
func (s *SQLiteStore) LastMessages(ctx context.Context, memberID string, roomIDs []string) ([]*Message, error) {
	roomIDs = normalizeRoomIDs(roomIDs)
	if len(roomIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(roomIDs)), ",")
	query := `
		SELECT seq, message_id, room_id, sender, display_name, content, created_at
		FROM (
			SELECT m.*,
			       ROW_NUMBER() OVER (PARTITION BY m.room_id ORDER BY m.created_at DESC, m.seq DESC) AS rn
			FROM chat_messages m
			JOIN room_members rm ON rm.room_id = m.room_id AND rm.member_id = ?
			WHERE m.room_id IN (` + placeholders + `)
		)
		WHERE rn = 1
		ORDER BY room_id`

	args := make([]any, 0, len(roomIDs)+1)
	args = append(args, memberID)
	for _, id := range roomIDs {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying last messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// BumpUnread increments unread_count for every room member other than the sender
// in a single statement.
func (s *SQLiteStore) BumpUnread(ctx context.Context, roomID, senderID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE room_members
		   SET unread_count = unread_count + 1
		 WHERE room_id = ?
		   AND member_id <> ?
	`, roomID, senderID)
	if err != nil {
		return 0, fmt.Errorf("bumping unread: %w", err)
	}
	return res.RowsAffected()
}

// ResetUnread zeroes one member's counter.
func (s *SQLiteStore) ResetUnread(ctx context.Context, roomID, memberID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE room_members
		   SET unread_count = 0
		 WHERE room_id = ?
		   AND member_id = ?
	`, roomID, memberID)
	if err != nil {
		return 0, fmt.Errorf("resetting unread: %w", err)
	}
	return res.RowsAffected()
}

// UnreadSummary lists rooms where the member has unread messages.
func (s *SQLiteStore) UnreadSummary(ctx context.Context, memberID string) ([]UnreadCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT room_id, unread_count
		FROM room_members
		WHERE member_id = ? AND unread_count > 0
		ORDER BY room_id
	`, memberID)
	if err != nil {
		return nil, fmt.Errorf("querying unread summary: %w", err)
	}
	defer rows.Close()

	var out []UnreadCount
	for rows.Next() {
		var uc UnreadCount
		if err := rows.Scan(&uc.RoomID, &uc.Count); err != nil {
			return nil, fmt.Errorf("scanning unread count: %w", err)
		}
		out = append(out, uc)
	}
	return out, rows.Err()
}

// GetMember returns a member's unread state.
func (s *SQLiteStore) GetMember(ctx context.Context, roomID, memberID string) (*RoomMember, error) {
	var m RoomMember
	var joined int64
	err := s.db.QueryRowContext(ctx, `
		SELECT room_id, member_id, unread_count, joined_at
		FROM room_members WHERE room_id = ? AND member_id = ?
	`, roomID, memberID).Scan(&m.RoomID, &m.MemberID, &m.UnreadCount, &joined)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying member: %w", err)
	}
	m.JoinedAt = time.UnixMicro(joined).UTC()
	return &m, nil
}

// AddMember adds a member to a room. Adding an existing member is a no-op.
func (s *SQLiteStore) AddMember(ctx context.Context, roomID, memberID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO room_members (room_id, member_id, unread_count, joined_at)
		VALUES (?, ?, 0, ?)
		ON CONFLICT (room_id, member_id) DO NOTHING
	`, roomID, memberID, s.now().UTC().UnixMicro())
	if err != nil {
		return fmt.Errorf("adding member: %w", err)
	}
	return nil
}

// ListMembers returns the member IDs of a room in join order.
func (s *SQLiteStore) ListMembers(ctx context.Context, roomID string) ([]string, error) {
	return s.queryStrings(ctx, `
		SELECT member_id FROM room_members WHERE room_id = ? ORDER BY joined_at, member_id
	`, roomID)
}

// IsMember reports whether memberID belongs to roomID.
func (s *SQLiteStore) IsMember(ctx context.Context, roomID, memberID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM room_members WHERE room_id = ? AND member_id = ?
	`, roomID, memberID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking membership: %w", err)
	}
	return true, nil
}

// UpsertAgent creates or replaces an agent profile.
func (s *SQLiteStore) UpsertAgent(ctx context.Context, agent *AgentProfile) error {
	createdAt := agent.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ai_agents (agent_id, name, persona, temperature, top_p, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (agent_id) DO UPDATE SET
			name = excluded.name,
			persona = excluded.persona,
			temperature = excluded.temperature,
			top_p = excluded.top_p
	`, agent.ID, agent.Name, agent.Persona, nullFloat(agent.Temperature), nullFloat(agent.TopP), createdAt.UTC().UnixMicro())
	if err != nil {
		return fmt.Errorf("upserting agent: %w", err)
	}
	return nil
}

// GetAgent retrieves an agent profile by ID.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*AgentProfile, error) {
	var a AgentProfile
	var temp, topP sql.NullFloat64
	var created int64
	err := s.db.QueryRowContext(ctx, `
		SELECT agent_id, name, persona, temperature, top_p, created_at
		FROM ai_agents WHERE agent_id = ?
	`, id).Scan(&a.ID, &a.Name, &a.Persona, &temp, &topP, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying agent: %w", err)
	}
	if temp.Valid {
		a.Temperature = &temp.Float64
	}
	if topP.Valid {
		a.TopP = &topP.Float64
	}
	a.CreatedAt = time.UnixMicro(created).UTC()
	return &a, nil
}

// AttachAgent attaches an agent to a room. The agent must exist.
func (s *SQLiteStore) AttachAgent(ctx context.Context, roomID, agentID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO room_ai_members (room_id, agent_id, added_at)
		VALUES (?, ?, ?)
		ON CONFLICT (room_id, agent_id) DO NOTHING
	`, roomID, agentID, s.now().UTC().UnixMicro())
	if err != nil {
		return fmt.Errorf("attaching agent: %w", err)
	}
	return nil
}

// ListRoomAgents returns the IDs of agents attached to a room.
func (s *SQLiteStore) ListRoomAgents(ctx context.Context, roomID string) ([]string, error) {
	return s.queryStrings(ctx, `
		SELECT agent_id FROM room_ai_members WHERE room_id = ? ORDER BY added_at, agent_id
	`, roomID)
}

func (s *SQLiteStore) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// scanner covers *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*Message, error) {
	var m Message
	var created int64
	if err := row.Scan(&m.Seq, &m.ID, &m.RoomID, &m.Sender, &m.DisplayName, &m.Content, &created); err != nil {
		return nil, err
	}
	m.CreatedAt = time.UnixMicro(created).UTC()
	return &m, nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed: UNIQUE")
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

// normalizeRoomIDs trims, drops empties and duplicates, and caps the list.
func normalizeRoomIDs(roomIDs []string) []string {
	seen := make(map[string]bool, len(roomIDs))
	out := make([]string, 0, len(roomIDs))
	for _, id := range roomIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
		if len(out) == MaxLastMessageRooms {
			break
		}
	}
	return out
}

// Ensure SQLiteStore implements Store
var _ Store = (*SQLiteStore)(nil)
