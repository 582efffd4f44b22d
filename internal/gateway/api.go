// ABOUTME: HTTP API handlers for sending, paging and reading room messages
// ABOUTME: Callers are identified by the JWT identity placed in the request context

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/conversation"
	"github.com/2389/coven-chat/internal/store"
)

// DefaultHistoryLimit is used when the limit parameter is absent.
const DefaultHistoryLimit = 50

// SendMessageRequest is the JSON request body for POST /api/rooms/{roomID}/messages.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// MessagesResponse wraps a list of messages.
type MessagesResponse struct {
	Messages []*store.Message `json:"messages"`
}

// UnreadResponse is the JSON response for GET /api/unread.
type UnreadResponse struct {
	Rooms []store.UnreadCount `json:"rooms"`
}

func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := g.service.SendMessage(r.Context(), &conversation.SendRequest{
		RoomID:      chi.URLParam(r, "roomID"),
		SenderID:    id.MemberID,
		DisplayName: id.DisplayName,
		Content:     req.Content,
	})
	if err != nil {
		g.sendServiceError(w, err)
		return
	}

	g.writeJSON(w, http.StatusCreated, res.Message)
}

func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())
	q := r.URL.Query()

	limit := DefaultHistoryLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	var before *time.Time
	if raw := q.Get("before"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "before must be epoch milliseconds")
			return
		}
		t := time.UnixMilli(ms).UTC()
		before = &t
	}

	msgs, err := g.service.History(r.Context(), chi.URLParam(r, "roomID"), id.MemberID, limit, before)
	if err != nil {
		g.sendServiceError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, MessagesResponse{Messages: nonNil(msgs)})
}

func (g *Gateway) handleLastMessages(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	var roomIDs []string
	for _, part := range strings.Split(r.URL.Query().Get("roomIds"), ",") {
		if part = strings.TrimSpace(part); part != "" {
			roomIDs = append(roomIDs, part)
		}
	}
	if len(roomIDs) > store.MaxLastMessageRooms {
		g.sendJSONError(w, http.StatusBadRequest, "too many room ids")
		return
	}

	msgs, err := g.service.LastMessages(r.Context(), id.MemberID, roomIDs)
	if err != nil {
		g.sendServiceError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, MessagesResponse{Messages: nonNil(msgs)})
}

func (g *Gateway) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	if err := g.service.MarkRead(r.Context(), chi.URLParam(r, "roomID"), id.MemberID); err != nil {
		g.sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleUnreadSummary(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	rooms, err := g.service.UnreadSummary(r.Context(), id.MemberID)
	if err != nil {
		g.sendServiceError(w, err)
		return
	}
	if rooms == nil {
		rooms = []store.UnreadCount{}
	}
	g.writeJSON(w, http.StatusOK, UnreadResponse{Rooms: rooms})
}

// sendServiceError maps conversation errors onto HTTP statuses.
func (g *Gateway) sendServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conversation.ErrNotMember):
		g.sendJSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, conversation.ErrEmptyMessage), errors.Is(err, conversation.ErrMessageTooLong):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	default:
		g.logger.Error("request failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("writing response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}

func nonNil(msgs []*store.Message) []*store.Message {
	if msgs == nil {
		return []*store.Message{}
	}
	return msgs
}
