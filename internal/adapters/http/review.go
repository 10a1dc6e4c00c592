package httpadapter

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/carsnap/angle-review/internal/core/domain"
	"github.com/carsnap/angle-review/internal/core/usecase"
)

// reviewSessions holds the open reconciliation boards keyed by session id.
// Sessions are explicit: a client opens one against a document, edits through
// it, and closes it when done.
type reviewSessions struct {
	mu     sync.Mutex
	boards map[string]*usecase.Board
}

func newReviewSessions() *reviewSessions {
	return &reviewSessions{boards: make(map[string]*usecase.Board)}
}

func (s *reviewSessions) put(b *usecase.Board) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boards[b.SessionID()] = b
}

func (s *reviewSessions) get(sessionID string) (*usecase.Board, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.boards[sessionID]
	return b, ok
}

func (s *reviewSessions) remove(sessionID string) (*usecase.Board, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.boards[sessionID]
	if ok {
		delete(s.boards, sessionID)
	}
	return b, ok
}

// openReview starts a reconciliation session: it loads the document's image
// set into a board and subscribes it to change notifications. The session
// outlives this request, so the board gets a detached context.
func (rt *Router) openReview(w http.ResponseWriter, r *http.Request, documentID string) {
	board, err := usecase.OpenBoard(
		context.WithoutCancel(r.Context()),
		documentID,
		rt.persist,
		rt.bus,
		usecase.BoardConfig{Debounce: rt.boardDebounce},
		rt.log,
	)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	rt.sessions.put(board)

	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id": board.SessionID(),
		"buckets":    board.Buckets(),
	})
}

// reviewSubtree dispatches /v1/review/{session_id}[/<action>].
func (rt *Router) reviewSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/review/")
	sessionID, action, _ := strings.Cut(rest, "/")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session id is required")
		return
	}

	board, ok := rt.sessions.get(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "no such review session")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		rt.reviewBuckets(w, board)
	case action == "" && r.Method == http.MethodDelete:
		rt.closeReview(w, r, sessionID)
	case action == "actions" && r.Method == http.MethodPost:
		rt.reviewAction(w, r, board)
	case action == "confirm" && r.Method == http.MethodPost:
		rt.confirmReview(w, r, board)
	default:
		writeError(w, http.StatusNotFound, "unknown route")
	}
}

func (rt *Router) reviewBuckets(w http.ResponseWriter, board *usecase.Board) {
	writeJSON(w, http.StatusOK, map[string]any{
		"buckets": board.Buckets(),
		"pending": board.Pending(),
	})
}

type reviewActionRequest struct {
	Op       string `json:"op"`
	URL      string `json:"url"`
	Angle    string `json:"angle,omitempty"`
	Category string `json:"category,omitempty"`
}

// reviewAction applies one manual correction to the board. The edit lands in
// the autosave buffer and flushes after the debounce window.
func (rt *Router) reviewAction(w http.ResponseWriter, r *http.Request, board *usecase.Board) {
	var req reviewActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "image url is required")
		return
	}

	var err error
	switch req.Op {
	case "move":
		var angle domain.Angle
		angle, err = domain.ParseAngle(req.Angle)
		if err == nil {
			err = board.Move(req.URL, angle)
		}
	case "swap":
		err = board.Swap(req.URL)
	case "toggle_closeup":
		err = board.ToggleCloseup(req.URL)
	case "set_category":
		var category domain.Category
		category, err = domain.ParseCategory(req.Category)
		if err == nil {
			err = board.SetCategory(req.URL, category)
		}
	case "delete":
		err = board.Delete(req.URL)
	default:
		writeError(w, http.StatusBadRequest, "unknown op")
		return
	}
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "buffered",
		"pending": board.Pending(),
	})
}

// confirmReview flushes outstanding edits and verifies completeness; an
// unresolved exterior image rejects the confirmation.
func (rt *Router) confirmReview(w http.ResponseWriter, r *http.Request, board *usecase.Board) {
	counts, err := board.Confirm(r.Context())
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_exterior":   counts.TotalExterior,
		"unknown_exterior": counts.UnknownExterior,
		"ready":            counts.Ready(),
	})
}

// closeReview flushes and tears the session down; closing twice is a 404.
func (rt *Router) closeReview(w http.ResponseWriter, r *http.Request, sessionID string) {
	board, ok := rt.sessions.remove(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "no such review session")
		return
	}
	if err := board.Close(r.Context()); err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}
