package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/libnamic/support-chat/internal/identity"
	"github.com/libnamic/support-chat/internal/logging"
	"github.com/libnamic/support-chat/internal/support"
)

// BlockRequest is the body of PUT /admin/blocks/{customer}. An empty
// Duration applies the escalating block schedule.
type BlockRequest struct {
	Duration string `json:"duration"`
	Reason   string `json:"reason"`
}

// BlockResponse describes the block that was applied.
type BlockResponse struct {
	CustomerID string `json:"customer_id"`
	Duration   string `json:"duration"`
	Reason     string `json:"reason,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) registerAdmin(mux *http.ServeMux) {
	mux.Handle("GET /admin/rooms", s.requireOperator(http.HandlerFunc(s.handleListRooms)))
	mux.Handle("GET /admin/rooms/{room}", s.requireOperator(http.HandlerFunc(s.handleGetRoom)))
	mux.Handle("PUT /admin/blocks/{customer}", s.requireOperator(http.HandlerFunc(s.handleBlock)))
	mux.Handle("DELETE /admin/blocks/{customer}", s.requireOperator(http.HandlerFunc(s.handleUnblock)))
}

// requireOperator rejects requests that do not carry an operator token.
func (s *Server) requireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.svc.AuthenticateOperator(r.Context(), requestToken(r))
		switch {
		case errors.Is(err, support.ErrForbidden):
			writeError(w, http.StatusForbidden, "operator role required")
			return
		case err != nil:
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		log := logging.Ctx(r.Context()).With().
			Str(logging.FieldIdentity, id.ID).
			Str(logging.FieldRole, string(identity.RoleOperator)).
			Logger()
		next.ServeHTTP(w, r.WithContext(logging.WithLogger(r.Context(), log)))
	})
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.ListActive())
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	detail, err := s.svc.Room(r.PathValue("room"))
	switch {
	case errors.Is(err, support.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, "room not found")
	case err != nil:
		logging.Ctx(r.Context()).Error().Err(err).Msg("describe room failed")
		writeError(w, http.StatusInternalServerError, "describe room failed")
	default:
		writeJSON(w, http.StatusOK, detail)
	}
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	customer := r.PathValue("customer")

	var req BlockRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	var dur time.Duration
	if req.Duration != "" {
		d, err := time.ParseDuration(req.Duration)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "duration must be a positive Go duration such as 1h")
			return
		}
		dur = d
	}

	applied, err := s.svc.Block(r.Context(), customer, dur, req.Reason)
	switch {
	case errors.Is(err, support.ErrBlocksUnavailable):
		writeError(w, http.StatusServiceUnavailable, "customer blocks are not configured")
		return
	case err != nil:
		logging.Ctx(r.Context()).Error().Err(err).Msg("block failed")
		writeError(w, http.StatusInternalServerError, "block failed")
		return
	}

	writeJSON(w, http.StatusOK, BlockResponse{
		CustomerID: customer,
		Duration:   applied.String(),
		Reason:     req.Reason,
	})
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	err := s.svc.Unblock(r.Context(), r.PathValue("customer"))
	switch {
	case errors.Is(err, support.ErrBlocksUnavailable):
		writeError(w, http.StatusServiceUnavailable, "customer blocks are not configured")
	case err != nil:
		logging.Ctx(r.Context()).Error().Err(err).Msg("unblock failed")
		writeError(w, http.StatusInternalServerError, "unblock failed")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
