// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Shivanand-hulikatti/pickup-roster/internal/model"
	"github.com/Shivanand-hulikatti/pickup-roster/internal/repository"
	"github.com/Shivanand-hulikatti/pickup-roster/internal/service"
	"github.com/Shivanand-hulikatti/pickup-roster/internal/txn"
)

// EventHandler holds the HTTP handlers of the roster API.
type EventHandler struct {
	svc *service.EventService
	log *zap.Logger
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(svc *service.EventService, log *zap.Logger) *EventHandler {
	return &EventHandler{svc: svc, log: log}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func zapLevel(l model.Level) zapcore.Level {
	switch l {
	case model.LevelError:
		return zapcore.ErrorLevel
	case model.LevelWarn:
		return zapcore.WarnLevel
	case model.LevelInfo:
		return zapcore.InfoLevel
	}
	return zapcore.DebugLevel
}

// fail maps err to a status and message and logs it.
func fail(log *zap.Logger, w http.ResponseWriter, r *http.Request, err error) {
	actor, _ := ActorFrom(r.Context())
	fields := []zap.Field{
		zap.String("userId", actor),
		zap.String("ip", r.RemoteAddr),
		zap.String("method", r.Method),
		zap.String("url", r.URL.String()),
	}

	if re, ok := model.AsRuleError(err); ok {
		log.Log(zapLevel(re.Level), re.Message, append(fields, zap.Int("status", re.Status))...)
		writeError(w, re.Status, re.Message)
		return
	}
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}

	var ex *txn.ExhaustedError
	if errors.As(err, &ex) {
		log.Warn("transaction retries exhausted", append(fields, zap.Error(err))...)
		if ex.Stage == txn.StageCommit {
			writeError(w, http.StatusGatewayTimeout, "Transaction commit timed out")
			return
		}
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}

	log.Error("unexpected error", append(fields, zap.Error(err))...)
	writeError(w, http.StatusInternalServerError, "Server error")
}

func parseRole(w http.ResponseWriter, raw model.Role) (model.Role, bool) {
	role, ok := model.ParseRole(string(raw))
	if !ok {
		writeError(w, http.StatusBadRequest, "role must be fieldPlayers or goalkeepers")
	}
	return role, ok
}

// ─── Handlers ─────────────────────────────────────────────────────────────────

// CreateEvent handles POST /events
// The actor becomes the host and the only member.
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req model.CreateEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	actor, _ := ActorFrom(r.Context())

	id, err := h.svc.CreateEvent(r.Context(), actor, req)
	if err != nil {
		fail(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, model.CreateEventResponse{EventID: id})
}

// ListEvents handles GET /events
// Returns the newest page of events.
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.ListEvents(r.Context())
	if err != nil {
		fail(h.log, w, r, err)
		return
	}

	// Return an empty array rather than null for better client compatibility.
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// GetEvent handles GET /events/{id}
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.svc.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// CreateSubscription handles POST /events/{id}/subscribers
func (h *EventHandler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req model.SubscriptionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	role, ok := parseRole(w, req.Role)
	if !ok {
		return
	}
	actor, _ := ActorFrom(r.Context())

	if err := h.svc.CreateSubscription(r.Context(), actor, chi.URLParam(r, "id"), role); err != nil {
		fail(h.log, w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// LeaveSubscription handles DELETE /events/{id}/subscribers/leave
func (h *EventHandler) LeaveSubscription(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	if err := h.svc.LeaveSubscription(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		fail(h.log, w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// KickSubscriber handles DELETE /events/{id}/subscribers/kick
func (h *EventHandler) KickSubscriber(w http.ResponseWriter, r *http.Request) {
	var req model.MemberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.UID == "" {
		writeError(w, http.StatusBadRequest, "uid is required")
		return
	}
	actor, _ := ActorFrom(r.Context())

	if err := h.svc.KickSubscriber(r.Context(), actor, chi.URLParam(r, "id"), req.UID); err != nil {
		fail(h.log, w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateMember handles POST /events/{id}/members
// The host promotes a pending subscriber.
func (h *EventHandler) CreateMember(w http.ResponseWriter, r *http.Request) {
	var req model.MemberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.UID == "" {
		writeError(w, http.StatusBadRequest, "uid is required")
		return
	}
	role, ok := parseRole(w, req.Role)
	if !ok {
		return
	}
	actor, _ := ActorFrom(r.Context())

	if err := h.svc.CreateMember(r.Context(), actor, chi.URLParam(r, "id"), req.UID, role); err != nil {
		fail(h.log, w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// LeaveMember handles DELETE /events/{id}/members/leave
func (h *EventHandler) LeaveMember(w http.ResponseWriter, r *http.Request) {
	var req model.SubscriptionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	role, ok := parseRole(w, req.Role)
	if !ok {
		return
	}
	actor, _ := ActorFrom(r.Context())

	if err := h.svc.LeaveMember(r.Context(), actor, chi.URLParam(r, "id"), role); err != nil {
		fail(h.log, w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// KickMember handles DELETE /events/{id}/members/kick
func (h *EventHandler) KickMember(w http.ResponseWriter, r *http.Request) {
	var req model.MemberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.UID == "" {
		writeError(w, http.StatusBadRequest, "uid is required")
		return
	}
	role, ok := parseRole(w, req.Role)
	if !ok {
		return
	}
	actor, _ := ActorFrom(r.Context())

	if err := h.svc.KickMember(r.Context(), actor, chi.URLParam(r, "id"), req.UID, role); err != nil {
		fail(h.log, w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
