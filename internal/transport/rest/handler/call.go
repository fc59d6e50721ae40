package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"tutorcall/internal/model"
	"tutorcall/internal/service"
	"tutorcall/internal/transport/rest/middleware"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// CallAPI is the slice of service.CallService the handlers use
type CallAPI interface {
	EnsureRoom(ctx context.Context, sessionID, callerID string) (*model.RoomRef, error)
	Join(ctx context.Context, roomID, callerID string, userType model.UserType) (*model.JoinResponse, error)
	Leave(ctx context.Context, roomID, callerID string) error
	ValidateAccess(ctx context.Context, roomID, callerID, token string) (model.UserType, error)
	RoomStatus(ctx context.Context, roomID string) (*model.RoomStatus, error)
	StartCall(ctx context.Context, roomID, callerID string, userType model.UserType) (*model.CallState, error)
	EndCall(ctx context.Context, roomID, sessionID, callerID string, userType model.UserType) (*model.CallState, error)
	CancelSession(ctx context.Context, sessionID string, userType model.UserType) (*model.CallState, error)
}

// CallHandler handles room access and call lifecycle endpoints
type CallHandler struct {
	calls CallAPI
}

// NewCallHandler creates a new call handler
func NewCallHandler(calls CallAPI) *CallHandler {
	return &CallHandler{calls: calls}
}

// JoinRequest is the optional body of a join
type JoinRequest struct {
	UserType string `json:"userType"`
}

// ValidateRequest is the body of an access token check
type ValidateRequest struct {
	AccessToken string `json:"accessToken"`
}

// EndRequest is the body of an explicit end
type EndRequest struct {
	SessionID string `json:"sessionId"`
}

// EnsureRoom handles POST /v1/sessions/{id}/room
// @Summary Create or fetch the call room of a session
// @Tags calls
// @Security BearerAuth
// @Param id path string true "session id"
// @Success 200 {object} model.RoomRef
// @Failure 402 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /sessions/{id}/room [post]
func (h *CallHandler) EnsureRoom(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	ref, err := h.calls.EnsureRoom(r.Context(), mux.Vars(r)["id"], claims.ParticipantID())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

// Join handles POST /v1/rooms/{roomId}/join
// @Summary Join a call room and receive a signaling access token
// @Tags calls
// @Security BearerAuth
// @Param roomId path string true "room id"
// @Param body body JoinRequest false "user type, defaults to the token's"
// @Success 200 {object} model.JoinResponse
// @Failure 403 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /rooms/{roomId}/join [post]
func (h *CallHandler) Join(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	userType := claims.UserType
	var req JoinRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.UserType != "" {
		parsed, ok := model.ParseUserType(req.UserType)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown userType")
			return
		}
		if parsed != userType {
			writeError(w, http.StatusForbidden, service.ErrUnauthorized.Error())
			return
		}
	}

	resp, err := h.calls.Join(r.Context(), mux.Vars(r)["roomId"], claims.ParticipantID(), userType)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Leave handles POST /v1/rooms/{roomId}/leave
// @Summary Leave a call room
// @Tags calls
// @Security BearerAuth
// @Param roomId path string true "room id"
// @Success 200 {object} map[string]string
// @Router /rooms/{roomId}/leave [post]
func (h *CallHandler) Leave(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.calls.Leave(r.Context(), mux.Vars(r)["roomId"], claims.ParticipantID()); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

// Validate handles POST /v1/rooms/{roomId}/validate
// @Summary Check a room access token
// @Tags calls
// @Security BearerAuth
// @Param roomId path string true "room id"
// @Param body body ValidateRequest true "access token"
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} map[string]string
// @Router /rooms/{roomId}/validate [post]
func (h *CallHandler) Validate(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccessToken == "" {
		writeError(w, http.StatusBadRequest, "accessToken is required")
		return
	}

	userType, err := h.calls.ValidateAccess(r.Context(), mux.Vars(r)["roomId"], claims.ParticipantID(), req.AccessToken)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid":    true,
		"userType": userType,
	})
}

// Status handles GET /v1/rooms/{roomId}/status
// @Summary Call status and live participant count of a room
// @Tags calls
// @Security BearerAuth
// @Param roomId path string true "room id"
// @Success 200 {object} model.RoomStatus
// @Failure 404 {object} map[string]string
// @Router /rooms/{roomId}/status [get]
func (h *CallHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.calls.RoomStatus(r.Context(), mux.Vars(r)["roomId"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Start handles POST /v1/rooms/{roomId}/start
// @Summary Force the call into progress
// @Tags calls
// @Security BearerAuth
// @Param roomId path string true "room id"
// @Success 200 {object} model.CallState
// @Router /rooms/{roomId}/start [post]
func (h *CallHandler) Start(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	state, err := h.calls.StartCall(r.Context(), mux.Vars(r)["roomId"], claims.ParticipantID(), claims.UserType)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// End handles POST /v1/rooms/{roomId}/end
// @Summary End the call
// @Tags calls
// @Security BearerAuth
// @Param roomId path string true "room id"
// @Param body body EndRequest true "session id"
// @Success 200 {object} model.CallState
// @Router /rooms/{roomId}/end [post]
func (h *CallHandler) End(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req EndRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	state, err := h.calls.EndCall(r.Context(), mux.Vars(r)["roomId"], req.SessionID, claims.ParticipantID(), claims.UserType)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// Cancel handles POST /v1/sessions/{id}/cancel
// @Summary Cancel a session and end its call (admin)
// @Tags calls
// @Security BearerAuth
// @Param id path string true "session id"
// @Success 200 {object} model.CallState
// @Failure 403 {object} map[string]string
// @Router /sessions/{id}/cancel [post]
func (h *CallHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	state, err := h.calls.CancelSession(r.Context(), mux.Vars(r)["id"], claims.UserType)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// statusFor maps service sentinels to HTTP statuses
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrSessionNotFound), errors.Is(err, service.ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, service.ErrPaymentRequired):
		return http.StatusPaymentRequired
	case errors.Is(err, service.ErrCancelled), errors.Is(err, service.ErrAlreadyEnded), errors.Is(err, service.ErrRoomFull):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, service.ErrInvalidToken):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("module", "rest").Str("path", r.URL.Path).Msg("request failed")
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
