package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-ble/internal/bridges/govee"
)

// LightResponse is the API view of one light session.
type LightResponse struct {
	DeviceID string              `json:"device_id"`
	TopicID  string              `json:"topic_id"`
	Name     string              `json:"name,omitempty"`
	Model    string              `json:"model,omitempty"`
	Profile  string              `json:"profile"`
	Link     string              `json:"link"`
	State    govee.StatusMessage `json:"state"`
	Segment  int                 `json:"segment,omitempty"`
	Pending  []string            `json:"pending"`
	Stats    govee.SessionStats  `json:"stats"`
}

func newLightResponse(info govee.LightInfo) LightResponse {
	pending := info.Dirty.List()
	if pending == nil {
		pending = []string{}
	}
	return LightResponse{
		DeviceID: info.DeviceID,
		TopicID:  info.TopicID,
		Name:     info.Name,
		Model:    info.Model,
		Profile:  info.Profile,
		Link:     info.Link.String(),
		State:    govee.NewStatusMessage(info.State),
		Segment:  info.State.Color.Segment,
		Pending:  pending,
		Stats:    info.Stats,
	}
}

// handleListLights returns every light with a session.
func (s *Server) handleListLights(w http.ResponseWriter, _ *http.Request) {
	infos := s.lights.Lights()
	lights := make([]LightResponse, 0, len(infos))
	for _, info := range infos {
		lights = append(lights, newLightResponse(info))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"lights": lights,
		"count":  len(lights),
	})
}

// handleGetLight returns one light.
func (s *Server) handleGetLight(w http.ResponseWriter, r *http.Request) {
	info, err := s.lights.Light(chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, govee.ErrInvalidDeviceID):
		writeBadRequest(w, err.Error())
	case errors.Is(err, govee.ErrUnknownDevice):
		writeNotFound(w, "light not found")
	case err != nil:
		writeInternalError(w, "failed to read light")
	default:
		writeJSON(w, http.StatusOK, newLightResponse(info))
	}
}

// handleForgetLight stops and removes a light's session.
func (s *Server) handleForgetLight(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := s.lights.Forget(r.Context(), id)
	switch {
	case errors.Is(err, govee.ErrInvalidDeviceID):
		writeBadRequest(w, err.Error())
	case errors.Is(err, govee.ErrUnknownDevice):
		writeNotFound(w, "light not found")
	case err != nil:
		s.logger.Error("forgetting light failed", "device", id, "error", err)
		writeInternalError(w, "failed to stop light session")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleCommand applies a command patch to a light, creating its session on
// first reference. Invalid fields are rejected individually; the valid
// fields of the same command are still applied and the response is 422.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read body")
		return
	}
	patch, err := govee.ParsePatch(body)
	if err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if patch.IsEmpty() {
		writeBadRequest(w, "command has no fields")
		return
	}

	err = s.lights.Command(r.Context(), id, patch)
	switch {
	case errors.Is(err, govee.ErrInvalidDeviceID):
		writeBadRequest(w, err.Error())
		return
	case errors.Is(err, govee.ErrSessionClosed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "bridge is shutting down")
		return
	case errors.Is(err, govee.ErrInvalidArgument):
		writeValidationError(w, err.Error())
		return
	case err != nil:
		s.logger.Error("command failed", "device", id, "error", err)
		writeInternalError(w, "command failed")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":    "accepted",
		"device_id": id,
	})
}

// handleHistory returns recent state changes of a light, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeNotFound(w, "state history is not enabled")
		return
	}

	id, err := govee.NormalizeDeviceID(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
	}

	entries, err := s.history.GetHistory(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("reading state history failed", "device", id, "error", err)
		writeInternalError(w, "failed to read state history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"history":   entries,
		"count":     len(entries),
	})
}
