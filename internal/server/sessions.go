package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/skypro1111/call-translator/internal/call"
	"github.com/skypro1111/call-translator/internal/telephony"
	"github.com/skypro1111/call-translator/internal/worker"
)

// createSessionRequest is the body of POST /sessions
type createSessionRequest struct {
	ClientNumber   string `json:"client_number"`
	OperatorNumber string `json:"operator_number"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
}

// legStatsProvider is implemented by media legs
type legStatsProvider interface {
	GetStats() telephony.LegStats
}

// handleSessions implements the /sessions endpoint
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.manager.Sessions()
	infos := make([]call.Info, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, session.Info())
	}

	response := map[string]interface{}{
		"total_sessions": len(infos),
		"timestamp":      time.Now().UTC(),
		"sessions":       infos,
	}

	writeJSON(w, http.StatusOK, response)
}

// handleCreateSession registers a session whose legs connect to the
// returned media stream URLs
func (h *HTTPServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}
	if req.OperatorNumber == "" {
		req.OperatorNumber = h.config.Telephony.OperatorNumber
	}
	if req.SourceLanguage == "" {
		req.SourceLanguage = h.config.Session.SourceLanguage
	}
	if req.TargetLanguage == "" {
		req.TargetLanguage = h.config.Session.TargetLanguage
	}
	if req.SourceLanguage == req.TargetLanguage {
		http.Error(w, "Source and target languages must differ", http.StatusBadRequest)
		return
	}

	session, err := h.manager.CreateSession(req.ClientNumber, req.OperatorNumber, req.SourceLanguage, req.TargetLanguage)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, worker.ErrCapacity) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}

	endpoints := h.endpoints(r)
	response := map[string]interface{}{
		"session": session.Info(),
		"streams": map[string]string{
			call.RoleClient.String():   endpoints.StreamURL(call.RoleClient, session.ID),
			call.RoleOperator.String(): endpoints.StreamURL(call.RoleOperator, session.ID),
		},
	}

	writeJSON(w, http.StatusCreated, response)
}

// handleSessionDetail implements the /sessions/{id} endpoint
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	session, ok := h.manager.Lookup(id)
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	legs := make(map[string]telephony.LegStats)
	for role, leg := range session.Legs() {
		if p, ok := leg.(legStatsProvider); ok {
			legs[role.String()] = p.GetStats()
		}
	}

	response := map[string]interface{}{
		"session": session.Info(),
		"legs":    legs,
	}
	if sw, ok := h.manager.Worker(id); ok {
		response["worker"] = sw.Info()
	}

	writeJSON(w, http.StatusOK, response)
}

// handleReleaseSession disconnects a call and releases its session
func (h *HTTPServer) handleReleaseSession(w http.ResponseWriter, r *http.Request) {
	if !h.manager.Release(r.PathValue("id")) {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
