package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/skypro1111/call-translator/internal/call"
	"github.com/skypro1111/call-translator/internal/telephony"
	"github.com/skypro1111/call-translator/internal/worker"
)

const (
	busyMessage     = "All translation lines are busy. Please try again later."
	unavailableCall = "The translation service is unavailable. Please try again later."
)

// handleClientTwiML answers the provider's incoming-call webhook: it creates
// a session and connects the caller's audio to the client media stream
func (h *HTTPServer) handleClientTwiML(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	from := r.PostForm.Get("From")
	session, err := h.manager.CreateSession(from, h.config.Telephony.OperatorNumber,
		h.config.Session.SourceLanguage, h.config.Session.TargetLanguage)
	if err != nil {
		message := unavailableCall
		if errors.Is(err, worker.ErrCapacity) {
			message = busyMessage
		}
		h.logger.Warn("Rejecting incoming call",
			slog.String("call_sid", r.PostForm.Get("CallSid")),
			slog.String("error", err.Error()),
		)
		doc, err := telephony.Reject(message)
		h.writeTwiML(w, doc, err)
		return
	}

	h.logger.Info("Incoming client call",
		slog.String("session_id", session.ID),
		slog.String("call_sid", r.PostForm.Get("CallSid")),
	)

	doc, err := telephony.ConnectStream(
		h.endpoints(r).StreamURL(call.RoleClient, session.ID),
		telephony.Parameter{Name: "session_id", Value: session.ID},
	)
	h.writeTwiML(w, doc, err)
}

// handleOperatorTwiML answers the webhook of an operator call placed outside
// this service by connecting it to the session's operator media stream
func (h *HTTPServer) handleOperatorTwiML(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	id := r.PathValue("session_id")
	if _, ok := h.manager.Lookup(id); !ok {
		doc, err := telephony.Reject(unavailableCall)
		h.writeTwiML(w, doc, err)
		return
	}

	doc, err := telephony.ConnectStream(
		h.endpoints(r).StreamURL(call.RoleOperator, id),
		telephony.Parameter{Name: "session_id", Value: id},
	)
	h.writeTwiML(w, doc, err)
}

// handleStatusCallback releases the session when the operator call fails
func (h *HTTPServer) handleStatusCallback(w http.ResponseWriter, r *http.Request) {
	cb, err := telephony.ParseStatusCallback(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := r.PathValue("session_id")
	h.logger.Debug("Operator call status",
		slog.String("session_id", id),
		slog.String("call_sid", cb.CallSID),
		slog.String("status", string(cb.CallStatus)),
	)

	if cb.CallStatus.Failed() {
		h.manager.FailDial(id, &worker.DialError{SessionID: id, Status: string(cb.CallStatus)})
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMediaStream upgrades a provider media stream and attaches it to the
// session as the leg named in the path
func (h *HTTPServer) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	role, err := call.ParseRole(r.PathValue("role"))
	if err != nil {
		http.Error(w, "Unknown role", http.StatusNotFound)
		return
	}
	id := r.PathValue("session_id")
	if _, ok := h.manager.Lookup(id); !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Media stream upgrade failed",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
		return
	}

	leg := telephony.NewMediaLeg(conn, role, id, h.legConfig(), h.logger, h.metrics)
	if err := h.manager.AttachLeg(r.Context(), id, role, leg); err != nil {
		h.logger.Warn("Failed to attach media stream",
			slog.String("session_id", id),
			slog.String("role", role.String()),
			slog.String("error", err.Error()),
		)
		leg.Close()
	}
}

func (h *HTTPServer) writeTwiML(w http.ResponseWriter, doc []byte, err error) {
	if err != nil {
		h.logger.Error("Failed to render TwiML", slog.String("error", err.Error()))
		http.Error(w, "Failed to render response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Write(doc)
}
