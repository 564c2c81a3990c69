package handlers

import (
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/autocally/autocally/pkg/call"
	"github.com/autocally/autocally/pkg/gateway/config"
	"github.com/autocally/autocally/pkg/store"
)

// IncomingCallHandler answers the telephony provider's new-call webhook. It
// creates the call row and returns connect instructions pointing the media
// stream at the websocket endpoint.
type IncomingCallHandler struct {
	Config config.Config
	Store  store.Store
	Logger *slog.Logger
}

type connectResponse struct {
	XMLName xml.Name       `xml:"Response"`
	Connect connectElement `xml:"Connect"`
}

type connectElement struct {
	Stream streamElement `xml:"Stream"`
}

type streamElement struct {
	URL string `xml:"url,attr"`
}

func (h IncomingCallHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, r, http.StatusMethodNotAllowed, "bad_request", "method not allowed")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "bad_request", "invalid form body")
		return
	}

	callSID := strings.TrimSpace(r.PostFormValue("CallSid"))
	from := strings.TrimSpace(r.PostFormValue("From"))
	to := strings.TrimSpace(r.PostFormValue("To"))
	if callSID == "" || to == "" {
		writeJSONError(w, r, http.StatusBadRequest, "bad_request", "CallSid and To are required")
		return
	}

	phoneNumber, err := h.Store.GetPhoneNumber(r.Context(), to)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSONError(w, r, http.StatusNotFound, "not_found", "no assistant for this number")
			return
		}
		if h.Logger != nil {
			h.Logger.Error("phone number lookup failed", "to", to, "err", err)
		}
		writeJSONError(w, r, http.StatusInternalServerError, "internal", "phone number lookup failed")
		return
	}
	if phoneNumber.AssistantID == "" {
		writeJSONError(w, r, http.StatusNotFound, "not_found", "no assistant for this number")
		return
	}

	callRow := &store.Call{
		CallSID:       callSID,
		PhoneNumberID: phoneNumber.ID,
		AssistantID:   phoneNumber.AssistantID,
		CallType:      "phone",
		Direction:     "inbound",
		Status:        "in-progress",
	}
	if err := h.Store.CreateCall(r.Context(), callRow); err != nil {
		if h.Logger != nil {
			h.Logger.Error("create call failed", "call_sid", callSID, "err", err)
		}
		writeJSONError(w, r, http.StatusInternalServerError, "internal", "failed to create call")
		return
	}
	if h.Logger != nil {
		h.Logger.Info("incoming call", "call_id", callRow.ID, "call_sid", callSID, "from", from,
			"phone_number_id", phoneNumber.ID, "assistant_id", phoneNumber.AssistantID)
	}

	streamURL := fmt.Sprintf("wss://%s/v1/calls/stream?call_id=%s&phone_number_id=%s",
		r.Host, callRow.ID, phoneNumber.ID)
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_ = xml.NewEncoder(w).Encode(connectResponse{
		Connect: connectElement{Stream: streamElement{URL: streamURL}},
	})
}

// CallStatusHandler receives the telephony provider's status callbacks and
// forwards them to the orchestrator. Terminal statuses end the session.
type CallStatusHandler struct {
	Orchestrator *call.Orchestrator
	Logger       *slog.Logger
}

func (h CallStatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, r, http.StatusMethodNotAllowed, "bad_request", "method not allowed")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "bad_request", "invalid form body")
		return
	}

	callSID := strings.TrimSpace(r.PostFormValue("CallSid"))
	status := strings.TrimSpace(r.PostFormValue("CallStatus"))
	if callSID == "" || status == "" {
		writeJSONError(w, r, http.StatusBadRequest, "bad_request", "CallSid and CallStatus are required")
		return
	}

	if h.Logger != nil {
		h.Logger.Info("call status", "call_sid", callSID, "status", status)
	}
	h.Orchestrator.CallStatus(r.Context(), callSID, status)
	w.WriteHeader(http.StatusNoContent)
}
