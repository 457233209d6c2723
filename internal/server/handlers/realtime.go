package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/bunbase/bunbase/internal/apierr"
	"github.com/bunbase/bunbase/internal/auth"
	"github.com/bunbase/bunbase/internal/realtime"
	"github.com/bunbase/bunbase/internal/rules"
)

// RealtimeHandlers serves the SSE transport: GET opens the event stream,
// POST attaches or replaces a client's subscription set.
type RealtimeHandlers struct {
	broker  *realtime.Broker
	auth    *auth.Service
	devMode bool
}

func NewRealtimeHandlers(broker *realtime.Broker, authService *auth.Service, devMode bool) *RealtimeHandlers {
	return &RealtimeHandlers{broker: broker, auth: authService, devMode: devMode}
}

const realtimePingInterval = 30 * time.Second

// Connect streams PB_CONNECT followed by every broadcast frame the client's
// subscriptions admit, keeping the connection alive with SSE comment pings.
func (h *RealtimeHandlers) Connect(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		InternalErrorWithRequest(w, r, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := h.broker.Connect()
	defer h.broker.Disconnect(client.ID)

	ticker := time.NewTicker(realtimePingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-client.Frames():
			if !ok {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			client.Touch()
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

type subscribeRequest struct {
	ClientID      string   `json:"clientId"`
	Subscriptions []string `json:"subscriptions"`
}

// Subscribe replaces a connected client's topic set, scoped to the
// requester's own principal.
func (h *RealtimeHandlers) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, apierr.Validation("invalid JSON body"), h.devMode)
		return
	}
	if req.ClientID == "" {
		WriteError(w, r, apierr.Validation("clientId is required"), h.devMode)
		return
	}

	principal := toRulesPrincipal(h.auth.Resolve(r))

	if err := h.broker.Subscribe(req.ClientID, principal, req.Subscriptions); err != nil {
		WriteError(w, r, err, h.devMode)
		return
	}

	JSON(w, http.StatusNoContent, nil)
}

func toRulesPrincipal(p *auth.Principal) *rules.Principal {
	if p == nil {
		return nil
	}
	return &rules.Principal{ID: p.ID, Role: p.Role}
}
