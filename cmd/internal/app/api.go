package app

import (
	"errors"
	"net/http"
	"time"

	"lightlink/cmd/identity"
	"lightlink/cmd/internal/moderation"
	"lightlink/cmd/internal/notify"
	"lightlink/cmd/internal/realtime"
	"lightlink/cmd/internal/store"
	v1 "lightlink/contracts/realtime/v1"
)

// apiHandler serves the small REST surface beside the websocket.
type apiHandler struct {
	log         Logger
	trustProxy  bool
	vapidPublic string

	moderation *moderation.Manager
	center     *notify.Center
	relay      notify.Relay
}

func (h *apiHandler) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/check-ban", h.checkBan)
	mux.HandleFunc("GET /api/check-warning", h.checkWarning)
	mux.HandleFunc("GET /api/announcements", h.announcements)
	mux.HandleFunc("GET /api/vapid-public-key", h.vapidPublicKey)
	mux.HandleFunc("POST /api/push-subscribe", h.pushSubscribe)
	mux.HandleFunc("POST /api/feedback", h.feedback)
}

type checkBanResponse struct {
	Banned  bool       `json:"banned"`
	Reason  string     `json:"reason,omitempty"`
	Expires *time.Time `json:"expires,omitempty"`
}

func (h *apiHandler) checkBan(w http.ResponseWriter, r *http.Request) {
	addr := realtime.ClientIP(r, h.trustProxy)
	ban, banned, err := h.moderation.CheckBan(r.Context(), addr)
	if err != nil {
		h.log.Error("api.check_ban.fail", "err", err)
		writeDomainError(w, err)
		return
	}
	if !banned {
		writeJSON(w, http.StatusOK, checkBanResponse{})
		return
	}
	writeJSON(w, http.StatusOK, checkBanResponse{Banned: true, Reason: ban.Reason, Expires: ban.Expires})
}

func (h *apiHandler) checkWarning(w http.ResponseWriter, r *http.Request) {
	name := identity.NormalizeName(r.URL.Query().Get("username"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "username required")
		return
	}
	warning, found, err := h.moderation.TakeWarning(r.Context(), name)
	if err != nil {
		h.log.Error("api.check_warning.fail", "err", err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v1.WarningStatusPayload{Warning: found, Message: warning.Message})
}

func (h *apiHandler) announcements(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, v1.AnnouncementsPayload{Announcements: h.moderation.Announcements()})
}

func (h *apiHandler) vapidPublicKey(w http.ResponseWriter, _ *http.Request) {
	if h.vapidPublic == "" {
		writeError(w, http.StatusNotFound, "push_disabled", "push notifications are not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"public_key": h.vapidPublic})
}

type pushSubscribeRequest struct {
	Username     string                 `json:"username"`
	Token        string                 `json:"token,omitempty"`
	Subscription store.PushSubscription `json:"subscription"`
}

func (h *apiHandler) pushSubscribe(w http.ResponseWriter, r *http.Request) {
	var req pushSubscribeRequest
	if err := decodeJSON(w, r, maxAPIBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	if err := h.center.Subscribe(r.Context(), req.Username, req.Token, req.Subscription); err != nil {
		if !identity.IsInvalidInput(err) && !identity.IsUnauthenticated(err) {
			h.log.Error("api.push_subscribe.fail", "err", err)
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]bool{"success": true})
}

type feedbackRequest struct {
	Message string `json:"message"`
	Contact string `json:"contact,omitempty"`
}

func (h *apiHandler) feedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := decodeJSON(w, r, maxAPIBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	text, err := moderation.FeedbackText(req.Message, req.Contact)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.relay.PostText(r.Context(), text); err != nil {
		if errors.Is(err, notify.ErrRelayDisabled) {
			writeError(w, http.StatusServiceUnavailable, "feedback_disabled", "feedback is not configured")
			return
		}
		h.log.Warn("api.feedback.fail", "err", err)
		writeError(w, http.StatusBadGateway, "relay_failed", "could not deliver feedback")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
