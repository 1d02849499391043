// Package webhook receives inbound message events pushed by the gateway
// sidecar and feeds them into the activity recorder. Command parsing and
// reply text stay on the sidecar; only the ledger-relevant facts arrive here.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"wa_group_ledger_bot/internal/domain"
	"wa_group_ledger_bot/internal/logging"
)

type activityRecorder interface {
	RecordActivity(ctx context.Context, senderID, name, groupID string, isAdmin bool) error
}

type groupRegistry interface {
	UpsertGroup(ctx context.Context, groupID, name string, botIsAdmin bool) error
}

// Event is one inbound message observation from the sidecar.
type Event struct {
	GroupID    string `json:"group_id"`
	GroupName  string `json:"group_name,omitempty"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name,omitempty"`
	IsAdmin    bool   `json:"is_admin"`
}

// Handler accepts POST /events with an Event body.
type Handler struct {
	recorder activityRecorder
	groups   groupRegistry
	logger   *logrus.Entry
}

// NewHandler builds the events handler.
func NewHandler(recorder activityRecorder, groups groupRegistry, logger *logrus.Entry) *Handler {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Handler{
		recorder: recorder,
		groups:   groups,
		logger:   logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var event Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed event"})
		return
	}

	ctx := r.Context()

	if err := h.groups.UpsertGroup(ctx, event.GroupID, event.GroupName, false); err != nil {
		h.fail(w, event, err)
		return
	}

	if err := h.recorder.RecordActivity(ctx, event.SenderID, event.SenderName, event.GroupID, event.IsAdmin); err != nil {
		h.fail(w, event, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

func (h *Handler) fail(w http.ResponseWriter, event Event, err error) {
	if errors.Is(err, domain.ErrInvalidIdentifier) || domain.IsConstraint(err) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	h.logger.WithFields(logging.Fields{
		"event":    "inbound_event_failed",
		"group_id": event.GroupID,
	}).WithError(err).Error("inbound event not recorded")
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "event not recorded"})
}

func writeJSON(w http.ResponseWriter, status int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
