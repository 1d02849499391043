// Package activity applies the inbound-message rule: every message marks its
// sender active for the day and keeps their membership record fresh.
package activity

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"wa_group_ledger_bot/internal/domain"
	"wa_group_ledger_bot/internal/identity"
	"wa_group_ledger_bot/internal/logging"
)

type activityLedger interface {
	UpsertUser(ctx context.Context, phone, name, groupID string, isAdmin bool) error
	TouchActivity(ctx context.Context, phone, groupID string) error
}

// Recorder marks users active on inbound messages. Calling it twice in the
// same day leaves the activity date unchanged and increments the daily
// message counter each time.
type Recorder struct {
	ledger activityLedger
	logger *logrus.Entry
}

// NewRecorder constructs a Recorder over the ledger store.
func NewRecorder(ledger activityLedger, logger *logrus.Entry) *Recorder {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Recorder{
		ledger: ledger,
		logger: logger,
	}
}

// RecordActivity upserts the sender's membership row and touches today's
// activity. senderID may be any notation the platform emits; malformed
// identifiers are rejected before any write.
func (r *Recorder) RecordActivity(ctx context.Context, senderID, name, groupID string, isAdmin bool) error {
	if r == nil || r.ledger == nil {
		return errors.New("activity recorder is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if groupID == "" {
		return fmt.Errorf("record activity: group id is required: %w", domain.ErrInvalidIdentifier)
	}

	phone, ok := identity.ValidatePhone(identity.NormalizeIdentifier(senderID))
	if !ok {
		return fmt.Errorf("record activity for %q: %w", senderID, domain.ErrInvalidIdentifier)
	}

	if err := r.ledger.UpsertUser(ctx, phone, name, groupID, isAdmin); err != nil {
		return fmt.Errorf("record activity: %w", err)
	}

	if err := r.ledger.TouchActivity(ctx, phone, groupID); err != nil {
		return fmt.Errorf("record activity: %w", err)
	}

	r.logger.WithFields(logging.Fields{
		"event":    "activity_recorded",
		"phone":    phone,
		"group_id": groupID,
	}).Debug("activity recorded")

	return nil
}
