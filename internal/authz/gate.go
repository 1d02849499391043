// Package authz implements the two-party authorization gate: the bot must
// hold admin privilege in the group before the acting admin's privilege is
// even considered.
package authz

import (
	"context"

	"github.com/sirupsen/logrus"

	"wa_group_ledger_bot/internal/domain"
	"wa_group_ledger_bot/internal/identity"
	"wa_group_ledger_bot/internal/logging"
	"wa_group_ledger_bot/internal/roster"
)

// Reason explains a gate decision for user-facing messaging.
type Reason string

const (
	ReasonAllowed           Reason = "allowed"
	ReasonBotNotAdmin       Reason = "bot_not_admin"
	ReasonActorNotAdmin     Reason = "actor_not_admin"
	ReasonActorNotFound     Reason = "actor_not_found"
	ReasonRosterUnavailable Reason = "roster_unavailable"
)

// Decision is the gate's verdict. The gate never returns an error; failures
// map to a denied decision with a reason.
type Decision struct {
	Allowed bool
	Reason  Reason
}

// GroupStatusStore persists the bot-admin flag observed during evaluation.
type GroupStatusStore interface {
	SetBotAdminStatus(ctx context.Context, groupID string, isAdmin bool) error
}

// Gate evaluates admin privilege against live rosters.
type Gate struct {
	provider    roster.Provider
	groups      GroupStatusStore
	botID       string
	countryCode string
	logger      *logrus.Entry
}

// NewGate builds a gate. groups may be nil when persistence of the observed
// bot-admin flag is not wanted.
func NewGate(provider roster.Provider, groups GroupStatusStore, botID, countryCode string, logger *logrus.Entry) *Gate {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Gate{
		provider:    provider,
		groups:      groups,
		botID:       botID,
		countryCode: countryCode,
		logger:      logger,
	}
}

// IsBotAdmin reports whether the bot holds admin privilege in the group,
// failing closed when the roster cannot be fetched.
func (g *Gate) IsBotAdmin(ctx context.Context, groupID string) bool {
	snapshot, ok := g.fetchRoster(ctx, groupID)
	if !ok {
		return false
	}

	isAdmin := g.evaluateBot(ctx, groupID, snapshot)
	return isAdmin
}

// CanActAsAdmin reports whether the actor resolves to an admin roster entry,
// failing closed on unresolved actors and roster failures.
func (g *Gate) CanActAsAdmin(ctx context.Context, groupID, actorID string) bool {
	snapshot, ok := g.fetchRoster(ctx, groupID)
	if !ok {
		return false
	}

	participant, status := identity.Resolve(snapshot, actorID, g.countryCode)
	return status == identity.StatusOK && participant.IsAdmin
}

// Authorize applies the composite rule for privileged operations: bot admin
// first, then actor admin, short-circuiting on the first failure.
func (g *Gate) Authorize(ctx context.Context, groupID, actorID string) Decision {
	snapshot, ok := g.fetchRoster(ctx, groupID)
	if !ok {
		return Decision{Allowed: false, Reason: ReasonRosterUnavailable}
	}

	if !g.evaluateBot(ctx, groupID, snapshot) {
		return Decision{Allowed: false, Reason: ReasonBotNotAdmin}
	}

	participant, status := identity.Resolve(snapshot, actorID, g.countryCode)
	if status != identity.StatusOK {
		return Decision{Allowed: false, Reason: ReasonActorNotFound}
	}
	if !participant.IsAdmin {
		return Decision{Allowed: false, Reason: ReasonActorNotAdmin}
	}

	return Decision{Allowed: true, Reason: ReasonAllowed}
}

func (g *Gate) fetchRoster(ctx context.Context, groupID string) ([]domain.Participant, bool) {
	snapshot, err := g.provider.FetchParticipants(ctx, groupID, false)
	if err != nil {
		g.logger.WithFields(logging.Fields{
			"event":    "roster_fetch_failed",
			"group_id": groupID,
		}).WithError(err).Warn("denying privileged operation, roster unavailable")
		return nil, false
	}

	return snapshot, true
}

// evaluateBot resolves the bot against the roster and persists the observed
// flag. Persistence failures are logged, never surfaced; the live roster is
// the authority for this decision.
func (g *Gate) evaluateBot(ctx context.Context, groupID string, snapshot []domain.Participant) bool {
	participant, status := identity.Resolve(snapshot, g.botID, g.countryCode)
	isAdmin := status == identity.StatusOK && participant.IsAdmin

	if g.groups != nil {
		if err := g.groups.SetBotAdminStatus(ctx, groupID, isAdmin); err != nil {
			g.logger.WithFields(logging.Fields{
				"event":    "bot_admin_persist_failed",
				"group_id": groupID,
			}).WithError(err).Warn("bot admin flag not persisted")
		}
	}

	return isAdmin
}
