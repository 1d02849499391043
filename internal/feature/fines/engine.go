// Package fines holds the fine-assessment business rules: who gets fined
// after an inactive day and how the weekly summary is assembled.
package fines

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"wa_group_ledger_bot/internal/domain"
	"wa_group_ledger_bot/internal/logging"
)

type finesLedger interface {
	GetInactiveUsers(ctx context.Context, groupID string, thresholdDays int) ([]domain.User, error)
	AddFine(ctx context.Context, phone, groupID string, amount int64, reason string) (domain.Fine, error)
	GetAllFines(ctx context.Context, groupID string) ([]domain.FineTotal, error)
}

// AssessmentFailure records one user whose fine could not be written. The
// batch continues past it.
type AssessmentFailure struct {
	Phone string
	Err   error
}

// Engine applies the inactivity fine rule and builds fine summaries.
type Engine struct {
	ledger finesLedger
	logger *logrus.Entry
}

// NewEngine constructs an Engine over the ledger store.
func NewEngine(ledger finesLedger, logger *logrus.Entry) *Engine {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Engine{
		ledger: ledger,
		logger: logger,
	}
}

// AssessDailyFines fines every non-admin user in the group who has been
// inactive past the threshold. One user's failure never aborts the rest of
// the batch; failures come back collected. The returned error covers only
// the inactivity query itself.
func (e *Engine) AssessDailyFines(ctx context.Context, groupID string, thresholdDays int, amount int64) ([]domain.FinedMember, []AssessmentFailure, error) {
	if e == nil || e.ledger == nil {
		return nil, nil, errors.New("fine engine is not initialized")
	}
	if ctx == nil {
		return nil, nil, errors.New("context is required")
	}

	inactive, err := e.ledger.GetInactiveUsers(ctx, groupID, thresholdDays)
	if err != nil {
		return nil, nil, fmt.Errorf("assess daily fines: %w", err)
	}

	var fined []domain.FinedMember
	var failures []AssessmentFailure

	for _, user := range inactive {
		fine, err := e.ledger.AddFine(ctx, user.Phone, groupID, amount, domain.FineReasonInactivity)
		if err != nil {
			failures = append(failures, AssessmentFailure{Phone: user.Phone, Err: err})
			e.logger.WithFields(logging.Fields{
				"event":    "fine_assessment_failed",
				"phone":    user.Phone,
				"group_id": groupID,
			}).WithError(err).Warn("skipping user, continuing batch")
			continue
		}

		fined = append(fined, domain.FinedMember{
			Phone:  user.Phone,
			Name:   user.Name,
			Amount: fine.Amount,
		})
	}

	e.logger.WithFields(logging.Fields{
		"event":    "daily_fines_assessed",
		"group_id": groupID,
		"fined":    len(fined),
		"failed":   len(failures),
	}).Info("daily fine assessment finished")

	return fined, failures, nil
}

// BuildFineSummary partitions the group's members into fined and clean and
// totals the outstanding fines. Formatting into reply text is the
// transport's concern.
func (e *Engine) BuildFineSummary(ctx context.Context, groupID string) (domain.FineSummary, error) {
	if e == nil || e.ledger == nil {
		return domain.FineSummary{}, errors.New("fine engine is not initialized")
	}
	if ctx == nil {
		return domain.FineSummary{}, errors.New("context is required")
	}

	totals, err := e.ledger.GetAllFines(ctx, groupID)
	if err != nil {
		return domain.FineSummary{}, fmt.Errorf("build fine summary: %w", err)
	}

	summary := domain.FineSummary{GroupID: groupID}
	for _, row := range totals {
		if row.TotalFine > 0 {
			summary.Fined = append(summary.Fined, row)
			summary.Total += row.TotalFine
			continue
		}
		summary.Clean = append(summary.Clean, row)
	}

	return summary, nil
}
