// Package schedule fires the four automation jobs at configured wall-clock
// times: the daily inactivity warning, the weekly fine summary, and the call
// reminder and notice on the deadline weekday.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"wa_group_ledger_bot/internal/domain"
	"wa_group_ledger_bot/internal/feature/fines"
	"wa_group_ledger_bot/internal/logging"
)

// Job names the four triggers.
type Job string

const (
	JobDailyWarning Job = "daily_warning"
	JobFineSummary  Job = "fine_summary"
	JobCallReminder Job = "call_reminder"
	JobCallNotice   Job = "call_notice"
)

// mentionSuffix turns bare phone digits back into platform participant ids
// for tagging.
const mentionSuffix = "@c.us"

// TimeOfDay is a wall-clock HH:MM trigger time.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" in 24-hour notation.
func ParseTimeOfDay(value string) (TimeOfDay, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: %w", value, err)
	}
	return TimeOfDay{Hour: parsed.Hour(), Minute: parsed.Minute()}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

type groupLister interface {
	ListActiveGroups(ctx context.Context) ([]domain.Group, error)
}

type adminGate interface {
	IsBotAdmin(ctx context.Context, groupID string) bool
}

type fineEngine interface {
	AssessDailyFines(ctx context.Context, groupID string, thresholdDays int, amount int64) ([]domain.FinedMember, []fines.AssessmentFailure, error)
	BuildFineSummary(ctx context.Context, groupID string) (domain.FineSummary, error)
}

type sender interface {
	SendToGroup(ctx context.Context, groupID string, payload domain.Notification) error
}

// Alerter reports batch failures to an operator side channel.
type Alerter interface {
	Alert(ctx context.Context, message string)
}

// Config carries the trigger times and fine parameters.
type Config struct {
	DailyWarningTime TimeOfDay
	FineSummaryTime  TimeOfDay
	CallReminderTime TimeOfDay
	CallNoticeTime   TimeOfDay

	// DeadlineDay restricts the weekly jobs (summary, reminder, notice).
	DeadlineDay time.Weekday
	Location    *time.Location

	ThresholdDays int
	FineAmount    int64
	Currency      string
}

// Runner owns the job goroutines. Overlapping runs of the same job are
// skipped, not queued; a running batch finishes its current group on
// shutdown before stopping.
type Runner struct {
	cfg     Config
	groups  groupLister
	gate    adminGate
	engine  fineEngine
	sender  sender
	alerter Alerter
	logger  *logrus.Entry

	nowFunc func() time.Time

	mu       sync.Mutex
	inFlight map[Job]bool

	wg sync.WaitGroup
}

// NewRunner builds a Runner. alerter may be nil.
func NewRunner(cfg Config, groups groupLister, gate adminGate, engine fineEngine, sender sender, alerter Alerter, logger *logrus.Entry) *Runner {
	if logger == nil {
		logger = logging.Logger()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	return &Runner{
		cfg:      cfg,
		groups:   groups,
		gate:     gate,
		engine:   engine,
		sender:   sender,
		alerter:  alerter,
		logger:   logger,
		nowFunc:  time.Now,
		inFlight: make(map[Job]bool),
	}
}

// Start launches one timer loop per job and returns. Cancel ctx to stop;
// Wait blocks until all loops and in-flight runs have finished.
func (r *Runner) Start(ctx context.Context) error {
	if r == nil || r.groups == nil || r.gate == nil || r.engine == nil || r.sender == nil {
		return errors.New("job runner is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	for _, job := range []Job{JobDailyWarning, JobFineSummary, JobCallReminder, JobCallNotice} {
		r.wg.Add(1)
		go r.loop(ctx, job)
	}

	return nil
}

// Wait blocks until every job loop has exited.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) loop(ctx context.Context, job Job) {
	defer r.wg.Done()

	for {
		next := r.nextRun(job, r.nowFunc().In(r.cfg.Location))
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			r.trigger(ctx, job)
		}
	}
}

// nextRun computes the next trigger instant strictly after now. Weekly jobs
// land on the configured deadline weekday.
func (r *Runner) nextRun(job Job, now time.Time) time.Time {
	at := r.timeFor(job)
	next := time.Date(now.Year(), now.Month(), now.Day(), at.Hour, at.Minute, 0, 0, r.cfg.Location)

	if job == JobDailyWarning {
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	}

	for next.Weekday() != r.cfg.DeadlineDay || !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (r *Runner) timeFor(job Job) TimeOfDay {
	switch job {
	case JobFineSummary:
		return r.cfg.FineSummaryTime
	case JobCallReminder:
		return r.cfg.CallReminderTime
	case JobCallNotice:
		return r.cfg.CallNoticeTime
	default:
		return r.cfg.DailyWarningTime
	}
}

// trigger runs one batch of the job across all active groups, skipping when
// the previous run of the same job is still in flight.
func (r *Runner) trigger(ctx context.Context, job Job) {
	r.mu.Lock()
	if r.inFlight[job] {
		r.mu.Unlock()
		r.logger.WithFields(logging.Fields{
			"event": "job_overlap_skipped",
			"job":   string(job),
		}).Warn("previous run still in flight, skipping")
		return
	}
	r.inFlight[job] = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.inFlight[job] = false
		r.mu.Unlock()
	}()

	runID := uuid.NewString()
	runLogger := r.logger.WithFields(logging.Fields{
		"job":    string(job),
		"run_id": runID,
	})

	groups, err := r.groups.ListActiveGroups(ctx)
	if err != nil {
		runLogger.WithError(err).Error("listing active groups failed, run aborted")
		r.alert(ctx, fmt.Sprintf("%s run %s aborted: %v", job, runID, err))
		return
	}

	runLogger.WithField("groups", len(groups)).Info("job run started")

	var failed []string
	for _, group := range groups {
		if ctx.Err() != nil {
			runLogger.Warn("shutdown requested, stopping after current group")
			break
		}

		if !r.gate.IsBotAdmin(ctx, group.GroupID) {
			runLogger.WithField("group_id", group.GroupID).Debug("bot is not admin, skipping group")
			continue
		}

		if err := r.runGroup(ctx, job, group.GroupID); err != nil {
			failed = append(failed, group.GroupID)
			runLogger.WithFields(logging.Fields{
				"group_id": group.GroupID,
			}).WithError(err).Error("group failed, continuing batch")
		}
	}

	runLogger.WithField("failed_groups", len(failed)).Info("job run finished")

	if len(failed) > 0 {
		r.alert(ctx, fmt.Sprintf("%s run %s: %d group(s) failed: %s",
			job, runID, len(failed), strings.Join(failed, ", ")))
	}
}

func (r *Runner) runGroup(ctx context.Context, job Job, groupID string) error {
	switch job {
	case JobDailyWarning:
		return r.runDailyWarning(ctx, groupID)
	case JobFineSummary:
		return r.runFineSummary(ctx, groupID)
	case JobCallReminder:
		return r.sender.SendToGroup(ctx, groupID, domain.Notification{
			Kind:     domain.KindCallReminder,
			CallTime: r.cfg.CallNoticeTime.String(),
		})
	case JobCallNotice:
		return r.sender.SendToGroup(ctx, groupID, domain.Notification{
			Kind:     domain.KindCallNotice,
			CallTime: r.cfg.CallNoticeTime.String(),
		})
	default:
		return fmt.Errorf("unknown job %q", job)
	}
}

func (r *Runner) runDailyWarning(ctx context.Context, groupID string) error {
	fined, failures, err := r.engine.AssessDailyFines(ctx, groupID, r.cfg.ThresholdDays, r.cfg.FineAmount)
	if err != nil {
		return err
	}

	for _, failure := range failures {
		r.logger.WithFields(logging.Fields{
			"job":      string(JobDailyWarning),
			"group_id": groupID,
			"phone":    failure.Phone,
		}).WithError(failure.Err).Warn("fine not recorded for user")
	}

	if len(fined) == 0 {
		return nil
	}

	mentions := make([]string, 0, len(fined))
	for _, member := range fined {
		mentions = append(mentions, member.Phone+mentionSuffix)
	}

	return r.sender.SendToGroup(ctx, groupID, domain.Notification{
		Kind:        domain.KindInactivityWarning,
		Mentions:    mentions,
		Fined:       fined,
		Amount:      r.cfg.FineAmount,
		Currency:    r.cfg.Currency,
		DeadlineDay: r.cfg.DeadlineDay.String(),
	})
}

func (r *Runner) runFineSummary(ctx context.Context, groupID string) error {
	summary, err := r.engine.BuildFineSummary(ctx, groupID)
	if err != nil {
		return err
	}

	mentions := make([]string, 0, len(summary.Fined))
	for _, row := range summary.Fined {
		mentions = append(mentions, row.Phone+mentionSuffix)
	}

	return r.sender.SendToGroup(ctx, groupID, domain.Notification{
		Kind:        domain.KindFineSummary,
		Mentions:    mentions,
		Summary:     &summary,
		Currency:    r.cfg.Currency,
		DeadlineDay: r.cfg.DeadlineDay.String(),
	})
}

func (r *Runner) alert(ctx context.Context, message string) {
	if r.alerter == nil {
		return
	}
	r.alerter.Alert(ctx, message)
}
