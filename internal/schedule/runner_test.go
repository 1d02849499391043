package schedule

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"wa_group_ledger_bot/internal/domain"
	"wa_group_ledger_bot/internal/feature/fines"
)

type fakeGroups struct {
	groups []domain.Group
	err    error
}

func (f *fakeGroups) ListActiveGroups(context.Context) ([]domain.Group, error) {
	return f.groups, f.err
}

type fakeGate struct {
	admin  map[string]bool
	onEval func(groupID string)
}

func (f *fakeGate) IsBotAdmin(_ context.Context, groupID string) bool {
	if f.onEval != nil {
		f.onEval(groupID)
	}
	return f.admin[groupID]
}

type fakeEngine struct {
	fined      map[string][]domain.FinedMember
	failures   map[string][]fines.AssessmentFailure
	assessErr  map[string]error
	summaries  map[string]domain.FineSummary
	summaryErr map[string]error

	assessed   []string
	summarized []string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		fined:      map[string][]domain.FinedMember{},
		failures:   map[string][]fines.AssessmentFailure{},
		assessErr:  map[string]error{},
		summaries:  map[string]domain.FineSummary{},
		summaryErr: map[string]error{},
	}
}

func (f *fakeEngine) AssessDailyFines(_ context.Context, groupID string, _ int, _ int64) ([]domain.FinedMember, []fines.AssessmentFailure, error) {
	f.assessed = append(f.assessed, groupID)
	return f.fined[groupID], f.failures[groupID], f.assessErr[groupID]
}

func (f *fakeEngine) BuildFineSummary(_ context.Context, groupID string) (domain.FineSummary, error) {
	f.summarized = append(f.summarized, groupID)
	return f.summaries[groupID], f.summaryErr[groupID]
}

type sentPayload struct {
	groupID string
	payload domain.Notification
}

type fakeSender struct {
	sendErr map[string]error
	sent    []sentPayload
}

func newFakeSender() *fakeSender {
	return &fakeSender{sendErr: map[string]error{}}
}

func (f *fakeSender) SendToGroup(_ context.Context, groupID string, payload domain.Notification) error {
	f.sent = append(f.sent, sentPayload{groupID: groupID, payload: payload})
	return f.sendErr[groupID]
}

type fakeAlerter struct {
	messages []string
}

func (f *fakeAlerter) Alert(_ context.Context, message string) {
	f.messages = append(f.messages, message)
}

func testConfig() Config {
	return Config{
		DailyWarningTime: TimeOfDay{Hour: 18, Minute: 0},
		FineSummaryTime:  TimeOfDay{Hour: 9, Minute: 0},
		CallReminderTime: TimeOfDay{Hour: 12, Minute: 0},
		CallNoticeTime:   TimeOfDay{Hour: 12, Minute: 30},
		DeadlineDay:      time.Sunday,
		Location:         time.FixedZone("WAT", 3600),
		ThresholdDays:    1,
		FineAmount:       500,
		Currency:         "₦",
	}
}

func newTestRunner(groups *fakeGroups, gate *fakeGate, engine *fakeEngine, sender *fakeSender, alerter Alerter) *Runner {
	return NewRunner(testConfig(), groups, gate, engine, sender, alerter, nil)
}

func TestParseTimeOfDay(t *testing.T) {
	at, err := ParseTimeOfDay("18:05")
	if err != nil {
		t.Fatalf("ParseTimeOfDay returned error: %v", err)
	}
	if at.Hour != 18 || at.Minute != 5 {
		t.Fatalf("unexpected parse result: %+v", at)
	}
	if at.String() != "18:05" {
		t.Fatalf("expected round trip 18:05, got %s", at.String())
	}

	for _, bad := range []string{"25:00", "12:61", "noon", ""} {
		if _, err := ParseTimeOfDay(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestNextRunDailyJob(t *testing.T) {
	runner := newTestRunner(&fakeGroups{}, &fakeGate{}, newFakeEngine(), newFakeSender(), nil)
	loc := runner.cfg.Location

	// Saturday 2026-08-29, before the 18:00 trigger.
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, loc)
	next := runner.nextRun(JobDailyWarning, now)
	want := time.Date(2026, 8, 29, 18, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Fatalf("expected same-day trigger %s, got %s", want, next)
	}

	// After the trigger, the next run is tomorrow.
	now = time.Date(2026, 8, 29, 18, 0, 0, 0, loc)
	next = runner.nextRun(JobDailyWarning, now)
	want = time.Date(2026, 8, 30, 18, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Fatalf("expected next-day trigger %s, got %s", want, next)
	}
}

func TestNextRunWeeklyJobLandsOnDeadlineDay(t *testing.T) {
	runner := newTestRunner(&fakeGroups{}, &fakeGate{}, newFakeEngine(), newFakeSender(), nil)
	loc := runner.cfg.Location

	// Saturday: summary runs on Sunday morning.
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, loc)
	next := runner.nextRun(JobFineSummary, now)
	want := time.Date(2026, 8, 30, 9, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Fatalf("expected Sunday trigger %s, got %s", want, next)
	}

	// Sunday after the trigger time: wait a full week.
	now = time.Date(2026, 8, 30, 9, 30, 0, 0, loc)
	next = runner.nextRun(JobFineSummary, now)
	want = time.Date(2026, 9, 6, 9, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Fatalf("expected next-week trigger %s, got %s", want, next)
	}

	// Sunday before the reminder time: same day.
	now = time.Date(2026, 8, 30, 11, 0, 0, 0, loc)
	next = runner.nextRun(JobCallReminder, now)
	want = time.Date(2026, 8, 30, 12, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Fatalf("expected same-Sunday trigger %s, got %s", want, next)
	}
}

func TestDailyWarningSendsPayloadForFinedUsers(t *testing.T) {
	groups := &fakeGroups{groups: []domain.Group{{GroupID: "a@g.us", Active: true}}}
	gate := &fakeGate{admin: map[string]bool{"a@g.us": true}}
	engine := newFakeEngine()
	engine.fined["a@g.us"] = []domain.FinedMember{
		{Phone: "2348000000001", Name: "Ada", Amount: 500},
		{Phone: "2348000000002", Name: "Bayo", Amount: 500},
	}
	sender := newFakeSender()

	runner := newTestRunner(groups, gate, engine, sender, nil)
	runner.trigger(context.Background(), JobDailyWarning)

	if len(engine.assessed) != 1 || engine.assessed[0] != "a@g.us" {
		t.Fatalf("expected assessment for the group, got %v", engine.assessed)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one notification, got %d", len(sender.sent))
	}

	payload := sender.sent[0].payload
	if payload.Kind != domain.KindInactivityWarning {
		t.Fatalf("expected inactivity warning, got %s", payload.Kind)
	}
	if len(payload.Mentions) != 2 || payload.Mentions[0] != "2348000000001@c.us" {
		t.Fatalf("expected platform mention ids, got %v", payload.Mentions)
	}
	if payload.Amount != 500 || payload.Currency != "₦" || payload.DeadlineDay != "Sunday" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestDailyWarningSkipsSendWhenNobodyFined(t *testing.T) {
	groups := &fakeGroups{groups: []domain.Group{{GroupID: "a@g.us"}}}
	gate := &fakeGate{admin: map[string]bool{"a@g.us": true}}
	sender := newFakeSender()

	runner := newTestRunner(groups, gate, newFakeEngine(), sender, nil)
	runner.trigger(context.Background(), JobDailyWarning)

	if len(sender.sent) != 0 {
		t.Fatalf("expected no notification for a quiet day, got %d", len(sender.sent))
	}
}

func TestTriggerSkipsGroupsWhereBotLacksAdmin(t *testing.T) {
	groups := &fakeGroups{groups: []domain.Group{
		{GroupID: "a@g.us"},
		{GroupID: "b@g.us"},
	}}
	gate := &fakeGate{admin: map[string]bool{"b@g.us": true}}
	engine := newFakeEngine()

	runner := newTestRunner(groups, gate, engine, newFakeSender(), nil)
	runner.trigger(context.Background(), JobDailyWarning)

	if len(engine.assessed) != 1 || engine.assessed[0] != "b@g.us" {
		t.Fatalf("expected only admin group assessed, got %v", engine.assessed)
	}
}

func TestTriggerIsolatesGroupFailuresAndAlerts(t *testing.T) {
	groups := &fakeGroups{groups: []domain.Group{
		{GroupID: "a@g.us"},
		{GroupID: "b@g.us"},
		{GroupID: "c@g.us"},
	}}
	gate := &fakeGate{admin: map[string]bool{"a@g.us": true, "b@g.us": true, "c@g.us": true}}
	engine := newFakeEngine()
	engine.assessErr["b@g.us"] = errors.New("roster fetch failed")
	engine.fined["a@g.us"] = []domain.FinedMember{{Phone: "2348000000001", Amount: 500}}
	engine.fined["c@g.us"] = []domain.FinedMember{{Phone: "2348000000002", Amount: 500}}
	sender := newFakeSender()
	alerter := &fakeAlerter{}

	runner := newTestRunner(groups, gate, engine, sender, alerter)
	runner.trigger(context.Background(), JobDailyWarning)

	if len(engine.assessed) != 3 {
		t.Fatalf("expected all groups attempted, got %v", engine.assessed)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("expected notifications for the two healthy groups, got %d", len(sender.sent))
	}
	if len(alerter.messages) != 1 || !strings.Contains(alerter.messages[0], "b@g.us") {
		t.Fatalf("expected alert naming the failed group, got %v", alerter.messages)
	}
}

func TestFineSummarySendsStructuredSummary(t *testing.T) {
	groups := &fakeGroups{groups: []domain.Group{{GroupID: "a@g.us"}}}
	gate := &fakeGate{admin: map[string]bool{"a@g.us": true}}
	engine := newFakeEngine()
	engine.summaries["a@g.us"] = domain.FineSummary{
		GroupID: "a@g.us",
		Fined: []domain.FineTotal{
			{Phone: "2348000000001", Name: "Ada", TotalFine: 1500, FineCount: 3},
		},
		Clean: []domain.FineTotal{{Phone: "2348000000002", Name: "Bayo"}},
		Total: 1500,
	}
	sender := newFakeSender()

	runner := newTestRunner(groups, gate, engine, sender, nil)
	runner.trigger(context.Background(), JobFineSummary)

	if len(sender.sent) != 1 {
		t.Fatalf("expected one summary notification, got %d", len(sender.sent))
	}

	payload := sender.sent[0].payload
	if payload.Kind != domain.KindFineSummary {
		t.Fatalf("expected fine summary kind, got %s", payload.Kind)
	}
	if payload.Summary == nil || payload.Summary.Total != 1500 {
		t.Fatalf("expected summary attached, got %+v", payload.Summary)
	}
	if len(payload.Mentions) != 1 || payload.Mentions[0] != "2348000000001@c.us" {
		t.Fatalf("expected fined members mentioned, got %v", payload.Mentions)
	}
}

func TestCallJobsCarryNoticeTime(t *testing.T) {
	groups := &fakeGroups{groups: []domain.Group{{GroupID: "a@g.us"}}}
	gate := &fakeGate{admin: map[string]bool{"a@g.us": true}}
	sender := newFakeSender()

	runner := newTestRunner(groups, gate, newFakeEngine(), sender, nil)
	runner.trigger(context.Background(), JobCallReminder)
	runner.trigger(context.Background(), JobCallNotice)

	if len(sender.sent) != 2 {
		t.Fatalf("expected two notifications, got %d", len(sender.sent))
	}
	if sender.sent[0].payload.Kind != domain.KindCallReminder || sender.sent[0].payload.CallTime != "12:30" {
		t.Fatalf("unexpected reminder payload: %+v", sender.sent[0].payload)
	}
	if sender.sent[1].payload.Kind != domain.KindCallNotice || sender.sent[1].payload.CallTime != "12:30" {
		t.Fatalf("unexpected notice payload: %+v", sender.sent[1].payload)
	}
}

func TestTriggerSkipsWhenPreviousRunInFlight(t *testing.T) {
	groups := &fakeGroups{groups: []domain.Group{{GroupID: "a@g.us"}}}
	gate := &fakeGate{admin: map[string]bool{"a@g.us": true}}
	engine := newFakeEngine()

	runner := newTestRunner(groups, gate, engine, newFakeSender(), nil)

	runner.mu.Lock()
	runner.inFlight[JobDailyWarning] = true
	runner.mu.Unlock()

	runner.trigger(context.Background(), JobDailyWarning)

	if len(engine.assessed) != 0 {
		t.Fatalf("expected overlapping run to be skipped, got %v", engine.assessed)
	}

	runner.mu.Lock()
	runner.inFlight[JobDailyWarning] = false
	runner.mu.Unlock()

	runner.trigger(context.Background(), JobDailyWarning)
	if len(engine.assessed) != 1 {
		t.Fatalf("expected run after flag cleared, got %v", engine.assessed)
	}
}

func TestTriggerStopsBetweenGroupsOnCancel(t *testing.T) {
	groups := &fakeGroups{groups: []domain.Group{
		{GroupID: "a@g.us"},
		{GroupID: "b@g.us"},
		{GroupID: "c@g.us"},
	}}
	engine := newFakeEngine()

	ctx, cancel := context.WithCancel(context.Background())
	gate := &fakeGate{
		admin: map[string]bool{"a@g.us": true, "b@g.us": true, "c@g.us": true},
		onEval: func(groupID string) {
			if groupID == "a@g.us" {
				cancel()
			}
		},
	}

	runner := newTestRunner(groups, gate, engine, newFakeSender(), nil)
	runner.trigger(ctx, JobDailyWarning)

	if len(engine.assessed) != 1 {
		t.Fatalf("expected iteration to stop after the in-flight group, got %v", engine.assessed)
	}
}

func TestTriggerAlertsWhenListingFails(t *testing.T) {
	alerter := &fakeAlerter{}
	runner := newTestRunner(&fakeGroups{err: errors.New("mongo down")}, &fakeGate{}, newFakeEngine(), newFakeSender(), alerter)

	runner.trigger(context.Background(), JobDailyWarning)

	if len(alerter.messages) != 1 || !strings.Contains(alerter.messages[0], "aborted") {
		t.Fatalf("expected abort alert, got %v", alerter.messages)
	}
}

func TestStartAndWaitShutDownCleanly(t *testing.T) {
	groups := &fakeGroups{}
	runner := newTestRunner(groups, &fakeGate{}, newFakeEngine(), newFakeSender(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	if err := runner.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	cancel()

	done := make(chan struct{})
	go func() {
		runner.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected job loops to stop after cancellation")
	}
}
