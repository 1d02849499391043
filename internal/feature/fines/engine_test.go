package fines

import (
	"context"
	"errors"
	"sort"
	"testing"

	"wa_group_ledger_bot/internal/domain"
)

const testGroupID = "12036302@g.us"

// stubLedger keeps enough state in memory to exercise the assessment and
// summary paths together.
type stubLedger struct {
	inactive    []domain.User
	inactiveErr error

	addFineErrs map[string]error
	totalsErr   error

	totals     map[string]int64
	fineCounts map[string]int
	names      map[string]string
	order      []string

	addedFines []domain.Fine
}

func newStubLedger() *stubLedger {
	return &stubLedger{
		addFineErrs: map[string]error{},
		totals:      map[string]int64{},
		fineCounts:  map[string]int{},
		names:       map[string]string{},
	}
}

func (s *stubLedger) seedUser(phone, name string, total int64) {
	if _, ok := s.totals[phone]; !ok {
		s.order = append(s.order, phone)
	}
	s.totals[phone] = total
	s.names[phone] = name
}

func (s *stubLedger) GetInactiveUsers(_ context.Context, _ string, _ int) ([]domain.User, error) {
	return s.inactive, s.inactiveErr
}

func (s *stubLedger) AddFine(_ context.Context, phone, groupID string, amount int64, reason string) (domain.Fine, error) {
	if err := s.addFineErrs[phone]; err != nil {
		return domain.Fine{}, err
	}
	if amount <= 0 {
		return domain.Fine{}, &domain.ConstraintError{Op: "add fine", Reason: "amount must be greater than 0"}
	}

	s.totals[phone] += amount
	s.fineCounts[phone]++

	fine := domain.Fine{
		UserPhone: phone,
		GroupID:   groupID,
		Amount:    amount,
		Reason:    reason,
	}
	s.addedFines = append(s.addedFines, fine)
	return fine, nil
}

func (s *stubLedger) GetAllFines(_ context.Context, _ string) ([]domain.FineTotal, error) {
	if s.totalsErr != nil {
		return nil, s.totalsErr
	}

	rows := make([]domain.FineTotal, 0, len(s.order))
	for _, phone := range s.order {
		rows = append(rows, domain.FineTotal{
			Phone:     phone,
			Name:      s.names[phone],
			TotalFine: s.totals[phone],
			FineCount: s.fineCounts[phone],
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].TotalFine > rows[j].TotalFine })
	return rows, nil
}

func TestAssessDailyFinesThenSummary(t *testing.T) {
	ledger := newStubLedger()
	ledger.seedUser("2348000000001", "Ada", 0)
	ledger.seedUser("2348000000002", "Bayo", 0)
	ledger.seedUser("2348000000003", "Chika", 0)
	ledger.inactive = []domain.User{
		{Phone: "2348000000001", Name: "Ada", GroupID: testGroupID},
		{Phone: "2348000000002", Name: "Bayo", GroupID: testGroupID},
	}

	engine := NewEngine(ledger, nil)

	fined, failures, err := engine.AssessDailyFines(context.Background(), testGroupID, 1, 500)
	if err != nil {
		t.Fatalf("AssessDailyFines returned error: %v", err)
	}
	if len(failures) != 0 {
		t.Fatalf("expected no failures, got %v", failures)
	}

	if len(fined) != 2 {
		t.Fatalf("expected 2 fined users, got %d", len(fined))
	}
	for _, member := range fined {
		if member.Amount != 500 {
			t.Fatalf("expected fine amount 500, got %d", member.Amount)
		}
	}
	for _, fine := range ledger.addedFines {
		if fine.Reason != domain.FineReasonInactivity {
			t.Fatalf("expected reason %q, got %q", domain.FineReasonInactivity, fine.Reason)
		}
	}
	if ledger.totals["2348000000003"] != 0 {
		t.Fatalf("expected active user untouched, got total %d", ledger.totals["2348000000003"])
	}

	summary, err := engine.BuildFineSummary(context.Background(), testGroupID)
	if err != nil {
		t.Fatalf("BuildFineSummary returned error: %v", err)
	}

	if summary.Total != 1000 {
		t.Fatalf("expected total 1000, got %d", summary.Total)
	}
	if len(summary.Fined) != 2 || len(summary.Clean) != 1 {
		t.Fatalf("expected 2 fined / 1 clean, got %d/%d", len(summary.Fined), len(summary.Clean))
	}
	if summary.Clean[0].Phone != "2348000000003" {
		t.Fatalf("expected Chika clean, got %+v", summary.Clean[0])
	}
}

func TestAssessDailyFinesIsolatesPerUserFailures(t *testing.T) {
	ledger := newStubLedger()
	ledger.inactive = []domain.User{
		{Phone: "2348000000001", GroupID: testGroupID},
		{Phone: "2348000000002", GroupID: testGroupID},
		{Phone: "2348000000003", GroupID: testGroupID},
	}
	ledger.addFineErrs["2348000000002"] = &domain.StorageError{Op: "add fine", Err: errors.New("write conflict")}

	engine := NewEngine(ledger, nil)

	fined, failures, err := engine.AssessDailyFines(context.Background(), testGroupID, 1, 500)
	if err != nil {
		t.Fatalf("AssessDailyFines returned error: %v", err)
	}

	if len(fined) != 2 {
		t.Fatalf("expected batch to continue past failure, got %d fined", len(fined))
	}
	if len(failures) != 1 || failures[0].Phone != "2348000000002" {
		t.Fatalf("expected collected failure for the middle user, got %v", failures)
	}
	if !domain.IsStorage(failures[0].Err) {
		t.Fatalf("expected storage error recorded, got %v", failures[0].Err)
	}
}

func TestAssessDailyFinesCollectsConstraintFailures(t *testing.T) {
	ledger := newStubLedger()
	ledger.inactive = []domain.User{
		{Phone: "2348000000001", GroupID: testGroupID},
		{Phone: "2348000000002", GroupID: testGroupID},
	}

	engine := NewEngine(ledger, nil)

	fined, failures, err := engine.AssessDailyFines(context.Background(), testGroupID, 1, 0)
	if err != nil {
		t.Fatalf("AssessDailyFines returned error: %v", err)
	}
	if len(fined) != 0 {
		t.Fatalf("expected nobody fined with zero amount, got %d", len(fined))
	}
	if len(failures) != 2 {
		t.Fatalf("expected both users collected as failures, got %d", len(failures))
	}
	for _, failure := range failures {
		if !domain.IsConstraint(failure.Err) {
			t.Fatalf("expected constraint error, got %v", failure.Err)
		}
	}
}

func TestAssessDailyFinesSurfacesQueryFailure(t *testing.T) {
	ledger := newStubLedger()
	ledger.inactiveErr = &domain.StorageError{Op: "get inactive users", Err: errors.New("down")}

	engine := NewEngine(ledger, nil)

	_, _, err := engine.AssessDailyFines(context.Background(), testGroupID, 1, 500)
	if !domain.IsStorage(err) {
		t.Fatalf("expected storage error from inactivity query, got %v", err)
	}
}

func TestBuildFineSummaryEmptyGroup(t *testing.T) {
	engine := NewEngine(newStubLedger(), nil)

	summary, err := engine.BuildFineSummary(context.Background(), testGroupID)
	if err != nil {
		t.Fatalf("BuildFineSummary returned error: %v", err)
	}
	if summary.Total != 0 || len(summary.Fined) != 0 || len(summary.Clean) != 0 {
		t.Fatalf("expected empty summary, got %+v", summary)
	}
}
