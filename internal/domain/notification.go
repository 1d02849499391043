package domain

// NotificationKind discriminates the structured payloads produced by the
// scheduled jobs.
type NotificationKind string

const (
	KindInactivityWarning NotificationKind = "inactivity_warning"
	KindFineSummary       NotificationKind = "fine_summary"
	KindCallReminder      NotificationKind = "call_reminder"
	KindCallNotice        NotificationKind = "call_notice"
)

// FinedMember identifies one member fined in a daily assessment.
type FinedMember struct {
	Phone  string `json:"phone"`
	Name   string `json:"name,omitempty"`
	Amount int64  `json:"amount"`
}

// Notification is the structured payload handed to the outbound sender.
// Delivery is at-least-once; duplicates on retry are acceptable.
type Notification struct {
	Kind NotificationKind `json:"kind"`
	// Mentions lists participant IDs to tag, bot excluded.
	Mentions []string      `json:"mentions,omitempty"`
	Fined    []FinedMember `json:"fined,omitempty"`
	Summary  *FineSummary  `json:"summary,omitempty"`
	// Amount and Currency describe the per-day fine for warning payloads.
	Amount   int64  `json:"amount,omitempty"`
	Currency string `json:"currency,omitempty"`
	// DeadlineDay is the weekday name payments are due by.
	DeadlineDay string `json:"deadline_day,omitempty"`
	// CallTime carries the scheduled call time for reminder payloads.
	CallTime string `json:"call_time,omitempty"`
}
