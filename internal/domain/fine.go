package domain

import "time"

// FineReasonInactivity is the reason recorded for automated daily fines.
const FineReasonInactivity = "Daily inactivity"

// Fine is a single append-only penalty record. The running total per
// (phone, group) lives on User and is incremented together with the insert.
type Fine struct {
	ID        string    `bson:"fine_id" json:"fine_id"`
	UserPhone string    `bson:"user_phone" json:"user_phone"`
	GroupID   string    `bson:"group_id" json:"group_id"`
	Date      string    `bson:"fine_date" json:"fine_date"`
	Amount    int64     `bson:"amount" json:"amount"`
	Reason    string    `bson:"reason" json:"reason"`
	Paid      bool      `bson:"paid" json:"paid"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// FineTotal is one row of the per-group fine aggregation: a user's running
// total and the number of fines behind it.
type FineTotal struct {
	Phone     string `bson:"phone" json:"phone"`
	Name      string `bson:"name,omitempty" json:"name,omitempty"`
	TotalFine int64  `bson:"total_fine" json:"total_fine"`
	FineCount int    `bson:"fine_count" json:"fine_count"`
}

// FineSummary is the structured weekly report for a group. Formatting into
// user-facing text is the transport layer's concern.
type FineSummary struct {
	GroupID string      `json:"group_id"`
	Fined   []FineTotal `json:"fined"`
	Clean   []FineTotal `json:"clean"`
	Total   int64       `json:"total"`
}
