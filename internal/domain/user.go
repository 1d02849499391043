package domain

import "time"

// User is the persisted membership record, keyed by (phone, group).
type User struct {
	Phone   string `bson:"phone" json:"phone"`
	Name    string `bson:"name,omitempty" json:"name,omitempty"`
	GroupID string `bson:"group_id" json:"group_id"`
	// LastActivityDate is a calendar date in the bot's timezone, formatted
	// as 2006-01-02. Empty when the user has never sent a message.
	LastActivityDate string    `bson:"last_activity_date,omitempty" json:"last_activity_date,omitempty"`
	TotalFine        int64     `bson:"total_fine" json:"total_fine"`
	IsAdmin          bool      `bson:"is_admin" json:"is_admin"`
	CreatedAt        time.Time `bson:"created_at" json:"created_at"`
}
