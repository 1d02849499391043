package domain

// DailyActivity counts messages per (phone, group, date). A new row per date
// is the implicit daily reset; message content is never stored.
type DailyActivity struct {
	UserPhone    string `bson:"user_phone" json:"user_phone"`
	GroupID      string `bson:"group_id" json:"group_id"`
	ActivityDate string `bson:"activity_date" json:"activity_date"`
	MessageCount int64  `bson:"message_count" json:"message_count"`
}
