package domain

import "time"

// Group represents a chat group the bot has observed membership in.
type Group struct {
	GroupID    string    `bson:"group_id" json:"group_id"`
	Name       string    `bson:"name,omitempty" json:"name,omitempty"`
	BotIsAdmin bool      `bson:"bot_is_admin" json:"bot_is_admin"`
	Active     bool      `bson:"active" json:"active"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
}
