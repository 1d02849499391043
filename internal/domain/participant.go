package domain

// Participant is a single roster entry as reported by the messaging gateway.
// It is ephemeral: rebuilt from roster snapshots and never persisted directly.
type Participant struct {
	// ID is the serialized platform identifier, e.g. "2348012345678@c.us".
	ID string `json:"id"`
	// Phone holds the bare digits extracted from ID.
	Phone   string `json:"phone"`
	IsAdmin bool   `json:"is_admin"`
}
