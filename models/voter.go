package models

import "time"

// Voter is a registered voter. Voters are global, not scoped to any event:
// the same voter may cast one ballot in each event. The secret is the voter's
// only credential and is never shown again after registration.
type Voter struct {
	ID        string    `json:"id"`
	Secret    string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
