package models

import (
	"fmt"
	"time"
)

// EventStatus is the lifecycle state of a voting event. There are exactly two
// durable states and a single one-way transition between them.
type EventStatus string

const (
	// StatusInVoting is the initial state and the only state in which
	// ballots may be accepted.
	StatusInVoting EventStatus = "INVOTING"
	// StatusEnded is terminal. Tallying remains available.
	StatusEnded EventStatus = "ENDED"
)

// Valid reports whether s is one of the known statuses.
func (s EventStatus) Valid() bool {
	switch s {
	case StatusInVoting, StatusEnded:
		return true
	}
	return false
}

// Transition returns the status resulting from applying the close action.
// The only legal transition is INVOTING -> ENDED.
func (s EventStatus) Transition() (EventStatus, error) {
	switch s {
	case StatusInVoting:
		return StatusEnded, nil
	case StatusEnded:
		return StatusEnded, fmt.Errorf("event already ended")
	default:
		return s, fmt.Errorf("unknown event status %q", s)
	}
}

// VotingEvent is one election event. The cryptographic materials are produced
// once at creation by the crypto engine and are opaque to this package; they
// are stored and passed back to the engine as-is.
type VotingEvent struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	OpensAt        time.Time   `json:"opens_at"`
	ClosesAt       time.Time   `json:"closes_at"`
	SelectionLimit int         `json:"selection_limit"`
	Status         EventStatus `json:"status"`

	ManifestHandle []byte `json:"manifest_handle"`
	PublicKey      []byte `json:"public_key"`
	CryptoContext  []byte `json:"crypto_context"`

	Candidates []Candidate `json:"candidates"`

	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Candidate belongs to exactly one event and is immutable after event
// creation. Index is the candidate's position in the plaintext selection
// vector handed to the crypto engine.
type Candidate struct {
	ID      string `json:"id"`
	EventID string `json:"event_id"`
	Name    string `json:"name"`
	Index   int    `json:"index"`
}

// CandidateByID returns the candidate with the given id, if present.
func (e *VotingEvent) CandidateByID(id string) (Candidate, bool) {
	for _, c := range e.Candidates {
		if c.ID == id {
			return c, true
		}
	}
	return Candidate{}, false
}

// WindowContains reports whether now falls within [OpensAt, ClosesAt).
func (e *VotingEvent) WindowContains(now time.Time) bool {
	return !now.Before(e.OpensAt) && now.Before(e.ClosesAt)
}
