package models

import "time"

// BallotRecord is the durable result of one successful vote submission.
// Ciphertext and Proof are owned by the crypto engine and treated as
// indivisible blobs here. Records are append-only: created once, never
// mutated, never deleted.
//
// SelectedCandidateIDs is stored in the clear, next to the ciphertext, so
// that Level-1/Level-2 verification can disclose the selections without a
// decryption ceremony. An operator with direct store access can therefore
// read individual votes; that trade-off is deliberate.
type BallotRecord struct {
	EventID string `json:"event_id"`
	VoterID string `json:"voter_id"`

	Ciphertext []byte `json:"ciphertext"`
	Proof      []byte `json:"proof"`

	VerificationCode string `json:"verification_code"`
	VoteSecret       string `json:"-"`

	SelectedCandidateIDs []string  `json:"selected_candidate_ids"`
	CastAt               time.Time `json:"cast_at"`
}
