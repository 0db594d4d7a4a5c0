package models

import "time"

// CandidateResult is one candidate's share of a tally.
type CandidateResult struct {
	CandidateID string  `json:"candidate_id"`
	Name        string  `json:"name"`
	Count       uint64  `json:"count"`
	Percentage  float64 `json:"percentage"`
}

// TallySnapshot is the derived result of a tally run. It is recomputed from
// the full ballot set on every run and replaces any prior snapshot for the
// event; it is never updated incrementally. When Tie is true WinnerID is
// empty: no tie-break rule exists, so ties are reported, not resolved.
type TallySnapshot struct {
	EventID      string            `json:"event_id"`
	Results      []CandidateResult `json:"results"`
	TotalBallots uint64            `json:"total_ballots"`
	WinnerID     string            `json:"winner_id,omitempty"`
	Tie          bool              `json:"tie"`
	ComputedAt   time.Time         `json:"computed_at"`
	Signature    string            `json:"signature,omitempty"`
}
