package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"verivote-backend/storage"
)

// Disclosure levels for decoding a recorded vote.
const (
	DisclosureReceipt = 1 // verification code only
	DisclosureFull    = 2 // code plus vote secret
)

// DecodedVote is what a voter (or auditor) learns about a recorded ballot.
// VoterID is populated only at DisclosureFull.
type DecodedVote struct {
	EventID          string             `json:"eventId"`
	EventName        string             `json:"eventName"`
	VerificationCode string             `json:"verificationCode"`
	CastAt           time.Time          `json:"castAt"`
	Selections       []DecodedSelection `json:"selections"`
	VoterID          string             `json:"voterId,omitempty"`
}

type DecodedSelection struct {
	CandidateID string `json:"candidateId"`
	Name        string `json:"name"`
}

// VerificationService looks up recorded ballots by their verification code.
// It never touches ciphertext.
type VerificationService struct {
	store storage.Store
}

func NewVerificationService(store storage.Store) *VerificationService {
	return &VerificationService{store: store}
}

// DecodeVote resolves a verification code to the recorded ballot. Level 1
// confirms the ballot exists and shows the recorded selection; level 2
// additionally requires the vote secret and reveals the voter identity.
// A wrong secret is an authentication failure, not a missing ballot.
func (s *VerificationService) DecodeVote(ctx context.Context, level int, code, secret string) (*DecodedVote, error) {
	if level != DisclosureReceipt && level != DisclosureFull {
		return nil, fmt.Errorf("%w: disclosure level must be 1 or 2, got %d", ErrInvalidInput, level)
	}

	ballot, err := s.store.GetBallotByCode(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrBallotNotFound) {
			return nil, fmt.Errorf("%w: verification code %s", ErrBallotNotFound, code)
		}
		return nil, fmt.Errorf("look up ballot: %w", err)
	}

	event, err := s.store.GetEvent(ctx, ballot.EventID)
	if err != nil {
		return nil, fmt.Errorf("load event: %w", err)
	}

	decoded := &DecodedVote{
		EventID:          event.ID,
		EventName:        event.Name,
		VerificationCode: ballot.VerificationCode,
		CastAt:           ballot.CastAt,
	}
	for _, id := range ballot.SelectedCandidateIDs {
		sel := DecodedSelection{CandidateID: id}
		if c, ok := event.CandidateByID(id); ok {
			sel.Name = c.Name
		}
		decoded.Selections = append(decoded.Selections, sel)
	}

	if level == DisclosureFull {
		if subtle.ConstantTimeCompare([]byte(secret), []byte(ballot.VoteSecret)) != 1 {
			return nil, fmt.Errorf("%w: vote secret does not match", ErrAuthentication)
		}
		decoded.VoterID = ballot.VoterID
	}

	return decoded, nil
}
