package storage

import (
	"context"
	"errors"

	"verivote-backend/models"
)

// Sentinel errors reported by Store implementations. InsertBallot failures
// are deliberately fine-grained: the ballot processor reacts differently to a
// duplicate (event, voter) pair than to a verification-code or vote-secret
// collision, which it resolves by regenerating the token.
var (
	ErrEventNotFound    = errors.New("event not found")
	ErrVoterNotFound    = errors.New("voter not found")
	ErrBallotNotFound   = errors.New("ballot not found")
	ErrTallyNotFound    = errors.New("tally snapshot not found")
	ErrDuplicateVoter   = errors.New("voter identity already registered")
	ErrDuplicateBallot  = errors.New("ballot already recorded for voter in event")
	ErrDuplicateCode    = errors.New("verification code already in use")
	ErrDuplicateSecret  = errors.New("vote secret already in use")
	ErrEventAlreadyOver = errors.New("event already ended")
)

// Store is the persistence capability consumed by the services. Events,
// candidates and ballots are immutable once written; the only mutations are
// the single status transition on an event and tally snapshot replacement.
//
// InsertBallot is the one operation with an atomicity contract: the
// (event, voter) uniqueness check and the insert must be a single atomic
// step, so that two concurrent submissions by the same voter yield exactly
// one success and one ErrDuplicateBallot.
type Store interface {
	// CreateEvent persists an event together with its candidates and
	// crypto materials in one atomic operation.
	CreateEvent(ctx context.Context, event *models.VotingEvent) error
	GetEvent(ctx context.Context, eventID string) (*models.VotingEvent, error)
	ListEvents(ctx context.Context, offset, limit int) ([]*models.VotingEvent, int, error)
	// CloseEvent transitions the event to ENDED. A second close observes
	// the terminal state and fails with ErrEventAlreadyOver.
	CloseEvent(ctx context.Context, eventID string) (*models.VotingEvent, error)

	CreateVoter(ctx context.Context, voter *models.Voter) error
	GetVoterBySecret(ctx context.Context, secret string) (*models.Voter, error)
	GetVoter(ctx context.Context, voterID string) (*models.Voter, error)

	InsertBallot(ctx context.Context, ballot *models.BallotRecord) error
	HasBallot(ctx context.Context, eventID, voterID string) (bool, error)
	// ListBallots returns a snapshot copy of every ballot recorded for the
	// event at the time the read began.
	ListBallots(ctx context.Context, eventID string) ([]*models.BallotRecord, error)
	GetBallotByCode(ctx context.Context, verificationCode string) (*models.BallotRecord, error)

	// SaveTally replaces any prior snapshot for the event.
	SaveTally(ctx context.Context, snapshot *models.TallySnapshot) error
	GetTally(ctx context.Context, eventID string) (*models.TallySnapshot, error)
}
