package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"verivote-backend/encryption"
	"verivote-backend/models"
	"verivote-backend/registry"
	"verivote-backend/storage"
)

// maxInsertRetries bounds the regeneration loop for verification codes and
// vote secrets when the store reports a collision.
const maxInsertRetries = 5

// VoteReceipt is handed back to the voter after a successful submission.
// The verification code is public, the vote secret is shown exactly once.
type VoteReceipt struct {
	VerificationCode string `json:"verificationCode"`
	VoteSecret       string `json:"voteSecret"`
}

// BallotProcessor runs the submission pipeline: authenticate, check the
// event window, validate the selection, encrypt, and persist.
type BallotProcessor struct {
	store         storage.Store
	registry      *registry.VoterRegistry
	engine        encryption.Engine
	pool          *CryptoPool
	metrics       *Metrics
	cryptoTimeout time.Duration
}

func NewBallotProcessor(store storage.Store, reg *registry.VoterRegistry, engine encryption.Engine, pool *CryptoPool, metrics *Metrics, cryptoTimeout time.Duration) *BallotProcessor {
	return &BallotProcessor{
		store:         store,
		registry:      reg,
		engine:        engine,
		pool:          pool,
		metrics:       metrics,
		cryptoTimeout: cryptoTimeout,
	}
}

// SubmitVote checks the voter's credentials and the event's voting window,
// validates the candidate selection, encrypts the ballot off the calling
// goroutine, and records it. One ballot per voter per event: a second
// submission fails and the first ballot is untouched.
func (p *BallotProcessor) SubmitVote(ctx context.Context, voterSecret, eventID string, candidateIDs []string) (*VoteReceipt, error) {
	voter, err := p.registry.Resolve(ctx, voterSecret)
	if err != nil {
		if errors.Is(err, registry.ErrUnknownSecret) {
			p.metrics.SubmissionRejected(KindAuthentication)
			return nil, fmt.Errorf("%w: unknown voter secret", ErrAuthentication)
		}
		return nil, fmt.Errorf("resolve voter: %w", err)
	}

	event, err := p.store.GetEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, storage.ErrEventNotFound) {
			p.metrics.SubmissionRejected(KindNotFound)
			return nil, fmt.Errorf("%w: event %s", ErrEventNotFound, eventID)
		}
		return nil, fmt.Errorf("load event: %w", err)
	}

	if err := acceptingVotes(event, time.Now().UTC()); err != nil {
		p.metrics.SubmissionRejected(KindState)
		return nil, err
	}

	voted, err := p.store.HasBallot(ctx, eventID, voter.ID)
	if err != nil {
		return nil, fmt.Errorf("check existing ballot: %w", err)
	}
	if voted {
		p.metrics.SubmissionRejected(KindIdempotency)
		return nil, fmt.Errorf("%w: event %s", ErrAlreadyVoted, eventID)
	}

	selected, err := validateSelection(event, candidateIDs)
	if err != nil {
		p.metrics.SubmissionRejected(KindValidation)
		return nil, err
	}

	vector := selectionVector(event, selected)

	runCtx, cancel := context.WithTimeout(ctx, p.cryptoTimeout)
	defer cancel()

	var ciphertext, proof []byte
	start := time.Now()
	runErr := p.pool.Run(runCtx, func() error {
		var encErr error
		ciphertext, proof, encErr = p.engine.EncryptBallot(runCtx, vector, event.ManifestHandle, event.CryptoContext, event.PublicKey)
		return encErr
	})
	p.metrics.ObserveEngine("encrypt_ballot", time.Since(start))
	if runErr != nil {
		p.metrics.SubmissionRejected(KindCryptoEngine)
		if errors.Is(runErr, ErrCryptoEngine) {
			return nil, runErr
		}
		return nil, fmt.Errorf("%w: encrypt ballot: %v", ErrCryptoEngine, runErr)
	}

	voteSecret, err := encryption.NewVoteSecret()
	if err != nil {
		return nil, fmt.Errorf("generate vote secret: %w", err)
	}
	record := &models.BallotRecord{
		EventID:              eventID,
		VoterID:              voter.ID,
		Ciphertext:           ciphertext,
		Proof:                proof,
		VerificationCode:     p.engine.DeriveVerificationCode(ciphertext),
		VoteSecret:           voteSecret,
		SelectedCandidateIDs: selected,
		CastAt:               time.Now().UTC(),
	}

	for attempt := 0; ; attempt++ {
		err = p.store.InsertBallot(ctx, record)
		if err == nil {
			break
		}
		switch {
		case errors.Is(err, storage.ErrDuplicateBallot):
			// Another submission for the same voter won the race after
			// our pre-check.
			p.metrics.SubmissionRejected(KindIdempotency)
			return nil, ErrSubmissionConflict
		case errors.Is(err, storage.ErrDuplicateCode) && attempt < maxInsertRetries:
			salt, serr := encryption.NewSalt()
			if serr != nil {
				return nil, fmt.Errorf("generate code salt: %w", serr)
			}
			record.VerificationCode = p.engine.DeriveVerificationCode(ciphertext, salt)
		case errors.Is(err, storage.ErrDuplicateSecret) && attempt < maxInsertRetries:
			voteSecret, serr := encryption.NewVoteSecret()
			if serr != nil {
				return nil, fmt.Errorf("generate vote secret: %w", serr)
			}
			record.VoteSecret = voteSecret
		default:
			return nil, fmt.Errorf("store ballot: %w", err)
		}
	}

	p.metrics.SubmissionAccepted()
	log.Printf("event %s # VOTE | ballot recorded, code %s", eventID, record.VerificationCode)

	return &VoteReceipt{
		VerificationCode: record.VerificationCode,
		VoteSecret:       record.VoteSecret,
	}, nil
}

// ListEventVotes returns the recorded ballots for an event. Vote secrets
// never leave the store through this path.
func (p *BallotProcessor) ListEventVotes(ctx context.Context, eventID string) ([]*models.BallotRecord, error) {
	if _, err := p.store.GetEvent(ctx, eventID); err != nil {
		if errors.Is(err, storage.ErrEventNotFound) {
			return nil, fmt.Errorf("%w: event %s", ErrEventNotFound, eventID)
		}
		return nil, fmt.Errorf("load event: %w", err)
	}
	ballots, err := p.store.ListBallots(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list ballots: %w", err)
	}
	return ballots, nil
}

// validateSelection checks the selection count against the event's limit,
// rejects duplicates, and resolves every candidate id. Returns the ids in
// submission order.
func validateSelection(event *models.VotingEvent, candidateIDs []string) ([]string, error) {
	if len(candidateIDs) != event.SelectionLimit {
		return nil, fmt.Errorf("%w: expected %d selections, got %d",
			ErrInvalidSelection, event.SelectionLimit, len(candidateIDs))
	}
	seen := make(map[string]struct{}, len(candidateIDs))
	selected := make([]string, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: candidate %s selected twice", ErrInvalidSelection, id)
		}
		seen[id] = struct{}{}
		if _, ok := event.CandidateByID(id); !ok {
			return nil, fmt.Errorf("%w: unknown candidate %s", ErrInvalidSelection, id)
		}
		selected = append(selected, id)
	}
	return selected, nil
}

// selectionVector maps the selected ids onto the event's candidate order as
// a 0/1 vector for the encryption engine.
func selectionVector(event *models.VotingEvent, selected []string) []int {
	vector := make([]int, len(event.Candidates))
	for _, id := range selected {
		if c, ok := event.CandidateByID(id); ok {
			vector[c.Index] = 1
		}
	}
	return vector
}
