package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"verivote-backend/encryption"
	"verivote-backend/models"
	"verivote-backend/storage"
)

const ceremonyRetryBackoff = 250 * time.Millisecond

// EventService owns the event lifecycle: creation (including the one-time
// crypto-engine setup), the single INVOTING -> ENDED transition, and the
// "is voting currently allowed" decision that gates ballot submission.
type EventService struct {
	store         storage.Store
	engine        encryption.Engine
	pool          *CryptoPool
	metrics       *Metrics
	cryptoTimeout time.Duration
}

// NewEventService wires an event service.
func NewEventService(store storage.Store, engine encryption.Engine, pool *CryptoPool, metrics *Metrics, cryptoTimeout time.Duration) *EventService {
	return &EventService{
		store:         store,
		engine:        engine,
		pool:          pool,
		metrics:       metrics,
		cryptoTimeout: cryptoTimeout,
	}
}

// CreateEventParams are the caller-supplied inputs for a new event.
type CreateEventParams struct {
	Name           string
	OpensAt        time.Time
	ClosesAt       time.Time
	SelectionLimit int
	CandidateNames []string
}

func (p CreateEventParams) validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: event name must not be empty", ErrInvalidInput)
	}
	if !p.OpensAt.Before(p.ClosesAt) {
		return fmt.Errorf("%w: voting window opens at %s but closes at %s",
			ErrInvalidInput, p.OpensAt.Format(time.RFC3339), p.ClosesAt.Format(time.RFC3339))
	}
	if len(p.CandidateNames) < 2 {
		return fmt.Errorf("%w: an event needs at least 2 candidates, got %d",
			ErrInvalidInput, len(p.CandidateNames))
	}
	seen := make(map[string]bool, len(p.CandidateNames))
	for _, name := range p.CandidateNames {
		if name == "" {
			return fmt.Errorf("%w: candidate name must not be empty", ErrInvalidInput)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate candidate name %q", ErrInvalidInput, name)
		}
		seen[name] = true
	}
	if p.SelectionLimit < 1 || p.SelectionLimit > len(p.CandidateNames) {
		return fmt.Errorf("%w: selection limit %d out of range [1, %d]",
			ErrInvalidInput, p.SelectionLimit, len(p.CandidateNames))
	}
	return nil
}

// CreateEvent builds the manifest, runs the key ceremony and persists the
// event with its candidates and crypto materials in one step. If the engine
// fails or times out, nothing is persisted; a ceremony timeout is retried
// once after a short backoff since no side effect can have been committed.
func (s *EventService) CreateEvent(ctx context.Context, params CreateEventParams) (*models.VotingEvent, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	log.Printf("event # CREATE | starting event creation: %s", params.Name)

	manifest, publicKey, cryptoContext, err := s.runKeyCeremony(ctx, params)
	if errors.Is(err, ErrCryptoTimeout) {
		log.Printf("event # CREATE | key ceremony timed out, retrying once")
		time.Sleep(ceremonyRetryBackoff)
		manifest, publicKey, cryptoContext, err = s.runKeyCeremony(ctx, params)
	}
	if err != nil {
		return nil, err
	}

	eventID := uuid.New().String()
	candidates := make([]models.Candidate, len(params.CandidateNames))
	for i, name := range params.CandidateNames {
		candidates[i] = models.Candidate{
			ID:      uuid.New().String(),
			EventID: eventID,
			Name:    name,
			Index:   i,
		}
	}
	event := &models.VotingEvent{
		ID:             eventID,
		Name:           params.Name,
		OpensAt:        params.OpensAt.UTC(),
		ClosesAt:       params.ClosesAt.UTC(),
		SelectionLimit: params.SelectionLimit,
		Status:         models.StatusInVoting,
		ManifestHandle: manifest,
		PublicKey:      publicKey,
		CryptoContext:  cryptoContext,
		Candidates:     candidates,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.CreateEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to persist event: %w", err)
	}
	log.Printf("event %s # CREATE | created with %d candidates", event.ID, len(candidates))
	return event, nil
}

func (s *EventService) runKeyCeremony(ctx context.Context, params CreateEventParams) (manifest, publicKey, cryptoContext []byte, err error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cryptoTimeout)
	defer cancel()

	start := time.Now()
	runErr := s.pool.Run(callCtx, func() error {
		m, err := s.engine.BuildManifest(params.Name, params.CandidateNames, params.SelectionLimit)
		if err != nil {
			return err
		}
		pk, cc, err := s.engine.PerformKeyCeremony(m)
		if err != nil {
			return err
		}
		manifest, publicKey, cryptoContext = m, pk, cc
		return nil
	})
	s.metrics.ObserveEngine("key_ceremony", time.Since(start))
	if runErr != nil {
		if errors.Is(runErr, ErrCryptoEngine) {
			return nil, nil, nil, runErr
		}
		return nil, nil, nil, fmt.Errorf("%w: key ceremony: %v", ErrCryptoEngine, runErr)
	}
	return manifest, publicKey, cryptoContext, nil
}

// CloseVoting transitions the event to ENDED. The second of two concurrent
// closers observes the terminal state and fails.
func (s *EventService) CloseVoting(ctx context.Context, eventID string) (*models.VotingEvent, error) {
	event, err := s.store.CloseEvent(ctx, eventID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrEventNotFound):
			return nil, ErrEventNotFound
		case errors.Is(err, storage.ErrEventAlreadyOver):
			return nil, ErrVotingEnded
		}
		return nil, fmt.Errorf("failed to close voting: %w", err)
	}
	log.Printf("event %s # END_VOTING | voting ended", eventID)
	return event, nil
}

// GetEvent returns the event with its candidates.
func (s *EventService) GetEvent(ctx context.Context, eventID string) (*models.VotingEvent, error) {
	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, storage.ErrEventNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to load event: %w", err)
	}
	return event, nil
}

// ListEvents returns a page of events and the total count.
func (s *EventService) ListEvents(ctx context.Context, offset, limit int) ([]*models.VotingEvent, int, error) {
	return s.store.ListEvents(ctx, offset, limit)
}

// acceptingVotes reports whether the event takes ballots at the given
// instant. A nil return means yes; otherwise the error names the exact
// reason. The window check is separate from the status check: an INVOTING
// event outside [OpensAt, ClosesAt) still rejects votes.
func acceptingVotes(event *models.VotingEvent, now time.Time) error {
	if event.Status == models.StatusEnded {
		return ErrVotingEnded
	}
	if now.Before(event.OpensAt) {
		return ErrVotingNotOpen
	}
	if !now.Before(event.ClosesAt) {
		return ErrVotingWindowClosed
	}
	return nil
}
