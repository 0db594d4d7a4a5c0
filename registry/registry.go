package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"verivote-backend/models"
	"verivote-backend/storage"
)

var (
	// ErrVoterExists is returned when the identity string is already taken.
	ErrVoterExists = errors.New("voter already registered")
	// ErrUnknownSecret is returned when a secret resolves to no voter.
	ErrUnknownSecret = errors.New("voter secret not recognized")
)

// VoterRegistry maps opaque secrets to voter identities. Voters are global:
// registration is independent of any event, and a voter registers once.
type VoterRegistry struct {
	store storage.Store
}

// NewVoterRegistry creates a registry backed by the given store.
func NewVoterRegistry(store storage.Store) *VoterRegistry {
	return &VoterRegistry{store: store}
}

// Register creates a voter under the caller-supplied identity and issues the
// secret the voter will authenticate with. The secret is returned exactly
// once; it cannot be recovered later.
func (r *VoterRegistry) Register(ctx context.Context, voterID string) (*models.Voter, error) {
	if voterID == "" {
		return nil, fmt.Errorf("voter id must not be empty")
	}

	voter := &models.Voter{
		ID:        voterID,
		Secret:    uuid.New().String(),
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.CreateVoter(ctx, voter); err != nil {
		if errors.Is(err, storage.ErrDuplicateVoter) {
			return nil, ErrVoterExists
		}
		return nil, fmt.Errorf("failed to register voter: %w", err)
	}
	log.Printf("voter %s # REGISTER | registered", voter.ID)
	return voter, nil
}

// Resolve authenticates a secret, returning the voter it belongs to.
func (r *VoterRegistry) Resolve(ctx context.Context, secret string) (*models.Voter, error) {
	if secret == "" {
		return nil, ErrUnknownSecret
	}
	voter, err := r.store.GetVoterBySecret(ctx, secret)
	if err != nil {
		if errors.Is(err, storage.ErrVoterNotFound) {
			return nil, ErrUnknownSecret
		}
		return nil, fmt.Errorf("failed to resolve voter secret: %w", err)
	}
	return voter, nil
}
