package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"verivote-backend/encryption"
	"verivote-backend/models"
	"verivote-backend/registry"
	"verivote-backend/storage"
)

// fakeEngine is a deterministic stand-in for the Paillier engine. Ciphertexts
// are the JSON-encoded selection vectors, so aggregation is plain addition
// and every behavior of the pipeline can be asserted without real crypto.
type fakeEngine struct {
	mu sync.Mutex

	ceremonyErr   error
	ceremonyDelay time.Duration
	ceremonyCalls int

	encryptErr   error
	encryptDelay time.Duration

	decryptErr error
}

func (f *fakeEngine) BuildManifest(eventName string, candidateNames []string, selectionLimit int) ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"name":       eventName,
		"selections": candidateNames,
		"limit":      selectionLimit,
	})
}

func (f *fakeEngine) PerformKeyCeremony(manifest []byte) ([]byte, []byte, error) {
	f.mu.Lock()
	f.ceremonyCalls++
	err := f.ceremonyErr
	delay := f.ceremonyDelay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, nil, err
	}
	return []byte(`{"scheme":"fake","n":"0x01"}`), []byte(`{"scheme":"fake","key_id":"k1"}`), nil
}

func (f *fakeEngine) EncryptBallot(ctx context.Context, selectionVector []int, manifest, cryptoContext, publicKey []byte) ([]byte, []byte, error) {
	f.mu.Lock()
	err := f.encryptErr
	delay := f.encryptDelay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, nil, err
	}
	ciphertext, merr := json.Marshal(selectionVector)
	if merr != nil {
		return nil, nil, merr
	}
	return ciphertext, []byte(`{"proof":"ok"}`), nil
}

func (f *fakeEngine) DeriveVerificationCode(ciphertext []byte, salt ...[]byte) string {
	parts := append([][]byte{ciphertext}, salt...)
	return encryption.FormatVerificationCode(encryption.Keccak256(bytes.Join(parts, nil)))
}

func (f *fakeEngine) AggregateAndDecrypt(ctx context.Context, ciphertexts [][]byte, cryptoContext []byte) ([]uint64, error) {
	f.mu.Lock()
	err := f.decryptErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	var totals []uint64
	for _, ct := range ciphertexts {
		var vector []int
		if err := json.Unmarshal(ct, &vector); err != nil {
			return nil, err
		}
		if totals == nil {
			totals = make([]uint64, len(vector))
		}
		if len(vector) != len(totals) {
			return nil, fmt.Errorf("inconsistent vector length %d", len(vector))
		}
		for i, v := range vector {
			totals[i] += uint64(v)
		}
	}
	return totals, nil
}

func (f *fakeEngine) setCeremonyErr(err error) {
	f.mu.Lock()
	f.ceremonyErr = err
	f.mu.Unlock()
}

// fixture bundles the services under test over a file-backed store.
type fixture struct {
	store    *storage.MemStore
	engine   *fakeEngine
	pool     *CryptoPool
	events   *EventService
	voters   *registry.VoterRegistry
	ballots  *BallotProcessor
	verifier *VerificationService
	tallier  *TallyOrchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := storage.NewMemStore(t.TempDir())
	require.NoError(t, err)

	engine := &fakeEngine{}
	pool := NewCryptoPool(2, 16)
	t.Cleanup(pool.Stop)

	timeout := 2 * time.Second
	voters := registry.NewVoterRegistry(store)
	return &fixture{
		store:    store,
		engine:   engine,
		pool:     pool,
		events:   NewEventService(store, engine, pool, nil, timeout),
		voters:   voters,
		ballots:  NewBallotProcessor(store, voters, engine, pool, nil, timeout),
		verifier: NewVerificationService(store),
		tallier:  NewTallyOrchestrator(store, engine, pool, nil, nil, timeout),
	}
}

func (f *fixture) openEvent(t *testing.T, candidates []string, limit int) *models.VotingEvent {
	t.Helper()
	event, err := f.events.CreateEvent(context.Background(), CreateEventParams{
		Name:           "test election",
		OpensAt:        time.Now().Add(-time.Hour),
		ClosesAt:       time.Now().Add(time.Hour),
		SelectionLimit: limit,
		CandidateNames: candidates,
	})
	require.NoError(t, err)
	return event
}

func (f *fixture) registerVoter(t *testing.T, id string) string {
	t.Helper()
	voter, err := f.voters.Register(context.Background(), id)
	require.NoError(t, err)
	return voter.Secret
}

var errEngineBroken = errors.New("engine exploded")
