package service

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"verivote-backend/encryption"
	"verivote-backend/models"
	"verivote-backend/storage"
)

// TallyOrchestrator aggregates an event's ciphertexts, decrypts the totals,
// and publishes a signed result snapshot. Tallying does not change the
// event's status: an open event can be tallied mid-flight and the snapshot
// simply reflects the ballots recorded so far.
type TallyOrchestrator struct {
	store         storage.Store
	engine        encryption.Engine
	pool          *CryptoPool
	metrics       *Metrics
	auditKey      *ecdsa.PrivateKey
	cryptoTimeout time.Duration
}

func NewTallyOrchestrator(store storage.Store, engine encryption.Engine, pool *CryptoPool, metrics *Metrics, auditKey *ecdsa.PrivateKey, cryptoTimeout time.Duration) *TallyOrchestrator {
	return &TallyOrchestrator{
		store:         store,
		engine:        engine,
		pool:          pool,
		metrics:       metrics,
		auditKey:      auditKey,
		cryptoTimeout: cryptoTimeout,
	}
}

// Tally computes the current result snapshot for an event and stores it,
// replacing any earlier snapshot.
func (t *TallyOrchestrator) Tally(ctx context.Context, eventID string) (*models.TallySnapshot, error) {
	event, err := t.store.GetEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, storage.ErrEventNotFound) {
			return nil, fmt.Errorf("%w: event %s", ErrEventNotFound, eventID)
		}
		return nil, fmt.Errorf("load event: %w", err)
	}

	ballots, err := t.store.ListBallots(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list ballots: %w", err)
	}

	counts := make([]uint64, len(event.Candidates))
	if len(ballots) > 0 {
		ciphertexts := make([][]byte, len(ballots))
		for i, b := range ballots {
			ciphertexts[i] = b.Ciphertext
		}

		runCtx, cancel := context.WithTimeout(ctx, t.cryptoTimeout)
		defer cancel()

		start := time.Now()
		runErr := t.pool.Run(runCtx, func() error {
			var decryptErr error
			counts, decryptErr = t.engine.AggregateAndDecrypt(runCtx, ciphertexts, event.CryptoContext)
			return decryptErr
		})
		t.metrics.ObserveEngine("aggregate_decrypt", time.Since(start))
		if runErr != nil {
			if errors.Is(runErr, ErrCryptoEngine) {
				return nil, runErr
			}
			return nil, fmt.Errorf("%w: aggregate and decrypt: %v", ErrCryptoEngine, runErr)
		}
		if len(counts) != len(event.Candidates) {
			return nil, fmt.Errorf("%w: decrypted %d totals for %d candidates",
				ErrCryptoEngine, len(counts), len(event.Candidates))
		}
	}

	snapshot := buildSnapshot(event, counts, len(ballots))
	if err := t.sign(snapshot); err != nil {
		return nil, fmt.Errorf("sign tally: %w", err)
	}

	if err := t.store.SaveTally(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("store tally: %w", err)
	}

	t.metrics.TallyRun()
	log.Printf("event %s # TALLY | %d ballots, winner %q tie=%v",
		eventID, snapshot.TotalBallots, snapshot.WinnerID, snapshot.Tie)
	return snapshot, nil
}

// GetTally returns the most recent stored snapshot for the event.
func (t *TallyOrchestrator) GetTally(ctx context.Context, eventID string) (*models.TallySnapshot, error) {
	snapshot, err := t.store.GetTally(ctx, eventID)
	if err != nil {
		if errors.Is(err, storage.ErrTallyNotFound) {
			return nil, fmt.Errorf("%w: no tally for event %s", ErrEventNotFound, eventID)
		}
		return nil, fmt.Errorf("load tally: %w", err)
	}
	return snapshot, nil
}

// buildSnapshot turns decrypted per-candidate totals into a result snapshot.
// Percentages are relative to the sum of all counted selections, so with a
// selection limit above one a ballot contributes to several candidates.
func buildSnapshot(event *models.VotingEvent, counts []uint64, totalBallots int) *models.TallySnapshot {
	var totalSelections uint64
	for _, c := range counts {
		totalSelections += c
	}

	results := make([]models.CandidateResult, len(event.Candidates))
	var winnerID string
	var best uint64
	tie := false
	for i, cand := range event.Candidates {
		count := counts[cand.Index]
		var pct float64
		if totalSelections > 0 {
			pct = float64(count) / float64(totalSelections) * 100
		}
		results[i] = models.CandidateResult{
			CandidateID: cand.ID,
			Name:        cand.Name,
			Count:       count,
			Percentage:  pct,
		}
		switch {
		case count > best:
			best = count
			winnerID = cand.ID
			tie = false
		case count == best && count > 0:
			tie = true
		}
	}
	if tie {
		winnerID = ""
	}

	return &models.TallySnapshot{
		EventID:      event.ID,
		Results:      results,
		TotalBallots: uint64(totalBallots),
		WinnerID:     winnerID,
		Tie:          tie,
		ComputedAt:   time.Now().UTC(),
	}
}

// sign attaches an ECDSA signature over the snapshot digest so published
// results can be checked against the audit key.
func (t *TallyOrchestrator) sign(snapshot *models.TallySnapshot) error {
	if t.auditKey == nil {
		return nil
	}
	digest, err := snapshotDigest(snapshot)
	if err != nil {
		return err
	}
	sig, err := ethcrypto.Sign(digest, t.auditKey)
	if err != nil {
		return err
	}
	snapshot.Signature = hexutil.Encode(sig)
	return nil
}

// snapshotDigest hashes the snapshot without its signature field. The hash
// input is the JSON encoding, which is deterministic for a fixed snapshot.
func snapshotDigest(snapshot *models.TallySnapshot) ([]byte, error) {
	unsigned := *snapshot
	unsigned.Signature = ""
	payload, err := json.Marshal(&unsigned)
	if err != nil {
		return nil, err
	}
	return encryption.Keccak256(payload), nil
}
