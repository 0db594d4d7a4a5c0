package service

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var codePattern = regexp.MustCompile(`^[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{4}$`)

func TestSubmitVoteReturnsReceipt(t *testing.T) {
	f := newFixture(t)
	event := f.openEvent(t, []string{"alice", "bob"}, 1)
	secret := f.registerVoter(t, "voter-1")

	receipt, err := f.ballots.SubmitVote(context.Background(), secret, event.ID, []string{event.Candidates[0].ID})
	require.NoError(t, err)

	assert.Regexp(t, codePattern, receipt.VerificationCode)
	assert.Len(t, receipt.VoteSecret, 64)

	ballots, err := f.ballots.ListEventVotes(context.Background(), event.ID)
	require.NoError(t, err)
	require.Len(t, ballots, 1)
	assert.Equal(t, "voter-1", ballots[0].VoterID)
	assert.Equal(t, []string{event.Candidates[0].ID}, ballots[0].SelectedCandidateIDs)
	assert.NotEmpty(t, ballots[0].Ciphertext)
	assert.NotEmpty(t, ballots[0].Proof)
}

func TestSubmitVoteUnknownSecret(t *testing.T) {
	f := newFixture(t)
	event := f.openEvent(t, []string{"a", "b"}, 1)

	_, err := f.ballots.SubmitVote(context.Background(), "bogus", event.ID, []string{event.Candidates[0].ID})
	require.ErrorIs(t, err, ErrAuthentication)
}

func TestSubmitVoteUnknownEvent(t *testing.T) {
	f := newFixture(t)
	secret := f.registerVoter(t, "voter-1")

	_, err := f.ballots.SubmitVote(context.Background(), secret, "no-such-event", []string{"x"})
	require.ErrorIs(t, err, ErrEventNotFound)
}

func TestSubmitVoteOutsideWindow(t *testing.T) {
	f := newFixture(t)
	secret := f.registerVoter(t, "voter-1")
	ctx := context.Background()

	early, err := f.events.CreateEvent(ctx, CreateEventParams{
		Name:           "not yet open",
		OpensAt:        time.Now().Add(time.Hour),
		ClosesAt:       time.Now().Add(2 * time.Hour),
		SelectionLimit: 1,
		CandidateNames: []string{"a", "b"},
	})
	require.NoError(t, err)
	_, err = f.ballots.SubmitVote(ctx, secret, early.ID, []string{early.Candidates[0].ID})
	require.ErrorIs(t, err, ErrVotingNotOpen)

	late, err := f.events.CreateEvent(ctx, CreateEventParams{
		Name:           "already over",
		OpensAt:        time.Now().Add(-2 * time.Hour),
		ClosesAt:       time.Now().Add(-time.Hour),
		SelectionLimit: 1,
		CandidateNames: []string{"a", "b"},
	})
	require.NoError(t, err)
	_, err = f.ballots.SubmitVote(ctx, secret, late.ID, []string{late.Candidates[0].ID})
	require.ErrorIs(t, err, ErrVotingWindowClosed)
}

func TestSubmitVoteEndedEvent(t *testing.T) {
	f := newFixture(t)
	event := f.openEvent(t, []string{"a", "b"}, 1)
	secret := f.registerVoter(t, "voter-1")

	_, err := f.events.CloseVoting(context.Background(), event.ID)
	require.NoError(t, err)

	_, err = f.ballots.SubmitVote(context.Background(), secret, event.ID, []string{event.Candidates[0].ID})
	require.ErrorIs(t, err, ErrVotingEnded)
}

func TestSubmitVoteSelectionValidation(t *testing.T) {
	f := newFixture(t)
	event := f.openEvent(t, []string{"a", "b", "c"}, 2)
	secret := f.registerVoter(t, "voter-1")
	ctx := context.Background()

	id0, id1 := event.Candidates[0].ID, event.Candidates[1].ID

	_, err := f.ballots.SubmitVote(ctx, secret, event.ID, []string{id0})
	require.ErrorIs(t, err, ErrInvalidSelection)

	_, err = f.ballots.SubmitVote(ctx, secret, event.ID, []string{id0, "unknown-candidate"})
	require.ErrorIs(t, err, ErrInvalidSelection)

	_, err = f.ballots.SubmitVote(ctx, secret, event.ID, []string{id0, id0})
	require.ErrorIs(t, err, ErrInvalidSelection)

	_, err = f.ballots.SubmitVote(ctx, secret, event.ID, []string{id0, id1})
	require.NoError(t, err)
}

func TestSubmitVoteDuplicatePreservesFirstBallot(t *testing.T) {
	f := newFixture(t)
	event := f.openEvent(t, []string{"a", "b"}, 1)
	secret := f.registerVoter(t, "voter-1")
	ctx := context.Background()

	first, err := f.ballots.SubmitVote(ctx, secret, event.ID, []string{event.Candidates[0].ID})
	require.NoError(t, err)

	_, err = f.ballots.SubmitVote(ctx, secret, event.ID, []string{event.Candidates[1].ID})
	require.ErrorIs(t, err, ErrAlreadyVoted)

	ballots, err := f.ballots.ListEventVotes(ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, ballots, 1)
	assert.Equal(t, first.VerificationCode, ballots[0].VerificationCode)
	assert.Equal(t, []string{event.Candidates[0].ID}, ballots[0].SelectedCandidateIDs)
}

func TestSubmitVoteConcurrentDuplicates(t *testing.T) {
	f := newFixture(t)
	event := f.openEvent(t, []string{"a", "b"}, 1)
	secret := f.registerVoter(t, "voter-1")

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.ballots.SubmitVote(context.Background(), secret, event.ID, []string{event.Candidates[0].ID})
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		require.ErrorIs(t, err, ErrAlreadyVoted)
	}
	assert.Equal(t, 1, successes)

	ballots, err := f.ballots.ListEventVotes(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Len(t, ballots, 1)
}

func TestSubmitVoteEngineFailure(t *testing.T) {
	f := newFixture(t)
	event := f.openEvent(t, []string{"a", "b"}, 1)
	secret := f.registerVoter(t, "voter-1")

	f.engine.mu.Lock()
	f.engine.encryptErr = errEngineBroken
	f.engine.mu.Unlock()

	_, err := f.ballots.SubmitVote(context.Background(), secret, event.ID, []string{event.Candidates[0].ID})
	require.ErrorIs(t, err, ErrCryptoEngine)

	ballots, err := f.ballots.ListEventVotes(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Empty(t, ballots)
}

func TestSubmitVoteEncryptionTimeout(t *testing.T) {
	f := newFixture(t)
	event := f.openEvent(t, []string{"a", "b"}, 1)
	secret := f.registerVoter(t, "voter-1")

	f.engine.mu.Lock()
	f.engine.encryptDelay = 200 * time.Millisecond
	f.engine.mu.Unlock()
	f.ballots.cryptoTimeout = 20 * time.Millisecond

	_, err := f.ballots.SubmitVote(context.Background(), secret, event.ID, []string{event.Candidates[0].ID})
	require.ErrorIs(t, err, ErrCryptoTimeout)
}
