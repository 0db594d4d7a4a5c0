package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCryptoPoolRunsTask(t *testing.T) {
	pool := NewCryptoPool(2, 4)
	defer pool.Stop()

	ran := false
	err := pool.Run(context.Background(), func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestCryptoPoolPropagatesTaskError(t *testing.T) {
	pool := NewCryptoPool(1, 1)
	defer pool.Stop()

	boom := errors.New("boom")
	err := pool.Run(context.Background(), func() error { return boom })
	require.ErrorIs(t, err, boom)
}

func TestCryptoPoolTimeout(t *testing.T) {
	pool := NewCryptoPool(1, 1)
	defer pool.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := pool.Run(ctx, func() error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})
	require.ErrorIs(t, err, ErrCryptoTimeout)
	require.ErrorIs(t, err, ErrCryptoEngine)
}

func TestCryptoPoolStopRejectsNewWork(t *testing.T) {
	pool := NewCryptoPool(1, 1)
	pool.Stop()

	err := pool.Run(context.Background(), func() error { return nil })
	require.ErrorIs(t, err, ErrCryptoEngine)
}

func TestErrorKinds(t *testing.T) {
	cases := map[string]struct {
		err  error
		kind string
	}{
		"authentication": {ErrAuthentication, KindAuthentication},
		"not found":      {ErrEventNotFound, KindNotFound},
		"state":          {ErrVotingEnded, KindState},
		"validation":     {ErrInvalidSelection, KindValidation},
		"idempotency":    {ErrAlreadyVoted, KindIdempotency},
		"conflict":       {ErrSubmissionConflict, KindIdempotency},
		"crypto":         {ErrCryptoTimeout, KindCryptoEngine},
		"internal":       {errors.New("anything else"), KindInternal},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.kind, Kind(tc.err))
		})
	}
}
