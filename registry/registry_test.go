package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verivote-backend/storage"
)

func newRegistry(t *testing.T) *VoterRegistry {
	t.Helper()
	store, err := storage.NewMemStore("")
	require.NoError(t, err)
	return NewVoterRegistry(store)
}

func TestRegisterIssuesSecret(t *testing.T) {
	reg := newRegistry(t)
	ctx := context.Background()

	voter, err := reg.Register(ctx, "voter-1")
	require.NoError(t, err)
	assert.Equal(t, "voter-1", voter.ID)
	assert.NotEmpty(t, voter.Secret)

	resolved, err := reg.Resolve(ctx, voter.Secret)
	require.NoError(t, err)
	assert.Equal(t, "voter-1", resolved.ID)
}

func TestRegisterDuplicateIdentity(t *testing.T) {
	reg := newRegistry(t)
	ctx := context.Background()

	_, err := reg.Register(ctx, "voter-1")
	require.NoError(t, err)

	_, err = reg.Register(ctx, "voter-1")
	require.ErrorIs(t, err, ErrVoterExists)
}

func TestRegisterEmptyIdentity(t *testing.T) {
	reg := newRegistry(t)
	_, err := reg.Register(context.Background(), "")
	require.Error(t, err)
}

func TestResolveUnknownSecret(t *testing.T) {
	reg := newRegistry(t)
	ctx := context.Background()

	_, err := reg.Resolve(ctx, "not-a-secret")
	require.ErrorIs(t, err, ErrUnknownSecret)

	_, err = reg.Resolve(ctx, "")
	require.ErrorIs(t, err, ErrUnknownSecret)
}
