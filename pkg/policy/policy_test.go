package policy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnv104/capfs-sub000/pkg/policy"
)

func TestDecodeKnownPolicies(t *testing.T) {
	f, err := policy.Decode(policy.Posix)
	require.NoError(t, err)
	assert.False(t, f.ForceCommit)
	assert.True(t, f.DesireCoherence)
	assert.False(t, f.PrefetchOnOpen)

	f, err = policy.Decode(policy.PVFS)
	require.NoError(t, err)
	assert.False(t, f.DesireCoherence)
	assert.True(t, f.ForceCommit)
}

func TestDecodePrefetchVariant(t *testing.T) {
	f, err := policy.Decode(policy.OSession)
	require.NoError(t, err)
	assert.True(t, f.PrefetchOnOpen)

	base, err := policy.Decode(policy.Session)
	require.NoError(t, err)
	assert.Equal(t, base.ForceCommit, f.ForceCommit)
	assert.Equal(t, base.DelayCommit, f.DelayCommit)
	assert.False(t, base.PrefetchOnOpen)
}

func TestDecodeUnknown(t *testing.T) {
	_, err := policy.Decode(policy.Name("bogus"))
	assert.Error(t, err)
}

func TestMustDecodePanics(t *testing.T) {
	assert.Panics(t, func() {
		policy.MustDecode(policy.Name("bogus"))
	})
}
