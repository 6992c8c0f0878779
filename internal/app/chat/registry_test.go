package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hzrealtime/internal/app/user"
	"hzrealtime/internal/pkg/errs"
	"hzrealtime/internal/pkg/randx"
)

func TestRegisterAllocatesIDs(t *testing.T) {
	r := NewRegistry(0)
	a, err := r.Register(&fakeSink{})
	require.Nil(t, err)
	b, err := r.Register(&fakeSink{})
	require.Nil(t, err)

	assert.NotEqual(t, a.ID(), b.ID())
	assert.True(t, randx.IsValidConnectionID(a.ID()))
	assert.False(t, a.Authenticated())
	assert.Equal(t, 2, r.Count())
}

func TestRegisterCapacity(t *testing.T) {
	r := NewRegistry(1)
	_, err := r.Register(&fakeSink{})
	require.Nil(t, err)
	assert.True(t, r.Full())

	_, err = r.Register(&fakeSink{})
	require.NotNil(t, err)
	assert.Equal(t, errs.ErrCapacityExceeded, err.Code)
}

func TestAuthenticateRules(t *testing.T) {
	r := NewRegistry(0)
	c, _ := r.Register(&fakeSink{})

	newly, err := r.Authenticate(c.ID(), user.NewSession("u1", "alice", "s1"))
	require.Nil(t, err)
	assert.True(t, newly)

	newly, err = r.Authenticate(c.ID(), user.NewSession("u1", "alice2", "s2"))
	require.Nil(t, err)
	assert.False(t, newly)
	s, _ := c.Session()
	assert.Equal(t, "alice2", s.Username)

	_, err = r.Authenticate(c.ID(), user.NewSession("u2", "bob", "s3"))
	require.NotNil(t, err)
	assert.Equal(t, errs.ErrAlreadyAuthenticated, err.Code)
	assert.Equal(t, "u1", c.UserID())

	_, err = r.Authenticate("c_missing", user.NewSession("u1", "", ""))
	require.NotNil(t, err)
	assert.Equal(t, errs.ErrConnectionNotFound, err.Code)

	other, _ := r.Register(&fakeSink{})
	_, err = r.Authenticate(other.ID(), user.NewSession("  ", "", ""))
	require.NotNil(t, err)
	assert.Equal(t, errs.ErrHandshakeInvalid, err.Code)
}

func TestReverseIndex(t *testing.T) {
	r := NewRegistry(0)
	a, _ := r.Register(&fakeSink{})
	b, _ := r.Register(&fakeSink{})
	anon, _ := r.Register(&fakeSink{})
	_, _ = r.Authenticate(a.ID(), user.NewSession("u1", "", ""))
	_, _ = r.Authenticate(b.ID(), user.NewSession("u1", "", ""))

	assert.Len(t, r.ConnectionsOf("u1"), 2)
	assert.Equal(t, 2, r.AuthenticatedCount())

	r.remove(a, "u1")
	assert.Len(t, r.ConnectionsOf("u1"), 1)
	r.remove(b, "u1")
	assert.Empty(t, r.ConnectionsOf("u1"))
	r.remove(anon, "")
	assert.Equal(t, 0, r.Count())

	_, err := r.Get(a.ID())
	require.NotNil(t, err)
	assert.Equal(t, errs.ErrConnectionNotFound, err.Code)
}

func TestGetRejectsMalformedID(t *testing.T) {
	r := NewRegistry(0)
	c, err := r.Register(&fakeSink{})
	require.Nil(t, err)

	got, err := r.Get(c.ID())
	require.Nil(t, err)
	assert.Same(t, c, got)

	for _, id := range []string{"", "bogus", c.ID() + "x", "x" + c.ID()[1:]} {
		_, err := r.Get(id)
		require.NotNil(t, err, id)
		assert.Equal(t, errs.ErrConnectionNotFound, err.Code)
	}
}
