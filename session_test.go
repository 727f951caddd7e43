package apyserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRegistry_OpenAndClose(t *testing.T) {
	r := newSessionRegistry(0)
	c := &Client{Address: "127.0.0.1"}

	ok := r.open(c)
	assert.True(t, ok)
	require.NotNil(t, c.Session)
	assert.Len(t, r.sessionsOf("127.0.0.1"), 1)

	r.close(c)
	assert.Nil(t, c.Session)
	assert.Empty(t, r.sessionsOf("127.0.0.1"))

	// idempotent
	r.close(c)
	assert.Nil(t, c.Session)
}

func TestSessionRegistry_Limit(t *testing.T) {
	r := newSessionRegistry(1)
	c1 := &Client{Address: "127.0.0.1"}
	c2 := &Client{Address: "127.0.0.1"}

	assert.True(t, r.open(c1))
	assert.False(t, r.open(c2))
	assert.Nil(t, c2.Session)
	assert.Len(t, r.sessionsOf("127.0.0.1"), 1)
}

func TestSessionRegistry_BanUnban(t *testing.T) {
	r := newSessionRegistry(0)
	assert.False(t, r.isBanned("1.2.3.4"))

	r.ban("1.2.3.4")
	assert.True(t, r.isBanned("1.2.3.4"))

	r.unban("1.2.3.4")
	assert.False(t, r.isBanned("1.2.3.4"))
}

func TestSession_Equal(t *testing.T) {
	r := newSessionRegistry(0)
	c1 := &Client{Address: "127.0.0.1"}
	r.open(c1)
	s1 := c1.Session

	c2 := &Client{Address: "127.0.0.1"}
	r.open(c2)
	s2 := c2.Session

	assert.True(t, s1.Equal(s1))
	assert.False(t, s1.Equal(s2))

	var nilSession *Session
	assert.True(t, nilSession.Equal(nil))
	assert.False(t, s1.Equal(nil))
}
