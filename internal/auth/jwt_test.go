package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumiere-trade/courier/internal/channel"
)

const testSecret = "test-secret"

func TestVerify_AcceptsValidToken(t *testing.T) {
	token, err := GenerateToken(testSecret, "alice", "0xabc", time.Hour)
	require.NoError(t, err)

	v := NewVerifier(testSecret)
	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)
	assert.Equal(t, "0xabc", claims.WalletAddress)
}

func TestVerify_RejectsExpiredToken(t *testing.T) {
	token, err := GenerateToken(testSecret, "alice", "0xabc", -time.Hour)
	require.NoError(t, err)

	v := NewVerifier(testSecret)
	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerify_RejectsBadSignature(t *testing.T) {
	token, err := GenerateToken("other-secret", "alice", "0xabc", time.Hour)
	require.NoError(t, err)

	v := NewVerifier(testSecret)
	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestAuthorize_Rules(t *testing.T) {
	v := NewVerifier(testSecret)
	cases := []struct {
		user string
		chn  string
		want bool
	}{
		{"alice", "global", true},
		{"alice", "user.alice", true},
		{"alice", "user.bob", false},
		{"alice", "strategy.xyz", true},
		{"alice", "backtest.xyz", true},
		{"alice", "forge.job.xyz", true},
		{"alice", "trade", true},
		{"alice", "random-thing", false},
	}
	for _, c := range cases {
		got := v.Authorize(c.user, channel.MustParse(c.chn))
		assert.Equal(t, c.want, got, "%s on %s", c.user, c.chn)
	}
}

func TestAuthorize_IsDeterministic(t *testing.T) {
	v := NewVerifier(testSecret)
	c := channel.MustParse("user.alice")
	first := v.Authorize("alice", c)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, v.Authorize("alice", c))
	}
}
