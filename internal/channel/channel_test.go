package channel

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_AcceptsValidNames(t *testing.T) {
	for _, raw := range []string{"global", "user.alice", "trade", "forge.job.abc-123", "a.b.c"} {
		n, err := Parse(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, raw, n.String())
	}
}

func TestParse_RejectsInvalidNames(t *testing.T) {
	cases := []string{"", "Bad Name", "has space", "UPPER", "emoji🙂", strings.Repeat("a", 101)}
	for _, raw := range cases {
		_, err := Parse(raw)
		assert.ErrorIs(t, err, ErrInvalidName, raw)
	}
}

func TestParse_BoundaryLength(t *testing.T) {
	exact100 := strings.Repeat("a", 100)
	_, err := Parse(exact100)
	require.NoError(t, err)

	_, err = Parse(exact100 + "a")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		want Kind
	}{
		{"global", KindGlobal},
		{"user.alice", KindUser},
		{"strategy.abc", KindStrategy},
		{"backtest.abc", KindEphemeral},
		{"forge.job.abc", KindEphemeral},
		{"trade", KindPublic},
		{"random-thing", KindDenied},
	}
	for _, c := range cases {
		n := MustParse(c.name)
		assert.Equal(t, c.want, n.Classify(), c.name)
	}
}

func TestExtractUserID(t *testing.T) {
	n := MustParse("user.alice")
	id, err := n.ExtractUserID()
	require.NoError(t, err)
	assert.Equal(t, "alice", id)

	_, err = MustParse("global").ExtractUserID()
	assert.Error(t, err)
}

func TestIsEphemeral_StrategyIsNotEphemeral(t *testing.T) {
	assert.False(t, MustParse("strategy.abc").IsEphemeral())
	assert.True(t, MustParse("backtest.abc").IsEphemeral())
	assert.True(t, MustParse("forge.job.abc").IsEphemeral())
}
