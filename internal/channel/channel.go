// Package channel implements the channel-name value object: validation and
// classification of the string that identifies a fan-out group.
package channel

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const maxLength = 100

var namePattern = regexp.MustCompile(`^[a-z0-9.\-]+$`)

// ErrInvalidName is returned when a channel name fails validation.
var ErrInvalidName = errors.New("invalid channel name")

// publicChannels is the fixed allow-list open to any authenticated user.
var publicChannels = map[string]struct{}{
	"trade":        {},
	"candles":      {},
	"sys":          {},
	"rsi":          {},
	"extrema":      {},
	"analysis":     {},
	"subscription": {},
	"payment":      {},
	"deposit":      {},
}

// Kind classifies a validated channel name.
type Kind int

const (
	KindDenied Kind = iota
	KindGlobal
	KindUser
	KindStrategy
	KindEphemeral
	KindPublic
)

// Name is a validated channel name. The zero value is not valid; construct
// one with Parse.
type Name struct {
	value string
}

// Parse validates raw and returns a Name, or ErrInvalidName.
func Parse(raw string) (Name, error) {
	if len(raw) == 0 || len(raw) > maxLength {
		return Name{}, fmt.Errorf("%w: length must be 1-%d, got %d", ErrInvalidName, maxLength, len(raw))
	}
	if !namePattern.MatchString(raw) {
		return Name{}, fmt.Errorf("%w: %q must match %s", ErrInvalidName, raw, namePattern.String())
	}
	return Name{value: raw}, nil
}

// MustParse is Parse but panics on error. Intended for tests and static
// channel name construction, never for untrusted input.
func MustParse(raw string) Name {
	n, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return n
}

func (n Name) String() string { return n.value }

func (n Name) IsGlobal() bool {
	return n.value == "global"
}

func (n Name) IsUserChannel() bool {
	return strings.HasPrefix(n.value, "user.")
}

// IsEphemeral reports whether the channel is in the ephemeral class:
// backtest.* and forge.job.* only. strategy.* channels are classified
// separately (KindStrategy) even though they are subject to the same
// open-access rule. The registry drops a channel's bookkeeping once its
// last subscriber leaves whatever its class, so this does not decide
// cleanup.
func (n Name) IsEphemeral() bool {
	return strings.HasPrefix(n.value, "backtest.") || strings.HasPrefix(n.value, "forge.job.")
}

func (n Name) IsStrategyChannel() bool {
	return strings.HasPrefix(n.value, "strategy.")
}

func (n Name) IsPublicAllowListed() bool {
	_, ok := publicChannels[n.value]
	return ok
}

// ExtractUserID returns the id portion of a user.<id> channel. It fails if
// the channel is not a user channel.
func (n Name) ExtractUserID() (string, error) {
	if !n.IsUserChannel() {
		return "", fmt.Errorf("channel %q is not a user channel", n.value)
	}
	return strings.SplitN(n.value, ".", 2)[1], nil
}

// Classify returns the access-control category of the channel.
func (n Name) Classify() Kind {
	switch {
	case n.IsGlobal():
		return KindGlobal
	case n.IsUserChannel():
		return KindUser
	case n.IsStrategyChannel():
		return KindStrategy
	case n.IsEphemeral():
		return KindEphemeral
	case n.IsPublicAllowListed():
		return KindPublic
	default:
		return KindDenied
	}
}

// Equal reports whether two names have the same value. Name values
// constructed via Parse already compare equal with ==, Equal exists for
// readability at call sites.
func (n Name) Equal(other Name) bool {
	return n.value == other.value
}
