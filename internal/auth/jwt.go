// Package auth implements token verification and channel authorization
// (C2): a pure capability over a shared secret, with no hidden singleton
// and no network calls.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lumiere-trade/courier/internal/channel"
)

// Error kinds returned by Verify. Callers switch on these with errors.Is,
// never on message text.
var (
	ErrTokenExpired      = errors.New("token expired")
	ErrTokenInvalid      = errors.New("invalid token")
	ErrTokenClaimMissing = errors.New("token missing required claim")
)

// Claims is the recognized token payload: { user_id, wallet_address, iat, exp }.
type Claims struct {
	UserID        string `json:"user_id"`
	WalletAddress string `json:"wallet_address"`
	jwt.RegisteredClaims
}

// Verifier verifies signed tokens and authorizes channel access. It is
// configured once with a secret; implementers must not rely on a hidden
// singleton.
type Verifier struct {
	secret []byte
}

// NewVerifier builds a Verifier over the given shared secret. Any HMAC
// algorithm is accepted; the configured jwt_algorithm is not consulted.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify decodes and validates token, returning the claims or one of
// ErrTokenExpired, ErrTokenInvalid, ErrTokenClaimMissing.
func (v *Verifier) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: user_id", ErrTokenClaimMissing)
	}
	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: exp", ErrTokenClaimMissing)
	}
	return claims, nil
}

// Authorize answers "may user userID access channel c?" Rules are
// evaluated in order, first match wins:
//  1. global -> allow
//  2. user.<id> -> allow iff id equals userID
//  3. strategy.*, backtest.*, forge.job.* -> allow (ownership not yet enforced)
//  4. fixed public allow-list -> allow
//  5. otherwise -> deny
func (v *Verifier) Authorize(userID string, c channel.Name) bool {
	switch c.Classify() {
	case channel.KindGlobal:
		return true
	case channel.KindUser:
		id, err := c.ExtractUserID()
		return err == nil && id == userID
	case channel.KindStrategy, channel.KindEphemeral:
		return true
	case channel.KindPublic:
		return true
	default:
		return false
	}
}

// ExtractTokenFromQuery pulls ?token=... from a WebSocket upgrade request,
// the common carrier for browser clients that cannot set headers.
func ExtractTokenFromQuery(r *http.Request) (string, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		return "", errors.New("token query parameter missing")
	}
	return token, nil
}

// ExtractTokenFromHeader pulls a bearer token from the Authorization header.
func ExtractTokenFromHeader(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("authorization header missing")
	}
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", errors.New("invalid authorization header format")
	}
	return strings.TrimPrefix(authHeader, bearerPrefix), nil
}

// ExtractToken tries the query parameter first (WebSocket clients), then
// falls back to the Authorization header.
func ExtractToken(r *http.Request) (string, error) {
	if token, err := ExtractTokenFromQuery(r); err == nil {
		return token, nil
	}
	return ExtractTokenFromHeader(r)
}

// GenerateToken signs a token for the given identity. Exposed for tests and
// for operators bootstrapping trusted service-to-service tokens; Courier
// itself never issues tokens for end users.
func GenerateToken(secret, userID, walletAddress string, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID:        userID,
		WalletAddress: walletAddress,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   userID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
