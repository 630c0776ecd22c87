package accounts

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenGenerator signs short-lived, single-purpose tokens bound to the
// account's current state. Any change to the stamped fields voids tokens
// issued before it.
type TokenGenerator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Purpose string `json:"pur"`
	Stamp   string `json:"stm"`
}

// NewTokenGenerator builds a generator signing with secret and expiring tokens after ttl.
func NewTokenGenerator(secret []byte, ttl time.Duration) *TokenGenerator {
	return &TokenGenerator{secret: secret, ttl: ttl, now: time.Now}
}

// TTL exposes the validity window.
func (g *TokenGenerator) TTL() time.Duration {
	return g.ttl
}

// Make issues a token for the account and purpose.
func (g *TokenGenerator) Make(acc *Account, purpose string) (string, error) {
	if acc == nil || acc.ID <= 0 {
		return "", errors.New("accounts: token for unsaved account")
	}
	now := g.now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acc.IDString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.ttl)),
		},
		Purpose: purpose,
		Stamp:   g.stamp(acc, purpose),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
}

var (
	errTokenInvalid = errors.New("accounts: token invalid")
	// errTokenStale marks a genuine, unexpired token whose account state has
	// moved on since it was issued.
	errTokenStale = errors.New("accounts: token stale")
)

// Check reports whether token was issued by Make for this account and purpose,
// has not expired and still matches the account's state.
func (g *TokenGenerator) Check(acc *Account, purpose, token string) bool {
	return g.verify(acc, purpose, token) == nil
}

func (g *TokenGenerator) verify(acc *Account, purpose, token string) error {
	if acc == nil || token == "" {
		return errTokenInvalid
	}
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return g.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithSubject(acc.IDString()),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil || claims.Purpose != purpose {
		return errTokenInvalid
	}
	if !hmac.Equal([]byte(claims.Stamp), []byte(g.stamp(acc, purpose))) {
		return errTokenStale
	}
	return nil
}

// stamp digests the mutable, security-relevant state of the account.
// Password reset tokens also cover the last login so a used link dies with the next sign-in.
func (g *TokenGenerator) stamp(acc *Account, purpose string) string {
	mac := hmac.New(sha256.New, g.secret)
	write := func(v string) {
		_, _ = mac.Write([]byte(v))
		_, _ = mac.Write([]byte{0})
	}
	write(purpose)
	write(acc.IDString())
	write(acc.Email)
	write(acc.PasswordHash)
	write(strconv.FormatBool(acc.Verification.EmailConfirmed))
	if purpose == PurposePasswordReset && acc.LastLoginAt != nil {
		write(strconv.FormatInt(acc.LastLoginAt.UTC().Unix(), 10))
	}
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// EncodeIdentifier renders an account id for use in a link. It is reversible, not secret.
func EncodeIdentifier(id int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(id, 10)))
}

// DecodeIdentifier parses a value produced by EncodeIdentifier.
func DecodeIdentifier(s string) (int64, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, errors.New("accounts: identifier out of range")
	}
	return id, nil
}
