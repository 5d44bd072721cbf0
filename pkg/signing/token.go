package signing

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
)

var (
	ErrTokenExpired = errors.New("signing: session token expired")
	ErrTokenInvalid = errors.New("signing: session token invalid")
)

// SessionClaims are the claims carried by a session token. Subject is the
// wallet address, Audience the requesting app's URI.
type SessionClaims struct {
	jwt.Claims
	AppName string `json:"app,omitempty"`
	Cluster string `json:"cluster,omitempty"`
}

// NewSessionClaims fills the registered claims for a token valid for ttl from now
func NewSessionClaims(subject, audience string, now time.Time, ttl time.Duration) SessionClaims {
	return SessionClaims{
		Claims: jwt.Claims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Audience:  jwt.Audience{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Expiry:    jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

// IssueToken signs claims into a compact JWT
func IssueToken(s *EdDSASigner, claims SessionClaims) (string, error) {
	token, err := jwt.Signed(s.signer).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("failed to issue session token: %w", err)
	}
	return token, nil
}

// VerifyToken checks the token's signature and that it is valid for the
// subject and audience at now. An expired but otherwise valid token returns
// its claims together with ErrTokenExpired.
func VerifyToken(v *EdDSAVerifier, token, subject, audience string, now time.Time) (*SessionClaims, error) {
	parsed, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.EdDSA})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	var claims SessionClaims
	if err := parsed.Claims(v.publicKey, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	err = claims.ValidateWithLeeway(jwt.Expected{
		Subject:     subject,
		AnyAudience: jwt.Audience{audience},
		Time:        now,
	}, 0)
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return &claims, ErrTokenExpired
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	return &claims, nil
}
