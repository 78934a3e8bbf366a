package labsim

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// claims carried by lab tokens. The session id survives rotation.
type claims struct {
	SID string `json:"sid"`
	jwt.RegisteredClaims
}

// tokenState is the server-side record behind a token.
type tokenState struct {
	sessionID string
	attempts  int
	expires   time.Time
	revoked   bool
}

var (
	errTokenMissing = errors.New("token missing")
	errTokenUnknown = errors.New("token unknown")
	errTokenRevoked = errors.New("token revoked")
	errTokenExpired = errors.New("token expired")
)

// mint signs a new token for sessionID and registers it.
func (s *Server) mint(sessionID string) (string, *tokenState, error) {
	now := s.now()
	st := &tokenState{
		sessionID: sessionID,
		expires:   now.Add(s.cfg.TokenTTL),
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		SID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(st.expires),
		},
	})
	signed, err := tok.SignedString(s.cfg.Secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}

	s.tokens[signed] = st
	s.stats.TokensIssued++
	return signed, st, nil
}

// lookup verifies the signature and returns the token's record. Expiry is
// checked against the server clock.
func (s *Server) lookup(raw string) (*tokenState, error) {
	if raw == "" {
		return nil, errTokenMissing
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	parsed, err := parser.ParseWithClaims(raw, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.cfg.Secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", errTokenUnknown, err)
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return nil, errTokenUnknown
	}

	st, ok := s.tokens[raw]
	if !ok || st.sessionID != c.SID {
		return nil, errTokenUnknown
	}
	if st.revoked {
		return nil, errTokenRevoked
	}
	return st, nil
}
