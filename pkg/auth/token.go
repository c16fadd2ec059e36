package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-backend/pkg/config"
	"github.com/angelmondragon/settlement-backend/pkg/enums"
)

var signingMethod = jwt.SigningMethodHS256

var (
	// ErrExpired lets callers tell a stale token from a forged one.
	ErrExpired = errors.New("access token expired")
	ErrInvalid = errors.New("access token invalid")
)

// Claims carries the caller identity. The user id travels in "sub".
type Claims struct {
	Role enums.UserRole `json:"role"`
	jwt.RegisteredClaims
}

// UserID parses the subject; uuid.Nil means the token named nobody usable.
func (c *Claims) UserID() uuid.UUID {
	if c == nil {
		return uuid.Nil
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil
	}
	return id
}

func checkConfig(cfg config.JWTConfig) error {
	switch {
	case cfg.Secret == "":
		return errors.New("jwt secret is required")
	case strings.TrimSpace(cfg.Issuer) == "":
		return errors.New("jwt issuer is required")
	case cfg.ExpirationMinutes <= 0:
		return errors.New("jwt expiration minutes must be positive")
	}
	return nil
}

// IssueAccessToken signs an HS256 token for userID valid for the configured
// number of minutes after now.
func IssueAccessToken(cfg config.JWTConfig, now time.Time, userID uuid.UUID, role enums.UserRole) (string, error) {
	if err := checkConfig(cfg); err != nil {
		return "", err
	}
	if userID == uuid.Nil {
		return "", errors.New("user id is required")
	}
	if !role.IsValid() {
		return "", fmt.Errorf("cannot issue token for role %q", role)
	}

	now = now.UTC()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(cfg.ExpirationMinutes) * time.Minute)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

// VerifyAccessToken checks signature, issuer and lifetime. Any failure wraps
// ErrExpired or ErrInvalid.
func VerifyAccessToken(cfg config.JWTConfig, raw string) (*Claims, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return []byte(cfg.Secret), nil },
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("%w: %v", ErrExpired, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if claims.UserID() == uuid.Nil {
		return nil, fmt.Errorf("%w: subject is not a user id", ErrInvalid)
	}
	if !claims.Role.IsValid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalid, claims.Role)
	}
	return claims, nil
}
