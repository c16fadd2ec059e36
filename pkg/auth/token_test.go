package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/settlement-backend/pkg/config"
	"github.com/angelmondragon/settlement-backend/pkg/enums"
)

var testCfg = config.JWTConfig{Secret: "secret", Issuer: "settlement", ExpirationMinutes: 30}

func TestIssueAndVerify(t *testing.T) {
	userID := uuid.New()
	now := time.Now()

	token, err := IssueAccessToken(testCfg, now, userID, enums.UserRoleBuyer)
	require.NoError(t, err)

	claims, err := VerifyAccessToken(testCfg, token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID())
	assert.Equal(t, enums.UserRoleBuyer, claims.Role)
	assert.Equal(t, "settlement", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
	assert.WithinDuration(t, now.Add(30*time.Minute), claims.ExpiresAt.Time, time.Second)
}

func TestVerifyRejects(t *testing.T) {
	good, err := IssueAccessToken(testCfg, time.Now(), uuid.New(), enums.UserRoleAdmin)
	require.NoError(t, err)
	stale, err := IssueAccessToken(testCfg, time.Now().Add(-time.Hour), uuid.New(), enums.UserRoleBuyer)
	require.NoError(t, err)

	foreign := testCfg
	foreign.Issuer = "someone-else"
	rotated := testCfg
	rotated.Secret = "rotated"

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: enums.UserRoleBuyer,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testCfg.Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}).SignedString([]byte(testCfg.Secret))
	require.NoError(t, err)

	cases := []struct {
		name  string
		cfg   config.JWTConfig
		token string
		want  error
	}{
		{"expired", testCfg, stale, ErrExpired},
		{"wrong issuer", foreign, good, ErrInvalid},
		{"wrong secret", rotated, good, ErrInvalid},
		{"garbage", testCfg, "not.a.jwt", ErrInvalid},
		{"missing subject", testCfg, noSubject, ErrInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := VerifyAccessToken(tc.cfg, tc.token)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestIssueRejectsBadInput(t *testing.T) {
	_, err := IssueAccessToken(testCfg, time.Now(), uuid.New(), "vendor")
	assert.Error(t, err)
	_, err = IssueAccessToken(testCfg, time.Now(), uuid.Nil, enums.UserRoleBuyer)
	assert.Error(t, err)
	_, err = IssueAccessToken(config.JWTConfig{Secret: "s", Issuer: "i"}, time.Now(), uuid.New(), enums.UserRoleBuyer)
	assert.Error(t, err, "zero lifetime")
}
