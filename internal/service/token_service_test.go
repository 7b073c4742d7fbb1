package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hostel-allocation-api/internal/models"
	appErrors "github.com/noah-isme/hostel-allocation-api/pkg/errors"
)

func signToken(t *testing.T, secret string, claims *models.JWTClaims, method jwt.SigningMethod) string {
	t.Helper()
	token := jwt.NewWithClaims(method, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func adminClaims(issuer string, expiresIn time.Duration) *models.JWTClaims {
	now := time.Now().UTC()
	return &models.JWTClaims{
		UserID: "admin-1",
		Role:   models.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
}

func TestTokenServiceValidateToken(t *testing.T) {
	svc := NewTokenService(TokenConfig{Secret: "secret", Issuer: "identity"})

	claims, err := svc.ValidateToken(signToken(t, "secret", adminClaims("identity", time.Hour), jwt.SigningMethodHS256))
	require.NoError(t, err)
	assert.Equal(t, "admin-1", claims.UserID)
	assert.Equal(t, models.RoleAdmin, claims.Role)
}

func TestTokenServiceRejectsInvalidTokens(t *testing.T) {
	svc := NewTokenService(TokenConfig{Secret: "secret", Issuer: "identity"})

	cases := map[string]string{
		"wrong secret":  signToken(t, "other", adminClaims("identity", time.Hour), jwt.SigningMethodHS256),
		"expired":       signToken(t, "secret", adminClaims("identity", -time.Minute), jwt.SigningMethodHS256),
		"wrong issuer":  signToken(t, "secret", adminClaims("someone-else", time.Hour), jwt.SigningMethodHS256),
		"wrong method":  signToken(t, "secret", adminClaims("identity", time.Hour), jwt.SigningMethodHS512),
		"garbage input": "not-a-token",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ValidateToken(token)
			require.Error(t, err)
			assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
		})
	}
}
