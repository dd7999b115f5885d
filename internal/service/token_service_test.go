package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "test-jwt-secret-key-for-unit-tests"

func TestJWTTokenService_RoundTrip(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, 8*time.Hour, "donation-gateway")

	token, expiresAt, err := svc.Generate("ops", operatorRole)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(8*time.Hour), expiresAt, 5*time.Second)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, operatorRole, claims.Role)
}

func TestJWTTokenService_Rejects(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, time.Hour, "donation-gateway")
	valid, _, err := svc.Generate("ops", operatorRole)
	require.NoError(t, err)

	expired, _, err := NewJWTTokenService(testJWTSecret, -time.Hour, "donation-gateway").Generate("ops", operatorRole)
	require.NoError(t, err)
	otherSecret, _, err := NewJWTTokenService("another-secret", time.Hour, "donation-gateway").Generate("ops", operatorRole)
	require.NoError(t, err)
	otherIssuer, _, err := NewJWTTokenService(testJWTSecret, time.Hour, "someone-else").Generate("ops", operatorRole)
	require.NoError(t, err)
	noSubject, _, err := svc.Generate("", operatorRole)
	require.NoError(t, err)

	wrongAudience, err := jwt.NewWithClaims(jwt.SigningMethodHS256, operatorClaims{
		Role: operatorRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops",
			Issuer:    "donation-gateway",
			Audience:  jwt.ClaimStrings{"donor-portal"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, operatorClaims{
		Role: operatorRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops",
			Issuer:    "donation-gateway",
			Audience:  jwt.ClaimStrings{operatorAudience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)

	tests := map[string]string{
		"expired":        expired,
		"other secret":   otherSecret,
		"other issuer":   otherIssuer,
		"no subject":     noSubject,
		"wrong audience": wrongAudience,
		"hs512":          hs512,
		"garbage":        "not.a.jwt",
		"empty":          "",
		"truncated":      valid[:len(valid)-4],
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Validate(token)
			assert.Error(t, err)
		})
	}
}

func TestJWTTokenService_NotYetValid(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, time.Hour, "donation-gateway")
	svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	token, _, err := svc.Generate("ops", operatorRole)
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.Validate(token)
	assert.Error(t, err)
}
