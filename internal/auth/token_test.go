package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssuer_IssueAndVerify(t *testing.T) {
	issuer := NewIssuer([]byte("super-secret"), "cloudjade")

	token, err := issuer.Issue(Claims{AccountID: "id-1", Username: "alice"}, time.Now().Add(time.Hour))
	require.NoError(t, err)

	claims, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "id-1", claims.AccountID)
	assert.Equal(t, "alice", claims.Username)
}

func TestIssuer_DistinctClaimsDistinctTokens(t *testing.T) {
	issuer := NewIssuer([]byte("super-secret"), "cloudjade")
	exp := time.Now().Add(time.Hour)

	a, err := issuer.Issue(Claims{AccountID: "id-1", Username: "alice"}, exp)
	require.NoError(t, err)
	b, err := issuer.Issue(Claims{AccountID: "id-2", Username: "bobby"}, exp)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestIssuer_ExpiryBoundary(t *testing.T) {
	expiry := time.Unix(1_790_000_000, 0)
	issuer := NewIssuer([]byte("secret"), "cloudjade").WithClock(func() time.Time { return expiry.Add(-time.Hour) })

	token, err := issuer.Issue(Claims{AccountID: "id-1", Username: "alice"}, expiry)
	require.NoError(t, err)

	_, err = issuer.WithClock(func() time.Time { return expiry.Add(-time.Second) }).Verify(token)
	assert.NoError(t, err)

	_, err = issuer.WithClock(func() time.Time { return expiry.Add(time.Second) }).Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestIssuer_WrongSecret(t *testing.T) {
	token, err := NewIssuer([]byte("right-secret"), "cloudjade").Issue(Claims{AccountID: "id", Username: "alice"}, time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = NewIssuer([]byte("wrong-secret"), "cloudjade").Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssuer_WrongIssuer(t *testing.T) {
	secret := []byte("secret")
	token, err := NewIssuer(secret, "someone-else").Issue(Claims{AccountID: "id", Username: "alice"}, time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = NewIssuer(secret, "cloudjade").Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssuer_RejectsOtherAlgorithms(t *testing.T) {
	secret := []byte("secret")
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "cloudjade",
			Subject:   "id",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Username: "alice",
	})
	signed, err := token.SignedString(secret)
	require.NoError(t, err)

	_, err = NewIssuer(secret, "cloudjade").Verify(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, sessionClaims{Username: "alice"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = NewIssuer(secret, "cloudjade").Verify(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssuer_RequiresExpiry(t *testing.T) {
	secret := []byte("secret")
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "cloudjade", Subject: "id"},
		Username:         "alice",
	}).SignedString(secret)
	require.NoError(t, err)

	_, err = NewIssuer(secret, "cloudjade").Verify(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssuer_Garbage(t *testing.T) {
	_, err := NewIssuer([]byte("secret"), "cloudjade").Verify("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
