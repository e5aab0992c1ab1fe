package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hubtrack/internal/domain"
)

var ada = domain.Principal{UID: "u-ada", DisplayName: "Ada", Email: "ada@example.com"}

func TestHMACRoundTrip(t *testing.T) {
	secret := []byte("dev-secret")
	token, err := MintDevToken(secret, "hubtrack-dev", ada, time.Hour, time.Now())
	require.NoError(t, err)

	p, err := HMACVerifier{Secret: secret, Issuer: "hubtrack-dev"}.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, ada, p)

	_, err = HMACVerifier{Secret: []byte("other")}.Verify(context.Background(), token)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = HMACVerifier{Secret: secret, Issuer: "someone-else"}.Verify(context.Background(), token)
	require.ErrorIs(t, err, ErrInvalidToken)

	expired, err := MintDevToken(secret, "", ada, time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	_, err = HMACVerifier{Secret: secret}.Verify(context.Background(), expired)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = MintDevToken(secret, "", domain.Principal{}, time.Hour, time.Now())
	require.Error(t, err)
}

func TestJWKSVerifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	set := map[string]any{"keys": []map[string]string{{
		"kty": "RSA",
		"kid": "k1",
		"alg": "RS256",
		"use": "sig",
		"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}}}
	raw, err := json.Marshal(set)
	require.NoError(t, err)
	keys, err := keyfunc.NewJWKSetJSON(raw)
	require.NoError(t, err)

	issuer := "https://securetoken.google.com/hub-project"
	v := NewJWKSVerifierWithKeys(keys, issuer, "hub-project")

	sign := func(iss, aud string) string {
		claims := Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   ada.UID,
				Issuer:    iss,
				Audience:  jwt.ClaimStrings{aud},
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
			Name:  ada.DisplayName,
			Email: ada.Email,
		}
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		tok.Header["kid"] = "k1"
		s, err := tok.SignedString(key)
		require.NoError(t, err)
		return s
	}

	p, err := v.Verify(context.Background(), sign(issuer, "hub-project"))
	require.NoError(t, err)
	assert.Equal(t, ada, p)

	_, err = v.Verify(context.Background(), sign(issuer, "other-project"))
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify(context.Background(), sign("https://evil.example", "hub-project"))
	require.ErrorIs(t, err, ErrInvalidToken)

	// an HS256 token must not pass the RS256 verifier
	dev, err := MintDevToken([]byte("dev"), issuer, ada, time.Hour, time.Now())
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), dev)
	require.Error(t, err)

	chain := Chain{HMACVerifier{Secret: []byte("dev")}, v}
	p, err = chain.Verify(context.Background(), dev)
	require.NoError(t, err)
	assert.Equal(t, ada.UID, p.UID)
	p, err = chain.Verify(context.Background(), sign(issuer, "hub-project"))
	require.NoError(t, err)
	assert.Equal(t, ada.UID, p.UID)
}

func TestSessionAuthStateChanges(t *testing.T) {
	var s Session
	var seen []string
	record := func(p *domain.Principal) {
		if p == nil {
			seen = append(seen, "signed-out")
			return
		}
		seen = append(seen, p.UID)
	}

	unsubscribe := s.OnAuthStateChange(record)
	s.Set(&ada)
	s.Set(&ada)
	cur, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, ada, cur)
	s.Set(nil)
	unsubscribe()
	s.Set(&ada)

	assert.Equal(t, []string{"signed-out", "u-ada", "signed-out"}, seen)
}

func TestTokenProvider(t *testing.T) {
	secret := []byte("dev-secret")
	token, err := MintDevToken(secret, "", ada, time.Hour, time.Now())
	require.NoError(t, err)

	session := &Session{}
	provider := &TokenProvider{Verifier: HMACVerifier{Secret: secret}, Token: StaticToken(token), Session: session}

	p, err := provider.SignIn(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Ada", p.DisplayLabel())
	_, ok := session.Current()
	assert.True(t, ok)

	require.NoError(t, provider.SignOut(context.Background()))
	_, ok = session.Current()
	assert.False(t, ok)

	_, err = (&TokenProvider{Verifier: HMACVerifier{Secret: secret}, Token: StaticToken("")}).SignIn(context.Background())
	require.Error(t, err)
}
