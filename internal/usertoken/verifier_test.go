package usertoken

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

func TestNewVerifierRequiresSecretOrJWKSURL(t *testing.T) {
	if _, err := NewVerifier(Config{}); err == nil {
		t.Fatalf("expected missing secret and jwks url to fail")
	}
}

func TestSecretVerifyUserReadsProfileClaims(t *testing.T) {
	v, err := NewVerifier(Config{Secret: "shh", Issuer: "https://auth.example.com/auth/v1"})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: validRegistered("user-1", "https://auth.example.com/auth/v1", "authenticated"),
		Email:            "ada@example.com",
		UserMetadata:     UserMetadata{FullName: "Ada Lovelace", Picture: "https://img.example.com/ada.png"},
	})
	signed, err := token.SignedString([]byte("shh"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	user, err := v.VerifyUser(signed)
	if err != nil {
		t.Fatalf("verify user: %v", err)
	}
	if user.ID != "user-1" || user.Email != "ada@example.com" || user.FullName != "Ada Lovelace" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if user.AvatarURL != "https://img.example.com/ada.png" {
		t.Fatalf("avatar should fall back to picture, got %q", user.AvatarURL)
	}
}

func TestSecretVerifyRejectsWrongSecretAndAudience(t *testing.T) {
	v, err := NewVerifier(Config{Secret: "shh"})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	wrongKey, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: validRegistered("user-1", "", "authenticated"),
	}).SignedString([]byte("other"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := v.VerifyUser(wrongKey); err == nil {
		t.Fatalf("expected wrong secret to fail")
	}

	wrongAud, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: validRegistered("user-1", "", "anon"),
	}).SignedString([]byte("shh"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := v.VerifyUser(wrongAud); err == nil {
		t.Fatalf("expected wrong audience to fail")
	}
}

func TestSecretVerifyRequiresExpiry(t *testing.T) {
	v, err := NewVerifier(Config{Secret: "shh"})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	claims := validRegistered("user-1", "", "authenticated")
	claims.ExpiresAt = nil
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: claims}).SignedString([]byte("shh"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := v.VerifyUser(signed); err == nil {
		t.Fatalf("expected token without exp to fail")
	}
}

func TestJWKSVerifyUserAndRefreshOnUnknownKid(t *testing.T) {
	key1, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key1: %v", err)
	}
	key2, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key2: %v", err)
	}

	active := "kid-1"
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=1")
		pub := key1.PublicKey
		if active == "kid-2" {
			pub = key2.PublicKey
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{toJWK(active, pub)}})
	}))
	defer jwksServer.Close()

	v, err := NewVerifier(Config{JWKSURL: jwksServer.URL, Issuer: "issuer-a", Audience: "aud-a"})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	if user, err := v.VerifyUser(signRS256(t, key1, "kid-1", "user-a")); err != nil || user.ID != "user-a" {
		t.Fatalf("verify token1 failed: user=%+v err=%v", user, err)
	}

	// The provider rotated its key; an unknown kid forces a JWKS refresh.
	active = "kid-2"
	if user, err := v.VerifyUser(signRS256(t, key2, "kid-2", "user-b")); err != nil || user.ID != "user-b" {
		t.Fatalf("verify token2 failed: user=%+v err=%v", user, err)
	}
}

func TestParseCacheMaxAge(t *testing.T) {
	if got := parseCacheMaxAge("public, max-age=120"); got != 120*time.Second {
		t.Fatalf("max-age = %v", got)
	}
	for _, header := range []string{"no-store", "max-age=abc", ""} {
		if got := parseCacheMaxAge(header); got != 0 {
			t.Fatalf("parseCacheMaxAge(%q) = %v, want 0", header, got)
		}
	}
}

func validRegistered(subject, issuer, audience string) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    issuer,
		Audience:  jwt.ClaimStrings{audience},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		NotBefore: jwt.NewNumericDate(time.Now().Add(-time.Second)),
	}
}

func signRS256(t *testing.T, key *rsa.PrivateKey, kid, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, Claims{
		RegisteredClaims: validRegistered(subject, "issuer-a", "aud-a"),
	})
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func toJWK(kid string, key rsa.PublicKey) map[string]string {
	return map[string]string{
		"kty": "RSA",
		"kid": kid,
		"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}
}

func TestParseRSAPublicKeyRejectsBadExponent(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwk := toJWK("kid", key.PublicKey)
	if _, err := parseRSAPublicKey(jwk["n"], jwk["e"]); err != nil {
		t.Fatalf("valid key rejected: %v", err)
	}
	if _, err := parseRSAPublicKey(jwk["n"], base64.RawURLEncoding.EncodeToString([]byte{1})); err == nil {
		t.Fatalf("expected exponent 1 to be rejected")
	}
}
