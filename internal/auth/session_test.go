package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, c claims, secret []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestFromToken(t *testing.T) {
	tokenStr := signToken(t, claims{
		Username: "ada",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, testSecret)

	sess, err := FromToken(tokenStr, testSecret)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.UserID != "u-1" || sess.Username != "ada" {
		t.Errorf("session = %+v", sess)
	}
	if !sess.Authenticated() {
		t.Error("expected authenticated session")
	}
}

func TestFromTokenRejectsWrongSecret(t *testing.T) {
	tokenStr := signToken(t, claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u-1"},
	}, []byte("other-secret"))

	if _, err := FromToken(tokenStr, testSecret); err == nil {
		t.Error("expected signature verification to fail")
	}
}

func TestFromTokenRejectsExpired(t *testing.T) {
	tokenStr := signToken(t, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}, testSecret)

	if _, err := FromToken(tokenStr, testSecret); err == nil {
		t.Error("expected expired token to fail")
	}
}

func TestFromTokenRequiresSubject(t *testing.T) {
	tokenStr := signToken(t, claims{Username: "ada"}, testSecret)

	if _, err := FromToken(tokenStr, testSecret); err == nil {
		t.Error("expected token without subject to fail")
	}
}

func TestGuestSessionNotAuthenticated(t *testing.T) {
	if GuestSession().Authenticated() {
		t.Error("guest must not be authenticated")
	}
	var nilSess *Session
	if nilSess.Authenticated() {
		t.Error("nil session must not be authenticated")
	}
}

func TestManagerReplacesWholesale(t *testing.T) {
	m := NewManager(nil)
	if m.Current().Authenticated() {
		t.Fatal("expected guest start")
	}

	m.SignIn(&Session{UserID: "u-1", Username: "ada"})
	if got := m.Current(); !got.Authenticated() || got.UserID != "u-1" {
		t.Errorf("after sign-in: %+v", got)
	}

	m.SignOut()
	if m.Current().Authenticated() {
		t.Error("expected guest after sign-out")
	}
}
