package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func useSecret(t *testing.T, secret string) {
	t.Helper()
	SetSecret(secret)
	t.Cleanup(func() { SetSecret("") })
}

func TestIssueAndValidateToken(t *testing.T) {
	useSecret(t, "test-secret")

	token, err := IssueToken("operator", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	claims, err := ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Subject != "operator" || claims.Issuer != issuer {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestValidateTokenRejects(t *testing.T) {
	useSecret(t, "test-secret")

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   "operator",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}

	otherKey, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatal(err)
	}

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer: issuer,
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}

	tests := map[string]string{
		"garbage":   "not-a-token",
		"expired":   expired,
		"wrong key": otherKey,
		"no expiry": noExpiry,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("ValidateToken error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestIssueTokenWithoutSecret(t *testing.T) {
	t.Setenv(secretEnv, "")
	SetSecret("")

	if _, err := IssueToken("operator", 0); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("IssueToken error = %v, want ErrMissingSecret", err)
	}
}

func TestSecretFromEnvironment(t *testing.T) {
	t.Setenv(secretEnv, "env-secret")
	SetSecret("")

	token, err := IssueToken("operator", 0)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := ValidateToken(token); err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
}

func TestRequireAuth(t *testing.T) {
	useSecret(t, "test-secret")
	token, err := IssueToken("operator", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	var subject string
	handler := RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, _ = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"empty bearer", "Bearer ", http.StatusUnauthorized},
		{"invalid token", "Bearer abc.def.ghi", http.StatusUnauthorized},
		{"valid token", "Bearer " + token, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/subscriptions", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}

	if subject != "operator" {
		t.Fatalf("subject = %q, want operator", subject)
	}
}
