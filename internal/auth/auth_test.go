package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type failureCounter struct{ reasons []string }

func (f *failureCounter) IncAuthFailures(reason string) { f.reasons = append(f.reasons, reason) }

func TestValidateToken(t *testing.T) {
	v := NewJWTValidator(testSecret)

	token, err := v.IssueToken("op-1", "ops@cdex.io", RoleOperator, time.Hour)
	require.NoError(t, err)

	claims, err := v.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "op-1", claims.GetUserID())
	assert.Equal(t, "ops@cdex.io", claims.Email)
	assert.Equal(t, RoleOperator, claims.Role)
	assert.True(t, claims.HasRole(RoleViewer))
	assert.False(t, claims.HasRole(RoleAdmin))
}

func TestValidateToken_Rejects(t *testing.T) {
	v := NewJWTValidator(testSecret)

	expired, err := v.IssueToken("op-1", "", RoleOperator, -time.Minute)
	require.NoError(t, err)
	_, err = v.ValidateToken(expired)
	assert.ErrorIs(t, err, ErrExpiredToken)

	foreign, err := NewJWTValidator("other").IssueToken("op-1", "", RoleOperator, time.Hour)
	require.NoError(t, err)
	_, err = v.ValidateToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.ValidateToken("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	anonymous, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = v.ValidateToken(anonymous)
	assert.ErrorIs(t, err, ErrInvalidClaims)
}

func TestMiddleware(t *testing.T) {
	v := NewJWTValidator(testSecret)
	counter := &failureCounter{}

	var seen *Claims
	handler := Middleware(v, counter, zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetUserFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	token, err := v.IssueToken("op-1", "", RoleOperator, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/winners", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "op-1", seen.Sub)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/winners", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/winners?token="+token, nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/winners", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Equal(t, []string{"missing_token", "missing_token", "invalid_token"}, counter.reasons)
}

func TestRequireRole(t *testing.T) {
	v := NewJWTValidator(testSecret)
	handler := Middleware(v, nil, zerolog.Nop())(RequireRole(RoleOperator, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	for _, tc := range []struct {
		role int
		want int
	}{
		{RoleViewer, http.StatusForbidden},
		{RoleOperator, http.StatusOK},
		{RoleAdmin, http.StatusOK},
	} {
		token, err := v.IssueToken("u", "", tc.role, time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPut, "/v1/challenges/e/c", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, tc.want, rec.Code, "role %d", tc.role)
	}
}
