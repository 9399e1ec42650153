package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sessionToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u-1",
		"exp": exp.Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestClient_Register(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	var calls int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/auth/register-firebase", r.URL.Path)
		assert.Equal(t, "Bearer id-token-123", r.Header.Get("Authorization"))

		var req RegisterRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "jdelacruz", req.Username)
		assert.Equal(t, "Juan", req.FirstName)
		assert.Equal(t, "Dela Cruz", req.LastName)
		assert.Equal(t, "a@dorsu.edu.ph", req.Email)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"token": sessionToken(t, exp),
			"user": map[string]any{
				"id":       "u-1",
				"role":     "student",
				"username": "jdelacruz",
				"email":    "a@dorsu.edu.ph",
			},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	result, err := client.Register(context.Background(), "id-token-123", RegisterRequest{
		Username:  "jdelacruz",
		FirstName: "Juan",
		LastName:  "Dela Cruz",
		Email:     "a@dorsu.edu.ph",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, "u-1", result.User.ID)
	assert.Equal(t, "student", result.User.Role)
	assert.NotEmpty(t, result.Token)
	require.NotNil(t, result.SessionExpires)
	assert.WithinDuration(t, exp, *result.SessionExpires, time.Second)
}

func TestClient_RegisterFailureNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "username taken"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.Register(context.Background(), "tok", RegisterRequest{Username: "x"})
	require.ErrorIs(t, err, ErrSyncFailed)
	assert.Contains(t, err.Error(), "username taken")
	assert.Equal(t, 1, calls, "registration is non-idempotent and must not be retried")
}

func TestClient_RegisterNetworkError(t *testing.T) {
	client := NewClient("http://127.0.0.1:1")
	_, err := client.Register(context.Background(), "tok", RegisterRequest{})
	require.ErrorIs(t, err, ErrSyncFailed)
}

func TestClient_OpaqueSessionToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"token": "not-a-jwt",
			"user":  map[string]any{"id": "u-2", "role": "student", "username": "x", "email": "x@dorsu.edu.ph"},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	result, err := client.Register(context.Background(), "tok", RegisterRequest{})
	require.NoError(t, err)
	assert.Nil(t, result.SessionExpires)

	if strings.Contains(result.Token, ".") {
		t.Fatal("unexpected token shape")
	}
}
