package verifyflow_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dorsuconnect/verifysync/pkg/artifacts"
	"github.com/dorsuconnect/verifysync/pkg/backend"
	"github.com/dorsuconnect/verifysync/pkg/lifecycle"
	"github.com/dorsuconnect/verifysync/pkg/poller"
	"github.com/dorsuconnect/verifysync/pkg/provider/devauth"
	"github.com/dorsuconnect/verifysync/pkg/verifyflow"
)

type linkBox struct {
	mu   sync.Mutex
	link string
}

func (b *linkBox) SendVerification(to, schemeLink, httpsLink string) error {
	b.mu.Lock()
	b.link = schemeLink
	b.mu.Unlock()
	return nil
}

func (b *linkBox) take() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.link
}

// Full loop against real components: dev provider, file-backed artifacts,
// and the registration client talking to an HTTP backend. Only the email
// transport is faked.
func TestEndToEnd_SignupClickAndRegister(t *testing.T) {
	ctx := context.Background()
	signingKey := []byte("e2e-secret")

	box := &linkBox{}
	idp := devauth.NewService(
		devauth.WithMailer(box),
		devauth.WithSigningKey(signingKey),
	)

	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/auth/register-firebase", r.URL.Path)

		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		claims := jwt.MapClaims{}
		_, err := jwt.NewParser().ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
			return signingKey, nil
		})
		require.NoError(t, err)
		require.Equal(t, true, claims["email_verified"])

		var body struct {
			Username  string `json:"username"`
			FirstName string `json:"firstName"`
			LastName  string `json:"lastName"`
			Email     string `json:"email"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "juan", body.Username)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token": "session-token",
			"user": map[string]string{
				"id":       "u-1",
				"role":     "student",
				"username": body.Username,
				"email":    body.Email,
			},
		})
	}))
	defer backendSrv.Close()

	store, err := artifacts.NewFileStore(t.TempDir())
	require.NoError(t, err)

	o := verifyflow.NewOrchestrator(idp, backend.NewClient(backendSrv.URL), store,
		verifyflow.WithPollerOptions(poller.WithInterval(5*time.Millisecond)),
		verifyflow.WithWatcherOptions(lifecycle.WithFollowUps(5*time.Millisecond)),
	)

	require.NoError(t, o.Begin(ctx, verifyflow.BeginRequest{
		Email:     "juan@dorsu.edu.ph",
		Secret:    "hunter2hunter2",
		FirstName: "Juan",
		LastName:  "Dela Cruz",
	}))
	require.Equal(t, verifyflow.StatusPending, o.Snapshot().Status)

	// The user clicks the emailed link on this device.
	link := box.take()
	require.NotEmpty(t, link)
	require.NoError(t, o.HandleDeepLink(ctx, link))

	require.Eventually(t, func() bool {
		return o.Snapshot().Status == verifyflow.StatusDone
	}, 2*time.Second, 5*time.Millisecond)

	session, ok := o.Session()
	require.True(t, ok)
	assert.Equal(t, "session-token", session.Token)
	assert.Equal(t, "juan", session.User.Username)

	// Hand-off artifacts are cleaned up once the flow lands.
	for _, key := range []string{
		artifacts.KeyPendingVerificationCode,
		artifacts.KeyEmailVerifiedViaDeepLink,
		artifacts.KeyVerificationError,
	} {
		_, present, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, present, key)
	}
}
