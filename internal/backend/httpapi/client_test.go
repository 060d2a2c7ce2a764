package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"youth-mis/internal/apperr"
	"youth-mis/internal/auth"
	"youth-mis/internal/backend/backendtest"
	"youth-mis/internal/core"
	"youth-mis/internal/model"
	"youth-mis/internal/server"
	"youth-mis/internal/store"
)

const publicKey = "pk-test"

func newServer(t *testing.T) (*httptest.Server, *core.Core) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	c, err := core.New(context.Background(), core.Options{
		Tables: store.NewMemory(),
		Tokens: auth.TokenConfig{Secret: "secret", Expiry: time.Hour},
	})
	require.NoError(t, err)
	srv := httptest.NewServer(server.NewRouter(server.Deps{Core: c, PublicKey: publicKey, AuthRateLimit: 1000}))
	t.Cleanup(func() {
		srv.Close()
		c.Close()
	})
	return srv, c
}

func TestRemoteBackend(t *testing.T) {
	srv, c := newServer(t)
	client, err := New(Config{BaseURL: srv.URL, PublicKey: publicKey, Timeout: 5 * time.Second})
	require.NoError(t, err)

	backendtest.Run(t, client.Backend(), func(t *testing.T, userID string, role model.Role) {
		_, err := c.Tables.Update(context.Background(), model.TableProfiles, userID, model.Row{"role": string(role)})
		require.NoError(t, err)
	})
}

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := New(Config{BaseURL: "ftp://example.com"})
	assert.Error(t, err)
}

func TestWrongPublicKey(t *testing.T) {
	srv, _ := newServer(t)
	client, err := New(Config{BaseURL: srv.URL, PublicKey: "nope"})
	require.NoError(t, err)
	_, err = client.SignIn(context.Background(), "a@example.com", "whatever1")
	assert.ErrorIs(t, err, apperr.Auth)
}

func TestTimeoutAndNetworkErrors(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	client, err := New(Config{BaseURL: slow.URL, PublicKey: publicKey, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	_, err = client.Select(context.Background(), "tok", model.Query{Table: "students"})
	assert.ErrorIs(t, err, apperr.Timeout)
	assert.True(t, apperr.Retryable(err))

	down := httptest.NewServer(http.NotFoundHandler())
	url := down.URL
	down.Close()
	client, err = New(Config{BaseURL: url, PublicKey: publicKey, Timeout: time.Second})
	require.NoError(t, err)
	_, err = client.Select(context.Background(), "tok", model.Query{Table: "students"})
	assert.ErrorIs(t, err, apperr.Network)
}

func TestServerErrorsMapByStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	client, err := New(Config{BaseURL: srv.URL, PublicKey: publicKey})
	require.NoError(t, err)
	_, err = client.GetUser(context.Background(), "tok")
	assert.ErrorIs(t, err, apperr.Network)
}

func TestQueryValues(t *testing.T) {
	v := QueryValues(model.Query{
		Table:  "students",
		Eq:     map[string]any{"status": "active", "age": 12},
		Order:  "full_name",
		Desc:   true,
		Limit:  10,
		Offset: 20,
		Joins:  []model.Join{{Table: "programs", On: "program_id"}},
	})
	assert.Equal(t, "age=eq.12&join=programs%3Aprogram_id&limit=10&offset=20&order=full_name.desc&status=eq.active", v.Encode())
}

func TestQueryValuesWritesLargeNumbersInDecimal(t *testing.T) {
	v := QueryValues(model.Query{Table: "inventory", Eq: map[string]any{"quantity": float64(1000000), "unit_price": 2.5}})
	assert.Equal(t, "eq.1000000", v.Get("quantity"))
	assert.Equal(t, "eq.2.5", v.Get("unit_price"))
}
