package panel

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name:    "missing url",
			config:  Config{Token: "key"},
			wantErr: "url is required",
		},
		{
			name:    "missing token",
			config:  Config{URL: "https://panel.example.com"},
			wantErr: "token is required",
		},
		{
			name:   "valid config",
			config: Config{URL: "https://panel.example.com/", Token: "key"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.config)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, client)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, client)
			}
		})
	}
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{URL: server.URL, Token: "test-key"})
	require.NoError(t, err)
	client.httpClient = server.Client()
	return client
}

func userListBody(accountID int64, email string, total int) string {
	return fmt.Sprintf(`{
		"data": [{"attributes": {"id": %d, "email": %q}}],
		"meta": {"pagination": {"total": %d}}
	}`, accountID, email, total)
}

func userDetailBody(serviceIDs ...int64) string {
	servers := ""
	for i, id := range serviceIDs {
		if i > 0 {
			servers += ","
		}
		servers += fmt.Sprintf(`{"attributes": {"id": %d}}`, id)
	}
	return fmt.Sprintf(`{
		"attributes": {"relationships": {"servers": {"data": [%s]}}}
	}`, servers)
}

func TestFindAccountByEmail(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/application/users", r.URL.Path)
		assert.Equal(t, "user@example.com", r.URL.Query().Get("filter[email]"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, acceptHeader, r.Header.Get("Accept"))

		_, _ = w.Write([]byte(userListBody(7, "user@example.com", 1)))
	}))

	account, err := client.FindAccountByEmail(context.Background(), "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(7), account.ID)
	assert.Equal(t, "user@example.com", account.Email)
}

func TestFindAccountByEmail_NotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// The filter endpoint answers 200 with an empty page.
		_, _ = w.Write([]byte(`{"data": [], "meta": {"pagination": {"total": 0}}}`))
	}))

	_, err := client.FindAccountByEmail(context.Background(), "nobody@example.com")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestListServices(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/application/users/7", r.URL.Path)
		assert.Equal(t, "servers", r.URL.Query().Get("include"))

		_, _ = w.Write([]byte(userDetailBody(11, 12)))
	}))

	services, err := client.ListServices(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, []int64{11, 12}, services)
}

func TestSuspendAllByEmail(t *testing.T) {
	var mu sync.Mutex
	var suspended []string

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/application/users":
			_, _ = w.Write([]byte(userListBody(7, "user@example.com", 1)))
		case r.URL.Path == "/api/application/users/7":
			_, _ = w.Write([]byte(userDetailBody(11, 12)))
		default:
			mu.Lock()
			suspended = append(suspended, r.URL.Path)
			mu.Unlock()
			assert.Equal(t, http.MethodPost, r.Method)
			w.WriteHeader(http.StatusNoContent)
		}
	}))

	err := client.SuspendAllByEmail(context.Background(), "user@example.com")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		"/api/application/servers/11/suspend",
		"/api/application/servers/12/suspend",
	}, suspended)
}

func TestUnsuspendAllByEmail_PartialFailure(t *testing.T) {
	var mu sync.Mutex
	var called []string

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/application/users":
			_, _ = w.Write([]byte(userListBody(7, "user@example.com", 1)))
		case "/api/application/users/7":
			_, _ = w.Write([]byte(userDetailBody(11, 12)))
		case "/api/application/servers/11/unsuspend":
			mu.Lock()
			called = append(called, r.URL.Path)
			mu.Unlock()
			w.WriteHeader(http.StatusInternalServerError)
		default:
			mu.Lock()
			called = append(called, r.URL.Path)
			mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		}
	}))

	err := client.UnsuspendAllByEmail(context.Background(), "user@example.com")
	require.Error(t, err)

	var retryErr *RetryableError
	assert.ErrorAs(t, err, &retryErr)

	// One service failing must not keep the other from being called.
	assert.ElementsMatch(t, []string{
		"/api/application/servers/11/unsuspend",
		"/api/application/servers/12/unsuspend",
	}, called)
}

func TestSuspendAllByEmail_NoServices(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/application/users":
			_, _ = w.Write([]byte(userListBody(7, "user@example.com", 1)))
		default:
			_, _ = w.Write([]byte(userDetailBody()))
		}
	}))

	err := client.SuspendAllByEmail(context.Background(), "user@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no services found")
}

func TestSuspend_InvalidKey(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	err := client.Suspend(context.Background(), 11)
	require.Error(t, err)

	var permErr *PermanentError
	require.ErrorAs(t, err, &permErr)
	assert.Equal(t, http.StatusForbidden, permErr.Code)
	assert.False(t, permErr.IsRetryable())
}

func TestSuspend_AcceptsOK(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	assert.NoError(t, client.Suspend(context.Background(), 11))
}
