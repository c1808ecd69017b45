package internal

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	pkgerrs "github.com/radle-project/radle-go/pkg/errors"
	"github.com/radle-project/radle-go/pkg/store"
)

func newTestAuthenticator(t *testing.T, serverURL string) (*Authenticator, store.KeyValue, *store.MemoryCache) {
	t.Helper()
	options := store.NewMemoryKV()
	cache := store.NewMemoryCache()
	auth, err := NewAuthenticator(http.DefaultClient, "client-id", "client-secret",
		"https://blog.example/callback", "test-agent", serverURL, options, cache, testLogger())
	if err != nil {
		t.Fatalf("NewAuthenticator failed: %v", err)
	}
	return auth, options, cache
}

func TestBuildAuthorizationURL(t *testing.T) {
	auth, _, _ := newTestAuthenticator(t, "https://www.reddit.com/")

	authURL, err := auth.BuildAuthorizationURL("")
	if err != nil {
		t.Fatalf("BuildAuthorizationURL failed: %v", err)
	}

	parsed, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("returned URL is unparseable: %v", err)
	}
	if !strings.HasSuffix(parsed.Path, "api/v1/authorize") {
		t.Errorf("unexpected authorize path: %s", parsed.Path)
	}

	q := parsed.Query()
	if got := q.Get("client_id"); got != "client-id" {
		t.Errorf("client_id = %q, want %q", got, "client-id")
	}
	if got := q.Get("response_type"); got != "code" {
		t.Errorf("response_type = %q, want code", got)
	}
	if got := q.Get("duration"); got != "permanent" {
		t.Errorf("duration = %q, want permanent", got)
	}
	if got := q.Get("scope"); got != OAuthScopes {
		t.Errorf("scope = %q, want %q", got, OAuthScopes)
	}

	state := q.Get("state")
	if len(state) != 24 {
		t.Errorf("state length = %d, want 24", len(state))
	}
	for _, r := range state {
		if !strings.ContainsRune("0123456789abcdef", r) {
			t.Errorf("state contains non-hex character %q", r)
		}
	}
}

func TestBuildAuthorizationURLOverlappingStates(t *testing.T) {
	auth, _, _ := newTestAuthenticator(t, "https://www.reddit.com/")

	first, err := auth.BuildAuthorizationURL("")
	if err != nil {
		t.Fatalf("first BuildAuthorizationURL failed: %v", err)
	}
	second, err := auth.BuildAuthorizationURL("")
	if err != nil {
		t.Fatalf("second BuildAuthorizationURL failed: %v", err)
	}

	firstState := mustQueryParam(t, first, "state")
	secondState := mustQueryParam(t, second, "state")
	if firstState == secondState {
		t.Fatal("two authorization URLs reused the same state")
	}
}

func mustQueryParam(t *testing.T, rawURL, key string) string {
	t.Helper()
	parsed, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("failed to parse url: %v", err)
	}
	return parsed.Query().Get(key)
}

func TestHandleCallback(t *testing.T) {
	tests := []struct {
		name        string
		code        string
		state       string
		issueState  bool
		tokenStatus int
		tokenBody   string
		wantCode    pkgerrs.AuthCode
		wantSuccess bool
		wantAccess  string
		wantRefresh string
	}{
		{
			name:        "success persists both tokens",
			code:        "auth-code",
			issueState:  true,
			tokenStatus: http.StatusOK,
			tokenBody:   `{"access_token":"acc-1","refresh_token":"ref-1","token_type":"bearer","expires_in":3600}`,
			wantSuccess: true,
			wantAccess:  "acc-1",
			wantRefresh: "ref-1",
		},
		{
			name:     "missing code",
			code:     "",
			state:    "some-state",
			wantCode: pkgerrs.CodeMissingParameters,
		},
		{
			name:     "missing state",
			code:     "auth-code",
			state:    "",
			wantCode: pkgerrs.CodeMissingParameters,
		},
		{
			name:     "unknown state",
			code:     "auth-code",
			state:    "never-issued",
			wantCode: pkgerrs.CodeInvalidState,
		},
		{
			name:        "token endpoint failure",
			code:        "auth-code",
			issueState:  true,
			tokenStatus: http.StatusUnauthorized,
			tokenBody:   `{"error":"invalid_grant"}`,
			wantCode:    pkgerrs.CodeAuthenticationFailed,
		},
		{
			name:        "response missing refresh token",
			code:        "auth-code",
			issueState:  true,
			tokenStatus: http.StatusOK,
			tokenBody:   `{"access_token":"acc-1"}`,
			wantCode:    pkgerrs.CodeAuthenticationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/v1/access_token" {
					t.Errorf("unexpected path: %s", r.URL.Path)
				}
				if user, pass, ok := r.BasicAuth(); !ok || user != "client-id" || pass != "client-secret" {
					t.Error("token request missing basic auth credentials")
				}
				if err := r.ParseForm(); err == nil {
					if got := r.PostForm.Get("grant_type"); got != "authorization_code" {
						t.Errorf("grant_type = %q, want authorization_code", got)
					}
				}
				w.WriteHeader(tt.tokenStatus)
				w.Write([]byte(tt.tokenBody))
			}))
			defer server.Close()

			auth, options, _ := newTestAuthenticator(t, server.URL)

			state := tt.state
			if tt.issueState {
				authURL, err := auth.BuildAuthorizationURL("")
				if err != nil {
					t.Fatalf("BuildAuthorizationURL failed: %v", err)
				}
				state = mustQueryParam(t, authURL, "state")
			}

			err := auth.HandleCallback(context.Background(), tt.code, state)

			if tt.wantSuccess {
				if err != nil {
					t.Fatalf("HandleCallback failed: %v", err)
				}
				if got, _, _ := options.Get(AccessTokenKey); got != tt.wantAccess {
					t.Errorf("stored access token = %q, want %q", got, tt.wantAccess)
				}
				if got, _, _ := options.Get(RefreshTokenKey); got != tt.wantRefresh {
					t.Errorf("stored refresh token = %q, want %q", got, tt.wantRefresh)
				}
				return
			}

			var authErr *pkgerrs.AuthError
			if !errors.As(err, &authErr) {
				t.Fatalf("expected AuthError, got %v", err)
			}
			if authErr.Code != tt.wantCode {
				t.Errorf("error code = %q, want %q", authErr.Code, tt.wantCode)
			}
		})
	}
}

func TestHandleCallbackStateSingleUse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"acc","refresh_token":"ref"}`))
	}))
	defer server.Close()

	auth, _, _ := newTestAuthenticator(t, server.URL)
	authURL, err := auth.BuildAuthorizationURL("")
	if err != nil {
		t.Fatalf("BuildAuthorizationURL failed: %v", err)
	}
	state := mustQueryParam(t, authURL, "state")

	if err := auth.HandleCallback(context.Background(), "code", state); err != nil {
		t.Fatalf("first callback failed: %v", err)
	}

	err = auth.HandleCallback(context.Background(), "code", state)
	var authErr *pkgerrs.AuthError
	if !errors.As(err, &authErr) || authErr.Code != pkgerrs.CodeInvalidState {
		t.Fatalf("replayed state should be invalid, got %v", err)
	}
}

func TestStateExpires(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"acc","refresh_token":"ref"}`))
	}))
	defer server.Close()

	auth, _, cache := newTestAuthenticator(t, server.URL)

	current := time.Now()
	cache.SetClock(func() time.Time { return current })

	authURL, err := auth.BuildAuthorizationURL("")
	if err != nil {
		t.Fatalf("BuildAuthorizationURL failed: %v", err)
	}
	state := mustQueryParam(t, authURL, "state")

	current = current.Add(11 * time.Minute)

	err = auth.HandleCallback(context.Background(), "code", state)
	var authErr *pkgerrs.AuthError
	if !errors.As(err, &authErr) || authErr.Code != pkgerrs.CodeInvalidState {
		t.Fatalf("expired state should be invalid, got %v", err)
	}
}

func TestRefresh(t *testing.T) {
	t.Run("no refresh token returns false", func(t *testing.T) {
		auth, _, _ := newTestAuthenticator(t, "https://www.reddit.com/")
		if auth.Refresh(context.Background()) {
			t.Error("Refresh should return false with no stored refresh token")
		}
	})

	t.Run("success updates only the access token", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := r.ParseForm(); err == nil {
				if got := r.PostForm.Get("grant_type"); got != "refresh_token" {
					t.Errorf("grant_type = %q, want refresh_token", got)
				}
				if got := r.PostForm.Get("refresh_token"); got != "ref-1" {
					t.Errorf("refresh_token = %q, want ref-1", got)
				}
			}
			w.Write([]byte(`{"access_token":"acc-2"}`))
		}))
		defer server.Close()

		auth, options, _ := newTestAuthenticator(t, server.URL)
		options.Set(AccessTokenKey, "acc-1")
		options.Set(RefreshTokenKey, "ref-1")

		if !auth.Refresh(context.Background()) {
			t.Fatal("Refresh should succeed")
		}
		if got, _, _ := options.Get(AccessTokenKey); got != "acc-2" {
			t.Errorf("access token = %q, want acc-2", got)
		}
		if got, _, _ := options.Get(RefreshTokenKey); got != "ref-1" {
			t.Errorf("refresh token = %q, want ref-1 (must not rotate)", got)
		}
	})

	t.Run("endpoint failure reports false and keeps old token", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
		}))
		defer server.Close()

		auth, options, _ := newTestAuthenticator(t, server.URL)
		options.Set(AccessTokenKey, "acc-1")
		options.Set(RefreshTokenKey, "ref-1")

		if auth.Refresh(context.Background()) {
			t.Fatal("Refresh should report false on endpoint failure")
		}
		if got, _, _ := options.Get(AccessTokenKey); got != "acc-1" {
			t.Errorf("access token = %q, want untouched acc-1", got)
		}
	})

	t.Run("observer sees the outcome", func(t *testing.T) {
		auth, _, _ := newTestAuthenticator(t, "https://www.reddit.com/")
		var observed []bool
		auth.SetRefreshObserver(func(ok bool) { observed = append(observed, ok) })

		auth.Refresh(context.Background())
		if len(observed) != 1 || observed[0] {
			t.Errorf("observer calls = %v, want [false]", observed)
		}
	})
}

func TestReset(t *testing.T) {
	auth, options, _ := newTestAuthenticator(t, "https://www.reddit.com/")
	options.Set(AccessTokenKey, "acc")
	options.Set(RefreshTokenKey, "ref")

	if err := auth.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if _, ok, _ := options.Get(AccessTokenKey); ok {
		t.Error("access token should be deleted")
	}
	if _, ok, _ := options.Get(RefreshTokenKey); ok {
		t.Error("refresh token should be deleted")
	}
	if auth.Token() != "" {
		t.Error("Token should be empty after Reset")
	}
}
