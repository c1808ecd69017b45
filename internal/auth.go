package internal

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	pkgerrs "github.com/radle-project/radle-go/pkg/errors"
	"github.com/radle-project/radle-go/pkg/store"
)

const (
	defaultTokenEndpointPath = "api/v1/access_token"
	authorizeEndpointPath    = "api/v1/authorize"

	// OAuthScopes are requested on every authorization. modconfig covers the
	// moderator listing used by the comment pipeline.
	OAuthScopes = "identity edit submit read modconfig mysubreddits"

	stateTTL       = 10 * time.Minute
	stateKeyPrefix = "radle_oauth_state:"

	// Option-store keys for the single site-wide Reddit account.
	AccessTokenKey  = "radle_raw_access_token"
	RefreshTokenKey = "radle_raw_refresh_token"
)

// Authenticator owns the OAuth token lifecycle: building the authorization
// URL, exchanging the callback code, refreshing access tokens, and resetting
// credentials. Tokens live in the option store; CSRF state lives in the
// expiring cache.
type Authenticator struct {
	client       *http.Client
	clientID     string
	clientSecret string
	redirectURI  string
	userAgent    string
	authorizeURL *url.URL
	tokenURL     *url.URL

	options store.KeyValue
	cache   store.Cache
	logger  *slog.Logger

	// onRefresh, when set, observes each refresh outcome (metrics hook).
	onRefresh func(ok bool)

	// refreshMu single-flights concurrent refreshes so a burst of expired
	// requests doesn't turn into a refresh storm against the token endpoint.
	refreshMu sync.Mutex
}

// NewAuthenticator creates an authenticator against authBaseURL (normally
// https://www.reddit.com/).
func NewAuthenticator(httpClient *http.Client, clientID, clientSecret, redirectURI, userAgent, authBaseURL string, options store.KeyValue, cache store.Cache, logger *slog.Logger) (*Authenticator, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}

	parsedURL, err := url.Parse(authBaseURL)
	if err != nil {
		return nil, &pkgerrs.ConfigError{Field: "AuthURL", Message: fmt.Sprintf("failed to parse auth base URL: %v", err)}
	}
	if !strings.HasSuffix(parsedURL.Path, "/") {
		parsedURL.Path += "/"
	}

	authorizeURL, err := parsedURL.Parse(authorizeEndpointPath)
	if err != nil {
		return nil, &pkgerrs.ConfigError{Field: "AuthURL", Message: fmt.Sprintf("failed to resolve authorize endpoint: %v", err)}
	}
	tokenURL, err := parsedURL.Parse(defaultTokenEndpointPath)
	if err != nil {
		return nil, &pkgerrs.ConfigError{Field: "AuthURL", Message: fmt.Sprintf("failed to resolve token endpoint: %v", err)}
	}

	return &Authenticator{
		client:       httpClient,
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURI:  redirectURI,
		userAgent:    userAgent,
		authorizeURL: authorizeURL,
		tokenURL:     tokenURL,
		options:      options,
		cache:        cache,
		logger:       logger,
	}, nil
}

// SetRefreshObserver registers a callback invoked after each refresh attempt.
func (a *Authenticator) SetRefreshObserver(fn func(ok bool)) {
	a.onRefresh = fn
}

// BuildAuthorizationURL returns the provider authorize URL. When state is
// empty a random 24-character token is generated. The state is persisted for
// 10 minutes so the callback can validate it; each issued state is stored
// under its own key, so overlapping authorization attempts stay valid.
func (a *Authenticator) BuildAuthorizationURL(state string) (string, error) {
	if state == "" {
		var err error
		state, err = randomState()
		if err != nil {
			return "", &pkgerrs.AuthError{Err: fmt.Errorf("failed to generate state: %w", err)}
		}
	}
	a.cache.Set(stateKeyPrefix+state, "1", stateTTL)

	u := *a.authorizeURL
	q := url.Values{}
	q.Set("client_id", a.clientID)
	q.Set("response_type", "code")
	q.Set("state", state)
	q.Set("redirect_uri", a.redirectURI)
	q.Set("duration", "permanent")
	q.Set("scope", OAuthScopes)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// randomState returns a 24-character hex token.
func randomState() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
}

// HandleCallback validates the OAuth callback and exchanges the code for an
// access/refresh token pair. Both tokens are persisted on success.
func (a *Authenticator) HandleCallback(ctx context.Context, code, state string) error {
	if code == "" || state == "" {
		return &pkgerrs.AuthError{Code: pkgerrs.CodeMissingParameters}
	}

	if _, ok := a.cache.Get(stateKeyPrefix + state); !ok {
		return &pkgerrs.AuthError{Code: pkgerrs.CodeInvalidState}
	}
	a.cache.Delete(stateKeyPrefix + state)

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", a.redirectURI)

	token, status, body, err := a.exchange(ctx, form)
	if err != nil {
		return &pkgerrs.AuthError{Code: pkgerrs.CodeAuthenticationFailed, StatusCode: status, Body: body, Err: err}
	}
	if token.AccessToken == "" || token.RefreshToken == "" {
		return &pkgerrs.AuthError{Code: pkgerrs.CodeAuthenticationFailed, StatusCode: status, Body: body,
			Err: fmt.Errorf("token response missing access or refresh token")}
	}

	if err := a.options.Set(AccessTokenKey, token.AccessToken); err != nil {
		return &pkgerrs.AuthError{Code: pkgerrs.CodeAuthenticationFailed, Err: fmt.Errorf("failed to persist access token: %w", err)}
	}
	if err := a.options.Set(RefreshTokenKey, token.RefreshToken); err != nil {
		return &pkgerrs.AuthError{Code: pkgerrs.CodeAuthenticationFailed, Err: fmt.Errorf("failed to persist refresh token: %w", err)}
	}

	a.logger.Info("reddit account connected")
	return nil
}

// Token returns the stored access token, which may be empty when the site
// has not been connected yet.
func (a *Authenticator) Token() string {
	token, _, err := a.options.Get(AccessTokenKey)
	if err != nil {
		a.logger.Warn("failed to read access token", "error", err)
		return ""
	}
	return token
}

// Refresh exchanges the stored refresh token for a new access token. Only
// the access token is updated; Reddit does not rotate refresh tokens on
// this flow. Refresh never returns an error: any HTTP, parse, or storage
// failure reports false and leaves the existing access token untouched.
func (a *Authenticator) Refresh(ctx context.Context) bool {
	before := a.Token()

	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	// Another request may have refreshed while we waited on the lock.
	if current := a.Token(); current != "" && current != before {
		return true
	}

	ok := a.refreshLocked(ctx)
	if a.onRefresh != nil {
		a.onRefresh(ok)
	}
	return ok
}

func (a *Authenticator) refreshLocked(ctx context.Context) bool {
	refreshToken, _, err := a.options.Get(RefreshTokenKey)
	if err != nil || refreshToken == "" {
		return false
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	token, status, _, err := a.exchange(ctx, form)
	if err != nil {
		a.logger.Warn("token refresh failed", "status", status, "error", err)
		return false
	}
	if token.AccessToken == "" {
		a.logger.Warn("token refresh returned empty access token", "status", status)
		return false
	}

	if err := a.options.Set(AccessTokenKey, token.AccessToken); err != nil {
		a.logger.Warn("failed to persist refreshed token", "error", err)
		return false
	}

	a.logger.Debug("access token refreshed")
	return true
}

// Reset deletes both stored tokens, returning the site to the
// unauthenticated state.
func (a *Authenticator) Reset() error {
	if err := a.options.Delete(AccessTokenKey); err != nil {
		return err
	}
	return a.options.Delete(RefreshTokenKey)
}

// exchange posts the form to the token endpoint with HTTP Basic credentials
// and decodes the token response.
func (a *Authenticator) exchange(ctx context.Context, form url.Values) (*tokenResponse, int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.tokenURL.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, "", fmt.Errorf("failed to create token request: %w", err)
	}

	req.SetBasicAuth(a.clientID, a.clientSecret)
	req.Header.Set("User-Agent", a.userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, 0, "", fmt.Errorf("failed to execute token request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, "", fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, string(bodyBytes), fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var token tokenResponse
	if err := json.Unmarshal(bodyBytes, &token); err != nil {
		return nil, resp.StatusCode, string(bodyBytes), fmt.Errorf("failed to unmarshal token response: %w", err)
	}

	return &token, resp.StatusCode, "", nil
}
