// Package radle mirrors a Reddit thread's discussion as a comment tree for
// a linked blog post, and publishes posts back to Reddit.
//
// The Service is the single entry point. It owns the OAuth token lifecycle
// (with transparent refresh-and-retry on 401), the comment-tree pipeline
// (moderation filtering, deletion collapsing, sorting, depth/width
// truncation, avatar enrichment), the editor-curated hidden-comment
// overlay, the publish/search helper, and the rate-limit usage monitor.
//
// Basic usage:
//
//	svc, err := radle.NewService(&radle.Config{
//		ClientID:     "your-client-id",
//		ClientSecret: "your-client-secret",
//		RedirectURI:  "https://blog.example/auth/callback",
//		UserAgent:    "web:radle:1.0 by /u/youruser",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	result, err := svc.Comments(ctx, postID, types.SortNewest, false)
package radle

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/radle-project/radle-go/internal"
	pkgerrs "github.com/radle-project/radle-go/pkg/errors"
	"github.com/radle-project/radle-go/pkg/store"
	"github.com/radle-project/radle-go/pkg/types"
	"github.com/radle-project/radle-go/pkg/validation"
)

const (
	// DefaultBaseURL is the authenticated Reddit API base URL.
	DefaultBaseURL = "https://oauth.reddit.com/"
	// DefaultAuthURL is the Reddit OAuth base URL.
	DefaultAuthURL = "https://www.reddit.com/"
	// DefaultUserAgent identifies the client when none is configured.
	DefaultUserAgent = "radle-go/1.0"
	// DefaultTimeout is the default HTTP client timeout.
	DefaultTimeout = 30 * time.Second

	postThreadKeyPrefix      = "radle_post_thread:"
	hiddenCommentsKeyPrefix  = "radle_hidden_comments:"
	commentOverrideKeyPrefix = "radle_comment_override:"
	searchCacheKeyPrefix     = "radle_search:"

	searchCacheTTL = 10 * time.Minute
)

// threadIDPattern extracts the thread id from a submission response URL.
// This is the single source of truth for "did this submission succeed".
var threadIDPattern = regexp.MustCompile(`comments/([a-z0-9]+)/`)

// Config holds the configuration for the Radle service. ClientID,
// ClientSecret, and RedirectURI come from the Reddit app registration; one
// Reddit account is connected per installation.
type Config struct {
	ClientID     string
	ClientSecret string
	// RedirectURI must match the app registration; the OAuth callback is
	// delivered there.
	RedirectURI string

	// UserAgent should follow Reddit's "platform:app-name:version by
	// /u/username" convention.
	UserAgent string

	// BaseURL and AuthURL rarely need changing outside of tests.
	BaseURL string
	AuthURL string

	// HTTPClient to use for requests. Defaults to a client with
	// DefaultTimeout if not specified.
	HTTPClient *http.Client

	// Logger for structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// Options persists tokens, thread associations, and hidden sets.
	// Defaults to an in-memory store.
	Options store.KeyValue
	// Cache holds TTL-expiring entries (moderators, avatars, CSRF state,
	// search results). Defaults to an in-memory cache.
	Cache store.Cache
	// Samples is the durable rate-limit sample log. Defaults to an
	// in-memory store.
	Samples store.SampleStore

	// Pipeline tunables.
	MaxDepth         int
	MaxSiblings      int
	ApprovedOnly     bool
	DefaultAvatar    string
	ResponseCacheTTL time.Duration

	// Monitor tunables.
	DisableMonitoring bool
	BreachThreshold   float64
	WindowGapSeconds  int64

	// Local throttle ahead of Reddit's own limits.
	RequestsPerMinute float64
	Burst             int
}

// Service is the Radle core facade. All dependencies are injected through
// Config; there are no package-level singletons.
type Service struct {
	config   *Config
	auth     *internal.Authenticator
	client   *internal.Client
	pipeline *internal.Pipeline
	monitor  *internal.Monitor
	template *internal.TemplateEngine
	options  store.KeyValue
	cache    store.Cache
	logger   *slog.Logger
}

// NewService validates the configuration and wires the service.
func NewService(config *Config) (*Service, error) {
	if config == nil {
		return nil, &pkgerrs.ConfigError{Message: "config cannot be nil"}
	}
	if config.ClientID == "" || config.ClientSecret == "" {
		return nil, &pkgerrs.ConfigError{Field: "ClientID", Message: "ClientID and ClientSecret are required"}
	}

	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.AuthURL == "" {
		config.AuthURL = DefaultAuthURL
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Options == nil {
		config.Options = store.NewMemoryKV()
	}
	if config.Cache == nil {
		config.Cache = store.NewMemoryCache()
	}
	if config.Samples == nil {
		config.Samples = store.NewMemorySamples()
	}

	auth, err := internal.NewAuthenticator(
		config.HTTPClient,
		config.ClientID,
		config.ClientSecret,
		config.RedirectURI,
		config.UserAgent,
		config.AuthURL,
		config.Options,
		config.Cache,
		config.Logger,
	)
	if err != nil {
		return nil, err
	}

	monitor := internal.NewMonitor(config.Samples, internal.MonitorConfig{
		Enabled:          !config.DisableMonitoring,
		BreachThreshold:  config.BreachThreshold,
		WindowGapSeconds: config.WindowGapSeconds,
	}, config.Logger)

	client, err := internal.NewClient(
		config.HTTPClient,
		auth,
		config.BaseURL,
		config.UserAgent,
		monitor,
		&internal.RateLimitConfig{RequestsPerMinute: config.RequestsPerMinute, Burst: config.Burst},
		config.Logger,
	)
	if err != nil {
		return nil, err
	}

	pipeline := internal.NewPipeline(client, config.Cache, internal.PipelineConfig{
		MaxDepth:      config.MaxDepth,
		MaxSiblings:   config.MaxSiblings,
		ApprovedOnly:  config.ApprovedOnly,
		DefaultAvatar: config.DefaultAvatar,
		ResponseTTL:   config.ResponseCacheTTL,
	}, config.Logger)

	return &Service{
		config:   config,
		auth:     auth,
		client:   client,
		pipeline: pipeline,
		monitor:  monitor,
		template: internal.NewTemplateEngine(),
		options:  config.Options,
		cache:    config.Cache,
		logger:   config.Logger,
	}, nil
}

// --- Authentication ---

// BuildAuthorizationURL returns the Reddit authorize URL. An empty state
// generates a fresh CSRF token, valid for ten minutes.
func (s *Service) BuildAuthorizationURL(state string) (string, error) {
	return s.auth.BuildAuthorizationURL(state)
}

// HandleCallback completes the OAuth flow, exchanging the callback code for
// tokens.
func (s *Service) HandleCallback(ctx context.Context, code, state string) error {
	return s.auth.HandleCallback(ctx, code, state)
}

// IsConnected probes the Reddit identity endpoint, transparently attempting
// one token refresh when the probe fails.
func (s *Service) IsConnected(ctx context.Context) bool {
	return s.client.IsConnected(ctx)
}

// ResetAuth discards the stored tokens, disconnecting the Reddit account.
func (s *Service) ResetAuth() error {
	return s.auth.Reset()
}

// SetRefreshObserver registers a callback for token refresh outcomes.
func (s *Service) SetRefreshObserver(fn func(ok bool)) {
	s.auth.SetRefreshObserver(fn)
}

// --- Thread association ---

// LinkPost associates a blog post with a Reddit thread. A post holds at
// most one association; linking again replaces it.
func (s *Service) LinkPost(postID, threadID string) error {
	if postID == "" || threadID == "" {
		return &pkgerrs.InputError{Field: "post_id", Message: "post id and thread id are required"}
	}
	if !validation.IsValidThreadID(threadID) {
		return &pkgerrs.InputError{Field: "thread_id", Message: "thread id must be base36: " + threadID}
	}
	return s.options.Set(postThreadKeyPrefix+postID, threadID)
}

// Association returns the Reddit thread id linked to a post, or an
// InputError when none exists.
func (s *Service) Association(postID string) (string, error) {
	threadID, ok, err := s.options.Get(postThreadKeyPrefix + postID)
	if err != nil {
		return "", err
	}
	if !ok || threadID == "" {
		return "", &pkgerrs.InputError{Field: "post_id", Message: "post has no linked Reddit thread"}
	}
	return threadID, nil
}

// UnlinkPost removes a post's thread association.
func (s *Service) UnlinkPost(postID string) error {
	return s.options.Delete(postThreadKeyPrefix + postID)
}

// SetCommentSystemOverride stores the per-post commenting-behavior override.
func (s *Service) SetCommentSystemOverride(postID, value string) error {
	if value == "" {
		return s.options.Delete(commentOverrideKeyPrefix + postID)
	}
	return s.options.Set(commentOverrideKeyPrefix+postID, value)
}

// CommentSystemOverride returns the per-post override, empty when unset.
func (s *Service) CommentSystemOverride(postID string) string {
	value, _, err := s.options.Get(commentOverrideKeyPrefix + postID)
	if err != nil {
		s.logger.Warn("failed to read comment system override", "post_id", postID, "error", err)
		return ""
	}
	return value
}

// --- Comments ---

// Comments resolves the post's linked thread, runs the comment-tree
// pipeline, and applies the hidden-comment overlay. Viewers without edit
// rights never see hidden comments; editors see them flagged.
func (s *Service) Comments(ctx context.Context, postID string, sortMode types.Sort, viewerCanEdit bool) (*types.CommentsResult, error) {
	threadID, err := s.Association(postID)
	if err != nil {
		return nil, err
	}

	result, err := s.ThreadComments(ctx, threadID, sortMode)
	if err != nil {
		return nil, err
	}

	hidden := s.hiddenSet(postID)
	result.Comments = internal.ApplyHidden(result.Comments, hidden, viewerCanEdit)
	return result, nil
}

// ThreadComments runs the pipeline for a Reddit thread directly, without
// post association or hidden overlay.
func (s *Service) ThreadComments(ctx context.Context, threadID string, sortMode types.Sort) (*types.CommentsResult, error) {
	return s.pipeline.Run(ctx, threadID, sortMode)
}

// --- Hidden-comment overlay ---

// HiddenIDs returns the post's hidden comment ids in insertion order.
func (s *Service) HiddenIDs(postID string) []string {
	raw, ok, err := s.options.Get(hiddenCommentsKeyPrefix + postID)
	if err != nil || !ok {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil
	}
	return ids
}

// ToggleHidden flips a comment id's membership in the post's hidden set and
// reports the action taken. Toggling twice restores the original state.
func (s *Service) ToggleHidden(postID, commentID string) (*types.ToggleResult, error) {
	if postID == "" || commentID == "" {
		return nil, &pkgerrs.InputError{Field: "comment_id", Message: "post id and comment id are required"}
	}
	if !validation.IsValidCommentID(commentID) {
		return nil, &pkgerrs.InputError{Field: "comment_id", Message: "comment id must be base36: " + commentID}
	}

	ids := s.HiddenIDs(postID)
	action := "hidden"
	updated := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		if id == commentID {
			action = "shown"
			continue
		}
		updated = append(updated, id)
	}
	if action == "hidden" {
		updated = append(updated, commentID)
	}

	encoded, err := json.Marshal(updated)
	if err != nil {
		return nil, err
	}
	if err := s.options.Set(hiddenCommentsKeyPrefix+postID, string(encoded)); err != nil {
		return nil, err
	}

	return &types.ToggleResult{Action: action, HiddenIDs: updated}, nil
}

func (s *Service) hiddenSet(postID string) map[string]bool {
	set := map[string]bool{}
	for _, id := range s.HiddenIDs(postID) {
		set[id] = true
	}
	return set
}

// --- Rate-limit monitoring ---

// RateLimitData aggregates recorded usage for the period into time buckets.
func (s *Service) RateLimitData(period types.Period) ([]types.Bucket, error) {
	return s.monitor.Data(period)
}

// DeleteRateLimitData clears the entire usage history.
func (s *Service) DeleteRateLimitData() error {
	return s.monitor.DeleteAll()
}

// SetRecordObserver registers a callback for each recorded usage sample.
func (s *Service) SetRecordObserver(fn func(endpoint string, isFailure, breach bool)) {
	s.monitor.SetRecordObserver(fn)
}

// --- Publish / search ---

// Templates exposes the publish template engine for token registration.
func (s *Service) Templates() *internal.TemplateEngine {
	return s.template
}

// ExpandTitle substitutes publish-template tokens for a submission title.
func (s *Service) ExpandTitle(template string, ctx types.PostContext) string {
	return s.template.ExpandTitle(template, ctx)
}

// ExpandContent substitutes publish-template tokens for a markdown body.
func (s *Service) ExpandContent(template string, ctx types.PostContext) string {
	return s.template.ExpandContent(template, ctx)
}

// SearchExisting looks for a submission in the subreddit whose title
// matches exactly (case-insensitive), returning its thread id. Results are
// cached briefly.
func (s *Service) SearchExisting(ctx context.Context, title, subreddit string) (string, bool, error) {
	if title == "" || subreddit == "" {
		return "", false, &pkgerrs.InputError{Field: "title", Message: "title and subreddit are required"}
	}
	if !validation.IsValidSubreddit(subreddit) {
		return "", false, &pkgerrs.InputError{Field: "subreddit", Message: "invalid subreddit name: " + subreddit}
	}

	cacheKey := searchCacheKeyPrefix + subreddit + ":" + strings.ToLower(title)
	if cached, ok := s.cache.Get(cacheKey); ok {
		return cached, cached != "", nil
	}

	q := url.Values{}
	q.Set("q", "title:\""+title+"\"")
	q.Set("restrict_sr", "on")
	q.Set("limit", "10")

	resp, err := s.client.Get(ctx, "r/"+url.PathEscape(subreddit)+"/search?"+q.Encode())
	if err != nil {
		return "", false, err
	}

	var listing struct {
		Data struct {
			Children []struct {
				Data struct {
					ID    string `json:"id"`
					Title string `json:"title"`
				} `json:"data"`
			} `json:"children"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &listing); err != nil {
		return "", false, &pkgerrs.ParseError{Operation: "search", Err: err}
	}

	match := ""
	for _, child := range listing.Data.Children {
		if strings.EqualFold(child.Data.Title, title) {
			match = child.Data.ID
			break
		}
	}

	s.cache.Set(cacheKey, match, searchCacheTTL)
	return match, match != "", nil
}

// Publish creates a Reddit submission. When an equivalent post already
// exists in the subreddit (same title, case-insensitive), its thread is
// returned instead of creating a duplicate.
func (s *Service) Publish(ctx context.Context, req types.PublishRequest) (*types.PublishResult, error) {
	if req.Title == "" || req.Subreddit == "" {
		return nil, &pkgerrs.InputError{Field: "title", Message: "title and subreddit are required"}
	}
	if !validation.IsValidSubreddit(req.Subreddit) {
		return nil, &pkgerrs.InputError{Field: "subreddit", Message: "invalid subreddit name: " + req.Subreddit}
	}

	if existing, found, err := s.SearchExisting(ctx, req.Title, req.Subreddit); err == nil && found {
		s.logger.Info("submission already exists", "subreddit", req.Subreddit, "thread_id", existing)
		return &types.PublishResult{ThreadID: existing}, nil
	}

	form := url.Values{}
	form.Set("sr", req.Subreddit)
	form.Set("title", req.Title)
	form.Set("api_type", "json")
	switch req.Kind {
	case types.KindLink:
		if req.URL == "" {
			return nil, &pkgerrs.InputError{Field: "url", Message: "link posts require a url"}
		}
		form.Set("kind", "link")
		form.Set("url", req.URL)
	default:
		form.Set("kind", "self")
		form.Set("text", req.Content)
	}

	resp, err := s.client.PostForm(ctx, "api/submit", form)
	if err != nil {
		return nil, err
	}

	var submitResp struct {
		JSON struct {
			Errors [][]string `json:"errors"`
			Data   struct {
				URL  string `json:"url"`
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"data"`
		} `json:"json"`
	}
	if err := json.Unmarshal(resp.Body, &submitResp); err != nil {
		return nil, &pkgerrs.ParseError{Operation: "submit", Err: err}
	}
	if len(submitResp.JSON.Errors) > 0 {
		return nil, &pkgerrs.APIError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("%v", submitResp.JSON.Errors[0])}
	}

	match := threadIDPattern.FindStringSubmatch(submitResp.JSON.Data.URL)
	if match == nil {
		// Without an extractable id the submission cannot be confirmed;
		// callers must reconcile manually.
		return nil, &pkgerrs.ParseError{Operation: "submit", Message: "response url missing thread id: " + submitResp.JSON.Data.URL}
	}

	return &types.PublishResult{ThreadID: match[1], URL: submitResp.JSON.Data.URL}, nil
}
