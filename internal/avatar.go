package internal

import (
	"context"
	"html"
	"log/slog"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/radle-project/radle-go/pkg/store"
	"github.com/radle-project/radle-go/pkg/types"
	"github.com/radle-project/radle-go/pkg/validation"
)

const (
	userCacheKeyPrefix = "radle_user_info:"
	userCacheTombstone = "__lookup_failed__"

	// DefaultAvatarURL stands in whenever a profile lookup fails.
	DefaultAvatarURL = "https://www.redditstatic.com/avatars/defaults/v2/avatar_default_1.png"
)

// avatarResolver assigns profile pictures during the enrichment pass. The
// memo is scoped to one pipeline run so the pipeline stays a pure function
// of its inputs; the shared cache carries results across runs with a short
// tombstone for failed lookups, which keeps a rate-limited endpoint from
// being hammered for the same missing user.
type avatarResolver struct {
	client *Client
	parser *Parser
	cache  store.Cache
	logger *slog.Logger
	cfg    PipelineConfig
	memo   map[string]string
}

func newAvatarResolver(client *Client, parser *Parser, cache store.Cache, cfg PipelineConfig, logger *slog.Logger) *avatarResolver {
	return &avatarResolver{
		client: client,
		parser: parser,
		cache:  cache,
		logger: logger,
		cfg:    cfg,
		memo:   map[string]string{},
	}
}

// enrich walks the tree depth-first assigning ProfilePicture. Deletion
// placeholders and truncation markers are skipped.
func (r *avatarResolver) enrich(ctx context.Context, nodes []*types.Node) {
	for _, n := range nodes {
		c := n.Comment
		if c == nil {
			continue
		}
		if !c.IsDeleted {
			c.ProfilePicture = r.resolve(ctx, c.Author)
		}
		r.enrich(ctx, c.Children)
	}
}

// resolve returns the avatar URL for a username, falling back to the
// default avatar on any failure.
func (r *avatarResolver) resolve(ctx context.Context, username string) string {
	if username == "" || username == types.DeletedSentinel || !validation.IsValidUsername(username) {
		return r.defaultAvatar()
	}

	if avatar, ok := r.memo[username]; ok {
		return avatar
	}

	cacheKey := userCacheKeyPrefix + username
	if cached, ok := r.cache.Get(cacheKey); ok {
		avatar := cached
		if cached == userCacheTombstone {
			avatar = r.defaultAvatar()
		}
		r.memo[username] = avatar
		return avatar
	}

	avatar, err := r.fetch(ctx, username)
	if err != nil {
		r.logger.Debug("avatar lookup failed", "username", username, "error", err)
		r.cache.Set(cacheKey, userCacheTombstone, r.cfg.UserErrorTTL)
		avatar = r.defaultAvatar()
	} else {
		r.cache.Set(cacheKey, avatar, r.cfg.UserTTL)
	}

	r.memo[username] = avatar
	return avatar
}

func (r *avatarResolver) fetch(ctx context.Context, username string) (string, error) {
	resp, err := r.client.Get(ctx, "user/"+url.PathEscape(username)+"/about")
	if err != nil {
		return "", err
	}

	var payload struct {
		Data struct {
			IconImg      string `json:"icon_img"`
			SnoovatarImg string `json:"snoovatar_img"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return "", err
	}

	avatar := payload.Data.SnoovatarImg
	if avatar == "" {
		avatar = payload.Data.IconImg
	}
	if avatar == "" {
		return r.defaultAvatar(), nil
	}

	// Reddit HTML-escapes avatar URLs in some payload variants.
	avatar = html.UnescapeString(avatar)
	// Strip the style query so the URL stays stable across lookups.
	if idx := strings.Index(avatar, "?"); idx > 0 {
		avatar = avatar[:idx]
	}
	return avatar, nil
}

func (r *avatarResolver) defaultAvatar() string {
	if r.cfg.DefaultAvatar != "" {
		return r.cfg.DefaultAvatar
	}
	return DefaultAvatarURL
}
