package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"time"

	"github.com/goccy/go-json"

	pkgerrs "github.com/radle-project/radle-go/pkg/errors"
	"github.com/radle-project/radle-go/pkg/store"
	"github.com/radle-project/radle-go/pkg/types"
)

const (
	moderatorCacheKeyPrefix = "radle_subreddit_mods:"
	responseCacheKeyPrefix  = "radle_comments:"
)

// PipelineConfig carries the tunables of the comment-tree pipeline.
type PipelineConfig struct {
	// MaxDepth caps nesting. Nodes at the last permitted depth lose their
	// children and are flagged more_nested_replies. Default 3.
	MaxDepth int
	// MaxSiblings caps each level's width; the excess collapses into a
	// single more_replies marker. Default 10.
	MaxSiblings int
	// ApprovedOnly drops non-OP, non-mod comments lacking moderator
	// approval, on subreddits where the approval field is present at all.
	ApprovedOnly bool
	// DefaultAvatar substitutes for any failed avatar lookup.
	DefaultAvatar string

	ModeratorTTL time.Duration
	UserTTL      time.Duration
	UserErrorTTL time.Duration
	// ResponseTTL caches the whole pipeline result. Zero disables.
	ResponseTTL time.Duration
}

func (c *PipelineConfig) applyDefaults() {
	if c.MaxDepth <= 0 {
		c.MaxDepth = 3
	}
	if c.MaxSiblings <= 0 {
		c.MaxSiblings = 10
	}
	if c.ModeratorTTL <= 0 {
		c.ModeratorTTL = 30 * time.Minute
	}
	if c.UserTTL <= 0 {
		c.UserTTL = 6 * time.Hour
	}
	if c.UserErrorTTL <= 0 {
		c.UserErrorTTL = 90 * time.Second
	}
}

// Pipeline converts a raw Reddit comment listing into a bounded,
// policy-filtered, UI-ready tree. One Pipeline is safe for concurrent use;
// per-request mutable state (the avatar memo) is created per Run.
type Pipeline struct {
	client *Client
	parser *Parser
	cache  store.Cache
	logger *slog.Logger
	cfg    PipelineConfig
}

// NewPipeline wires a pipeline over an authenticated client and cache.
func NewPipeline(client *Client, cache store.Cache, cfg PipelineConfig, logger *slog.Logger) *Pipeline {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		client: client,
		parser: NewParser(),
		cache:  cache,
		logger: logger,
		cfg:    cfg,
	}
}

type threadContext struct {
	originalPoster string
	moderators     map[string]bool
}

// Run fetches and transforms the comment tree for a Reddit thread.
// Authentication failures and transport errors are returned; unexpected
// payload shapes degrade to an empty result so callers can keep rendering.
func (p *Pipeline) Run(ctx context.Context, threadID string, sortMode types.Sort) (*types.CommentsResult, error) {
	if threadID == "" {
		return nil, &pkgerrs.InputError{Field: "thread_id", Message: "thread id is required"}
	}

	cacheKey := responseCacheKeyPrefix + threadID + ":" + string(sortMode)
	if p.cfg.ResponseTTL > 0 {
		if cached, ok := p.cache.Get(cacheKey); ok {
			var result types.CommentsResult
			if err := json.Unmarshal([]byte(cached), &result); err == nil {
				return &result, nil
			}
		}
	}

	path := fmt.Sprintf("comments/%s?sort=%s&raw_json=1", url.PathEscape(threadID), sortMode.ProviderKey())
	resp, err := p.client.Get(ctx, path)
	if err != nil {
		var authErr *pkgerrs.AuthError
		if errors.As(err, &authErr) {
			return nil, err
		}
		return nil, &pkgerrs.RequestError{Operation: "get comments", Err: err}
	}

	result := &types.CommentsResult{Comments: []*types.Node{}, RedditPostID: threadID}

	post, things, err := p.parser.ParseCommentsPayload(resp.Body)
	if err != nil {
		// Unexpected shape is treated as "no data", not a hard failure.
		p.logger.Debug("unexpected comments payload shape", "thread_id", threadID, "error", err)
		return result, nil
	}

	tc := &threadContext{moderators: map[string]bool{}}
	postPermalink := ""
	if post != nil {
		tc.originalPoster = post.Author
		result.Subreddit = post.Subreddit
		result.OriginalPoster = post.Author
		postPermalink = post.Permalink
		for _, mod := range p.Moderators(ctx, post.Subreddit) {
			tc.moderators[mod] = true
		}
	}

	nodes := p.collect(things, tc)
	sortNodes(nodes, sortMode)
	nodes = p.applyLimits(nodes, 1, postPermalink)

	resolver := newAvatarResolver(p.client, p.parser, p.cache, p.cfg, p.logger)
	resolver.enrich(ctx, nodes)

	result.Comments = nodes

	if p.cfg.ResponseTTL > 0 {
		if encoded, err := json.Marshal(result); err == nil {
			p.cache.Set(cacheKey, string(encoded), p.cfg.ResponseTTL)
		}
	}
	return result, nil
}

// Moderators returns the subreddit's current moderator usernames, cached for
// ModeratorTTL. Lookup failures yield an empty list and never block the
// comment fetch.
func (p *Pipeline) Moderators(ctx context.Context, subreddit string) []string {
	if subreddit == "" {
		return nil
	}

	cacheKey := moderatorCacheKeyPrefix + subreddit
	if cached, ok := p.cache.Get(cacheKey); ok {
		var mods []string
		if err := json.Unmarshal([]byte(cached), &mods); err == nil {
			return mods
		}
	}

	resp, err := p.client.Get(ctx, "r/"+url.PathEscape(subreddit)+"/about/moderators")
	if err != nil {
		p.logger.Warn("moderator lookup failed", "subreddit", subreddit, "error", err)
		return nil
	}

	mods, err := p.parser.ParseModerators(resp.Body)
	if err != nil {
		p.logger.Warn("moderator list unparseable", "subreddit", subreddit, "error", err)
		return nil
	}

	if encoded, err := json.Marshal(mods); err == nil {
		p.cache.Set(cacheKey, string(encoded), p.cfg.ModeratorTTL)
	}
	return mods
}

// collect is the recursive collection pass: moderation filtering, deletion
// handling, OP/mod badges, and the approval-policy gate. Children are
// recursed before the deletion decision because a deleted parent survives
// only when some descendant did.
func (p *Pipeline) collect(things []*types.Thing, tc *threadContext) []*types.Node {
	nodes := make([]*types.Node, 0, len(things))
	for _, thing := range things {
		if thing == nil || thing.Kind != "t1" {
			// Provider "more" stubs are dropped; width/depth markers are
			// synthesized by applyLimits instead.
			continue
		}

		rc, err := p.parser.ParseComment(thing)
		if err != nil {
			continue
		}

		// Moderator-removed comments vanish without a placeholder.
		if rc.Removed() {
			continue
		}

		children := p.collect(p.parser.ReplyThings(rc.Replies), tc)

		if rc.Deleted() {
			if len(children) == 0 {
				continue
			}
			// Keep a placeholder so surviving replies retain their context.
			nodes = append(nodes, types.CommentNode(&types.Comment{
				ID:         rc.ID,
				Author:     types.DeletedSentinel,
				Body:       "",
				Permalink:  rc.Permalink,
				Ups:        rc.Ups,
				Downs:      rc.Downs,
				CreatedUTC: int64(rc.CreatedUTC),
				IsDeleted:  true,
				Children:   children,
			}))
			continue
		}

		isOP := tc.originalPoster != "" && rc.Author == tc.originalPoster
		isMod := !isOP && tc.moderators[rc.Author]

		approver, approvalPresent := rc.ApprovedByUser()
		if p.cfg.ApprovedOnly && approvalPresent && approver == "" && !isOP && !isMod {
			continue
		}

		comment := &types.Comment{
			ID:         rc.ID,
			Author:     rc.Author,
			Body:       rc.Body,
			Permalink:  rc.Permalink,
			Ups:        rc.Ups,
			Downs:      rc.Downs,
			CreatedUTC: int64(rc.CreatedUTC),
			IsOP:       isOP,
			IsMod:      isMod,
			Children:   children,
		}
		if approvalPresent && approver != "" {
			comment.ApprovedBy = &approver
		}
		nodes = append(nodes, types.CommentNode(comment))
	}
	return nodes
}

// sortNodes re-sorts every level of the tree, not just the top.
func sortNodes(nodes []*types.Node, mode types.Sort) {
	var less func(a, b *types.Comment) bool
	switch mode {
	case types.SortNewest:
		less = func(a, b *types.Comment) bool { return a.CreatedUTC > b.CreatedUTC }
	case types.SortOldest:
		less = func(a, b *types.Comment) bool { return a.CreatedUTC < b.CreatedUTC }
	case types.SortMostPopular:
		less = func(a, b *types.Comment) bool { return a.Ups > b.Ups }
	default:
		// Unknown modes keep the provider's confidence ordering.
		less = nil
	}

	if less != nil {
		sort.SliceStable(nodes, func(i, j int) bool {
			if nodes[i].Comment == nil || nodes[j].Comment == nil {
				return false
			}
			return less(nodes[i].Comment, nodes[j].Comment)
		})
	}

	for _, n := range nodes {
		if n.Comment != nil {
			sortNodes(n.Comment.Children, mode)
		}
	}
}

// applyLimits truncates the tree depth-first. Sibling overflow collapses
// into a single more_replies marker carrying the excluded count; nodes at
// the last permitted depth drop their children and are flagged instead.
func (p *Pipeline) applyLimits(nodes []*types.Node, depth int, parentPermalink string) []*types.Node {
	if len(nodes) > p.cfg.MaxSiblings {
		excluded := nodes[p.cfg.MaxSiblings:]
		link := parentPermalink
		if link == "" && excluded[0].Comment != nil {
			link = excluded[0].Comment.Permalink
		}
		nodes = append(nodes[:p.cfg.MaxSiblings:p.cfg.MaxSiblings], types.MoreNode(len(excluded), link))
	}

	for _, n := range nodes {
		c := n.Comment
		if c == nil {
			continue
		}
		if depth >= p.cfg.MaxDepth {
			if len(c.Children) > 0 {
				c.Children = nil
				c.MoreNestedReplies = true
			}
			continue
		}
		c.Children = p.applyLimits(c.Children, depth+1, c.Permalink)
	}
	return nodes
}

// ApplyHidden overlays the post's hidden-comment set onto the tree. Editors
// see hidden comments flagged; everyone else gets the hidden subtrees
// removed entirely.
func ApplyHidden(nodes []*types.Node, hidden map[string]bool, viewerCanEdit bool) []*types.Node {
	if len(hidden) == 0 {
		return nodes
	}

	out := make([]*types.Node, 0, len(nodes))
	for _, n := range nodes {
		c := n.Comment
		if c == nil {
			out = append(out, n)
			continue
		}
		if hidden[c.ID] {
			if !viewerCanEdit {
				continue
			}
			c.IsHidden = true
		}
		c.Children = ApplyHidden(c.Children, hidden, viewerCanEdit)
		out = append(out, n)
	}
	return out
}
