// Package types defines the wire and domain types shared across the Radle core.
package types

import (
	"fmt"

	"github.com/goccy/go-json"
)

// DeletedSentinel is the author/body placeholder Reddit substitutes when a
// user deletes their account or comment.
const DeletedSentinel = "[deleted]"

// Thing is the envelope for every Reddit API object. The Kind field selects
// how Data should be decoded ("Listing", "t1" comment, "t3" link, "more").
type Thing struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// ListingData contains the children of a Listing Thing.
type ListingData struct {
	AfterFullname  string   `json:"after"`
	BeforeFullname string   `json:"before"`
	Children       []*Thing `json:"children"`
}

// RawPost is the subset of a Reddit link ("t3") the pipeline needs: the
// thread's author becomes the OP badge source and the subreddit scopes the
// moderator lookup.
type RawPost struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Author    string  `json:"author"`
	Title     string  `json:"title"`
	Subreddit string  `json:"subreddit"`
	Permalink string  `json:"permalink"`
	URL       string  `json:"url"`
	SelfText  string  `json:"selftext"`
	Ups       int     `json:"ups"`
	Downs     int     `json:"downs"`
	Created   float64 `json:"created_utc"`
}

// RawComment is the wire shape of a Reddit comment ("t1") before the
// pipeline normalizes it.
//
// ApprovedBy is kept as raw JSON because its mere presence carries meaning:
// subreddits without moderator approval omit the key entirely, and the
// approved-only filter must not apply there. A nil RawMessage means the key
// was absent; "null" means present but unapproved.
type RawComment struct {
	ID                string          `json:"id"`
	Author            string          `json:"author"`
	Body              string          `json:"body"`
	Permalink         string          `json:"permalink"`
	Ups               int             `json:"ups"`
	Downs             int             `json:"downs"`
	CreatedUTC        float64         `json:"created_utc"`
	BannedBy          flexString      `json:"banned_by"`
	RemovedByCategory *string         `json:"removed_by_category"`
	ApprovedBy        json.RawMessage `json:"approved_by"`
	Replies           json.RawMessage `json:"replies"`
}

// Removed reports whether a moderator removed the comment. Removed comments
// never appear in output, not even as placeholders.
func (rc *RawComment) Removed() bool {
	return rc.BannedBy.Set || rc.RemovedByCategory != nil
}

// Deleted reports whether the comment was deleted by its own author.
func (rc *RawComment) Deleted() bool {
	authorGone := rc.Author == DeletedSentinel || rc.Author == ""
	bodyGone := rc.Body == DeletedSentinel || rc.Body == ""
	return authorGone && bodyGone
}

// ApprovedByUser returns the approving moderator name and whether the
// approved_by key was present in the payload at all.
func (rc *RawComment) ApprovedByUser() (name string, present bool) {
	if len(rc.ApprovedBy) == 0 {
		return "", false
	}
	var s *string
	if err := json.Unmarshal(rc.ApprovedBy, &s); err != nil || s == nil {
		return "", true
	}
	return *s, true
}

// flexString tolerates Reddit sending banned_by as false, null, or a
// username string depending on viewer permissions.
type flexString struct {
	Value string
	Set   bool
}

func (f *flexString) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" || s == "false" || s == `""` {
		f.Set = false
		f.Value = ""
		return nil
	}
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		// Unexpected shape; treat as unset rather than failing the comment.
		f.Set = false
		return nil
	}
	f.Value = v
	f.Set = v != ""
	return nil
}

// Comment is a normalized comment-tree node after the pipeline passes.
type Comment struct {
	ID         string `json:"id"`
	Author     string `json:"author"`
	Body       string `json:"body"`
	Permalink  string `json:"permalink"`
	Ups        int    `json:"ups"`
	Downs      int    `json:"downs"`
	CreatedUTC int64  `json:"created_utc"`

	IsOP       bool    `json:"is_op"`
	IsMod      bool    `json:"is_mod"`
	ApprovedBy *string `json:"approved_by,omitempty"`
	IsDeleted  bool    `json:"is_deleted,omitempty"`

	// Injected by later passes.
	ProfilePicture    string `json:"profile_picture,omitempty"`
	IsHidden          bool   `json:"is_hidden,omitempty"`
	MoreNestedReplies bool   `json:"more_nested_replies,omitempty"`

	Children []*Node `json:"children"`
}

// MoreReplies is a synthetic marker standing in for siblings excluded by the
// width limit. It never has children of its own.
type MoreReplies struct {
	Count           int    `json:"more_replies"`
	ParentPermalink string `json:"parent_permalink"`
}

// Node is a comment-tree node: either a real (or deletion-placeholder)
// Comment or a MoreReplies truncation marker. Exactly one field is non-nil.
type Node struct {
	Comment *Comment
	More    *MoreReplies
}

// CommentNode wraps a Comment in a Node.
func CommentNode(c *Comment) *Node {
	return &Node{Comment: c}
}

// MoreNode wraps a truncation marker in a Node.
func MoreNode(count int, parentPermalink string) *Node {
	return &Node{More: &MoreReplies{Count: count, ParentPermalink: parentPermalink}}
}

// MarshalJSON renders the node as either the comment object or the marker
// object, mirroring the mutually exclusive shapes consumers expect.
func (n *Node) MarshalJSON() ([]byte, error) {
	switch {
	case n.More != nil:
		return json.Marshal(n.More)
	case n.Comment != nil:
		return json.Marshal(n.Comment)
	default:
		return nil, fmt.Errorf("node has neither comment nor marker")
	}
}

// UnmarshalJSON restores the tagged union from its wire shape.
func (n *Node) UnmarshalJSON(data []byte) error {
	var probe struct {
		MoreReplies *int `json:"more_replies"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.MoreReplies != nil {
		n.More = &MoreReplies{}
		return json.Unmarshal(data, n.More)
	}
	n.Comment = &Comment{}
	return json.Unmarshal(data, n.Comment)
}

// Sort selects the comment ordering applied recursively at every tree level.
type Sort string

const (
	// SortNewest orders by descending creation time.
	SortNewest Sort = "newest"
	// SortOldest orders by ascending creation time.
	SortOldest Sort = "oldest"
	// SortMostPopular orders by descending upvotes. Downvotes are ignored.
	SortMostPopular Sort = "most_popular"
)

// ProviderKey maps the sort mode to Reddit's listing sort parameter.
// Unknown values fall back to Reddit's confidence sort.
func (s Sort) ProviderKey() string {
	switch s {
	case SortNewest:
		return "new"
	case SortOldest:
		return "old"
	case SortMostPopular:
		return "top"
	default:
		return "confidence"
	}
}

// ParseSort interprets a user-supplied sort string, falling back to
// SortNewest for anything unrecognized.
func ParseSort(s string) Sort {
	switch Sort(s) {
	case SortNewest, SortOldest, SortMostPopular:
		return Sort(s)
	default:
		return SortNewest
	}
}

// CommentsResult is the outward shape of a full comment-tree fetch.
type CommentsResult struct {
	Comments       []*Node `json:"comments"`
	Subreddit      string  `json:"subreddit"`
	RedditPostID   string  `json:"reddit_post_id"`
	OriginalPoster string  `json:"original_poster"`
}

// ToggleResult reports the outcome of flipping a comment's hidden state.
type ToggleResult struct {
	Action    string   `json:"action"` // "hidden" or "shown"
	HiddenIDs []string `json:"hidden_ids"`
}

// PostContext carries the blog-post fields available to publish templates.
type PostContext struct {
	Title     string
	Excerpt   string
	Permalink string
	Content   string
}

// PublishKind selects between a self post and a link post.
type PublishKind string

const (
	KindSelf PublishKind = "self"
	KindLink PublishKind = "link"
)

// PublishRequest describes a submission to create on Reddit.
type PublishRequest struct {
	Subreddit string
	Title     string
	// Content is the markdown body for self posts.
	Content string
	// URL is the target for link posts.
	URL  string
	Kind PublishKind
}

// PublishResult identifies the created Reddit thread.
type PublishResult struct {
	ThreadID string `json:"thread_id"`
	URL      string `json:"url"`
}

// Sample is one recorded outbound API call with the provider's reported
// quota counters at that moment.
type Sample struct {
	Timestamp int64   `json:"timestamp"`
	Used      float64 `json:"used"`
	Remaining float64 `json:"remaining"`
	Reset     float64 `json:"reset"`
	IsFailure bool    `json:"is_failure"`
	Endpoint  string  `json:"endpoint"`
	Payload   string  `json:"payload,omitempty"`
}

// Bucket is one aggregated time slot in a rate-limit report.
type Bucket struct {
	Calls    float64 `json:"calls"`
	Breaches int     `json:"breaches"`
	Failures int     `json:"failures"`
}

// Period selects the rolling window for rate-limit aggregation.
type Period string

const (
	PeriodLastHour Period = "last-hour"
	Period24h      Period = "24h"
	Period7d       Period = "7d"
	Period30d      Period = "30d"
)

// ParsePeriod interprets a user-supplied period string, falling back to
// Period24h for anything unrecognized.
func ParsePeriod(s string) Period {
	switch Period(s) {
	case PeriodLastHour, Period24h, Period7d, Period30d:
		return Period(s)
	default:
		return Period24h
	}
}

// Span returns the window length in seconds and the bucket width in seconds.
func (p Period) Span() (window, bucketWidth int64, err error) {
	switch p {
	case PeriodLastHour:
		return 3600, 60, nil
	case Period24h:
		return 86400, 3600, nil
	case Period7d:
		return 7 * 86400, 86400, nil
	case Period30d:
		return 30 * 86400, 86400, nil
	default:
		return 0, 0, fmt.Errorf("unknown period: %s", p)
	}
}
