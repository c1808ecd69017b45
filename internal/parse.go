package internal

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/radle-project/radle-go/pkg/types"
)

// Parser decodes Reddit API payloads into wire types. Shape surprises are
// reported as errors here; callers decide whether to degrade or fail.
type Parser struct{}

// NewParser creates a new parser instance.
func NewParser() *Parser {
	return &Parser{}
}

// ParseListing extracts a ListingData from a Thing of kind "Listing".
func (p *Parser) ParseListing(thing *types.Thing) (*types.ListingData, error) {
	if thing == nil {
		return nil, fmt.Errorf("thing is nil")
	}
	if thing.Kind != "Listing" {
		return nil, fmt.Errorf("expected Listing, got %s", thing.Kind)
	}

	var listing types.ListingData
	if err := json.Unmarshal(thing.Data, &listing); err != nil {
		return nil, fmt.Errorf("failed to parse Listing data: %w", err)
	}
	return &listing, nil
}

// ParsePost extracts a RawPost from a Thing of kind "t3".
func (p *Parser) ParsePost(thing *types.Thing) (*types.RawPost, error) {
	if thing == nil {
		return nil, fmt.Errorf("thing is nil")
	}
	if thing.Kind != "t3" {
		return nil, fmt.Errorf("expected t3 (Link), got %s", thing.Kind)
	}

	var post types.RawPost
	if err := json.Unmarshal(thing.Data, &post); err != nil {
		return nil, fmt.Errorf("failed to parse Link data: %w", err)
	}
	return &post, nil
}

// ParseComment extracts a RawComment from a Thing of kind "t1".
func (p *Parser) ParseComment(thing *types.Thing) (*types.RawComment, error) {
	if thing == nil {
		return nil, fmt.Errorf("thing is nil")
	}
	if thing.Kind != "t1" {
		return nil, fmt.Errorf("expected t1 (Comment), got %s", thing.Kind)
	}

	var comment types.RawComment
	if err := json.Unmarshal(thing.Data, &comment); err != nil {
		return nil, fmt.Errorf("failed to parse Comment data: %w", err)
	}
	return &comment, nil
}

// ReplyThings decodes a comment's replies field into its child Things.
// Reddit sends "" instead of a Listing when there are no replies.
func (p *Parser) ReplyThings(replies json.RawMessage) []*types.Thing {
	if len(replies) == 0 || string(replies) == `""` || string(replies) == "null" {
		return nil
	}

	var thing types.Thing
	if err := json.Unmarshal(replies, &thing); err != nil {
		return nil
	}
	listing, err := p.ParseListing(&thing)
	if err != nil {
		return nil
	}
	return listing.Children
}

// ParseCommentsPayload decodes the GetComments response. Reddit normally
// returns a two-element array [post listing, comment listing]; some
// endpoints return a single comment Listing without the post.
func (p *Parser) ParseCommentsPayload(body []byte) (*types.RawPost, []*types.Thing, error) {
	if len(body) == 0 {
		return nil, nil, fmt.Errorf("empty response")
	}

	var things []*types.Thing
	switch body[0] {
	case '[':
		if err := json.Unmarshal(body, &things); err != nil {
			return nil, nil, fmt.Errorf("failed to parse comments array response: %w", err)
		}
	case '{':
		var single types.Thing
		if err := json.Unmarshal(body, &single); err != nil {
			return nil, nil, fmt.Errorf("failed to parse comments response: %w", err)
		}
		if single.Kind != "Listing" {
			return nil, nil, fmt.Errorf("unexpected response kind: %s", single.Kind)
		}
		things = []*types.Thing{&single}
	default:
		return nil, nil, fmt.Errorf("invalid response from Reddit")
	}

	if len(things) == 0 {
		return nil, nil, fmt.Errorf("empty response")
	}

	var post *types.RawPost
	commentListing := things[0]

	if len(things) >= 2 {
		if listing, err := p.ParseListing(things[0]); err == nil {
			for _, child := range listing.Children {
				if child.Kind == "t3" {
					if parsed, err := p.ParsePost(child); err == nil {
						post = parsed
						break
					}
				}
			}
		}
		commentListing = things[1]
	}

	listing, err := p.ParseListing(commentListing)
	if err != nil {
		return post, nil, err
	}
	return post, listing.Children, nil
}

// ParseModerators extracts moderator usernames from an about/moderators
// UserList payload.
func (p *Parser) ParseModerators(body []byte) ([]string, error) {
	var payload struct {
		Kind string `json:"kind"`
		Data struct {
			Children []struct {
				Name string `json:"name"`
			} `json:"children"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse moderator list: %w", err)
	}

	names := make([]string, 0, len(payload.Data.Children))
	for _, child := range payload.Data.Children {
		if child.Name != "" {
			names = append(names, child.Name)
		}
	}
	return names, nil
}
