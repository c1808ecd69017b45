// Package validation provides format checks for Reddit identifiers before
// they are persisted or sent upstream. Rejecting malformed ids early keeps
// garbage out of the association store and avoids pointless API calls.
package validation

import "regexp"

var (
	// base36Regex matches base36 encoded ids (0-9, a-z). Thread and comment
	// ids use this alphabet.
	base36Regex = regexp.MustCompile(`^[0-9a-z]+$`)

	// subredditRegex matches valid subreddit names (3-21 chars, alphanumeric
	// plus underscore).
	subredditRegex = regexp.MustCompile(`^[a-zA-Z0-9_]{3,21}$`)

	// usernameRegex matches valid Reddit usernames (3-20 chars, alphanumeric
	// plus underscore and hyphen).
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,20}$`)

	// permalinkRegex matches the comment-page permalink format:
	// /r/{subreddit}/comments/{thread_id}/{title_slug}/ with an optional
	// trailing comment id.
	permalinkRegex = regexp.MustCompile(`^/r/[a-zA-Z0-9_]{3,21}/comments/[0-9a-z]+/[^/]+/?([0-9a-z]+/?)?$`)
)

// IsValidThreadID checks that a string is a base36 submission id.
func IsValidThreadID(s string) bool {
	return s != "" && base36Regex.MatchString(s)
}

// IsValidCommentID checks that a string is a base36 comment id.
func IsValidCommentID(s string) bool {
	return s != "" && base36Regex.MatchString(s)
}

// IsValidSubreddit checks that a string is a valid subreddit name.
func IsValidSubreddit(s string) bool {
	return subredditRegex.MatchString(s)
}

// IsValidUsername checks that a string is a valid Reddit username.
func IsValidUsername(s string) bool {
	return usernameRegex.MatchString(s)
}

// IsValidPermalink checks that a string is a valid comment-page permalink.
func IsValidPermalink(s string) bool {
	return s != "" && permalinkRegex.MatchString(s)
}
