package internal

import (
	"strings"

	"github.com/radle-project/radle-go/pkg/types"
)

const autoExcerptWords = 20

// TokenFunc produces a replacement value for one publish-template token.
type TokenFunc func(ctx types.PostContext) string

// TemplateEngine substitutes {token} placeholders in publish templates.
// The built-in tokens are post_title, post_excerpt, and post_permalink;
// additional tokens can be registered.
type TemplateEngine struct {
	extra map[string]TokenFunc
}

// NewTemplateEngine creates an engine with the built-in tokens only.
func NewTemplateEngine() *TemplateEngine {
	return &TemplateEngine{extra: map[string]TokenFunc{}}
}

// RegisterToken adds or overrides a custom token. The name is used without
// braces: RegisterToken("post_author", ...) handles {post_author}.
func (e *TemplateEngine) RegisterToken(name string, fn TokenFunc) {
	e.extra[name] = fn
}

// ExpandTitle substitutes tokens for a submission title.
func (e *TemplateEngine) ExpandTitle(template string, ctx types.PostContext) string {
	return e.expand(template, ctx, false)
}

// ExpandContent substitutes tokens for a markdown body. The title token is
// bracket-escaped here so titles containing [ or ] cannot break generated
// markdown links.
func (e *TemplateEngine) ExpandContent(template string, ctx types.PostContext) string {
	return e.expand(template, ctx, true)
}

func (e *TemplateEngine) expand(template string, ctx types.PostContext, escapeTitle bool) string {
	title := ctx.Title
	if escapeTitle {
		title = escapeBrackets(title)
	}

	replacements := []string{
		"{post_title}", title,
		"{post_excerpt}", e.excerpt(ctx),
		"{post_permalink}", ctx.Permalink,
	}
	for name, fn := range e.extra {
		replacements = append(replacements, "{"+name+"}", fn(ctx))
	}

	return strings.NewReplacer(replacements...).Replace(template)
}

// excerpt returns the explicit excerpt, or the first words of the content
// when none was provided.
func (e *TemplateEngine) excerpt(ctx types.PostContext) string {
	if ctx.Excerpt != "" {
		return ctx.Excerpt
	}

	words := strings.Fields(ctx.Content)
	if len(words) == 0 {
		return ""
	}
	if len(words) <= autoExcerptWords {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:autoExcerptWords], " ") + "..."
}

func escapeBrackets(s string) string {
	s = strings.ReplaceAll(s, "[", `\[`)
	return strings.ReplaceAll(s, "]", `\]`)
}
