package gateway

import (
	"context"
	"strings"

	"github.com/filipexyz/ravi-sub000/internal/identity"
)

// NameLookup resolves a canonical identity value to a display name. Both
// lookups may miss; empty string means no name known.
type NameLookup interface {
	// GroupTag returns the group-scoped tag for a member, if the chat
	// maintains one.
	GroupTag(ctx context.Context, chatID, memberID string) string
	// ContactName returns the stored contact name for an identity.
	ContactName(ctx context.Context, platform, memberID string) string
}

// ResolveMentions rewrites raw mention tokens in text to display names.
// Precedence per token: group tag, then contact name, then the raw id.
// Replacement is literal substring substitution; a digit sequence that
// coincidentally repeats elsewhere in the text will also be replaced. That
// collision is accepted rather than guessed around.
func ResolveMentions(ctx context.Context, text string, rawTokens []string, platform, chatID string, lookup NameLookup) string {
	if len(rawTokens) == 0 || text == "" {
		return text
	}
	for _, token := range rawTokens {
		canonical := identity.Canonicalize(token)
		name := ""
		if lookup != nil {
			if chatID != "" {
				name = lookup.GroupTag(ctx, chatID, canonical)
			}
			if name == "" {
				name = lookup.ContactName(ctx, platform, canonical)
			}
		}
		if name == "" {
			name = canonical
		}
		needle := "@" + mentionBody(token)
		if strings.Contains(text, needle) {
			text = strings.ReplaceAll(text, needle, "@"+name)
		}
	}
	return text
}

// mentionBody strips the channel addressing suffix from a raw mention token
// so it matches how the token appears inline ("@5511999@s.whatsapp.net" is
// written "@5511999" in the text).
func mentionBody(token string) string {
	token = strings.TrimPrefix(token, "@")
	if at := strings.IndexByte(token, '@'); at >= 0 {
		token = token[:at]
	}
	return token
}
