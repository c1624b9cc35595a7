// Package identity owns contacts and the identities that name them across
// channels. An identity is a (platform, value) pair; values are stored in
// canonical form so the same sender always hits the same row regardless of
// how the channel spelled it.
package identity

import "strings"

// Canonical value forms:
//
//	123456789        phone number, digits only
//	group:<id>       group chat
//	lid:<id>         channel-local anonymized id
func Canonicalize(raw string) string {
	v := strings.TrimSpace(raw)
	if v == "" {
		return ""
	}

	// Already canonical.
	if strings.HasPrefix(v, "group:") || strings.HasPrefix(v, "lid:") {
		return v
	}

	// JID-style addresses: user[:device]@server.
	if at := strings.IndexByte(v, '@'); at >= 0 {
		user, server := v[:at], v[at+1:]
		if colon := strings.IndexByte(user, ':'); colon >= 0 {
			user = user[:colon] // device suffix
		}
		switch server {
		case "g.us":
			return "group:" + user
		case "lid":
			return "lid:" + user
		default:
			return stripNonDigits(user)
		}
	}

	if isDigits(v) {
		return v
	}
	// Phone numbers arriving with formatting, e.g. "+55 11 9...".
	if d := stripNonDigits(v); d != "" && looksLikePhone(v) {
		return d
	}
	return v
}

// IsGroup reports whether a canonical value names a group chat.
func IsGroup(value string) bool {
	return strings.HasPrefix(value, "group:")
}

// IsLID reports whether a canonical value is a channel-local anonymized id.
func IsLID(value string) bool {
	return strings.HasPrefix(value, "lid:")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func looksLikePhone(s string) bool {
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c >= '0' && c <= '9', c == '+', c == '-', c == ' ', c == '(', c == ')':
		default:
			return false
		}
	}
	return true
}

func stripNonDigits(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
