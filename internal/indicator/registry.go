// Package indicator extracts typed threat-intelligence indicators from free text.
package indicator

import (
	"regexp"
	"strings"
)

// Pattern is one registry entry: a type tag, its compiled matcher, and the
// normalizer applied to every raw match.
type Pattern struct {
	Type      string
	Regexp    *regexp.Regexp
	Normalize func(string) string
}

// SocialPrefix prefixes the type tag of every social-platform handle pattern.
const SocialPrefix = "social:"

// Type tags.
const (
	TypeURL     = "url"
	TypeIPv4    = "ipv4"
	TypeEmail   = "email"
	TypeDomain  = "domain"
	TypePhone   = "phone"
	TypeGA      = "ga"
	TypeAdSense = "adsense"
)

const (
	domainExpr  = `(?:(?:[a-zA-Z0-9-]+\.)+[a-zA-Z]{2,})`
	urlExpr     = `https?://[^\s)]+`
	octetExpr   = `(?:25[0-5]|2[0-4]\d|1?\d?\d)`
	ipv4Expr    = `\b(?:` + octetExpr + `\.){3}` + octetExpr + `\b`
	emailExpr   = `[A-Za-z0-9._%+-]+@` + domainExpr
	phoneExpr   = `\+?\d[\d\s().-]{7,}\d`
	gaExpr      = `\bUA-\d{4,}-\d+\b`
	adsenseExpr = `\bpub-\d{16}\b`
)

// socialPlatforms is ordered; the registry keeps this order.
var socialPlatforms = []struct {
	name string
	expr string
}{
	{"twitter", `(?:https?://)?(?:www\.)?twitter\.com/([A-Za-z0-9_]{1,15})`},
	{"facebook", `(?:https?://)?(?:www\.)?facebook\.com/([A-Za-z0-9_.-]+)`},
	{"instagram", `(?:https?://)?(?:www\.)?instagram\.com/([A-Za-z0-9_.-]+)`},
	{"youtube", `(?:https?://)?(?:www\.)?youtube\.com/(?:c/|channel/|@)?([A-Za-z0-9_.-]+)`},
	{"linkedin", `(?:https?://)?(?:[\w.]*linkedin\.com)/in/([A-Za-z0-9_.-]+)`},
	{"tiktok", `(?:https?://)?(?:www\.)?tiktok\.com/@([A-Za-z0-9_.-]+)`},
	{"telegram", `(?:https?://)?t\.me/([A-Za-z0-9_]+)`},
	{"reddit", `(?:https?://)?(?:www\.)?reddit\.com/(?:u|user)/([A-Za-z0-9_-]+)`},
	{"vk", `(?:https?://)?vk\.com/([A-Za-z0-9_.-]+)`},
	{"truthsocial", `(?:https?://)?truthsocial\.com/@([A-Za-z0-9_.-]+)`},
}

var phoneStrip = regexp.MustCompile(`[^+\d]`)

func normalizeDomain(s string) string { return strings.Trim(strings.ToLower(s), "().,;\n \t") }
func normalizeURL(s string) string    { return strings.Trim(s, "()\n \t") }
func normalizeEmail(s string) string  { return strings.ToLower(s) }
func normalizePhone(s string) string  { return phoneStrip.ReplaceAllString(s, "") }
func normalizeHandle(s string) string { return strings.ToLower(strings.TrimLeft(s, "@")) }
func identity(s string) string        { return s }

func compile(expr string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + expr)
}

// DefaultPatterns returns the built-in registry in application order:
// url, ipv4, email, domain, phone, ga, adsense, then the social platforms.
func DefaultPatterns() []Pattern {
	patterns := []Pattern{
		{Type: TypeURL, Regexp: compile(urlExpr), Normalize: normalizeURL},
		{Type: TypeIPv4, Regexp: compile(ipv4Expr), Normalize: identity},
		{Type: TypeEmail, Regexp: compile(emailExpr), Normalize: normalizeEmail},
		{Type: TypeDomain, Regexp: compile(domainExpr), Normalize: normalizeDomain},
		{Type: TypePhone, Regexp: compile(phoneExpr), Normalize: normalizePhone},
		{Type: TypeGA, Regexp: compile(gaExpr), Normalize: identity},
		{Type: TypeAdSense, Regexp: compile(adsenseExpr), Normalize: identity},
	}
	for _, p := range socialPlatforms {
		patterns = append(patterns, Pattern{
			Type:      SocialPrefix + p.name,
			Regexp:    compile(p.expr),
			Normalize: normalizeHandle,
		})
	}
	return patterns
}

// IsSocial reports whether typ is a social-platform handle type.
func IsSocial(typ string) bool {
	return strings.HasPrefix(typ, SocialPrefix)
}
