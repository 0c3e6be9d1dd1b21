package indicator

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejnc/threat-intel-pipeline/internal/models"
)

func byType(cands []models.IndicatorCandidate) map[string][]string {
	out := make(map[string][]string)
	for _, c := range cands {
		out[c.Type] = append(out[c.Type], c.Value)
	}
	return out
}

func TestExtract_Types(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		typ   string
		value string
	}{
		{"url", "Visit https://evil.example.com/path now", TypeURL, "https://evil.example.com/path"},
		{"url trims parens", "(see https://evil.example.com/a)", TypeURL, "https://evil.example.com/a"},
		{"domain lowercased", "hosted on Evil.Example.COM today", TypeDomain, "evil.example.com"},
		{"email lowercased", "Contact Admin@Evil.COM", TypeEmail, "admin@evil.com"},
		{"ipv4 unchanged", "server 192.168.1.10 responded", TypeIPv4, "192.168.1.10"},
		{"phone stripped", "Call +1 (555) 123-4567 today", TypePhone, "+15551234567"},
		{"google analytics", "tracker UA-12345-1 found", TypeGA, "UA-12345-1"},
		{"adsense", "ads pub-1234567890123456 here", TypeAdSense, "pub-1234567890123456"},
		{"telegram", "join t.me/SomeChannel", "social:telegram", "t.me/somechannel"},
		{"tiktok", "https://www.tiktok.com/@User.Name", "social:tiktok", "https://www.tiktok.com/@user.name"},
		{"twitter", "twitter.com/Bad_Actor", "social:twitter", "twitter.com/bad_actor"},
		{"vk", "vk.com/club123", "social:vk", "vk.com/club123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := byType(Extract(tt.text))
			assert.Contains(t, got[tt.typ], tt.value)
		})
	}
}

func TestExtract_ConfidenceIsConstant(t *testing.T) {
	for _, c := range Extract("https://evil.com 10.0.0.1 a@b.org") {
		assert.Equal(t, models.DefaultConfidence, c.Confidence)
	}
}

func TestExtract_NoMatches(t *testing.T) {
	got := Extract("nothing to see here")
	require.NotNil(t, got)
	assert.Empty(t, got)
	assert.Empty(t, Extract(""))
}

func TestExtract_Deterministic(t *testing.T) {
	text := "Storm-1516 used https://news-fr.example.org/a, t.me/Channel and +33 1 23 45 67 89 via 203.0.113.7."
	first := Extract(text)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Extract(text))
	}
	assert.Equal(t, first, NewExtractor().Extract(text))
}

func TestExtract_UnionOfInterpretations(t *testing.T) {
	got := byType(Extract("https://twitter.com/SomeUser"))
	assert.Equal(t, []string{"https://twitter.com/SomeUser"}, got[TypeURL])
	assert.Equal(t, []string{"twitter.com"}, got[TypeDomain])
	assert.Equal(t, []string{"https://twitter.com/someuser"}, got["social:twitter"])
}

func TestExtract_DeduplicatesByTypeAndValue(t *testing.T) {
	got := byType(Extract("evil.com and EVIL.com. and again evil.com"))
	assert.Equal(t, []string{"evil.com"}, got[TypeDomain])
}

func TestExtract_IPIsAlsoPhone(t *testing.T) {
	got := byType(Extract("beacon to 192.168.1.10"))
	assert.Equal(t, []string{"192.168.1.10"}, got[TypeIPv4])
	assert.Equal(t, []string{"192168110"}, got[TypePhone])
	assert.Empty(t, got[TypeDomain])
}

func TestExtract_RejectsInvalidOctets(t *testing.T) {
	got := byType(Extract("not an ip: 999.1.1.1"))
	assert.Empty(t, got[TypeIPv4])
}

func TestExtractor_WithPattern(t *testing.T) {
	e := NewExtractor(WithPattern(Pattern{
		Type:      "cve",
		Regexp:    regexp.MustCompile(`(?i)\bCVE-\d{4}-\d{4,}\b`),
		Normalize: strings.ToUpper,
	}))
	types := e.Types()
	assert.Equal(t, "cve", types[len(types)-1])
	assert.Contains(t, byType(e.Extract("exploits cve-2024-12345"))["cve"], "CVE-2024-12345")
}

func TestDefaultPatterns_Registry(t *testing.T) {
	patterns := DefaultPatterns()
	require.Len(t, patterns, 17)
	assert.Equal(t, TypeURL, patterns[0].Type)
	social := 0
	for _, p := range patterns {
		if IsSocial(p.Type) {
			social++
		}
	}
	assert.Equal(t, 10, social)
}
