package signals

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// Minimum length and entropy for an unlabelled token to look like a secret.
const (
	opaqueTokenMinLen  = 32
	opaqueTokenEntropy = 3.5
)

var (
	// Credentials: key=value pairs where key suggests a secret.
	credKVRe = regexp.MustCompile(`(?i)\b(?:password|passwd|pwd|secret|client_secret|token|access_token|api[_-]?key|apikey|auth|private_key)\s*[=:]\s*["']?[^\s"']{4,}`)

	// Well-known token shapes.
	knownTokenRes = []*regexp.Regexp{
		regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
		regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`),
		regexp.MustCompile(`\bgithub_pat_[A-Za-z0-9_]{40,}\b`),
		regexp.MustCompile(`\bxox[abprs]-[A-Za-z0-9-]{10,}`),
		regexp.MustCompile(`\bsk-(?:ant-|proj-)?[A-Za-z0-9_-]{20,}`),
		regexp.MustCompile(`\bAIza[0-9A-Za-z_-]{35}\b`),
		regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`),
		regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`),
	}

	opaqueTokenRe = regexp.MustCompile(`[A-Za-z0-9+/=_-]{32,}`)
)

// ContainsCredentialText reports whether text carries something shaped like
// a credential: a secret-looking assignment, a known token format, or a long
// high-entropy opaque token.
func ContainsCredentialText(text string) bool {
	if text == "" {
		return false
	}
	if credKVRe.MatchString(text) {
		return true
	}
	for _, re := range knownTokenRes {
		if re.MatchString(text) {
			return true
		}
	}
	for _, tok := range opaqueTokenRe.FindAllString(text, -1) {
		if looksOpaque(tok) {
			return true
		}
	}
	return false
}

// looksOpaque rejects long words and paths that happen to match the token
// alphabet: a secret mixes letters and digits and has high entropy.
func looksOpaque(tok string) bool {
	if len(tok) < opaqueTokenMinLen || strings.Count(tok, "/") > 2 {
		return false
	}
	var letters, digits int
	for _, c := range tok {
		switch {
		case unicode.IsLetter(c):
			letters++
		case unicode.IsDigit(c):
			digits++
		}
	}
	if letters == 0 || digits == 0 {
		return false
	}
	return ShannonEntropy(tok) >= opaqueTokenEntropy
}

// ShannonEntropy returns the per-character Shannon entropy of s in bits.
func ShannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	counts := make(map[rune]int)
	total := 0
	for _, c := range s {
		counts[c]++
		total++
	}
	var h float64
	for _, n := range counts {
		p := float64(n) / float64(total)
		h -= p * math.Log2(p)
	}
	return h
}

// CredentialSpans returns the [start, end) byte ranges of every
// credential-shaped substring of text, sorted and merged.
func CredentialSpans(text string) [][2]int {
	if text == "" {
		return nil
	}
	var spans [][2]int
	for _, loc := range credKVRe.FindAllStringIndex(text, -1) {
		spans = append(spans, [2]int{loc[0], loc[1]})
	}
	for _, re := range knownTokenRes {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			spans = append(spans, [2]int{loc[0], loc[1]})
		}
	}
	for _, loc := range opaqueTokenRe.FindAllStringIndex(text, -1) {
		if looksOpaque(text[loc[0]:loc[1]]) {
			spans = append(spans, [2]int{loc[0], loc[1]})
		}
	}
	return MergeSpans(spans)
}

// MergeSpans sorts spans and joins the overlapping ones.
func MergeSpans(spans [][2]int) [][2]int {
	if len(spans) < 2 {
		return spans
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i][0] < spans[j][0] })
	out := spans[:1]
	for _, s := range spans[1:] {
		last := &out[len(out)-1]
		if s[0] <= last[1] {
			if s[1] > last[1] {
				last[1] = s[1]
			}
			continue
		}
		out = append(out, s)
	}
	return out
}
