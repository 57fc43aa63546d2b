// Package moderation screens support chat messages before they are broadcast.
// It blocks abusive keywords and phrases (including simple leetspeak
// obfuscation) and flooding, and can optionally block contact details such as
// URLs and phone numbers.
package moderation

import (
	"strings"
	"unicode"
)

// FilterResult is the outcome of screening one message. The zero value means
// the message is clean.
type FilterResult struct {
	Blocked bool
	Reason  string // "blocked_keyword" or "spam_pattern"
	Term    string // the matched term, or the name of the spam check
}

// defaultTerms is the built-in blocklist. Multi-word entries are matched as
// whole-word phrases.
var defaultTerms = []string{
	// slurs
	"nigger", "nigga", "faggot", "fag", "retard", "tranny", "chink", "spic", "kike",
	// self-harm and threats
	"kill yourself", "kys", "go die", "hang yourself", "bomb threat", "shoot up",
	// sexual content involving minors or solicitation
	"child porn", "cp links", "send nudes", "nudes pls",
	// extremism
	"heil hitler", "white power", "sieg heil",
	// scams
	"free bitcoin", "crypto giveaway", "double your money", "gift card code",
}

// leetReplacer maps common character substitutions back to letters.
var leetReplacer = strings.NewReplacer(
	"0", "o",
	"1", "i",
	"3", "e",
	"4", "a",
	"5", "s",
	"7", "t",
	"@", "a",
	"$", "s",
	"!", "i",
)

// Filter screens message text. It is immutable after construction and safe
// for concurrent use.
type Filter struct {
	words          map[string]struct{}
	phrases        []string
	screenContacts bool
}

// Option configures a Filter.
type Option func(*Filter)

// ScreenContacts enables or disables blocking of URLs and phone numbers.
// It is enabled by default.
func ScreenContacts(enabled bool) Option {
	return func(f *Filter) { f.screenContacts = enabled }
}

// NewFilter creates a Filter with the built-in blocklist.
func NewFilter(opts ...Option) *Filter {
	return NewFilterWithTerms(defaultTerms, opts...)
}

// NewFilterWithTerms creates a Filter with a custom blocklist. Terms are
// lowercased; blank terms are ignored.
func NewFilterWithTerms(terms []string, opts ...Option) *Filter {
	f := &Filter{
		words:          make(map[string]struct{}),
		screenContacts: true,
	}
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if strings.ContainsAny(t, " \t") {
			f.phrases = append(f.phrases, strings.Join(strings.Fields(t), " "))
			continue
		}
		f.words[t] = struct{}{}
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Check screens text. Blocked keywords take priority over spam patterns.
func (f *Filter) Check(text string) FilterResult {
	if text == "" {
		return FilterResult{}
	}
	lower := strings.ToLower(text)

	if r := f.checkKeywords(tokenizePlain(lower)); r.Blocked {
		return r
	}

	leet := tokenizeLeet(lower)
	normalized := make([]string, 0, len(leet))
	for _, tok := range leet {
		normalized = append(normalized, strings.TrimFunc(normalizeLeet(tok), isSeparator))
	}
	if r := f.checkKeywords(normalized); r.Blocked {
		return r
	}

	return f.checkSpamPatterns(text)
}

func (f *Filter) checkKeywords(tokens []string) FilterResult {
	for _, tok := range tokens {
		if _, ok := f.words[tok]; ok {
			return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: tok}
		}
	}
	if len(f.phrases) == 0 || len(tokens) < 2 {
		return FilterResult{}
	}
	joined := " " + strings.Join(tokens, " ") + " "
	for _, p := range f.phrases {
		if strings.Contains(joined, " "+p+" ") {
			return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: p}
		}
	}
	return FilterResult{}
}

// normalizeLeet maps leetspeak substitutions back to letters.
func normalizeLeet(s string) string {
	return leetReplacer.Replace(s)
}

// tokenizePlain splits on anything that is not a letter or digit.
func tokenizePlain(s string) []string {
	return strings.FieldsFunc(s, isSeparator)
}

// tokenizeLeet splits on whitespace only, so substitution symbols stay
// inside their word.
func tokenizeLeet(s string) []string {
	return strings.FieldsFunc(s, unicode.IsSpace)
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
