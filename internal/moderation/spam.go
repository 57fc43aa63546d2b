package moderation

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	// urlPattern matches scheme and www links, and bare domains on common
	// TLDs when followed by a path, so "v2.0" and "2.5" are not links.
	urlPattern = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|\S+\.(com|net|org|io|co|xyz|info|biz|ru|cn|tk|ml|ga|cf)/\S*)`)

	// phonePattern matches numbers like +44 20 7946 0958, (555) 123-4567 and
	// 0800.123.4567 standing alone between whitespace. Order numbers of
	// eight or more digits also match.
	phonePattern = regexp.MustCompile(`(?:^|\s)(\+?\d{1,3}[-.\s]?)?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}(?:\s|$)`)
)

// spamCheck is one named pattern. Contact checks are skipped unless the
// filter screens contact details.
type spamCheck struct {
	name    string
	reason  string
	contact bool
	match   func(string) bool
}

// spamChecks run in order; the first match wins.
var spamChecks = []spamCheck{
	{name: "url", reason: "URLs are not allowed", contact: true, match: func(text string) bool {
		return urlPattern.MatchString(text)
	}},
	{name: "phone", reason: "Phone numbers are not allowed", contact: true, match: func(text string) bool {
		return phonePattern.MatchString(text)
	}},
	{name: "char_flood", reason: "Character flooding detected", match: hasCharFlood},
	{name: "word_flood", reason: "Repeated word flooding detected", match: hasWordFlood},
}

// hasCharFlood reports a run of five or more identical runes. RE2 has no
// backreferences, hence the scan.
func hasCharFlood(text string) bool {
	const threshold = 5

	count := 1
	prev := rune(-1)
	for _, r := range text {
		if r == prev {
			count++
			if count >= threshold {
				return true
			}
		} else {
			count = 1
			prev = r
		}
	}
	return false
}

// hasWordFlood reports the same whitespace-delimited word three or more
// times in a row, ignoring case.
func hasWordFlood(text string) bool {
	const threshold = 3

	words := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	if len(words) < threshold {
		return false
	}

	count := 1
	prev := ""
	for _, w := range words {
		lower := strings.ToLower(w)
		if lower == prev {
			count++
			if count >= threshold {
				return true
			}
		} else {
			count = 1
			prev = lower
		}
	}
	return false
}

// checkSpamPatterns returns a blocking result for the first enabled check
// that matches text.
func (f *Filter) checkSpamPatterns(text string) FilterResult {
	for _, sc := range spamChecks {
		if sc.contact && !f.screenContacts {
			continue
		}
		if sc.match(text) {
			return FilterResult{
				Blocked: true,
				Reason:  "spam_pattern",
				Term:    sc.name,
			}
		}
	}
	return FilterResult{}
}
