package moderation

import "testing"

func TestSpam_URLs(t *testing.T) {
	f := NewFilterWithTerms(nil)

	checkCases(t, f, []screenCase{
		{"https", "track it at https://parcels.example/track/XY12", true, "spam_pattern", "url"},
		{"http", "pay at http://refund-desk.net now", true, "spam_pattern", "url"},
		{"www", "go to www.cheap-returns.info", true, "spam_pattern", "url"},
		{"bare domain with path", "see shop.co/returns", true, "spam_pattern", "url"},
		{"bare xyz domain", "details at outlet.xyz/deal", true, "spam_pattern", "url"},
		{"version string", "the app says v2.0 is required", false, "", ""},
		{"decimal", "it weighs 2.5 kg", false, "", ""},
	})
}

func TestSpam_PhoneNumbers(t *testing.T) {
	f := NewFilterWithTerms(nil)

	checkCases(t, f, []screenCase{
		{"spaced", "call 0800 123 4567", true, "spam_pattern", "phone"},
		{"international", "+44 20 7946 0958", true, "spam_pattern", "phone"},
		{"area code", "(555) 123-4567", true, "spam_pattern", "phone"},
		{"dotted in sentence", "reach me on 555.123.4567 tonight", true, "spam_pattern", "phone"},
		{"long order number", "order 12345678", true, "spam_pattern", "phone"},
		{"short order number", "order 1042 is late", false, "", ""},
		{"price", "it costs $5.99", false, "", ""},
		{"year", "bought it in 2025", false, "", ""},
	})
}

func TestSpam_CharFlood(t *testing.T) {
	f := NewFilterWithTerms(nil)

	checkCases(t, f, []screenCase{
		{"stretched word", "pleaseeeee help", true, "spam_pattern", "char_flood"},
		{"question marks", "WHERE IS IT?????", true, "spam_pattern", "char_flood"},
		{"symbols", "refund ======", true, "spam_pattern", "char_flood"},
		{"five letters", "aaaaa", true, "spam_pattern", "char_flood"},
		{"four letters", "aaaa", false, "", ""},
		{"mild emphasis", "sooo slow!!!", false, "", ""},
	})
}

func TestSpam_WordFlood(t *testing.T) {
	f := NewFilterWithTerms(nil)

	checkCases(t, f, []screenCase{
		{"three times", "help help help", true, "spam_pattern", "word_flood"},
		{"mixed case", "HELP Help help", true, "spam_pattern", "word_flood"},
		{"leading", "where where where is my parcel", true, "spam_pattern", "word_flood"},
		{"twice", "very very late", false, "", ""},
		{"punctuation splits words", "no no, no", false, "", ""},
	})
}

func TestSpam_EdgeCases(t *testing.T) {
	f := NewFilterWithTerms(nil)

	checkCases(t, f, []screenCase{
		{"empty", "", false, "", ""},
		{"single char", "?", false, "", ""},
		{"spaces", "   ", false, "", ""},
		{"multi-line", "line one\nline two", false, "", ""},
		{"tabs", "item\tqty\tprice", false, "", ""},
	})
}

func TestSpam_KeywordTakesPriority(t *testing.T) {
	f := NewFilterWithTerms([]string{"gift card code"})

	checkCases(t, f, []screenCase{
		{"keyword and url", "send the gift card code to www.cheap-returns.info", true, "blocked_keyword", "gift card code"},
		{"url only", "track at https://parcels.example/x", true, "spam_pattern", "url"},
	})
}

// With contact screening off, phone numbers, order numbers and tracking
// links pass and only flooding is blocked.
func TestSpam_ContactScreeningDisabled(t *testing.T) {
	f := NewFilterWithTerms(nil, ScreenContacts(false))

	checkCases(t, f, []screenCase{
		{"courier phone", "my number for the courier is 0800 123 4567", false, "", ""},
		{"order and tracking link", "order 12345678, tracking at https://parcels.example/track/XY12", false, "", ""},
		{"returns page", "www.shop.example/returns says 30 days", false, "", ""},
		{"char flood", "pleaseeeee call me back", true, "spam_pattern", "char_flood"},
		{"word flood", "help help help", true, "spam_pattern", "word_flood"},
	})
}
