package moderation

import (
	"slices"
	"strings"
	"testing"
	"time"
)

// screenCase is one Check expectation. reason and term are only compared
// when blocked is true and they are non-empty.
type screenCase struct {
	name    string
	input   string
	blocked bool
	reason  string
	term    string
}

func checkCases(t *testing.T, f *Filter, cases []screenCase) {
	t.Helper()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := f.Check(tc.input)
			if got.Blocked != tc.blocked {
				t.Fatalf("Check(%q) = %+v, want blocked=%v", tc.input, got, tc.blocked)
			}
			if !tc.blocked {
				return
			}
			if tc.reason != "" && got.Reason != tc.reason {
				t.Errorf("Check(%q).Reason = %q, want %q", tc.input, got.Reason, tc.reason)
			}
			if tc.term != "" && got.Term != tc.term {
				t.Errorf("Check(%q).Term = %q, want %q", tc.input, got.Term, tc.term)
			}
		})
	}
}

func TestNewFilter(t *testing.T) {
	f := NewFilter()
	if len(f.words) == 0 || len(f.phrases) == 0 {
		t.Fatalf("built-in blocklist not loaded: %d words, %d phrases", len(f.words), len(f.phrases))
	}
	if !f.screenContacts {
		t.Error("contact screening should default to on")
	}
}

func TestCheck_BlockedWords(t *testing.T) {
	f := NewFilterWithTerms([]string{"idiot", "scammer"})

	checkCases(t, f, []screenCase{
		{"insult", "your courier is an idiot", true, "blocked_keyword", "idiot"},
		{"upper case", "IDIOT", true, "blocked_keyword", "idiot"},
		{"punctuation", "this shop is run by a scammer!", true, "blocked_keyword", "scammer"},
		{"longer word", "an idiotic delay, honestly", false, "", ""},
		{"embedded", "antiscammer tips", false, "", ""},
		{"ordinary complaint", "the parcel arrived late again", false, "", ""},
	})
}

func TestCheck_BlockedPhrase(t *testing.T) {
	f := NewFilterWithTerms([]string{"gift card code", "wire the money"})

	checkCases(t, f, []screenCase{
		{"whole phrase", "gift card code", true, "blocked_keyword", "gift card code"},
		{"inside sentence", "just send me the gift card code first", true, "blocked_keyword", "gift card code"},
		{"upper case", "WIRE THE MONEY today", true, "blocked_keyword", "wire the money"},
		{"plural breaks phrase", "gift cards code", false, "", ""},
		{"words apart", "gift card and a code", false, "", ""},
		{"bank transfer", "I paid by bank transfer on Monday", false, "", ""},
	})
}

func TestCheck_Leetspeak(t *testing.T) {
	f := NewFilterWithTerms([]string{"scammer", "refund fraud"})

	checkCases(t, f, []screenCase{
		{"at sign", "sc@mmer", true, "blocked_keyword", "scammer"},
		{"digits and dollar", "$c4mm3r", true, "blocked_keyword", "scammer"},
		{"five for s", "5c@mm3r", true, "blocked_keyword", "scammer"},
		{"phrase", "this is r3fund fr@ud", true, "blocked_keyword", "refund fraud"},
		{"plain words", "refund for a fraudulent charge", false, "", ""},
	})
}

func TestCheck_CleanSupportMessages(t *testing.T) {
	f := NewFilter()

	checkCases(t, f, []screenCase{
		{"greeting", "hi, my parcel still hasn't arrived", false, "", ""},
		{"address change", "can I change the delivery address?", false, "", ""},
		{"order number", "I was charged twice for order 1042", false, "", ""},
		{"price", "the invoice says $49.99 but I paid $59.99", false, "", ""},
		{"size", "the size chart says 10.5 fits", false, "", ""},
		{"term inside word", "the flame retardant label is missing", false, "", ""},
		{"term inside word again", "this charge looks suspicious", false, "", ""},
		{"thanks", "thanks!! that solved it", false, "", ""},
		{"empty", "", false, "", ""},
	})
}

func TestCheck_DefaultBlocklist(t *testing.T) {
	f := NewFilter()

	checkCases(t, f, []screenCase{
		{"slur", "you faggot", true, "blocked_keyword", "faggot"},
		{"threat", "go die", true, "blocked_keyword", "go die"},
		{"harassment", "kill yourself", true, "blocked_keyword", "kill yourself"},
		{"scam", "crypto giveaway for loyal customers", true, "blocked_keyword", "crypto giveaway"},
		{"gift card scam", "read me the gift card code", true, "blocked_keyword", "gift card code"},
	})
}

func TestCheck_EmptyTermsOnlySpam(t *testing.T) {
	f := NewFilterWithTerms(nil, ScreenContacts(false))

	checkCases(t, f, []screenCase{
		{"no keywords", "kill yourself", false, "", ""},
		{"flood still on", "refund refund refund", true, "spam_pattern", "word_flood"},
	})
}

func TestNewFilterWithTerms_Normalization(t *testing.T) {
	f := NewFilterWithTerms([]string{"", "  ", " Chargeback ", "  Refund   Scam "})

	if _, ok := f.words["chargeback"]; !ok || len(f.words) != 1 {
		t.Errorf("words = %v, want only chargeback", f.words)
	}
	if !slices.Equal(f.phrases, []string{"refund scam"}) {
		t.Errorf("phrases = %v, want [refund scam]", f.phrases)
	}
	if r := f.Check("this is a refund scam!"); !r.Blocked || r.Term != "refund scam" {
		t.Errorf("expected phrase match, got %+v", r)
	}
}

func TestTokenizers(t *testing.T) {
	tests := []struct {
		input string
		plain []string
		leet  []string
	}{
		{"where is my order?", []string{"where", "is", "my", "order"}, []string{"where", "is", "my", "order?"}},
		{"sc@mmer, really", []string{"sc", "mmer", "really"}, []string{"sc@mmer,", "really"}},
		{"  order---1042  ", []string{"order", "1042"}, []string{"order---1042"}},
		{"", nil, nil},
	}

	for _, tt := range tests {
		if got := tokenizePlain(tt.input); !slices.Equal(got, tt.plain) {
			t.Errorf("tokenizePlain(%q) = %q, want %q", tt.input, got, tt.plain)
		}
		if got := tokenizeLeet(tt.input); !slices.Equal(got, tt.leet) {
			t.Errorf("tokenizeLeet(%q) = %q, want %q", tt.input, got, tt.leet)
		}
	}
}

func TestNormalizeLeet(t *testing.T) {
	tests := map[string]string{
		"order":   "order",
		"r3fund":  "refund",
		"$c@m":    "scam",
		"fr4ud!":  "fraudi",
		"ch@ng3d": "changed",
	}
	for in, want := range tests {
		if got := normalizeLeet(in); got != want {
			t.Errorf("normalizeLeet(%q) = %q, want %q", in, got, want)
		}
	}
}

const typicalMessage = "hello, my order from last week arrived damaged and the box was open. Can I get a replacement or a refund please?"

func BenchmarkCheck(b *testing.B) {
	f := NewFilter()
	for i := 0; i < b.N; i++ {
		f.Check(typicalMessage)
	}
}

func BenchmarkCheck_Blocked(b *testing.B) {
	f := NewFilter()
	msg := "send the gift card code and I will refund you"
	for i := 0; i < b.N; i++ {
		f.Check(msg)
	}
}

func BenchmarkCheck_LongMessage(b *testing.B) {
	f := NewFilter()
	msg := strings.Repeat("the replacement was also damaged in transit. ", 40)
	for i := 0; i < b.N; i++ {
		f.Check(msg)
	}
}

// TestPerformance keeps screening well under a millisecond per message.
func TestPerformance(t *testing.T) {
	f := NewFilter()

	const iterations = 1000
	start := time.Now()
	for i := 0; i < iterations; i++ {
		f.Check(typicalMessage)
	}
	avg := time.Since(start) / iterations

	limit := 100 * time.Microsecond
	if raceDetectorEnabled {
		limit = time.Millisecond
	}
	if avg > limit {
		t.Errorf("average Check latency %v exceeds %v", avg, limit)
	}
}
