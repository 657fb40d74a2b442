package render

import "testing"

func TestQualityScoreFullPage(t *testing.T) {
	p := &Page{
		Title:      "Acme Plumbing",
		Phones:     []string{"3105550142"},
		Emails:     []string{"info@acme.com"},
		HasAddress: true,
		HasHours:   true,
		WordCount:  450,
		ImageCount: 6,
		FormCount:  1,
	}
	if got := QualityScore(p); got != 100 {
		t.Errorf("score = %d, want 100", got)
	}
}

func TestQualityScorePlaceholderSite(t *testing.T) {
	p := &Page{
		Title:       "Coming Soon",
		TextPreview: "This site is coming soon. Check back later for updates soon.",
		WordCount:   11,
	}
	// No contact signals and the placeholder point withheld.
	if got := QualityScore(p); got != 0 {
		t.Errorf("score = %d, want 0", got)
	}
}

func TestQualityScoreThinButRealPage(t *testing.T) {
	p := &Page{
		Title:       "Jones Bakery",
		TextPreview: "Fresh bread daily in the heart of Portland since 1987, family owned.",
		WordCount:   120,
		Phones:      []string{"5035550110"},
	}
	// phone 20 + non-placeholder 5
	if got := QualityScore(p); got != 25 {
		t.Errorf("score = %d, want 25", got)
	}
}

func TestIsPlaceholderByWordCount(t *testing.T) {
	if !isPlaceholder(&Page{WordCount: 4, TextPreview: "parked"}) {
		t.Error("near-empty page should be placeholder")
	}
	if isPlaceholder(&Page{WordCount: 300, Title: "Real Biz", TextPreview: "plenty of genuine content here"}) {
		t.Error("substantial page flagged as placeholder")
	}
}
