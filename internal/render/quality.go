package render

import "strings"

// Placeholder phrases that mark a parked or template site.
var placeholderMarkers = []string{
	"under construction",
	"coming soon",
	"lorem ipsum",
	"this domain is for sale",
	"buy this domain",
	"website is parked",
	"default web page",
	"future home of",
}

// QualityScore grades a rendered page 0-100 for downstream prioritization.
// The weights are fixed: 20 phone, 15 email, 15 address, 10 hours, 15 word
// count over 200, 10 images, 10 forms, 5 non-placeholder content. The score
// never decides a disposition.
func QualityScore(p *Page) int {
	score := 0
	if len(p.Phones) > 0 {
		score += 20
	}
	if len(p.Emails) > 0 {
		score += 15
	}
	if p.HasAddress {
		score += 15
	}
	if p.HasHours {
		score += 10
	}
	if p.WordCount > 200 {
		score += 15
	}
	if p.ImageCount > 0 {
		score += 10
	}
	if p.FormCount > 0 {
		score += 10
	}
	if !isPlaceholder(p) {
		score += 5
	}
	return score
}

func isPlaceholder(p *Page) bool {
	if p.WordCount < 10 {
		return true
	}
	probe := strings.ToLower(p.Title + " " + truncate(p.TextPreview, 500))
	for _, marker := range placeholderMarkers {
		if strings.Contains(probe, marker) {
			return true
		}
	}
	return false
}
