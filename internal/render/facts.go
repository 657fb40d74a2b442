package render

import (
	"regexp"
	"strings"
	"unicode/utf8"

	htmlmd "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

// Page is the fact sheet extracted from one rendered URL. It is the
// render-side half of the verifier's evidence.
type Page struct {
	FinalURL        string   `json:"finalUrl"`
	Title           string   `json:"title"`
	MetaDescription string   `json:"metaDescription"`
	Phones          []string `json:"phones,omitempty"`
	Emails          []string `json:"emails,omitempty"`
	HasAddress      bool     `json:"hasAddress"`
	HasHours        bool     `json:"hasHours"`
	TextPreview     string   `json:"textPreview"`
	Markdown        string   `json:"-"`
	WordCount       int      `json:"wordCount"`
	ImageCount      int      `json:"imageCount"`
	FormCount       int      `json:"formCount"`
	ScreenshotRef   string   `json:"screenshotRef,omitempty"`
	RobotsDisallow  bool     `json:"robotsDisallow,omitempty"`
	BotWall         bool     `json:"botWall,omitempty"`
}

const previewChars = 2000

var (
	// US/UK/international phone forms: +1 310-555-0101, (310) 555-0101,
	// 020 7946 0958, +44 20 7946 0958.
	phoneRe = regexp.MustCompile(`(?:\+?\d{1,3}[ .-]?)?(?:\(\d{2,4}\)[ .-]?)?\d{2,4}[ .-]\d{3,4}(?:[ .-]\d{3,4})?`)
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

	// A street line: number then words then a street-type token.
	addressRe = regexp.MustCompile(`(?i)\b\d{1,6}\s+[\w.' -]{2,40}\s+(?:st|street|ave|avenue|blvd|boulevard|rd|road|dr|drive|ln|lane|way|ct|court|pl|place|suite|ste|hwy|highway|pkwy|parkway)\b`)

	hoursRe = regexp.MustCompile(`(?i)\b(?:mon|tue|wed|thu|fri|sat|sun)[a-z]*\b[^\n]{0,40}?\d{1,2}(?::\d{2})?\s*(?:am|pm|a\.m\.|p\.m\.|[-–]\s*\d{1,2})`)

	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Bot-wall fingerprints seen on Cloudflare, PerimeterX, and friends.
var botWallMarkers = []string{
	"just a moment",
	"checking your browser",
	"verify you are human",
	"are you a robot",
	"attention required",
	"access denied",
	"enable javascript and cookies",
	"press & hold",
	"captcha",
}

// ExtractFacts parses rendered HTML into a Page. Pure; the browser-driving
// half lives in Renderer.
func ExtractFacts(html, finalURL string) *Page {
	p := &Page{FinalURL: finalURL}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		p.TextPreview = truncate(whitespaceRe.ReplaceAllString(html, " "), previewChars)
		return p
	}

	p.Title = strings.TrimSpace(doc.Find("title").First().Text())
	p.MetaDescription = doc.Find("meta[name=description]").AttrOr("content", "")

	doc.Find("script, style, noscript").Remove()
	text := whitespaceRe.ReplaceAllString(doc.Text(), " ")
	text = strings.TrimSpace(text)

	p.TextPreview = truncate(text, previewChars)
	p.WordCount = len(strings.Fields(text))
	p.ImageCount = doc.Find("img").Length()
	p.FormCount = doc.Find("form").Length()

	// tel: links are the highest-signal phone source; the regex sweeps the
	// visible text for the rest.
	seenPhones := map[string]bool{}
	doc.Find(`a[href^="tel:"]`).Each(func(_ int, sel *goquery.Selection) {
		raw := strings.TrimPrefix(sel.AttrOr("href", ""), "tel:")
		if n := NormalizePhone(raw); n != "" && !seenPhones[n] {
			seenPhones[n] = true
			p.Phones = append(p.Phones, n)
		}
	})
	for _, m := range phoneRe.FindAllString(text, 20) {
		if n := NormalizePhone(m); n != "" && !seenPhones[n] {
			seenPhones[n] = true
			p.Phones = append(p.Phones, n)
		}
	}

	seenEmails := map[string]bool{}
	for _, m := range emailRe.FindAllString(html, 20) {
		m = strings.ToLower(m)
		// Asset filenames match the email shape; skip image-ish hits.
		if strings.HasSuffix(m, ".png") || strings.HasSuffix(m, ".jpg") || strings.HasSuffix(m, ".svg") || strings.HasSuffix(m, ".webp") {
			continue
		}
		if !seenEmails[m] {
			seenEmails[m] = true
			p.Emails = append(p.Emails, m)
		}
	}

	p.HasAddress = addressRe.MatchString(text)
	p.HasHours = hoursRe.MatchString(text)
	p.BotWall = looksLikeBotWall(p.Title, text)

	converter := htmlmd.NewConverter(hostOf(finalURL), true, nil)
	if md, err := converter.ConvertString(html); err == nil {
		p.Markdown = md
	} else {
		p.Markdown = text
	}

	return p
}

// NormalizePhone strips formatting, keeping a leading + and digits. Returns
// "" for strings too short or long to be a dialable number.
func NormalizePhone(raw string) string {
	var sb strings.Builder
	for i, r := range raw {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		} else if r == '+' && i == 0 {
			sb.WriteRune(r)
		}
	}
	n := sb.String()
	digits := strings.TrimPrefix(n, "+")
	if len(digits) < 7 || len(digits) > 15 {
		return ""
	}
	return n
}

// SamePhone compares two numbers loosely: exact digits, or same last seven
// digits (US NPA+NXX+line without the country code).
func SamePhone(a, b string) bool {
	na := strings.TrimPrefix(NormalizePhone(a), "+")
	nb := strings.TrimPrefix(NormalizePhone(b), "+")
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}
	if len(na) >= 7 && len(nb) >= 7 {
		return na[len(na)-7:] == nb[len(nb)-7:]
	}
	return false
}

func looksLikeBotWall(title, text string) bool {
	probe := strings.ToLower(title)
	body := strings.ToLower(truncate(text, 600))
	for _, marker := range botWallMarkers {
		if strings.Contains(probe, marker) || strings.Contains(body, marker) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	for !utf8.ValidString(cut) && len(cut) > 0 {
		cut = cut[:len(cut)-1]
	}
	return cut
}

func hostOf(raw string) string {
	if i := strings.Index(raw, "://"); i >= 0 {
		raw = raw[i+3:]
	}
	if i := strings.IndexAny(raw, "/?#"); i >= 0 {
		raw = raw[:i]
	}
	return raw
}
