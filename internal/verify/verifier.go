// Package verify decides ownership: given a business's listing data and
// evidence about a URL, it asks the LLM whether the URL is the business's
// own website and parses the schema-constrained answer into a Verdict.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"prospector/internal/llm"
	"prospector/internal/metrics"
	"prospector/internal/model"
	"prospector/internal/render"
	"prospector/internal/search"
)

// BusinessContext is the listing-side half of the evidence.
type BusinessContext struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Address  string `json:"address,omitempty"`
	City     string `json:"city,omitempty"`
	Region   string `json:"region,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// ContextFor builds the verifier context from a business record.
func ContextFor(b *model.Business) BusinessContext {
	return BusinessContext{
		Name:     b.Name,
		Category: b.Category,
		Address:  b.Address,
		City:     b.City,
		Region:   b.Region,
		Phone:    b.Phone,
	}
}

// Evidence is one of the three evidence forms the verifier accepts.
type Evidence interface {
	evidenceKind() string
	render(ctx BusinessContext) string
	// Summary is a one-line description stored in validation history.
	Summary() string
	// Payload is the full evidence document persisted in validation records.
	Payload() json.RawMessage
}

// PageEvidence is a rendered page fact sheet.
type PageEvidence struct {
	Page *render.Page
}

func (PageEvidence) evidenceKind() string { return "rendered_page" }

func (e PageEvidence) Summary() string {
	return fmt.Sprintf("rendered %s: %d words, %d phones, %d emails",
		e.Page.FinalURL, e.Page.WordCount, len(e.Page.Phones), len(e.Page.Emails))
}

func (e PageEvidence) Payload() json.RawMessage {
	return marshalEvidence("rendered_page", e.Page)
}

func (e PageEvidence) render(ctx BusinessContext) string {
	p := e.Page
	var sb strings.Builder
	fmt.Fprintf(&sb, "Rendered page at %s\n", p.FinalURL)
	fmt.Fprintf(&sb, "Title: %s\n", p.Title)
	if p.MetaDescription != "" {
		fmt.Fprintf(&sb, "Meta description: %s\n", p.MetaDescription)
	}
	if len(p.Phones) > 0 {
		fmt.Fprintf(&sb, "Phones on page: %s\n", strings.Join(p.Phones, ", "))
		if ctx.Phone != "" {
			for _, ph := range p.Phones {
				if render.SamePhone(ph, ctx.Phone) {
					sb.WriteString("NOTE: a page phone matches the listing phone exactly or on its last seven digits.\n")
					break
				}
			}
		}
	}
	if len(p.Emails) > 0 {
		fmt.Fprintf(&sb, "Emails on page: %s\n", strings.Join(p.Emails, ", "))
	}
	fmt.Fprintf(&sb, "Has street address on page: %v. Has opening hours: %v.\n", p.HasAddress, p.HasHours)
	fmt.Fprintf(&sb, "Word count: %d, images: %d, forms: %d.\n", p.WordCount, p.ImageCount, p.FormCount)
	fmt.Fprintf(&sb, "Page text (truncated):\n%s\n", p.TextPreview)
	return sb.String()
}

// SearchEvidence is the top organic search results for the business.
type SearchEvidence struct {
	Results []search.Result
}

func (SearchEvidence) evidenceKind() string { return "search_results" }

func (e SearchEvidence) Summary() string {
	return fmt.Sprintf("%d search results", len(e.Results))
}

func (e SearchEvidence) Payload() json.RawMessage {
	return marshalEvidence("search_results", e.Results)
}

func (e SearchEvidence) render(ctx BusinessContext) string {
	var sb strings.Builder
	sb.WriteString("Top organic search results:\n")
	for _, r := range e.Results {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n   %s\n", r.Position, r.Title, r.URL, r.Snippet)
	}
	return sb.String()
}

// ThinEvidence is what remains when the page could not be rendered (bot
// wall): the URL itself plus the listing data already in the context.
type ThinEvidence struct {
	URL    string
	Reason string
}

func (ThinEvidence) evidenceKind() string { return "thin" }

func (e ThinEvidence) Summary() string {
	return fmt.Sprintf("thin evidence for %s (%s)", e.URL, e.Reason)
}

func (e ThinEvidence) Payload() json.RawMessage {
	return marshalEvidence("thin", e)
}

func (e ThinEvidence) render(ctx BusinessContext) string {
	return fmt.Sprintf("The page at %s could not be rendered (%s). Judge from the URL itself and the listing data alone: does the domain plausibly belong to this business?\n", e.URL, e.Reason)
}

func marshalEvidence(kind string, v any) json.RawMessage {
	doc, err := json.Marshal(map[string]any{"kind": kind, "evidence": v})
	if err != nil {
		return json.RawMessage(`{"kind":"` + kind + `"}`)
	}
	return doc
}

const systemPrompt = `You verify whether a URL is a small business's own website. You will get the business's listing data and evidence about the URL.

Rules:
- "valid": the URL is the business's own site, even a poor or outdated one.
- "invalid": the site belongs to the business but is broken, parked, or placeholder content. Keep the URL.
- "missing": the URL is NOT theirs: a directory, aggregator, social profile, a different business, or unrelated content. It must be cleared.

Strong ownership signals: a phone number matching the listing exactly or on its last seven digits; the business name in the page title or a heading; a matching street address or postal code; two or more contact methods that agree with the listing. Mismatch signals: directory or aggregator layout listing many businesses; a different business name and category; no overlap in contact details.

When the evidence is search results and one result is clearly the business's own site, answer "valid" with recommendation "use_url" and put that result's URL in the "url" field.

Respond with JSON only, exactly this schema:
{"verdict": "valid|invalid|missing", "confidence": 0.0, "reasoning": "...", "recommendation": "keep_url|clear_url_and_mark_missing|mark_invalid_keep_url|use_url", "url": "only for use_url", "match_signals": {"phone_match": false, "address_match": false, "name_match": false, "is_directory": false, "is_aggregator": false}}`

// Verifier runs the verification conversation against the configured LLM.
type Verifier struct {
	llm llm.Client
}

func New(client llm.Client) *Verifier {
	return &Verifier{llm: client}
}

// Verify builds the prompt for the evidence form and parses the verdict.
// Schema-invalid output gets one retry; a second failure yields the schema
// failure verdict rather than an error. Transport errors are returned as-is
// so callers can classify transient vs permanent.
func (v *Verifier) Verify(ctx context.Context, bc BusinessContext, ev Evidence) (model.Verdict, error) {
	user := buildUserPrompt(bc, ev)
	start := time.Now()
	defer func() {
		metrics.RecordStageDuration("verify", time.Since(start).Milliseconds())
	}()

	for attempt := 0; attempt < 2; attempt++ {
		raw, err := v.llm.Complete(ctx, llm.Request{System: systemPrompt, User: user})
		if err != nil {
			return model.Verdict{}, fmt.Errorf("verify %s: %w", ev.evidenceKind(), err)
		}
		payload, err := llm.ExtractJSON(raw)
		if err != nil {
			continue
		}
		verdict, err := model.ParseVerdict([]byte(payload))
		if err != nil {
			continue
		}
		return verdict, nil
	}
	return model.SchemaFailureVerdict(), nil
}

func buildUserPrompt(bc BusinessContext, ev Evidence) string {
	var sb strings.Builder
	sb.WriteString("Business listing:\n")
	fmt.Fprintf(&sb, "  Name: %s\n  Category: %s\n", bc.Name, bc.Category)
	if bc.Address != "" {
		fmt.Fprintf(&sb, "  Address: %s\n", bc.Address)
	}
	if bc.City != "" {
		fmt.Fprintf(&sb, "  City: %s, %s\n", bc.City, bc.Region)
	}
	if bc.Phone != "" {
		fmt.Fprintf(&sb, "  Phone: %s\n", bc.Phone)
	}
	sb.WriteString("\nEvidence:\n")
	sb.WriteString(ev.render(bc))
	return sb.String()
}
