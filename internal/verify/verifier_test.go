package verify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"prospector/internal/llm"
	"prospector/internal/model"
	"prospector/internal/render"
	"prospector/internal/search"
)

type scriptedLLM struct {
	responses []string
	err       error
	prompts   []llm.Request
}

func (s *scriptedLLM) Complete(ctx context.Context, req llm.Request) (string, error) {
	s.prompts = append(s.prompts, req)
	if s.err != nil {
		return "", s.err
	}
	i := len(s.prompts) - 1
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i], nil
}

func bizContext() BusinessContext {
	return BusinessContext{
		Name:     "Wander CPA",
		Category: "accountant",
		Address:  "812 Wilshire Blvd",
		City:     "Los Angeles",
		Region:   "CA",
		Phone:    "(310) 555-0142",
	}
}

const validVerdict = `{"verdict": "valid", "confidence": 0.92, "reasoning": "phone and name match",
"recommendation": "keep_url", "match_signals": {"phone_match": true, "address_match": false,
"name_match": true, "is_directory": false, "is_aggregator": false}}`

func TestVerifyParsesVerdict(t *testing.T) {
	client := &scriptedLLM{responses: []string{validVerdict}}
	v := New(client)

	verdict, err := v.Verify(context.Background(), bizContext(), PageEvidence{Page: &render.Page{
		FinalURL: "https://wandercpa.com", Title: "Wander CPA", Phones: []string{"3105550142"},
		WordCount: 300,
	}})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verdict.Verdict != model.VerdictValid || !verdict.MatchSignals.PhoneMatch {
		t.Errorf("verdict = %+v", verdict)
	}
	if len(client.prompts) != 1 {
		t.Fatalf("%d prompts", len(client.prompts))
	}
	user := client.prompts[0].User
	for _, want := range []string{"Wander CPA", "accountant", "812 Wilshire Blvd", "(310) 555-0142", "3105550142"} {
		if !strings.Contains(user, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if !strings.Contains(user, "matches the listing phone") {
		t.Error("phone match hint not surfaced in prompt")
	}
}

func TestVerifyRetriesOnceOnMalformedOutput(t *testing.T) {
	client := &scriptedLLM{responses: []string{"I think it is valid.", validVerdict}}
	v := New(client)

	verdict, err := v.Verify(context.Background(), bizContext(), ThinEvidence{URL: "https://wandercpa.com", Reason: "bot wall"})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verdict.Verdict != model.VerdictValid {
		t.Errorf("verdict = %+v", verdict)
	}
	if len(client.prompts) != 2 {
		t.Errorf("%d prompts, want retry", len(client.prompts))
	}
}

func TestVerifySchemaFailureAfterRetry(t *testing.T) {
	client := &scriptedLLM{responses: []string{"not json", "still not json"}}
	v := New(client)

	verdict, err := v.Verify(context.Background(), bizContext(), SearchEvidence{})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verdict.Verdict != model.VerdictMissing || verdict.Confidence != 0 {
		t.Errorf("verdict = %+v, want schema failure verdict", verdict)
	}
	if verdict.Reasoning != "verifier schema failure" {
		t.Errorf("reasoning = %q", verdict.Reasoning)
	}
}

func TestVerifyPropagatesTransportError(t *testing.T) {
	wantErr := &llm.TransientError{Status: 429, Err: errors.New("rate limited")}
	client := &scriptedLLM{err: wantErr}
	v := New(client)

	_, err := v.Verify(context.Background(), bizContext(), SearchEvidence{})
	if !llm.IsTransient(err) {
		t.Errorf("err = %v, want transient", err)
	}
}

func TestSearchEvidencePrompt(t *testing.T) {
	client := &scriptedLLM{responses: []string{validVerdict}}
	v := New(client)

	_, err := v.Verify(context.Background(), bizContext(), SearchEvidence{Results: []search.Result{
		{Title: "Wander CPA - Home", URL: "https://wandercpa.com", Snippet: "CPA firm in LA", Position: 1},
		{Title: "Wander CPA | Yelp", URL: "https://yelp.com/biz/wander", Snippet: "reviews", Position: 2},
	}})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	user := client.prompts[0].User
	if !strings.Contains(user, "https://wandercpa.com") || !strings.Contains(user, "yelp.com") {
		t.Errorf("search results missing from prompt:\n%s", user)
	}
}

func TestEvidencePayloadsAreValidJSON(t *testing.T) {
	evs := []Evidence{
		PageEvidence{Page: &render.Page{FinalURL: "https://x.com", Title: "X"}},
		SearchEvidence{Results: []search.Result{{Title: "t", URL: "u", Position: 1}}},
		ThinEvidence{URL: "https://x.com", Reason: "bot wall"},
	}
	for _, ev := range evs {
		var doc map[string]any
		if err := json.Unmarshal(ev.Payload(), &doc); err != nil {
			t.Errorf("%s payload: %v", ev.Summary(), err)
		}
		if doc["kind"] == "" {
			t.Errorf("%s payload missing kind", ev.Summary())
		}
	}
}
