package disposition

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"prospector/internal/model"
	"prospector/internal/prescreen"
	"prospector/internal/queue"
	"prospector/internal/render"
	"prospector/internal/store"
	"prospector/internal/urlnorm"
	"prospector/internal/verify"
)

func testEngine() *Engine {
	e := &Engine{SearchTopN: 5}
	e.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return e
}

func testBusiness(status model.WebsiteStatus) *model.Business {
	return &model.Business{
		ID:     uuid.New(),
		Name:   "Wander CPA",
		City:   "Los Angeles",
		Status: status,
	}
}

func TestTransitionMap(t *testing.T) {
	allowed := []struct{ from, to model.WebsiteStatus }{
		{model.StatusPending, model.StatusNeedsDiscovery},
		{model.StatusPending, model.StatusValidating},
		{model.StatusValidating, model.StatusValidFromProvider},
		{model.StatusValidating, model.StatusValidFromSearch},
		{model.StatusValidating, model.StatusInvalidTechnical},
		{model.StatusValidating, model.StatusNeedsDiscovery},
		{model.StatusValidating, model.StatusError},
		{model.StatusNeedsDiscovery, model.StatusDiscoveryInProgress},
		{model.StatusDiscoveryInProgress, model.StatusValidating},
		{model.StatusDiscoveryInProgress, model.StatusConfirmedNoWebsite},
		{model.StatusDiscoveryInProgress, model.StatusError},
		{model.StatusNeedsVerification, model.StatusValidFromProvider},
		{model.StatusNeedsVerification, model.StatusNeedsDiscovery},
		{model.StatusInvalidTechnical, model.StatusNeedsVerification},
		{model.StatusError, model.StatusNeedsVerification},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be allowed", tc.from, tc.to)
		}
	}

	forbidden := []struct{ from, to model.WebsiteStatus }{
		{model.StatusPending, model.StatusValidFromProvider},
		{model.StatusConfirmedNoWebsite, model.StatusValidating},
		{model.StatusValidFromProvider, model.StatusNeedsDiscovery},
		{model.StatusNeedsDiscovery, model.StatusValidating},
		{model.StatusInvalidTechnical, model.StatusValidating},
	}
	for _, tc := range forbidden {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be rejected", tc.from, tc.to)
		}
	}
}

func TestTransitionRejectsUnknownEdge(t *testing.T) {
	b := testBusiness(model.StatusConfirmedNoWebsite)
	err := Transition(b, model.StatusValidating)
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("err = %v, want InvalidTransitionError", err)
	}
	if b.Status != model.StatusConfirmedNoWebsite {
		t.Error("failed transition mutated the business")
	}
}

func TestPrescreenOutcomeSemanticFailureClearsAndDiscovers(t *testing.T) {
	e := testEngine()
	b := testBusiness(model.StatusValidating)

	out := e.prescreenOutcome(b, "https://yelp.com/biz/wander", prescreen.Result{
		Reason: prescreen.ReasonBlockedHost, Detail: "yelp.com",
	}, 5)

	if out.to != model.StatusNeedsDiscovery || !out.clearURL {
		t.Errorf("outcome = %+v, want clear + needs_discovery", out)
	}
	if out.followUp == nil || out.followUp.Kind != queue.KindDiscoverWebsite {
		t.Fatalf("follow-up = %+v, want discover item", out.followUp)
	}
	if out.followUp.DedupKey != queue.DiscoverDedupKey(b.ID) {
		t.Errorf("dedup key = %q", out.followUp.DedupKey)
	}
	if out.followUp.MaxAttempts != 2 {
		t.Errorf("discover max attempts = %d, want 2", out.followUp.MaxAttempts)
	}
	if out.entry.Verdict != model.VerdictMissing || out.record.Stage != store.StagePrescreen {
		t.Errorf("entry/record = %+v / %+v", out.entry, out.record)
	}
}

func TestPrescreenOutcomeTechnicalFailureKeepsURL(t *testing.T) {
	e := testEngine()
	b := testBusiness(model.StatusValidating)

	out := e.prescreenOutcome(b, "https://wandercpa.com", prescreen.Result{
		Reason: prescreen.ReasonDNSFailure, Detail: "no such host",
	}, 5)

	if out.to != model.StatusInvalidTechnical || out.clearURL {
		t.Errorf("outcome = %+v, want keep URL + invalid_technical", out)
	}
	if out.followUp != nil {
		t.Error("technical failure should not schedule discovery")
	}
	if out.entry.Verdict != model.VerdictInvalid {
		t.Errorf("entry verdict = %s", out.entry.Verdict)
	}
}

func TestVerdictOutcomeValidByProvider(t *testing.T) {
	e := testEngine()
	b := testBusiness(model.StatusValidating)
	b.Metadata.Source = model.SourceProvider

	page := &render.Page{FinalURL: "https://wandercpa.com", WordCount: 300, Phones: []string{"3105550142"}}
	out, err := e.verdictOutcome(b, "https://wandercpa.com", model.Verdict{
		Verdict: model.VerdictValid, Confidence: 0.9, Recommendation: model.RecommendKeepURL,
	}, verify.PageEvidence{Page: page}, page, 5)
	if err != nil {
		t.Fatal(err)
	}
	if out.to != model.StatusValidFromProvider {
		t.Errorf("to = %s", out.to)
	}
	if out.quality == nil || *out.quality <= 0 {
		t.Errorf("quality = %v, want scored", out.quality)
	}
	if out.followUp != nil {
		t.Error("valid verdict should not schedule follow-up work")
	}
}

func TestVerdictOutcomeValidBySearchSource(t *testing.T) {
	e := testEngine()
	b := testBusiness(model.StatusValidating)
	b.Metadata.Source = model.SourceSearch

	out, err := e.verdictOutcome(b, "https://wandercpa.com", model.Verdict{
		Verdict: model.VerdictValid, Confidence: 0.8, Recommendation: model.RecommendKeepURL,
	}, verify.ThinEvidence{URL: "https://wandercpa.com", Reason: "bot wall"}, nil, 5)
	if err != nil {
		t.Fatal(err)
	}
	if out.to != model.StatusValidFromSearch {
		t.Errorf("to = %s, want valid_from_search for a search-discovered URL", out.to)
	}
	if out.quality != nil {
		t.Error("thin evidence cannot produce a quality score")
	}
}

func TestVerdictOutcomeMissingClearsAndDiscovers(t *testing.T) {
	e := testEngine()
	b := testBusiness(model.StatusValidating)

	out, err := e.verdictOutcome(b, "https://directory.example.com/wander", model.Verdict{
		Verdict: model.VerdictMissing, Confidence: 0.95, Recommendation: model.RecommendClearURL,
	}, verify.ThinEvidence{URL: "x", Reason: "y"}, nil, 7)
	if err != nil {
		t.Fatal(err)
	}
	if out.to != model.StatusNeedsDiscovery || !out.clearURL {
		t.Errorf("outcome = %+v", out)
	}
	if out.source != model.SourceNone {
		t.Errorf("source = %q, want none when previously unset", out.source)
	}
	if out.followUp == nil || out.followUp.Kind != queue.KindDiscoverWebsite || out.followUp.Priority != 7 {
		t.Errorf("follow-up = %+v", out.followUp)
	}
}

func TestVerdictOutcomeInvalidKeepsURL(t *testing.T) {
	e := testEngine()
	b := testBusiness(model.StatusValidating)

	out, err := e.verdictOutcome(b, "https://wandercpa.com", model.Verdict{
		Verdict: model.VerdictInvalid, Confidence: 0.7, Recommendation: model.RecommendMarkInvalidKeepURL,
	}, verify.ThinEvidence{URL: "x", Reason: "y"}, nil, 5)
	if err != nil {
		t.Fatal(err)
	}
	if out.to != model.StatusInvalidTechnical || out.clearURL {
		t.Errorf("outcome = %+v", out)
	}
}

func TestProviderCandidateScansSnapshotsNewestFirst(t *testing.T) {
	e := testEngine()
	b := testBusiness(model.StatusDiscoveryInProgress)
	b.RawSnapshots = []model.RawSnapshot{
		{Payload: json.RawMessage(`{"name": "Wander CPA"}`)},
		{Payload: json.RawMessage(`{"name": "Wander CPA", "domain": "wandercpa.com"}`)},
	}

	if got := e.providerCandidate(b); got != "https://wandercpa.com" {
		t.Errorf("candidate = %q", got)
	}

	b.RawSnapshots = b.RawSnapshots[:1]
	if got := e.providerCandidate(b); got != "" {
		t.Errorf("candidate = %q, want none", got)
	}
}

func TestSeenSetBlocksRediscoveredURLs(t *testing.T) {
	meta := model.WebsiteMetadata{}
	meta = meta.AppendHistory(model.ValidationEntry{URLEvaluated: "https://www.wandercpa.com/"})

	seen := urlnorm.NewSeenSet(meta.EvaluatedURLs())
	if !seen.Contains("http://www.wandercpa.com") {
		t.Error("scheme/slash variants of an evaluated URL must count as seen")
	}
	if seen.Contains("https://other-site.com") {
		t.Error("unseen URL flagged as seen")
	}
}
