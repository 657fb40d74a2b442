package disposition

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"prospector/internal/listing"
	"prospector/internal/llm"
	"prospector/internal/metrics"
	"prospector/internal/model"
	"prospector/internal/prescreen"
	"prospector/internal/queue"
	"prospector/internal/render"
	"prospector/internal/search"
	"prospector/internal/store"
	"prospector/internal/urlnorm"
	"prospector/internal/verify"
)

// Prescreener runs the cheap URL gate.
type Prescreener interface {
	Check(ctx context.Context, url string) prescreen.Result
}

// Renderer fetches a page and extracts facts.
type Renderer interface {
	Render(ctx context.Context, url string) (*render.Page, error)
}

// Verifier asks the LLM for an ownership verdict.
type Verifier interface {
	Verify(ctx context.Context, bc verify.BusinessContext, ev verify.Evidence) (model.Verdict, error)
}

// Searcher runs a web search for the business.
type Searcher interface {
	Search(ctx context.Context, query, country string) ([]search.Result, error)
}

// BusinessPayload is the work-item payload for validate and discover items.
type BusinessPayload struct {
	BusinessID uuid.UUID `json:"businessId"`
}

// Engine executes validate_business and discover_website items.
type Engine struct {
	Store      *store.Store
	Prescreen  Prescreener
	Renderer   Renderer
	Verifier   Verifier
	Searcher   Searcher
	SearchTopN int
	Logger     *slog.Logger

	now func() time.Time
}

func NewEngine(st *store.Store, pre Prescreener, rend Renderer, ver Verifier, sea Searcher, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Store:      st,
		Prescreen:  pre,
		Renderer:   rend,
		Verifier:   ver,
		Searcher:   sea,
		SearchTopN: 5,
		Logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// outcome is one committed step: the target state plus everything that must
// land in the same transaction.
type outcome struct {
	to       model.WebsiteStatus
	setURL   *string // nil leaves the URL alone
	clearURL bool
	source   model.WebsiteSource // "" leaves the source alone
	quality  *int

	entry  *model.ValidationEntry
	record *store.ValidationRecord

	followUp *queue.Item

	discoveryQueued    bool
	discoveryCompleted bool
}

// ExecuteValidate runs the validation pipeline for one business. A nil
// return completes the work item; transient errors bubble up for retry.
func (e *Engine) ExecuteValidate(ctx context.Context, item *queue.WorkItem) error {
	b, skip, err := e.loadEligible(ctx, item.Payload)
	if err != nil || skip {
		return err
	}
	switch b.Status {
	case model.StatusPending, model.StatusValidating, model.StatusNeedsVerification:
	default:
		// Duplicate delivery after the transition already happened.
		return nil
	}
	lastAttempt := item.Attempts+1 >= item.MaxAttempts

	url := b.CurrentURL()
	if url == "" {
		return e.commit(ctx, b.ID, outcome{
			to:              model.StatusNeedsDiscovery,
			followUp:        e.discoverItem(b.ID, item.Priority),
			discoveryQueued: true,
		})
	}

	if res := e.Prescreen.Check(ctx, url); !res.Pass {
		return e.applyPrescreenFailure(ctx, b, url, res, item.Priority)
	}

	var ev verify.Evidence
	var page *render.Page
	page, err = e.Renderer.Render(ctx, url)
	switch {
	case err == nil:
		ev = verify.PageEvidence{Page: page}
	default:
		re, ok := render.AsRenderError(err)
		if ok && re.Kind == render.KindBotWall {
			// The site exists but will not let a browser in. Judge on what
			// the listing and the URL alone can tell.
			ev = verify.ThinEvidence{URL: url, Reason: string(re.Kind)}
		} else if lastAttempt {
			return e.commit(ctx, b.ID, outcome{
				to: model.StatusInvalidTechnical,
				entry: e.historyEntry(url, model.Verdict{
					Verdict:        model.VerdictInvalid,
					Reasoning:      "render failed: " + err.Error(),
					Recommendation: model.RecommendMarkInvalidKeepURL,
				}, "render exhausted"),
			})
		} else {
			return fmt.Errorf("render %s: %w", url, err)
		}
	}

	verdict, err := e.Verifier.Verify(ctx, verify.ContextFor(b), ev)
	if err != nil {
		if llm.IsTransient(err) && !lastAttempt {
			return err
		}
		return e.commit(ctx, b.ID, outcome{
			to: model.StatusError,
			entry: e.historyEntry(url, model.Verdict{
				Verdict:        model.VerdictMissing,
				Reasoning:      "verifier failed: " + err.Error(),
				Recommendation: model.RecommendKeepURL,
			}, ev.Summary()),
		})
	}

	return e.applyVerdict(ctx, b, url, verdict, ev, page, item.Priority)
}

func (e *Engine) applyPrescreenFailure(ctx context.Context, b *model.Business, url string, res prescreen.Result, priority int) error {
	return e.commit(ctx, b.ID, e.prescreenOutcome(b, url, res, priority))
}

// prescreenOutcome maps a failed prescreen to its disposition: semantic
// failures clear the URL and discover, technical ones keep it and mark the
// business technically invalid.
func (e *Engine) prescreenOutcome(b *model.Business, url string, res prescreen.Result, priority int) outcome {
	evidence, _ := json.Marshal(map[string]any{"kind": "prescreen", "evidence": res})
	if res.Reason.Semantic() {
		v := model.Verdict{
			Verdict:        model.VerdictMissing,
			Confidence:     1,
			Reasoning:      fmt.Sprintf("prescreen: %s (%s)", res.Reason, res.Detail),
			Recommendation: model.RecommendClearURL,
		}
		return outcome{
			to:              model.StatusNeedsDiscovery,
			clearURL:        true,
			entry:           e.historyEntry(url, v, "prescreen "+string(res.Reason)),
			record:          &store.ValidationRecord{BusinessID: b.ID, URLEvaluated: url, Stage: store.StagePrescreen, Evidence: evidence, Verdict: v},
			followUp:        e.discoverItem(b.ID, priority),
			discoveryQueued: true,
		}
	}

	v := model.Verdict{
		Verdict:        model.VerdictInvalid,
		Confidence:     1,
		Reasoning:      fmt.Sprintf("prescreen: %s (%s)", res.Reason, res.Detail),
		Recommendation: model.RecommendMarkInvalidKeepURL,
	}
	return outcome{
		to:     model.StatusInvalidTechnical,
		entry:  e.historyEntry(url, v, "prescreen "+string(res.Reason)),
		record: &store.ValidationRecord{BusinessID: b.ID, URLEvaluated: url, Stage: store.StagePrescreen, Evidence: evidence, Verdict: v},
	}
}

func (e *Engine) applyVerdict(ctx context.Context, b *model.Business, url string, verdict model.Verdict, ev verify.Evidence, page *render.Page, priority int) error {
	out, err := e.verdictOutcome(b, url, verdict, ev, page, priority)
	if err != nil {
		return err
	}
	return e.commit(ctx, b.ID, out)
}

// verdictOutcome maps a verifier verdict to its disposition.
func (e *Engine) verdictOutcome(b *model.Business, url string, verdict model.Verdict, ev verify.Evidence, page *render.Page, priority int) (outcome, error) {
	out := outcome{
		entry:  e.historyEntry(url, verdict, ev.Summary()),
		record: &store.ValidationRecord{BusinessID: b.ID, URLEvaluated: url, Stage: store.StageRenderVerify, Evidence: ev.Payload(), Verdict: verdict},
	}

	switch verdict.Verdict {
	case model.VerdictValid:
		if b.Metadata.Source == model.SourceSearch {
			out.to = model.StatusValidFromSearch
		} else {
			out.to = model.StatusValidFromProvider
		}
		if page != nil {
			q := render.QualityScore(page)
			out.quality = &q
		}
	case model.VerdictInvalid:
		out.to = model.StatusInvalidTechnical
	case model.VerdictMissing:
		out.to = model.StatusNeedsDiscovery
		out.clearURL = true
		if b.Metadata.Source == "" {
			out.source = model.SourceNone
		}
		out.followUp = e.discoverItem(b.ID, priority)
		out.discoveryQueued = true
	default:
		return outcome{}, queue.Permanent(fmt.Errorf("unknown verdict %q", verdict.Verdict))
	}
	return out, nil
}

// ExecuteDiscover tries to find a website for a business whose candidate
// was cleared: first by re-reading the provider snapshots, then by search.
func (e *Engine) ExecuteDiscover(ctx context.Context, item *queue.WorkItem) error {
	b, skip, err := e.loadEligible(ctx, item.Payload)
	if err != nil || skip {
		return err
	}
	switch b.Status {
	case model.StatusNeedsDiscovery:
		if err := e.commit(ctx, b.ID, outcome{to: model.StatusDiscoveryInProgress, discoveryQueued: true}); err != nil {
			return err
		}
		b.Status = model.StatusDiscoveryInProgress
	case model.StatusDiscoveryInProgress:
	default:
		return nil
	}
	lastAttempt := item.Attempts+1 >= item.MaxAttempts
	seen := urlnorm.NewSeenSet(b.Metadata.EvaluatedURLs())

	// Method 1: the provider sometimes has a URL under a field normalization
	// did not pick, or a later snapshot filled one in.
	providerURL := e.providerCandidate(b)
	if providerURL != "" && !seen.Contains(providerURL) {
		attempt := model.DiscoveryAttempt{Attempted: true, Timestamp: e.now(), FoundURL: providerURL}
		return e.commit(ctx, b.ID, outcome{
			to:                 model.StatusValidating,
			setURL:             &providerURL,
			source:             model.SourceProvider,
			followUp:           e.validateItem(b.ID, item.Priority),
			discoveryCompleted: true,
			entry:              nil,
		}, func(m model.WebsiteMetadata) model.WebsiteMetadata {
			return m.RecordDiscovery(model.DiscoveryMethodProvider, attempt)
		})
	}

	// Method 2: web search plus verification over the top results.
	results, err := e.Searcher.Search(ctx, search.Query(b.Name, b.City), strings.ToLower(b.Country))
	if err != nil {
		if search.IsTransient(err) && !lastAttempt {
			return err
		}
		return e.commit(ctx, b.ID, outcome{
			to:                 model.StatusError,
			discoveryCompleted: true,
			entry: e.historyEntry("", model.Verdict{
				Verdict:        model.VerdictMissing,
				Reasoning:      "search failed: " + err.Error(),
				Recommendation: model.RecommendClearURL,
			}, "search error"),
		})
	}

	if len(results) > e.SearchTopN && e.SearchTopN > 0 {
		results = results[:e.SearchTopN]
	}
	if len(results) == 0 {
		return e.confirmNoWebsite(ctx, b, model.DiscoveryAttempt{Attempted: true, Timestamp: e.now(), Verdict: "no results"}, nil, item.Priority)
	}

	ev := verify.SearchEvidence{Results: results}
	verdict, err := e.Verifier.Verify(ctx, verify.ContextFor(b), ev)
	if err != nil {
		if llm.IsTransient(err) && !lastAttempt {
			return err
		}
		return e.commit(ctx, b.ID, outcome{
			to:                 model.StatusError,
			discoveryCompleted: true,
			entry: e.historyEntry("", model.Verdict{
				Verdict:        model.VerdictMissing,
				Reasoning:      "verifier failed: " + err.Error(),
				Recommendation: model.RecommendClearURL,
			}, ev.Summary()),
		})
	}

	record := &store.ValidationRecord{
		BusinessID: b.ID, URLEvaluated: verdict.URL,
		Stage: store.StageSearchVerify, Evidence: ev.Payload(), Verdict: verdict,
	}
	attempt := model.DiscoveryAttempt{
		Attempted: true, Timestamp: e.now(),
		FoundURL: verdict.URL, Verdict: string(verdict.Verdict),
	}

	if verdict.Verdict == model.VerdictValid && verdict.Recommendation == model.RecommendUseURL &&
		verdict.URL != "" && !seen.Contains(verdict.URL) {
		found := verdict.URL
		return e.commit(ctx, b.ID, outcome{
			to:                 model.StatusValidating,
			setURL:             &found,
			source:             model.SourceSearch,
			entry:              e.historyEntry(found, verdict, ev.Summary()),
			record:             record,
			followUp:           e.validateItem(b.ID, item.Priority),
			discoveryCompleted: true,
		}, func(m model.WebsiteMetadata) model.WebsiteMetadata {
			return m.RecordDiscovery(model.DiscoveryMethodSearch, attempt)
		})
	}

	// Already-seen URL, a missing verdict, or nothing usable: the business
	// has no website we can find.
	entry := e.historyEntry(verdict.URL, verdict, ev.Summary())
	return e.confirmNoWebsite(ctx, b, attempt, func(out *outcome) {
		out.entry = entry
		out.record = record
	}, item.Priority)
}

func (e *Engine) confirmNoWebsite(ctx context.Context, b *model.Business, attempt model.DiscoveryAttempt, mutate func(*outcome), priority int) error {
	out := outcome{
		to:                 model.StatusConfirmedNoWebsite,
		discoveryCompleted: true,
		followUp: &queue.Item{
			Kind:        queue.KindSubmitGeneration,
			Payload:     BusinessPayload{BusinessID: b.ID},
			Priority:    priority,
			DedupKey:    queue.SubmitDedupKey(b.ID),
			MaxAttempts: queue.DefaultMaxAttempts(queue.KindSubmitGeneration),
		},
	}
	if mutate != nil {
		mutate(&out)
	}
	return e.commit(ctx, b.ID, out, func(m model.WebsiteMetadata) model.WebsiteMetadata {
		return m.RecordDiscovery(model.DiscoveryMethodSearch, attempt)
	})
}

// providerCandidate re-extracts a URL from the stored snapshots, newest
// first.
func (e *Engine) providerCandidate(b *model.Business) string {
	for i := len(b.RawSnapshots) - 1; i >= 0; i-- {
		if u := listing.ExtractWebsite(b.RawSnapshots[i].Payload); u != "" {
			return u
		}
	}
	return ""
}

// loadEligible fetches the business and applies the universal
// short-circuits: unknown id, terminal state, cancelled campaign.
func (e *Engine) loadEligible(ctx context.Context, payload json.RawMessage) (*model.Business, bool, error) {
	var p BusinessPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, true, queue.Permanent(fmt.Errorf("decode payload: %w", err))
	}
	b, err := e.Store.GetBusiness(ctx, p.BusinessID)
	if errors.Is(err, store.ErrNotFound) {
		e.Logger.Warn("work item for unknown business", "business_id", p.BusinessID)
		return nil, true, nil
	}
	if err != nil {
		return nil, true, err
	}
	if b.Status.Terminal() {
		return nil, true, nil
	}
	campaign, err := e.Store.GetCampaign(ctx, b.CampaignID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, true, err
	}
	if campaign != nil && campaign.Status == model.CampaignCancelled {
		return nil, true, nil
	}
	return b, false, nil
}

// commit applies one outcome atomically: the business row, its metadata,
// the validation record, and the follow-up item all land or none do. The
// FOR UPDATE reload serializes concurrent handlers on the same business.
func (e *Engine) commit(ctx context.Context, businessID uuid.UUID, out outcome, metaFns ...func(model.WebsiteMetadata) model.WebsiteMetadata) error {
	var applied bool
	err := e.Store.Tx(ctx, func(tx *sql.Tx) error {
		b, err := store.GetBusinessForUpdate(ctx, tx, businessID)
		if err != nil {
			return err
		}
		if b.Status.Terminal() {
			return nil
		}
		// pending reaches its verdict through an implicit validating step.
		if b.Status == model.StatusPending && out.to != model.StatusNeedsDiscovery && out.to != model.StatusValidating {
			if err := Transition(b, model.StatusValidating); err != nil {
				return queue.Permanent(err)
			}
		}
		if err := Transition(b, out.to); err != nil {
			return queue.Permanent(err)
		}

		now := e.now()
		if out.clearURL {
			b.WebsiteURL = nil
		}
		if out.setURL != nil {
			u := *out.setURL
			b.WebsiteURL = &u
		}
		if out.source != "" {
			b.Metadata.Source = out.source
			ts := now
			b.Metadata.SourceTimestamp = &ts
		}
		if out.quality != nil {
			b.QualityScore = out.quality
		}
		if out.discoveryQueued && b.DiscoveryQueuedAt == nil {
			ts := now
			b.DiscoveryQueuedAt = &ts
		}
		if out.discoveryCompleted {
			ts := now
			b.DiscoveryCompletedAt = &ts
		}
		for _, fn := range metaFns {
			b.Metadata = fn(b.Metadata)
		}
		if out.entry != nil {
			b.Metadata = b.Metadata.AppendHistory(*out.entry)
		}

		if err := store.UpdateDisposition(ctx, tx, b); err != nil {
			return err
		}
		if out.record != nil {
			if err := store.InsertValidationRecord(ctx, tx, out.record); err != nil {
				return err
			}
		}
		if out.followUp != nil {
			if _, err := queue.Enqueue(ctx, tx, *out.followUp); err != nil {
				return err
			}
		}
		applied = true
		return nil
	})
	if err == nil && applied {
		metrics.RecordDisposition(string(out.to))
	}
	return err
}

func (e *Engine) historyEntry(url string, v model.Verdict, summary string) *model.ValidationEntry {
	return &model.ValidationEntry{
		Timestamp:       e.now(),
		URLEvaluated:    url,
		Verdict:         v.Verdict,
		Confidence:      v.Confidence,
		Reasoning:       v.Reasoning,
		Recommendation:  v.Recommendation,
		EvidenceSummary: summary,
	}
}

func (e *Engine) discoverItem(businessID uuid.UUID, priority int) *queue.Item {
	return &queue.Item{
		Kind:        queue.KindDiscoverWebsite,
		Payload:     BusinessPayload{BusinessID: businessID},
		Priority:    priority,
		DedupKey:    queue.DiscoverDedupKey(businessID),
		MaxAttempts: queue.DefaultMaxAttempts(queue.KindDiscoverWebsite),
	}
}

func (e *Engine) validateItem(businessID uuid.UUID, priority int) *queue.Item {
	return &queue.Item{
		Kind:        queue.KindValidateBusiness,
		Payload:     BusinessPayload{BusinessID: businessID},
		Priority:    priority,
		DedupKey:    queue.ValidateDedupKey(businessID),
		MaxAttempts: queue.DefaultMaxAttempts(queue.KindValidateBusiness),
	}
}
