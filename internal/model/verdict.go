package model

import (
	"encoding/json"
	"fmt"
)

// VerdictKind is the verifier's top-level conclusion about a URL.
//
//   - valid: the evidence establishes the URL is the business's own site,
//     even if the site is low quality.
//   - invalid: the URL is theirs but broken or placeholder; keep it and mark
//     the business technically invalid.
//   - missing: the URL is not theirs (directory, aggregator, unrelated,
//     social profile); clear it.
type VerdictKind string

const (
	VerdictValid   VerdictKind = "valid"
	VerdictInvalid VerdictKind = "invalid"
	VerdictMissing VerdictKind = "missing"
)

// VerdictOperator marks operator-initiated history entries. It never comes
// from the verifier and is not part of the LLM schema.
const VerdictOperator VerdictKind = "operator_requeue"

// Recommendation is the verifier's suggested action.
type Recommendation string

const (
	RecommendKeepURL            Recommendation = "keep_url"
	RecommendClearURL           Recommendation = "clear_url_and_mark_missing"
	RecommendMarkInvalidKeepURL Recommendation = "mark_invalid_keep_url"
	RecommendUseURL             Recommendation = "use_url"
)

// MatchSignals are the individual boolean signals the verifier extracted
// from the evidence.
type MatchSignals struct {
	PhoneMatch   bool `json:"phone_match"`
	AddressMatch bool `json:"address_match"`
	NameMatch    bool `json:"name_match"`
	IsDirectory  bool `json:"is_directory"`
	IsAggregator bool `json:"is_aggregator"`
}

// Verdict is the schema-constrained verifier output. Field names are the
// LLM wire contract; they are stored verbatim in validation records.
// When Recommendation is use_url, URL carries the suggested candidate.
type Verdict struct {
	Verdict        VerdictKind    `json:"verdict"`
	Confidence     float64        `json:"confidence"`
	Reasoning      string         `json:"reasoning"`
	Recommendation Recommendation `json:"recommendation"`
	URL            string         `json:"url,omitempty"`
	MatchSignals   MatchSignals   `json:"match_signals"`
}

// SchemaFailureVerdict is what the verifier returns after its retry also
// produced unparseable output. Callers treat it as low-confidence missing.
func SchemaFailureVerdict() Verdict {
	return Verdict{
		Verdict:        VerdictMissing,
		Confidence:     0,
		Reasoning:      "verifier schema failure",
		Recommendation: RecommendClearURL,
	}
}

// Validate checks the verdict against the schema contract.
func (v *Verdict) Validate() error {
	switch v.Verdict {
	case VerdictValid, VerdictInvalid, VerdictMissing:
	default:
		return fmt.Errorf("unknown verdict %q", v.Verdict)
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range", v.Confidence)
	}
	switch v.Recommendation {
	case RecommendKeepURL, RecommendClearURL, RecommendMarkInvalidKeepURL:
	case RecommendUseURL:
		if v.URL == "" {
			return fmt.Errorf("recommendation use_url without url")
		}
	case "":
		return fmt.Errorf("missing recommendation")
	default:
		return fmt.Errorf("unknown recommendation %q", v.Recommendation)
	}
	return nil
}

// ParseVerdict decodes and validates a verdict JSON document.
func ParseVerdict(data []byte) (Verdict, error) {
	var v Verdict
	if err := json.Unmarshal(data, &v); err != nil {
		return Verdict{}, fmt.Errorf("decode verdict: %w", err)
	}
	if err := v.Validate(); err != nil {
		return Verdict{}, err
	}
	return v, nil
}
