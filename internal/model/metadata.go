package model

import "time"

// WebsiteSource records where the current candidate URL came from.
type WebsiteSource string

const (
	SourceProvider WebsiteSource = "provider"
	SourceSearch   WebsiteSource = "search"
	SourceManual   WebsiteSource = "manual"
	SourceNone     WebsiteSource = "none"
)

// Discovery method names used as keys in WebsiteMetadata.DiscoveryAttempts.
const (
	DiscoveryMethodProvider = "provider"
	DiscoveryMethodSearch   = "search"
)

// ValidationEntry is one line of a business's validation history. Entries
// are append-only; the latest entry always agrees with the business's state.
type ValidationEntry struct {
	Timestamp       time.Time      `json:"timestamp"`
	URLEvaluated    string         `json:"urlEvaluated"`
	Verdict         VerdictKind    `json:"verdict"`
	Confidence      float64        `json:"confidence"`
	Reasoning       string         `json:"reasoning"`
	Recommendation  Recommendation `json:"recommendation,omitempty"`
	EvidenceSummary string         `json:"evidenceSummary,omitempty"`
}

// DiscoveryAttempt records the outcome of one discovery method.
type DiscoveryAttempt struct {
	Attempted bool      `json:"attempted"`
	Timestamp time.Time `json:"timestamp"`
	FoundURL  string    `json:"foundUrl,omitempty"`
	Verdict   string    `json:"verdict,omitempty"`
}

// WebsiteMetadata is the structured audit record embedded in a Business.
// ValidationHistory is never compacted or reordered.
type WebsiteMetadata struct {
	Source            WebsiteSource               `json:"source"`
	SourceTimestamp   *time.Time                  `json:"sourceTimestamp,omitempty"`
	ValidationHistory []ValidationEntry           `json:"validationHistory,omitempty"`
	DiscoveryAttempts map[string]DiscoveryAttempt `json:"discoveryAttempts,omitempty"`
	Notes             string                      `json:"notes,omitempty"`
}

// AppendHistory returns a copy of m with one more history entry. The value
// receiver is deliberate: callers hold the only mutable copy inside a store
// transaction.
func (m WebsiteMetadata) AppendHistory(e ValidationEntry) WebsiteMetadata {
	h := make([]ValidationEntry, 0, len(m.ValidationHistory)+1)
	h = append(h, m.ValidationHistory...)
	h = append(h, e)
	m.ValidationHistory = h
	return m
}

// RecordDiscovery returns a copy of m with the attempt recorded under method.
func (m WebsiteMetadata) RecordDiscovery(method string, a DiscoveryAttempt) WebsiteMetadata {
	attempts := make(map[string]DiscoveryAttempt, len(m.DiscoveryAttempts)+1)
	for k, v := range m.DiscoveryAttempts {
		attempts[k] = v
	}
	attempts[method] = a
	m.DiscoveryAttempts = attempts
	return m
}

// LastEntry returns the most recent history entry, or nil when empty.
func (m WebsiteMetadata) LastEntry() *ValidationEntry {
	if len(m.ValidationHistory) == 0 {
		return nil
	}
	return &m.ValidationHistory[len(m.ValidationHistory)-1]
}

// EvaluatedURLs lists every URL that has ever appeared in the history, in
// order, including duplicates. Loop prevention normalizes and de-duplicates
// this list; the raw order is kept here for audits.
func (m WebsiteMetadata) EvaluatedURLs() []string {
	urls := make([]string, 0, len(m.ValidationHistory))
	for _, e := range m.ValidationHistory {
		if e.URLEvaluated != "" {
			urls = append(urls, e.URLEvaluated)
		}
	}
	return urls
}
