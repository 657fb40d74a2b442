// Package generate hands confirmed no-website businesses to the site
// generator and verifies its completion webhook.
package generate

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"prospector/internal/disposition"
	"prospector/internal/metrics"
	"prospector/internal/model"
	"prospector/internal/queue"
	"prospector/internal/store"
)

// SignatureHeader carries the webhook HMAC.
const SignatureHeader = "X-Prospector-Signature"

// Submission is the generator's intake payload.
type Submission struct {
	BusinessID  uuid.UUID `json:"business_id"`
	Name        string    `json:"name"`
	Category    string    `json:"category"`
	Phones      []string  `json:"phones,omitempty"`
	Rating      *float64  `json:"rating,omitempty"`
	ReviewCount *int      `json:"review_count,omitempty"`
	City        string    `json:"city,omitempty"`
	Region      string    `json:"region,omitempty"`
}

type acceptResponse struct {
	Token string `json:"token"`
}

// TransientError marks a generator outage worth retrying.
type TransientError struct {
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("generator status %d", e.Status)
	}
	return "generator: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

// Client posts submissions to the generator service.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// Submit posts one business and returns the generator's accept token.
func (c *Client) Submit(ctx context.Context, sub Submission) (string, error) {
	body, err := json.Marshal(sub)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/sites", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordProviderCall("generator", false)
		return "", &TransientError{Err: err}
	}
	defer resp.Body.Close()
	metrics.RecordProviderCall("generator", resp.StatusCode < 400)

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", &TransientError{Status: resp.StatusCode}
	default:
		return "", fmt.Errorf("generator rejected submission: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &TransientError{Err: err}
	}
	var accept acceptResponse
	if err := json.Unmarshal(data, &accept); err != nil {
		return "", fmt.Errorf("generator response: %w", err)
	}
	if accept.Token == "" {
		return "", fmt.Errorf("generator response: empty token")
	}
	return accept.Token, nil
}

// Submitter executes submit_generation work items.
type Submitter struct {
	Store  *store.Store
	Client *Client
	Logger *slog.Logger

	now func() time.Time
}

func NewSubmitter(st *store.Store, client *Client, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{
		Store:  st,
		Client: client,
		Logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ExecuteSubmitGeneration hands one business to the generator. Idempotent:
// an already-queued business completes silently, and the queued-at guard in
// the store makes a concurrent duplicate a no-op.
func (s *Submitter) ExecuteSubmitGeneration(ctx context.Context, item *queue.WorkItem) error {
	var p disposition.BusinessPayload
	if err := json.Unmarshal(item.Payload, &p); err != nil {
		return queue.Permanent(fmt.Errorf("decode payload: %w", err))
	}

	b, err := s.Store.GetBusiness(ctx, p.BusinessID)
	if errors.Is(err, store.ErrNotFound) {
		s.Logger.Warn("submit item for unknown business", "business_id", p.BusinessID)
		return nil
	}
	if err != nil {
		return err
	}
	if b.GenerationQueuedAt != nil {
		return nil
	}
	if b.Status != model.StatusConfirmedNoWebsite {
		return nil
	}

	campaign, err := s.Store.GetCampaign(ctx, b.CampaignID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if campaign != nil && campaign.Status == model.CampaignCancelled {
		return nil
	}
	// Draft campaigns stop at the verdict: no generation handoff.
	if campaign != nil && campaign.Mode == model.ModeDraft {
		s.Logger.Info("draft campaign, skipping generation", "business_id", b.ID)
		return nil
	}

	sub := Submission{
		BusinessID:  b.ID,
		Name:        b.Name,
		Category:    b.Category,
		Rating:      b.Rating,
		ReviewCount: b.ReviewCount,
		City:        b.City,
		Region:      b.Region,
	}
	if b.Phone != "" {
		sub.Phones = []string{b.Phone}
	}

	token, err := s.Client.Submit(ctx, sub)
	if err != nil {
		var te *TransientError
		if errors.As(err, &te) {
			return err
		}
		return queue.Permanent(err)
	}

	return s.Store.Tx(ctx, func(tx *sql.Tx) error {
		if err := store.MarkGenerationQueued(ctx, tx, b.ID, token, s.now()); err != nil {
			return err
		}
		return store.IncrementZoneGenerationCount(ctx, tx, b.ZoneID)
	})
}

// Sign computes the webhook HMAC for a body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a webhook body against its signature header value
// in constant time.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}
