package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CampaignMode selects how aggressively a campaign is executed. Draft
// campaigns run the full pipeline but are excluded from generation handoff.
type CampaignMode string

const (
	ModeDraft CampaignMode = "draft"
	ModeLive  CampaignMode = "live"
)

// CampaignStatus is the campaign lifecycle state.
type CampaignStatus string

const (
	CampaignActive    CampaignStatus = "active"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// PlannerMode records which zone-planning strategy produced a campaign's zones.
type PlannerMode string

const (
	PlannerUniform  PlannerMode = "uniform"
	PlannerAdaptive PlannerMode = "adaptive"
)

// Campaign is a user request to ingest leads for one
// (country, region, city, category) tuple. Immutable after creation apart
// from its lifecycle fields.
type Campaign struct {
	ID          uuid.UUID       `json:"id"`
	Country     string          `json:"country"`
	Region      string          `json:"region"`
	City        string          `json:"city"`
	Category    string          `json:"category"`
	Mode        CampaignMode    `json:"mode"`
	Status      CampaignStatus  `json:"status"`
	PlannerMode PlannerMode     `json:"plannerMode"`
	Plan        json.RawMessage `json:"plan,omitempty"`
	RequestedAt time.Time       `json:"requestedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	CancelledAt *time.Time      `json:"cancelledAt,omitempty"`
}

// ZoneStatus is the scrape lifecycle of a single zone.
type ZoneStatus string

const (
	ZonePending   ZoneStatus = "pending"
	ZoneScraping  ZoneStatus = "scraping"
	ZoneCompleted ZoneStatus = "completed"
	ZoneFailed    ZoneStatus = "failed"
	ZoneSkipped   ZoneStatus = "skipped"
)

// Terminal reports whether a zone needs no further scrape work.
func (s ZoneStatus) Terminal() bool {
	return s == ZoneCompleted || s == ZoneFailed || s == ZoneSkipped
}

// Zone is one geographic search partition within a campaign.
type Zone struct {
	ID            uuid.UUID  `json:"id"`
	CampaignID    uuid.UUID  `json:"campaignId"`
	Slug          string     `json:"zoneId"`
	CenterLat     float64    `json:"centerLat"`
	CenterLon     float64    `json:"centerLon"`
	RadiusKm      float64    `json:"radiusKm"`
	Priority      int        `json:"priority"`
	Status        ZoneStatus `json:"status"`
	LastAttemptAt *time.Time `json:"lastAttemptAt,omitempty"`
	AttemptCount  int        `json:"attemptCount"`
	ErrorMessage  string     `json:"errorMessage,omitempty"`

	RawCount                 int `json:"rawCount"`
	SavedCount               int `json:"savedCount"`
	WithWebsiteCount         int `json:"withWebsiteCount"`
	WithoutWebsiteCount      int `json:"withoutWebsiteCount"`
	QueuedForGenerationCount int `json:"queuedForGenerationCount"`
}

// WebsiteStatus is the per-business disposition state (§ state machine in
// the disposition package; this is only the enum).
type WebsiteStatus string

const (
	StatusPending             WebsiteStatus = "pending"
	StatusNeedsDiscovery      WebsiteStatus = "needs_discovery"
	StatusDiscoveryInProgress WebsiteStatus = "discovery_in_progress"
	StatusValidating          WebsiteStatus = "validating"
	StatusValidFromProvider   WebsiteStatus = "valid_from_provider"
	StatusValidFromSearch     WebsiteStatus = "valid_from_search"
	StatusInvalidTechnical    WebsiteStatus = "invalid_technical"
	StatusNeedsVerification   WebsiteStatus = "needs_verification"
	StatusConfirmedNoWebsite  WebsiteStatus = "confirmed_no_website"
	StatusError               WebsiteStatus = "error"
)

// Terminal reports whether the disposition pipeline is finished with a
// business in this state.
func (s WebsiteStatus) Terminal() bool {
	switch s {
	case StatusValidFromProvider, StatusValidFromSearch, StatusInvalidTechnical,
		StatusConfirmedNoWebsite, StatusError:
		return true
	}
	return false
}

// Valid reports whether the state means "has a verified working website".
func (s WebsiteStatus) Valid() bool {
	return s == StatusValidFromProvider || s == StatusValidFromSearch
}

// RawSnapshot is one full provider payload for a business, kept verbatim.
// Snapshots are appended on every re-scrape and never overwritten.
type RawSnapshot struct {
	ObservedAt time.Time       `json:"observedAt"`
	Payload    json.RawMessage `json:"payload"`
}

// Business is a candidate lead discovered in some zone.
type Business struct {
	ID                uuid.UUID `json:"id"`
	ExternalListingID string    `json:"externalListingId"`
	Name              string    `json:"name"`
	Category          string    `json:"category"`
	Address           string    `json:"address,omitempty"`
	City              string    `json:"city,omitempty"`
	Region            string    `json:"region,omitempty"`
	Country           string    `json:"country,omitempty"`
	Phone             string    `json:"phone,omitempty"`
	Latitude          *float64  `json:"latitude,omitempty"`
	Longitude         *float64  `json:"longitude,omitempty"`
	Rating            *float64  `json:"rating,omitempty"`
	ReviewCount       *int      `json:"reviewCount,omitempty"`

	WebsiteURL   *string         `json:"websiteUrl,omitempty"`
	Status       WebsiteStatus   `json:"websiteValidationStatus"`
	Metadata     WebsiteMetadata `json:"websiteMetadata"`
	RawSnapshots []RawSnapshot   `json:"rawSnapshots,omitempty"`
	QualityScore *int            `json:"qualityScore,omitempty"`
	Archived     bool            `json:"archived"`

	DiscoveryQueuedAt     *time.Time `json:"discoveryQueuedAt,omitempty"`
	DiscoveryCompletedAt  *time.Time `json:"discoveryCompletedAt,omitempty"`
	GenerationQueuedAt    *time.Time `json:"generationQueuedAt,omitempty"`
	GenerationCompletedAt *time.Time `json:"generationCompletedAt,omitempty"`
	GenerationToken       string     `json:"generationToken,omitempty"`

	ZoneID     uuid.UUID `json:"zoneId"`
	CampaignID uuid.UUID `json:"campaignId"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// CurrentURL returns the candidate URL or "" when none is set.
func (b *Business) CurrentURL() string {
	if b.WebsiteURL == nil {
		return ""
	}
	return *b.WebsiteURL
}
