// Package campaign owns the campaign lifecycle: creation with zone
// planning, progress aggregation, cancellation, and the zone scrape
// executor.
package campaign

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
	"golang.org/x/sync/errgroup"

	"prospector/internal/disposition"
	"prospector/internal/geo"
	"prospector/internal/listing"
	"prospector/internal/model"
	"prospector/internal/queue"
	"prospector/internal/store"
)

// duplicateWindow is how long two identical campaigns are considered the
// same request.
const duplicateWindow = time.Hour

// defaultSearchLimit is the per-zone provider page size.
const defaultSearchLimit = 20

// DuplicateError reports an identical active campaign created recently.
type DuplicateError struct {
	Existing uuid.UUID
}

func (e *DuplicateError) Error() string {
	return "duplicate active campaign " + e.Existing.String()
}

// ValidationError marks a structurally bad submission.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }

// CreateRequest is a campaign submission.
type CreateRequest struct {
	Country     string             `json:"country"`
	Region      string             `json:"region"`
	City        string             `json:"city"`
	Category    string             `json:"category"`
	Mode        model.CampaignMode `json:"mode"`
	PlannerMode model.PlannerMode  `json:"plannerMode"`
}

// Validate rejects structurally bad submissions before any I/O.
func (r *CreateRequest) Validate() error {
	if strings.TrimSpace(r.City) == "" || strings.TrimSpace(r.Category) == "" {
		return fmt.Errorf("city and category are required")
	}
	if len(strings.TrimSpace(r.Country)) != 2 {
		return fmt.Errorf("country must be a two-letter code")
	}
	switch r.Mode {
	case "", model.ModeDraft, model.ModeLive:
	default:
		return fmt.Errorf("unknown mode %q", r.Mode)
	}
	switch r.PlannerMode {
	case "", model.PlannerUniform, model.PlannerAdaptive:
	default:
		return fmt.Errorf("unknown planner mode %q", r.PlannerMode)
	}
	return nil
}

// ScrapePayload is the scrape_zone work-item payload.
type ScrapePayload struct {
	ZoneID uuid.UUID `json:"zoneId"`
}

// Progress is the aggregated campaign status view.
type Progress struct {
	Campaign       *model.Campaign               `json:"campaign"`
	Zones          []model.Zone                  `json:"zones"`
	ZoneStatus     map[model.ZoneStatus]int      `json:"zoneStatus"`
	Totals         store.ZoneAggregates          `json:"totals"`
	BusinessStates map[model.WebsiteStatus]int   `json:"businessStates"`
	QueueDepth     map[queue.Kind]queue.KindStats `json:"queueDepth"`
}

// Coordinator wires planning, persistence, and the work queue together.
type Coordinator struct {
	Store       *store.Store
	Queue       *queue.Queue
	Planner     *geo.Planner
	Listing     *listing.Client
	Logger      *slog.Logger
	SearchLimit int

	now func() time.Time
}

func (c *Coordinator) searchLimit() int {
	if c.SearchLimit > 0 {
		return c.SearchLimit
	}
	return defaultSearchLimit
}

func NewCoordinator(st *store.Store, q *queue.Queue, planner *geo.Planner, lst *listing.Client, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		Store:   st,
		Queue:   q,
		Planner: planner,
		Listing: lst,
		Logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Create validates, plans, and persists a campaign with its zones and one
// scrape item per zone, all in one transaction.
func (c *Coordinator) Create(ctx context.Context, req CreateRequest) (*model.Campaign, []model.Zone, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, &ValidationError{Err: err}
	}

	dup, err := c.Store.FindActiveDuplicate(ctx, req.Country, req.Region, req.City, req.Category, c.now().Add(-duplicateWindow))
	if err != nil {
		return nil, nil, err
	}
	if dup != nil {
		return nil, nil, &DuplicateError{Existing: dup.ID}
	}

	campaign := &model.Campaign{
		ID:          uuid.New(),
		Country:     strings.ToUpper(req.Country),
		Region:      req.Region,
		City:        req.City,
		Category:    req.Category,
		Mode:        req.Mode,
		Status:      model.CampaignActive,
		PlannerMode: req.PlannerMode,
		RequestedAt: c.now(),
	}
	if campaign.Mode == "" {
		campaign.Mode = model.ModeLive
	}
	if campaign.PlannerMode == "" {
		campaign.PlannerMode = model.PlannerAdaptive
	}

	plan, err := c.Planner.PlanCampaign(ctx, campaign)
	if err != nil {
		return nil, nil, err
	}
	campaign.PlannerMode = plan.Mode
	campaign.Plan = plan.RawPlan

	zones := make([]model.Zone, len(plan.Zones))
	for i, zp := range plan.Zones {
		zones[i] = model.Zone{
			ID:         uuid.New(),
			CampaignID: campaign.ID,
			Slug:       zp.Slug,
			CenterLat:  zp.CenterLat,
			CenterLon:  zp.CenterLon,
			RadiusKm:   zp.RadiusKm,
			Priority:   zp.Priority,
			Status:     model.ZonePending,
		}
	}

	err = c.Store.Tx(ctx, func(tx *sql.Tx) error {
		if err := store.CreateCampaign(ctx, tx, campaign); err != nil {
			return err
		}
		if err := store.CreateZones(ctx, tx, zones); err != nil {
			return err
		}
		for _, z := range zones {
			_, err := queue.Enqueue(ctx, tx, queue.Item{
				Kind:        queue.KindScrapeZone,
				Payload:     ScrapePayload{ZoneID: z.ID},
				Priority:    z.Priority,
				DedupKey:    queue.ScrapeDedupKey(z.ID),
				MaxAttempts: queue.DefaultMaxAttempts(queue.KindScrapeZone),
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	c.Logger.Info("campaign created",
		"campaign_id", campaign.ID, "city", campaign.City,
		"category", campaign.Category, "planner_mode", campaign.PlannerMode,
		"zones", len(zones))
	return campaign, zones, nil
}

// Progress aggregates the campaign view. The independent reads fan out.
func (c *Coordinator) Progress(ctx context.Context, id uuid.UUID) (*Progress, error) {
	campaign, err := c.Store.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}

	p := &Progress{Campaign: campaign}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		zones, err := c.Store.ZonesByCampaign(gctx, id)
		if err != nil {
			return err
		}
		p.Zones = zones
		p.ZoneStatus = make(map[model.ZoneStatus]int)
		for _, z := range zones {
			p.ZoneStatus[z.Status]++
		}
		return nil
	})
	g.Go(func() error {
		agg, err := c.Store.AggregateZones(gctx, id)
		if err != nil {
			return err
		}
		p.Totals = *agg
		return nil
	})
	g.Go(func() error {
		states, err := c.Store.CountBusinessesByState(gctx, id)
		if err != nil {
			return err
		}
		p.BusinessStates = states
		return nil
	})
	g.Go(func() error {
		stats, err := c.Queue.Stats(gctx)
		if err != nil {
			return err
		}
		p.QueueDepth = stats.Kinds
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return p, nil
}

// Cancel marks the campaign cancelled. In-flight work drains on its own:
// every handler checks the campaign before acting.
func (c *Coordinator) Cancel(ctx context.Context, id uuid.UUID) error {
	return c.Store.CancelCampaign(ctx, id, c.now())
}

// ExecuteScrapeZone runs one zone scrape: provider search, normalize,
// upsert, enqueue validation for new businesses, then zone bookkeeping.
func (c *Coordinator) ExecuteScrapeZone(ctx context.Context, item *queue.WorkItem) error {
	var p ScrapePayload
	if err := json.Unmarshal(item.Payload, &p); err != nil {
		return queue.Permanent(fmt.Errorf("decode payload: %w", err))
	}

	zone, err := c.Store.GetZone(ctx, p.ZoneID)
	if errors.Is(err, store.ErrNotFound) {
		c.Logger.Warn("scrape item for unknown zone", "zone_id", p.ZoneID)
		return nil
	}
	if err != nil {
		return err
	}
	if zone.Status.Terminal() {
		return nil
	}

	campaign, err := c.Store.GetCampaign(ctx, zone.CampaignID)
	if err != nil {
		return err
	}
	if campaign.Status == model.CampaignCancelled {
		return c.Store.Tx(ctx, func(tx *sql.Tx) error {
			return store.MarkZoneSkipped(ctx, tx, zone.ID)
		})
	}

	if err := store.MarkZoneScraping(ctx, c.Store.DB, zone.ID, c.now()); err != nil {
		return err
	}

	raws, err := c.Listing.Search(ctx, listing.SearchRequest{
		Category:    campaign.Category,
		City:        campaign.City,
		Region:      campaign.Region,
		CountryCode: campaign.Country,
		Lat:         zone.CenterLat,
		Lon:         zone.CenterLon,
		RadiusKm:    zone.RadiusKm,
		Limit:       c.searchLimit(),
	})
	if err != nil {
		return c.failZone(ctx, zone, item, err)
	}

	observedAt := c.now()
	var saved, withSite, withoutSite int
	for _, raw := range raws {
		b := listing.Normalize(raw, campaign.ID, zone.ID, observedAt)
		if b.ExternalListingID == "" || b.Name == "" {
			continue
		}
		var inserted bool
		err := c.Store.Tx(ctx, func(tx *sql.Tx) error {
			var err error
			inserted, err = store.UpsertBusiness(ctx, tx, &b)
			if err != nil {
				return err
			}
			if !inserted {
				// Re-scrape of a known business: the snapshot is appended in
				// place, disposition stays wherever it already is.
				return nil
			}
			_, err = queue.Enqueue(ctx, tx, queue.Item{
				Kind:        queue.KindValidateBusiness,
				Payload:     disposition.BusinessPayload{BusinessID: b.ID},
				Priority:    zone.Priority,
				DedupKey:    queue.ValidateDedupKey(b.ID),
				MaxAttempts: queue.DefaultMaxAttempts(queue.KindValidateBusiness),
			})
			return err
		})
		if err != nil {
			return err
		}
		if inserted {
			saved++
			if b.WebsiteURL != nil {
				withSite++
			} else {
				withoutSite++
			}
		}
	}

	zone.Status = model.ZoneCompleted
	zone.RawCount = len(raws)
	zone.SavedCount = saved
	zone.WithWebsiteCount = withSite
	zone.WithoutWebsiteCount = withoutSite
	zone.ErrorMessage = ""

	return c.Store.Tx(ctx, func(tx *sql.Tx) error {
		if err := store.FinishZone(ctx, tx, zone); err != nil {
			return err
		}
		done, err := store.CompleteCampaignIfDone(ctx, tx, campaign.ID, c.now())
		if err != nil {
			return err
		}
		if done {
			c.Logger.Info("campaign completed", "campaign_id", campaign.ID)
		}
		return nil
	})
}

// failZone records the failure on the zone. Transient provider errors keep
// the work item alive while zone attempts remain, and the zone goes back to
// pending so the retried item can scrape it again. Permanent errors and an
// exhausted budget dead-letter the item so an operator can retry it later.
func (c *Coordinator) failZone(ctx context.Context, zone *model.Zone, item *queue.WorkItem, cause error) error {
	willRetry := queue.ShouldRetry(listing.IsTransient(cause), item.Attempts+1, item.MaxAttempts)

	zone.Status = model.ZoneFailed
	zone.ErrorMessage = cause.Error()

	err := c.Store.Tx(ctx, func(tx *sql.Tx) error {
		if err := store.FinishZone(ctx, tx, zone); err != nil {
			return err
		}
		if willRetry {
			return store.ResetZoneForRetry(ctx, tx, zone.ID)
		}
		_, err := store.CompleteCampaignIfDone(ctx, tx, zone.CampaignID, c.now())
		return err
	})
	if err != nil {
		return err
	}

	if willRetry {
		return fmt.Errorf("zone %s scrape: %w", zone.Slug, cause)
	}
	c.Logger.Error("zone scrape exhausted", "zone_id", zone.ID, "error", cause)
	return queue.Permanent(fmt.Errorf("zone %s scrape: %w", zone.Slug, cause))
}
