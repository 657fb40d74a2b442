package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"

	"prospector/internal/llm"
	"prospector/internal/model"
)

// ZonePlan is one planned search zone before persistence.
type ZonePlan struct {
	Slug      string
	CenterLat float64
	CenterLon float64
	RadiusKm  float64
	Priority  int
}

// Plan is the planner output: the zones, which strategy produced them, and
// the raw LLM response when the adaptive strategy ran.
type Plan struct {
	City    *City
	Zones   []ZonePlan
	Mode    model.PlannerMode
	RawPlan json.RawMessage
}

// gridTier maps population to grid dimensions and the city span the grid
// covers.
type gridTier struct {
	minPopulation int
	n             int
	spanKm        float64
}

var gridTiers = []gridTier{
	{1_000_000, 5, 40},
	{500_000, 4, 30},
	{250_000, 3, 20},
	{100_000, 2, 14},
	{0, 1, 8},
}

const uniformPriority = 5

var densityPriority = map[string]int{
	"high":   9,
	"medium": 6,
	"low":    3,
}

// Planner turns a campaign's geography into zones. With an LLM client it
// asks for district-level zones first and falls back to the uniform grid on
// any LLM or parse failure.
type Planner struct {
	geocoder Geocoder
	llm      llm.Client
	logger   *slog.Logger
}

func NewPlanner(geocoder Geocoder, llmClient llm.Client, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{geocoder: geocoder, llm: llmClient, logger: logger}
}

// PlanCampaign resolves the city and produces zones per the campaign's
// requested mode. Geocoding failure is a PlannerError.
func (p *Planner) PlanCampaign(ctx context.Context, c *model.Campaign) (*Plan, error) {
	city, err := p.geocoder.Resolve(ctx, c.City, c.Region, c.Country)
	if err != nil {
		return nil, &PlannerError{City: c.City, Err: err}
	}

	if c.PlannerMode == model.PlannerAdaptive && p.llm != nil {
		plan, err := p.adaptive(ctx, city, c.Category)
		if err == nil {
			return plan, nil
		}
		p.logger.Warn("adaptive planning failed, falling back to uniform grid",
			"city", city.Name, "error", err)
	}

	return &Plan{City: city, Zones: uniformGrid(city), Mode: model.PlannerUniform}, nil
}

// uniformGrid lays an n x n grid over the city span for the population
// tier. Cell centers are great-circle offsets from the city center; the
// radius covers the cell diagonal with 10% overlap.
func uniformGrid(city *City) []ZonePlan {
	tier := gridTiers[len(gridTiers)-1]
	for _, t := range gridTiers {
		if city.Population >= t.minPopulation {
			tier = t
			break
		}
	}

	center := orb.Point{city.Longitude, city.Latitude}
	cellKm := tier.spanKm / float64(tier.n)
	radiusKm := cellKm * math.Sqrt2 / 2 * 1.1

	zones := make([]ZonePlan, 0, tier.n*tier.n)
	for row := 0; row < tier.n; row++ {
		for col := 0; col < tier.n; col++ {
			northKm := tier.spanKm/2 - (float64(row)+0.5)*cellKm
			eastKm := (float64(col)+0.5)*cellKm - tier.spanKm/2
			pt := offset(center, northKm, eastKm)
			zones = append(zones, ZonePlan{
				Slug:      fmt.Sprintf("grid-r%dc%d", row, col),
				CenterLat: pt.Lat(),
				CenterLon: pt.Lon(),
				RadiusKm:  radiusKm,
				Priority:  uniformPriority,
			})
		}
	}
	return zones
}

// offset moves a point north then east by the given km along great circles.
func offset(p orb.Point, northKm, eastKm float64) orb.Point {
	if northKm != 0 {
		bearing := 0.0
		if northKm < 0 {
			bearing = 180
			northKm = -northKm
		}
		p = orbgeo.PointAtBearingAndDistance(p, bearing, northKm*1000)
	}
	if eastKm != 0 {
		bearing := 90.0
		if eastKm < 0 {
			bearing = 270
			eastKm = -eastKm
		}
		p = orbgeo.PointAtBearingAndDistance(p, bearing, eastKm*1000)
	}
	return p
}

const adaptiveSystemPrompt = `You are a local market researcher. Given a city and a business category, list the districts and commercial areas where businesses of that category cluster. Respond with JSON only, no prose, in the form {"districts": [{"name": "...", "lat": 0.0, "lon": 0.0, "radius_km": 0.0, "density": "high|medium|low"}]}. Use real coordinates inside the city. 4 to 12 districts.`

type district struct {
	Name     string  `json:"name"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	RadiusKm float64 `json:"radius_km"`
	Density  string  `json:"density"`
}

type districtPlan struct {
	Districts []district `json:"districts"`
}

func (p *Planner) adaptive(ctx context.Context, city *City, category string) (*Plan, error) {
	user := fmt.Sprintf("City: %s (%.4f, %.4f), population %d. Category: %s.",
		city.Name, city.Latitude, city.Longitude, city.Population, category)

	raw, err := p.llm.Complete(ctx, llm.Request{System: adaptiveSystemPrompt, User: user})
	if err != nil {
		return nil, fmt.Errorf("district completion: %w", err)
	}
	payload, err := llm.ExtractJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("district response: %w", err)
	}

	var parsed districtPlan
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return nil, fmt.Errorf("district response: %w", err)
	}
	if len(parsed.Districts) == 0 {
		return nil, fmt.Errorf("district response: empty plan")
	}

	zones := make([]ZonePlan, 0, len(parsed.Districts))
	for i, d := range parsed.Districts {
		if d.Lat < -90 || d.Lat > 90 || d.Lon < -180 || d.Lon > 180 {
			return nil, fmt.Errorf("district %q: coordinates out of range", d.Name)
		}
		priority, ok := densityPriority[d.Density]
		if !ok {
			return nil, fmt.Errorf("district %q: unknown density %q", d.Name, d.Density)
		}
		radius := d.RadiusKm
		if radius <= 0 || radius > 50 {
			radius = 3
		}
		zones = append(zones, ZonePlan{
			Slug:      fmt.Sprintf("district-%d-%s", i, slugify(d.Name)),
			CenterLat: d.Lat,
			CenterLon: d.Lon,
			RadiusKm:  radius,
			Priority:  priority,
		})
	}

	return &Plan{
		City:    city,
		Zones:   zones,
		Mode:    model.PlannerAdaptive,
		RawPlan: json.RawMessage(payload),
	}, nil
}

func slugify(name string) string {
	out := make([]rune, 0, len(name))
	lastDash := true
	for _, r := range name {
		switch {
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
			lastDash = false
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			out = append(out, r)
			lastDash = false
		default:
			if !lastDash {
				out = append(out, '-')
				lastDash = true
			}
		}
	}
	for len(out) > 0 && out[len(out)-1] == '-' {
		out = out[:len(out)-1]
	}
	if len(out) == 0 {
		return "district"
	}
	if len(out) > 40 {
		out = out[:40]
	}
	return string(out)
}
