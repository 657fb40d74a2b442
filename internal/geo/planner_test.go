package geo

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"prospector/internal/llm"
	"prospector/internal/model"
)

type fakeGeocoder struct {
	city *City
	err  error
}

func (f *fakeGeocoder) Resolve(ctx context.Context, city, region, country string) (*City, error) {
	return f.city, f.err
}

type fakeLLM struct {
	response string
	err      error
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.Request) (string, error) {
	return f.response, f.err
}

func losAngeles() *City {
	return &City{Name: "Los Angeles", Latitude: 34.0522, Longitude: -118.2437, Population: 3_900_000}
}

func TestUniformGridTiers(t *testing.T) {
	cases := []struct {
		population int
		wantZones  int
	}{
		{3_900_000, 25},
		{600_000, 16},
		{300_000, 9},
		{150_000, 4},
		{40_000, 1},
	}
	for _, tc := range cases {
		city := losAngeles()
		city.Population = tc.population
		zones := uniformGrid(city)
		if len(zones) != tc.wantZones {
			t.Errorf("population %d: %d zones, want %d", tc.population, len(zones), tc.wantZones)
		}
		for _, z := range zones {
			if z.Priority != uniformPriority {
				t.Errorf("zone %s priority = %d, want %d", z.Slug, z.Priority, uniformPriority)
			}
			if z.RadiusKm <= 0 {
				t.Errorf("zone %s has no radius", z.Slug)
			}
		}
	}
}

func TestUniformGridGeometry(t *testing.T) {
	zones := uniformGrid(losAngeles())

	if zones[0].Slug != "grid-r0c0" || zones[24].Slug != "grid-r4c4" {
		t.Errorf("slugs = %s .. %s", zones[0].Slug, zones[24].Slug)
	}

	// 40km span / 5 cells: radius = (8 * sqrt2 / 2) * 1.1.
	wantRadius := 8 * math.Sqrt2 / 2 * 1.1
	if math.Abs(zones[0].RadiusKm-wantRadius) > 0.01 {
		t.Errorf("radius = %f, want %f", zones[0].RadiusKm, wantRadius)
	}

	// The center cell of the 5x5 grid sits on the city center.
	mid := zones[12]
	if math.Abs(mid.CenterLat-34.0522) > 0.01 || math.Abs(mid.CenterLon-(-118.2437)) > 0.01 {
		t.Errorf("center cell at (%f, %f)", mid.CenterLat, mid.CenterLon)
	}

	// Row 0 is north of row 4; col 0 is west of col 4.
	if zones[0].CenterLat <= zones[20].CenterLat {
		t.Error("row 0 should be north of row 4")
	}
	if zones[0].CenterLon >= zones[4].CenterLon {
		t.Error("col 0 should be west of col 4")
	}
}

func TestPlanCampaignGeocodeFailure(t *testing.T) {
	p := NewPlanner(&fakeGeocoder{err: errors.New("no match")}, nil, slog.Default())
	_, err := p.PlanCampaign(context.Background(), &model.Campaign{City: "Nowhere"})
	var pe *PlannerError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want PlannerError", err)
	}
	if pe.City != "Nowhere" {
		t.Errorf("PlannerError.City = %q", pe.City)
	}
}

func TestPlanCampaignAdaptive(t *testing.T) {
	response := `{"districts": [
		{"name": "Downtown", "lat": 34.04, "lon": -118.25, "radius_km": 3, "density": "high"},
		{"name": "Silver Lake", "lat": 34.08, "lon": -118.27, "radius_km": 2.5, "density": "medium"},
		{"name": "San Pedro", "lat": 33.73, "lon": -118.29, "radius_km": 4, "density": "low"}
	]}`
	p := NewPlanner(&fakeGeocoder{city: losAngeles()}, &fakeLLM{response: response}, slog.Default())

	plan, err := p.PlanCampaign(context.Background(), &model.Campaign{
		City: "Los Angeles", Category: "plumber", PlannerMode: model.PlannerAdaptive,
	})
	if err != nil {
		t.Fatalf("PlanCampaign: %v", err)
	}
	if plan.Mode != model.PlannerAdaptive {
		t.Fatalf("mode = %s", plan.Mode)
	}
	if len(plan.Zones) != 3 {
		t.Fatalf("%d zones", len(plan.Zones))
	}
	if plan.Zones[0].Priority != 9 || plan.Zones[1].Priority != 6 || plan.Zones[2].Priority != 3 {
		t.Errorf("priorities = %d/%d/%d", plan.Zones[0].Priority, plan.Zones[1].Priority, plan.Zones[2].Priority)
	}
	if plan.Zones[0].Slug != "district-0-downtown" {
		t.Errorf("slug = %q", plan.Zones[0].Slug)
	}
	if len(plan.RawPlan) == 0 {
		t.Error("raw plan not preserved")
	}
	var check districtPlan
	if err := json.Unmarshal(plan.RawPlan, &check); err != nil {
		t.Errorf("raw plan not valid JSON: %v", err)
	}
}

func TestPlanCampaignAdaptiveFallsBackToUniform(t *testing.T) {
	for name, client := range map[string]llm.Client{
		"llm error":    &fakeLLM{err: errors.New("overloaded")},
		"not json":     &fakeLLM{response: "the districts are downtown and midtown"},
		"empty plan":   &fakeLLM{response: `{"districts": []}`},
		"bad density":  &fakeLLM{response: `{"districts": [{"name": "x", "lat": 1, "lon": 1, "density": "extreme"}]}`},
		"bad lat":      &fakeLLM{response: `{"districts": [{"name": "x", "lat": 95, "lon": 1, "density": "high"}]}`},
	} {
		p := NewPlanner(&fakeGeocoder{city: losAngeles()}, client, slog.Default())
		plan, err := p.PlanCampaign(context.Background(), &model.Campaign{
			City: "Los Angeles", PlannerMode: model.PlannerAdaptive,
		})
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if plan.Mode != model.PlannerUniform {
			t.Errorf("%s: mode = %s, want uniform fallback", name, plan.Mode)
		}
		if len(plan.Zones) != 25 {
			t.Errorf("%s: %d zones, want 25", name, len(plan.Zones))
		}
	}
}

func TestHTTPGeocoderPicksCountryAndRegion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("name") != "Springfield" {
			t.Errorf("name = %q", r.URL.Query().Get("name"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results": [
			{"name": "Springfield", "latitude": 39.8, "longitude": -89.6, "population": 114000, "country_code": "US", "admin1": "Illinois"},
			{"name": "Springfield", "latitude": 37.2, "longitude": -93.3, "population": 169000, "country_code": "US", "admin1": "Missouri"}
		]}`))
	}))
	defer srv.Close()

	g := NewHTTPGeocoder(srv.URL, "en", 0)
	city, err := g.Resolve(context.Background(), "Springfield", "Missouri", "US")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if city.Population != 169000 {
		t.Errorf("picked wrong Springfield: %+v", city)
	}
}

func TestHTTPGeocoderNoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results": []}`))
	}))
	defer srv.Close()

	g := NewHTTPGeocoder(srv.URL, "en", 0)
	if _, err := g.Resolve(context.Background(), "Atlantis", "", "US"); err == nil {
		t.Fatal("want error for empty result set")
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Downtown LA":          "downtown-la",
		"  San  Pedro!  ":      "san-pedro",
		"Ünïcode Straße":       "n-code-stra-e",
		"":                     "district",
	}
	for in, want := range cases {
		if got := slugify(in); got != want {
			t.Errorf("slugify(%q) = %q, want %q", in, got, want)
		}
	}
}
