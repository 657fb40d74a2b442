package listing

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"

	"prospector/internal/model"
)

func TestNormalizeFullRecord(t *testing.T) {
	campaignID := uuid.New()
	zoneID := uuid.New()
	observed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	raw := RawBusiness{
		Fields: map[string]any{
			"place_id":     "ChIJ-abc123",
			"name":         "Wander & Co CPA",
			"category":     "accountant",
			"address":      "101 Main St, Portland, OR 97201",
			"city":         "Portland",
			"state":        "Oregon",
			"country_code": "US",
			"phone":        "+1 503-555-0144",
			"latitude":     45.5231,
			"longitude":    -122.6765,
			"rating":       4.7,
			"review_count": float64(128),
			"website":      "https://wanderco.example.com",
		},
		Raw: json.RawMessage(`{"place_id":"ChIJ-abc123"}`),
	}

	b := Normalize(raw, campaignID, zoneID, observed)

	if b.ExternalListingID != "ChIJ-abc123" {
		t.Errorf("ExternalListingID = %q", b.ExternalListingID)
	}
	if b.Name != "Wander & Co CPA" || b.City != "Portland" || b.Region != "Oregon" {
		t.Errorf("identity fields wrong: %q %q %q", b.Name, b.City, b.Region)
	}
	if b.Status != model.StatusPending {
		t.Errorf("Status = %q, want pending", b.Status)
	}
	if b.Latitude == nil || *b.Latitude != 45.5231 {
		t.Errorf("Latitude = %v", b.Latitude)
	}
	if b.Rating == nil || *b.Rating != 4.7 {
		t.Errorf("Rating = %v", b.Rating)
	}
	if b.ReviewCount == nil || *b.ReviewCount != 128 {
		t.Errorf("ReviewCount = %v", b.ReviewCount)
	}
	if b.WebsiteURL == nil || *b.WebsiteURL != "https://wanderco.example.com" {
		t.Errorf("WebsiteURL = %v", b.WebsiteURL)
	}
	if b.Metadata.Source != model.SourceProvider {
		t.Errorf("Source = %q, want provider", b.Metadata.Source)
	}
	if b.Metadata.SourceTimestamp == nil || !b.Metadata.SourceTimestamp.Equal(observed) {
		t.Errorf("SourceTimestamp = %v", b.Metadata.SourceTimestamp)
	}
	if len(b.RawSnapshots) != 1 || !b.RawSnapshots[0].ObservedAt.Equal(observed) {
		t.Errorf("RawSnapshots = %+v", b.RawSnapshots)
	}
	if b.CampaignID != campaignID || b.ZoneID != zoneID {
		t.Error("campaign/zone ids not carried")
	}
}

func TestNormalizeWithoutWebsite(t *testing.T) {
	raw := RawBusiness{Fields: map[string]any{
		"place_id": "x1",
		"name":     "No Site Bakery",
	}}
	b := Normalize(raw, uuid.New(), uuid.New(), time.Now().UTC())

	if b.WebsiteURL != nil {
		t.Errorf("WebsiteURL = %v, want nil", *b.WebsiteURL)
	}
	if b.Metadata.Source != model.SourceNone {
		t.Errorf("Source = %q, want none", b.Metadata.Source)
	}
	if b.Metadata.SourceTimestamp != nil {
		t.Error("SourceTimestamp set without a website")
	}
}

func TestExtractWebsiteFieldOrderAndDomainRepair(t *testing.T) {
	cases := []struct {
		name   string
		fields map[string]any
		want   string
	}{
		{"website wins over domain", map[string]any{
			"website": "https://a.example.com", "domain": "b.example.com"}, "https://a.example.com"},
		{"bare domain gets scheme", map[string]any{"domain": "plumber.example.com"}, "https://plumber.example.com"},
		{"free text left alone", map[string]any{"web": "ask at the counter"}, "ask at the counter"},
		{"nothing", map[string]any{"name": "x"}, ""},
		{"numeric value stringified", map[string]any{"url": float64(0)}, "https://0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := extractWebsite(tc.fields); got != tc.want {
				t.Errorf("extractWebsite = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestExtractWebsiteFromRawSnapshot(t *testing.T) {
	if got := ExtractWebsite([]byte(`{"site":"https://x.example.com"}`)); got != "https://x.example.com" {
		t.Errorf("got %q", got)
	}
	if got := ExtractWebsite([]byte(`not json`)); got != "" {
		t.Errorf("got %q from junk, want empty", got)
	}
}

func TestCoordinateNestedShapes(t *testing.T) {
	fields := map[string]any{
		"gps_coordinates": map[string]any{"latitude": 40.0, "longitude": -73.9},
	}
	b := Normalize(RawBusiness{Fields: fields}, uuid.New(), uuid.New(), time.Now().UTC())
	if b.Latitude == nil || *b.Latitude != 40.0 {
		t.Errorf("Latitude = %v", b.Latitude)
	}
	if b.Longitude == nil || *b.Longitude != -73.9 {
		t.Errorf("Longitude = %v", b.Longitude)
	}
}

// TestNormalizeGeneratedRecords feeds generated payloads through the schema
// aliases the provider actually uses and checks normalization never loses
// the identity fields.
func TestNormalizeGeneratedRecords(t *testing.T) {
	faker := gofakeit.New(7)

	aliasSets := []struct {
		id, name, phone string
	}{
		{"place_id", "name", "phone"},
		{"listing_id", "title", "phone_number"},
		{"external_id", "business_name", "telephone"},
		{"cid", "name", "contact_phone"},
	}

	for i := 0; i < 20; i++ {
		aliases := aliasSets[i%len(aliasSets)]
		id := faker.UUID()
		name := faker.Company()
		phone := faker.Phone()
		city := faker.City()

		fields := map[string]any{
			aliases.id:    id,
			aliases.name:  name,
			aliases.phone: phone,
			"city":        city,
			"rating":      faker.Float64Range(1, 5),
		}
		raw, _ := json.Marshal(fields)

		b := Normalize(RawBusiness{Fields: fields, Raw: raw}, uuid.New(), uuid.New(), time.Now().UTC())
		if b.ExternalListingID != id {
			t.Fatalf("record %d: ExternalListingID = %q, want %q", i, b.ExternalListingID, id)
		}
		if b.Name != name {
			t.Fatalf("record %d: Name = %q, want %q", i, b.Name, name)
		}
		if b.Phone != phone {
			t.Fatalf("record %d: Phone = %q, want %q", i, b.Phone, phone)
		}
		if b.City != city {
			t.Fatalf("record %d: City = %q, want %q", i, b.City, city)
		}
		if b.Rating == nil {
			t.Fatalf("record %d: rating dropped", i)
		}
	}
}

func TestToStringScalars(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"  padded  ", "padded"},
		{float64(42), "42"},
		{4.5, "4.5"},
		{true, "true"},
		{[]string{"x"}, ""},
	}
	for _, tc := range cases {
		if got := ToString(tc.in); got != tc.want {
			t.Errorf("ToString(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCountryName(t *testing.T) {
	if got := CountryName(" us "); got != "United States" {
		t.Errorf("got %q", got)
	}
	if got := CountryName("xx"); got != "XX" {
		t.Errorf("unknown code: got %q", got)
	}
}

func ExampleCountryName() {
	fmt.Println(CountryName("de"))
	// Output: Germany
}
