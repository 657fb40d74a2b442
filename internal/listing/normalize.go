package listing

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"prospector/internal/model"
)

// websiteFields is the candidate-URL extraction order. The first non-empty
// wins; nothing beyond emptiness is judged here — deciding whether a URL is
// a real website is the disposition engine's job, not normalization's.
var websiteFields = []string{"website", "site", "url", "domain", "web", "homepage"}

// Normalize flattens one provider record into the business schema. It is a
// pure function: no I/O, no clock beyond the supplied observation time.
func Normalize(raw RawBusiness, campaignID, zoneID uuid.UUID, observedAt time.Time) model.Business {
	f := raw.Fields

	b := model.Business{
		ID:                uuid.New(),
		ExternalListingID: FirstString(f, "place_id", "listing_id", "external_id", "cid", "id"),
		Name:              FirstString(f, "name", "title", "business_name"),
		Category:          FirstString(f, "category", "type", "business_category"),
		Address:           FirstString(f, "address", "full_address", "formatted_address"),
		City:              FirstString(f, "city", "town"),
		Region:            FirstString(f, "region", "state", "province"),
		Country:           FirstString(f, "country", "country_code"),
		Phone:             FirstString(f, "phone", "phone_number", "telephone", "contact_phone"),
		Status:            model.StatusPending,
		ZoneID:            zoneID,
		CampaignID:        campaignID,
	}

	if lat, ok := coordinate(f, "latitude", "lat"); ok {
		b.Latitude = &lat
	}
	if lon, ok := coordinate(f, "longitude", "lng", "lon"); ok {
		b.Longitude = &lon
	}
	if rating, ok := ToFloat(f["rating"]); ok {
		b.Rating = &rating
	} else if rating, ok := ToFloat(f["stars"]); ok {
		b.Rating = &rating
	}
	if rc, ok := ToInt(f["review_count"]); ok {
		b.ReviewCount = &rc
	} else if rc, ok := ToInt(f["reviews"]); ok {
		b.ReviewCount = &rc
	} else if rc, ok := ToInt(f["user_ratings_total"]); ok {
		b.ReviewCount = &rc
	}

	meta := model.WebsiteMetadata{Source: model.SourceNone}
	if candidate := extractWebsite(f); candidate != "" {
		b.WebsiteURL = &candidate
		meta.Source = model.SourceProvider
		ts := observedAt
		meta.SourceTimestamp = &ts
	}
	b.Metadata = meta

	b.RawSnapshots = []model.RawSnapshot{{ObservedAt: observedAt, Payload: raw.Raw}}
	return b
}

// ExtractWebsite re-runs candidate extraction on a raw payload, for
// discovery passes over stored snapshots.
func ExtractWebsite(raw []byte) string {
	var f map[string]any
	if err := json.Unmarshal(raw, &f); err != nil {
		return ""
	}
	return extractWebsite(f)
}

// extractWebsite walks the candidate fields in contract order. A bare
// domain (the "domain" field never carries a scheme) is canonicalized to
// https; this is format repair, not a content judgment.
func extractWebsite(f map[string]any) string {
	for _, key := range websiteFields {
		v := ToString(f[key])
		if v == "" {
			continue
		}
		if !strings.Contains(v, "://") && !strings.ContainsAny(v, " \t") {
			v = "https://" + v
		}
		return v
	}
	return ""
}

// coordinate reads a float from top-level keys or the common nested shapes
// (location.{...}, gps_coordinates.{...}).
func coordinate(f map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := ToFloat(f[k]); ok {
			return v, true
		}
	}
	for _, nest := range []string{"location", "gps_coordinates", "coordinates"} {
		m, ok := f[nest].(map[string]any)
		if !ok {
			continue
		}
		for _, k := range keys {
			if v, ok := ToFloat(m[k]); ok {
				return v, true
			}
		}
	}
	return 0, false
}
