// Package urlnorm normalizes website URLs for seen-set comparison. The
// disposition pipeline must treat https://Example.com/ and
// http://example.com as the same site when deciding whether discovery is
// returning a URL it has already judged.
package urlnorm

import (
	"net/url"
	"regexp"
	"strings"
)

// Query parameter names that identify a distinct page rather than tracking
// state. A query string containing any of these survives normalization;
// everything else is dropped.
var identifierParams = map[string]bool{
	"id":         true,
	"pid":        true,
	"p":          true,
	"page_id":    true,
	"profile_id": true,
	"biz_id":     true,
	"store_id":   true,
	"listing_id": true,
	"lid":        true,
	"l":          true,
}

var numericIdent = regexp.MustCompile(`^[0-9]{3,}$`)

// Normalize reduces a URL to its comparison form: lowercase host, scheme
// stripped, trailing slash removed, query dropped unless identifier-bearing,
// fragment and default port dropped. Invalid input normalizes to a trimmed
// lowercase copy of itself so callers never fail on garbage history entries.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	withScheme := s
	if !strings.Contains(withScheme, "://") {
		withScheme = "http://" + withScheme
	}
	u, err := url.Parse(withScheme)
	if err != nil || u.Host == "" {
		return strings.ToLower(s)
	}

	host := strings.ToLower(u.Host)
	host = strings.TrimSuffix(host, ":80")
	host = strings.TrimSuffix(host, ":443")

	path := u.EscapedPath()
	if path == "/" {
		path = ""
	}
	path = strings.TrimSuffix(path, "/")

	out := host + path
	if q := identifierQuery(u.Query()); q != "" {
		out += "?" + q
	}
	return out
}

// identifierQuery keeps only identifier-bearing parameters, in sorted-key
// order via url.Values.Encode, so equal queries compare equal.
func identifierQuery(q url.Values) string {
	kept := url.Values{}
	for key, vals := range q {
		lk := strings.ToLower(key)
		if identifierParams[lk] {
			kept[lk] = vals
			continue
		}
		for _, v := range vals {
			if numericIdent.MatchString(v) {
				kept[lk] = vals
				break
			}
		}
	}
	if len(kept) == 0 {
		return ""
	}
	return kept.Encode()
}

// Equal reports whether two URLs normalize to the same site/page.
func Equal(a, b string) bool {
	return Normalize(a) != "" && Normalize(a) == Normalize(b)
}

// SeenSet is a set of normalized URLs, used for discovery loop prevention.
type SeenSet map[string]struct{}

// NewSeenSet normalizes and collects the given URLs.
func NewSeenSet(urls []string) SeenSet {
	s := make(SeenSet, len(urls))
	for _, u := range urls {
		if n := Normalize(u); n != "" {
			s[n] = struct{}{}
		}
	}
	return s
}

// Contains reports whether the URL, after normalization, is in the set.
func (s SeenSet) Contains(raw string) bool {
	n := Normalize(raw)
	if n == "" {
		return false
	}
	_, ok := s[n]
	return ok
}

// Add inserts the URL's normalized form.
func (s SeenSet) Add(raw string) {
	if n := Normalize(raw); n != "" {
		s[n] = struct{}{}
	}
}
