package prescreen

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestChecker() *Checker {
	return NewChecker(nil, "", 2*time.Second, 5*time.Second)
}

func TestRejectsNonHTTPSchemes(t *testing.T) {
	c := newTestChecker()
	for _, raw := range []string{
		"mailto:info@example.com",
		"tel:+13105551234",
		"javascript:void(0)",
		"ftp://example.com/file",
	} {
		res := c.Check(context.Background(), raw)
		if res.Pass || res.Reason != ReasonInvalidScheme {
			t.Errorf("%s: got %+v, want invalid-scheme", raw, res)
		}
	}
}

func TestRejectsDocumentSuffixes(t *testing.T) {
	c := newTestChecker()
	for _, raw := range []string{
		"https://example.com/menu.pdf",
		"https://example.com/brochure.DOCX",
		"http://example.com/photo.jpg",
	} {
		res := c.Check(context.Background(), raw)
		if res.Pass || res.Reason != ReasonBadSuffix {
			t.Errorf("%s: got %+v, want bad-suffix", raw, res)
		}
	}
}

func TestRejectsBlockedHosts(t *testing.T) {
	c := newTestChecker()
	for _, raw := range []string{
		"https://www.yelp.com/biz/wander-cpa-los-angeles",
		"https://m.facebook.com/someplace",
		"https://www.yellowpages.com/los-angeles-ca",
		"https://linktr.ee/somebiz",
	} {
		res := c.Check(context.Background(), raw)
		if res.Pass || res.Reason != ReasonBlockedHost {
			t.Errorf("%s: got %+v, want blocked-host", raw, res)
		}
	}
}

func TestExtraBlockedHostsExtendList(t *testing.T) {
	c := NewChecker([]string{"example-directory.biz"}, "", time.Second, time.Second)
	res := c.Check(context.Background(), "https://sub.example-directory.biz/listing/42")
	if res.Pass || res.Reason != ReasonBlockedHost {
		t.Errorf("got %+v, want blocked-host", res)
	}
}

func TestSemanticReasons(t *testing.T) {
	for reason, want := range map[Reason]bool{
		ReasonInvalidScheme:    true,
		ReasonBadSuffix:        true,
		ReasonBlockedHost:      true,
		ReasonDNSFailure:       false,
		ReasonTransportFailure: false,
		ReasonHTTPFailure:      false,
	} {
		if reason.Semantic() != want {
			t.Errorf("%s.Semantic() = %v, want %v", reason, reason.Semantic(), want)
		}
	}
}

func TestDNSFailureForUnresolvableHost(t *testing.T) {
	c := newTestChecker()
	res := c.Check(context.Background(), "https://this-host-does-not-exist.invalid/")
	if res.Pass || res.Reason != ReasonDNSFailure {
		t.Errorf("got %+v, want dns-failure", res)
	}
}

func TestHTTPFailureOnErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	c := newTestChecker()
	res := c.Check(context.Background(), srv.URL)
	if res.Pass || res.Reason != ReasonHTTPFailure {
		t.Errorf("got %+v, want http-failure", res)
	}
	if !strings.Contains(res.Detail, "410") {
		t.Errorf("detail %q should carry the status", res.Detail)
	}
}

func TestPassesOnHealthySite(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestChecker()
	res := c.Check(context.Background(), srv.URL)
	if !res.Pass {
		t.Errorf("got %+v, want pass", res)
	}
}

func TestHeadFallsBackToGet(t *testing.T) {
	var sawGet bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		sawGet = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestChecker()
	res := c.Check(context.Background(), srv.URL)
	if !res.Pass {
		t.Errorf("got %+v, want pass after GET fallback", res)
	}
	if !sawGet {
		t.Error("GET fallback never issued")
	}
}
