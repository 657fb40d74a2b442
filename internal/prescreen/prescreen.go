// Package prescreen runs the cheap URL checks that gate the expensive
// render/verify stages: scheme and suffix shape, the aggregator blocklist,
// DNS, TCP, and a HEAD probe.
package prescreen

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Reason classifies a failed check.
type Reason string

const (
	ReasonInvalidScheme    Reason = "invalid-scheme"
	ReasonBadSuffix        Reason = "bad-suffix"
	ReasonBlockedHost      Reason = "blocked-host"
	ReasonDNSFailure       Reason = "dns-failure"
	ReasonTransportFailure Reason = "transport-failure"
	ReasonHTTPFailure      Reason = "http-failure"
)

// Semantic reports whether the failure means "this URL is not a business
// website" as opposed to "this URL did not respond". Semantic failures clear
// the candidate; technical ones keep it.
func (r Reason) Semantic() bool {
	switch r {
	case ReasonInvalidScheme, ReasonBadSuffix, ReasonBlockedHost:
		return true
	}
	return false
}

// Result is the prescreen outcome. Check never returns an error: every
// failure mode is a Reason.
type Result struct {
	Pass   bool   `json:"pass"`
	Reason Reason `json:"reason,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func fail(reason Reason, detail string) Result {
	return Result{Reason: reason, Detail: detail}
}

// File suffixes that are documents or media, never a website.
var badSuffixes = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".zip": true, ".jpg": true, ".png": true, ".mp4": true,
}

// defaultBlockedHosts are aggregators, directories, and social networks. A
// URL on any of these is by definition not the business's own site.
var defaultBlockedHosts = []string{
	"yelp.com", "yellowpages.com", "facebook.com", "linkedin.com",
	"instagram.com", "twitter.com", "x.com", "tiktok.com", "youtube.com",
	"bbb.org", "chamberofcommerce.com", "mapquest.com", "foursquare.com",
	"tripadvisor.com", "angieslist.com", "angi.com", "thumbtack.com",
	"houzz.com", "homeadvisor.com", "porch.com", "nextdoor.com",
	"citysearch.com", "superpages.com", "manta.com", "merchantcircle.com",
	"local.com", "dexknows.com", "whitepages.com", "411.com",
	"judysbook.com", "kudzu.com", "insiderpages.com", "showmelocal.com",
	"hotfrog.com", "brownbook.net", "cylex.us.com", "opendi.us",
	"tupalo.com", "yellowbot.com", "localstack.com", "ezlocal.com",
	"zocdoc.com", "healthgrades.com", "avvo.com", "lawyers.com",
	"findlaw.com", "realtor.com", "zillow.com", "opentable.com",
	"doordash.com", "grubhub.com", "wixsite.com",
	"google.com", "maps.google.com", "goo.gl", "linktr.ee",
}

// Checker runs the checks. Zero timeouts get contract defaults (2s connect,
// 10s HTTP).
type Checker struct {
	blocked        []string
	dnsResolver    string
	connectTimeout time.Duration
	httpTimeout    time.Duration

	dial       func(ctx context.Context, network, addr string) (net.Conn, error)
	httpClient *http.Client
}

// NewChecker builds a Checker; extraBlocked extends the default blocklist
// and dnsResolver ("" = system resolver) points DNS queries at a specific
// server, e.g. "1.1.1.1:53".
func NewChecker(extraBlocked []string, dnsResolver string, connectTimeout, httpTimeout time.Duration) *Checker {
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	if httpTimeout <= 0 {
		httpTimeout = 10 * time.Second
	}
	blocked := make([]string, 0, len(defaultBlockedHosts)+len(extraBlocked))
	blocked = append(blocked, defaultBlockedHosts...)
	for _, h := range extraBlocked {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			blocked = append(blocked, h)
		}
	}

	dialer := &net.Dialer{Timeout: connectTimeout}
	return &Checker{
		blocked:        blocked,
		dnsResolver:    dnsResolver,
		connectTimeout: connectTimeout,
		httpTimeout:    httpTimeout,
		dial:           dialer.DialContext,
		httpClient: &http.Client{
			Timeout: httpTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
	}
}

// Check runs the pipeline in cost order and stops at the first failure.
func (c *Checker) Check(ctx context.Context, raw string) Result {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fail(ReasonInvalidScheme, "unparseable URL")
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fail(ReasonInvalidScheme, "scheme "+scheme)
	}

	if ext := strings.ToLower(path.Ext(u.Path)); badSuffixes[ext] {
		return fail(ReasonBadSuffix, "suffix "+ext)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fail(ReasonInvalidScheme, "empty host")
	}
	if blocked := c.blockedMatch(host); blocked != "" {
		return fail(ReasonBlockedHost, blocked)
	}

	if err := c.resolve(ctx, host); err != nil {
		return fail(ReasonDNSFailure, err.Error())
	}

	port := u.Port()
	if port == "" {
		if scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	conn, err := c.dial(dialCtx, "tcp", net.JoinHostPort(host, port))
	cancel()
	if err != nil {
		return fail(ReasonTransportFailure, err.Error())
	}
	conn.Close()

	status, err := c.probe(ctx, u.String())
	if err != nil {
		return fail(ReasonTransportFailure, err.Error())
	}
	if status >= 400 {
		return fail(ReasonHTTPFailure, fmt.Sprintf("status %d", status))
	}

	return Result{Pass: true}
}

// blockedMatch matches the host or any parent domain against the blocklist
// so subdomains like m.yelp.com are caught.
func (c *Checker) blockedMatch(host string) string {
	for _, b := range c.blocked {
		if host == b || strings.HasSuffix(host, "."+b) {
			return b
		}
	}
	return ""
}

// resolve checks that the host has at least one A or AAAA record. With a
// configured resolver it queries directly over miekg/dns for a strict
// timeout; otherwise it uses the system resolver.
func (c *Checker) resolve(ctx context.Context, host string) error {
	ctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	if c.dnsResolver == "" {
		addrs, err := net.DefaultResolver.LookupHost(ctx, host)
		if err != nil {
			return err
		}
		if len(addrs) == 0 {
			return fmt.Errorf("no addresses for %s", host)
		}
		return nil
	}

	client := &dns.Client{Timeout: c.connectTimeout}
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(host), qtype)
		resp, _, err := client.ExchangeContext(ctx, msg, c.dnsResolver)
		if err != nil {
			continue
		}
		if resp.Rcode == dns.RcodeSuccess && len(resp.Answer) > 0 {
			return nil
		}
	}
	return fmt.Errorf("no A/AAAA records for %s", host)
}

// probe issues a HEAD, falling back to GET when the server rejects the
// method or the HEAD transport fails outright.
func (c *Checker) probe(ctx context.Context, target string) (int, error) {
	status, err := c.request(ctx, http.MethodHead, target)
	if err == nil && status != http.StatusMethodNotAllowed && status != http.StatusNotImplemented {
		return status, nil
	}
	return c.request(ctx, http.MethodGet, target)
}

func (c *Checker) request(ctx context.Context, method, target string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.httpTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; site-check/1.0)")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
