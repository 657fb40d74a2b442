package urlnorm

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://Example.com/", "example.com"},
		{"http://example.com", "example.com"},
		{"example.com/", "example.com"},
		{"https://example.com:443/about/", "example.com/about"},
		{"http://example.com:80", "example.com"},
		{"https://example.com/About", "example.com/About"},
		{"https://example.com/?utm_source=x&utm_campaign=y", "example.com"},
		{"https://example.com/page?id=123", "example.com/page?id=123"},
		{"https://example.com/page?ID=123&utm_source=x", "example.com/page?id=123"},
		{"https://example.com/biz?ref=9841223", "example.com/biz?ref=9841223"},
		{"https://example.com/#contact", "example.com"},
		{"  https://example.com  ", "example.com"},
		{"", ""},
	}
	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestEqualTreatsSchemeAndSlashAsSame(t *testing.T) {
	pairs := [][2]string{
		{"https://wandercpa.com/", "http://wandercpa.com"},
		{"https://WANDERCPA.com", "wandercpa.com/"},
		{"https://example.com/a/", "example.com/a"},
	}
	for _, p := range pairs {
		if !Equal(p[0], p[1]) {
			t.Errorf("Equal(%q, %q) = false, want true", p[0], p[1])
		}
	}
	if Equal("https://wandercpa.com", "https://www.wandercpa.com") {
		t.Errorf("www and bare host must stay distinct")
	}
	if Equal("", "") {
		t.Errorf("empty urls never compare equal")
	}
}

func TestSeenSet(t *testing.T) {
	seen := NewSeenSet([]string{
		"https://www.yelp.com/biz/wander-cpa-los-angeles",
		"https://wandercpa.com/",
	})

	if !seen.Contains("http://wandercpa.com") {
		t.Fatalf("seen set missed scheme variant")
	}
	if !seen.Contains("https://WWW.YELP.COM/biz/wander-cpa-los-angeles/") {
		t.Fatalf("seen set missed case/slash variant")
	}
	if seen.Contains("https://probystax.com") {
		t.Fatalf("seen set false positive")
	}

	seen.Add("https://probystax.com/")
	if !seen.Contains("probystax.com") {
		t.Fatalf("Add did not normalize")
	}
}
