package fetch

import (
	"net"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// defaultSelectors maps a publisher's registrable domain to the selector of
// its article body paragraphs.
var defaultSelectors = map[string]string{
	"vnexpress.net": "article.fck_detail p.Normal",
	"tuoitre.vn":    "div.detail-content p",
	"thanhnien.vn":  "div.detail-content-body p",
	"dantri.com.vn": "article.singular-content p",
	"zingnews.vn":   "div.the-article-body p",
	"znews.vn":      "div.the-article-body p",
	"vietnamnet.vn": "div.maincontent p",
	"baomoi.com":    "div.article__body p",
}

// fallbackSelectors are tried in order, most specific first, when the
// domain selector is missing or yields too little text.
var fallbackSelectors = []string{
	"article p",
	"div.content p",
	"div.article-content p",
	"div.post-content p",
	".entry-content p",
	"div[class*='content'] p",
	"div[class*='article'] p",
	"div[id*='content'] p",
}

// RegistrableDomain returns the eTLD+1 of a URL's host ("vnexpress.net" for
// "https://m.vnexpress.net/x"). IP hosts are returned as-is; hosts without a
// known public suffix fall back to the lowercased host. Unparseable input
// yields "".
func RegistrableDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return ""
	}
	if net.ParseIP(host) != nil {
		return host
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}

type selectorTable struct {
	byDomain map[string]string
	keys     []string
}

func newSelectorTable(extra map[string]string) *selectorTable {
	t := &selectorTable{byDomain: make(map[string]string, len(defaultSelectors)+len(extra))}
	for d, s := range defaultSelectors {
		t.byDomain[d] = s
	}
	for d, s := range extra {
		t.byDomain[strings.ToLower(d)] = s
	}
	for d := range t.byDomain {
		t.keys = append(t.keys, d)
	}
	sort.Strings(t.keys)
	return t
}

// lookup matches the registrable domain exactly, then falls back to the
// first configured domain contained in the host.
func (t *selectorTable) lookup(rawURL string) (string, bool) {
	if s, ok := t.byDomain[RegistrableDomain(rawURL)]; ok {
		return s, true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range t.keys {
		if strings.Contains(host, d) {
			return t.byDomain[d], true
		}
	}
	return "", false
}
