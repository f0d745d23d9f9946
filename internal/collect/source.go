package collect

import (
	"net"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/TobiSchelling/newsreader/internal/fetch"
)

// knownSources maps a feed URL fragment to the publisher's display name.
// Order matters: the first fragment contained in the URL wins.
var knownSources = []struct {
	fragment string
	name     string
}{
	{"vnexpress", "VnExpress"},
	{"tuoitre", "Tuổi Trẻ"},
	{"thanhnien", "Thanh Niên"},
	{"dantri", "Dân Trí"},
	{"zingnews", "Zing News"},
	{"znews", "Zing News"},
	{"vietnamnet", "VietnamNet"},
	{"baomoi", "Báo Mới"},
}

// SourceName derives a publisher name from a feed URL.
func SourceName(feedURL string) string {
	lower := strings.ToLower(feedURL)
	for _, k := range knownSources {
		if strings.Contains(lower, k.fragment) {
			return k.name
		}
	}

	u, err := url.Parse(feedURL)
	if err != nil || u.Hostname() == "" {
		return "Unknown"
	}
	if net.ParseIP(u.Hostname()) != nil {
		return u.Hostname()
	}

	domain := fetch.RegistrableDomain(feedURL)
	label, _, _ := strings.Cut(domain, ".")
	if label == "" {
		return "Unknown"
	}
	r, size := utf8.DecodeRuneInString(label)
	return string(unicode.ToUpper(r)) + label[size:]
}
