package rss

import (
	"regexp"
	"strings"
)

// Tried in order against description HTML.
var imagePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<img[^>]+src=["']([^"']+)["']`),
	regexp.MustCompile(`(?i)<img[^>]+src=([^\s>]+)`),
	regexp.MustCompile(`(?i)https?://[^\s"'<>]+\.(?:jpg|jpeg|png|gif|webp)`),
}

// imageFromHTML returns the first absolute image URL found in an HTML fragment.
func imageFromHTML(html string) string {
	if html == "" {
		return ""
	}
	for _, re := range imagePatterns {
		m := re.FindStringSubmatch(html)
		if m == nil {
			continue
		}
		url := m[0]
		if len(m) > 1 {
			url = m[1]
		}
		if strings.HasPrefix(url, "http") {
			return url
		}
	}
	return ""
}
