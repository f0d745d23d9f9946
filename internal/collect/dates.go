package collect

import (
	"strings"
	"time"
)

// dateLayouts is the publish-date cascade, tried in order. Layouts without
// a zone are read in the client's configured location.
var dateLayouts = []struct {
	layout string
	local  bool
}{
	{"Mon, 2 Jan 2006 15:04:05 -0700", false},
	{"Mon, 2 Jan 2006 15:04:05 MST", false},
	{"2006-01-02T15:04:05-0700", false},
	{"2006-01-02T15:04:05Z07:00", false},
	{"2006-01-02 15:04:05", true},
	{"02/01/2006 15:04:05", true},
}

// zoneOffsets resolves the abbreviations Vietnamese and wire-service feeds
// use. time.Parse only knows the abbreviations of the parsing location.
var zoneOffsets = map[string]int{
	"GMT":  0,
	"UTC":  0,
	"UT":   0,
	"ICT":  7 * 3600,
	"WIB":  7 * 3600,
	"SGT":  8 * 3600,
	"HKT":  8 * 3600,
	"CST":  -6 * 3600,
	"CDT":  -5 * 3600,
	"EST":  -5 * 3600,
	"EDT":  -4 * 3600,
	"MST":  -7 * 3600,
	"MDT":  -6 * 3600,
	"PST":  -8 * 3600,
	"PDT":  -7 * 3600,
	"JST":  9 * 3600,
	"KST":  9 * 3600,
	"CET":  1 * 3600,
	"CEST": 2 * 3600,
	"BST":  1 * 3600,
}

// ParseDate converts a feed date into epoch milliseconds. Empty or
// unrecognised values yield now.
func ParseDate(value string, loc *time.Location, now time.Time) int64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return now.UnixMilli()
	}
	if loc == nil {
		loc = time.UTC
	}

	for _, l := range dateLayouts {
		var t time.Time
		var err error
		if l.local {
			t, err = time.ParseInLocation(l.layout, value, loc)
		} else {
			t, err = time.Parse(l.layout, value)
		}
		if err != nil {
			continue
		}
		if strings.HasSuffix(l.layout, "MST") {
			t = applyZoneAbbrev(t)
		}
		return t.UnixMilli()
	}
	return now.UnixMilli()
}

// applyZoneAbbrev fixes up a time parsed with an abbreviation time.Parse did
// not recognise, which it records as a zero offset.
func applyZoneAbbrev(t time.Time) time.Time {
	name, offset := t.Zone()
	if offset != 0 {
		return t
	}
	known, ok := zoneOffsets[strings.ToUpper(name)]
	if !ok || known == 0 {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(),
		t.Nanosecond(), time.FixedZone(name, known))
}
