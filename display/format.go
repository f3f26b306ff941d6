// Package display formats message timestamps and renders the hover label
// shown next to a message.
package display

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var months = [...]string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

// Format renders t with s. The caller picks the location; Format uses t's.
//
//	12h: h:mm:ss AM/PM    24h: HH:mm:ss
//	letters: Mon D, YYYY  numeric: YYYY/MM/DD
//
// With ShowDate the result is "<date> - <time>". Only 12h selects the
// 12-hour clock and only letters the spelled-out date; any other value,
// empty included, renders as 24h and numeric.
func Format(t time.Time, s Settings) string {
	var clock string
	if s.TimeFormat == TimeFormat12h {
		h := t.Hour() % 12
		if h == 0 {
			h = 12
		}
		ampm := "AM"
		if t.Hour() >= 12 {
			ampm = "PM"
		}
		clock = fmt.Sprintf("%d:%02d:%02d %s", h, t.Minute(), t.Second(), ampm)
	} else {
		clock = fmt.Sprintf("%02d:%02d:%02d", t.Hour(), t.Minute(), t.Second())
	}
	if !s.ShowDate {
		return clock
	}

	var date string
	if s.DateFormat == DateFormatLetters {
		date = months[t.Month()-1] + " " + strconv.Itoa(t.Day()) + ", " + strconv.Itoa(t.Year())
	} else {
		date = fmt.Sprintf("%d/%02d/%02d", t.Year(), int(t.Month()), t.Day())
	}
	return date + " - " + clock
}

var isoLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
}

// ParseTimestamp parses a stored ISO-8601 value. A bare date is midnight
// UTC; a date-time without a zone is read in loc, and a nil loc means
// time.Local.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("display: parse timestamp %q: not ISO-8601", s)
}

// FormatISO parses iso and formats it in loc. An unparseable value is
// returned unchanged so the label still shows something.
func FormatISO(iso string, s Settings, loc *time.Location) string {
	t, err := ParseTimestamp(iso, loc)
	if err != nil {
		return iso
	}
	if loc == nil {
		loc = time.Local
	}
	return Format(t.In(loc), s)
}

// Preview formats now, as shown under the settings controls.
func Preview(now time.Time, s Settings, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return Format(now.In(loc), s)
}
