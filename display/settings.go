package display

import (
	"fmt"
	"regexp"
)

// Time formats.
const (
	TimeFormat12h = "12h"
	TimeFormat24h = "24h"
)

// Date formats.
const (
	DateFormatNumeric = "numeric"
	DateFormatLetters = "letters"
)

// Palette is the set of colours offered by the settings panel. Any hex
// colour is accepted; the palette is advisory.
var Palette = []string{"#6b7280", "#374151", "#c4a484", "#3b82f6", "#059669"}

var hexColor = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// Settings controls how hover labels look.
type Settings struct {
	Color      string `json:"color" yaml:"color"`
	TimeFormat string `json:"timeFormat" yaml:"time_format"`
	DateFormat string `json:"dateFormat" yaml:"date_format"`
	ShowDate   bool   `json:"showDate" yaml:"show_date"`
}

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{
		Color:      "#6b7280",
		TimeFormat: TimeFormat12h,
		DateFormat: DateFormatLetters,
		ShowDate:   true,
	}
}

// Validate checks every field.
func (s Settings) Validate() error {
	if !hexColor.MatchString(s.Color) {
		return fmt.Errorf("display: color %q is not a hex colour", s.Color)
	}
	if s.TimeFormat != TimeFormat12h && s.TimeFormat != TimeFormat24h {
		return fmt.Errorf("display: timeFormat %q: want 12h or 24h", s.TimeFormat)
	}
	if s.DateFormat != DateFormatNumeric && s.DateFormat != DateFormatLetters {
		return fmt.Errorf("display: dateFormat %q: want numeric or letters", s.DateFormat)
	}
	return nil
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Color      *string `json:"color,omitempty"`
	TimeFormat *string `json:"timeFormat,omitempty"`
	DateFormat *string `json:"dateFormat,omitempty"`
	ShowDate   *bool   `json:"showDate,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Color == nil && p.TimeFormat == nil && p.DateFormat == nil && p.ShowDate == nil
}

// Apply merges p into s.
func (s Settings) Apply(p Patch) Settings {
	if p.Color != nil {
		s.Color = *p.Color
	}
	if p.TimeFormat != nil {
		s.TimeFormat = *p.TimeFormat
	}
	if p.DateFormat != nil {
		s.DateFormat = *p.DateFormat
	}
	if p.ShowDate != nil {
		s.ShowDate = *p.ShowDate
	}
	return s
}
