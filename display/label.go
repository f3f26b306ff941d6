package display

import (
	"html"
	"regexp"

	"github.com/microcosm-cc/bluemonday"
)

// LabelClass is the class of the hover label element.
const LabelClass = "hovertime-label"

var labelPolicy = newLabelPolicy()

func newLabelPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("div", "span")
	p.AllowAttrs("class").Matching(regexp.MustCompile(`^[a-z-]+$`)).OnElements("div", "span")
	p.AllowStyles("color").Matching(hexColor).OnElements("div")
	return p
}

// Label renders the hover label for a formatted timestamp.
func Label(formatted string, s Settings) string {
	raw := `<div class="` + LabelClass + `" style="color: ` + html.EscapeString(s.Color) + `">` +
		`<span class="timestamp-text">` + html.EscapeString(formatted) + `</span></div>`
	return labelPolicy.Sanitize(raw)
}
