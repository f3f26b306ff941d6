package coordinator

import (
	"sort"
	"time"

	"github.com/hazyhaar/hovertime/display"
)

// Attachment is a message with an overlay in the current session.
type Attachment struct {
	Fingerprint string    `json:"fingerprint"`
	Timestamp   string    `json:"timestamp"`
	XPath       string    `json:"xpath"`
	HTML        string    `json:"html"` // container inner HTML at attach time
	AttachedAt  time.Time `json:"attached_at"`
}

// session is the page-session context. Only the event loop touches it.
type session struct {
	settings  display.Settings
	processed map[string]struct{}
	attached  map[string]Attachment
	rescan    *time.Timer // single slot
}

func newSession(s display.Settings) *session {
	return &session{
		settings:  s,
		processed: make(map[string]struct{}),
		attached:  make(map[string]Attachment),
	}
}

// reset starts a new refresh epoch.
func (s *session) reset(settings display.Settings) {
	s.settings = settings
	s.processed = make(map[string]struct{})
	s.attached = make(map[string]Attachment)
}

// markProcessed adds fp and reports whether it was new.
func (s *session) markProcessed(fp string) bool {
	if _, ok := s.processed[fp]; ok {
		return false
	}
	s.processed[fp] = struct{}{}
	return true
}

func (s *session) attachments() []Attachment {
	out := make([]Attachment, 0, len(s.attached))
	for _, a := range s.attached {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].Fingerprint < out[j].Fingerprint
	})
	return out
}

func (s *session) stop() {
	if s.rescan != nil {
		s.rescan.Stop()
	}
}
