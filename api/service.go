// Package api exposes the timestamp store, the display settings and the
// page session over HTTP (chi) and as MCP tools.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"

	"github.com/hazyhaar/hovertime/coordinator"
	"github.com/hazyhaar/hovertime/display"
	"github.com/hazyhaar/hovertime/fingerprint"
	"github.com/hazyhaar/hovertime/store"
)

// ErrInvalid marks a request the caller must fix.
var ErrInvalid = errors.New("api: invalid request")

// Session is the page session the API reports on and refreshes. A
// *coordinator.Coordinator satisfies it.
type Session interface {
	Refresh(ctx context.Context) error
	Attachments(ctx context.Context) ([]coordinator.Attachment, error)
	Stats() coordinator.Stats
}

// Config wires a Service.
type Config struct {
	Timestamps *store.Timestamps
	Settings   *store.Settings
	Session    Session        // optional: nil in pure store mode
	Location   *time.Location // default time.Local
	PageURL    string         // base for relative links in transcripts
	Now        func() time.Time
	Logger     *slog.Logger
}

// Service holds the operations shared by the HTTP and MCP surfaces.
type Service struct {
	cfg Config
	md  *converter.Converter
}

// New validates cfg and creates a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Timestamps == nil || cfg.Settings == nil {
		return nil, fmt.Errorf("api: timestamp and settings stores are required")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		cfg: cfg,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}, nil
}

// SettingsView is the settings panel state.
type SettingsView struct {
	Settings display.Settings `json:"settings"`
	Preview  string           `json:"preview"`
	Palette  []string         `json:"palette"`
	Changed  bool             `json:"changed,omitempty"`
}

// Timestamp is one stored creation time with its rendering.
type Timestamp struct {
	Fingerprint string `json:"fingerprint"`
	Timestamp   string `json:"timestamp"`
	Formatted   string `json:"formatted"`
}

// TranscriptEntry is one message showing an overlay, as Markdown.
type TranscriptEntry struct {
	Timestamp
	Markdown string `json:"markdown"`
}

// Settings returns the current settings with a preview of now.
func (s *Service) Settings(context.Context) SettingsView {
	cur := s.cfg.Settings.Current()
	return s.view(cur, false)
}

// UpdateSettings applies a partial update. A change refreshes the page
// session so every overlay is rebuilt with the new settings.
func (s *Service) UpdateSettings(ctx context.Context, p display.Patch) (SettingsView, error) {
	if p.Empty() {
		return s.Settings(ctx), nil
	}
	next, changed, err := s.cfg.Settings.Update(ctx, p)
	if err != nil {
		return SettingsView{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if changed && s.cfg.Session != nil {
		if err := s.cfg.Session.Refresh(ctx); err != nil {
			s.cfg.Logger.Warn("api: refresh after settings change failed", "error", err)
		}
	}
	s.cfg.Logger.Info("api: settings updated", "changed", changed)
	return s.view(next, changed), nil
}

func (s *Service) view(cur display.Settings, changed bool) SettingsView {
	return SettingsView{
		Settings: cur,
		Preview:  display.Preview(s.cfg.Now(), cur, s.cfg.Location),
		Palette:  display.Palette,
		Changed:  changed,
	}
}

// Lookup returns the stored time of fp.
func (s *Service) Lookup(_ context.Context, fp string) (Timestamp, error) {
	if !fingerprint.Valid(fp) {
		return Timestamp{}, fmt.Errorf("%w: %q is not a fingerprint", ErrInvalid, fp)
	}
	iso, ok := s.cfg.Timestamps.Get(fp)
	if !ok {
		return Timestamp{}, fmt.Errorf("api: %s: %w", fp, store.ErrNotFound)
	}
	return s.render(fp, iso, s.cfg.Settings.Current()), nil
}

// Timestamps lists every stored entry, oldest first.
func (s *Service) Timestamps(context.Context) []Timestamp {
	cur := s.cfg.Settings.Current()
	all := s.cfg.Timestamps.All()
	out := make([]Timestamp, 0, len(all))
	for fp, iso := range all {
		out = append(out, s.render(fp, iso, cur))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].Fingerprint < out[j].Fingerprint
	})
	return out
}

func (s *Service) render(fp, iso string, cur display.Settings) Timestamp {
	return Timestamp{
		Fingerprint: fp,
		Timestamp:   iso,
		Formatted:   display.FormatISO(iso, cur, s.cfg.Location),
	}
}

// Fingerprint computes the fingerprint of a message text and reports the
// stored time if there is one.
func (s *Service) Fingerprint(_ context.Context, text string) Timestamp {
	fp := fingerprint.Of(text)
	iso, ok := s.cfg.Timestamps.Get(fp)
	if !ok {
		return Timestamp{Fingerprint: fp}
	}
	return s.render(fp, iso, s.cfg.Settings.Current())
}

// Transcript converts the messages currently showing an overlay to
// Markdown, oldest first.
func (s *Service) Transcript(ctx context.Context) ([]TranscriptEntry, error) {
	if s.cfg.Session == nil {
		return nil, fmt.Errorf("api: transcript: no page session")
	}
	atts, err := s.cfg.Session.Attachments(ctx)
	if err != nil {
		return nil, fmt.Errorf("api: transcript: %w", err)
	}
	cur := s.cfg.Settings.Current()
	out := make([]TranscriptEntry, 0, len(atts))
	for _, a := range atts {
		md, err := s.markdown(a.HTML)
		if err != nil {
			s.cfg.Logger.Debug("api: transcript: convert failed", "fingerprint", a.Fingerprint, "error", err)
			md = ""
		}
		out = append(out, TranscriptEntry{
			Timestamp: s.render(a.Fingerprint, a.Timestamp, cur),
			Markdown:  md,
		})
	}
	return out, nil
}

func (s *Service) markdown(raw string) (string, error) {
	var opts []converter.ConvertOptionFunc
	if s.cfg.PageURL != "" {
		opts = append(opts, converter.WithDomain(s.cfg.PageURL))
	}
	md, err := s.md.ConvertString(raw, opts...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(md), nil
}

// Refresh rebuilds every overlay of the page session.
func (s *Service) Refresh(ctx context.Context) error {
	if s.cfg.Session == nil {
		return fmt.Errorf("api: refresh: no page session")
	}
	return s.cfg.Session.Refresh(ctx)
}

// StatsView reports the session counters and the store size.
type StatsView struct {
	Session *coordinator.Stats `json:"session,omitempty"`
	Stored  int                `json:"stored"`
}

// Stats returns the current counters.
func (s *Service) Stats(context.Context) StatsView {
	v := StatsView{Stored: s.cfg.Timestamps.Len()}
	if s.cfg.Session != nil {
		st := s.cfg.Session.Stats()
		v.Session = &st
	}
	return v
}
