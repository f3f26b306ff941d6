package browser

import (
	"testing"
	"time"
)

func TestParseStealth(t *testing.T) {
	cases := map[string]StealthLevel{
		"":         LevelHeadless,
		"headless": LevelHeadless,
		"1":        LevelHeadless,
		"Headful":  LevelHeadful,
		"2":        LevelHeadful,
		"http":     LevelHTTP,
		"0":        LevelHTTP,
		"bogus":    LevelHeadless,
	}
	for in, want := range cases {
		if got := ParseStealth(in); got != want {
			t.Errorf("ParseStealth(%q): got %v, want %v", in, got, want)
		}
	}
}

func TestShouldBlock(t *testing.T) {
	set := map[string]bool{"images": true, "fonts": true, "script": true}
	cases := []struct {
		typ  string
		want bool
	}{
		{"Image", true},
		{"Font", true},
		{"Stylesheet", false},
		{"Media", false},
		{"Script", false},
		{"XHR", false},
		{"Document", false},
	}
	for _, c := range cases {
		if got := shouldBlock(set, c.typ); got != c.want {
			t.Errorf("shouldBlock(%q): got %v, want %v", c.typ, got, c.want)
		}
	}
}

func TestNeedsRecycle(t *testing.T) {
	m := NewManager(Config{MemoryLimit: 100, RecycleInterval: time.Hour})
	if got := m.needsRecycle(time.Minute, 10); got != "" {
		t.Errorf("fresh: got %q, want none", got)
	}
	if got := m.needsRecycle(2*time.Hour, 10); got != "interval" {
		t.Errorf("old: got %q, want interval", got)
	}
	if got := m.needsRecycle(time.Minute, 200); got != "memory" {
		t.Errorf("heavy: got %q, want memory", got)
	}

	remote := NewManager(Config{RemoteURL: "ws://127.0.0.1:9222", MemoryLimit: 100, RecycleInterval: time.Hour})
	if got := remote.needsRecycle(2*time.Hour, 200); got != "" {
		t.Errorf("remote: got %q, want none", got)
	}
}

func TestXSocket(t *testing.T) {
	for in, want := range map[string]string{
		":99":  "/tmp/.X11-unix/X99",
		":0.0": "/tmp/.X11-unix/X0",
		"12":   "/tmp/.X11-unix/X12",
	} {
		if got := xSocket(in); got != want {
			t.Errorf("xSocket(%q): got %q, want %q", in, got, want)
		}
	}
}
