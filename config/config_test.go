package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hazyhaar/hovertime/domwatch"
	"github.com/hazyhaar/hovertime/store"
)

const sample = `
browser:
  remote: ws://127.0.0.1:9222/devtools/browser/x
  stealth: headful
page:
  url: https://chat.example/c/42
debounce:
  window: 100ms
sinks:
  - type: stdout
db_path: /tmp/ht.db
defaults:
  color: "#3b82f6"
delays:
  retry: 750ms
http:
  addr: 127.0.0.1:8089
timezone: Europe/Paris
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Browser.Remote != "ws://127.0.0.1:9222/devtools/browser/x" || c.Browser.Stealth != "headful" {
		t.Errorf("browser: got %+v", c.Browser)
	}
	if c.Page.URL != "https://chat.example/c/42" || c.Page.Root != "main" {
		t.Errorf("page: got %+v", c.Page)
	}
	if c.Debounce.Window != 100*time.Millisecond || c.Debounce.MaxBuffer != 1000 {
		t.Errorf("debounce: got %+v", c.Debounce)
	}
	if len(c.Sinks) != 1 || c.Sinks[0].Type != "stdout" {
		t.Errorf("sinks: got %+v", c.Sinks)
	}
	if c.Delays.Retry != 750*time.Millisecond {
		t.Errorf("delays.retry: got %v", c.Delays.Retry)
	}
	if c.HTTP.Addr != "127.0.0.1:8089" || c.DBPath != "/tmp/ht.db" {
		t.Errorf("http/db: got %q %q", c.HTTP.Addr, c.DBPath)
	}
}

func TestParse_PartialDefaultsMerge(t *testing.T) {
	c, err := Parse([]byte(sample))
	if err != nil {
		t.Fatal(err)
	}
	if c.Defaults.Color != "#3b82f6" {
		t.Errorf("color: got %q, want %q", c.Defaults.Color, "#3b82f6")
	}
	if c.Defaults.TimeFormat != "12h" || c.Defaults.DateFormat != "letters" || !c.Defaults.ShowDate {
		t.Errorf("unset display fields should keep defaults: got %+v", c.Defaults)
	}
}

func TestDefault(t *testing.T) {
	c := Default()
	if c.Storage.TimestampsKey != store.DefaultTimestampsKey || c.Storage.SettingsKey != store.DefaultSettingsKey {
		t.Errorf("storage keys: got %+v", c.Storage)
	}
	if c.Page.StatePrefix != domwatch.DefaultStatePrefix {
		t.Errorf("state prefix: got %q", c.Page.StatePrefix)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	loc, err := c.Location()
	if err != nil || loc != time.Local {
		t.Errorf("Location: got %v, %v", loc, err)
	}
}

func TestParse_Invalid(t *testing.T) {
	for name, doc := range map[string]string{
		"colour":   "defaults:\n  color: blue\n",
		"selector": "selectors:\n  user_marker: 'div['\n",
		"timezone": "timezone: Mars/Olympus\n",
		"level":    "log_level: loud\n",
		"yaml":     "page: [",
	} {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	c := Default()
	env := map[string]string{
		"HOVERTIME_DB":        "/var/lib/ht.db",
		"HOVERTIME_HTTP_ADDR": ":9000",
		"HOVERTIME_LOG_LEVEL": " debug ",
		"HOVERTIME_PAGE_URL":  "https://chat.example/c/7",
	}
	c.ApplyEnv(func(k string) string { return env[k] })
	if c.DBPath != "/var/lib/ht.db" || c.HTTP.Addr != ":9000" || c.LogLevel != "debug" {
		t.Errorf("env: got db=%q addr=%q level=%q", c.DBPath, c.HTTP.Addr, c.LogLevel)
	}
	if c.Page.URL != "https://chat.example/c/7" {
		t.Errorf("page url: got %q", c.Page.URL)
	}
	if c.Browser.Remote != "" {
		t.Errorf("unset variable should not override: got %q", c.Browser.Remote)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hovertime.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if loc, _ := c.Location(); loc.String() != "Europe/Paris" {
		t.Errorf("Location: got %v", loc)
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadFile(missing): expected error")
	}
}
