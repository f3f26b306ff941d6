package domwatch

import "time"

// Config drives the page watcher. It is embedded in the hovertime YAML
// configuration.
type Config struct {
	Browser  BrowserConfig  `yaml:"browser"`
	Page     PageConfig     `yaml:"page"`
	Debounce DebounceConfig `yaml:"debounce"`
	Sinks    []SinkConfig   `yaml:"sinks"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	UserDataDir      string        `yaml:"user_data_dir"`
	MemoryLimit      int64         `yaml:"memory_limit"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	Stealth          string        `yaml:"stealth"` // headless | headful
	XvfbDisplay      string        `yaml:"xvfb_display"`
}

// PageConfig defines the chat page to observe.
type PageConfig struct {
	ID            string        `yaml:"id"`
	URL           string        `yaml:"url"`
	Root          string        `yaml:"root"`           // observed subtree
	ReadySelector string        `yaml:"ready_selector"` // awaited before the first snapshot
	ReadyTimeout  time.Duration `yaml:"ready_timeout"`
	SettleDelay   time.Duration `yaml:"settle_delay"`
	StatePrefix   string        `yaml:"state_prefix"` // framework state property prefix
}

// DebounceConfig controls mutation batching.
type DebounceConfig struct {
	Window    time.Duration `yaml:"window"`
	MaxBuffer int           `yaml:"max_buffer"`
}

// SinkConfig defines an extra output backend mirroring the stream.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook
	URL  string `yaml:"url"`  // webhook only
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Page.ID == "" {
		c.Page.ID = "chat"
	}
	if c.Page.Root == "" {
		c.Page.Root = "main"
	}
	if c.Page.ReadySelector == "" {
		c.Page.ReadySelector = "main"
	}
	if c.Page.ReadyTimeout <= 0 {
		c.Page.ReadyTimeout = 30 * time.Second
	}
	if c.Page.SettleDelay <= 0 {
		c.Page.SettleDelay = 500 * time.Millisecond
	}
	if c.Page.StatePrefix == "" {
		c.Page.StatePrefix = DefaultStatePrefix
	}
	if c.Debounce.Window <= 0 {
		c.Debounce.Window = 250 * time.Millisecond
	}
	if c.Debounce.MaxBuffer <= 0 {
		c.Debounce.MaxBuffer = 1000
	}
}
