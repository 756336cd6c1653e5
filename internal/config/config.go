package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is where the CLI looks for configuration when --config is
// not given.
const DefaultConfigPath = ".vpsrenew/config.yaml"

// Config holds all vpsrenew configuration.
type Config struct {
	// Provider control panel: credentials, URLs and selectors
	Panel PanelConfig `yaml:"panel"`

	// Headless browser used as the session driver
	Browser BrowserConfig `yaml:"browser"`

	// Renewal timing
	Renewal RenewalConfig `yaml:"renewal"`

	// Challenge recognition chain
	Recognition RecognitionConfig `yaml:"recognition"`

	// Remote vision services
	Vision VisionConfig `yaml:"vision"`

	// Human hand-off channel
	Rendezvous RendezvousConfig `yaml:"rendezvous"`

	// Diagnostic images
	Artifacts ArtifactsConfig `yaml:"artifacts"`

	// Run history database
	History HistoryConfig `yaml:"history"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// BrowserConfig configures the rod-driven Chrome instance.
type BrowserConfig struct {
	Headless       bool   `yaml:"headless"`
	DebuggerURL    string `yaml:"debugger_url"` // connect to an existing Chrome instead of launching
	NavigationWait string `yaml:"navigation_wait"`
	ElementTimeout string `yaml:"element_timeout"`
	ViewportWidth  int    `yaml:"viewport_width"`
	ViewportHeight int    `yaml:"viewport_height"`
}

// RenewalConfig configures when a renewal is attempted.
type RenewalConfig struct {
	ThresholdHours float64 `yaml:"threshold_hours"`
	Timezone       string  `yaml:"timezone"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Panel: DefaultPanelConfig(),

		Browser: BrowserConfig{
			Headless:       true,
			NavigationWait: "3s",
			ElementTimeout: "20s",
			ViewportWidth:  1280,
			ViewportHeight: 1024,
		},

		Renewal: RenewalConfig{
			ThresholdHours: 12,
			Timezone:       "Asia/Tokyo",
		},

		Recognition: RecognitionConfig{
			Chain:         []string{BackendLocal, BackendAnthropic, BackendGemini, BackendClaudeCLI, BackendInteractive},
			Language:      "jpn",
			MinConfidence: 0.2,
			Scale:         3,
		},

		Vision: VisionConfig{
			Anthropic: AnthropicConfig{
				Model:   "claude-3-5-sonnet-20241022",
				BaseURL: "https://api.anthropic.com/v1",
				Timeout: "60s",
			},
			Gemini: GeminiConfig{
				Model:   "gemini-2.0-flash",
				Timeout: "60s",
			},
			ClaudeCLI: ClaudeCLIConfig{
				Binary:  "claude",
				Timeout: "120s",
			},
		},

		Rendezvous: RendezvousConfig{
			Dir:          ".vpsrenew/rendezvous",
			AnswerFile:   "captcha_solution.txt",
			Timeout:      "5m",
			PollInterval: "5s",
			Watch:        true,
		},

		Artifacts: ArtifactsConfig{
			Kind: "dir",
			Dir:  ".vpsrenew/artifacts",
			Minio: MinioConfig{
				Bucket: "vpsrenew-artifacts",
				UseSSL: true,
			},
		},

		History: HistoryConfig{
			Enabled: true,
			Path:    ".vpsrenew/history.db",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadDotEnv loads .env files into the process environment. Missing files are
// not an error; variables already set win.
func LoadDotEnv(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		_ = godotenv.Load(p)
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Defaults plus environment when there is no file
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file. Secrets are written as-is, so the
// file is created with owner-only permissions.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// Panel credentials
	if v := os.Getenv("XSERVER_USERNAME"); v != "" {
		c.Panel.Username = v
	}
	if v := os.Getenv("XSERVER_PASSWORD"); v != "" {
		c.Panel.Password = v
	}
	if v := os.Getenv("XSERVER_SERVER_ID"); v != "" {
		c.Panel.ServerID = v
	}

	// Vision API keys
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.Vision.Anthropic.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Vision.Gemini.APIKey = key
	} else if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		c.Vision.Gemini.APIKey = key
	}

	if v := os.Getenv("VPSRENEW_THRESHOLD_HOURS"); v != "" {
		if h, err := strconv.ParseFloat(v, 64); err == nil {
			c.Renewal.ThresholdHours = h
		}
	}
	if v := os.Getenv("VPSRENEW_RENDEZVOUS_DIR"); v != "" {
		c.Rendezvous.Dir = v
	}

	// Object storage for artifacts
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		c.Artifacts.Minio.Endpoint = v
		c.Artifacts.Kind = "minio"
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		c.Artifacts.Minio.AccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		c.Artifacts.Minio.SecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		c.Artifacts.Minio.Bucket = v
	}
}

// GetNavigationWait returns the settle time after page transitions.
func (c *Config) GetNavigationWait() time.Duration {
	return parseDuration(c.Browser.NavigationWait, 3*time.Second)
}

// GetElementTimeout returns how long the driver waits for an element.
func (c *Config) GetElementTimeout() time.Duration {
	return parseDuration(c.Browser.ElementTimeout, 20*time.Second)
}

// GetRendezvousTimeout returns the interactive answer deadline.
func (c *Config) GetRendezvousTimeout() time.Duration {
	return parseDuration(c.Rendezvous.Timeout, 5*time.Minute)
}

// GetRendezvousPoll returns the answer file poll interval.
func (c *Config) GetRendezvousPoll() time.Duration {
	return parseDuration(c.Rendezvous.PollInterval, 5*time.Second)
}

// GetAnthropicTimeout returns the Anthropic request timeout.
func (c *Config) GetAnthropicTimeout() time.Duration {
	return parseDuration(c.Vision.Anthropic.Timeout, 60*time.Second)
}

// GetGeminiTimeout returns the Gemini request timeout.
func (c *Config) GetGeminiTimeout() time.Duration {
	return parseDuration(c.Vision.Gemini.Timeout, 60*time.Second)
}

// GetClaudeCLITimeout returns the claude subprocess timeout.
func (c *Config) GetClaudeCLITimeout() time.Duration {
	return parseDuration(c.Vision.ClaudeCLI.Timeout, 120*time.Second)
}

// GetLocation returns the panel's time zone. Unknown zones fall back to a fixed
// UTC+9 zone so that expiration strings still parse deterministically.
func (c *Config) GetLocation() *time.Location {
	if c.Renewal.Timezone == "" {
		return time.FixedZone("JST", 9*60*60)
	}
	loc, err := time.LoadLocation(c.Renewal.Timezone)
	if err != nil {
		return time.FixedZone("JST", 9*60*60)
	}
	return loc
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Renewal.ThresholdHours < 0 {
		return fmt.Errorf("renewal.threshold_hours must be >= 0, got %v", c.Renewal.ThresholdHours)
	}
	if c.Recognition.MinConfidence < 0 || c.Recognition.MinConfidence > 1 {
		return fmt.Errorf("recognition.min_confidence must be within [0,1], got %v", c.Recognition.MinConfidence)
	}
	if c.Recognition.Scale != 0 && c.Recognition.Scale < 2 {
		return fmt.Errorf("recognition.scale must be at least 2, got %d", c.Recognition.Scale)
	}
	for _, name := range c.Recognition.Chain {
		if !isValidBackend(name) {
			return fmt.Errorf("invalid recognition backend: %s (valid: %v)", name, ValidBackends)
		}
	}
	switch c.Artifacts.Kind {
	case "", "none", "dir":
	case "minio":
		if c.Artifacts.Minio.Endpoint == "" || c.Artifacts.Minio.Bucket == "" {
			return fmt.Errorf("artifacts.minio requires endpoint and bucket")
		}
	default:
		return fmt.Errorf("invalid artifacts.kind: %s (valid: none, dir, minio)", c.Artifacts.Kind)
	}
	return nil
}

// ValidateCredentials checks that a live panel run has what it needs.
func (c *Config) ValidateCredentials() error {
	if c.Panel.Username == "" || c.Panel.Password == "" {
		return fmt.Errorf("panel credentials not configured (set XSERVER_USERNAME and XSERVER_PASSWORD)")
	}
	if c.Panel.ServerID == "" {
		return fmt.Errorf("panel server id not configured (set XSERVER_SERVER_ID)")
	}
	return nil
}
