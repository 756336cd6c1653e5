package config

// Backend names accepted in recognition.chain.
const (
	BackendLocal       = "local"
	BackendAnthropic   = "anthropic"
	BackendGemini      = "gemini"
	BackendClaudeCLI   = "claude-cli"
	BackendInteractive = "interactive"
)

// ValidBackends lists all supported recognition backends.
var ValidBackends = []string{BackendLocal, BackendAnthropic, BackendGemini, BackendClaudeCLI, BackendInteractive}

func isValidBackend(name string) bool {
	for _, b := range ValidBackends {
		if b == name {
			return true
		}
	}
	return false
}

// RecognitionConfig configures the challenge recognition cascade.
type RecognitionConfig struct {
	// Backends in preferred order. Local always runs before remote and remote
	// before interactive; this list only orders backends within a tier.
	Chain         []string `yaml:"chain"`
	Language      string   `yaml:"language"`       // tesseract traineddata name
	TessdataDir   string   `yaml:"tessdata_dir"`   // empty = tesseract default
	MinConfidence float64  `yaml:"min_confidence"` // fragment floor, [0,1]
	Scale         int      `yaml:"scale"`          // upscale factor, >= 2
}

// VisionConfig configures the remote vision services.
type VisionConfig struct {
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Gemini    GeminiConfig    `yaml:"gemini"`
	ClaudeCLI ClaudeCLIConfig `yaml:"claude_cli"`
}

// AnthropicConfig configures the Messages API client.
type AnthropicConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

// GeminiConfig configures the genai client.
type GeminiConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"`
}

// ClaudeCLIConfig configures the claude subprocess.
type ClaudeCLIConfig struct {
	Binary  string `yaml:"binary"`
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"`
}

// RendezvousConfig configures the human hand-off directory.
type RendezvousConfig struct {
	Dir          string `yaml:"dir"`
	AnswerFile   string `yaml:"answer_file"`
	Timeout      string `yaml:"timeout"`
	PollInterval string `yaml:"poll_interval"`
	Watch        bool   `yaml:"watch"` // fsnotify early wake-up
}
