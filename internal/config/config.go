// Package config loads the agentcore YAML configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the process configuration: budgets, tier model IDs, memory
// caps, and sink connection strings.
type Config struct {
	// WorkingDir is the scope root for runs started by the CLI.
	WorkingDir string `yaml:"working_dir"`

	// SessionID groups runs for conversation history and KPI baselines.
	SessionID string `yaml:"session_id"`

	Budgets struct {
		MaxIterations         int `yaml:"max_iterations"`
		SummarizationInterval int `yaml:"summarization_interval"`
	} `yaml:"budgets"`

	// Providers maps a provider name to its API configuration.
	Providers struct {
		Anthropic ProviderConfig `yaml:"anthropic"`
		OpenAI    ProviderConfig `yaml:"openai"`
		// Primary selects which provider drives the run.
		Primary string `yaml:"primary"`
	} `yaml:"providers"`

	Memory struct {
		FactSheetMaxTokens   int `yaml:"fact_sheet_max_tokens"`
		FactSheetMaxEntries  int `yaml:"fact_sheet_max_entries"`
		ArchiveMaxEntries    int `yaml:"archive_max_entries"`
		ArchiveMaxTotalChars int `yaml:"archive_max_total_chars"`
	} `yaml:"memory"`

	Store struct {
		// Path is the SQLite database path; empty selects the in-process
		// store.
		Path string `yaml:"path"`
	} `yaml:"store"`

	Trace struct {
		// JSONLPath enables the JSONL tracer when set.
		JSONLPath string `yaml:"jsonl_path"`
		// OTel enables the OpenTelemetry span tracer.
		OTel bool `yaml:"otel"`
	} `yaml:"trace"`

	Events struct {
		// WebsocketAddr enables the live event broadcaster when set
		// (e.g. ":8388").
		WebsocketAddr string `yaml:"websocket_addr"`
	} `yaml:"events"`
}

// ProviderConfig is one LLM provider's credentials and tier model map.
type ProviderConfig struct {
	APIKey string `yaml:"api_key"`
	// TierModels maps small/medium/large to provider model IDs.
	TierModels map[string]string `yaml:"tier_models"`
}

// Load reads and sanitizes a config file. A missing path returns defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	sanitize(cfg)
	return cfg, nil
}

func sanitize(cfg *Config) {
	if cfg.WorkingDir == "" {
		cfg.WorkingDir = "."
	}
	if cfg.SessionID == "" {
		cfg.SessionID = "default"
	}
	if cfg.Budgets.MaxIterations <= 0 {
		cfg.Budgets.MaxIterations = 20
	}
	if cfg.Budgets.SummarizationInterval <= 0 {
		cfg.Budgets.SummarizationInterval = 4
	}
	if cfg.Providers.Primary == "" {
		cfg.Providers.Primary = "anthropic"
	}
	if cfg.Providers.Anthropic.TierModels == nil {
		cfg.Providers.Anthropic.TierModels = map[string]string{
			"small":  "claude-3-5-haiku-latest",
			"medium": "claude-sonnet-4-20250514",
			"large":  "claude-opus-4-20250514",
		}
	}
	if cfg.Providers.OpenAI.TierModels == nil {
		cfg.Providers.OpenAI.TierModels = map[string]string{
			"small":  "gpt-4o-mini",
			"medium": "gpt-4o",
			"large":  "gpt-4o",
		}
	}
	if cfg.Memory.FactSheetMaxTokens <= 0 {
		cfg.Memory.FactSheetMaxTokens = 2000
	}
	if cfg.Memory.FactSheetMaxEntries <= 0 {
		cfg.Memory.FactSheetMaxEntries = 50
	}
	if cfg.Memory.ArchiveMaxEntries <= 0 {
		cfg.Memory.ArchiveMaxEntries = 200
	}
	if cfg.Memory.ArchiveMaxTotalChars <= 0 {
		cfg.Memory.ArchiveMaxTotalChars = 2_000_000
	}
}
