// Package config loads caseweaver configuration from YAML with environment
// overrides for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all caseweaver configuration.
type Config struct {
	// LLM configures the generation collaborator.
	LLM LLMConfig `yaml:"llm"`

	// Pipeline configures orchestration behavior.
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Similarity configures the terminal novelty gate.
	Similarity SimilarityConfig `yaml:"similarity"`

	// Store configures the run repository.
	Store StoreConfig `yaml:"store"`

	// Logging configures log verbosity.
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the Gemini generation client.
type LLMConfig struct {
	APIKey         string  `yaml:"api_key"`
	Model          string  `yaml:"model"`
	BaseURL        string  `yaml:"base_url"`
	Timeout        string  `yaml:"timeout"`
	InputCostPerM  float64 `yaml:"input_cost_per_m"`
	OutputCostPerM float64 `yaml:"output_cost_per_m"`
}

// PipelineConfig configures the orchestrator.
type PipelineConfig struct {
	MaxRevisions     int      `yaml:"max_revisions"`
	SkipStages       []string `yaml:"skip_stages"`
	SkipSimilarity   bool     `yaml:"skip_similarity"`
	StrictSimilarity bool     `yaml:"strict_similarity"`
}

// SimilarityConfig configures the novelty gate thresholds. A zero
// fail_floor inherits warn_floor.
type SimilarityConfig struct {
	WarnFloor float64 `yaml:"warn_floor"`
	FailFloor float64 `yaml:"fail_floor"`
	// Semantic enables the embedding-backed premise comparator.
	Semantic bool `yaml:"semantic"`
}

// StoreConfig configures the sqlite run repository.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Model:          "gemini-2.5-flash",
			Timeout:        "5m",
			InputCostPerM:  0.30,
			OutputCostPerM: 2.50,
		},
		Pipeline: PipelineConfig{
			MaxRevisions: 3,
		},
		Similarity: SimilarityConfig{
			WarnFloor: 0.70,
		},
		Store: StoreConfig{
			DatabasePath: "caseweaver.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML config file over the defaults and applies environment
// overrides. A missing file is not an error; defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnvOverrides lets secrets live outside the config file.
func applyEnvOverrides(cfg *Config) {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}
	if model := os.Getenv("CASEWEAVER_MODEL"); model != "" {
		cfg.LLM.Model = model
	}
	if db := os.Getenv("CASEWEAVER_DB"); db != "" {
		cfg.Store.DatabasePath = db
	}
}

func (c Config) validate() error {
	if c.Pipeline.MaxRevisions < 1 {
		return fmt.Errorf("config: pipeline.max_revisions must be at least 1")
	}
	if c.Similarity.WarnFloor <= 0 || c.Similarity.WarnFloor > 1 {
		return fmt.Errorf("config: similarity.warn_floor must be in (0,1]")
	}
	if c.Similarity.FailFloor != 0 && c.Similarity.FailFloor < c.Similarity.WarnFloor {
		return fmt.Errorf("config: similarity.fail_floor below warn_floor")
	}
	if _, err := c.LLMTimeout(); err != nil {
		return err
	}
	return nil
}

// LLMTimeout parses the configured LLM timeout.
func (c Config) LLMTimeout() (time.Duration, error) {
	if c.LLM.Timeout == "" {
		return 5 * time.Minute, nil
	}
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 0, fmt.Errorf("config: invalid llm.timeout %q: %w", c.LLM.Timeout, err)
	}
	return d, nil
}
