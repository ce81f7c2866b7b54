package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LocatorConfig describes one document family's section boundaries.
type LocatorConfig struct {
	StartMarkers     []string `yaml:"start_markers"`
	EndMarkers       []string `yaml:"end_markers"`
	FallbackFraction float64  `yaml:"fallback_fraction"`
	MaxLength        int      `yaml:"max_length"`
}

type Config struct {
	AI struct {
		Provider       string  `yaml:"provider"` // openai | gemini
		Model          string  `yaml:"model"`
		VerifyModel    string  `yaml:"verify_model"` // optional, defaults to Model
		APIKey         string  `yaml:"api_key"`
		BaseURL        string  `yaml:"base_url"`
		TimeoutSeconds int     `yaml:"timeout_seconds"`
		MaxRetries     int     `yaml:"max_retries"`
		Temperature    float64 `yaml:"temperature"`
	} `yaml:"ai"`
	Section      LocatorConfig `yaml:"section"`
	ChunkPattern string        `yaml:"chunk_pattern"`
	Requirements LocatorConfig `yaml:"requirements"`
	Metadata     struct {
		HeadChars int `yaml:"head_chars"`
		TailChars int `yaml:"tail_chars"`
	} `yaml:"metadata"`
	Rewrite struct {
		BannedWords       []string `yaml:"banned_words"`
		Tense             string   `yaml:"tense"`
		PreserveNumbering bool     `yaml:"preserve_numbering"`
		Supplementary     string   `yaml:"supplementary"`
		ZeroToken         string   `yaml:"zero_token"`
		Concurrency       int      `yaml:"concurrency"`
	} `yaml:"rewrite"`
	Render struct {
		HighlightKeywords []string `yaml:"highlight_keywords"`
		Placeholder       string   `yaml:"placeholder"`
	} `yaml:"render"`
	Storage struct {
		Path  string `yaml:"path"`
		Cache bool   `yaml:"cache"`
	} `yaml:"storage"`
	Server struct {
		Addr          string `yaml:"addr"`
		MaxUploadMB   int    `yaml:"max_upload_mb"`
		RunTimeoutSec int    `yaml:"run_timeout_seconds"`
	} `yaml:"server"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Default returns the configuration used when no config.yaml is present.
func Default() *Config {
	var cfg Config
	cfg.AI.Provider = "openai"
	cfg.AI.Model = "deepseek-chat"
	cfg.AI.BaseURL = "https://api.deepseek.com"
	cfg.AI.TimeoutSeconds = 90
	cfg.AI.MaxRetries = 2
	cfg.AI.Temperature = 0.1

	cfg.Section = LocatorConfig{
		StartMarkers: []string{
			`Приложение\s*№\s*1\b`,
			`Appendix\s+No\.?\s*1\b`,
			`Техническое\s+задание`,
			`Technical\s+Specification`,
			`Описание\s+объекта\s+закупки`,
		},
		EndMarkers: []string{
			`Приложение\s*№\s*2\b`,
			`Appendix\s+No\.?\s*2\b`,
			`Требования\s+к\s+(?:предоставляемой|отчетной)\s+документации`,
		},
		FallbackFraction: 0.6,
		MaxLength:        60000,
	}
	cfg.ChunkPattern = `(?m)^[ \t]*\d+\.`
	cfg.Requirements = LocatorConfig{
		StartMarkers: []string{
			`Требования\s+к\s+(?:предоставляемой|отчетной)\s+документации`,
			`Перечень\s+(?:предоставляемых|отчетных)\s+документов`,
			`Required\s+supporting\s+documents`,
		},
		EndMarkers: []string{
			`Приложение\s*№\s*\d+`,
			`Appendix\s+No\.?\s*\d+`,
		},
		FallbackFraction: 0.6,
		MaxLength:        8000,
	}

	cfg.Metadata.HeadChars = 3000
	cfg.Metadata.TailChars = 3000

	cfg.Rewrite.BannedWords = []string{
		"должен", "должна", "должно", "должны",
		"обязан", "обязана", "обязаны",
		"необходимо", "будет", "будут",
	}
	cfg.Rewrite.Tense = "Заголовки пиши в настоящем времени, текст — строго в прошедшем времени ('оказано', 'выполнено')."
	cfg.Rewrite.PreserveNumbering = true
	cfg.Rewrite.ZeroToken = "ОШИБОК: 0"
	cfg.Rewrite.Concurrency = 4

	cfg.Render.HighlightKeywords = []string{
		"Акт", "Фотоотчет", "Ведомость", "Скриншот", "Смета",
		"Резюме", "USB", "Флеш-накопитель", "Ссылка",
	}
	cfg.Render.Placeholder = "________________"

	cfg.Storage.Path = "reportgen.db"
	// reusing stored rewrites skips the service calls, so it is opt-in
	cfg.Storage.Cache = false

	cfg.Server.Addr = ":8080"
	cfg.Server.MaxUploadMB = 20
	cfg.Server.RunTimeoutSec = 900

	cfg.Log.Level = "info"
	return &cfg
}

// LoadConfig reads path over the defaults. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	// 1. Load .env if exists
	_ = godotenv.Load()

	cfg := Default()

	// 2. Load YAML config
	file, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(file, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	// 3. Override with Environment Variables if present
	if apiKey := os.Getenv("REPORTGEN_API_KEY"); apiKey != "" {
		cfg.AI.APIKey = apiKey
	}
	if provider := os.Getenv("REPORTGEN_AI_PROVIDER"); provider != "" {
		cfg.AI.Provider = provider
	}
	if model := os.Getenv("REPORTGEN_AI_MODEL"); model != "" {
		cfg.AI.Model = model
	}
	if baseURL := os.Getenv("REPORTGEN_BASE_URL"); baseURL != "" {
		cfg.AI.BaseURL = baseURL
	}
	if db := os.Getenv("REPORTGEN_DB"); db != "" {
		cfg.Storage.Path = db
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and compiles every configured pattern.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.AI.Provider)) {
	case "openai", "gemini":
	default:
		return fmt.Errorf("unsupported ai provider: %q", c.AI.Provider)
	}
	for name, lc := range map[string]LocatorConfig{"section": c.Section, "requirements": c.Requirements} {
		if len(lc.StartMarkers) == 0 {
			return fmt.Errorf("%s: start_markers must not be empty", name)
		}
		if lc.FallbackFraction <= 0 || lc.FallbackFraction > 1 {
			return fmt.Errorf("%s: fallback_fraction must be in (0, 1], got %v", name, lc.FallbackFraction)
		}
		if lc.MaxLength < 0 {
			return fmt.Errorf("%s: max_length must not be negative", name)
		}
		for _, p := range append(append([]string{}, lc.StartMarkers...), lc.EndMarkers...) {
			if _, err := regexp.Compile("(?i)" + p); err != nil {
				return fmt.Errorf("%s: bad marker %q: %w", name, p, err)
			}
		}
	}
	if _, err := regexp.Compile(c.ChunkPattern); err != nil {
		return fmt.Errorf("chunk_pattern: %w", err)
	}
	if strings.TrimSpace(c.Rewrite.ZeroToken) == "" {
		return fmt.Errorf("rewrite.zero_token is required")
	}
	if c.Rewrite.Concurrency <= 0 {
		c.Rewrite.Concurrency = 1
	}
	if c.Metadata.HeadChars < 0 || c.Metadata.TailChars < 0 {
		return fmt.Errorf("metadata window sizes must not be negative")
	}
	return nil
}
