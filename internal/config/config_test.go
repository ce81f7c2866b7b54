package config

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("REPORTGEN_API_KEY", "")
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.AI.Provider)
	assert.Equal(t, "deepseek-chat", cfg.AI.Model)
	assert.Equal(t, "ОШИБОК: 0", cfg.Rewrite.ZeroToken)
	assert.InDelta(t, 0.6, cfg.Section.FallbackFraction, 1e-9)
	assert.Contains(t, cfg.Render.HighlightKeywords, "Акт")
	assert.False(t, cfg.Storage.Cache)
}

func TestDefault_AppendixMarkersMatchWholeNumbers(t *testing.T) {
	cfg := Default()
	start := regexp.MustCompile("(?i)" + cfg.Section.StartMarkers[0])
	end := regexp.MustCompile("(?i)" + cfg.Section.EndMarkers[0])

	assert.True(t, start.MatchString("Приложение № 1 к контракту"))
	assert.True(t, start.MatchString("Приложение №1"))
	assert.False(t, start.MatchString("Приложение № 10 к контракту"))
	assert.False(t, start.MatchString("Приложение № 12"))
	assert.True(t, end.MatchString("Приложение № 2."))
	assert.False(t, end.MatchString("Приложение № 21"))

	en := regexp.MustCompile("(?i)" + cfg.Section.StartMarkers[1])
	assert.True(t, en.MatchString("Appendix No. 1"))
	assert.False(t, en.MatchString("Appendix No. 11"))
}

func TestLoadConfig_FileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
ai:
  provider: gemini
  model: gemini-2.5-flash
section:
  start_markers: ["Annex A"]
  end_markers: ["Annex B"]
  fallback_fraction: 0.5
rewrite:
  zero_token: "ERRORS: 0"
  concurrency: 2
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	t.Setenv("REPORTGEN_API_KEY", "secret")
	t.Setenv("REPORTGEN_AI_MODEL", "gemini-2.5-pro")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "gemini", cfg.AI.Provider)
	assert.Equal(t, "gemini-2.5-pro", cfg.AI.Model)
	assert.Equal(t, "secret", cfg.AI.APIKey)
	assert.Equal(t, []string{"Annex A"}, cfg.Section.StartMarkers)
	assert.Equal(t, "ERRORS: 0", cfg.Rewrite.ZeroToken)
	assert.Equal(t, 2, cfg.Rewrite.Concurrency)
	// untouched sections keep their defaults
	assert.NotEmpty(t, cfg.Requirements.StartMarkers)
}

func TestValidate(t *testing.T) {
	t.Run("bad marker", func(t *testing.T) {
		cfg := Default()
		cfg.Section.StartMarkers = []string{"(unclosed"}
		assert.Error(t, cfg.Validate())
	})
	t.Run("bad fraction", func(t *testing.T) {
		cfg := Default()
		cfg.Section.FallbackFraction = 1.5
		assert.Error(t, cfg.Validate())
	})
	t.Run("unknown provider", func(t *testing.T) {
		cfg := Default()
		cfg.AI.Provider = "ollama"
		assert.Error(t, cfg.Validate())
	})
	t.Run("concurrency floor", func(t *testing.T) {
		cfg := Default()
		cfg.Rewrite.Concurrency = 0
		require.NoError(t, cfg.Validate())
		assert.Equal(t, 1, cfg.Rewrite.Concurrency)
	})
}
