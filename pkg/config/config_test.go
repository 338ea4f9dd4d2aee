package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"OLLAMA_BASE_URL", "DATABASE_URL", "OPENAI_API_KEY", "MINDEASE_DOCS_DIR", "MINDEASE_STORE_PATH"} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("MINDEASE_TEST_DOCS", "/srv/wellness")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configData := `
llm:
  provider: "ollama"
  base_url: "http://localhost:11434"
  model: "llama3"
  max_tokens: 1000
  temperature: 0.5

embedder:
  model: "nomic-embed-text:latest"
  batch_size: 16
  rate_limit: 4

store:
  backend: "sqlite"
  path: "/tmp/mindease/store.db"

loader:
  docs_dir: "${MINDEASE_TEST_DOCS}"
  extensions: [".pdf", ".txt"]

processor:
  strategy: "recursive"
  chunk_size: 400
  chunk_overlap: 40
  remove_stopwords: true
  custom_stopwords: ["really"]

rag:
  top_k: 3
`
	err := os.WriteFile(configPath, []byte(configData), 0644)
	require.NoError(t, err)

	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:11434", config.LLM.BaseURL)
	assert.Equal(t, "llama3", config.LLM.Model)
	assert.Equal(t, 1000, config.LLM.MaxTokens)
	assert.Equal(t, 0.5, config.LLM.Temperature)
	assert.Equal(t, "ollama", config.Embedder.Provider)
	assert.Equal(t, "http://localhost:11434", config.Embedder.BaseURL)
	assert.Equal(t, 16, config.Embedder.BatchSize)
	assert.Equal(t, "/tmp/mindease/store.db", config.Store.Path)
	assert.Equal(t, "/srv/wellness", config.Loader.DocsDir)
	assert.Equal(t, []string{".pdf", ".txt"}, config.Loader.Extensions)
	assert.Equal(t, "recursive", config.Processor.Strategy)
	assert.Equal(t, 400, config.Processor.ChunkSize)
	assert.True(t, config.Processor.RemoveStopwords)
	assert.Equal(t, []string{"really"}, config.Processor.CustomStopwords)
	assert.Equal(t, 3, config.RAG.TopK)
	assert.Equal(t, ":8080", config.Server.Addr)
	assert.Empty(t, config.Validate())
}

func TestDefaultConfigIsValid(t *testing.T) {
	clearEnv(t)

	config, err := getDefaultConfig()
	require.NoError(t, err)

	assert.Equal(t, 500, config.Processor.ChunkSize)
	assert.Equal(t, 50, config.Processor.ChunkOverlap)
	assert.False(t, config.Processor.RemoveStopwords)
	assert.Equal(t, "sqlite", config.Store.Backend)
	assert.Equal(t, []string{".pdf"}, config.Loader.Extensions)
	assert.Empty(t, config.Validate())
}

func TestConfigValidation(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name          string
		mutate        func(c *Config)
		errorMessages []string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name: "invalid config",
			mutate: func(c *Config) {
				c.LLM.MaxTokens = 5000
				c.LLM.Temperature = 3.0
				c.Store.Backend = "pgvector"
				c.Store.DatabaseURL = "not a url"
				c.Processor.ChunkOverlap = 600
			},
			errorMessages: []string{
				"llm.max_tokens: max_tokens must be between 1 and 4096",
				"llm.temperature: temperature must be between 0 and 2",
				"store.database_url: a valid database URL is required for the pgvector backend",
				"processor.chunk_overlap: chunk_overlap must be non-negative and less than chunk_size",
			},
		},
		{
			name: "openai without key",
			mutate: func(c *Config) {
				c.LLM.Provider = "openai"
				c.Embedder.Provider = "openai"
			},
			errorMessages: []string{
				"llm.api_key: OPENAI_API_KEY must be set in the environment",
			},
		},
		{
			name: "template missing slot",
			mutate: func(c *Config) {
				c.LLM.Template = "Context: {{.context}}"
			},
			errorMessages: []string{
				"llm.prompt_template: template must contain {{.question}}",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := getDefaultConfig()
			require.NoError(t, err)
			tt.mutate(config)

			errors := config.Validate()
			require.Len(t, errors, len(tt.errorMessages))
			for i, msg := range tt.errorMessages {
				assert.Equal(t, msg, errors[i].Error())
			}
		})
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OLLAMA_BASE_URL", "http://env-ollama:11434")
	t.Setenv("DATABASE_URL", "postgres://env-db:5432/test")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("MINDEASE_STORE_PATH", "/var/lib/mindease/store.db")

	config := &Config{}
	mergeWithEnv(config)

	assert.Equal(t, "http://env-ollama:11434", config.LLM.BaseURL)
	assert.Equal(t, "http://env-ollama:11434", config.Embedder.BaseURL)
	assert.Equal(t, "postgres://env-db:5432/test", config.Store.DatabaseURL)
	assert.Equal(t, "sk-test", config.LLM.APIKey)
	assert.Equal(t, "/var/lib/mindease/store.db", config.Store.Path)
}

func TestAPIKeyNeverReadFromFile(t *testing.T) {
	clearEnv(t)

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("llm:\n  api_key: \"sk-from-file\"\n"), 0644))

	config, err := LoadConfig(configPath)
	require.NoError(t, err)
	assert.Empty(t, config.LLM.APIKey)
}
