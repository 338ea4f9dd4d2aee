package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	Template    string  `yaml:"prompt_template"`
	// APIKey is only ever read from the environment.
	APIKey string `yaml:"-"`
}

type EmbedderConfig struct {
	Provider  string  `yaml:"provider"`
	BaseURL   string  `yaml:"base_url"`
	Model     string  `yaml:"model"`
	Dimension int     `yaml:"dimension"`
	BatchSize int     `yaml:"batch_size"`
	RateLimit float64 `yaml:"rate_limit"`
}

type StoreConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	DatabaseURL string `yaml:"database_url"`
	TableName   string `yaml:"table_name"`
}

type LoaderConfig struct {
	DocsDir    string   `yaml:"docs_dir"`
	Extensions []string `yaml:"extensions"`
	Recursive  bool     `yaml:"recursive"`
}

type ProcessorConfig struct {
	Strategy        string   `yaml:"strategy"`
	ChunkSize       int      `yaml:"chunk_size"`
	ChunkOverlap    int      `yaml:"chunk_overlap"`
	RemoveStopwords bool     `yaml:"remove_stopwords"`
	CustomStopwords []string `yaml:"custom_stopwords"`
}

type RAGConfig struct {
	TopK int `yaml:"top_k"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Store     StoreConfig     `yaml:"store"`
	Loader    LoaderConfig    `yaml:"loader"`
	Processor ProcessorConfig `yaml:"processor"`
	RAG       RAGConfig       `yaml:"rag"`
	Server    ServerConfig    `yaml:"server"`
}

// LoadConfig reads the YAML file at path. An empty path searches the default
// locations and falls back to built-in defaults when none exists.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/mindease/config.yaml"),
			"/etc/mindease/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	applyDefaults(config)
	mergeWithEnv(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = "ollama"
	}
	if config.LLM.Model == "" {
		config.LLM.Model = "mistral"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 1024
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.3
	}
	if config.LLM.BaseURL == "" && config.LLM.Provider == "ollama" {
		config.LLM.BaseURL = "http://localhost:11434"
	}

	if config.Embedder.Provider == "" {
		config.Embedder.Provider = config.LLM.Provider
	}
	if config.Embedder.Model == "" {
		if config.Embedder.Provider == "openai" {
			config.Embedder.Model = "text-embedding-3-small"
		} else {
			config.Embedder.Model = "nomic-embed-text:latest"
		}
	}
	if config.Embedder.BaseURL == "" && config.Embedder.Provider == "ollama" {
		config.Embedder.BaseURL = config.LLM.BaseURL
	}
	if config.Embedder.BatchSize == 0 {
		config.Embedder.BatchSize = 32
	}
	if config.Embedder.RateLimit == 0 {
		config.Embedder.RateLimit = 10
	}

	if config.Store.Backend == "" {
		config.Store.Backend = "sqlite"
	}
	if config.Store.Path == "" {
		config.Store.Path = filepath.Join("data", "vectorstore.db")
	}
	if config.Store.TableName == "" {
		config.Store.TableName = "chunks"
	}

	if config.Loader.DocsDir == "" {
		config.Loader.DocsDir = "docs"
	}
	if len(config.Loader.Extensions) == 0 {
		config.Loader.Extensions = []string{".pdf"}
	}

	if config.Processor.Strategy == "" {
		config.Processor.Strategy = "fixed"
	}
	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 500
	}
	if config.Processor.ChunkOverlap == 0 {
		config.Processor.ChunkOverlap = 50
	}

	if config.RAG.TopK == 0 {
		config.RAG.TopK = 4
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
		if config.Embedder.Provider == "" || config.Embedder.Provider == "ollama" {
			config.Embedder.BaseURL = baseURL
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Store.DatabaseURL = dbURL
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		config.LLM.APIKey = key
	}
	if dir := os.Getenv("MINDEASE_DOCS_DIR"); dir != "" {
		config.Loader.DocsDir = dir
	}
	if path := os.Getenv("MINDEASE_STORE_PATH"); path != "" {
		config.Store.Path = path
	}
}
