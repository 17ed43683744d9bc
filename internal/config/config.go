package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	RAG         RAGConfig         `yaml:"rag"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	LLM         LLMConfig         `yaml:"llm"`
	Generation  GenerationConfig  `yaml:"generation"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Database    DatabaseConfig    `yaml:"database"`
	Log         LogConfig         `yaml:"log"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

type RAGConfig struct {
	ChunkSize        int    `yaml:"chunk_size"`
	ChunkOverlap     int    `yaml:"chunk_overlap"`
	MaxChunks        int    `yaml:"max_chunks"`
	SelectionContext string `yaml:"selection_context"`
}

// LLMConfig describes an OpenAI-compatible or ollama endpoint.
type LLMConfig struct {
	Provider      string `yaml:"provider"`
	BaseURL       string `yaml:"base_url"`
	Key           string `yaml:"key"`
	Model         string `yaml:"model"`
	FallbackModel string `yaml:"fallback_model"`
}

type EmbeddingModelConfig struct {
	Name      string    `yaml:"name"`
	Type      string    `yaml:"type"`
	Enabled   bool      `yaml:"enabled"`
	Dimension int       `yaml:"dimension"`
	BatchSize int       `yaml:"batch_size"`
	LLM       LLMConfig `yaml:"llm"`
}

type EmbeddingConfig struct {
	DefaultModel  string                 `yaml:"default_model"`
	FallbackModel string                 `yaml:"fallback_model"`
	Models        []EmbeddingModelConfig `yaml:"models"`
}

type GenerationConfig struct {
	Temperature     float64       `yaml:"temperature"`
	MaxTokens       int           `yaml:"max_tokens"`
	MinContentChars int           `yaml:"min_content_chars"`
	MaxContentChars int           `yaml:"max_content_chars"`
	Concurrency     int           `yaml:"concurrency"`
	TypeTimeout     time.Duration `yaml:"type_timeout"`
	CatalogTTL      time.Duration `yaml:"catalog_ttl"`
}

type VectorStoreConfig struct {
	Backend       string `yaml:"backend"` // chromem, postgres or empty
	Path          string `yaml:"path"`
	Collection    string `yaml:"collection"`
	InMemory      bool   `yaml:"in_memory"`
	EncryptionKey string `yaml:"encryption_key"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // pgdriver or postgres (lib/pq)
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

const (
	defaultChunkSize       = 1000
	defaultChunkOverlap    = 200
	defaultMaxChunks       = 10
	defaultTemperature     = 0.3
	defaultMaxTokens       = 2000
	defaultMinContentChars = 50
	defaultMaxContentChars = 4000
	defaultCatalogTTL      = 5 * time.Minute
	defaultLLMModel        = "deepseek-r1:1.5b"
	defaultFallbackModel   = "llama3.2:3b"
	defaultOllamaURL       = "http://localhost:11434"
	defaultCollection      = "quiz_chunks"
	defaultVectorPath      = "./chromemdb"
)

// LoadConfig reads a YAML config file. A .env file next to the working
// directory is loaded first and ${VAR} references in the YAML are expanded
// from the environment. QUIZ_* variables override individual settings.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML config bytes and applies env overrides and defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config with every default applied.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func (c *Config) Validate() error {
	if c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("rag.chunk_overlap (%d) must be smaller than rag.chunk_size (%d)", c.RAG.ChunkOverlap, c.RAG.ChunkSize)
	}
	if c.Generation.MinContentChars > c.Generation.MaxContentChars {
		return fmt.Errorf("generation.min_content_chars must not exceed generation.max_content_chars")
	}
	seen := make(map[string]bool)
	for _, m := range c.Embedding.Models {
		if m.Name == "" {
			return fmt.Errorf("embedding model without name")
		}
		if seen[m.Name] {
			return fmt.Errorf("duplicate embedding model %q", m.Name)
		}
		seen[m.Name] = true
	}
	switch c.VectorStore.Backend {
	case "", "chromem", "postgres":
	default:
		return fmt.Errorf("unknown vector_store.backend %q", c.VectorStore.Backend)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.LLM.BaseURL, "QUIZ_LLM_BASE_URL")
	setString(&cfg.LLM.Key, "QUIZ_LLM_KEY")
	setString(&cfg.LLM.Model, "QUIZ_LLM_MODEL")
	setString(&cfg.LLM.FallbackModel, "QUIZ_LLM_FALLBACK_MODEL")
	setString(&cfg.Embedding.DefaultModel, "QUIZ_EMBEDDING_MODEL")
	setString(&cfg.Database.URL, "QUIZ_DATABASE_URL")
	setString(&cfg.Database.Password, "QUIZ_DATABASE_PASSWORD")
	setString(&cfg.Log.Level, "QUIZ_LOG_LEVEL")
	if v := os.Getenv("QUIZ_MAX_CHUNKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RAG.MaxChunks = n
		}
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.RAG.ChunkSize <= 0 {
		cfg.RAG.ChunkSize = defaultChunkSize
	}
	if cfg.RAG.ChunkOverlap <= 0 {
		cfg.RAG.ChunkOverlap = min(defaultChunkOverlap, cfg.RAG.ChunkSize/5)
	}
	if cfg.RAG.MaxChunks <= 0 {
		cfg.RAG.MaxChunks = defaultMaxChunks
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "ollama"
	}
	if cfg.LLM.BaseURL == "" && cfg.LLM.Provider == "ollama" {
		cfg.LLM.BaseURL = defaultOllamaURL
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = defaultLLMModel
	}
	if cfg.LLM.FallbackModel == "" {
		cfg.LLM.FallbackModel = defaultFallbackModel
	}

	if len(cfg.Embedding.Models) == 0 {
		cfg.Embedding.Models = defaultEmbeddingModels()
	}
	for i := range cfg.Embedding.Models {
		m := &cfg.Embedding.Models[i]
		if m.Type == "" {
			m.Type = "local"
		}
		if m.LLM.Provider == "" {
			m.LLM.Provider = "ollama"
		}
		if m.LLM.BaseURL == "" && m.LLM.Provider == "ollama" {
			m.LLM.BaseURL = defaultOllamaURL
			if cfg.LLM.Provider == "ollama" {
				m.LLM.BaseURL = cfg.LLM.BaseURL
			}
		}
		if m.BatchSize <= 0 {
			m.BatchSize = 100
		}
	}
	if cfg.Embedding.DefaultModel == "" {
		cfg.Embedding.DefaultModel = "local"
	}
	if cfg.Embedding.FallbackModel == "" {
		cfg.Embedding.FallbackModel = cfg.Embedding.DefaultModel
	}

	if cfg.Generation.Temperature <= 0 {
		cfg.Generation.Temperature = defaultTemperature
	}
	if cfg.Generation.MaxTokens <= 0 {
		cfg.Generation.MaxTokens = defaultMaxTokens
	}
	if cfg.Generation.MinContentChars <= 0 {
		cfg.Generation.MinContentChars = defaultMinContentChars
	}
	if cfg.Generation.MaxContentChars <= 0 {
		cfg.Generation.MaxContentChars = defaultMaxContentChars
	}
	if cfg.Generation.Concurrency <= 0 {
		cfg.Generation.Concurrency = 1
	}
	if cfg.Generation.CatalogTTL <= 0 {
		cfg.Generation.CatalogTTL = defaultCatalogTTL
	}

	if cfg.VectorStore.Collection == "" {
		cfg.VectorStore.Collection = defaultCollection
	}
	if cfg.VectorStore.Path == "" {
		cfg.VectorStore.Path = defaultVectorPath
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "pgdriver"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func defaultEmbeddingModels() []EmbeddingModelConfig {
	return []EmbeddingModelConfig{
		{
			Name:      "local",
			Type:      "local",
			Enabled:   true,
			Dimension: 768,
			LLM:       LLMConfig{Provider: "ollama", Model: "nomic-embed-text"},
		},
		{
			Name:      "qa-optimized",
			Type:      "local",
			Enabled:   false,
			Dimension: 1024,
			LLM:       LLMConfig{Provider: "ollama", Model: "mxbai-embed-large"},
		},
		{
			Name:      "openai",
			Type:      "remote",
			Enabled:   os.Getenv("OPENAI_API_KEY") != "",
			Dimension: 1536,
			BatchSize: 100,
			LLM: LLMConfig{
				Provider: "openai",
				BaseURL:  "https://api.openai.com/v1",
				Key:      os.Getenv("OPENAI_API_KEY"),
				Model:    "text-embedding-ada-002",
			},
		},
	}
}
