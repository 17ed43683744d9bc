package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("llm:\n  model: qwen2.5:7b\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.RAG.ChunkSize != 1000 || cfg.RAG.ChunkOverlap != 200 {
		t.Fatalf("chunking = %d/%d, want 1000/200", cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	}
	if cfg.RAG.MaxChunks != 10 {
		t.Fatalf("MaxChunks = %d, want 10", cfg.RAG.MaxChunks)
	}
	if cfg.LLM.Model != "qwen2.5:7b" {
		t.Fatalf("LLM.Model = %q, want qwen2.5:7b", cfg.LLM.Model)
	}
	if cfg.LLM.BaseURL != defaultOllamaURL {
		t.Fatalf("LLM.BaseURL = %q, want %q", cfg.LLM.BaseURL, defaultOllamaURL)
	}
	if cfg.Generation.MaxTokens != 2000 || cfg.Generation.MaxContentChars != 4000 || cfg.Generation.MinContentChars != 50 {
		t.Fatalf("generation defaults = %+v", cfg.Generation)
	}
	if cfg.Embedding.DefaultModel != "local" || len(cfg.Embedding.Models) != 3 {
		t.Fatalf("embedding defaults = %+v", cfg.Embedding)
	}
}

func TestParseExpandsEnv(t *testing.T) {
	t.Setenv("QUIZ_TEST_KEY", "sk-test")
	t.Setenv("QUIZ_LLM_MODEL", "override-model")

	cfg, err := Parse([]byte(`
llm:
  provider: openai
  base_url: https://openrouter.ai/api/v1
  key: ${QUIZ_TEST_KEY}
  model: ignored
generation:
  type_timeout: 45s
  concurrency: 3
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.LLM.Key != "sk-test" {
		t.Fatalf("LLM.Key = %q, want sk-test", cfg.LLM.Key)
	}
	if cfg.LLM.Model != "override-model" {
		t.Fatalf("LLM.Model = %q, want override-model", cfg.LLM.Model)
	}
	if cfg.Generation.TypeTimeout != 45*time.Second {
		t.Fatalf("TypeTimeout = %v, want 45s", cfg.Generation.TypeTimeout)
	}
	if cfg.Generation.Concurrency != 3 {
		t.Fatalf("Concurrency = %d, want 3", cfg.Generation.Concurrency)
	}
	// ollama embedders keep their own default URL when the LLM is remote
	if got := cfg.Embedding.Models[0].LLM.BaseURL; got != defaultOllamaURL {
		t.Fatalf("embedding base url = %q, want %q", got, defaultOllamaURL)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"overlap":   "rag:\n  chunk_size: 100\n  chunk_overlap: 100\n",
		"backend":   "vector_store:\n  backend: qdrant\n",
		"duplicate": "embedding:\n  models:\n    - name: a\n    - name: a\n",
	}
	for name, in := range cases {
		if _, err := Parse([]byte(in)); err == nil {
			t.Fatalf("%s: Parse() error = nil, want error", name)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("rag:\n  max_chunks: 4\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.RAG.MaxChunks != 4 {
		t.Fatalf("MaxChunks = %d, want 4", cfg.RAG.MaxChunks)
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("LoadConfig(missing) error = nil, want error")
	}
}
