package models

import "time"

type ModelType string

const (
	ModelTypeLocal  ModelType = "local"
	ModelTypeRemote ModelType = "remote"
)

type ModelInfo struct {
	Name      string    `json:"name"`
	Type      ModelType `json:"type"`
	Dimension int       `json:"dimension"`
	Available bool      `json:"available"`
	Default   bool      `json:"default,omitempty"`
}

type EmbeddingMetadata struct {
	TextLength  int       `json:"text_length"`
	WordCount   int       `json:"word_count"`
	GeneratedAt time.Time `json:"generated_at"`
	ModelInfo   ModelInfo `json:"model_info"`
}

// EmbeddingResult is one embedded text; results are one-to-one with inputs.
type EmbeddingResult struct {
	Text      string            `json:"text"`
	Vector    []float32         `json:"vector"`
	ModelName string            `json:"model_name"`
	Dimension int               `json:"dimension"`
	Metadata  EmbeddingMetadata `json:"metadata"`
}
