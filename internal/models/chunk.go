package models

// Section is one page/slide/sheet of extracted document text.
type Section struct {
	Text       string `json:"text"`
	PageNumber int    `json:"page_number,omitempty"`
	Filename   string `json:"filename"`
	DocumentID string `json:"document_id"`
}

// SourceMetadata is the provenance carried by every chunk.
// PageNumber is 0 when the source has no pages.
type SourceMetadata struct {
	DocumentID     string `json:"document_id"`
	Filename       string `json:"filename"`
	PageNumber     int    `json:"page_number,omitempty"`
	ChunkIndex     int    `json:"chunk_index"`
	WordCount      int    `json:"word_count"`
	CharacterCount int    `json:"character_count"`
}

// Chunk represents a parsed chunk with metadata
type Chunk struct {
	ID             string         `json:"id"`
	Text           string         `json:"text"`
	SourceMetadata SourceMetadata `json:"source_metadata"`
	Embedding      []float32      `json:"embedding,omitempty"`
}

// WithEmbedding returns a copy of c carrying vec.
func (c Chunk) WithEmbedding(vec []float32) Chunk {
	out := c
	out.Embedding = append([]float32(nil), vec...)
	return out
}

// HasEmbedding reports whether an embedding is attached.
func (c Chunk) HasEmbedding() bool {
	return len(c.Embedding) > 0
}

type RankedChunk struct {
	Chunk
	QuestionGenerationScore float64 `json:"question_generation_score"`
	SimilarityToContext     float64 `json:"similarity_to_context"`
	LengthScore             float64 `json:"length_score"`
	ComplexityScore         float64 `json:"complexity_score"`
}

// Chunks unwraps ranked chunks in rank order.
func Chunks(ranked []RankedChunk) []Chunk {
	out := make([]Chunk, len(ranked))
	for i, r := range ranked {
		out[i] = r.Chunk
	}
	return out
}
