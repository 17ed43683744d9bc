// Package selector ranks chunks by how suitable they are for question
// generation and keeps the best ones.
package selector

import (
	"context"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"document-quiz/internal/embedding"
	"document-quiz/internal/models"
)

// Score weights. Only their shape matters: three signals in [0,1] with
// similarity weighted highest.
const (
	SimilarityWeight = 0.5
	LengthWeight     = 0.25
	ComplexityWeight = 0.25

	idealChunkChars    = 500.0
	idealWordLength    = 6.0
	idealSentenceWords = 15.0
)

var educationalKeywords = []string{
	"definition", "example", "process", "method", "principle", "concept",
	"theory", "analysis", "conclusion", "result", "because", "therefore",
	"however", "furthermore", "in contrast", "specifically",
}

// Embedder is the part of the embedding engine the selector needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string, modelName string) ([]models.EmbeddingResult, error)
}

type Selector struct {
	embedder         Embedder
	model            string
	defaultMaxChunks int
}

func New(embedder Embedder, model string, defaultMaxChunks int) *Selector {
	if defaultMaxChunks <= 0 {
		defaultMaxChunks = models.DefaultMaxChunks
	}
	return &Selector{embedder: embedder, model: model, defaultMaxChunks: defaultMaxChunks}
}

// Select returns at most maxChunks chunks, best first. Chunks that cannot be
// embedded are kept with a zero score. The input slice is not modified.
func (s *Selector) Select(ctx context.Context, chunks []models.Chunk, queryContext string, maxChunks int) ([]models.RankedChunk, error) {
	if len(chunks) == 0 {
		return []models.RankedChunk{}, nil
	}
	if maxChunks <= 0 {
		maxChunks = s.defaultMaxChunks
	}
	if strings.TrimSpace(queryContext) == "" {
		queryContext = models.DefaultSelectionContext
	}

	contextVec := s.embedContext(ctx, queryContext)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	embedded := s.attachEmbeddings(ctx, chunks)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ranked := make([]models.RankedChunk, len(embedded))
	for i, c := range embedded {
		ranked[i] = score(c, contextVec)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].QuestionGenerationScore > ranked[j].QuestionGenerationScore
	})
	if len(ranked) > maxChunks {
		ranked = ranked[:maxChunks]
	}

	log.Debug().Int("candidates", len(chunks)).Int("selected", len(ranked)).Msg("Selected chunks for question generation")
	return ranked, nil
}

func (s *Selector) embedContext(ctx context.Context, queryContext string) []float32 {
	res, err := s.embedder.Embed(ctx, []string{queryContext}, s.model)
	if err != nil || len(res) == 0 {
		log.Warn().Err(err).Msg("Failed to embed selection context, ranking without similarity")
		return nil
	}
	return res[0].Vector
}

// attachEmbeddings returns copies of chunks with embeddings. Missing ones are
// embedded in one batch; when the batch fails each chunk is retried alone and
// chunks that still fail stay without an embedding.
func (s *Selector) attachEmbeddings(ctx context.Context, chunks []models.Chunk) []models.Chunk {
	out := make([]models.Chunk, len(chunks))
	copy(out, chunks)

	var missing []int
	var texts []string
	for i, c := range out {
		if !c.HasEmbedding() {
			missing = append(missing, i)
			texts = append(texts, c.Text)
		}
	}
	if len(missing) == 0 {
		return out
	}

	res, err := s.embedder.Embed(ctx, texts, s.model)
	if err == nil && len(res) == len(missing) {
		for j, idx := range missing {
			out[idx] = out[idx].WithEmbedding(res[j].Vector)
		}
		return out
	}

	log.Warn().Err(err).Int("chunks", len(missing)).Msg("Batch embedding failed, embedding chunks one by one")
	for _, idx := range missing {
		if ctx.Err() != nil {
			break
		}
		one, err := s.embedder.Embed(ctx, []string{out[idx].Text}, s.model)
		if err != nil || len(one) != 1 {
			log.Warn().Err(err).Str("chunk_id", out[idx].ID).Msg("Failed to embed chunk")
			continue
		}
		out[idx] = out[idx].WithEmbedding(one[0].Vector)
	}
	return out
}

func score(c models.Chunk, contextVec []float32) models.RankedChunk {
	r := models.RankedChunk{Chunk: c}
	if !c.HasEmbedding() {
		return r
	}
	if contextVec != nil {
		sim, err := embedding.Similarity(c.Embedding, contextVec, embedding.Cosine)
		if err != nil {
			log.Warn().Err(err).Str("chunk_id", c.ID).Msg("Failed to compare chunk with context")
		}
		r.SimilarityToContext = sim
	}
	r.LengthScore = LengthScore(c.Text)
	r.ComplexityScore = ComplexityScore(c.Text)
	// negative similarity counts as unrelated
	r.QuestionGenerationScore = SimilarityWeight*max(r.SimilarityToContext, 0) +
		LengthWeight*r.LengthScore +
		ComplexityWeight*r.ComplexityScore
	return r
}

// LengthScore favours chunks of about 500 characters and above.
func LengthScore(text string) float64 {
	return min(float64(utf8.RuneCountInString(text))/idealChunkChars, 1.0)
}

// ComplexityScore averages word length, sentence length and the share of
// educational keywords present in text.
func ComplexityScore(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	words := strings.Fields(text)
	letters := 0
	for _, w := range words {
		letters += utf8.RuneCountInString(w)
	}
	avgWordLen := float64(letters) / float64(len(words))
	sentences := strings.Count(text, ".") + 1
	avgSentenceLen := float64(len(words)) / float64(sentences)

	lower := strings.ToLower(text)
	hits := 0
	for _, kw := range educationalKeywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	keywordScore := float64(hits) / float64(len(educationalKeywords))

	wordScore := min(avgWordLen/idealWordLength, 1.0)
	sentenceScore := min(avgSentenceLen/idealSentenceWords, 1.0)
	return min((wordScore+sentenceScore+keywordScore)/3, 1.0)
}
