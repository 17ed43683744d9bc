// Package rag wires the pipeline together: parse, chunk, embed, select and
// generate, with an optional vector store in between.
package rag

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"document-quiz/internal/chunker"
	"document-quiz/internal/embedding"
	"document-quiz/internal/errs"
	"document-quiz/internal/generator"
	"document-quiz/internal/helper"
	"document-quiz/internal/models"
	"document-quiz/internal/parser"
	"document-quiz/internal/selector"
)

// ChunkStore persists embedded chunks and finds the nearest ones.
type ChunkStore interface {
	Upsert(ctx context.Context, chunks []models.Chunk) error
	Query(ctx context.Context, vector []float32, k int, filter map[string]string) ([]models.Chunk, error)
}

// ModelCatalog lists the LLM models the server offers.
type ModelCatalog interface {
	Models(ctx context.Context) (map[string]bool, error)
}

type ParseFunc func(filePath, documentID string) ([]models.Section, error)

type Service struct {
	chunker          *chunker.Chunker
	engine           *embedding.Engine
	selector         *selector.Selector
	generator        *generator.Generator
	store            ChunkStore
	catalog          ModelCatalog
	parse            ParseFunc
	maxChunks        int
	selectionContext string
	llmModels        []string
}

type Option func(*Service)

func WithStore(store ChunkStore) Option {
	return func(s *Service) { s.store = store }
}

func WithCatalog(catalog ModelCatalog, defaultModel, fallbackModel string) Option {
	return func(s *Service) {
		s.catalog = catalog
		s.llmModels = nil
		for _, m := range []string{defaultModel, fallbackModel} {
			if m != "" {
				s.llmModels = append(s.llmModels, m)
			}
		}
	}
}

func WithParser(parse ParseFunc) Option {
	return func(s *Service) { s.parse = parse }
}

// WithSelectionContext sets the context used when a caller gives none.
func WithSelectionContext(text string) Option {
	return func(s *Service) { s.selectionContext = text }
}

func NewService(ch *chunker.Chunker, engine *embedding.Engine, gen *generator.Generator, maxChunks int, opts ...Option) *Service {
	if maxChunks <= 0 {
		maxChunks = models.DefaultMaxChunks
	}
	s := &Service{
		chunker:          ch,
		engine:           engine,
		selector:         selector.New(engine, engine.DefaultModel(), maxChunks),
		generator:        gen,
		parse:            parser.Parse,
		maxChunks:        maxChunks,
		selectionContext: models.DefaultSelectionContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Chunk(sections []models.Section) ([]models.Chunk, error) {
	return s.chunker.Chunk(sections)
}

func (s *Service) Embed(ctx context.Context, texts []string, model string) ([]models.EmbeddingResult, error) {
	return s.engine.Embed(ctx, texts, model)
}

func (s *Service) SelectBestChunks(ctx context.Context, chunks []models.Chunk, queryContext string, maxChunks int) ([]models.RankedChunk, error) {
	return s.selector.Select(ctx, chunks, s.contextOrDefault(queryContext), maxChunks)
}

// GenerateQuestions always returns a result. A panic during generation is
// reported as a failed result.
func (s *Service) GenerateQuestions(ctx context.Context, chunks []models.Chunk, req models.GenerationRequest) (res models.GenerationResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Recovered from panic during question generation")
			res = failedResult(req, errs.New(errs.GenerationInvocationFailed, "rag.GenerateQuestions", "internal error: %v", r))
		}
	}()
	return s.generator.Generate(ctx, chunks, req)
}

type IngestResult struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	Sections   int    `json:"sections"`
	Chunks     int    `json:"chunks"`
	Model      string `json:"embedding_model"`
	Dimension  int    `json:"dimension"`
}

// IngestFile parses, chunks and embeds a document and stores the chunks.
// An empty documentID gets a random one.
func (s *Service) IngestFile(ctx context.Context, filePath, documentID string) (*IngestResult, error) {
	const op = "rag.IngestFile"
	if s.store == nil {
		return nil, errs.New(errs.InvalidArgument, op, "no vector store configured")
	}
	if documentID == "" {
		id, err := helper.GenerateUUID()
		if err != nil {
			return nil, err
		}
		documentID = id
	}

	sections, chunks, err := s.parseAndChunk(filePath, documentID)
	if err != nil {
		return nil, err
	}
	res := &IngestResult{DocumentID: documentID, Sections: len(sections), Chunks: len(chunks)}
	if len(sections) > 0 {
		res.Filename = sections[0].Filename
	}
	if len(chunks) == 0 {
		log.Warn().Str("file", filePath).Msg("Document has no text to ingest")
		return res, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.engine.Embed(ctx, texts, "")
	if err != nil {
		return nil, err
	}
	embedded := make([]models.Chunk, len(chunks))
	for i, c := range chunks {
		embedded[i] = c.WithEmbedding(vectors[i].Vector)
	}
	res.Model = vectors[0].ModelName
	res.Dimension = vectors[0].Dimension

	if err := s.store.Upsert(ctx, embedded); err != nil {
		return nil, fmt.Errorf("failed to store chunks: %w", err)
	}
	log.Info().Str("document_id", documentID).Int("chunks", len(embedded)).Str("model", res.Model).Msg("Ingested document")
	return res, nil
}

// GenerateFromFile runs the whole pipeline on a file without storing it.
func (s *Service) GenerateFromFile(ctx context.Context, filePath, documentID, queryContext string, req models.GenerationRequest) models.GenerationResult {
	if documentID == "" {
		documentID = helper.ShortID(12)
	}
	_, chunks, err := s.parseAndChunk(filePath, documentID)
	if err != nil {
		return failedResult(req, err)
	}
	return s.selectAndGenerate(ctx, chunks, queryContext, req)
}

// GenerateFromStore retrieves the chunks of documentID nearest to the
// context from the store, then selects and generates.
func (s *Service) GenerateFromStore(ctx context.Context, documentID, queryContext string, req models.GenerationRequest) models.GenerationResult {
	const op = "rag.GenerateFromStore"
	if s.store == nil {
		return failedResult(req, errs.New(errs.InvalidArgument, op, "no vector store configured"))
	}
	if documentID == "" {
		return failedResult(req, errs.New(errs.InvalidArgument, op, "document id is required"))
	}

	queryContext = s.contextOrDefault(queryContext)
	query, err := s.engine.EmbedOne(ctx, queryContext, "")
	if err != nil {
		return failedResult(req, err)
	}
	chunks, err := s.store.Query(ctx, query.Vector, 2*s.maxChunks, map[string]string{"document_id": documentID})
	if err != nil {
		return failedResult(req, errs.Wrap(errs.GenerationInvocationFailed, op, err, "vector store query failed"))
	}
	if len(chunks) == 0 {
		return failedResult(req, errs.New(errs.ContentInsufficient, op, "no stored chunks for document %q", documentID))
	}
	log.Debug().Str("document_id", documentID).Int("chunks", len(chunks)).Msg("Retrieved chunks from store")
	return s.selectAndGenerate(ctx, chunks, queryContext, req)
}

func (s *Service) selectAndGenerate(ctx context.Context, chunks []models.Chunk, queryContext string, req models.GenerationRequest) models.GenerationResult {
	if len(chunks) == 0 {
		return failedResult(req, errs.New(errs.ContentInsufficient, "rag.selectAndGenerate", "document has no text"))
	}
	ranked, err := s.SelectBestChunks(ctx, chunks, queryContext, s.maxChunks)
	if err != nil {
		return failedResult(req, errs.Wrap(errs.GenerationInvocationFailed, "rag.selectAndGenerate", err, "chunk selection failed"))
	}
	return s.GenerateQuestions(ctx, models.Chunks(ranked), req)
}

func (s *Service) parseAndChunk(filePath, documentID string) ([]models.Section, []models.Chunk, error) {
	sections, err := s.parse(filePath, documentID)
	if err != nil {
		return nil, nil, err
	}
	chunks, err := s.chunker.Chunk(sections)
	if err != nil {
		return nil, nil, err
	}
	log.Debug().Str("file", filePath).Int("sections", len(sections)).Int("chunks", len(chunks)).Msg("Chunked document")
	return sections, chunks, nil
}

func (s *Service) contextOrDefault(queryContext string) string {
	if queryContext == "" {
		return s.selectionContext
	}
	return queryContext
}

type LLMModel struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Default   bool   `json:"default"`
}

type ModelsReport struct {
	Embedding []models.ModelInfo `json:"embedding_models"`
	LLM       []LLMModel         `json:"llm_models"`
	// LLMReachable is false when the model listing could not be fetched.
	LLMReachable bool `json:"llm_reachable"`
}

// AvailableModels reports the embedding models and whether the configured
// LLM models are served.
func (s *Service) AvailableModels(ctx context.Context) ModelsReport {
	report := ModelsReport{Embedding: s.engine.AvailableModels()}
	if s.catalog == nil {
		return report
	}

	served, err := s.catalog.Models(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Could not list LLM models")
		for i, name := range s.llmModels {
			report.LLM = append(report.LLM, LLMModel{Name: name, Default: i == 0})
		}
		return report
	}
	report.LLMReachable = true

	seen := map[string]bool{}
	for i, name := range s.llmModels {
		seen[name] = true
		report.LLM = append(report.LLM, LLMModel{Name: name, Available: served[name] || served[name+":latest"], Default: i == 0})
	}
	var others []string
	for name := range served {
		if !seen[name] {
			others = append(others, name)
		}
	}
	sort.Strings(others)
	for _, name := range others {
		report.LLM = append(report.LLM, LLMModel{Name: name, Available: true})
	}
	return report
}

func failedResult(req models.GenerationRequest, err error) models.GenerationResult {
	log.Error().Err(err).Msg("Question generation failed")
	return models.GenerationResult{
		Success:   false,
		Questions: []models.GeneratedQuestion{},
		Metadata: models.GenerationMetadata{
			Model:        req.Model,
			QuestionType: req.QuestionType,
			BloomLevel:   req.BloomLevel,
			Difficulty:   req.Difficulty,
			NumRequested: req.NumQuestions,
			UserID:       req.UserID,
		},
		Error:       err.Error(),
		ErrorKind:   errs.KindOf(err),
		RawResponse: errs.RawOf(err),
	}
}
