package embedding

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"document-quiz/internal/errs"
	"document-quiz/internal/helper"
	"document-quiz/internal/metrics"
	"document-quiz/internal/models"
)

// Engine embeds texts with a model picked from a Registry.
type Engine struct {
	registry      *Registry
	defaultModel  string
	fallbackModel string
	metrics       *metrics.Metrics
	now           func() time.Time
}

type Option func(*Engine)

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine returns an engine using defaultModel when no usable model is
// requested and retrying once on fallbackModel when the chosen model fails.
func NewEngine(registry *Registry, defaultModel, fallbackModel string, opts ...Option) *Engine {
	e := &Engine{
		registry:      registry,
		defaultModel:  defaultModel,
		fallbackModel: fallbackModel,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) DefaultModel() string { return e.defaultModel }

// AvailableModels describes every registered model.
func (e *Engine) AvailableModels() []models.ModelInfo {
	infos := e.registry.Infos()
	for i := range infos {
		infos[i].Default = infos[i].Name == e.defaultModel
	}
	return infos
}

// Embed returns one result per text, in input order.
func (e *Engine) Embed(ctx context.Context, texts []string, modelName string) ([]models.EmbeddingResult, error) {
	const op = "embedding.Embed"
	if len(texts) == 0 {
		return nil, nil
	}

	name, model, err := e.resolve(modelName)
	if err != nil {
		return nil, err
	}

	vectors, err := e.embedWith(ctx, name, model, texts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.Wrap(errs.EmbeddingUnavailable, op, ctx.Err(), "embedding with %s aborted", name)
		}
		fallback := e.fallbackModel
		if fallback == "" || fallback == name {
			return nil, errs.Wrap(errs.EmbeddingUnavailable, op, err, "embedding with %s failed", name)
		}
		fbModel, fbErr := e.registry.Model(fallback)
		if fbErr != nil {
			return nil, errs.Wrap(errs.EmbeddingUnavailable, op, err, "embedding with %s failed and fallback %s is unavailable", name, fallback)
		}
		log.Warn().Err(err).Str("model", name).Str("fallback", fallback).Msg("Embedding failed, retrying with fallback model")
		vectors, err = e.embedWith(ctx, fallback, fbModel, texts)
		if err != nil {
			return nil, errs.Wrap(errs.EmbeddingUnavailable, op, err, "embedding with fallback %s failed", fallback)
		}
		name = fallback
	}

	return e.results(name, texts, vectors), nil
}

// EmbedOne embeds a single text.
func (e *Engine) EmbedOne(ctx context.Context, text, modelName string) (models.EmbeddingResult, error) {
	res, err := e.Embed(ctx, []string{text}, modelName)
	if err != nil {
		return models.EmbeddingResult{}, err
	}
	return res[0], nil
}

func (e *Engine) resolve(requested string) (string, embeddings.Embedder, error) {
	const op = "embedding.resolve"
	if requested == "" {
		requested = e.defaultModel
	}
	if requested != e.defaultModel {
		model, err := e.registry.Model(requested)
		if err == nil {
			return requested, model, nil
		}
		if e.defaultModel == "" {
			return "", nil, errs.Wrap(errs.InvalidArgument, op, err, "model %q unavailable and no default configured", requested)
		}
		log.Warn().Err(err).Str("model", requested).Str("default", e.defaultModel).Msg("Embedding model unavailable, using default")
	}
	if e.defaultModel == "" {
		return "", nil, errs.New(errs.InvalidArgument, op, "no embedding model requested and no default configured")
	}
	model, err := e.registry.Model(e.defaultModel)
	if err != nil {
		return "", nil, errs.Wrap(errs.EmbeddingUnavailable, op, err, "default embedding model %s unavailable", e.defaultModel)
	}
	return e.defaultModel, model, nil
}

func (e *Engine) embedWith(ctx context.Context, name string, model embeddings.Embedder, texts []string) ([][]float32, error) {
	start := time.Now()
	vectors, err := model.EmbedDocuments(ctx, texts)
	if err == nil && len(vectors) != len(texts) {
		err = fmt.Errorf("model returned %d vectors for %d texts", len(vectors), len(texts))
	}
	if err == nil {
		for i, v := range vectors {
			if len(v) == 0 {
				err = fmt.Errorf("model returned an empty vector for text %d", i)
				break
			}
		}
	}
	e.metrics.ObserveEmbedding(name, err)
	if err != nil {
		return nil, err
	}

	if info, ok := e.registry.Info(name); ok && info.Dimension > 0 && len(vectors[0]) != info.Dimension {
		log.Warn().Str("model", name).Int("declared", info.Dimension).Int("actual", len(vectors[0])).Msg("Embedding dimension differs from declared")
	}
	log.Debug().Str("model", name).Int("texts", len(texts)).Dur("took", time.Since(start)).Msg("Generated embeddings")
	return vectors, nil
}

func (e *Engine) results(name string, texts []string, vectors [][]float32) []models.EmbeddingResult {
	info, _ := e.registry.Info(name)
	now := e.now().UTC()
	out := make([]models.EmbeddingResult, len(texts))
	for i, text := range texts {
		vec := vectors[i]
		mi := models.ModelInfo{Name: name, Type: info.Type, Dimension: len(vec), Available: true}
		out[i] = models.EmbeddingResult{
			Text:      text,
			Vector:    vec,
			ModelName: name,
			Dimension: len(vec),
			Metadata: models.EmbeddingMetadata{
				TextLength:  utf8.RuneCountInString(text),
				WordCount:   helper.WordCount(text),
				GeneratedAt: now,
				ModelInfo:   mi,
			},
		}
	}
	return out
}
