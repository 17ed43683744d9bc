// Package generator builds prompts from selected chunks, invokes the LLM
// and turns its answer into validated questions.
package generator

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"document-quiz/internal/config"
	"document-quiz/internal/errs"
	"document-quiz/internal/llmservice"
	"document-quiz/internal/metrics"
	"document-quiz/internal/models"
	"document-quiz/internal/postprocess"
)

// Invoker sends one prompt to a chat model.
type Invoker interface {
	Invoke(ctx context.Context, req llmservice.Request) (*llmservice.Response, error)
}

type Config struct {
	Model           string
	Temperature     float64
	MaxTokens       int
	MinContentChars int
	MaxContentChars int
	// Concurrency bounds the sub-type calls in all_types mode. 1 runs them
	// one after another.
	Concurrency int
	// TypeTimeout bounds each single-type generation. Zero means no limit.
	TypeTimeout time.Duration
}

// ConfigFrom picks the generator settings out of the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Model:           cfg.LLM.Model,
		Temperature:     cfg.Generation.Temperature,
		MaxTokens:       cfg.Generation.MaxTokens,
		MinContentChars: cfg.Generation.MinContentChars,
		MaxContentChars: cfg.Generation.MaxContentChars,
		Concurrency:     cfg.Generation.Concurrency,
		TypeTimeout:     cfg.Generation.TypeTimeout,
	}
}

type Generator struct {
	invoker   Invoker
	processor *postprocess.Processor
	cfg       Config
	metrics   *metrics.Metrics
	now       func() time.Time
}

type Option func(*Generator)

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Generator) { g.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

func New(invoker Invoker, processor *postprocess.Processor, cfg Config, opts ...Option) *Generator {
	if processor == nil {
		processor = postprocess.New()
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.3
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2000
	}
	if cfg.MinContentChars <= 0 {
		cfg.MinContentChars = 50
	}
	if cfg.MaxContentChars <= 0 {
		cfg.MaxContentChars = 4000
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	g := &Generator{invoker: invoker, processor: processor, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate produces questions from chunks. It never returns an error:
// failures are reported through Success, Error and ErrorKind.
func (g *Generator) Generate(ctx context.Context, chunks []models.Chunk, req models.GenerationRequest) models.GenerationResult {
	start := g.now()
	meta := models.GenerationMetadata{
		Model:        g.model(req),
		QuestionType: req.QuestionType,
		BloomLevel:   req.BloomLevel,
		Difficulty:   req.Difficulty,
		NumRequested: req.NumQuestions,
		UserID:       req.UserID,
	}

	if err := req.Validate(); err != nil {
		return g.failure(meta, start, err)
	}

	content, used, err := g.prepareContent(chunks)
	if err != nil {
		return g.failure(meta, start, err)
	}
	meta.ContentChunksUsed = len(used)

	log.Info().
		Str("type", string(req.QuestionType)).
		Str("bloom", string(req.BloomLevel)).
		Str("difficulty", string(req.Difficulty)).
		Int("chunks", len(used)).
		Int("content_chars", len(content)).
		Msg("Generating questions")

	var questions []models.GeneratedQuestion
	if req.QuestionType == models.AllTypes {
		var breakdown []models.TypeOutcome
		var model string
		questions, breakdown, model = g.generateAllTypes(ctx, content, used, req)
		meta.NumRequested = len(breakdown)
		meta.TypeBreakdown = breakdown
		if model != "" {
			meta.Model = model
		}
	} else {
		var model string
		questions, model, err = g.generateType(ctx, req.QuestionType, req.NumQuestions, content, used, req)
		if err != nil {
			g.metrics.ObserveFailure(string(req.QuestionType), string(errs.KindOf(err)))
			return g.failure(meta, start, err)
		}
		meta.Model = model
	}

	meta.NumGenerated = len(questions)
	meta.UnderGenerated = meta.NumGenerated < meta.NumRequested
	meta.GenerationTime = g.now().Sub(start).Seconds()
	if meta.UnderGenerated {
		log.Warn().Int("requested", meta.NumRequested).Int("generated", meta.NumGenerated).Msg("Fewer questions generated than requested")
	}
	log.Info().Int("questions", meta.NumGenerated).Float64("seconds", meta.GenerationTime).Msg("Question generation finished")

	if questions == nil {
		questions = []models.GeneratedQuestion{}
	}
	return models.GenerationResult{Success: true, Questions: questions, Metadata: meta}
}

func (g *Generator) failure(meta models.GenerationMetadata, start time.Time, err error) models.GenerationResult {
	meta.GenerationTime = g.now().Sub(start).Seconds()
	log.Error().Err(err).Str("type", string(meta.QuestionType)).Msg("Question generation failed")
	return models.GenerationResult{
		Success:     false,
		Questions:   []models.GeneratedQuestion{},
		Metadata:    meta,
		Error:       err.Error(),
		ErrorKind:   errs.KindOf(err),
		RawResponse: errs.RawOf(err),
	}
}

func (g *Generator) model(req models.GenerationRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return g.cfg.Model
}

type typeRun struct {
	questions []models.GeneratedQuestion
	model     string
	err       error
	elapsed   time.Duration
}

// generateAllTypes asks for one question of every concrete type. A failed
// type is recorded in the breakdown and does not abort the others.
// Questions come back in the fixed type order whatever the concurrency.
func (g *Generator) generateAllTypes(ctx context.Context, content string, used []models.Chunk, req models.GenerationRequest) ([]models.GeneratedQuestion, []models.TypeOutcome, string) {
	types := models.ConcreteQuestionTypes()
	runs := make([]typeRun, len(types))

	var eg errgroup.Group
	eg.SetLimit(g.cfg.Concurrency)
	for i, qt := range types {
		i, qt := i, qt
		eg.Go(func() error {
			start := g.now()
			defer func() {
				if r := recover(); r != nil {
					runs[i].err = errs.New(errs.GenerationInvocationFailed, "generator.generateAllTypes", "panic generating %s: %v", qt, r)
				}
				runs[i].elapsed = g.now().Sub(start)
			}()
			runs[i].questions, runs[i].model, runs[i].err = g.generateType(ctx, qt, 1, content, used, req)
			return nil
		})
	}
	_ = eg.Wait()

	var questions []models.GeneratedQuestion
	breakdown := make([]models.TypeOutcome, len(types))
	model := ""
	for i, qt := range types {
		run := runs[i]
		outcome := models.TypeOutcome{
			Type:           qt,
			Success:        run.err == nil,
			NumGenerated:   len(run.questions),
			GenerationTime: run.elapsed.Seconds(),
		}
		if run.err != nil {
			outcome.Error = run.err.Error()
			outcome.ErrorKind = errs.KindOf(run.err)
			outcome.RawResponse = errs.RawOf(run.err)
			g.metrics.ObserveFailure(string(qt), string(outcome.ErrorKind))
			log.Warn().Err(run.err).Stringer("outcome", outcome).Msg("Question type failed, continuing with the others")
		} else if model == "" {
			model = run.model
		}
		breakdown[i] = outcome
		questions = append(questions, run.questions...)
	}
	// each type was processed on its own, so ids may repeat across types
	g.processor.EnsureUniqueIDs(questions)
	return questions, breakdown, model
}

// generateType runs one prompt for a concrete question type and returns the
// accepted questions and the model that answered.
func (g *Generator) generateType(ctx context.Context, qt models.QuestionType, n int, content string, used []models.Chunk, req models.GenerationRequest) ([]models.GeneratedQuestion, string, error) {
	const op = "generator.generateType"

	prompt, err := BuildPrompt(qt, PromptParams{
		Content:      content,
		NumQuestions: n,
		BloomLevel:   req.BloomLevel,
		Difficulty:   req.Difficulty,
	})
	if err != nil {
		return nil, "", err
	}

	if g.cfg.TypeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.TypeTimeout)
		defer cancel()
	}

	resp, err := g.invoker.Invoke(ctx, llmservice.Request{
		Prompt:       prompt,
		SystemPrompt: SystemPrompt,
		Model:        g.model(req),
		Temperature:  g.cfg.Temperature,
		MaxTokens:    g.cfg.MaxTokens,
		JSON:         true,
	})
	if err != nil {
		return nil, "", errs.Wrap(errs.GenerationInvocationFailed, op, err, "%s generation failed", qt)
	}
	g.metrics.ObserveLLM(resp.Model, resp.Duration)

	candidates, err := Normalize(resp)
	if err != nil {
		return nil, resp.Model, err
	}
	for _, c := range candidates {
		applyRequest(c, qt, req)
	}

	questions := g.processor.Process(candidates, used, req.UserID)
	g.metrics.AddDiscarded(len(candidates) - len(questions))
	if len(questions) > n {
		log.Debug().Str("type", string(qt)).Int("extra", len(questions)-n).Msg("Model returned more questions than requested")
		questions = questions[:n]
	}
	g.metrics.AddQuestions(string(qt), len(questions))
	return questions, resp.Model, nil
}

// applyRequest stamps the requested type on c and fills a missing
// bloom_level or difficulty from the request.
func applyRequest(c postprocess.Candidate, qt models.QuestionType, req models.GenerationRequest) {
	if c == nil {
		return
	}
	if s, _ := c["type"].(string); s != string(qt) {
		if s != "" {
			log.Debug().Str("returned", s).Str("type", string(qt)).Msg("Overriding question type returned by the model")
		}
		c["type"] = string(qt)
	}
	if s, _ := c["bloom_level"].(string); strings.TrimSpace(s) == "" {
		c["bloom_level"] = string(req.BloomLevel)
	}
	if s, _ := c["difficulty"].(string); strings.TrimSpace(s) == "" {
		c["difficulty"] = string(req.Difficulty)
	}
}

// prepareContent joins the chunk texts with source prefixes, in order,
// until MaxContentChars is reached. It returns the chunks that made it in.
func (g *Generator) prepareContent(chunks []models.Chunk) (string, []models.Chunk, error) {
	const op = "generator.prepareContent"

	total := 0
	for _, c := range chunks {
		total += utf8.RuneCountInString(strings.TrimSpace(c.Text))
	}
	if total < g.cfg.MinContentChars {
		return "", nil, errs.New(errs.ContentInsufficient, op, "selected chunks hold %d characters, need at least %d", total, g.cfg.MinContentChars)
	}

	var b strings.Builder
	used := make([]models.Chunk, 0, len(chunks))
	for _, c := range chunks {
		text := strings.TrimSpace(c.Text)
		if text == "" {
			continue
		}
		if utf8.RuneCountInString(b.String()) >= g.cfg.MaxContentChars {
			break
		}
		if b.Len() > 0 {
			b.WriteString(models.ContextSeparator)
		}
		b.WriteString(sourcePrefix(c.SourceMetadata))
		b.WriteString(text)
		used = append(used, c)
	}

	content := b.String()
	if r := []rune(content); len(r) > g.cfg.MaxContentChars {
		content = string(r[:g.cfg.MaxContentChars]) + models.TruncationMarker
	}
	return content, used, nil
}

func sourcePrefix(meta models.SourceMetadata) string {
	name := meta.Filename
	if name == "" {
		name = "unknown"
	}
	if meta.PageNumber <= 0 {
		return fmt.Sprintf("[From: %s] ", name)
	}
	return fmt.Sprintf(models.SourcePrefix, name, meta.PageNumber)
}
