// Package postprocess turns raw model question objects into validated
// GeneratedQuestion records.
package postprocess

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"document-quiz/internal/errs"
	"document-quiz/internal/helper"
	"document-quiz/internal/models"
)

// Candidate is one question object as decoded from the model response.
type Candidate = map[string]any

// PlaceholderID is the id shown in the prompt example. Models often echo it,
// so it counts as missing.
const PlaceholderID = "unique_id"

type Processor struct {
	now   func() time.Time
	newID func(i int) string
}

type Option func(*Processor)

func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// WithIDGenerator replaces the random id source, for tests.
func WithIDGenerator(gen func(i int) string) Option {
	return func(p *Processor) { p.newID = gen }
}

func New(opts ...Option) *Processor {
	p := &Processor{
		now: time.Now,
		newID: func(i int) string {
			return fmt.Sprintf("q_%d_%s", i+1, helper.ShortID(8))
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process validates raw and enriches the accepted questions with ids,
// timestamps, userID and provenance from chunksUsed. Order is preserved.
func (p *Processor) Process(raw []Candidate, chunksUsed []models.Chunk, userID string) []models.GeneratedQuestion {
	sources := SourceRefs(chunksUsed)
	now := p.now().UTC()
	seen := make(map[string]bool, len(raw))

	out := make([]models.GeneratedQuestion, 0, len(raw))
	for i, c := range raw {
		q, err := p.validate(c)
		if err != nil {
			log.Warn().Err(err).Int("index", i).Msg("Dropping invalid question")
			continue
		}
		if q.ID == "" || q.ID == PlaceholderID || seen[q.ID] {
			q.ID = p.uniqueID(i, seen)
		}
		seen[q.ID] = true
		q.GeneratedAt = now
		q.UserID = userID
		if len(sources) > 0 {
			q.SourceContent = append([]models.SourceRef(nil), sources...)
		}
		out = append(out, q)
	}
	return out
}

// EnsureUniqueIDs reassigns ids that repeat an earlier question's id, for
// questions merged from several Process calls. New ids are numbered by position.
func (p *Processor) EnsureUniqueIDs(questions []models.GeneratedQuestion) {
	seen := make(map[string]bool, len(questions))
	for i := range questions {
		q := &questions[i]
		if q.ID == "" || seen[q.ID] {
			old := q.ID
			q.ID = p.uniqueID(i, seen)
			log.Debug().Str("old", old).Str("new", q.ID).Msg("Reassigned duplicate question id")
		}
		seen[q.ID] = true
	}
}

func (p *Processor) uniqueID(i int, seen map[string]bool) string {
	for {
		id := p.newID(i)
		if !seen[id] {
			return id
		}
	}
}

func (p *Processor) validate(c Candidate) (models.GeneratedQuestion, error) {
	const op = "postprocess.validate"
	if c == nil {
		return models.GeneratedQuestion{}, errs.New(errs.QuestionValidationFailed, op, "question is not an object")
	}
	typ := stringField(c, "type")
	if typ == "" {
		return models.GeneratedQuestion{}, errs.New(errs.QuestionValidationFailed, op, "missing type")
	}
	qt := models.QuestionType(strings.ToLower(typ))
	if qt == models.AllTypes || !qt.Valid() {
		return models.GeneratedQuestion{}, errs.New(errs.QuestionValidationFailed, op, "unknown type %q", typ)
	}
	text := stringField(c, "question")
	if text == "" {
		return models.GeneratedQuestion{}, errs.New(errs.QuestionValidationFailed, op, "missing question")
	}

	return models.GeneratedQuestion{
		ID:            stringField(c, "id"),
		Type:          qt,
		Question:      text,
		CorrectAnswer: answer(c["correct_answer"]),
		Options:       options(c["options"]),
		Explanation:   stringField(c, "explanation"),
		BloomLevel:    strings.ToLower(stringField(c, "bloom_level")),
		Difficulty:    strings.ToLower(stringField(c, "difficulty")),
		Topic:         stringField(c, "topic"),
	}, nil
}

// SourceRefs builds provenance entries for chunks.
func SourceRefs(chunks []models.Chunk) []models.SourceRef {
	refs := make([]models.SourceRef, 0, len(chunks))
	for _, c := range chunks {
		refs = append(refs, models.SourceRef{
			ChunkID:    c.ID,
			PageNumber: c.SourceMetadata.PageNumber,
			DocumentID: c.SourceMetadata.DocumentID,
			Filename:   c.SourceMetadata.Filename,
		})
	}
	return refs
}

func stringField(c Candidate, key string) string {
	switch v := c[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strings.TrimSpace(fmt.Sprint(v))
	case bool:
		return fmt.Sprint(v)
	default:
		return ""
	}
}

// answer keeps strings and mappings, and stringifies scalars.
func answer(v any) any {
	switch a := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(a)
	case map[string]any:
		return a
	case []any:
		parts := make([]string, 0, len(a))
		for _, x := range a {
			parts = append(parts, fmt.Sprint(x))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(a)
	}
}

// options accepts a label mapping or a list, which is labelled A, B, C...
func options(v any) map[string]string {
	switch o := v.(type) {
	case map[string]any:
		if len(o) == 0 {
			return nil
		}
		out := make(map[string]string, len(o))
		for k, x := range o {
			out[strings.TrimSpace(k)] = strings.TrimSpace(fmt.Sprint(x))
		}
		return out
	case []any:
		if len(o) == 0 {
			return nil
		}
		out := make(map[string]string, len(o))
		for i, x := range o {
			out[optionLabel(i)] = strings.TrimSpace(fmt.Sprint(x))
		}
		return out
	default:
		return nil
	}
}

func optionLabel(i int) string {
	if i < 26 {
		return string(rune('A' + i))
	}
	return fmt.Sprintf("%d", i+1)
}
