package models

import (
	"fmt"
	"strings"
	"time"

	"document-quiz/internal/errs"
)

type QuestionType string

const (
	MultipleChoice QuestionType = "multiple_choice"
	TrueFalse      QuestionType = "true_false"
	ShortAnswer    QuestionType = "short_answer"
	FillInTheBlank QuestionType = "fill_in_the_blank"
	Essay          QuestionType = "essay"
	Definition     QuestionType = "definition"
	Explanation    QuestionType = "explanation"
	AllTypes       QuestionType = "all_types"
)

var concreteQuestionTypes = []QuestionType{
	MultipleChoice, TrueFalse, ShortAnswer, FillInTheBlank, Essay, Definition, Explanation,
}

// ConcreteQuestionTypes returns every type except AllTypes, in generation order.
func ConcreteQuestionTypes() []QuestionType {
	return append([]QuestionType(nil), concreteQuestionTypes...)
}

func (t QuestionType) Valid() bool {
	if t == AllTypes {
		return true
	}
	for _, c := range concreteQuestionTypes {
		if c == t {
			return true
		}
	}
	return false
}

func ParseQuestionType(s string) (QuestionType, error) {
	t := QuestionType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", errs.New(errs.InvalidArgument, "models.ParseQuestionType", "unknown question type %q", s)
	}
	return t, nil
}

type BloomLevel string

const (
	Remember   BloomLevel = "remember"
	Understand BloomLevel = "understand"
	Apply      BloomLevel = "apply"
	Analyze    BloomLevel = "analyze"
	Evaluate   BloomLevel = "evaluate"
	Create     BloomLevel = "create"
)

func (b BloomLevel) Valid() bool {
	switch b {
	case Remember, Understand, Apply, Analyze, Evaluate, Create:
		return true
	}
	return false
}

func ParseBloomLevel(s string) (BloomLevel, error) {
	b := BloomLevel(strings.ToLower(strings.TrimSpace(s)))
	if !b.Valid() {
		return "", errs.New(errs.InvalidArgument, "models.ParseBloomLevel", "unknown bloom level %q", s)
	}
	return b, nil
}

type Difficulty string

const (
	Basic        Difficulty = "basic"
	Intermediate Difficulty = "intermediate"
	Advanced     Difficulty = "advanced"
)

func (d Difficulty) Valid() bool {
	switch d {
	case Basic, Intermediate, Advanced:
		return true
	}
	return false
}

func ParseDifficulty(s string) (Difficulty, error) {
	d := Difficulty(strings.ToLower(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", errs.New(errs.InvalidArgument, "models.ParseDifficulty", "unknown difficulty %q", s)
	}
	return d, nil
}

// GenerationRequest is the input contract of the generator.
type GenerationRequest struct {
	QuestionType QuestionType `json:"question_type"`
	BloomLevel   BloomLevel   `json:"bloom_level"`
	Difficulty   Difficulty   `json:"difficulty"`
	NumQuestions int          `json:"num_questions"`
	Model        string       `json:"model,omitempty"`
	UserID       string       `json:"user_id,omitempty"`
}

func (r GenerationRequest) Validate() error {
	const op = "models.GenerationRequest.Validate"
	if !r.QuestionType.Valid() {
		return errs.New(errs.InvalidArgument, op, "unknown question type %q", r.QuestionType)
	}
	if !r.BloomLevel.Valid() {
		return errs.New(errs.InvalidArgument, op, "unknown bloom level %q", r.BloomLevel)
	}
	if !r.Difficulty.Valid() {
		return errs.New(errs.InvalidArgument, op, "unknown difficulty %q", r.Difficulty)
	}
	if r.NumQuestions < 1 || r.NumQuestions > MaxQuestionsPerRequest {
		return errs.New(errs.InvalidArgument, op, "num_questions must be between 1 and %d, got %d", MaxQuestionsPerRequest, r.NumQuestions)
	}
	return nil
}

// SourceRef points a question back at a chunk it was generated from.
type SourceRef struct {
	ChunkID    string `json:"chunk_id"`
	PageNumber int    `json:"page_number,omitempty"`
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename,omitempty"`
}

// GeneratedQuestion is a validated question record. CorrectAnswer is
// either a string or a mapping, as returned by the model.
type GeneratedQuestion struct {
	ID            string            `json:"id"`
	Type          QuestionType      `json:"type"`
	Question      string            `json:"question"`
	CorrectAnswer any               `json:"correct_answer"`
	Options       map[string]string `json:"options,omitempty"`
	Explanation   string            `json:"explanation,omitempty"`
	BloomLevel    string            `json:"bloom_level"`
	Difficulty    string            `json:"difficulty"`
	Topic         string            `json:"topic,omitempty"`
	GeneratedAt   time.Time         `json:"generated_at"`
	UserID        string            `json:"user_id,omitempty"`
	SourceContent []SourceRef       `json:"source_content,omitempty"`
}

// TypeOutcome records one sub-type generation in all_types mode.
type TypeOutcome struct {
	Type           QuestionType `json:"type"`
	Success        bool         `json:"success"`
	NumGenerated   int          `json:"num_generated"`
	Error          string       `json:"error,omitempty"`
	ErrorKind      errs.Kind    `json:"error_kind,omitempty"`
	RawResponse    string       `json:"raw_response,omitempty"`
	GenerationTime float64      `json:"generation_time"`
}

type GenerationMetadata struct {
	GenerationTime    float64       `json:"generation_time"`
	Model             string        `json:"model"`
	QuestionType      QuestionType  `json:"question_type"`
	BloomLevel        BloomLevel    `json:"bloom_level"`
	Difficulty        Difficulty    `json:"difficulty"`
	NumRequested      int           `json:"num_requested"`
	NumGenerated      int           `json:"num_generated"`
	UnderGenerated    bool          `json:"under_generated"`
	ContentChunksUsed int           `json:"content_chunks_used"`
	UserID            string        `json:"user_id,omitempty"`
	TypeBreakdown     []TypeOutcome `json:"type_breakdown,omitempty"`
}

// GenerationResult is what callers of the pipeline always get back,
// failed or not.
type GenerationResult struct {
	Success     bool                `json:"success"`
	Questions   []GeneratedQuestion `json:"questions"`
	Metadata    GenerationMetadata  `json:"metadata"`
	Error       string              `json:"error,omitempty"`
	ErrorKind   errs.Kind           `json:"error_kind,omitempty"`
	RawResponse string              `json:"raw_response,omitempty"`
}

type Vote string

const (
	VoteUp      Vote = "up"
	VoteDown    Vote = "down"
	VoteNeutral Vote = "neutral"
)

// Feedback is a user's rating of a generated question.
type Feedback struct {
	QuestionID       string    `json:"question_id"`
	UserID           string    `json:"user_id"`
	Vote             Vote      `json:"vote"`
	DifficultyRating *int      `json:"difficulty_rating,omitempty"`
	QualityRating    *int      `json:"quality_rating,omitempty"`
	Comments         string    `json:"comments,omitempty"`
	IsHelpful        *bool     `json:"is_helpful,omitempty"`
	IsAccurate       *bool     `json:"is_accurate,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

func (f Feedback) Validate() error {
	const op = "models.Feedback.Validate"
	if f.QuestionID == "" {
		return errs.New(errs.InvalidArgument, op, "question_id is required")
	}
	switch f.Vote {
	case VoteUp, VoteDown, VoteNeutral:
	default:
		return errs.New(errs.InvalidArgument, op, "unknown vote %q", f.Vote)
	}
	if err := checkRating("difficulty_rating", f.DifficultyRating); err != nil {
		return err
	}
	return checkRating("quality_rating", f.QualityRating)
}

func checkRating(name string, r *int) error {
	if r == nil {
		return nil
	}
	if *r < 1 || *r > 5 {
		return errs.New(errs.InvalidArgument, "models.Feedback.Validate", "%s must be between 1 and 5, got %d", name, *r)
	}
	return nil
}

func (t TypeOutcome) String() string {
	if t.Success {
		return fmt.Sprintf("%s: ok (%d)", t.Type, t.NumGenerated)
	}
	return fmt.Sprintf("%s: failed (%s)", t.Type, t.ErrorKind)
}
