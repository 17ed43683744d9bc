package generator

import (
	"encoding/json"
	"fmt"
	"strings"

	"document-quiz/internal/errs"
	"document-quiz/internal/models"
	"document-quiz/internal/postprocess"
)

const SystemPrompt = `You are an expert educational question generator. You write clear, unambiguous questions that test understanding of the provided content, with accurate answers and explanations.

Target the requested Bloom's taxonomy level and difficulty. Only use facts from the content.

Always respond with valid JSON containing the requested questions and nothing else.`

const questionPromptTemplate = `Generate %d %s question(s) based on the following content.
%s

Content:
%s

Bloom's Level: %s
Difficulty: %s

Respond with JSON in this format:
%s`

type PromptParams struct {
	Content      string
	NumQuestions int
	BloomLevel   models.BloomLevel
	Difficulty   models.Difficulty
}

type questionTemplate struct {
	label        string
	instructions string
	example      map[string]any
}

// templateFor must handle every concrete question type.
func templateFor(t models.QuestionType) (questionTemplate, error) {
	switch t {
	case models.MultipleChoice:
		return questionTemplate{
			label:        "multiple choice",
			instructions: "Each question has 4 options (A, B, C, D) with exactly one correct answer.",
			example: map[string]any{
				"question":       "Question text here?",
				"options":        map[string]string{"A": "Option A", "B": "Option B", "C": "Option C", "D": "Option D"},
				"correct_answer": "A",
			},
		}, nil
	case models.TrueFalse:
		return questionTemplate{
			label:        "true/false",
			instructions: "Each question is a single statement that is either true or false.",
			example: map[string]any{
				"question":       "Statement to evaluate as true or false",
				"correct_answer": "true",
			},
		}, nil
	case models.ShortAnswer:
		return questionTemplate{
			label:        "short answer",
			instructions: "Each question requires a brief 1-3 sentence response.",
			example: map[string]any{
				"question":       "Question requiring a short answer?",
				"correct_answer": "Expected short answer",
			},
		}, nil
	case models.FillInTheBlank:
		return questionTemplate{
			label:        "fill-in-the-blank",
			instructions: "Mark the missing word or phrase with _______ in the question.",
			example: map[string]any{
				"question":       "The process of _______ is essential for cellular respiration.",
				"correct_answer": "glycolysis",
			},
		}, nil
	case models.Essay:
		return questionTemplate{
			label:        "essay",
			instructions: "Each question requires a multi-paragraph answer. List the key points a good answer covers as the correct answer.",
			example: map[string]any{
				"question":       "Essay question requiring detailed analysis?",
				"correct_answer": "Key points that should be covered in the essay",
			},
		}, nil
	case models.Definition:
		return questionTemplate{
			label:        "definition",
			instructions: "Ask the student to define a key term or concept from the content.",
			example: map[string]any{
				"question":       "Define [key term].",
				"correct_answer": "Complete definition of the term",
			},
		}, nil
	case models.Explanation:
		return questionTemplate{
			label:        "explanation",
			instructions: "Ask the student to explain how or why something in the content happens.",
			example: map[string]any{
				"question":       "Explain how [process] works.",
				"correct_answer": "Expected explanation",
			},
		}, nil
	case models.AllTypes:
		return questionTemplate{}, errs.New(errs.InvalidArgument, "generator.templateFor", "all_types has no single prompt template")
	}
	return questionTemplate{}, errs.New(errs.InvalidArgument, "generator.templateFor", "unknown question type %q", t)
}

// BuildPrompt renders the user prompt for one concrete question type.
func BuildPrompt(t models.QuestionType, p PromptParams) (string, error) {
	tmpl, err := templateFor(t)
	if err != nil {
		return "", err
	}

	q := map[string]any{
		"id":          postprocess.PlaceholderID,
		"type":        string(t),
		"explanation": "Why this answer is correct",
		"bloom_level": string(p.BloomLevel),
		"difficulty":  string(p.Difficulty),
		"topic":       "Main topic covered",
	}
	for k, v := range tmpl.example {
		q[k] = v
	}
	example, err := json.MarshalIndent(map[string]any{"questions": []any{q}}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to render prompt example: %w", err)
	}

	return fmt.Sprintf(questionPromptTemplate,
		p.NumQuestions,
		tmpl.label,
		tmpl.instructions,
		strings.TrimSpace(p.Content),
		p.BloomLevel,
		p.Difficulty,
		example,
	), nil
}
