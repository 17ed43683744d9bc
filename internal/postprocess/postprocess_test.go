package postprocess

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"document-quiz/internal/models"
)

var fixed = time.Date(2024, 3, 14, 9, 26, 53, 0, time.UTC)

func chunk(id string, page int) models.Chunk {
	return models.Chunk{
		ID:   id,
		Text: "text",
		SourceMetadata: models.SourceMetadata{
			DocumentID: "doc-1",
			Filename:   "bio.pdf",
			PageNumber: page,
		},
	}
}

func TestProcessFiltersInvalid(t *testing.T) {
	t.Parallel()

	raw := []Candidate{
		{"id": "a", "type": "short_answer", "question": "What is ATP?", "correct_answer": "Energy currency"},
		{"id": "b", "type": "short_answer"},
		{"type": "essay", "question": "Discuss mitosis."},
		{"id": "d", "question": "No type here"},
		{"id": "e", "type": "true_false", "question": "Cells have walls.", "correct_answer": false},
	}
	p := New(WithClock(func() time.Time { return fixed }))
	got := p.Process(raw, []models.Chunk{chunk("c1", 2)}, "user-7")

	if len(got) != 3 {
		t.Fatalf("len(Process()) = %d, want 3", len(got))
	}
	wantQuestions := []string{"What is ATP?", "Discuss mitosis.", "Cells have walls."}
	for i, q := range got {
		if q.Question != wantQuestions[i] {
			t.Fatalf("question %d = %q, want %q", i, q.Question, wantQuestions[i])
		}
		if q.ID == "" || q.Type == "" {
			t.Fatalf("question %d missing id/type: %+v", i, q)
		}
		if !q.GeneratedAt.Equal(fixed) || q.UserID != "user-7" {
			t.Fatalf("question %d stamp = %v/%q", i, q.GeneratedAt, q.UserID)
		}
		want := []models.SourceRef{{ChunkID: "c1", PageNumber: 2, DocumentID: "doc-1", Filename: "bio.pdf"}}
		if !reflect.DeepEqual(q.SourceContent, want) {
			t.Fatalf("source_content = %+v, want %+v", q.SourceContent, want)
		}
	}
	if !strings.HasPrefix(got[1].ID, "q_3_") || len(got[1].ID) != len("q_3_")+8 {
		t.Fatalf("generated id = %q, want q_3_<8 chars>", got[1].ID)
	}
	if got[2].CorrectAnswer != "false" {
		t.Fatalf("correct_answer = %#v, want \"false\"", got[2].CorrectAnswer)
	}
}

func TestProcessMakesIDsUnique(t *testing.T) {
	t.Parallel()

	raw := []Candidate{
		{"id": "m1", "type": "definition", "question": "Define osmosis."},
		{"id": "m1", "type": "definition", "question": "Define diffusion."},
		{"id": "", "type": "definition", "question": "Define entropy."},
		{"id": PlaceholderID, "type": "definition", "question": "Define enthalpy."},
	}
	n := 0
	p := New(WithIDGenerator(func(i int) string {
		n++
		if n == 1 {
			return "m1" // collides, must be skipped
		}
		return fmt.Sprintf("gen_%d_%d", i, n)
	}))
	got := p.Process(raw, nil, "")
	if len(got) != 4 {
		t.Fatalf("len(Process()) = %d, want 4", len(got))
	}

	ids := map[string]bool{}
	for _, q := range got {
		if ids[q.ID] {
			t.Fatalf("duplicate id %q", q.ID)
		}
		ids[q.ID] = true
		if q.SourceContent != nil {
			t.Fatalf("source_content = %+v, want nil without chunks", q.SourceContent)
		}
	}
	if got[0].ID != "m1" {
		t.Fatalf("first id = %q, want m1", got[0].ID)
	}
	if got[3].ID == PlaceholderID || !strings.HasPrefix(got[3].ID, "gen_3_") {
		t.Fatalf("placeholder id = %q, want a generated one", got[3].ID)
	}
}

func TestEnsureUniqueIDsAcrossBatches(t *testing.T) {
	t.Parallel()

	p := New()
	var merged []models.GeneratedQuestion
	for _, qt := range []string{"definition", "essay", "true_false"} {
		merged = append(merged, p.Process([]Candidate{{"id": "q1", "type": qt, "question": "Q?"}}, nil, "")...)
	}
	p.EnsureUniqueIDs(merged)

	ids := map[string]bool{}
	for _, q := range merged {
		if ids[q.ID] {
			t.Fatalf("id %q repeats after EnsureUniqueIDs()", q.ID)
		}
		ids[q.ID] = true
	}
	if merged[0].ID != "q1" {
		t.Fatalf("first id = %q, want q1 kept", merged[0].ID)
	}
	if !strings.HasPrefix(merged[2].ID, "q_3_") {
		t.Fatalf("reassigned id = %q, want q_3_ prefix", merged[2].ID)
	}
}

func TestProcessRejectsUnknownType(t *testing.T) {
	t.Parallel()

	raw := []Candidate{
		{"type": "MCQ", "question": "Which one?"},
		{"type": "all_types", "question": "Everything?"},
		{"type": "Fill_In_The_Blank", "question": "Plants make ____."},
	}
	got := New().Process(raw, nil, "")
	if len(got) != 1 || got[0].Type != models.FillInTheBlank {
		t.Fatalf("Process() = %+v, want only the fill_in_the_blank question", got)
	}
}

func TestProcessNormalizesFields(t *testing.T) {
	t.Parallel()

	raw := []Candidate{
		{
			"type":           "Multiple_Choice",
			"question":       "  Which organelle makes ATP?  ",
			"options":        []any{"Nucleus", "Mitochondrion", "Ribosome"},
			"correct_answer": "B",
			"bloom_level":    "Remember",
			"difficulty":     "BASIC",
			"topic":          "cells",
		},
		{
			"type":           "essay",
			"question":       "Compare.",
			"options":        map[string]any{"A": "x", "B": 2.0},
			"correct_answer": map[string]any{"key_points": []any{"a", "b"}},
		},
		nil,
	}
	got := New().Process(raw, nil, "u")
	if len(got) != 2 {
		t.Fatalf("len(Process()) = %d, want 2", len(got))
	}

	mc := got[0]
	if mc.Type != models.MultipleChoice || mc.Question != "Which organelle makes ATP?" {
		t.Fatalf("mc = %+v", mc)
	}
	if want := map[string]string{"A": "Nucleus", "B": "Mitochondrion", "C": "Ribosome"}; !reflect.DeepEqual(mc.Options, want) {
		t.Fatalf("options = %v, want %v", mc.Options, want)
	}
	if mc.BloomLevel != "remember" || mc.Difficulty != "basic" || mc.Topic != "cells" {
		t.Fatalf("mc tags = %q/%q/%q", mc.BloomLevel, mc.Difficulty, mc.Topic)
	}

	essay := got[1]
	if want := map[string]string{"A": "x", "B": "2"}; !reflect.DeepEqual(essay.Options, want) {
		t.Fatalf("options = %v, want %v", essay.Options, want)
	}
	if _, ok := essay.CorrectAnswer.(map[string]any); !ok {
		t.Fatalf("correct_answer = %#v, want mapping", essay.CorrectAnswer)
	}
}
