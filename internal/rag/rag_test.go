package rag

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"document-quiz/internal/chromemdb"
	"document-quiz/internal/chunker"
	"document-quiz/internal/embedding/embeddingtest"
	"document-quiz/internal/errs"
	"document-quiz/internal/generator"
	"document-quiz/internal/llmservice"
	"document-quiz/internal/models"
	"document-quiz/internal/postprocess"
)

const biology = `Photosynthesis is the process by which green plants convert light energy into chemical energy stored in glucose.

Cellular respiration releases the energy in glucose. Mitochondria are the organelles where most of this process happens.

The cell membrane controls what enters and leaves the cell. It is made of a phospholipid bilayer with embedded proteins.`

type invokerFunc func(ctx context.Context, req llmservice.Request) (*llmservice.Response, error)

func (f invokerFunc) Invoke(ctx context.Context, req llmservice.Request) (*llmservice.Response, error) {
	return f(ctx, req)
}

func definitionInvoker(calls *int) invokerFunc {
	return func(ctx context.Context, req llmservice.Request) (*llmservice.Response, error) {
		*calls++
		return &llmservice.Response{
			Content: `{"questions": [{"type": "definition", "question": "Define photosynthesis.", "correct_answer": "Turning light into chemical energy."}]}`,
			Model:   "m",
		}, nil
	}
}

func newService(t *testing.T, inv generator.Invoker, opts ...Option) *Service {
	t.Helper()
	engine := embeddingtest.NewEngine(&embeddingtest.Embedder{Dim: 256})
	gen := generator.New(inv, postprocess.New(), generator.Config{Model: "m"})
	return NewService(chunker.New(200, 20), engine, gen, 3, opts...)
}

func writeDoc(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func request() models.GenerationRequest {
	return models.GenerationRequest{
		QuestionType: models.Definition,
		BloomLevel:   models.Remember,
		Difficulty:   models.Basic,
		NumQuestions: 1,
		UserID:       "student",
	}
}

func TestIngestAndGenerateFromStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := chromemdb.NewVectorDBManager("", "quiz_chunks", true, "")
	if err != nil {
		t.Fatalf("NewVectorDBManager() error = %v", err)
	}
	calls := 0
	svc := newService(t, definitionInvoker(&calls), WithStore(store))

	ingested, err := svc.IngestFile(ctx, writeDoc(t, "bio.txt", biology), "bio")
	if err != nil {
		t.Fatalf("IngestFile() error = %v", err)
	}
	if ingested.DocumentID != "bio" || ingested.Sections != 1 || ingested.Chunks < 3 || ingested.Model != "fake" || ingested.Dimension != 256 {
		t.Fatalf("IngestFile() = %+v", ingested)
	}
	if store.Count() != ingested.Chunks {
		t.Fatalf("store holds %d chunks, want %d", store.Count(), ingested.Chunks)
	}

	res := svc.GenerateFromStore(ctx, "bio", "photosynthesis light energy", request())
	if !res.Success {
		t.Fatalf("GenerateFromStore() failed: %s", res.Error)
	}
	if calls != 1 || len(res.Questions) != 1 {
		t.Fatalf("calls = %d, questions = %d; want 1 and 1", calls, len(res.Questions))
	}
	q := res.Questions[0]
	if q.UserID != "student" || len(q.SourceContent) == 0 || len(q.SourceContent) > 3 {
		t.Fatalf("question = %+v", q)
	}
	for _, ref := range q.SourceContent {
		if ref.DocumentID != "bio" || !strings.HasPrefix(ref.ChunkID, "doc_bio_chunk_") || ref.Filename != "bio.txt" {
			t.Fatalf("source ref = %+v", ref)
		}
	}

	missing := svc.GenerateFromStore(ctx, "other", "", request())
	if missing.Success || missing.ErrorKind != errs.ContentInsufficient {
		t.Fatalf("GenerateFromStore(other) = %v/%s, want content_insufficient", missing.Success, missing.ErrorKind)
	}
	if calls != 1 {
		t.Fatalf("calls = %d after missing document, want 1", calls)
	}
}

func TestWithoutStore(t *testing.T) {
	t.Parallel()
	calls := 0
	svc := newService(t, definitionInvoker(&calls))

	if _, err := svc.IngestFile(context.Background(), writeDoc(t, "bio.txt", biology), ""); !errs.Is(err, errs.InvalidArgument) {
		t.Fatalf("IngestFile() error = %v, want invalid_argument", err)
	}
	res := svc.GenerateFromStore(context.Background(), "bio", "", request())
	if res.Success || res.ErrorKind != errs.InvalidArgument {
		t.Fatalf("GenerateFromStore() = %v/%s, want invalid_argument", res.Success, res.ErrorKind)
	}
}

func TestGenerateFromFile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	calls := 0
	svc := newService(t, definitionInvoker(&calls))

	res := svc.GenerateFromFile(ctx, writeDoc(t, "bio.md", "# Biology\n\n"+biology), "", "", request())
	if !res.Success || len(res.Questions) != 1 {
		t.Fatalf("GenerateFromFile() = %v with %d questions (%s)", res.Success, len(res.Questions), res.Error)
	}
	if res.Metadata.ContentChunksUsed == 0 || res.Metadata.ContentChunksUsed > 3 {
		t.Fatalf("ContentChunksUsed = %d, want 1..3", res.Metadata.ContentChunksUsed)
	}

	bad := svc.GenerateFromFile(ctx, writeDoc(t, "bio.rtf", biology), "", "", request())
	if bad.Success || bad.ErrorKind != errs.ParseFailed {
		t.Fatalf("GenerateFromFile(rtf) = %v/%s, want parse_failed", bad.Success, bad.ErrorKind)
	}

	empty := svc.GenerateFromFile(ctx, writeDoc(t, "empty.txt", "\n\n"), "", "", request())
	if empty.Success || empty.ErrorKind != errs.ContentInsufficient {
		t.Fatalf("GenerateFromFile(empty) = %v/%s, want content_insufficient", empty.Success, empty.ErrorKind)
	}
}

func TestGenerateQuestionsRecoversPanic(t *testing.T) {
	t.Parallel()
	svc := newService(t, invokerFunc(func(context.Context, llmservice.Request) (*llmservice.Response, error) {
		panic("boom")
	}))

	chunks, err := svc.Chunk([]models.Section{{Text: biology, DocumentID: "bio", Filename: "bio.txt"}})
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}
	res := svc.GenerateQuestions(context.Background(), chunks, request())
	if res.Success || res.ErrorKind != errs.GenerationInvocationFailed || !strings.Contains(res.Error, "boom") {
		t.Fatalf("GenerateQuestions() = %+v", res)
	}
	if res.Questions == nil || res.Metadata.QuestionType != models.Definition {
		t.Fatalf("GenerateQuestions() result is not structured: %+v", res)
	}
}

func TestSelectBestChunksAndEmbed(t *testing.T) {
	t.Parallel()
	svc := newService(t, definitionInvoker(new(int)))
	ctx := context.Background()

	chunks, err := svc.Chunk([]models.Section{{Text: biology, DocumentID: "bio", Filename: "bio.txt"}})
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}
	ranked, err := svc.SelectBestChunks(ctx, chunks, "mitochondria respiration", 1)
	if err != nil || len(ranked) != 1 {
		t.Fatalf("SelectBestChunks() = %v, %v", ranked, err)
	}
	if !strings.Contains(ranked[0].Text, "Mitochondria") {
		t.Fatalf("best chunk = %q, want the respiration paragraph", ranked[0].Text)
	}

	vecs, err := svc.Embed(ctx, []string{"a", "b"}, "")
	if err != nil || len(vecs) != 2 || vecs[0].Dimension != 256 {
		t.Fatalf("Embed() = %v, %v", vecs, err)
	}
}

type fakeCatalog struct {
	models map[string]bool
	err    error
}

func (f fakeCatalog) Models(context.Context) (map[string]bool, error) { return f.models, f.err }

func TestAvailableModels(t *testing.T) {
	t.Parallel()

	svc := newService(t, nil, WithCatalog(fakeCatalog{models: map[string]bool{"llama3.2:3b": true, "qwen:7b": true}}, "deepseek-r1:1.5b", "llama3.2:3b"))
	report := svc.AvailableModels(context.Background())
	if !report.LLMReachable || len(report.Embedding) != 1 || !report.Embedding[0].Default {
		t.Fatalf("report = %+v", report)
	}
	want := []LLMModel{
		{Name: "deepseek-r1:1.5b", Available: false, Default: true},
		{Name: "llama3.2:3b", Available: true},
		{Name: "qwen:7b", Available: true},
	}
	if len(report.LLM) != len(want) {
		t.Fatalf("LLM = %+v, want %+v", report.LLM, want)
	}
	for i := range want {
		if report.LLM[i] != want[i] {
			t.Fatalf("LLM[%d] = %+v, want %+v", i, report.LLM[i], want[i])
		}
	}

	down := newService(t, nil, WithCatalog(fakeCatalog{err: errors.New("connection refused")}, "m", ""))
	report = down.AvailableModels(context.Background())
	if report.LLMReachable || len(report.LLM) != 1 || report.LLM[0].Available {
		t.Fatalf("unreachable report = %+v", report)
	}
}
