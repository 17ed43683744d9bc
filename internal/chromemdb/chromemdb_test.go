package chromemdb

import (
	"context"
	"reflect"
	"testing"

	"document-quiz/internal/models"
)

func chunk(id, doc string, idx int, vec ...float32) models.Chunk {
	return models.Chunk{
		ID:   id,
		Text: "text of " + id,
		SourceMetadata: models.SourceMetadata{
			DocumentID:     doc,
			Filename:       doc + ".pdf",
			PageNumber:     idx + 1,
			ChunkIndex:     idx,
			WordCount:      3,
			CharacterCount: len("text of " + id),
		},
		Embedding: vec,
	}
}

func newStore(t *testing.T, dir, key string) *VectorDBManager {
	t.Helper()
	m, err := NewVectorDBManager(dir, "quiz_chunks", true, key)
	if err != nil {
		t.Fatalf("NewVectorDBManager() error = %v", err)
	}
	return m
}

func TestUpsertAndQuery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := newStore(t, "", "")

	if got, err := m.Query(ctx, []float32{1, 0, 0}, 5, nil); err != nil || len(got) != 0 {
		t.Fatalf("Query(empty) = %v, %v; want nothing", got, err)
	}

	chunks := []models.Chunk{
		chunk("doc_a_chunk_0", "a", 0, 1, 0, 0),
		chunk("doc_a_chunk_1", "a", 1, 0.6, 0.8, 0),
		chunk("doc_b_chunk_0", "b", 0, 1, 0.1, 0),
	}
	if err := m.Upsert(ctx, chunks); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	// re-upserting replaces rather than duplicates
	if err := m.Upsert(ctx, chunks[:1]); err != nil {
		t.Fatalf("Upsert() again error = %v", err)
	}
	if m.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", m.Count())
	}

	got, err := m.Query(ctx, []float32{1, 0, 0}, 10, map[string]string{"document_id": "a"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	var ids []string
	for _, c := range got {
		ids = append(ids, c.ID)
	}
	if !reflect.DeepEqual(ids, []string{"doc_a_chunk_0", "doc_a_chunk_1"}) {
		t.Fatalf("Query() ids = %v", ids)
	}
	want := chunks[1].SourceMetadata
	if got[1].SourceMetadata != want || got[1].Text != chunks[1].Text || !got[1].HasEmbedding() {
		t.Fatalf("Query()[1] = %+v, want metadata %+v", got[1], want)
	}

	got, err = m.Query(ctx, []float32{1, 0, 0}, 1, nil)
	if err != nil || len(got) != 1 || got[0].ID != "doc_a_chunk_0" {
		t.Fatalf("Query(k=1) = %v, %v", got, err)
	}
}

func TestUpsertRequiresEmbedding(t *testing.T) {
	t.Parallel()
	m := newStore(t, "", "")
	if err := m.Upsert(context.Background(), []models.Chunk{chunk("c", "a", 0)}); err == nil {
		t.Fatal("Upsert() error = nil, want missing embedding error")
	}
	if _, err := m.Query(context.Background(), nil, 3, nil); err == nil {
		t.Fatal("Query(nil vector) error = nil")
	}
}

func TestExportImport(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	key := "0123456789abcdef0123456789abcdef"

	src := newStore(t, dir, key)
	if err := src.Upsert(ctx, []models.Chunk{
		chunk("doc_a_chunk_0", "a", 0, 1, 0),
		chunk("doc_a_chunk_1", "a", 1, 0, 1),
	}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := src.Export(); err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	dst := newStore(t, dir, key)
	if err := dst.Import(); err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if dst.Count() != 2 {
		t.Fatalf("Count() after import = %d, want 2", dst.Count())
	}
	got, err := dst.Query(ctx, []float32{0, 1}, 1, nil)
	if err != nil || len(got) != 1 || got[0].ID != "doc_a_chunk_1" {
		t.Fatalf("Query() after import = %v, %v", got, err)
	}

	if err := newStore(t, "", "").Export(); err == nil {
		t.Fatal("Export() without a path error = nil")
	}
}

func TestDeleteCollection(t *testing.T) {
	t.Parallel()
	m := newStore(t, "", "")
	if err := m.DeleteCollection(); err != nil {
		t.Fatalf("DeleteCollection() error = %v", err)
	}
}
