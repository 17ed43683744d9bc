package db

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"

	"document-quiz/internal/models"
)

type ChunkRecord struct {
	bun.BaseModel  `bun:"table:quiz_chunks,alias:c"`
	ID             string          `bun:"id,pk"`
	DocumentID     string          `bun:"document_id,notnull"`
	Filename       string          `bun:"filename"`
	PageNumber     int             `bun:"page_number"`
	ChunkIndex     int             `bun:"chunk_index"`
	WordCount      int             `bun:"word_count"`
	CharacterCount int             `bun:"character_count"`
	Content        string          `bun:"content,notnull"`
	Embedding      pgvector.Vector `bun:"embedding,type:vector"`
}

// filterable metadata keys and their columns
var chunkFilterColumns = map[string]string{
	"document_id": "document_id",
	"filename":    "filename",
}

// ChunkRepository stores embedded chunks in postgres with pgvector.
type ChunkRepository struct {
	db *bun.DB
}

func NewChunkRepository(db *bun.DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

// Upsert inserts chunks, updating rows whose id already exists.
func (r *ChunkRepository) Upsert(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	records := make([]ChunkRecord, 0, len(chunks))
	for _, c := range chunks {
		if !c.HasEmbedding() {
			return fmt.Errorf("chunk %s has no embedding", c.ID)
		}
		records = append(records, toRecord(c))
	}

	_, err := r.db.NewInsert().
		Model(&records).
		On("CONFLICT (id) DO UPDATE").
		Set("document_id = EXCLUDED.document_id").
		Set("filename = EXCLUDED.filename").
		Set("page_number = EXCLUDED.page_number").
		Set("chunk_index = EXCLUDED.chunk_index").
		Set("word_count = EXCLUDED.word_count").
		Set("character_count = EXCLUDED.character_count").
		Set("content = EXCLUDED.content").
		Set("embedding = EXCLUDED.embedding").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to store chunks: %w", err)
	}
	log.Debug().Int("chunks", len(records)).Msg("Stored chunks in postgres")
	return nil
}

// Query returns the k chunks nearest to vector by cosine distance.
func (r *ChunkRepository) Query(ctx context.Context, vector []float32, k int, filter map[string]string) ([]models.Chunk, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("query embedding is required")
	}
	if k <= 0 {
		return nil, nil
	}

	var records []ChunkRecord
	q := r.db.NewSelect().Model(&records)
	for key, value := range filter {
		column, ok := chunkFilterColumns[key]
		if !ok {
			return nil, fmt.Errorf("unsupported chunk filter %q", key)
		}
		q = q.Where("? = ?", bun.Ident(column), value)
	}
	err := q.OrderExpr("embedding <=> ?", pgvector.NewVector(vector)).
		Limit(k).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	chunks := make([]models.Chunk, 0, len(records))
	for _, rec := range records {
		chunks = append(chunks, rec.toChunk())
	}
	return chunks, nil
}

// DeleteDocument removes every chunk of documentID.
func (r *ChunkRepository) DeleteDocument(ctx context.Context, documentID string) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*ChunkRecord)(nil)).
		Where("document_id = ?", documentID).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	return res.RowsAffected()
}

func toRecord(c models.Chunk) ChunkRecord {
	return ChunkRecord{
		ID:             c.ID,
		DocumentID:     c.SourceMetadata.DocumentID,
		Filename:       c.SourceMetadata.Filename,
		PageNumber:     c.SourceMetadata.PageNumber,
		ChunkIndex:     c.SourceMetadata.ChunkIndex,
		WordCount:      c.SourceMetadata.WordCount,
		CharacterCount: c.SourceMetadata.CharacterCount,
		Content:        c.Text,
		Embedding:      pgvector.NewVector(c.Embedding),
	}
}

func (rec ChunkRecord) toChunk() models.Chunk {
	return models.Chunk{
		ID:   rec.ID,
		Text: rec.Content,
		SourceMetadata: models.SourceMetadata{
			DocumentID:     rec.DocumentID,
			Filename:       rec.Filename,
			PageNumber:     rec.PageNumber,
			ChunkIndex:     rec.ChunkIndex,
			WordCount:      rec.WordCount,
			CharacterCount: rec.CharacterCount,
		},
		Embedding: rec.Embedding.Slice(),
	}
}
