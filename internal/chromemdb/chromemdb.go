package chromemdb

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"document-quiz/internal/models"
)

// metadata keys stored with every chunk
const (
	metaDocumentID     = "document_id"
	metaFilename       = "filename"
	metaPageNumber     = "page_number"
	metaChunkIndex     = "chunk_index"
	metaWordCount      = "word_count"
	metaCharacterCount = "character_count"
)

// VectorDBManager stores embedded chunks in a chromem-go collection
type VectorDBManager struct {
	db            *chromem.DB
	collection    *chromem.Collection
	dbPath        string
	compress      bool
	encryptionKey string
	filePath      string
}

const (
	compress = false
)

// NewVectorDBManager opens the database at dbPath, or an in-memory one,
// and gets or creates the named collection.
func NewVectorDBManager(dbPath, collectionName string, inMemory bool, encryptionKey string) (*VectorDBManager, error) {
	var db *chromem.DB
	var err error
	if inMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(dbPath, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	m := &VectorDBManager{
		db:            db,
		dbPath:        dbPath,
		compress:      compress,
		encryptionKey: encryptionKey,
		filePath:      filepath.Join(dbPath, collectionName+".gob"),
	}
	if _, err := m.GetOrCreateCollection(collectionName); err != nil {
		return nil, err
	}
	return m, nil
}

// create or read collection
func (m *VectorDBManager) GetOrCreateCollection(collectionName string) (*chromem.Collection, error) {
	// Chunks always arrive embedded, so no embedding func is needed.
	c, err := m.db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	m.collection = c
	return c, nil
}

func (m *VectorDBManager) Count() int {
	return m.collection.Count()
}

// Upsert adds chunks, replacing any with the same id. Every chunk must
// carry an embedding.
func (m *VectorDBManager) Upsert(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	docs := make([]chromem.Document, 0, len(chunks))
	for _, c := range chunks {
		if !c.HasEmbedding() {
			return fmt.Errorf("chunk %s has no embedding", c.ID)
		}
		docs = append(docs, chromem.Document{
			ID:        c.ID,
			Content:   c.Text,
			Metadata:  toMetadata(c.SourceMetadata),
			Embedding: c.Embedding,
		})
	}

	if err := m.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	log.Debug().Str("collection", m.collection.Name).Int("chunks", len(docs)).Msg("Stored chunks")
	return nil
}

// Query returns up to k chunks most similar to vector, restricted to those
// whose metadata matches filter. Results carry their stored embedding.
func (m *VectorDBManager) Query(ctx context.Context, vector []float32, k int, filter map[string]string) ([]models.Chunk, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("query embedding is required")
	}
	// chromem rejects nResults above the collection size
	if n := m.collection.Count(); k > n {
		k = n
	}
	if k <= 0 {
		return nil, nil
	}

	var where map[string]string
	if len(filter) > 0 {
		where = filter
	}
	results, err := m.collection.QueryEmbedding(ctx, vector, k, where, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	chunks := make([]models.Chunk, 0, len(results))
	for _, r := range results {
		chunks = append(chunks, models.Chunk{
			ID:             r.ID,
			Text:           r.Content,
			SourceMetadata: fromMetadata(r.Metadata),
			Embedding:      r.Embedding,
		})
	}
	return chunks, nil
}

// delete collection
func (m *VectorDBManager) DeleteCollection() error {
	err := m.db.DeleteCollection(m.collection.Name)
	if err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	return nil
}

// Export writes the collection to <dbPath>/<collection>.gob, encrypted
// when an encryption key is set.
func (m *VectorDBManager) Export() error {
	if m.dbPath == "" {
		return fmt.Errorf("db path is required")
	}

	log.Debug().Str("collection", m.collection.Name).Str("file", m.filePath).Bool("encrypted", m.encryptionKey != "").Msg("Exporting collection")
	err := m.db.ExportToFile(m.filePath, m.compress, m.encryptionKey, m.collection.Name)
	if err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// Import loads the collection from the file written by Export.
func (m *VectorDBManager) Import() error {
	name := m.collection.Name
	err := m.db.ImportFromFile(m.filePath, m.encryptionKey, name)
	if err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	if c := m.db.GetCollection(name, nil); c != nil {
		m.collection = c
	}
	return nil
}

func toMetadata(meta models.SourceMetadata) map[string]string {
	return map[string]string{
		metaDocumentID:     meta.DocumentID,
		metaFilename:       meta.Filename,
		metaPageNumber:     strconv.Itoa(meta.PageNumber),
		metaChunkIndex:     strconv.Itoa(meta.ChunkIndex),
		metaWordCount:      strconv.Itoa(meta.WordCount),
		metaCharacterCount: strconv.Itoa(meta.CharacterCount),
	}
}

func fromMetadata(md map[string]string) models.SourceMetadata {
	atoi := func(key string) int {
		n, err := strconv.Atoi(md[key])
		if err != nil {
			return 0
		}
		return n
	}
	return models.SourceMetadata{
		DocumentID:     md[metaDocumentID],
		Filename:       md[metaFilename],
		PageNumber:     atoi(metaPageNumber),
		ChunkIndex:     atoi(metaChunkIndex),
		WordCount:      atoi(metaWordCount),
		CharacterCount: atoi(metaCharacterCount),
	}
}
