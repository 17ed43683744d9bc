// Package chunker splits extracted document sections into overlapping
// chunks that keep their page and document provenance.
package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/textsplitter"

	"document-quiz/internal/errs"
	"document-quiz/internal/helper"
	"document-quiz/internal/models"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// DefaultSeparators are tried in order; the empty string slices by character.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

type Chunker struct {
	size     int
	overlap  int
	splitter textsplitter.TextSplitter
}

// New returns a recursive character chunker. Non-positive values fall back
// to the defaults and an overlap that is not smaller than size is halved.
func New(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	if overlap >= size {
		overlap = size / 2
	}
	return &Chunker{
		size:    size,
		overlap: overlap,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
			textsplitter.WithSeparators(DefaultSeparators),
		),
	}
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk splits every section and numbers the chunks per document.
func (c *Chunker) Chunk(sections []models.Section) ([]models.Chunk, error) {
	const op = "chunker.Chunk"

	var chunks []models.Chunk
	next := make(map[string]int)
	for _, section := range sections {
		if section.DocumentID == "" {
			return nil, errs.New(errs.InvalidArgument, op, "section from %q has no document id", section.Filename)
		}
		text := strings.TrimSpace(section.Text)
		if text == "" {
			continue
		}

		pieces, err := c.split(text)
		if err != nil {
			return nil, errs.Wrap(errs.ParseFailed, op, err, "failed to split %s page %d", section.Filename, section.PageNumber)
		}

		for _, piece := range pieces {
			if strings.TrimSpace(piece) == "" {
				continue
			}
			idx := next[section.DocumentID]
			next[section.DocumentID] = idx + 1
			chunks = append(chunks, models.Chunk{
				ID:   ChunkID(section.DocumentID, idx),
				Text: piece,
				SourceMetadata: models.SourceMetadata{
					DocumentID:     section.DocumentID,
					Filename:       section.Filename,
					PageNumber:     section.PageNumber,
					ChunkIndex:     idx,
					WordCount:      helper.WordCount(piece),
					CharacterCount: utf8.RuneCountInString(piece),
				},
			})
		}
	}

	log.Debug().Int("sections", len(sections)).Int("chunks", len(chunks)).Msg("Chunked sections")
	return chunks, nil
}

// ChunkText chunks a single untitled text.
func (c *Chunker) ChunkText(text, documentID, filename string) ([]models.Chunk, error) {
	return c.Chunk([]models.Section{{Text: text, DocumentID: documentID, Filename: filename}})
}

func (c *Chunker) split(text string) ([]string, error) {
	if utf8.RuneCountInString(text) <= c.size {
		return []string{text}, nil
	}
	return c.splitter.SplitText(text)
}

// ChunkID is the stable id of the idx-th chunk of a document.
func ChunkID(documentID string, idx int) string {
	return fmt.Sprintf("doc_%s_chunk_%d", documentID, idx)
}
