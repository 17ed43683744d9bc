// Package embeddingtest provides a deterministic in-process embedder for tests.
package embeddingtest

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/embeddings"

	"document-quiz/internal/embedding"
	"document-quiz/internal/models"
)

var ErrFake = errors.New("fake embedder failure")

// Embedder hashes words into Dim buckets, so texts sharing words get
// similar vectors. FailOn makes any batch containing a matching text fail.
type Embedder struct {
	Dim    int
	FailOn func(text string) bool
	Err    error

	mu    sync.Mutex
	calls int
	texts int
}

func (f *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.texts += len(texts)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if f.FailOn != nil && f.FailOn(t) {
			return nil, ErrFake
		}
		out[i] = Vector(t, f.dim())
	}
	return out, nil
}

func (f *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := f.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

// Calls is the number of EmbedDocuments invocations.
func (f *Embedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Texts is the number of texts embedded, including failed batches.
func (f *Embedder) Texts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.texts
}

func (f *Embedder) dim() int {
	if f.Dim <= 0 {
		return 16
	}
	return f.Dim
}

// Vector is the bag-of-words vector the fake produces for text.
func Vector(text string, dim int) []float32 {
	v := make([]float32, dim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(strings.Trim(w, ".,;:!?")))
		v[h.Sum32()%uint32(dim)]++
	}
	return v
}

// NewEngine returns an engine whose default model "fake" is f.
func NewEngine(f *Embedder) *embedding.Engine {
	r := embedding.NewRegistry()
	_ = r.Register(models.ModelInfo{Name: "fake", Type: models.ModelTypeLocal, Dimension: f.dim()}, true, func() (embeddings.Embedder, error) {
		return f, nil
	})
	return embedding.NewEngine(r, "fake", "")
}
