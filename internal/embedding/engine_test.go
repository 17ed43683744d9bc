package embedding_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/tmc/langchaingo/embeddings"

	"document-quiz/internal/config"
	"document-quiz/internal/embedding"
	"document-quiz/internal/embedding/embeddingtest"
	"document-quiz/internal/errs"
	"document-quiz/internal/metrics"
	"document-quiz/internal/models"
)

func register(t *testing.T, r *embedding.Registry, name string, dim int, enabled bool, f embeddings.Embedder) {
	t.Helper()
	err := r.Register(models.ModelInfo{Name: name, Type: models.ModelTypeLocal, Dimension: dim}, enabled, func() (embeddings.Embedder, error) {
		return f, nil
	})
	if err != nil {
		t.Fatalf("Register(%s) error = %v", name, err)
	}
}

func TestEmbedReportsDimensionAndModel(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := embedding.NewRegistry()
	register(t, r, "local", 8, true, &embeddingtest.Embedder{Dim: 8})
	e := embedding.NewEngine(r, "local", "", embedding.WithClock(func() time.Time { return fixed }))

	texts := []string{"cells divide", "plants convert light into energy"}
	first, err := e.Embed(context.Background(), texts, "")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(first) != len(texts) {
		t.Fatalf("len(results) = %d, want %d", len(first), len(texts))
	}
	for i, res := range first {
		if res.Text != texts[i] || res.ModelName != "local" || res.Dimension != 8 || len(res.Vector) != 8 {
			t.Fatalf("result %d = %+v", i, res)
		}
		if res.Metadata.ModelInfo.Name != "local" || res.Metadata.ModelInfo.Dimension != 8 {
			t.Fatalf("model info = %+v", res.Metadata.ModelInfo)
		}
		if !res.Metadata.GeneratedAt.Equal(fixed) {
			t.Fatalf("generated_at = %v, want %v", res.Metadata.GeneratedAt, fixed)
		}
	}
	if first[1].Metadata.WordCount != 5 || first[1].Metadata.TextLength != len(texts[1]) {
		t.Fatalf("metadata = %+v", first[1].Metadata)
	}

	second, err := e.Embed(context.Background(), texts, "local")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	for i := range texts {
		if second[i].Dimension != first[i].Dimension {
			t.Fatalf("dimension changed between calls: %d != %d", second[i].Dimension, first[i].Dimension)
		}
	}
}

func TestEmbedEmptyInput(t *testing.T) {
	t.Parallel()

	f := &embeddingtest.Embedder{}
	res, err := embeddingtest.NewEngine(f).Embed(context.Background(), nil, "")
	if err != nil || len(res) != 0 {
		t.Fatalf("Embed(nil) = %v, %v; want empty, nil", res, err)
	}
	if f.Calls() != 0 {
		t.Fatalf("embedder called %d times, want 0", f.Calls())
	}
}

func TestEmbedUnknownModelFallsBackToDefault(t *testing.T) {
	t.Parallel()

	r := embedding.NewRegistry()
	register(t, r, "local", 4, true, &embeddingtest.Embedder{Dim: 4})
	register(t, r, "qa-optimized", 4, false, &embeddingtest.Embedder{Dim: 4})
	e := embedding.NewEngine(r, "local", "local")

	for _, name := range []string{"no-such-model", "qa-optimized"} {
		res, err := e.Embed(context.Background(), []string{"x"}, name)
		if err != nil {
			t.Fatalf("Embed(%s) error = %v", name, err)
		}
		if res[0].ModelName != "local" {
			t.Fatalf("Embed(%s) model = %q, want local", name, res[0].ModelName)
		}
	}
}

func TestEmbedDefaultUnavailable(t *testing.T) {
	t.Parallel()

	r := embedding.NewRegistry()
	if err := r.Register(models.ModelInfo{Name: "local"}, true, func() (embeddings.Embedder, error) {
		return nil, errors.New("ollama not reachable")
	}); err != nil {
		t.Fatal(err)
	}
	e := embedding.NewEngine(r, "local", "")

	_, err := e.Embed(context.Background(), []string{"x"}, "missing")
	if !errs.Is(err, errs.EmbeddingUnavailable) {
		t.Fatalf("Embed() error = %v, want embedding_unavailable", err)
	}

	infos := e.AvailableModels()
	if len(infos) != 1 || infos[0].Available || !infos[0].Default {
		t.Fatalf("AvailableModels() = %+v", infos)
	}
}

func TestEmbedNoDefaultIsInvalidArgument(t *testing.T) {
	t.Parallel()

	e := embedding.NewEngine(embedding.NewRegistry(), "", "")
	_, err := e.Embed(context.Background(), []string{"x"}, "unknown")
	if !errs.Is(err, errs.InvalidArgument) {
		t.Fatalf("Embed() error = %v, want invalid_argument", err)
	}
}

func TestEmbedRetriesOnFallback(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	remote := &embeddingtest.Embedder{Err: errors.New("rate limited")}
	local := &embeddingtest.Embedder{Dim: 4}
	r := embedding.NewRegistry()
	register(t, r, "local", 4, true, local)
	register(t, r, "openai", 1536, true, remote)
	e := embedding.NewEngine(r, "local", "local", embedding.WithMetrics(m))

	res, err := e.Embed(context.Background(), []string{"a", "b"}, "openai")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if res[0].ModelName != "local" {
		t.Fatalf("model = %q, want local", res[0].ModelName)
	}
	if remote.Calls() != 1 || local.Calls() != 1 {
		t.Fatalf("calls remote=%d local=%d, want 1/1", remote.Calls(), local.Calls())
	}
	if got := testutil.ToFloat64(m.EmbeddingRequests.WithLabelValues("openai", "error")); got != 1 {
		t.Fatalf("openai errors = %v, want 1", got)
	}
}

func TestEmbedFailsWhenFallbackFails(t *testing.T) {
	t.Parallel()

	r := embedding.NewRegistry()
	register(t, r, "local", 4, true, &embeddingtest.Embedder{Err: errors.New("down")})
	e := embedding.NewEngine(r, "local", "local")

	_, err := e.Embed(context.Background(), []string{"a"}, "")
	if !errs.Is(err, errs.EmbeddingUnavailable) {
		t.Fatalf("Embed() error = %v, want embedding_unavailable", err)
	}
}

func TestRegistryInitializesOnce(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	calls := 0
	r := embedding.NewRegistry()
	err := r.Register(models.ModelInfo{Name: "local"}, true, func() (embeddings.Embedder, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return &embeddingtest.Embedder{}, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Model("local"); err != nil {
				t.Errorf("Model() error = %v", err)
			}
		}()
	}
	wg.Wait()
	if calls != 1 {
		t.Fatalf("factory called %d times, want 1", calls)
	}
	if err := r.Register(models.ModelInfo{Name: "local"}, true, nil); err == nil {
		t.Fatal("duplicate Register() error = nil")
	}
}

func TestNewRegistryFromConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	r, err := embedding.NewRegistryFromConfig(cfg.Embedding)
	if err != nil {
		t.Fatalf("NewRegistryFromConfig() error = %v", err)
	}
	info, ok := r.Info("local")
	if !ok || info.Dimension != 768 || info.Type != models.ModelTypeLocal {
		t.Fatalf("Info(local) = %+v, %v", info, ok)
	}
	if _, err := r.Model("qa-optimized"); !errs.Is(err, errs.EmbeddingUnavailable) {
		t.Fatalf("Model(qa-optimized) error = %v, want embedding_unavailable", err)
	}
}

func TestSimilarity(t *testing.T) {
	t.Parallel()

	a := []float32{1, 2, 3}
	b := []float32{-2, 0.5, 4}

	tests := []struct {
		metric embedding.Metric
		a, b   []float32
		want   float64
	}{
		{embedding.Cosine, a, a, 1},
		{embedding.Cosine, []float32{1, 0}, []float32{0, 1}, 0},
		{embedding.Cosine, []float32{1, 0}, []float32{-1, 0}, -1},
		{embedding.Cosine, []float32{0, 0}, []float32{1, 1}, 0},
		{embedding.Euclidean, a, a, 1},
		{embedding.Euclidean, []float32{0, 0}, []float32{3, 4}, 1.0 / 6},
		{embedding.Dot, a, b, -2 + 1 + 12},
	}
	for _, tc := range tests {
		got, err := embedding.Similarity(tc.a, tc.b, tc.metric)
		if err != nil {
			t.Fatalf("Similarity(%s) error = %v", tc.metric, err)
		}
		if math.Abs(got-tc.want) > 1e-6 {
			t.Fatalf("Similarity(%v, %v, %s) = %v, want %v", tc.a, tc.b, tc.metric, got, tc.want)
		}
	}

	got, _ := embedding.Similarity(a, b, embedding.Cosine)
	if got < -1 || got > 1 {
		t.Fatalf("cosine = %v, out of [-1, 1]", got)
	}

	if _, err := embedding.Similarity(a, b, "manhattan"); !errs.Is(err, errs.InvalidArgument) {
		t.Fatalf("unknown metric error = %v, want invalid_argument", err)
	}
	if _, err := embedding.Similarity(a, []float32{1}, embedding.Cosine); !errs.Is(err, errs.InvalidArgument) {
		t.Fatalf("length mismatch error = %v, want invalid_argument", err)
	}
}
