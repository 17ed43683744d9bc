package embedding

import (
	"fmt"
	"sync"

	"github.com/tmc/langchaingo/embeddings"

	"document-quiz/internal/config"
	"document-quiz/internal/errs"
	"document-quiz/internal/models"
)

// Factory creates an embedding model. It is called at most once per entry.
type Factory func() (embeddings.Embedder, error)

type entry struct {
	info    models.ModelInfo
	enabled bool
	factory Factory

	once  sync.Once
	model embeddings.Embedder
	err   error

	mu     sync.Mutex
	failed bool
}

func (e *entry) load() (embeddings.Embedder, error) {
	e.once.Do(func() {
		e.model, e.err = e.factory()
		if e.err == nil && e.model == nil {
			e.err = fmt.Errorf("factory returned no model")
		}
		e.mu.Lock()
		e.failed = e.err != nil
		e.mu.Unlock()
	})
	return e.model, e.err
}

func (e *entry) hasFailed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failed
}

// Registry holds the embedding models of the process. Models are created
// lazily on first use and shared read-only afterwards.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// NewRegistryFromConfig registers every configured model.
func NewRegistryFromConfig(cfg config.EmbeddingConfig) (*Registry, error) {
	r := NewRegistry()
	for _, m := range cfg.Models {
		info := models.ModelInfo{Name: m.Name, Type: models.ModelType(m.Type), Dimension: m.Dimension}
		if err := r.Register(info, m.Enabled, func() (embeddings.Embedder, error) {
			return NewEmbedder(m)
		}); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(info models.ModelInfo, enabled bool, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info.Name == "" {
		return fmt.Errorf("embedding model name is required")
	}
	if _, ok := r.entries[info.Name]; ok {
		return fmt.Errorf("embedding model %q already registered", info.Name)
	}
	r.entries[info.Name] = &entry{info: info, enabled: enabled, factory: factory}
	r.order = append(r.order, info.Name)
	return nil
}

func (r *Registry) lookup(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Model returns the initialized model called name.
func (r *Registry) Model(name string) (embeddings.Embedder, error) {
	const op = "embedding.Registry.Model"
	e, ok := r.lookup(name)
	if !ok {
		return nil, errs.New(errs.InvalidArgument, op, "unknown embedding model %q", name)
	}
	if !e.enabled {
		return nil, errs.New(errs.EmbeddingUnavailable, op, "embedding model %q is disabled", name)
	}
	m, err := e.load()
	if err != nil {
		return nil, errs.Wrap(errs.EmbeddingUnavailable, op, err, "embedding model %q failed to initialize", name)
	}
	return m, nil
}

func (r *Registry) Info(name string) (models.ModelInfo, bool) {
	e, ok := r.lookup(name)
	if !ok {
		return models.ModelInfo{}, false
	}
	return e.info, true
}

// Infos lists registered models in registration order. A model counts as
// available when it is enabled and has not failed to initialize.
func (r *Registry) Infos() []models.ModelInfo {
	r.mu.RLock()
	names := append([]string(nil), r.order...)
	r.mu.RUnlock()

	out := make([]models.ModelInfo, 0, len(names))
	for _, name := range names {
		e, _ := r.lookup(name)
		info := e.info
		info.Available = e.enabled && !e.hasFailed()
		out = append(out, info)
	}
	return out
}
