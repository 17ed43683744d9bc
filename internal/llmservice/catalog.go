package llmservice

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"document-quiz/internal/config"
	"document-quiz/internal/errs"
)

// ModelLister lists the models a server offers.
type ModelLister interface {
	ListModels(ctx context.Context) (openai.ModelsList, error)
}

// Catalog checks model availability against the OpenAI compatible
// /v1/models endpoint and substitutes the fallback model when the
// requested one is not served.
type Catalog struct {
	lister   ModelLister
	fallback string
	ttl      time.Duration

	mu        sync.Mutex
	models    map[string]bool
	fetchedAt time.Time
}

// NewCatalog creates a catalog for cfg. Ollama exposes the OpenAI model
// listing under /v1.
func NewCatalog(cfg config.LLMConfig, ttl time.Duration) *Catalog {
	clientCfg := openai.DefaultConfig(strings.TrimPrefix(cfg.Key, "Bearer "))
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Provider == "ollama" && !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	if base != "" {
		clientCfg.BaseURL = base
	}
	return NewCatalogWithLister(openai.NewClientWithConfig(clientCfg), cfg.FallbackModel, ttl)
}

func NewCatalogWithLister(lister ModelLister, fallback string, ttl time.Duration) *Catalog {
	return &Catalog{lister: lister, fallback: fallback, ttl: ttl}
}

// Resolve returns model when it is served, else the fallback model. When
// the listing cannot be fetched the requested model is used as is.
func (c *Catalog) Resolve(ctx context.Context, model string) (string, error) {
	const op = "llmservice.Catalog.Resolve"
	available, err := c.Models(ctx)
	if err != nil {
		log.Warn().Err(err).Str("model", model).Msg("Could not list models, assuming requested model is available")
		return model, nil
	}
	if hasModel(available, model) {
		return model, nil
	}
	if c.fallback != "" && hasModel(available, c.fallback) {
		log.Warn().Str("model", model).Str("fallback", c.fallback).Msg("Model not available, using fallback")
		return c.fallback, nil
	}
	return "", errs.New(errs.GenerationInvocationFailed, op, "model %q and fallback %q are not available", model, c.fallback)
}

// Models returns the set of served model ids, cached for the catalog TTL.
func (c *Catalog) Models(ctx context.Context) (map[string]bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.models != nil && time.Since(c.fetchedAt) < c.ttl {
		return c.models, nil
	}

	list, err := c.lister.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	models := make(map[string]bool, len(list.Models))
	for _, m := range list.Models {
		models[m.ID] = true
	}
	c.models = models
	c.fetchedAt = time.Now()
	return models, nil
}

// hasModel also accepts ollama's implicit ":latest" tag.
func hasModel(available map[string]bool, model string) bool {
	if available[model] {
		return true
	}
	if !strings.Contains(model, ":") {
		return available[model+":latest"]
	}
	return false
}
