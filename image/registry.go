package image

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/BaSui01/lunagen/types"
	"go.uber.org/zap"
)

// ModelFactory builds a model of one provider; an empty modelID selects the
// provider's configured default.
type ModelFactory func(modelID string) Model

// Registry resolves "provider:model" ids to models.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ModelFactory
	defaultID string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ModelFactory)}
}

// Register registers a provider factory.
func (r *Registry) Register(provider string, factory ModelFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[provider] = factory
}

// SetDefault sets the id resolved for an empty lookup.
func (r *Registry) SetDefault(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultID = id
}

// Providers returns the registered provider names, sorted.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseModelID splits "provider:model". The model part may itself contain ':'.
func ParseModelID(id string) (provider, model string) {
	provider, model, _ = strings.Cut(id, ":")
	return provider, model
}

// Model resolves id ("provider" or "provider:model"; "" for the default).
func (r *Registry) Model(id string) (Model, error) {
	r.mu.RLock()
	if id == "" {
		id = r.defaultID
	}
	provider, modelID := ParseModelID(id)
	factory, ok := r.factories[provider]
	r.mu.RUnlock()

	if !ok {
		return nil, types.NewError(types.ErrModelNotFound, fmt.Sprintf("image provider %q is not configured", provider))
	}
	return factory(modelID), nil
}

// Text2Image resolves id to a model that supports text2image.
func (r *Registry) Text2Image(id string) (Text2ImageModel, error) {
	m, err := r.Model(id)
	if err != nil {
		return nil, err
	}
	t2i, ok := m.(Text2ImageModel)
	if !ok {
		return nil, types.NewError(types.ErrUnsupportedOperation,
			fmt.Sprintf("%s:%s does not support text2image", m.Provider(), m.ModelID())).WithProvider(m.Provider())
	}
	return t2i, nil
}

// Image2Image resolves id to a model that supports image2image.
func (r *Registry) Image2Image(id string) (Image2ImageModel, error) {
	m, err := r.Model(id)
	if err != nil {
		return nil, err
	}
	i2i, ok := m.(Image2ImageModel)
	if !ok {
		return nil, types.NewError(types.ErrUnsupportedOperation,
			fmt.Sprintf("%s:%s does not support image2image", m.Provider(), m.ModelID())).WithProvider(m.Provider())
	}
	return i2i, nil
}

// NewRegistryFromConfig registers every provider that has credentials configured,
// plus stable diffusion when it is enabled.
func NewRegistryFromConfig(cfg ProvidersConfig, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := NewRegistry()

	if cfg.OpenAI.APIKey != "" {
		r.Register("openai", func(modelID string) Model { return NewOpenAIModel(cfg.OpenAI, modelID, logger) })
	}
	if cfg.Flux.APIKey != "" {
		r.Register("flux", func(modelID string) Model { return NewFluxModel(cfg.Flux, modelID, logger) })
	}
	if cfg.Gemini.APIKey != "" {
		r.Register("gemini", func(modelID string) Model { return NewGeminiModel(cfg.Gemini, modelID, logger) })
	}
	if cfg.StableDiffusion.Enabled {
		r.Register("stable-diffusion", func(modelID string) Model {
			return NewStableDiffusionModel(cfg.StableDiffusion, modelID, logger)
		})
	}
	r.SetDefault(cfg.Default)

	logger.Debug("image registry initialized", zap.Strings("providers", r.Providers()))
	return r
}
