package models

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"rlvr/internal/models/providers"
)

// ProviderType represents the type of LLM provider
type ProviderType string

const (
	OpenAIProvider       ProviderType = "openai"
	GitHubModelsProvider ProviderType = "github_models"
	AzureOpenAIProvider  ProviderType = "azure_openai"
)

const gitHubModelsEndpoint = "https://models.inference.ai.azure.com"

var (
	// ErrUnknownModel is returned for a model ID that is not registered.
	ErrUnknownModel = errors.New("unknown model")
	// ErrMissingCredentials is returned when a provider has no API key.
	ErrMissingCredentials = errors.New("missing provider credentials")
)

// ModelProvider describes how to reach one model.
type ModelProvider struct {
	Name     string       `yaml:"name" json:"name"`
	Type     ProviderType `yaml:"type" json:"type"`
	Endpoint string       `yaml:"endpoint" json:"endpoint,omitempty"`
	APIKey   string       `yaml:"api_key" json:"-"`
}

// ModelRegistry manages available LLM models and caches their clients.
type ModelRegistry struct {
	mu        sync.Mutex
	providers map[string]*ModelProvider
	instances map[string]llms.Model
}

// NewModelRegistry creates a registry with the default model set.
func NewModelRegistry() *ModelRegistry {
	return &ModelRegistry{
		providers: map[string]*ModelProvider{
			"gpt-4o-mini": {Name: "gpt-4o-mini", Type: OpenAIProvider},
			"gpt-4o":      {Name: "gpt-4o", Type: OpenAIProvider},
			"github-gpt-4o-mini": {
				Name:     "gpt-4o-mini",
				Type:     GitHubModelsProvider,
				Endpoint: gitHubModelsEndpoint,
			},
			"azure": {Type: AzureOpenAIProvider},
		},
		instances: make(map[string]llms.Model),
	}
}

// Register adds or replaces a model and drops any cached client for it.
func (r *ModelRegistry) Register(id string, p *ModelProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[id] = p
	delete(r.instances, id)
}

// IDs lists registered model IDs in order.
func (r *ModelRegistry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetModel returns an initialized LLM instance
func (r *ModelRegistry) GetModel(id string) (llms.Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if model, exists := r.instances[id]; exists {
		return model, nil
	}
	provider, exists := r.providers[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}

	model, err := initializeModel(provider)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", id, err)
	}
	r.instances[id] = model
	return model, nil
}

func initializeModel(p *ModelProvider) (llms.Model, error) {
	switch p.Type {
	case OpenAIProvider:
		return initializeOpenAI(p, "OPENAI_API_KEY")
	case GitHubModelsProvider:
		if p.Endpoint == "" {
			p.Endpoint = gitHubModelsEndpoint
		}
		return initializeOpenAI(p, "GITHUB_TOKEN")
	case AzureOpenAIProvider:
		return providers.NewAzureOpenAI(providers.AzureConfig{
			Endpoint:   p.Endpoint,
			APIKey:     p.APIKey,
			Deployment: p.Name,
		})
	default:
		return nil, fmt.Errorf("unsupported model type: %s", p.Type)
	}
}

// initializeOpenAI builds an OpenAI-compatible client, falling back to the
// given environment variable for the token.
func initializeOpenAI(p *ModelProvider, tokenEnv string) (llms.Model, error) {
	token := p.APIKey
	if token == "" {
		token = os.Getenv(tokenEnv)
	}
	if token == "" {
		return nil, fmt.Errorf("%w: set %s", ErrMissingCredentials, tokenEnv)
	}

	opts := []openai.Option{openai.WithToken(token)}
	if p.Name != "" {
		opts = append(opts, openai.WithModel(p.Name))
	}
	if p.Endpoint != "" {
		opts = append(opts, openai.WithBaseURL(p.Endpoint))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenAI model: %w", err)
	}
	return llm, nil
}
