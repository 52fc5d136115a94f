package llm

import (
	"context"
	"os"
	"time"

	"github.com/kirahq/kira/common/retry"
	"github.com/kirahq/kira/internal/kira/config"
	"github.com/kirahq/kira/internal/kira/kerrors"
	"github.com/kirahq/kira/internal/kira/observability"
)

// TaskType selects the provider class for a completion.
type TaskType string

const (
	TaskPlanning    TaskType = "planning"
	TaskStructuring TaskType = "structuring"
	TaskDefault     TaskType = "default"
)

// localProviderName is the provider the router falls back to after the
// primary exhausts its retries on a retryable error.
const localProviderName = "local"

// Router routes completions to a named provider per task type, retries
// retryable remote errors with jittered backoff, and optionally falls back
// to the local provider.
type Router struct {
	providers  map[string]Provider
	byTask     map[TaskType]string
	maxRetries int
	fallback   bool
}

// NewRouter builds a Router over pre-constructed providers.
func NewRouter(providers map[string]Provider, cfg config.RouterConfig) *Router {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Router{
		providers: providers,
		byTask: map[TaskType]string{
			TaskPlanning:    cfg.PlanningProvider,
			TaskStructuring: cfg.StructuringProvider,
			TaskDefault:     cfg.DefaultProvider,
		},
		maxRetries: maxRetries,
		fallback:   cfg.EnableLocalFallback,
	}
}

// NewRouterFromConfig constructs OpenAI-compatible providers for every
// configured endpoint and wires them into a Router. API keys come from the
// environment variable each provider names, never from the config file.
func NewRouterFromConfig(cfg config.RouterConfig) *Router {
	providers := make(map[string]Provider, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		providers[name] = NewOpenAI(OpenAIConfig{
			APIKey:  os.Getenv(pc.APIKeyEnv),
			BaseURL: pc.BaseURL,
			Model:   pc.Model,
			Timeout: pc.Timeout,
		})
	}
	return NewRouter(providers, cfg)
}

// HasProvider reports whether the task type resolves to a configured
// provider.
func (r *Router) HasProvider(task TaskType) bool {
	_, ok := r.providers[r.providerName(task)]
	return ok
}

// Complete resolves the provider for the task type and runs the request.
// Retryable remote errors are retried with jittered exponential backoff;
// validation-class errors surface immediately. When the primary exhausts
// its attempts on a retryable error and local fallback is enabled, one
// attempt goes to the "local" provider.
func (r *Router) Complete(ctx context.Context, task TaskType, req CompletionRequest) (*CompletionResponse, error) {
	name := r.providerName(task)
	provider, ok := r.providers[name]
	if !ok {
		return nil, kerrors.NotFound("no provider configured for task type %q", task)
	}

	resp, err := r.complete(ctx, provider, req)
	if err == nil {
		return resp, nil
	}

	if r.fallback && name != localProviderName && kerrors.IsRetryable(err) {
		if local, ok := r.providers[localProviderName]; ok {
			observability.WithTrace(ctx).Warn("llm: primary provider exhausted, trying local fallback",
				"task", string(task), "provider", name, "err", err)
			return local.Complete(ctx, req)
		}
	}
	return nil, err
}

func (r *Router) complete(ctx context.Context, provider Provider, req CompletionRequest) (*CompletionResponse, error) {
	var resp *CompletionResponse
	err := retry.Do(ctx, retry.Config{
		MaxAttempts:  r.maxRetries,
		InitialDelay: 500 * time.Millisecond,
		Jitter:       true,
		ShouldRetry:  kerrors.IsRetryable,
	}, func() error {
		var err error
		resp, err = provider.Complete(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (r *Router) providerName(task TaskType) string {
	if name := r.byTask[task]; name != "" {
		return name
	}
	return r.byTask[TaskDefault]
}
