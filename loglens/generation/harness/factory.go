package harness

import (
	"context"
	"time"

	"github.com/ZanzyTHEbar/loglens/loglens/config"
	"github.com/ZanzyTHEbar/loglens/loglens/conversation"
	"github.com/ZanzyTHEbar/loglens/loglens/generation/harness/adapters"
	ports "github.com/ZanzyTHEbar/loglens/loglens/generation/harness/ports"
	"github.com/rs/zerolog"
)

// Factory creates and wires harness components from configuration.
type Factory struct {
	cfg    *config.Config
	logger zerolog.Logger
}

// NewFactory creates a new harness factory.
func NewFactory(cfg *config.Config, logger zerolog.Logger) *Factory {
	return &Factory{cfg: cfg, logger: logger}
}

// CreateStore creates the conversation store. The caller owns its lifecycle.
func (f *Factory) CreateStore() *conversation.Store {
	s := f.cfg.Session
	return conversation.NewStore(conversation.StoreConfig{
		MaxRounds:     s.MaxRounds,
		MaxSessions:   s.MaxSessions,
		TTL:           s.TTL,
		SweepInterval: s.SweepInterval,
	}, f.logger)
}

// CreateProvider creates the DashScope completion client.
func (f *Factory) CreateProvider() (*adapters.DashScopeProvider, error) {
	q := f.cfg.Qwen
	return adapters.NewDashScopeProvider(adapters.DashScopeConfig{
		APIURL:         q.APIURL,
		APIKey:         q.APIKey,
		ConnectTimeout: q.ConnectTimeout,
	}, f.logger)
}

// CreateOrchestrator creates a fully wired Orchestrator. A nil provider is
// replaced by the configured DashScope client.
func (f *Factory) CreateOrchestrator(provider ports.Provider, store ports.SessionStore) (*Orchestrator, error) {
	if provider == nil {
		p, err := f.CreateProvider()
		if err != nil {
			return nil, err
		}
		provider = p
	}

	q := f.cfg.Qwen
	return NewOrchestrator(Dependencies{
		Provider:   provider,
		Store:      store,
		Builder:    NewPromptBuilder(TemplatesFromConfig(q.Prompt)),
		Guardrails: f.CreateGuardrails(),
		Parser:     NewOutputParser(),
		Cache:      f.createCache(),
		CacheTTL:   time.Duration(f.cfg.Harness.CacheTTLSeconds) * time.Second,
		Limiter:    f.createRateLimiter(),
		Tracer:     f.createTracer(),
		Metrics:    NewMetricsCollector(),
	}, f.CreatePolicy(), ModelOptions{
		Model:       q.Model,
		Temperature: q.Temperature,
		TopP:        q.TopP,
	}, f.logger.With().Str("component", "analysis").Logger())
}

// TemplatesFromConfig maps the prompt section to builder templates.
func TemplatesFromConfig(p config.PromptConfig) Templates {
	return Templates{First: p.First, FollowUp: p.Follow}
}

// CreateGuardrails creates guardrails from config.
func (f *Factory) CreateGuardrails() *Guardrails {
	return NewGuardrails(f.cfg.Qwen.Prompt.Marker, f.cfg.Harness.MaxInputSize)
}

// CreatePolicy creates a retry policy from config, clamping invalid values.
func (f *Factory) CreatePolicy() Policy {
	policy := Policy{
		RetryCount:     f.cfg.Qwen.Retry.Count,
		RetryDelay:     f.cfg.Qwen.Retry.Delay,
		AttemptTimeout: f.cfg.Qwen.RequestTimeout,
	}

	if policy.RetryCount < 0 {
		f.logger.Warn().Int("retry_count", policy.RetryCount).Msg("RetryCount clamped to minimum of 0")
		policy.RetryCount = 0
	}
	if policy.RetryDelay < 0 {
		f.logger.Warn().Dur("retry_delay", policy.RetryDelay).Msg("RetryDelay clamped to minimum of 0")
		policy.RetryDelay = 0
	}
	if policy.AttemptTimeout <= 0 {
		policy.AttemptTimeout = DefaultPolicy().AttemptTimeout
		f.logger.Warn().Dur("attempt_timeout", policy.AttemptTimeout).Msg("AttemptTimeout not set, using default")
	}

	return policy
}

func (f *Factory) createCache() ports.Cache {
	if !f.cfg.Harness.CacheEnabled {
		return noOpCache{}
	}
	return adapters.NewLRUCache(f.cfg.Harness.CacheCapacity)
}

func (f *Factory) createRateLimiter() ports.RateLimiter {
	if !f.cfg.Harness.RateLimitEnabled {
		return noOpRateLimiter{}
	}
	return adapters.NewTokenBucket(f.cfg.Harness.RateLimitCapacity, f.cfg.Harness.RateLimitRefillRate)
}

func (f *Factory) createTracer() ports.Tracer {
	if !f.cfg.Harness.EnableTracing {
		return noOpTracer{}
	}
	return adapters.NewZerologTracer(f.logger.With().Str("component", "trace").Logger())
}

// noOpCache is used when the cache is disabled.
type noOpCache struct{}

func (noOpCache) Get(ctx context.Context, key string) ([]byte, bool) { return nil, false }
func (noOpCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}
func (noOpCache) Delete(ctx context.Context, key string) error { return nil }

type noOpRateLimiter struct{}

func (noOpRateLimiter) Acquire(ctx context.Context, key string) (release func(), err error) {
	return func() {}, nil
}

type noOpTracer struct{}

func (noOpTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	return ctx, func(err error) {}
}

func (noOpTracer) Event(ctx context.Context, name string, attrs map[string]any) {}

var (
	_ ports.Cache       = noOpCache{}
	_ ports.RateLimiter = noOpRateLimiter{}
	_ ports.Tracer      = noOpTracer{}
)
