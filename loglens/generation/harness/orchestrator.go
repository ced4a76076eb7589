package harness

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/loglens/loglens/conversation"
	ports "github.com/ZanzyTHEbar/loglens/loglens/generation/harness/ports"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

// ErrEmptyAnswer is returned when the endpoint answers with blank text.
var ErrEmptyAnswer = fmt.Errorf("empty completion text: %w", ports.ErrMalformedResponse)

// logInputRunes is how much of an input is written to the request log.
const logInputRunes = 200

// ModelOptions are the sampling settings sent with every completion request.
type ModelOptions struct {
	Model       string
	Temperature float32
	TopP        float32
}

// Dependencies are the collaborators of an Orchestrator. Provider and Store
// are required; the rest fall back to no-op or default implementations.
type Dependencies struct {
	Provider   ports.Provider
	Store      ports.SessionStore
	Builder    *PromptBuilder
	Guardrails *Guardrails
	Parser     *OutputParser
	Cache      ports.Cache
	CacheTTL   time.Duration
	Limiter    ports.RateLimiter
	Tracer     ports.Tracer
	Metrics    *MetricsCollector
}

// Orchestrator runs one analysis per call: validate, classify the round,
// build the prompt, call the endpoint with retry, normalize and commit.
type Orchestrator struct {
	provider ports.Provider
	store    ports.SessionStore
	builder  *PromptBuilder
	guard    *Guardrails
	parser   *OutputParser
	cache    ports.Cache
	cacheTTL time.Duration
	limiter  ports.RateLimiter
	tracer   ports.Tracer
	metrics  *MetricsCollector

	policy Policy
	model  ModelOptions
	logger zerolog.Logger

	newTraceID func() string
}

// NewOrchestrator creates an orchestrator with dependencies.
func NewOrchestrator(deps Dependencies, policy Policy, model ModelOptions, logger zerolog.Logger) (*Orchestrator, error) {
	if deps.Provider == nil {
		return nil, errors.New("harness: provider is required")
	}
	if deps.Store == nil {
		return nil, errors.New("harness: session store is required")
	}
	if policy.RetryCount < 0 {
		return nil, fmt.Errorf("harness: retry count must not be negative, got %d", policy.RetryCount)
	}

	o := &Orchestrator{
		provider:   deps.Provider,
		store:      deps.Store,
		builder:    deps.Builder,
		guard:      deps.Guardrails,
		parser:     deps.Parser,
		cache:      deps.Cache,
		cacheTTL:   deps.CacheTTL,
		limiter:    deps.Limiter,
		tracer:     deps.Tracer,
		metrics:    deps.Metrics,
		policy:     policy,
		model:      model,
		logger:     logger,
		newTraceID: func() string { return "TRACE_" + uuid.NewString() },
	}
	if o.builder == nil {
		o.builder = NewPromptBuilder(Templates{First: Placeholder, FollowUp: Placeholder})
	}
	if o.guard == nil {
		o.guard = NewGuardrails("", DefaultMaxInputSize)
	}
	if o.parser == nil {
		o.parser = NewOutputParser()
	}
	if o.cache == nil {
		o.cache = noOpCache{}
	}
	if o.limiter == nil {
		o.limiter = noOpRateLimiter{}
	}
	if o.tracer == nil {
		o.tracer = noOpTracer{}
	}
	if o.metrics == nil {
		o.metrics = NewMetricsCollector()
	}
	return o, nil
}

// Builder exposes the prompt builder so templates can be reloaded.
func (o *Orchestrator) Builder() *PromptBuilder { return o.builder }

// Metrics returns the collector the orchestrator records into.
func (o *Orchestrator) Metrics() *MetricsCollector { return o.metrics }

// Policy returns the retry policy in use.
func (o *Orchestrator) Policy() Policy { return o.policy }

// Analyze sends text to the completion endpoint in the context of sessionID
// and returns the structured outcome. It never returns a Go error: every
// failure is reported through Result.Code and Result.Message.
func (o *Orchestrator) Analyze(ctx context.Context, text, sessionID string) Result {
	start := time.Now()
	traceID := o.newTraceID()
	logger := o.logger.With().Str("trace_id", traceID).Logger()

	ctx, finish := o.tracer.StartSpan(ctx, "analyze", map[string]any{"trace_id": traceID})

	run := analysisRun{sessionID: sessionID}
	answer, err := o.analyze(ctx, &run, logger, text)
	finish(err)

	var res Result
	if err != nil {
		res = Failure(err)
	} else {
		res = Success(answer)
	}
	res.SessionID = run.sessionID
	res.TraceID = traceID

	elapsed := time.Since(start)
	o.metrics.RecordAnalysis(res.Code, run.attempts, elapsed)

	event := logger.Info()
	if err != nil {
		event = logger.Warn().Err(err)
	}
	event.
		Str("session_id", res.SessionID).
		Int("code", res.Code).
		Int("attempts", run.attempts).
		Dur("duration", elapsed).
		Msg("analysis finished")

	return res
}

// analysisRun carries per-request state out of analyze.
type analysisRun struct {
	sessionID string
	attempts  int
}

func (o *Orchestrator) analyze(ctx context.Context, run *analysisRun, logger zerolog.Logger, text string) (string, error) {
	if err := o.guard.ValidateNotBlank(text); err != nil {
		return "", err
	}
	input := strings.TrimSpace(text)

	// A blank id always starts a new session, so reject a bad first round
	// before it takes a slot in the store.
	if strings.TrimSpace(run.sessionID) == "" {
		run.sessionID = ""
		if err := o.guard.ValidateInput(input, true); err != nil {
			return "", err
		}
	}

	session := o.store.GetOrCreate(run.sessionID)
	run.sessionID = session.ID
	firstRound := session.IsFirstRound()

	logger.Info().
		Str("session_id", session.ID).
		Bool("first_round", firstRound).
		Str("input", truncateRunes(input, logInputRunes)).
		Msg("analysis started")

	if err := o.guard.ValidateInput(input, firstRound); err != nil {
		return "", err
	}

	prompt := o.builder.Build(input, session.BuildContextText(), firstRound, map[string]string{
		"session_id": session.ID,
		"round":      roundName(firstRound),
	})

	answer, err := o.completeCached(ctx, run, logger, prompt, firstRound)
	if err != nil {
		return "", err
	}
	answer = o.parser.Normalize(answer)

	o.store.Append(session.ID,
		conversation.UserMessage(input),
		conversation.AssistantMessage(answer),
	)
	return answer, nil
}

// completeCached serves first-round prompts from the cache when possible.
// Follow-up answers depend on history and are never cached.
func (o *Orchestrator) completeCached(ctx context.Context, run *analysisRun, logger zerolog.Logger, prompt ports.PromptInput, firstRound bool) (string, error) {
	if !firstRound {
		return o.complete(ctx, run, logger, prompt)
	}

	key := o.cacheKey(prompt)
	if cached, ok := o.cache.Get(ctx, key); ok {
		o.metrics.RecordCacheHit()
		o.tracer.Event(ctx, "cache_hit", map[string]any{"key": key})
		return string(cached), nil
	}

	answer, err := o.complete(ctx, run, logger, prompt)
	if err != nil {
		return "", err
	}
	if err := o.cache.Set(ctx, key, []byte(answer), o.cacheTTL); err != nil {
		o.tracer.Event(ctx, "cache_error", map[string]any{"error": err.Error()})
	}
	return answer, nil
}

// complete calls the provider, retrying transport failures with a constant
// delay. The whole loop is bounded by the policy budget.
func (o *Orchestrator) complete(ctx context.Context, run *analysisRun, logger zerolog.Logger, prompt ports.PromptInput) (string, error) {
	callCtx := ctx
	if budget := o.policy.Budget(); budget > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	opts := ports.Options{
		Model:       o.model.Model,
		Temperature: o.model.Temperature,
		TopP:        o.model.TopP,
		TimeoutMs:   int(o.policy.AttemptTimeout / time.Millisecond),
	}

	// NewConstant panics on a non-positive interval.
	delay := max(o.policy.RetryDelay, time.Nanosecond)
	backoff := retry.WithMaxRetries(uint64(o.policy.RetryCount), retry.NewConstant(delay))

	var answer string
	err := retry.Do(callCtx, backoff, func(ctx context.Context) error {
		run.attempts++
		attempt := run.attempts

		text, err := o.attempt(ctx, prompt, opts)
		if err == nil {
			answer = text
			return nil
		}
		if errors.Is(err, ports.ErrMalformedResponse) {
			return err
		}

		logger.Warn().Err(err).
			Int("attempt", attempt).
			Int("max_attempts", o.policy.Attempts()).
			Msg("completion attempt failed")
		return retry.RetryableError(err)
	})
	if err == nil {
		return answer, nil
	}

	switch {
	case ctx.Err() != nil:
		return "", &AnalysisError{Kind: KindInterrupted, Message: MsgRetryInterrupted, Err: err}
	case errors.Is(err, ports.ErrMalformedResponse):
		return "", &AnalysisError{Kind: KindProtocol, Message: MsgMalformedResponse, Err: err}
	default:
		return "", &AnalysisError{Kind: KindTransport, Message: MsgRemoteCallFailed, Err: err}
	}
}

// attempt makes one provider call. A rate limiter denial fails the attempt.
func (o *Orchestrator) attempt(ctx context.Context, prompt ports.PromptInput, opts ports.Options) (string, error) {
	release, err := o.limiter.Acquire(ctx, "completion")
	if err != nil {
		o.metrics.RecordRateLimited()
		return "", fmt.Errorf("acquire rate limit: %w", err)
	}
	defer release()

	ctx, finish := o.tracer.StartSpan(ctx, "provider_call", map[string]any{"model": opts.Model})
	completion, err := o.provider.Complete(ctx, prompt, opts)
	if err == nil && strings.TrimSpace(completion.Text) == "" {
		err = ErrEmptyAnswer
	}
	finish(err)
	if err != nil {
		return "", err
	}

	if completion.Usage != nil {
		o.tracer.Event(ctx, "usage", map[string]any{
			"request_id":    completion.RequestID,
			"total_tokens":  completion.Usage.TotalTokens,
			"output_tokens": completion.Usage.OutputTokens,
		})
	}
	return completion.Text, nil
}

// cacheKey hashes the model and the rendered prompt.
func (o *Orchestrator) cacheKey(prompt ports.PromptInput) string {
	h := sha256.New()
	h.Write([]byte(o.model.Model))
	for _, m := range prompt.Messages {
		h.Write([]byte{0})
		h.Write([]byte(m.Role))
		h.Write([]byte{0})
		h.Write([]byte(m.Content))
	}
	return "completion:" + hex.EncodeToString(h.Sum(nil))
}

func roundName(firstRound bool) string {
	if firstRound {
		return "first"
	}
	return "follow_up"
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
