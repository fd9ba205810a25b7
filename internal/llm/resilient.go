package llm

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/companion-relay/pkg/logger"
	"github.com/capitalize-ai/companion-relay/pkg/metrics"
)

// Policy tunes the resilient client.
type Policy struct {
	// AttemptTimeouts bounds each attempt on one credential/model; its length
	// is the attempt cap. Only timeouts move on to the next, longer budget.
	AttemptTimeouts []time.Duration
	// OverallBudget bounds a whole Complete call, zero for none.
	OverallBudget time.Duration
	// MaxDisplayLength is the longest reply in runes, zero for no limit.
	MaxDisplayLength int
	// NetworkAsRateLimit reports connection failures as KindRateLimited.
	NetworkAsRateLimit bool
	// MoreDetailHint follows the ellipsis of a shortened reply.
	MoreDetailHint string
}

// DefaultPolicy returns the text-mode policy.
func DefaultPolicy() Policy {
	return Policy{
		AttemptTimeouts:    []time.Duration{8 * time.Second, 12 * time.Second},
		OverallBudget:      25 * time.Second,
		MaxDisplayLength:   1200,
		NetworkAsRateLimit: true,
		MoreDetailHint:     "(Ask me to continue if you'd like more detail.)",
	}
}

// ImagePolicy returns the policy used when a request carries an image.
func ImagePolicy() Policy {
	p := DefaultPolicy()
	p.AttemptTimeouts = []time.Duration{15 * time.Second, 25 * time.Second}
	return p
}

// ResilientClient fails over between credentials and models, retrying
// timeouts with escalating budgets. It holds no per-call state and is safe
// for concurrent use.
type ResilientClient struct {
	factory Factory
	policy  Policy
	log     *logger.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// NewResilientClient creates a client using DefaultPolicy.
func NewResilientClient(factory Factory, log *logger.Logger) *ResilientClient {
	if factory == nil {
		factory = DefaultFactory()
	}
	return &ResilientClient{
		factory: factory,
		policy:  DefaultPolicy(),
		log:     logger.OrNop(log),
		tracer:  otel.Tracer("github.com/capitalize-ai/companion-relay/internal/llm"),
		now:     time.Now,
	}
}

// WithPolicy returns a copy of c using p.
func (c *ResilientClient) WithPolicy(p Policy) *ResilientClient {
	cp := *c
	cp.policy = p
	return &cp
}

// Complete produces one reply for in. Credentials are tried in order; on a
// credential, models are tried in order while failures are specific to the
// model (unavailable, malformed reply, server error). Attempts are strictly
// sequential.
func (c *ResilientClient) Complete(ctx context.Context, in CompletionInput, credentials []CredentialSlot, models []string) Outcome {
	out := c.complete(ctx, in, credentials, models)
	if out.OK() {
		metrics.RecordOutcome("success")
	} else {
		metrics.RecordOutcome(string(out.Err().Kind))
	}
	return out
}

func (c *ResilientClient) complete(ctx context.Context, in CompletionInput, credentials []CredentialSlot, models []string) Outcome {
	creds := ValidCredentials(credentials)
	if len(creds) == 0 {
		c.log.Error("no valid upstream credentials configured", zap.Int("configured", len(credentials)))
		return Fail(&Failure{Kind: KindConfiguration, Err: ErrNoCredentials})
	}

	if c.policy.OverallBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.policy.OverallBudget)
		defer cancel()
	}

	var last *Failure
	for _, cred := range creds {
		candidates := models
		if cred.Model != "" {
			candidates = []string{cred.Model}
		}
		if len(candidates) == 0 {
			last = &Failure{Kind: KindConfiguration, Credential: cred.Label, Err: errors.New("no models configured")}
			continue
		}

		client, err := c.factory(cred)
		if err != nil {
			last = &Failure{Kind: KindConfiguration, Credential: cred.Label, Err: err}
			continue
		}

		for _, m := range candidates {
			resp, f := c.attempts(ctx, client, cred, in, m)
			if f == nil {
				metrics.RecordTokens(m, resp.TokensIn, resp.TokensOut)
				return Success(c.finish(resp))
			}
			last = f
			if !f.tryNextModel {
				break
			}
		}

		if ctx.Err() != nil {
			break
		}
	}

	return Fail(last)
}

// attempts runs up to len(AttemptTimeouts) attempts on one credential/model.
func (c *ResilientClient) attempts(ctx context.Context, client Client, cred CredentialSlot, in CompletionInput, m string) (*CompletionResponse, *Failure) {
	steps := c.policy.AttemptTimeouts
	if len(steps) == 0 {
		steps = DefaultPolicy().AttemptTimeouts
	}

	var (
		resp    *CompletionResponse
		failure *Failure
		n       int
	)
	op := func() error {
		step := steps[n]
		n++
		resp, failure = c.attempt(ctx, client, cred, in, m, step, n)
		if failure == nil {
			return nil
		}
		if failure.Kind == KindTimeout && ctx.Err() == nil {
			return failure
		}
		return backoff.Permanent(failure)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(len(steps)-1)), ctx)
	_ = backoff.Retry(op, b)

	return resp, failure
}

func (c *ResilientClient) attempt(ctx context.Context, client Client, cred CredentialSlot, in CompletionInput, m string, step time.Duration, n int) (*CompletionResponse, *Failure) {
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < step {
			step = remaining
		}
	}
	if step <= 0 {
		return nil, &Failure{Kind: KindTimeout, Credential: cred.Label, Model: m, Err: context.DeadlineExceeded}
	}

	ctx, span := c.tracer.Start(ctx, "llm.attempt", trace.WithAttributes(
		attribute.String("llm.provider", client.Name()),
		attribute.String("llm.credential", cred.Label),
		attribute.String("llm.model", m),
		attribute.Int("llm.attempt", n),
		attribute.Int64("llm.timeout_ms", step.Milliseconds()),
	))
	defer span.End()

	attemptCtx, cancel := context.WithTimeout(ctx, step)
	defer cancel()

	start := time.Now()
	resp, err := client.Complete(attemptCtx, in.Request(m))
	elapsed := time.Since(start)

	if err == nil {
		metrics.RecordAttempt(client.Name(), cred.Label, "success", elapsed.Seconds())
		span.SetAttributes(attribute.Int("llm.tokens_out", resp.TokensOut))
		return resp, nil
	}

	f := classify(attemptCtx, err, c.policy.NetworkAsRateLimit, c.now())
	f.Credential = cred.Label
	f.Model = m

	metrics.RecordAttempt(client.Name(), cred.Label, string(f.Kind), elapsed.Seconds())
	span.RecordError(err)
	span.SetStatus(codes.Error, string(f.Kind))

	fields := []zap.Field{
		zap.String("credential", cred.Label),
		zap.String("model", m),
		zap.Int("attempt", n),
		zap.String("kind", string(f.Kind)),
		zap.Int("status", f.StatusCode),
		zap.Duration("elapsed", elapsed),
		zap.Error(err),
	}
	if f.RetryAfter != nil {
		fields = append(fields, zap.Time("retry_after", *f.RetryAfter))
	}
	c.log.Warn("upstream attempt failed", fields...)

	return nil, f
}

func (c *ResilientClient) finish(resp *CompletionResponse) string {
	text := resp.Content
	if resp.Truncated {
		text = ensureTerminated(text)
	}
	return FitDisplay(text, c.policy.MaxDisplayLength, c.policy.MoreDetailHint)
}
