package validation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	dErrors "cachet/pkg/domain-errors"

	"cachet/internal/audit"
	"cachet/internal/validation/metrics"
	"cachet/pkg/domain"
	"cachet/pkg/platform/circuit"
	"cachet/pkg/platform/sentinel"
	"cachet/pkg/requestcontext"
)

// Plan names which validator kinds run for each stage.
type Plan map[string][]Kind

// DefaultPlan runs identity checks first and clearance checks at
// eligibility.
func DefaultPlan() Plan {
	return Plan{
		"identity_verification": {KindPopulationRegistry, KindBiometricMatch},
		"eligibility_check":     {KindCriminalRecord, KindTravelDocDirectory},
	}
}

// Config bounds each validator call. The attempt timeout is per network
// round trip, distinct from the overall retry budget.
type Config struct {
	AttemptTimeout time.Duration
	MaxAttempts    int
	BackoffBase    time.Duration
	// BreakerCoolOff is how long an opened validator circuit sheds before
	// trial calls reach the validator again.
	BreakerCoolOff time.Duration
	Plan           Plan
}

func DefaultConfig() Config {
	return Config{
		AttemptTimeout: 2 * time.Second,
		MaxAttempts:    3,
		BackoffBase:    100 * time.Millisecond,
		BreakerCoolOff: 30 * time.Second,
		Plan:           DefaultPlan(),
	}
}

// ValidateRequest identifies the application stage being validated. Force
// skips the stored aggregate and re-calls the validators.
type ValidateRequest struct {
	ApplicantID   domain.ApplicantID
	ApplicationID domain.ApplicationID
	Stage         string
	Fields        map[string]string
	Force         bool
}

// Orchestrator fans one stage's checks out to the registered validators,
// applies retry, breaker and outage-tolerance policy, and stores the
// aggregate.
type Orchestrator struct {
	validators map[Kind][]Validator
	breakers   map[string]*circuit.Breaker
	attempts   AttemptStore
	outcomes   OutcomeStore
	cache      PriorResultCache
	audit      *audit.Recorder
	metrics    *metrics.Metrics
	logger     *slog.Logger
	tracer     trace.Tracer
	cfg        Config
}

type Option func(*Orchestrator)

func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) { o.cfg = cfg }
}

func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithPriorResultCache enables the tolerated-outage policy for the
// population registry. Without a cache every hard error blocks.
func WithPriorResultCache(c PriorResultCache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

func NewOrchestrator(validators []Validator, attempts AttemptStore, outcomes OutcomeStore, recorder *audit.Recorder, m *metrics.Metrics, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		validators: make(map[Kind][]Validator),
		breakers:   make(map[string]*circuit.Breaker),
		attempts:   attempts,
		outcomes:   outcomes,
		audit:      recorder,
		metrics:    m,
		logger:     logger,
		tracer:     noop.NewTracerProvider().Tracer("validation"),
		cfg:        DefaultConfig(),
	}
	for _, opt := range opts {
		opt(o)
	}
	for _, v := range validators {
		o.validators[v.Kind()] = append(o.validators[v.Kind()], v)
		o.breakers[v.ID()] = circuit.New(v.ID(), circuit.WithCoolOff(o.cfg.BreakerCoolOff))
	}
	return o
}

// Validate runs every validator the plan names for the stage, in parallel,
// and returns the aggregate. A stored aggregate for this application+stage
// is returned as-is unless req.Force is set. A definitive not_verified from
// any validator short-circuits the join; everything gathered so far is still
// committed atomically with the aggregate.
func (o *Orchestrator) Validate(ctx context.Context, req ValidateRequest) (AggregateOutcome, error) {
	if !req.Force {
		stored, err := o.outcomes.GetOutcome(ctx, req.ApplicationID, req.Stage)
		if err == nil {
			o.metrics.IncCacheHit(req.Stage)
			return stored, nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return AggregateOutcome{}, dErrors.Wrap(dErrors.CodeInternal, "loading stored outcome", err)
		}
	}

	kinds, ok := o.cfg.Plan[req.Stage]
	if !ok {
		return AggregateOutcome{}, dErrors.New(dErrors.CodeInvalidInput,
			fmt.Sprintf("stage %s has no validation plan", req.Stage))
	}
	var runners []Validator
	for _, kind := range kinds {
		vs := o.validators[kind]
		if len(vs) == 0 {
			// No adapter registered for a planned kind fails closed: the
			// aggregate carries a hard error instead of silently passing.
			runners = append(runners, unavailableValidator{kind: kind})
			continue
		}
		runners = append(runners, vs...)
	}

	ctx, span := o.tracer.Start(ctx, "validation.validate",
		trace.WithAttributes(
			attribute.String("application.id", req.ApplicationID.String()),
			attribute.String("stage", req.Stage),
			attribute.Int("validators", len(runners)),
		))
	defer span.End()

	results := make([]Outcome, len(runners))
	allAttempts := make([][]Attempt, len(runners))

	// Partial results are buffered here and only written after the join so
	// an aborted caller never leaves half a stage's evidence behind.
	group, groupCtx := errgroup.WithContext(ctx)
	for i, v := range runners {
		group.Go(func() error {
			outcome, tries := o.callOne(groupCtx, v, req)
			results[i] = outcome
			allAttempts[i] = tries
			if outcome.Result == ResultNotVerified {
				// Definitive negative: stop waiting on the rest.
				return errDefinitiveNegative
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, errDefinitiveNegative) {
		return AggregateOutcome{}, err
	}
	if err := ctx.Err(); err != nil {
		// Caller aborted mid-flight: commit nothing.
		return AggregateOutcome{}, err
	}

	aggregate := AggregateOutcome{
		ApplicationID: req.ApplicationID,
		Stage:         req.Stage,
		Outcomes:      o.applyOutagePolicy(ctx, req, results),
		CompletedAt:   requestcontext.Now(ctx),
	}

	for _, tries := range allAttempts {
		for _, attempt := range tries {
			if err := o.attempts.SaveAttempt(ctx, attempt); err != nil {
				o.logger.ErrorContext(ctx, "saving verification attempt",
					"application_id", req.ApplicationID, "validator", attempt.Validator, "error", err)
			}
		}
	}
	if err := o.outcomes.SaveOutcome(ctx, aggregate); err != nil {
		return AggregateOutcome{}, dErrors.Wrap(dErrors.CodeInternal, "storing aggregate outcome", err)
	}

	for _, outcome := range aggregate.Outcomes {
		o.metrics.IncOutcome(string(outcome.Kind), string(outcome.Result))
	}
	o.audit.Record(ctx, audit.Event{
		EntityType: audit.EntityApplication,
		EntityID:   req.ApplicationID.String(),
		Action:     audit.ActionValidatorCalled,
		After:      audit.Snapshot(aggregate),
	})
	return aggregate, nil
}

var errDefinitiveNegative = errors.New("definitive negative")

// callOne runs one validator with per-attempt timeout, exponential backoff
// and the breaker. A not_verified answer is definitive and never retried; a
// transport failure retries until the attempt budget runs out and then
// becomes a hard error outcome.
func (o *Orchestrator) callOne(ctx context.Context, v Validator, req ValidateRequest) (Outcome, []Attempt) {
	ctx, span := o.tracer.Start(ctx, "validation.check",
		trace.WithAttributes(
			attribute.String("validator.id", v.ID()),
			attribute.String("validator.kind", string(v.Kind())),
		))
	defer span.End()

	outcome := Outcome{Validator: v.ID(), Kind: v.Kind()}
	breaker := o.breakers[v.ID()]

	if breaker != nil && breaker.IsOpen() {
		o.metrics.IncShed(v.ID())
		outcome.Result = ResultError
		return outcome, nil
	}

	call := Request{
		ApplicantID:   req.ApplicantID,
		ApplicationID: req.ApplicationID,
		Stage:         req.Stage,
		Fields:        req.Fields,
	}
	reqSnapshot := audit.Snapshot(struct {
		ApplicantID string            `json:"applicantId"`
		Stage       string            `json:"stage"`
		Fields      map[string]string `json:"fields"`
	}{req.ApplicantID.String(), req.Stage, req.Fields})

	var attempts []Attempt
	for try := 0; try < o.cfg.MaxAttempts; try++ {
		if try > 0 {
			backoff := o.cfg.BackoffBase << (try - 1)
			select {
			case <-ctx.Done():
				outcome.Result = ResultError
				outcome.Attempts = try
				return outcome, attempts
			case <-time.After(backoff):
			}
		}

		started := time.Now()
		attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.AttemptTimeout)
		resp, err := v.Check(attemptCtx, call)
		cancel()

		attempt := Attempt{
			ID:            domain.NewAttemptID(),
			ApplicationID: req.ApplicationID,
			Validator:     v.ID(),
			Kind:          v.Kind(),
			Stage:         req.Stage,
			Request:       reqSnapshot,
			RetryCount:    try,
			StartedAt:     started,
			CompletedAt:   time.Now(),
		}

		if err != nil {
			attempt.Result = ResultError
			attempt.Response = audit.Snapshot(struct {
				Error string `json:"error"`
			}{err.Error()})
			attempts = append(attempts, attempt)
			o.logger.WarnContext(ctx, "validator attempt failed",
				"validator", v.ID(), "attempt", try+1, "error", err)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		attempt.Result = resp.Result
		attempt.Confidence = resp.Confidence
		attempt.Response = resp.RawPayload
		attempts = append(attempts, attempt)

		if breaker != nil {
			if _, change := breaker.RecordSuccess(); change.Closed {
				o.logger.InfoContext(ctx, "validator circuit closed", "validator", v.ID())
			}
		}
		outcome.Result = resp.Result
		outcome.Confidence = resp.Confidence
		outcome.Attempts = try + 1
		if len(resp.RawPayload) > 0 {
			outcome.RawRef = attempt.ID.String()
		}
		return outcome, attempts
	}

	// A caller-side cancellation says nothing about the validator's health.
	if breaker != nil && ctx.Err() == nil {
		if shed, change := breaker.RecordFailure(); shed && change.Opened {
			o.logger.ErrorContext(ctx, "validator circuit opened", "validator", v.ID())
		}
	}
	o.metrics.IncExhausted(v.ID())
	outcome.Result = ResultError
	outcome.Attempts = len(attempts)
	return outcome, attempts
}

// applyOutagePolicy substitutes a cached prior verified result for a
// population registry hard error when one is still inside its validity
// window. Criminal record and biometric errors always stand: they block at
// the exit predicate.
func (o *Orchestrator) applyOutagePolicy(ctx context.Context, req ValidateRequest, results []Outcome) []Outcome {
	out := make([]Outcome, 0, len(results))
	for _, outcome := range results {
		switch {
		case outcome.Kind == KindPopulationRegistry && outcome.Result == ResultError && o.cache != nil:
			prior, found, err := o.cache.PriorVerified(ctx, req.ApplicantID, outcome.Kind)
			if err != nil {
				o.logger.WarnContext(ctx, "prior result cache unavailable", "error", err)
			}
			if found {
				prior.Validator = outcome.Validator
				prior.FromCache = true
				prior.Attempts = outcome.Attempts
				out = append(out, prior)
				o.metrics.IncOutageTolerated(string(outcome.Kind))
				o.logger.InfoContext(ctx, "registry outage tolerated via prior verified result",
					"applicant_id", req.ApplicantID)
				continue
			}
			out = append(out, outcome)

		case outcome.Result == ResultVerified && o.cache != nil:
			if err := o.cache.StoreVerified(ctx, req.ApplicantID, outcome.Kind, outcome); err != nil {
				o.logger.WarnContext(ctx, "caching verified result", "error", err)
			}
			out = append(out, outcome)

		default:
			out = append(out, outcome)
		}
	}
	return out
}

// Attempts exposes the per-call records for an application, read-only.
func (o *Orchestrator) Attempts(ctx context.Context, applicationID domain.ApplicationID) ([]Attempt, error) {
	return o.attempts.ListAttempts(ctx, applicationID)
}

// unavailableValidator stands in for a planned kind with no registered
// adapter.
type unavailableValidator struct {
	kind Kind
}

func (u unavailableValidator) ID() string { return "unconfigured-" + string(u.kind) }
func (u unavailableValidator) Kind() Kind { return u.kind }
func (u unavailableValidator) Check(context.Context, Request) (Response, error) {
	return Response{}, errors.New("no adapter registered")
}
