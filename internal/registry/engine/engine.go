// Package engine implements the identity operations of the registry. Every
// operation opens one provenance Context, performs its entity mutations and
// records one Transaction per kind of entity it changed, all inside a single
// store transaction: the mutation and its audit trail commit or roll back
// together.
package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"idregistry/internal/platform/metrics"
	"idregistry/internal/provenance"
	"idregistry/internal/registry/store"
	"idregistry/pkg/domerrors"
)

// Publisher receives committed operations for downstream consumers. It must
// never block the calling operation; failures are the publisher's problem.
type Publisher interface {
	PublishOperation(ctx context.Context, opCtx provenance.Context, txns []provenance.Transaction)
}

// ExclusionInvalidator is notified after the matching exclusion list changes
// so read-side caches can refresh.
type ExclusionInvalidator interface {
	Invalidate(ctx context.Context)
}

// Engine is the identity operations engine.
type Engine struct {
	store     store.Store
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	publisher Publisher
	cache     ExclusionInvalidator
	now       func() time.Time
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithPublisher streams committed operations to an external sink.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithExclusionInvalidator refreshes exclusion caches after blacklist changes.
func WithExclusionInvalidator(inv ExclusionInvalidator) Option {
	return func(e *Engine) { e.cache = inv }
}

// WithClock overrides the commit-time clock. Test hook.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New builds an engine over the given store.
func New(st store.Store, logger *slog.Logger, m *metrics.Metrics, opts ...Option) *Engine {
	e := &Engine{
		store:   st,
		logger:  logger,
		metrics: m,
		tracer:  otel.Tracer("idregistry/engine"),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// recorder accumulates the entity-level changes of one operation. One
// Transaction is recorded per distinct (entity, change) pair, in the order
// changes first happened.
type recorder struct {
	seen    map[[2]string]bool
	changes []change
}

type change struct {
	entity provenance.EntityKind
	kind   provenance.ChangeKind
}

func (r *recorder) record(entity provenance.EntityKind, kind provenance.ChangeKind) {
	key := [2]string{string(entity), string(kind)}
	if r.seen[key] {
		return
	}
	r.seen[key] = true
	r.changes = append(r.changes, change{entity: entity, kind: kind})
}

// run executes one identity operation: it opens a Context, lets fn mutate
// the entity store while recording changes, then writes one Transaction per
// recorded change. All of it commits atomically or not at all.
func (e *Engine) run(ctx context.Context, op provenance.Operation, params map[string]any, fn func(ctx context.Context, rec *recorder) error) error {
	ctx, span := e.tracer.Start(ctx, string(op))
	defer span.End()

	args, err := provenance.EncodeArgs(params)
	if err != nil {
		return err
	}

	commitTime := e.now()
	opCtx := provenance.Context{
		CUID:      provenance.NewCUID(),
		Operation: op,
		Timestamp: commitTime,
	}
	rec := &recorder{seen: make(map[[2]string]bool)}

	var recorded []provenance.Transaction
	err = e.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := e.store.AddContext(ctx, &opCtx); err != nil {
			return err
		}
		if err := fn(ctx, rec); err != nil {
			return err
		}
		recorded = recorded[:0]
		for _, c := range rec.changes {
			txn := provenance.Transaction{
				TUID:      provenance.NewTUID(),
				Change:    c.kind,
				Entity:    c.entity,
				ContextID: &opCtx.CUID,
				Timestamp: commitTime,
				Args:      args,
			}
			if err := e.store.AddTransaction(ctx, &txn); err != nil {
				return err
			}
			recorded = append(recorded, txn)
		}
		return nil
	})
	if err != nil {
		e.metrics.OperationFailed(string(op))
		e.logger.WarnContext(ctx, "operation failed",
			"operation", string(op),
			"code", string(domerrors.CodeOf(err)),
			"error", err.Error(),
		)
		return err
	}

	e.metrics.OperationSucceeded(string(op))
	for _, c := range rec.changes {
		e.metrics.TransactionRecorded(string(c.entity), string(c.kind))
	}
	e.logger.InfoContext(ctx, "operation committed",
		"operation", string(op),
		"cuid", opCtx.CUID,
		"transactions", len(rec.changes),
	)

	if e.publisher != nil {
		e.publisher.PublishOperation(ctx, opCtx, recorded)
	}
	return nil
}

// validateTerm rejects nil, empty or whitespace-only required string fields.
func validateTerm(field, value string) error {
	if value == "" {
		return domerrors.New(domerrors.CodeInvalidValue, "%q cannot be empty", field)
	}
	if strings.TrimSpace(value) == "" {
		return domerrors.New(domerrors.CodeInvalidValue, "%q cannot be composed by whitespaces only", field)
	}
	return nil
}

// hasContent reports whether an optional identity field carries usable data.
func hasContent(p *string) bool {
	return p != nil && strings.TrimSpace(*p) != ""
}
