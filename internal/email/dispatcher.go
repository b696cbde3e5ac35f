package email

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"portal-mailer/internal/common/logger"
	"portal-mailer/internal/common/metrics"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const sweepLockKey = "mailer:sweep-lock"

// Sweep skip reasons, also used as metric labels.
const (
	SkipInFlight    = "in_flight"
	SkipLockHeld    = "lock_held"
	SkipLockError   = "lock_error"
	SkipRateLimited = "rate_limited"
)

// Dispatcher renders templates and delivers them now or through the queue.
type Dispatcher struct {
	cfg       Config
	templates TemplateStore
	queue     QueueStore
	limiter   *RateLimiter
	transport Transport
	notifier  FailureNotifier
	audit     AuditSink
	locker    Locker
	logger    logger.Logger
	tracer    trace.Tracer
	now       func() time.Time
	newID     func() string

	sweepMu sync.Mutex
}

type Option func(*Dispatcher)

// WithFailureNotifier reports entries that exhaust their attempts.
func WithFailureNotifier(n FailureNotifier) Option {
	return func(d *Dispatcher) { d.notifier = n }
}

// WithAuditSink records every entry that reaches sent or failed.
func WithAuditSink(a AuditSink) Option {
	return func(d *Dispatcher) { d.audit = a }
}

// WithLocker serializes sweeps across processes.
func WithLocker(l Locker) Option {
	return func(d *Dispatcher) { d.locker = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

func NewDispatcher(cfg Config, templates TemplateStore, queue QueueStore, transport Transport, log logger.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cfg:       cfg.withDefaults(),
		templates: templates,
		queue:     queue,
		transport: transport,
		logger:    log,
		tracer:    otel.Tracer("portal-mailer/email"),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.limiter = NewRateLimiter(queue, d.cfg.HourlyLimit)
	d.limiter.now = d.now
	return d
}

// Limiter exposes the dispatcher's rate limiter.
func (d *Dispatcher) Limiter() *RateLimiter {
	return d.limiter
}

// Send delivers immediately when the hourly ceiling allows it and otherwise
// queues the message. Transport failures downgrade to queued and are not
// returned. Every successful call writes exactly one queue entry.
func (d *Dispatcher) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	ctx, span := d.tracer.Start(ctx, "email.Send", trace.WithAttributes(
		attribute.String("email.template", req.TemplateName),
	))
	defer span.End()

	canSend, err := d.limiter.CanSend(ctx)
	if err != nil {
		return d.fail(span, err)
	}

	entry, err := d.render(ctx, req)
	if err != nil {
		return d.fail(span, err)
	}

	if !canSend {
		d.logger.Info("hourly limit reached, queueing message", map[string]interface{}{
			"template": req.TemplateName,
			"entryId":  entry.ID,
		})
		return d.store(ctx, span, entry, "rate_limited")
	}

	if err := d.deliver(ctx, entry); err != nil {
		metrics.DeliveryFailures.WithLabelValues(metrics.PathImmediate).Inc()
		d.logger.Warn("immediate delivery failed, queueing message", map[string]interface{}{
			"template":  req.TemplateName,
			"entryId":   entry.ID,
			"transport": d.transport.Name(),
			"error":     err,
		})
		entry.LastError = err.Error()
		return d.store(ctx, span, entry, "delivery_failed")
	}

	sentAt := d.now()
	entry.Status = StatusSent
	entry.Attempts = 1
	entry.SentAt = &sentAt
	entry.UpdatedAt = sentAt
	if err := d.queue.Insert(ctx, entry); err != nil {
		// the message is out; only the record of it is missing
		d.logger.Error("message sent but not recorded", map[string]interface{}{
			"entryId": entry.ID,
			"error":   err,
		})
		return d.fail(span, err)
	}

	metrics.MessagesSent.WithLabelValues(metrics.PathImmediate).Inc()
	d.recordAudit(ctx, *entry)
	span.SetAttributes(attribute.String("email.outcome", string(OutcomeSent)))
	return SendResult{Outcome: OutcomeSent, EntryID: entry.ID}, nil
}

// Enqueue renders the template and stores a pending entry for the next sweep.
func (d *Dispatcher) Enqueue(ctx context.Context, req SendRequest) (SendResult, error) {
	ctx, span := d.tracer.Start(ctx, "email.Enqueue", trace.WithAttributes(
		attribute.String("email.template", req.TemplateName),
	))
	defer span.End()

	entry, err := d.render(ctx, req)
	if err != nil {
		return d.fail(span, err)
	}
	return d.store(ctx, span, entry, "deferred")
}

func (d *Dispatcher) render(ctx context.Context, req SendRequest) (*QueueEntry, error) {
	tmpl, err := d.templates.Get(ctx, req.TemplateName)
	if err != nil {
		return nil, err
	}

	subject, body := Render(tmpl, req.Variables)

	priority := d.cfg.DefaultPriority
	if req.Priority != nil {
		priority = *req.Priority
	}

	now := d.now()
	return &QueueEntry{
		ID:           d.newID(),
		TemplateName: tmpl.Name,
		Recipient:    req.Recipient,
		Subject:      subject,
		Body:         body,
		HTML:         tmpl.HTML,
		Variables:    req.Variables,
		Status:       StatusPending,
		Attempts:     0,
		MaxAttempts:  d.cfg.MaxAttempts,
		Priority:     priority,
		ScheduledAt:  now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (d *Dispatcher) store(ctx context.Context, span trace.Span, entry *QueueEntry, reason string) (SendResult, error) {
	if err := d.queue.Insert(ctx, entry); err != nil {
		return d.fail(span, err)
	}
	metrics.MessagesQueued.WithLabelValues(reason).Inc()
	span.SetAttributes(
		attribute.String("email.outcome", string(OutcomeQueued)),
		attribute.String("email.queue_reason", reason),
	)
	return SendResult{Outcome: OutcomeQueued, EntryID: entry.ID}, nil
}

func (d *Dispatcher) fail(span trace.Span, err error) (SendResult, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return SendResult{}, err
}

// deliver calls the transport, abandoning it once the delivery timeout expires.
func (d *Dispatcher) deliver(ctx context.Context, entry *QueueEntry) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.DeliveryTimeout)
	defer cancel()

	msg := Message{
		From:     d.cfg.FromAddress,
		FromName: d.cfg.FromName,
		To:       entry.Recipient,
		Subject:  entry.Subject,
		Body:     entry.Body,
		HTML:     entry.HTML,
	}

	done := make(chan error, 1)
	go func() { done <- d.transport.Deliver(ctx, msg) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w after %s: %w", ErrDeliveryTimeout, d.cfg.DeliveryTimeout, ctx.Err())
	}
}

// Sweep drains up to BatchSize due entries, re-checking the hourly ceiling before
// each one. Transport failures are recorded on the entry; store failures abort
// the sweep and are returned. Overlapping sweeps are skipped.
func (d *Dispatcher) Sweep(ctx context.Context) (SweepResult, error) {
	if !d.sweepMu.TryLock() {
		return d.skip(SkipInFlight), nil
	}
	defer d.sweepMu.Unlock()

	if d.locker != nil {
		release, ok, err := d.locker.TryLock(ctx, sweepLockKey, d.cfg.SweepLockTTL)
		if err != nil {
			d.logger.Warn("sweep lock unavailable, skipping sweep", map[string]interface{}{"error": err})
			return d.skip(SkipLockError), nil
		}
		if !ok {
			return d.skip(SkipLockHeld), nil
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				d.logger.Warn("failed to release sweep lock", map[string]interface{}{"error": err})
			}
		}()
	}

	ctx, span := d.tracer.Start(ctx, "email.Sweep")
	defer span.End()

	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	canSend, err := d.limiter.CanSend(ctx)
	if err != nil {
		span.RecordError(err)
		return SweepResult{}, err
	}
	if !canSend {
		return d.skip(SkipRateLimited), nil
	}

	entries, err := d.queue.Due(ctx, d.now(), d.cfg.BatchSize)
	if err != nil {
		span.RecordError(err)
		return SweepResult{}, err
	}

	result := SweepResult{Selected: len(entries)}
	for i := range entries {
		entry := entries[i]

		canSend, err := d.limiter.CanSend(ctx)
		if err != nil {
			span.RecordError(err)
			return result, err
		}
		if !canSend {
			result.RateLimited = true
			break
		}

		if err := d.process(ctx, &entry, &result); err != nil {
			span.RecordError(err)
			return result, err
		}
	}

	span.SetAttributes(
		attribute.Int("email.sweep.selected", result.Selected),
		attribute.Int("email.sweep.sent", result.Sent),
		attribute.Int("email.sweep.failed", result.Failed),
	)
	d.logger.Info("sweep completed", map[string]interface{}{
		"selected":    result.Selected,
		"sent":        result.Sent,
		"retried":     result.Retried,
		"failed":      result.Failed,
		"rateLimited": result.RateLimited,
	})
	return result, nil
}

// process makes one delivery attempt for a pending entry and stores the outcome.
func (d *Dispatcher) process(ctx context.Context, entry *QueueEntry, result *SweepResult) error {
	deliveryErr := d.deliver(ctx, entry)

	now := d.now()
	entry.Attempts++
	entry.UpdatedAt = now

	switch {
	case deliveryErr == nil:
		entry.Status = StatusSent
		entry.SentAt = &now
	case entry.Attempts >= entry.MaxAttempts:
		entry.Status = StatusFailed
		entry.LastError = deliveryErr.Error()
	default:
		entry.Status = StatusPending
		entry.LastError = deliveryErr.Error()
	}

	if deliveryErr != nil {
		metrics.DeliveryFailures.WithLabelValues(metrics.PathSweep).Inc()
		d.logger.Warn("queued delivery failed", map[string]interface{}{
			"entryId":     entry.ID,
			"template":    entry.TemplateName,
			"attempts":    entry.Attempts,
			"maxAttempts": entry.MaxAttempts,
			"error":       deliveryErr,
		})
	}

	if err := d.queue.Update(ctx, entry); err != nil {
		if errors.Is(err, ErrEntryNotPending) {
			d.logger.Warn("entry changed during sweep, skipping", map[string]interface{}{"entryId": entry.ID})
			return nil
		}
		return err
	}

	switch entry.Status {
	case StatusSent:
		result.Sent++
		metrics.MessagesSent.WithLabelValues(metrics.PathSweep).Inc()
		d.recordAudit(ctx, *entry)
	case StatusFailed:
		result.Failed++
		metrics.MessagesFailed.Inc()
		d.logger.Error("entry failed permanently", map[string]interface{}{
			"entryId":  entry.ID,
			"template": entry.TemplateName,
			"attempts": entry.Attempts,
		})
		if d.notifier != nil {
			if err := d.notifier.NotifyFailure(ctx, *entry); err != nil {
				d.logger.Warn("failure notification not delivered", map[string]interface{}{
					"entryId": entry.ID,
					"error":   err,
				})
			}
		}
		d.recordAudit(ctx, *entry)
	default:
		result.Retried++
	}
	return nil
}

func (d *Dispatcher) recordAudit(ctx context.Context, entry QueueEntry) {
	if d.audit == nil {
		return
	}
	if err := d.audit.Record(ctx, entry); err != nil {
		d.logger.Warn("audit record not written", map[string]interface{}{
			"entryId": entry.ID,
			"error":   err,
		})
	}
}

func (d *Dispatcher) skip(reason string) SweepResult {
	metrics.SweepsSkipped.WithLabelValues(reason).Inc()
	d.logger.Debug("sweep skipped", map[string]interface{}{"reason": reason})
	return SweepResult{Skipped: true, SkipReason: reason}
}

// PurgeExpired deletes sent and failed entries older than the retention window.
// Pending entries are never purged.
func (d *Dispatcher) PurgeExpired(ctx context.Context) (int64, error) {
	cutoff := d.now().Add(-d.cfg.Retention)

	n, err := d.queue.PurgeBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	metrics.EntriesPurged.Add(float64(n))
	d.logger.Info("retention sweep completed", map[string]interface{}{
		"purged": n,
		"cutoff": cutoff,
	})
	return n, nil
}

// Stats returns entry counts per status.
func (d *Dispatcher) Stats(ctx context.Context) (map[Status]int, error) {
	return d.queue.CountByStatus(ctx)
}
