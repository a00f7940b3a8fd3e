package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/onnwee/slack-scheduler/schedule"
	"github.com/onnwee/slack-scheduler/telemetry"
)

// DefaultInterval is the tick period when Dispatcher.Interval is unset.
const DefaultInterval = 5 * time.Second

// Dispatcher scans the queue on a fixed interval and delivers due messages.
// Failed deliveries stay pending and are attempted again on the next tick,
// without a retry cap.
type Dispatcher struct {
	Queue       *schedule.Queue
	Credentials schedule.CredentialStore
	Deliverer   *Deliverer
	Interval    time.Duration
	// Limiter paces deliveries within a tick; nil means unpaced.
	Limiter *rate.Limiter
	// Now defaults to time.Now.
	Now func() time.Time

	mu sync.Mutex // ticks never overlap
}

// TickReport summarises one tick.
type TickReport struct {
	Skipped   bool // no credential stored
	Due       int
	Delivered int
	Failed    int
}

// Run ticks once immediately and then every Interval until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	interval := d.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	log := slog.Default().With(slog.String("component", "dispatch"))
	log.Info("dispatcher starting", slog.Duration("interval", interval))

	d.runTick(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("dispatcher stopped")
			return
		case <-ticker.C:
			d.runTick(ctx)
		}
	}
}

func (d *Dispatcher) runTick(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("dispatch tick panicked", slog.Any("panic", p), slog.String("component", "dispatch"))
		}
	}()
	if _, err := d.Tick(ctx); err != nil {
		slog.Warn("dispatch tick failed", slog.Any("err", err), slog.String("component", "dispatch"))
	}
}

// Tick performs one scan-and-deliver pass. A storage error aborts the tick
// and is returned; delivery failures are not errors. The queue is written
// at most once, and only when at least one message was delivered.
func (d *Dispatcher) Tick(ctx context.Context) (TickReport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, span := telemetry.StartSpan(ctx, "dispatch.tick")
	defer span.End()
	start := time.Now()
	defer func() {
		if telemetry.DispatchTickDuration != nil {
			telemetry.DispatchTickDuration.Observe(time.Since(start).Seconds())
		}
	}()
	log := slog.Default().With(slog.String("component", "dispatch"))

	var report TickReport
	cred, err := d.Credentials.LoadCredential(ctx)
	if err != nil {
		telemetry.RecordTick(telemetry.TickStoreError)
		telemetry.RecordError(span, err)
		return report, fmt.Errorf("load credential: %w", err)
	}
	if cred == nil {
		report.Skipped = true
		telemetry.RecordTick(telemetry.TickNoCredential)
		log.Debug("no slack credential stored; skipping tick")
		return report, nil
	}

	msgs, err := d.Queue.Snapshot(ctx)
	if err != nil {
		telemetry.RecordTick(telemetry.TickStoreError)
		telemetry.RecordError(span, err)
		return report, err
	}

	now := d.now()
	current := *cred
	var sent []string
	for _, m := range msgs {
		if !m.Due(now) {
			continue
		}
		report.Due++
		if d.Limiter != nil {
			if err := d.Limiter.Wait(ctx); err != nil {
				// ctx cancelled; remaining messages wait for the next run
				break
			}
		}
		var ok bool
		ok, current = d.deliverOne(ctx, current, m)
		if ok {
			sent = append(sent, m.ID)
			report.Delivered++
		} else {
			report.Failed++
		}
	}
	telemetry.SetPendingMessages(len(schedule.Pending(msgs)) - len(sent))
	span.SetAttributes(
		attribute.Int("due", report.Due),
		attribute.Int("delivered", report.Delivered),
		attribute.Int("failed", report.Failed),
	)

	if len(sent) > 0 {
		// Delivered messages are recorded even when shutdown has begun.
		if _, err := d.Queue.MarkSent(context.WithoutCancel(ctx), sent); err != nil {
			telemetry.RecordTick(telemetry.TickStoreError)
			telemetry.RecordError(span, err)
			return report, err
		}
	}
	telemetry.RecordTick(telemetry.TickOK)
	telemetry.SetSpanSuccess(span)
	if report.Due > 0 {
		log.Info("dispatch tick complete",
			slog.Int("due", report.Due),
			slog.Int("delivered", report.Delivered),
			slog.Int("failed", report.Failed))
	}
	return report, nil
}

// deliverOne isolates a single message: a panic is logged and counted as a
// failed attempt.
func (d *Dispatcher) deliverOne(ctx context.Context, cred schedule.Credential, m schedule.Message) (ok bool, next schedule.Credential) {
	log := slog.Default().With(
		slog.String("component", "dispatch"),
		slog.String("message_id", m.ID),
		slog.String("channel", m.Channel),
	)
	defer func() {
		if p := recover(); p != nil {
			log.Error("scheduled delivery panicked", slog.Any("panic", p))
			ok, next = false, cred
		}
	}()

	res, next := d.Deliverer.Deliver(ctx, PathScheduled, cred, m.Channel, m.Text)
	if err := resultError(res); err != nil {
		log.Warn("failed to send scheduled message; will retry next tick",
			slog.String("outcome", res.Outcome.String()),
			slog.Any("err", err))
		return false, next
	}
	log.Info("scheduled message sent", slog.Time("send_at", m.SendAt), slog.String("ts", res.TS))
	return true, next
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}
