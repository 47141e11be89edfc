package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/salvagebid/internal/domain"
	"github.com/alanyoungcy/salvagebid/internal/metrics"
)

// DispatcherConfig tunes the outbox consumer.
type DispatcherConfig struct {
	Workers      int
	BatchSize    int
	PollInterval time.Duration
	// Backlog is how far back the first read reaches, so a restart picks up
	// notifications queued shortly before it.
	Backlog         time.Duration
	RetryInitial    time.Duration
	RetryMaxElapsed time.Duration
}

func (c *DispatcherConfig) defaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 64
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.Backlog <= 0 {
		c.Backlog = 5 * time.Minute
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 500 * time.Millisecond
	}
	if c.RetryMaxElapsed <= 0 {
		c.RetryMaxElapsed = 30 * time.Second
	}
}

// PollResult summarises one batch.
type PollResult struct {
	Delivered int
	Failed    int
	Degraded  int
}

// lane is one consumer of the outbox stream. The urgent lane takes
// notifications with a delivery budget and the normal lane takes the rest, so
// a slow retry on one side never holds a batch on the other.
type lane struct {
	name    string
	urgent  bool
	workers int
	lastID  string
}

// Dispatcher drains the outbox stream and hands each notification to the
// gateway, retrying failures with exponential backoff.
type Dispatcher struct {
	bus     domain.SignalBus
	gateway domain.NotificationGateway
	ins     *metrics.Instruments
	cfg     DispatcherConfig
	logger  *slog.Logger
	now     func() time.Time
	urgent  *lane
	normal  *lane
}

// NewDispatcher creates a Dispatcher reading OutboxStream from bus.
func NewDispatcher(bus domain.SignalBus, gateway domain.NotificationGateway, ins *metrics.Instruments, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	cfg.defaults()
	return &Dispatcher{
		bus:     bus,
		gateway: gateway,
		ins:     ins,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "dispatcher")),
		now:     time.Now,
		// Budgeted notices in one batch are delivered side by side.
		urgent: &lane{name: "urgent", urgent: true, workers: cfg.BatchSize},
		normal: &lane{name: "normal", workers: cfg.Workers},
	}
}

// SetClock overrides the clock used for latency measurement.
func (d *Dispatcher) SetClock(now func() time.Time) { d.now = now }

// Run polls both lanes until ctx is cancelled. A full batch is followed
// immediately by another poll of the same lane.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.InfoContext(ctx, "dispatcher started",
		slog.Int("workers", d.cfg.Workers),
		slog.Duration("poll_interval", d.cfg.PollInterval),
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, l := range []*lane{d.urgent, d.normal} {
		g.Go(func() error { return d.runLane(gctx, l) })
	}
	err := g.Wait()
	d.logger.InfoContext(ctx, "dispatcher stopped")
	return err
}

func (d *Dispatcher) runLane(ctx context.Context, l *lane) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		_, read, err := d.pollLane(ctx, l)
		if err != nil && ctx.Err() == nil {
			d.logger.ErrorContext(ctx, "dispatcher: poll failed",
				slog.String("lane", l.name),
				slog.String("error", err.Error()),
			)
		}
		if err == nil && read == d.cfg.BatchSize {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll reads one batch per lane after the last processed entries and
// delivers them. Results of both lanes are summed.
func (d *Dispatcher) Poll(ctx context.Context) (PollResult, error) {
	var total PollResult
	for _, l := range []*lane{d.urgent, d.normal} {
		res, _, err := d.pollLane(ctx, l)
		if err != nil {
			return total, err
		}
		total.Delivered += res.Delivered
		total.Failed += res.Failed
		total.Degraded += res.Degraded
	}
	return total, nil
}

// pollLane delivers the lane's share of one batch and reports how many
// stream entries it consumed.
func (d *Dispatcher) pollLane(ctx context.Context, l *lane) (PollResult, int, error) {
	if l.lastID == "" {
		l.lastID = fmt.Sprintf("%d-0", d.now().Add(-d.cfg.Backlog).UnixMilli())
	}
	msgs, err := d.bus.StreamRead(ctx, OutboxStream, l.lastID, d.cfg.BatchSize)
	if err != nil {
		return PollResult{}, 0, fmt.Errorf("dispatcher: read outbox: %w", err)
	}
	if len(msgs) == 0 {
		return PollResult{}, 0, nil
	}

	outcomes := make([]*outcome, len(msgs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for i, m := range msgs {
		var n domain.Notification
		if err := json.Unmarshal(m.Payload, &n); err != nil {
			// Malformed entries are reported once, by the normal lane.
			if !l.urgent {
				d.logger.ErrorContext(ctx, "dispatcher: malformed outbox entry",
					slog.String("stream_id", m.ID),
					slog.String("error", err.Error()),
				)
				outcomes[i] = &outcome{failed: true}
			}
			continue
		}
		if (n.Budget > 0) != l.urgent {
			continue
		}
		g.Go(func() error {
			o := d.deliver(gctx, n)
			outcomes[i] = &o
			return nil
		})
	}
	_ = g.Wait()
	l.lastID = msgs[len(msgs)-1].ID

	var res PollResult
	for _, o := range outcomes {
		if o == nil {
			continue
		}
		if o.failed {
			res.Failed++
		} else {
			res.Delivered++
		}
		if o.degraded {
			res.Degraded++
		}
	}
	return res, len(msgs), nil
}

type outcome struct {
	failed   bool
	degraded bool
}

// retryPolicy bounds retries of a budgeted notification by what is left of
// its budget. One already past it gets a single attempt.
func (d *Dispatcher) retryPolicy(n domain.Notification) backoff.BackOff {
	maxElapsed := d.cfg.RetryMaxElapsed
	if n.Budget > 0 {
		remaining := n.Budget - d.now().Sub(n.EnqueuedAt)
		if remaining <= 0 {
			return &backoff.StopBackOff{}
		}
		maxElapsed = min(maxElapsed, remaining)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.RetryInitial
	b.MaxElapsedTime = maxElapsed
	return b
}

func (d *Dispatcher) deliver(ctx context.Context, n domain.Notification) outcome {
	var result domain.DeliveryResult
	op := func() error {
		r, err := d.gateway.Notify(ctx, n.UserID, n.Template, n.Payload)
		if errors.Is(err, ErrUnknownTemplate) {
			return backoff.Permanent(err)
		}
		if err != nil {
			return err
		}
		result = r
		return nil
	}
	err := backoff.RetryNotify(op, backoff.WithContext(d.retryPolicy(n), ctx), func(err error, wait time.Duration) {
		d.logger.DebugContext(ctx, "dispatcher: delivery attempt failed",
			slog.String("notification_id", n.ID),
			slog.Duration("retry_in", wait),
			slog.String("error", err.Error()),
		)
	})

	elapsed := d.now().Sub(n.EnqueuedAt)
	tpl := metrics.KeyTemplate.String(string(n.Template))
	if d.ins != nil {
		d.ins.DeliveryLatency.Record(ctx, elapsed.Seconds(), metric.WithAttributes(tpl))
		metrics.MetricIncrCounter(ctx, err, d.ins.Notifications, tpl, metrics.KeyChannel.String(result.Channel))
	}

	out := outcome{failed: err != nil}
	if err != nil {
		d.logger.ErrorContext(ctx, "dispatcher: notification undelivered",
			slog.String("notification_id", n.ID),
			slog.String("user_id", n.UserID),
			slog.String("template", string(n.Template)),
			slog.String("error", err.Error()),
		)
	} else if result.FallbackUsed {
		d.logger.InfoContext(ctx, "dispatcher: delivered via fallback",
			slog.String("notification_id", n.ID),
			slog.String("channel", result.Channel),
		)
	}
	if n.Budget > 0 && (err != nil || elapsed > n.Budget) {
		out.degraded = true
		d.logger.WarnContext(ctx, "sla degraded",
			slog.String("what", string(n.Template)),
			slog.String("user_id", n.UserID),
			slog.Duration("elapsed", elapsed),
			slog.Duration("budget", n.Budget),
		)
		if d.ins != nil {
			d.ins.SLABreaches.Add(ctx, 1, metric.WithAttributes(metrics.KeyBudget.String(string(n.Template))))
		}
	}
	return out
}
