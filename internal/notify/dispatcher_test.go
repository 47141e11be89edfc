package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/salvagebid/internal/cache/local"
	"github.com/alanyoungcy/salvagebid/internal/domain"
	"github.com/alanyoungcy/salvagebid/internal/metrics"
)

type flakyGateway struct {
	mu        sync.Mutex
	failures  map[string]int
	delivered []domain.Notification
	calls     int
}

func (g *flakyGateway) Notify(_ context.Context, userID string, tpl domain.NotificationTemplate, payload map[string]any) (domain.DeliveryResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.failures[userID] > 0 {
		g.failures[userID]--
		return domain.DeliveryResult{}, errors.New("provider timeout")
	}
	g.delivered = append(g.delivered, domain.Notification{UserID: userID, Template: tpl, Payload: payload})
	return domain.DeliveryResult{Success: true, Channel: ChannelPush}, nil
}

func fastRetry() DispatcherConfig {
	return DispatcherConfig{Workers: 2, RetryInitial: time.Millisecond, RetryMaxElapsed: 100 * time.Millisecond}
}

func TestDispatcher_DeliversQueuedNotifications(t *testing.T) {
	ctx := context.Background()
	bus := local.NewSignalBus(0)
	q := NewQueue(bus)
	gw := &flakyGateway{failures: map[string]int{"vendor-b": 2}}
	d := NewDispatcher(bus, gw, metrics.Default(), fastRetry(), discard())

	require.NoError(t, q.Enqueue(ctx, domain.Notification{UserID: "vendor-a", Template: domain.TemplateOutbid, Payload: map[string]any{"auction_id": "auc-1"}}))
	require.NoError(t, q.Enqueue(ctx, domain.Notification{UserID: "vendor-b", Template: domain.TemplateAuctionWon}))

	res, err := d.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, PollResult{Delivered: 2}, res)
	assert.Len(t, gw.delivered, 2)
	assert.Equal(t, 4, gw.calls, "vendor-b retried twice")

	res, err = d.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, res, "entries are not redelivered")

	require.NoError(t, q.Enqueue(ctx, domain.Notification{UserID: "vendor-c", Template: domain.TemplatePaymentDue}))
	res, err = d.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
}

func TestDispatcher_GivesUpAfterMaxElapsed(t *testing.T) {
	ctx := context.Background()
	bus := local.NewSignalBus(0)
	gw := &flakyGateway{failures: map[string]int{"vendor-a": 1 << 20}}
	d := NewDispatcher(bus, gw, metrics.Default(), fastRetry(), discard())

	require.NoError(t, NewQueue(bus).Enqueue(ctx, domain.Notification{
		UserID: "vendor-a", Template: domain.TemplateOutbid, Budget: 5 * time.Second,
	}))
	res, err := d.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, PollResult{Failed: 1, Degraded: 1}, res)
}

func TestDispatcher_LateDeliveryIsDegraded(t *testing.T) {
	ctx := context.Background()
	bus := local.NewSignalBus(0)
	gw := &flakyGateway{}
	d := NewDispatcher(bus, gw, metrics.Default(), fastRetry(), discard())
	q := NewQueue(bus)

	now := time.Now()
	require.NoError(t, q.Enqueue(ctx, domain.Notification{
		UserID: "vendor-a", Template: domain.TemplateOutbid, Budget: 5 * time.Second, EnqueuedAt: now.Add(-6 * time.Second),
	}))
	require.NoError(t, q.Enqueue(ctx, domain.Notification{
		UserID: "vendor-b", Template: domain.TemplateOutbid, Budget: 5 * time.Second, EnqueuedAt: now,
	}))
	require.NoError(t, q.Enqueue(ctx, domain.Notification{
		UserID: "vendor-c", Template: domain.TemplateAuctionWon, EnqueuedAt: now.Add(-time.Hour),
	}))

	res, err := d.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, PollResult{Delivered: 3, Degraded: 1}, res)
}

func TestDispatcher_SkipsMalformedEntries(t *testing.T) {
	ctx := context.Background()
	bus := local.NewSignalBus(0)
	gw := &flakyGateway{}
	d := NewDispatcher(bus, gw, metrics.Default(), fastRetry(), discard())

	require.NoError(t, bus.StreamAppend(ctx, OutboxStream, []byte("{not json")))
	require.NoError(t, NewQueue(bus).Enqueue(ctx, domain.Notification{UserID: "vendor-a", Template: domain.TemplateAuctionWon}))

	res, err := d.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, PollResult{Delivered: 1, Failed: 1}, res)
}

func TestDispatcher_RunStopsWithContext(t *testing.T) {
	bus := local.NewSignalBus(0)
	gw := &flakyGateway{}
	cfg := fastRetry()
	cfg.PollInterval = 5 * time.Millisecond
	d := NewDispatcher(bus, gw, metrics.Default(), cfg, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.NoError(t, NewQueue(bus).Enqueue(ctx, domain.Notification{UserID: "vendor-a", Template: domain.TemplateAuctionWon}))
	require.Eventually(t, func() bool {
		gw.mu.Lock()
		defer gw.mu.Unlock()
		return len(gw.delivered) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestDispatcher_SlowRetriesDoNotDelayBudgetedNotices(t *testing.T) {
	bus := local.NewSignalBus(0)
	gw := &flakyGateway{failures: map[string]int{"vendor-slow": 1 << 20, "vendor-x": 1 << 20}}
	cfg := DispatcherConfig{
		Workers:         1,
		BatchSize:       2,
		PollInterval:    5 * time.Millisecond,
		RetryInitial:    10 * time.Millisecond,
		RetryMaxElapsed: 5 * time.Second,
	}
	d := NewDispatcher(bus, gw, metrics.Default(), cfg, discard())
	q := NewQueue(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	start := time.Now()
	require.NoError(t, q.Enqueue(ctx, domain.Notification{UserID: "vendor-slow", Template: domain.TemplateAuctionWon}))
	require.NoError(t, q.Enqueue(ctx, domain.Notification{UserID: "vendor-x", Template: domain.TemplateOutbid, Budget: 300 * time.Millisecond}))
	require.NoError(t, q.Enqueue(ctx, domain.Notification{UserID: "vendor-z", Template: domain.TemplateOutbid, Budget: 2 * time.Second}))

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	delivered := func(user string) bool {
		gw.mu.Lock()
		defer gw.mu.Unlock()
		for _, n := range gw.delivered {
			if n.UserID == user {
				return true
			}
		}
		return false
	}
	require.Eventually(t, func() bool { return delivered("vendor-z") }, 1500*time.Millisecond, 5*time.Millisecond,
		"an outbid notice waited behind another recipient's retries")
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.False(t, delivered("vendor-slow"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestDispatcher_BudgetBoundsRetryWindow(t *testing.T) {
	bus := local.NewSignalBus(0)
	gw := &flakyGateway{failures: map[string]int{"vendor-a": 1 << 20}}
	cfg := fastRetry()
	cfg.RetryMaxElapsed = 10 * time.Second
	d := NewDispatcher(bus, gw, metrics.Default(), cfg, discard())

	ctx := context.Background()
	require.NoError(t, NewQueue(bus).Enqueue(ctx, domain.Notification{
		UserID: "vendor-a", Template: domain.TemplateOutbid, Budget: 150 * time.Millisecond,
	}))
	start := time.Now()
	res, err := d.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, PollResult{Failed: 1, Degraded: 1}, res)
	assert.Less(t, time.Since(start), 2*time.Second)

	// Already past its budget: one attempt, no retries.
	require.NoError(t, NewQueue(bus).Enqueue(ctx, domain.Notification{
		UserID: "vendor-a", Template: domain.TemplateOutbid, Budget: time.Second, EnqueuedAt: time.Now().Add(-time.Minute),
	}))
	gw.mu.Lock()
	before := gw.calls
	gw.mu.Unlock()
	res, err = d.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, PollResult{Failed: 1, Degraded: 1}, res)
	gw.mu.Lock()
	assert.Equal(t, before+1, gw.calls)
	gw.mu.Unlock()
}
