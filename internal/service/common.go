// Package service implements the auction core: the bid processor, auction
// lifecycle, wallet ledger, payment settlement and admin commands.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/metric"

	"github.com/alanyoungcy/salvagebid/internal/domain"
	"github.com/alanyoungcy/salvagebid/internal/metrics"
)

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }

// newULID returns a lexicographically sortable ID stamped with now.
func newULID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}

func auctionLockKey(id string) string { return "lock:auction:" + id }
func walletLockKey(id string) string  { return "lock:wallet:" + id }

// publishEvent marshals ev and publishes it to the auction's channel. It
// reports how long the publish took so callers can check their budget.
func publishEvent(ctx context.Context, bus domain.SignalBus, ev domain.AuctionEvent) (time.Duration, error) {
	start := time.Now()
	payload, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("marshal event: %w", err)
	}
	err = bus.Publish(ctx, domain.AuctionChannel(ev.AuctionID), payload)
	return time.Since(start), err
}

func auctionEvent(typ string, a domain.Auction, now time.Time) domain.AuctionEvent {
	return domain.AuctionEvent{
		Type:           typ,
		AuctionID:      a.ID,
		VendorID:       a.CurrentBidderID,
		Amount:         a.CurrentBid,
		EndTime:        a.EndTime,
		ExtensionCount: a.ExtensionCount,
		Status:         a.Status,
		MinimumNextBid: a.MinimumNextBid(),
		OccurredAt:     now,
	}
}

// audit writes an audit record and logs rather than returns a failure.
func audit(ctx context.Context, store domain.AuditStore, logger *slog.Logger, event, actor string, detail map[string]any) {
	if store == nil {
		return
	}
	if err := store.Log(ctx, event, actor, detail); err != nil {
		logger.WarnContext(ctx, "audit: log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func scanAttrs(name string) metric.AddOption {
	return metric.WithAttributes(metrics.KeyScan.String(name))
}

func metricsPattern(p domain.FraudPattern) metric.AddOption {
	return metric.WithAttributes(metrics.KeyPattern.String(string(p)))
}
