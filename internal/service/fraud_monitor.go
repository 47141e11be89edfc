package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/salvagebid/internal/domain"
	"github.com/alanyoungcy/salvagebid/internal/fraud"
	"github.com/alanyoungcy/salvagebid/internal/metrics"
)

// FraudMonitor runs the fraud detector after an accepted bid and records new
// alerts. It never blocks or rejects bids.
type FraudMonitor struct {
	detector *fraud.Detector
	alerts   domain.FraudStore
	bids     domain.BidStore
	vendors  domain.VendorStore
	cases    domain.CaseStore
	queue    domain.NotificationQueue
	ins      *metrics.Instruments
	now      Clock
	logger   *slog.Logger
}

// NewFraudMonitor creates a FraudMonitor.
func NewFraudMonitor(
	detector *fraud.Detector,
	alerts domain.FraudStore,
	bids domain.BidStore,
	vendors domain.VendorStore,
	cases domain.CaseStore,
	queue domain.NotificationQueue,
	ins *metrics.Instruments,
	logger *slog.Logger,
) *FraudMonitor {
	return &FraudMonitor{
		detector: detector,
		alerts:   alerts,
		bids:     bids,
		vendors:  vendors,
		cases:    cases,
		queue:    queue,
		ins:      ins,
		now:      systemClock,
		logger:   logger.With(slog.String("component", "fraud_monitor")),
	}
}

// SetClock overrides the monitor clock.
func (m *FraudMonitor) SetClock(c Clock) { m.now = c }

// Scan inspects the auction's history after latest was accepted. Patterns
// already open for the (auction, vendor) pair are not raised again. It
// returns the alert it created, if any.
func (m *FraudMonitor) Scan(ctx context.Context, a domain.Auction, latest domain.Bid) (*domain.FraudAlert, error) {
	history, err := m.bids.ListByAuction(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("fraud: load bids %s: %w", a.ID, err)
	}
	ids := make([]string, 0, len(history))
	seen := make(map[string]bool)
	for _, b := range history {
		if !seen[b.VendorID] {
			seen[b.VendorID] = true
			ids = append(ids, b.VendorID)
		}
	}
	vendors, err := m.vendors.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fraud: load vendors: %w", err)
	}
	estimated := decimal.Zero
	if c, err := m.cases.Get(ctx, a.CaseID); err == nil {
		estimated = c.EstimatedValue
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("fraud: load case %s: %w", a.CaseID, err)
	}

	matches := m.detector.Detect(ctx, fraud.Input{
		Auction:        a,
		Bids:           history,
		Vendors:        vendors,
		EstimatedValue: estimated,
		Latest:         latest,
	})
	if len(matches) == 0 {
		return nil, nil
	}

	open, err := m.alerts.OpenPatterns(ctx, a.ID, latest.VendorID)
	if err != nil {
		return nil, fmt.Errorf("fraud: open patterns: %w", err)
	}
	already := make(map[domain.FraudPattern]bool, len(open))
	for _, p := range open {
		already[p] = true
	}

	alert := domain.FraudAlert{
		ID:        uuid.NewString(),
		AuctionID: a.ID,
		VendorID:  latest.VendorID,
		BidAmount: latest.Amount,
		Evidence:  make(map[string]any),
		Status:    domain.AlertOpen,
		FlaggedAt: m.now(),
	}
	for _, match := range matches {
		if already[match.Pattern] {
			continue
		}
		already[match.Pattern] = true
		alert.Patterns = append(alert.Patterns, match.Pattern)
		alert.Evidence[string(match.Pattern)] = match.Evidence
	}
	if len(alert.Patterns) == 0 {
		return nil, nil
	}

	if err := m.alerts.Create(ctx, alert); err != nil {
		return nil, fmt.Errorf("fraud: create alert: %w", err)
	}
	for _, p := range alert.Patterns {
		if m.ins != nil {
			m.ins.FraudAlerts.Add(ctx, 1, metricsPattern(p))
		}
	}
	if err := m.vendors.IncrementCounters(ctx, latest.VendorID, domain.VendorCounters{FraudFlags: 1}); err != nil {
		m.logger.WarnContext(ctx, "fraud: increment flags failed",
			slog.String("vendor_id", latest.VendorID),
			slog.String("error", err.Error()),
		)
	}

	m.logger.WarnContext(ctx, "fraud alert raised",
		slog.String("alert_id", alert.ID),
		slog.String("auction_id", a.ID),
		slog.String("vendor_id", latest.VendorID),
		slog.Any("patterns", alert.Patterns),
	)

	patterns := make([]string, len(alert.Patterns))
	for i, p := range alert.Patterns {
		patterns[i] = string(p)
	}
	err = m.queue.Enqueue(ctx, domain.Notification{
		ID:       uuid.NewString(),
		UserID:   domain.OpsRecipient,
		Template: domain.TemplateFraudAlert,
		Payload: map[string]any{
			"alert_id":   alert.ID,
			"auction_id": a.ID,
			"vendor_id":  latest.VendorID,
			"amount":     latest.Amount.String(),
			"patterns":   patterns,
		},
		EnqueuedAt: m.now(),
		Budget:     time.Minute,
	})
	if err != nil {
		m.logger.WarnContext(ctx, "fraud: ops alert failed",
			slog.String("alert_id", alert.ID),
			slog.String("error", err.Error()),
		)
	}
	return &alert, nil
}
