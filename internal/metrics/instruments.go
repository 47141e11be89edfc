package metrics

import (
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Instruments are the counters recorded by the services.
type Instruments struct {
	BidsAccepted    metric.Int64Counter
	BidsRejected    metric.Int64Counter
	BidConflicts    metric.Int64Counter
	FraudAlerts     metric.Int64Counter
	SLABreaches     metric.Int64Counter
	Scans           metric.Int64Counter
	LedgerMutations metric.Int64Counter
	Notifications   metric.Int64Counter
	Transfers       metric.Int64Counter
	DeliveryLatency metric.Float64Histogram
}

// New creates the instruments on meter.
func New(meter metric.Meter) (*Instruments, error) {
	var errs []error
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}
	ins := &Instruments{
		BidsAccepted:    counter("salvage_bids_accepted_total", "Accepted bids"),
		BidsRejected:    counter("salvage_bids_rejected_total", "Rejected bids by reason"),
		BidConflicts:    counter("salvage_bid_conflicts_total", "Bids that could not enter the auction's exclusive section in time"),
		FraudAlerts:     counter("salvage_fraud_alerts_total", "Fraud alerts raised by pattern"),
		SLABreaches:     counter("salvage_sla_breaches_total", "Best-effort deliveries that exceeded their budget"),
		Scans:           counter("salvage_scans_total", "Periodic scan runs"),
		LedgerMutations: counter("salvage_ledger_mutations_total", "Wallet ledger entries by type"),
		Notifications:   counter("salvage_notifications_total", "Notification deliveries by template"),
		Transfers:       counter("salvage_transfers_total", "Beneficiary fund release attempts"),
	}
	h, err := meter.Float64Histogram("salvage_delivery_latency_seconds",
		metric.WithDescription("Time from enqueue to delivery"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.25, 0.5, 1, 2, 5, 10, 30))
	errs = append(errs, err)
	ins.DeliveryLatency = h
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return ins, nil
}

// Default creates the instruments on the global meter provider. Before Setup
// runs the global provider is a no-op, which is what tests get.
func Default() *Instruments {
	ins, err := New(otel.Meter("github.com/alanyoungcy/salvagebid"))
	if err != nil {
		panic(err)
	}
	return ins
}
