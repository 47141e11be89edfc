package fraud

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

// Config tunes the built-in checks.
type Config struct {
	JumpMultiple      decimal.Decimal
	AlternationMin    int
	AlternationWindow time.Duration
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		JumpMultiple:      decimal.NewFromInt(3),
		AlternationMin:    4,
		AlternationWindow: 10 * time.Minute,
	}
}

// Detector runs the enabled checks of a registry.
type Detector struct {
	registry *Registry
	disabled map[domain.FraudPattern]bool
	logger   *slog.Logger
}

// NewDetector creates a detector over registry with the given tags disabled.
func NewDetector(registry *Registry, disabled []domain.FraudPattern, logger *slog.Logger) *Detector {
	d := &Detector{
		registry: registry,
		disabled: make(map[domain.FraudPattern]bool, len(disabled)),
		logger:   logger.With(slog.String("component", "fraud_detector")),
	}
	for _, p := range disabled {
		d.disabled[p] = true
	}
	return d
}

// Enabled returns the tags this detector runs.
func (d *Detector) Enabled() []domain.FraudPattern {
	var out []domain.FraudPattern
	for _, p := range d.registry.List() {
		if !d.disabled[p] {
			out = append(out, p)
		}
	}
	return out
}

// Detect runs every enabled check and returns the matches that implicate the
// latest bidder. A failing check is logged and skipped.
func (d *Detector) Detect(ctx context.Context, in Input) []Match {
	var out []Match
	for _, p := range d.Enabled() {
		c, err := d.registry.Get(p)
		if err != nil {
			continue
		}
		matches, err := c.Detect(ctx, in)
		if err != nil {
			d.logger.WarnContext(ctx, "fraud: check failed",
				slog.String("pattern", string(p)),
				slog.String("auction_id", in.Auction.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		for _, m := range matches {
			if m.Implicates(in.Latest.VendorID) {
				out = append(out, m)
			}
		}
	}
	return out
}
