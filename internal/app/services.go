package app

import (
	"log/slog"

	"github.com/alanyoungcy/salvagebid/internal/config"
	"github.com/alanyoungcy/salvagebid/internal/domain"
	"github.com/alanyoungcy/salvagebid/internal/fraud"
	"github.com/alanyoungcy/salvagebid/internal/notify"
	"github.com/alanyoungcy/salvagebid/internal/service"
)

// Services is the application layer built over Dependencies.
type Services struct {
	Directory  *service.Directory
	Ledger     *service.Ledger
	Monitor    *service.FraudMonitor
	Bids       *service.BidProcessor
	Settlement *service.Settlement
	Lifecycle  *service.Lifecycle
	Admin      *service.AdminService
}

// BuildServices wires the services in dependency order: ledger, fraud
// monitor, settlement, then the bid processor and lifecycle that use them.
func BuildServices(cfg *config.Config, deps *Dependencies, logger *slog.Logger) *Services {
	queue := notify.NewQueue(deps.Bus)
	tiers := cfg.TierCeilings()
	extension := cfg.Extension()
	mode := domain.SettlementMode(cfg.Settlement.Mode)

	ledger := service.NewLedger(deps.Wallets, deps.Locks, deps.Metrics, service.LedgerConfig{
		LockTTL:  cfg.Bid.LockTTL.Duration,
		LockWait: cfg.Bid.LockWait.Duration,
	}, logger)

	disabled := make([]domain.FraudPattern, 0, len(cfg.Fraud.Disabled))
	for _, p := range cfg.Fraud.Disabled {
		disabled = append(disabled, domain.FraudPattern(p))
	}
	detector := fraud.NewDetector(fraud.DefaultRegistry(fraud.Config{
		JumpMultiple:      cfg.Fraud.JumpMultiple.Decimal,
		AlternationMin:    cfg.Fraud.AlternationMin,
		AlternationWindow: cfg.Fraud.AlternationWindow.Duration,
	}), disabled, logger)
	monitor := service.NewFraudMonitor(detector, deps.Fraud, deps.Bids, deps.Vendors, deps.Cases, queue, deps.Metrics, logger)

	settlement := service.NewSettlement(service.SettlementDeps{
		Payments: deps.Payments,
		Auctions: deps.Auctions,
		Cases:    deps.Cases,
		Ledger:   ledger,
		Gateway:  deps.Gateway,
		Bus:      deps.Bus,
		Queue:    queue,
		Audit:    deps.Audit,
		Metrics:  deps.Metrics,
	}, service.SettlementConfig{
		Mode:               mode,
		PaymentWindow:      cfg.Settlement.PaymentWindow.Duration,
		PickupValidity:     cfg.Settlement.PickupValidity.Duration,
		Beneficiary:        cfg.Settlement.BeneficiaryRecipient,
		TransferMaxElapsed: cfg.Settlement.TransferMaxElapsed.Duration,
	}, logger)

	bids := service.NewBidProcessor(service.BidProcessorDeps{
		Auctions: deps.Auctions,
		Vendors:  deps.Vendors,
		Ledger:   ledger,
		Monitor:  monitor,
		Locks:    deps.Locks,
		Limiter:  deps.Limiter,
		Bus:      deps.Bus,
		Queue:    queue,
		Cache:    deps.Cache,
		Metrics:  deps.Metrics,
	}, service.BidConfig{
		LockTTL:         cfg.Bid.LockTTL.Duration,
		LockWait:        cfg.Bid.LockWait.Duration,
		RateLimit:       cfg.Bid.RateLimit,
		RateWindow:      cfg.Bid.RateWindow.Duration,
		Tiers:           tiers,
		Extension:       extension,
		Settlement:      mode,
		BroadcastBudget: cfg.Bid.BroadcastBudget.Duration,
		OutbidBudget:    cfg.Bid.OutbidBudget.Duration,
	}, logger)

	lifecycle := service.NewLifecycle(service.LifecycleDeps{
		Auctions: deps.Auctions,
		Bids:     deps.Bids,
		Cases:    deps.Cases,
		Vendors:  deps.Vendors,
		Payments: deps.Payments,
		Ledger:   ledger,
		Settler:  settlement,
		Locks:    deps.Locks,
		Bus:      deps.Bus,
		Queue:    queue,
		Cache:    deps.Cache,
		Audit:    deps.Audit,
		Metrics:  deps.Metrics,
	}, service.LifecycleConfig{
		Duration:         cfg.Auction.Duration.Duration,
		MinimumIncrement: cfg.Auction.MinimumIncrement.Decimal,
		Tiers:            tiers,
		Settlement:       mode,
		LockTTL:          cfg.Bid.LockTTL.Duration,
		LockWait:         cfg.Bid.LockWait.Duration,
		SettleLookback:   cfg.Auction.SettleLookback.Duration,
	}, logger)

	return &Services{
		Directory:  service.NewDirectory(deps.Cases, deps.Vendors, deps.Wallets, logger),
		Ledger:     ledger,
		Monitor:    monitor,
		Bids:       bids,
		Settlement: settlement,
		Lifecycle:  lifecycle,
		Admin:      service.NewAdminService(deps.Fraud, deps.Vendors, deps.Audit, lifecycle, settlement, cfg.Admin.MinJustification, logger),
	}
}
