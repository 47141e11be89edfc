// Package notify delivers templated notifications to vendors and to the
// operations channel. Each message is rendered once and offered to the
// channels of a ChannelPolicy in order until one accepts it.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

// Channel names recognised by policies.
const (
	ChannelPush  = "push"
	ChannelSMS   = "sms"
	ChannelEmail = "email"
	ChannelOps   = "ops"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a rendered message.
	Send(ctx context.Context, msg Message) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// ChannelPolicy is an ordered list of channels: Primary first, then each
// fallback.
type ChannelPolicy struct {
	Primary   string   `toml:"primary"`
	Fallbacks []string `toml:"fallbacks"`
}

func (p ChannelPolicy) chain() []string {
	out := make([]string, 0, 1+len(p.Fallbacks))
	if p.Primary != "" {
		out = append(out, p.Primary)
	}
	for _, f := range p.Fallbacks {
		if f != "" && f != p.Primary {
			out = append(out, f)
		}
	}
	return out
}

// DefaultPolicy sends push first and falls back to SMS then email.
func DefaultPolicy() ChannelPolicy {
	return ChannelPolicy{Primary: ChannelPush, Fallbacks: []string{ChannelSMS, ChannelEmail}}
}

// Gateway implements domain.NotificationGateway over a set of Senders keyed
// by channel.
type Gateway struct {
	senders   map[string]Sender
	policy    ChannelPolicy
	overrides map[domain.NotificationTemplate]ChannelPolicy
	logger    *slog.Logger
	now       func() time.Time
}

// NewGateway creates a Gateway using policy for every template that has no
// entry in overrides. Messages for domain.OpsRecipient always go to the ops
// channel.
func NewGateway(policy ChannelPolicy, overrides map[string]ChannelPolicy, logger *slog.Logger) *Gateway {
	if len(policy.chain()) == 0 {
		policy = DefaultPolicy()
	}
	ov := make(map[domain.NotificationTemplate]ChannelPolicy, len(overrides))
	for tpl, p := range overrides {
		ov[domain.NotificationTemplate(tpl)] = p
	}
	return &Gateway{
		senders:   make(map[string]Sender),
		policy:    policy,
		overrides: ov,
		logger:    logger.With(slog.String("component", "notifier")),
		now:       time.Now,
	}
}

// Register binds sender to channel, replacing any previous binding.
func (g *Gateway) Register(channel string, sender Sender) {
	g.senders[channel] = sender
}

// SetClock overrides the clock used when rendering relative times.
func (g *Gateway) SetClock(now func() time.Time) { g.now = now }

func (g *Gateway) policyFor(userID string, tpl domain.NotificationTemplate) ChannelPolicy {
	if userID == domain.OpsRecipient {
		return ChannelPolicy{Primary: ChannelOps}
	}
	if p, ok := g.overrides[tpl]; ok && len(p.chain()) > 0 {
		return p
	}
	return g.policy
}

// Notify renders the template and tries each channel of the applicable
// policy in order. A sender failure moves on to the next channel; the call
// fails only when every channel failed.
func (g *Gateway) Notify(ctx context.Context, userID string, tpl domain.NotificationTemplate, payload map[string]any) (domain.DeliveryResult, error) {
	msg, err := Render(userID, tpl, payload, g.now())
	if err != nil {
		return domain.DeliveryResult{}, err
	}

	var errs []error
	for i, ch := range g.policyFor(userID, tpl).chain() {
		s, ok := g.senders[ch]
		if !ok {
			errs = append(errs, fmt.Errorf("%s: no sender configured", ch))
			continue
		}
		if err := s.Send(ctx, msg); err != nil {
			g.logger.WarnContext(ctx, "sender failed",
				slog.String("channel", ch),
				slog.String("sender", s.Name()),
				slog.String("template", string(tpl)),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", ch, err))
			continue
		}
		g.logger.DebugContext(ctx, "notification sent",
			slog.String("channel", ch),
			slog.String("user_id", userID),
			slog.String("template", string(tpl)),
		)
		return domain.DeliveryResult{Success: true, FallbackUsed: i > 0, Channel: ch}, nil
	}
	if len(errs) == 0 {
		errs = append(errs, errors.New("empty channel policy"))
	}
	return domain.DeliveryResult{}, fmt.Errorf("notify: %s to %s undelivered: %w", tpl, userID, errors.Join(errs...))
}

var _ domain.NotificationGateway = (*Gateway)(nil)
