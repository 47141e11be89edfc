package notify

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

// ErrUnknownTemplate is returned by Render for templates it has no text for.
var ErrUnknownTemplate = errors.New("notify: unknown template")

// Message is a rendered notification.
type Message struct {
	Recipient string                      `json:"recipient"`
	Template  domain.NotificationTemplate `json:"template"`
	Title     string                      `json:"title"`
	Body      string                      `json:"message"`
}

// Render produces the title and body for tpl. Payload values arrive either
// as Go values or decoded from JSON, so every lookup goes through fmt.
func Render(userID string, tpl domain.NotificationTemplate, payload map[string]any, now time.Time) (Message, error) {
	p := fields{payload: payload, now: now}
	msg := Message{Recipient: userID, Template: tpl}
	switch tpl {
	case domain.TemplateAuctionCreated:
		msg.Title = "New salvage auction"
		msg.Body = fmt.Sprintf("A %s is up for auction with a reserve of %s. Bidding closes %s.",
			p.str("asset_type"), p.naira("reserve_price"), p.when("end_time"))
	case domain.TemplateOutbid:
		msg.Title = "You have been outbid"
		msg.Body = fmt.Sprintf("Your bid of %s on the %s was beaten by %s. Bid at least %s before it closes %s.",
			p.naira("previous_amount"), p.str("asset_type"), p.naira("current_bid"),
			p.naira("minimum_next_bid"), p.when("end_time"))
	case domain.TemplateAuctionWon:
		msg.Title = "You won the auction"
		msg.Body = fmt.Sprintf("Your winning bid of %s on the %s has been accepted.",
			p.naira("amount"), p.str("asset_type"))
	case domain.TemplatePaymentDue:
		msg.Title = "Payment due"
		msg.Body = fmt.Sprintf("Pay %s for auction %s by %s or the item will be relisted.",
			p.naira("amount"), p.str("auction_id"), p.when("deadline"))
	case domain.TemplatePaymentVerified:
		msg.Title = "Payment received"
		msg.Body = fmt.Sprintf("We received %s for auction %s. Your pickup code follows separately.",
			p.naira("amount"), p.str("auction_id"))
	case domain.TemplatePickupIssued:
		msg.Title = "Pickup authorization"
		msg.Body = fmt.Sprintf("Your pickup code for auction %s is %s. It expires %s.",
			p.str("auction_id"), p.str("pickup_code"), p.when("expires_at"))
	case domain.TemplatePaymentOverdue:
		msg.Title = "Payment overdue"
		msg.Body = fmt.Sprintf("Payment %s of %s for auction %s missed its deadline. The item has been relisted.",
			p.str("payment_id"), p.naira("amount"), p.str("auction_id"))
	case domain.TemplateFraudAlert:
		msg.Title = "Fraud alert"
		msg.Body = fmt.Sprintf("Alert %s on auction %s: vendor %s bid %s. Patterns: %s.",
			p.str("alert_id"), p.str("auction_id"), p.str("vendor_id"), p.naira("amount"), p.list("patterns"))
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, tpl)
	}
	return msg, nil
}

type fields struct {
	payload map[string]any
	now     time.Time
}

func (f fields) str(key string) string {
	v, ok := f.payload[key]
	if !ok || v == nil {
		return "-"
	}
	return fmt.Sprint(v)
}

// naira formats a decimal amount as "₦1,250,000" or "₦1,250.50".
func (f fields) naira(key string) string {
	raw := f.str(key)
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return raw
	}
	if d.IsInteger() {
		return "₦" + humanize.Comma(d.IntPart())
	}
	v, _ := d.Round(2).Float64()
	return "₦" + humanize.CommafWithDigits(v, 2)
}

// when renders an RFC 3339 timestamp relative to now, e.g. "3 days from now".
func (f fields) when(key string) string {
	raw := f.str(key)
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return raw
	}
	return humanize.RelTime(t, f.now, "ago", "from now")
}

func (f fields) list(key string) string {
	switch v := f.payload[key].(type) {
	case []string:
		return strings.Join(v, ", ")
	case []any:
		parts := make([]string, len(v))
		for i, x := range v {
			parts[i] = fmt.Sprint(x)
		}
		return strings.Join(parts, ", ")
	default:
		return f.str(key)
	}
}
