package paystack

import "github.com/shopspring/decimal"

// --------------------------------------------------------------------------
// Paystack API DTOs
// --------------------------------------------------------------------------

// envelope wraps every Paystack response.
type envelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// Transaction is the data of GET /transaction/verify/{reference}.
type Transaction struct {
	ID        int64  `json:"id"`
	Reference string `json:"reference"`
	Status    string `json:"status"`    // "success", "failed", "abandoned", "ongoing", "pending", "reversed"
	Amount    int64  `json:"amount"`    // kobo
	Currency  string `json:"currency"`
	PaidAt    string `json:"paid_at"`
	Channel   string `json:"channel"`
}

// TransferRequest is the body of POST /transfer.
type TransferRequest struct {
	Source    string `json:"source"`
	Amount    int64  `json:"amount"`             // kobo
	Recipient string `json:"recipient"`
	Reference string `json:"reference"`
	Reason    string `json:"reason,omitempty"`
	Currency  string `json:"currency,omitempty"`
}

// Transfer is the data of POST /transfer and GET /transfer/verify/{reference}.
type Transfer struct {
	TransferCode string `json:"transfer_code"`
	Reference    string `json:"reference"`
	Status       string `json:"status"`        // "success", "pending", "otp", "failed", "reversed"
	Amount       int64  `json:"amount"`
}

var koboPerNaira = decimal.NewFromInt(100)

// ToKobo converts a naira amount to the integer minor unit Paystack expects.
func ToKobo(naira decimal.Decimal) int64 {
	return naira.Mul(koboPerNaira).Round(0).IntPart()
}

// FromKobo converts a Paystack minor-unit amount to naira.
func FromKobo(kobo int64) decimal.Decimal {
	return decimal.NewFromInt(kobo).Div(koboPerNaira)
}
