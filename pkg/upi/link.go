/**
 * @description
 * This package builds UPI deep links (upi://pay) for client-side QR rendering.
 * The service only generates the link; settlement happens out-of-band in the
 * member's UPI app and is reported back through the confirm endpoint.
 */
package upi

import (
	"fmt"
	"net/url"
)

// Params describes one payment intent to encode into a deep link.
type Params struct {
	PayeeVPA      string
	PayeeName     string
	AmountPaise   int64
	TransactionID string
	Note          string
}

// FormatAmount renders an amount in paise as a rupee string ("2400.00"),
// the decimal form UPI apps expect in the `am` field.
func FormatAmount(paise int64) string {
	return fmt.Sprintf("%d.%02d", paise/100, paise%100)
}

// BuildPaymentLink constructs the upi://pay deep link for a payment request.
func BuildPaymentLink(p Params) string {
	q := url.Values{}
	q.Set("pa", p.PayeeVPA)
	if p.PayeeName != "" {
		q.Set("pn", p.PayeeName)
	}
	q.Set("am", FormatAmount(p.AmountPaise))
	q.Set("cu", "INR")
	if p.TransactionID != "" {
		q.Set("tr", p.TransactionID)
	}
	if p.Note != "" {
		q.Set("tn", p.Note)
	}
	return "upi://pay?" + q.Encode()
}
