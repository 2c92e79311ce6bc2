/**
 * @description
 * This file implements the account-mutation rules applied when a payment is
 * confirmed. The rules are pure functions over a Member so the arithmetic is
 * testable in isolation; the store invokes them inside the confirm database
 * transaction, between the locked read of the member row and its update.
 */

package domain

import "fmt"

// FeeRules carries the society's fixed policy amounts, all in paise.
// Zero-valued fields are replaced with the registered society defaults
// (entry fee ₹200, welfare fund ₹400, building fund ₹2400, share unit ₹100).
type FeeRules struct {
	EntryFee     int64
	WelfareFund  int64
	BuildingFund int64
	SharePrice   int64
}

// DefaultFeeRules returns the standard fee schedule in paise.
func DefaultFeeRules() FeeRules {
	return FeeRules{
		EntryFee:     20000,
		WelfareFund:  40000,
		BuildingFund: 240000,
		SharePrice:   10000,
	}
}

func (r FeeRules) withDefaults() FeeRules {
	d := DefaultFeeRules()
	if r.EntryFee <= 0 {
		r.EntryFee = d.EntryFee
	}
	if r.WelfareFund <= 0 {
		r.WelfareFund = d.WelfareFund
	}
	if r.BuildingFund <= 0 {
		r.BuildingFund = d.BuildingFund
	}
	if r.SharePrice <= 0 {
		r.SharePrice = d.SharePrice
	}
	return r
}

// ApplyPaymentEffect mutates the member in place according to the payment's
// purpose and returns the ledger description for the resulting credit entry.
// The caller persists the mutated member and records a ledger entry whose
// balance snapshot must be the post-mutation Balance.
func ApplyPaymentEffect(m *Member, amount int64, purpose string, rules FeeRules) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("payment amount must be positive, got %d", amount)
	}
	rules = rules.withDefaults()

	switch purpose {
	case PurposeMembershipFee:
		m.FeesPaid += amount
		if m.FeesPaid >= rules.EntryFee {
			m.EntryFeePaid = true
		}
		if m.FeesPaid >= rules.WelfareFund {
			m.WelfareFundPaid = true
		}
		if m.FeesPaid >= rules.BuildingFund {
			m.BuildingFundPaid = true
			m.Status = MemberStatusActive
		} else {
			m.Status = MemberStatusPendingPayment
		}
		return "Membership fee payment", nil

	case PurposeSharePurchase:
		m.ShareCount += amount / rules.SharePrice
		m.ShareValue += amount
		m.Balance += amount
		return "Share purchase", nil

	case PurposeLoanRepayment:
		m.Balance += amount
		return "Loan repayment", nil

	case PurposeDeposit:
		m.Balance += amount
		return "Deposit", nil

	case PurposeOther:
		m.Balance += amount
		return "Payment received", nil
	}

	return "", fmt.Errorf("unknown payment purpose %q", purpose)
}
