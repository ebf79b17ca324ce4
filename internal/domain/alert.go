// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
)

// TransactionTypeOutbound is the exact transaction type counted towards
// the outbound dispersal total. Matching is case-sensitive.
const TransactionTypeOutbound = "Outbound Transfer"

// Transaction is a single ledger entry attached to an alert.
type Transaction struct {
	Date              string  `json:"date"`
	Type              string  `json:"type"`
	Amount            float64 `json:"amount"`
	DestinationOrigin string  `json:"destination_origin"`
}

// Decimal returns the amount as the exact decimal it was written as,
// using the shortest representation that round-trips the float64.
// NaN and infinities yield nil.
func (t Transaction) Decimal() *big.Rat {
	r, ok := new(big.Rat).SetString(strconv.FormatFloat(t.Amount, 'f', -1, 64))
	if !ok {
		return nil
	}
	return r
}

// Alert is a single compliance case submitted for analysis.
type Alert struct {
	AlertID      string        `json:"alert_id"`
	CustomerName string        `json:"customer_name"`
	RiskRating   string        `json:"risk_rating"`
	TriggerEvent string        `json:"trigger_event"`
	Transactions []Transaction `json:"transactions"`
}

// Validate checks transaction amounts. Blank identifying fields are
// accepted; reports carry their own ID.
func (a *Alert) Validate() error {
	for i, tx := range a.Transactions {
		if math.IsNaN(tx.Amount) || math.IsInf(tx.Amount, 0) {
			return fmt.Errorf("%w: transactions[%d].amount is not a number", ErrInvalidAlert, i)
		}
		if tx.Amount < 0 {
			return fmt.Errorf("%w: transactions[%d].amount must not be negative", ErrInvalidAlert, i)
		}
	}
	return nil
}

// OutboundTotal sums outbound transfers exactly.
func (a *Alert) OutboundTotal() *big.Rat {
	return a.sum(func(tx Transaction) bool { return tx.Type == TransactionTypeOutbound })
}

// TotalAmount sums every transaction exactly.
func (a *Alert) TotalAmount() *big.Rat {
	return a.sum(func(Transaction) bool { return true })
}

func (a *Alert) sum(keep func(Transaction) bool) *big.Rat {
	total := new(big.Rat)
	for _, tx := range a.Transactions {
		if !keep(tx) {
			continue
		}
		if d := tx.Decimal(); d != nil {
			total.Add(total, d)
		}
	}
	return total
}

// FloatFloor returns the largest float64 not greater than r. Comparing the
// result with >= against a representable threshold gives the same answer
// as comparing r itself.
func FloatFloor(r *big.Rat) float64 {
	f, exact := r.Float64()
	if !exact && new(big.Rat).SetFloat64(f).Cmp(r) > 0 {
		f = math.Nextafter(f, math.Inf(-1))
	}
	return f
}

// FormatMoney renders an amount with two decimals, e.g. 45000 -> "45000.00".
func FormatMoney(amount float64) string {
	return fmt.Sprintf("%.2f", amount)
}
