// Package installments splits a credit-card purchase into a schedule of
// monthly parcels. Everything here is pure and deterministic.
package installments

import (
	"time"

	"github.com/dvloznov/finance-ledger/internal/dates"
	"github.com/dvloznov/finance-ledger/internal/money"
	"github.com/shopspring/decimal"
)

// Installment is one parcel of a purchase.
type Installment struct {
	Number      int          `json:"number"`
	Amount      money.Amount `json:"amount"`
	DueDate     time.Time    `json:"due_date"`
	ClosingDate time.Time    `json:"closing_date"`
}

// Generate returns count installments whose amounts add up to total exactly.
// Every parcel gets total/count floored to the cent and the last one absorbs
// the remainder. count < 1 yields an empty schedule.
func Generate(total money.Amount, count int, purchaseDate time.Time, closingDay, dueDay int) []Installment {
	if count < 1 {
		return nil
	}

	n := decimal.NewFromInt(int64(count))
	base := money.New(total.Decimal().Div(n).Shift(money.Places).Floor().Shift(-money.Places))
	remainder := total.Sub(base.MulInt(int64(count)))

	out := make([]Installment, 0, count)
	for i := 1; i <= count; i++ {
		amount := base
		if i == count {
			amount = base.Add(remainder)
		}
		due := DueDate(purchaseDate, i, dueDay)
		out = append(out, Installment{
			Number:      i,
			Amount:      amount,
			DueDate:     due,
			ClosingDate: ClosingDate(due, closingDay),
		})
	}
	return out
}

// DueDate returns the due date of installment number (1-based): the purchase
// month advanced number-1 months, on dueDay clamped to that month's length.
// The month is advanced from day 1 so a purchase on the 31st never skips a
// short month.
func DueDate(purchaseDate time.Time, number, dueDay int) time.Time {
	first := time.Date(purchaseDate.Year(), purchaseDate.Month(), 1, 0, 0, 0, 0, purchaseDate.Location())
	first = first.AddDate(0, number-1, 0)
	return dates.WithDay(first, dueDay)
}

// ClosingDate returns the closing date of the invoice that carries an
// installment due on dueDate: closingDay of the previous month, clamped.
func ClosingDate(dueDate time.Time, closingDay int) time.Time {
	first := time.Date(dueDate.Year(), dueDate.Month(), 1, 0, 0, 0, 0, dueDate.Location())
	return dates.WithDay(first.AddDate(0, -1, 0), closingDay)
}

// SplitCurrentAndFuture partitions a schedule into the current invoice (due
// on or before dueDay of today's month) and future invoices.
func SplitCurrentAndFuture(schedule []Installment, today time.Time, dueDay int) (current, future []Installment) {
	ref := dates.WithDay(time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location()), dueDay)
	for _, inst := range schedule {
		if inst.DueDate.After(ref) {
			future = append(future, inst)
		} else {
			current = append(current, inst)
		}
	}
	return current, future
}

// Total sums the amounts of a schedule.
func Total(schedule []Installment) money.Amount {
	total := money.Zero
	for _, inst := range schedule {
		total = total.Add(inst.Amount)
	}
	return total
}
