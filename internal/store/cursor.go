package store

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/finance-ledger/internal/domain"
)

// Cursor is a position in the (date, id) ordering of transactions.
type Cursor struct {
	Date time.Time
	ID   string
}

// CursorAfter returns the cursor positioned on tx.
func CursorAfter(tx domain.Transaction) *Cursor {
	return &Cursor{Date: tx.Date, ID: tx.ID}
}

// Encode renders the cursor as an opaque URL-safe token.
func (c Cursor) Encode() string {
	raw := c.Date.UTC().Format(time.RFC3339Nano) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ParseCursor decodes a token produced by Encode.
func ParseCursor(token string) (*Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("ParseCursor: decode: %w", err)
	}
	datePart, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, fmt.Errorf("ParseCursor: malformed cursor")
	}
	date, err := time.Parse(time.RFC3339Nano, datePart)
	if err != nil {
		return nil, fmt.Errorf("ParseCursor: parse date: %w", err)
	}
	return &Cursor{Date: date, ID: id}, nil
}

// Before reports whether tx sorts strictly before the cursor position in
// ascending (date, id) order.
func (c Cursor) Before(tx domain.Transaction) bool {
	if !tx.Date.Equal(c.Date) {
		return tx.Date.Before(c.Date)
	}
	return tx.ID < c.ID
}

// After reports whether tx sorts strictly after the cursor position in
// ascending (date, id) order.
func (c Cursor) After(tx domain.Transaction) bool {
	if !tx.Date.Equal(c.Date) {
		return tx.Date.After(c.Date)
	}
	return tx.ID > c.ID
}

// Matches reports whether tx passes the filters of q, ignoring the cursor.
func (q TransactionQuery) Matches(tx domain.Transaction) bool {
	if q.DateFrom != nil && tx.Date.Before(*q.DateFrom) {
		return false
	}
	if q.DateTo != nil && tx.Date.After(*q.DateTo) {
		return false
	}
	if q.DateBefore != nil && !tx.Date.Before(*q.DateBefore) {
		return false
	}
	if q.State != "" && tx.BalanceState != q.State {
		return false
	}
	if q.TemplatesOnly && !tx.IsTemplate() {
		return false
	}
	if q.RecurrenceParentID != "" && tx.RecurrenceParentID != q.RecurrenceParentID {
		return false
	}
	if q.CreditCardPurchaseID != "" && tx.CreditCardPurchaseID != q.CreditCardPurchaseID {
		return false
	}
	if q.AccountID != "" && tx.AccountID != q.AccountID && tx.TargetAccountID != q.AccountID {
		return false
	}
	if q.CategoryID != "" && tx.CategoryID != q.CategoryID {
		return false
	}
	return true
}

// Remaining reports whether tx lies past the cursor in the query's
// direction.
func (q TransactionQuery) Remaining(tx domain.Transaction) bool {
	if q.Cursor == nil {
		return true
	}
	if q.Descending {
		return q.Cursor.Before(tx)
	}
	return q.Cursor.After(tx)
}
