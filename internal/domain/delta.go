package domain

import "github.com/dvloznov/finance-ledger/internal/money"

// BalanceDelta is a signed change to one account's balance.
type BalanceDelta struct {
	AccountID string
	Amount    money.Amount
}

// Effects returns the deltas that applying t adds to account balances:
//
//	income, yield       +amount on AccountID
//	expense, investment -amount on AccountID
//	transfer            -amount on AccountID, +amount on TargetAccountID
//
// A transfer without a target has no effect.
func (t *Transaction) Effects() []BalanceDelta {
	magnitude := t.Amount.Abs()
	switch t.Type {
	case TransactionTypeIncome, TransactionTypeYield:
		return []BalanceDelta{{AccountID: t.AccountID, Amount: magnitude}}
	case TransactionTypeExpense, TransactionTypeInvestment:
		return []BalanceDelta{{AccountID: t.AccountID, Amount: magnitude.Neg()}}
	case TransactionTypeTransfer:
		if t.TargetAccountID == "" {
			return nil
		}
		return []BalanceDelta{
			{AccountID: t.AccountID, Amount: magnitude.Neg()},
			{AccountID: t.TargetAccountID, Amount: magnitude},
		}
	}
	return nil
}

// RevertEffects returns the exact inverse of Effects.
func (t *Transaction) RevertEffects() []BalanceDelta {
	effects := t.Effects()
	for i := range effects {
		effects[i].Amount = effects[i].Amount.Neg()
	}
	return effects
}

// AccountIDs returns the accounts touched by t's balance effect.
func (t *Transaction) AccountIDs() []string {
	effects := t.Effects()
	ids := make([]string, 0, len(effects))
	for _, e := range effects {
		ids = append(ids, e.AccountID)
	}
	return ids
}
