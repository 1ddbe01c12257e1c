package store

import (
	"context"

	"github.com/satyaveer/txnledger/internal/domain"
	"github.com/satyaveer/txnledger/internal/kv"
)

// AccountStore owns Account records. Balance mutations never happen here
// directly: the transaction engine composes a compare-and-swap write via
// BalanceUpdate and commits it together with the ledger writes.
type AccountStore struct {
	kv    kv.Store
	table string
}

func NewAccountStore(s kv.Store, table string) *AccountStore {
	return &AccountStore{kv: s, table: table}
}

func accountKey(userID string) kv.Key {
	return kv.Key{PK: "USER#" + userID, SK: "USER#" + userID}
}

// Get retrieves an account by user id. Returns kv.ErrNotFound when absent.
func (s *AccountStore) Get(ctx context.Context, userID string) (*domain.Account, error) {
	it, err := s.kv.Get(ctx, s.table, accountKey(userID))
	if err != nil {
		return nil, err
	}
	return accountFromItem(it), nil
}

// Put writes an account unconditionally. Used at account-opening time by
// the seeder, not by the transaction path.
func (s *AccountStore) Put(ctx context.Context, acc *domain.Account) error {
	return s.kv.Put(ctx, s.table, accountKey(acc.ID), accountItem(acc), kv.Condition{})
}

// BalanceUpdate builds the balance compare-and-swap leg of an atomic
// commit: set balance to newBalance only while it still equals expected.
func (s *AccountStore) BalanceUpdate(userID string, newBalance, expected int64) kv.Write {
	return kv.Write{
		Table: s.table,
		Key:   accountKey(userID),
		Kind:  kv.WriteUpdate,
		Set:   kv.Item{"balance": newBalance},
		Cond:  kv.IfEquals("balance", expected),
	}
}

func accountItem(acc *domain.Account) kv.Item {
	return kv.Item{
		"id":       acc.ID,
		"name":     acc.Name,
		"email":    acc.Email,
		"balance":  acc.Balance,
		"currency": acc.Currency,
	}
}

func accountFromItem(it kv.Item) *domain.Account {
	return &domain.Account{
		ID:       it.String("id"),
		Name:     it.String("name"),
		Email:    it.String("email"),
		Balance:  it.Int64("balance"),
		Currency: it.String("currency"),
	}
}
