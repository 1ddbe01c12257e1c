package store_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satyaveer/txnledger/internal/domain"
	"github.com/satyaveer/txnledger/internal/kv"
	"github.com/satyaveer/txnledger/internal/store"
)

func seedTransactions(t *testing.T, mem *kv.Memory, ledger *store.LedgerStore, userID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		txn := &domain.Transaction{
			ID:             fmt.Sprintf("%04d", i),
			UserID:         userID,
			Type:           domain.TypeCredit,
			Status:         domain.StatusSucceeded,
			Amount:         int64(i + 1),
			IdempotencyKey: fmt.Sprintf("key-%04d", i),
		}
		require.NoError(t, mem.TransactWrite(context.Background(), []kv.Write{ledger.TransactionWrite(txn)}))
	}
}

func TestLedgerListByUserPagination(t *testing.T) {
	mem := kv.NewMemory()
	ledger := store.NewLedgerStore(mem, "Transactions")
	seedTransactions(t, mem, ledger, "u_a1", 25)

	var all []domain.Transaction
	token := ""
	pages := 0
	for {
		items, next, err := ledger.ListByUser(context.Background(), "u_a1", 10, token)
		require.NoError(t, err)
		all = append(all, items...)
		pages++
		if next == "" {
			break
		}
		token = next
	}

	// Three pages, no overlap, no gaps, most recent id first.
	assert.Equal(t, 3, pages)
	require.Len(t, all, 25)
	seen := map[string]bool{}
	for i, txn := range all {
		assert.False(t, seen[txn.ID], "duplicate id %s", txn.ID)
		seen[txn.ID] = true
		if i > 0 {
			assert.Greater(t, all[i-1].ID, txn.ID)
		}
	}
}

func TestLedgerListByUserBadToken(t *testing.T) {
	mem := kv.NewMemory()
	ledger := store.NewLedgerStore(mem, "Transactions")
	seedTransactions(t, mem, ledger, "u_a1", 3)

	_, _, err := ledger.ListByUser(context.Background(), "u_a1", 10, "@@not-a-token@@")
	assert.ErrorIs(t, err, kv.ErrBadCursor)
}

func TestLedgerListByUserForeignToken(t *testing.T) {
	mem := kv.NewMemory()
	ledger := store.NewLedgerStore(mem, "Transactions")
	seedTransactions(t, mem, ledger, "u_a1", 5)
	seedTransactions(t, mem, ledger, "u_b2", 5)

	// A token minted for one user's listing cannot resume another's.
	_, next, err := ledger.ListByUser(context.Background(), "u_a1", 2, "")
	require.NoError(t, err)
	require.NotEmpty(t, next)

	_, _, err = ledger.ListByUser(context.Background(), "u_b2", 2, next)
	assert.ErrorIs(t, err, kv.ErrBadCursor)
}

func TestLedgerIdempotencyRecordRoundTrip(t *testing.T) {
	mem := kv.NewMemory()
	ledger := store.NewLedgerStore(mem, "Transactions")

	rec := &domain.IdempotencyRecord{
		Key:           "k1",
		TransactionID: "txn-1",
		UserID:        "u_a1",
		Type:          domain.TypeDebit,
		Amount:        250,
		Status:        domain.StatusSucceeded,
	}
	require.NoError(t, mem.TransactWrite(context.Background(), []kv.Write{ledger.IdempotencyWrite(rec)}))

	got, err := ledger.GetIdempotencyRecord(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	_, err = ledger.GetIdempotencyRecord(context.Background(), "k-missing")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestAccountStoreRoundTrip(t *testing.T) {
	mem := kv.NewMemory()
	accounts := store.NewAccountStore(mem, "Users")

	acc := &domain.Account{
		ID:       "u_a1",
		Name:     "satyaveer",
		Email:    "nayaksatyaveer@gmail.com",
		Balance:  1000,
		Currency: "INR",
	}
	require.NoError(t, accounts.Put(context.Background(), acc))

	got, err := accounts.Get(context.Background(), "u_a1")
	require.NoError(t, err)
	assert.Equal(t, acc, got)

	_, err = accounts.Get(context.Background(), "u_missing")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}
