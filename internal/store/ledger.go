package store

import (
	"context"

	"github.com/satyaveer/txnledger/internal/domain"
	"github.com/satyaveer/txnledger/internal/kv"
)

const (
	txnPrefix  = "TXN#"
	idemPrefix = "IDEMPOTENT#"
)

// LedgerStore owns the append-only Transaction records and the
// IdempotencyRecords that gate them. Both live in the same table so one
// user partition holds all of a user's transactions in sort-key order.
type LedgerStore struct {
	kv    kv.Store
	table string
}

func NewLedgerStore(s kv.Store, table string) *LedgerStore {
	return &LedgerStore{kv: s, table: table}
}

func txnKey(userID, txnID string) kv.Key {
	return kv.Key{PK: "USER#" + userID, SK: txnPrefix + txnID}
}

func idemKey(key string) kv.Key {
	return kv.Key{PK: idemPrefix + key, SK: idemPrefix + key}
}

// GetTransaction retrieves one ledger entry by (user, transaction id).
func (s *LedgerStore) GetTransaction(ctx context.Context, userID, txnID string) (*domain.Transaction, error) {
	it, err := s.kv.Get(ctx, s.table, txnKey(userID, txnID))
	if err != nil {
		return nil, err
	}
	return transactionFromItem(it), nil
}

// GetIdempotencyRecord resolves a caller-supplied key to the prior attempt,
// or kv.ErrNotFound when the key has never been committed.
func (s *LedgerStore) GetIdempotencyRecord(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	it, err := s.kv.Get(ctx, s.table, idemKey(key))
	if err != nil {
		return nil, err
	}
	return idempotencyFromItem(it), nil
}

// TransactionWrite builds the insert-if-absent leg of an atomic commit for
// a freshly generated transaction id.
func (s *LedgerStore) TransactionWrite(txn *domain.Transaction) kv.Write {
	return kv.Write{
		Table: s.table,
		Key:   txnKey(txn.UserID, txn.ID),
		Kind:  kv.WritePut,
		Item:  transactionItem(txn),
		Cond:  kv.IfAbsent(),
	}
}

// IdempotencyWrite builds the deduplication gate of an atomic commit: when
// two requests race on the same key, exactly one of these inserts can win.
func (s *LedgerStore) IdempotencyWrite(rec *domain.IdempotencyRecord) kv.Write {
	return kv.Write{
		Table: s.table,
		Key:   idemKey(rec.Key),
		Kind:  kv.WritePut,
		Item:  idempotencyItem(rec),
		Cond:  kv.IfAbsent(),
	}
}

// ListByUser returns one page of a user's transactions, most recent id
// first, plus an opaque continuation token ("" when exhausted). A token
// that does not decode, or that belongs to another user's partition, is
// rejected with kv.ErrBadCursor.
func (s *LedgerStore) ListByUser(ctx context.Context, userID string, limit int32, nextToken string) ([]domain.Transaction, string, error) {
	cursor, err := kv.DecodeCursor(nextToken)
	if err != nil {
		return nil, "", err
	}
	partition := "USER#" + userID
	if cursor != nil && cursor.PK != partition {
		return nil, "", kv.ErrBadCursor
	}

	page, err := s.kv.Query(ctx, s.table, kv.Query{
		PartitionKey: partition,
		SortPrefix:   txnPrefix,
		Limit:        limit,
		Cursor:       cursor,
		Reverse:      true,
	})
	if err != nil {
		return nil, "", err
	}

	items := make([]domain.Transaction, 0, len(page.Items))
	for _, it := range page.Items {
		items = append(items, *transactionFromItem(it))
	}
	return items, kv.EncodeCursor(page.Next), nil
}

func transactionItem(txn *domain.Transaction) kv.Item {
	it := kv.Item{
		"id":            txn.ID,
		"userId":        txn.UserID,
		"txnType":       string(txn.Type),
		"status":        string(txn.Status),
		"amount":        txn.Amount,
		"idempotentKey": txn.IdempotencyKey,
	}
	if txn.ExternalTxnID != "" {
		it["externalTxnId"] = txn.ExternalTxnID
	}
	if txn.AccountNumber != "" {
		it["accountNumber"] = txn.AccountNumber
	}
	if txn.IFSC != "" {
		it["ifsc"] = txn.IFSC
	}
	return it
}

func transactionFromItem(it kv.Item) *domain.Transaction {
	return &domain.Transaction{
		ID:             it.String("id"),
		UserID:         it.String("userId"),
		Type:           domain.TransactionType(it.String("txnType")),
		Status:         domain.TransactionStatus(it.String("status")),
		Amount:         it.Int64("amount"),
		IdempotencyKey: it.String("idempotentKey"),
		ExternalTxnID:  it.String("externalTxnId"),
		AccountNumber:  it.String("accountNumber"),
		IFSC:           it.String("ifsc"),
	}
}

func idempotencyItem(rec *domain.IdempotencyRecord) kv.Item {
	return kv.Item{
		"id":            rec.TransactionID,
		"userId":        rec.UserID,
		"txnType":       string(rec.Type),
		"status":        string(rec.Status),
		"amount":        rec.Amount,
		"idempotentKey": rec.Key,
	}
}

func idempotencyFromItem(it kv.Item) *domain.IdempotencyRecord {
	return &domain.IdempotencyRecord{
		Key:           it.String("idempotentKey"),
		TransactionID: it.String("id"),
		UserID:        it.String("userId"),
		Type:          domain.TransactionType(it.String("txnType")),
		Amount:        it.Int64("amount"),
		Status:        domain.TransactionStatus(it.String("status")),
	}
}
