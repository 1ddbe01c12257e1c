package kv

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGetPut(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	key := Key{PK: "USER#u_1", SK: "USER#u_1"}

	_, err := m.Get(ctx, "Users", key)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Put(ctx, "Users", key, Item{"balance": int64(100)}, Condition{}))

	it, err := m.Get(ctx, "Users", key)
	require.NoError(t, err)
	assert.Equal(t, int64(100), it.Int64("balance"))
}

func TestMemoryConditionalPut(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	key := Key{PK: "IDEMPOTENT#k1", SK: "IDEMPOTENT#k1"}

	require.NoError(t, m.Put(ctx, "Transactions", key, Item{"id": "t1"}, IfAbsent()))

	// Second insert-if-absent loses.
	err := m.Put(ctx, "Transactions", key, Item{"id": "t2"}, IfAbsent())
	assert.ErrorIs(t, err, ErrPreconditionFailed)

	it, err := m.Get(ctx, "Transactions", key)
	require.NoError(t, err)
	assert.Equal(t, "t1", it.String("id"))
}

func TestMemoryCompareAndSwap(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	key := Key{PK: "USER#u_1", SK: "USER#u_1"}
	require.NoError(t, m.Put(ctx, "Users", key, Item{"balance": int64(1000)}, Condition{}))

	err := m.Put(ctx, "Users", key, Item{"balance": int64(1500)}, IfEquals("balance", int64(999)))
	assert.ErrorIs(t, err, ErrPreconditionFailed)

	require.NoError(t, m.Put(ctx, "Users", key, Item{"balance": int64(1500)}, IfEquals("balance", int64(1000))))

	it, err := m.Get(ctx, "Users", key)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), it.Int64("balance"))
}

func TestMemoryTransactWriteAllOrNothing(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	accKey := Key{PK: "USER#u_1", SK: "USER#u_1"}
	require.NoError(t, m.Put(ctx, "Users", accKey, Item{"balance": int64(1000)}, Condition{}))

	txnKey := Key{PK: "USER#u_1", SK: "TXN#t1"}
	err := m.TransactWrite(ctx, []Write{
		{Table: "Transactions", Key: txnKey, Kind: WritePut, Item: Item{"id": "t1"}, Cond: IfAbsent()},
		{Table: "Users", Key: accKey, Kind: WriteUpdate, Set: Item{"balance": int64(1500)}, Cond: IfEquals("balance", int64(999))},
	})
	assert.ErrorIs(t, err, ErrPreconditionFailed)

	// The passing write must not have been applied.
	_, err = m.Get(ctx, "Transactions", txnKey)
	assert.ErrorIs(t, err, ErrNotFound)
	it, err := m.Get(ctx, "Users", accKey)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), it.Int64("balance"))
	assert.Equal(t, 0, m.TransactWriteCount())

	// With the right expected value all three writes land together.
	err = m.TransactWrite(ctx, []Write{
		{Table: "Transactions", Key: txnKey, Kind: WritePut, Item: Item{"id": "t1"}, Cond: IfAbsent()},
		{Table: "Transactions", Key: Key{PK: "IDEMPOTENT#k1", SK: "IDEMPOTENT#k1"}, Kind: WritePut, Item: Item{"id": "t1"}, Cond: IfAbsent()},
		{Table: "Users", Key: accKey, Kind: WriteUpdate, Set: Item{"balance": int64(1500)}, Cond: IfEquals("balance", int64(1000))},
	})
	require.NoError(t, err)

	it, err = m.Get(ctx, "Users", accKey)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), it.Int64("balance"))
	assert.Equal(t, 1, m.TransactWriteCount())
}

func TestMemoryQueryReversePagination(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		key := Key{PK: "USER#u_1", SK: fmt.Sprintf("TXN#%03d", i)}
		require.NoError(t, m.Put(ctx, "Transactions", key, Item{"id": fmt.Sprintf("%03d", i)}, Condition{}))
	}
	// Unrelated rows in the same partition must not leak into the scan.
	require.NoError(t, m.Put(ctx, "Transactions", Key{PK: "USER#u_1", SK: "USER#u_1"}, Item{"id": "acc"}, Condition{}))
	require.NoError(t, m.Put(ctx, "Transactions", Key{PK: "USER#u_2", SK: "TXN#999"}, Item{"id": "999"}, Condition{}))

	q := Query{PartitionKey: "USER#u_1", SortPrefix: "TXN#", Limit: 3, Reverse: true}

	var seen []string
	for {
		page, err := m.Query(ctx, "Transactions", q)
		require.NoError(t, err)
		for _, it := range page.Items {
			seen = append(seen, it.String("id"))
		}
		if page.Next == nil {
			break
		}
		q.Cursor = page.Next
	}

	assert.Equal(t, []string{"006", "005", "004", "003", "002", "001", "000"}, seen)
}
