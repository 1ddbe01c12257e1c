// Package kv defines the conditional key-value store contract the ledger is
// built on, together with its DynamoDB, Postgres and in-memory backends.
// The contract is deliberately narrow: point reads, conditional puts, a
// prefix query with opaque continuation, and a multi-item conditional
// transaction that either applies every write or none of them.
package kv

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing item on Get.
	ErrNotFound = errors.New("item not found")

	// ErrPreconditionFailed signals that one of the conditions attached to a
	// Put or TransactWrite did not hold. It is a normal, typed outcome: the
	// engine's race-recovery path branches on it.
	ErrPreconditionFailed = errors.New("precondition failed")
)

// Key is a composite partition/sort key.
type Key struct {
	PK string `json:"pk"`
	SK string `json:"sk"`
}

// Item is a flat attribute map. Repositories only store string, int64,
// float64 and bool values; other types are not guaranteed to round-trip
// identically across backends.
type Item map[string]any

// String reads a string attribute, returning "" when absent.
func (it Item) String(name string) string {
	s, _ := it[name].(string)
	return s
}

// Int64 reads a numeric attribute, returning 0 when absent.
func (it Item) Int64(name string) int64 {
	switch v := it[name].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// ConditionKind enumerates the supported write guards.
type ConditionKind int

const (
	// CondNone applies the write unconditionally.
	CondNone ConditionKind = iota
	// CondAbsent requires that no item exists at the key.
	CondAbsent
	// CondEquals requires that the stored attribute still equals a
	// previously observed value (compare-and-swap).
	CondEquals
)

// Condition guards a single write.
type Condition struct {
	Kind  ConditionKind
	Attr  string
	Value any
}

// IfAbsent builds an insert-if-missing guard.
func IfAbsent() Condition { return Condition{Kind: CondAbsent} }

// IfEquals builds a compare-and-swap guard on one attribute.
func IfEquals(attr string, value any) Condition {
	return Condition{Kind: CondEquals, Attr: attr, Value: value}
}

// WriteKind selects between a full-item put and an attribute update.
type WriteKind int

const (
	WritePut WriteKind = iota
	WriteUpdate
)

// Write is one element of a multi-item conditional transaction.
type Write struct {
	Table string
	Key   Key
	Kind  WriteKind
	Item  Item // WritePut: full item body (key attributes added by the backend)
	Set   Item // WriteUpdate: attributes to assign
	Cond  Condition
}

// Query describes a partition scan over a sort-key prefix.
type Query struct {
	PartitionKey string
	SortPrefix   string
	Limit        int32
	Cursor       *Key // exclusive start position from a previous Page
	Reverse      bool // descending sort-key order when true
}

// Page is one slice of query results. Next is nil when the scan is exhausted.
type Page struct {
	Items []Item
	Next  *Key
}

// Store is the handle the ledger components are constructed with. It is
// explicitly opened at startup and closed at shutdown; implementations are
// safe for concurrent use by any number of goroutines.
type Store interface {
	Get(ctx context.Context, table string, key Key) (Item, error)
	Put(ctx context.Context, table string, key Key, item Item, cond Condition) error
	Query(ctx context.Context, table string, q Query) (Page, error)
	TransactWrite(ctx context.Context, writes []Write) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

func validateWrite(w Write) error {
	if w.Table == "" || w.Key.PK == "" || w.Key.SK == "" {
		return fmt.Errorf("write missing table or key")
	}
	switch w.Kind {
	case WritePut:
		if w.Item == nil {
			return fmt.Errorf("put write missing item")
		}
	case WriteUpdate:
		if len(w.Set) == 0 {
			return fmt.Errorf("update write has no assignments")
		}
	default:
		return fmt.Errorf("unknown write kind %d", w.Kind)
	}
	return nil
}
