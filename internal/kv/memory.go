package kv

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Store used by unit tests. It implements the same
// conditional-write semantics as the DynamoDB and Postgres backends under a
// single mutex, so TransactWrite is trivially atomic and every evaluation of
// the conditions is serialized.
type Memory struct {
	mu           sync.Mutex
	tables       map[string]map[Key]Item
	getFailures  map[string]error
	transactErr  error
	pingErr      error
	transactions int
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		tables:      make(map[string]map[Key]Item),
		getFailures: make(map[string]error),
	}
}

// FailNextGet makes the next Get of the given key return err. Used to
// exercise the idempotency-guard degraded-read path.
func (m *Memory) FailNextGet(table string, key Key, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getFailures[table+"/"+key.PK+"/"+key.SK] = err
}

// FailNextTransactWrite makes the next TransactWrite return err without
// applying anything.
func (m *Memory) FailNextTransactWrite(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactErr = err
}

// SetPingError forces Ping to return err until cleared.
func (m *Memory) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

// TransactWriteCount reports how many multi-item transactions were applied.
func (m *Memory) TransactWriteCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transactions
}

func (m *Memory) Get(_ context.Context, table string, key Key) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fk := table + "/" + key.PK + "/" + key.SK
	if err, ok := m.getFailures[fk]; ok {
		delete(m.getFailures, fk)
		return nil, err
	}

	it, ok := m.tables[table][key]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneItem(it), nil
}

func (m *Memory) Put(_ context.Context, table string, key Key, item Item, cond Condition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(table, key, cond); err != nil {
		return err
	}
	m.apply(Write{Table: table, Key: key, Kind: WritePut, Item: item})
	return nil
}

func (m *Memory) TransactWrite(_ context.Context, writes []Write) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.transactErr != nil {
		err := m.transactErr
		m.transactErr = nil
		return err
	}

	// All conditions are evaluated before any write is applied.
	for _, w := range writes {
		if err := validateWrite(w); err != nil {
			return err
		}
		if err := m.check(w.Table, w.Key, w.Cond); err != nil {
			return err
		}
	}
	for _, w := range writes {
		m.apply(w)
	}
	m.transactions++
	return nil
}

func (m *Memory) Query(_ context.Context, table string, q Query) (Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []Key
	for k := range m.tables[table] {
		if k.PK != q.PartitionKey || !strings.HasPrefix(k.SK, q.SortPrefix) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if q.Reverse {
			return keys[i].SK > keys[j].SK
		}
		return keys[i].SK < keys[j].SK
	})

	start := 0
	if q.Cursor != nil {
		for i, k := range keys {
			past := k.SK < q.Cursor.SK
			if !q.Reverse {
				past = k.SK > q.Cursor.SK
			}
			if past {
				start = i
				break
			}
			start = len(keys)
		}
	}

	limit := int(q.Limit)
	if limit <= 0 {
		limit = len(keys)
	}

	var page Page
	for i := start; i < len(keys) && len(page.Items) < limit; i++ {
		page.Items = append(page.Items, cloneItem(m.tables[table][keys[i]]))
		if i+1 < len(keys) && len(page.Items) == limit {
			last := keys[i]
			page.Next = &last
		}
	}
	return page, nil
}

func (m *Memory) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingErr
}

func (m *Memory) Close(context.Context) error { return nil }

// check evaluates a condition against the current item. Callers hold the lock.
func (m *Memory) check(table string, key Key, cond Condition) error {
	existing, ok := m.tables[table][key]
	switch cond.Kind {
	case CondNone:
		return nil
	case CondAbsent:
		if ok {
			return ErrPreconditionFailed
		}
	case CondEquals:
		if !ok || !equalValue(existing[cond.Attr], cond.Value) {
			return ErrPreconditionFailed
		}
	}
	return nil
}

// apply performs a pre-validated write. Callers hold the lock.
func (m *Memory) apply(w Write) {
	tbl, ok := m.tables[w.Table]
	if !ok {
		tbl = make(map[Key]Item)
		m.tables[w.Table] = tbl
	}
	switch w.Kind {
	case WritePut:
		it := cloneItem(w.Item)
		it["pk"] = w.Key.PK
		it["sk"] = w.Key.SK
		tbl[w.Key] = it
	case WriteUpdate:
		it, ok := tbl[w.Key]
		if !ok {
			it = Item{"pk": w.Key.PK, "sk": w.Key.SK}
			tbl[w.Key] = it
		}
		for name, v := range w.Set {
			it[name] = v
		}
	}
}

func cloneItem(it Item) Item {
	out := make(Item, len(it))
	for k, v := range it {
		out[k] = v
	}
	return out
}

func equalValue(a, b any) bool {
	return normalize(a) == normalize(b)
}

func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		if n == float64(int64(n)) {
			return int64(n)
		}
	}
	return v
}
