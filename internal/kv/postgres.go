package kv

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Store on a single relational table of JSONB documents
// keyed by (tbl, pk, sk). The multi-item conditional transaction is emulated
// with one SQL transaction at read committed: rows named by the writes are
// locked, every condition is re-checked against the latest committed row
// under the locks, and only then are the writes applied. Losing a race to a
// concurrent writer maps to ErrPreconditionFailed, whether it surfaces as a
// failed condition after the lock wait, a unique-key violation on an
// insert-if-absent write, or a serialization error.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects a pool and verifies connectivity.
func OpenPostgres(ctx context.Context, connString string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// EnsureSchema creates the backing table if missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS kv_items (
			tbl  TEXT NOT NULL,
			pk   TEXT NOT NULL,
			sk   TEXT NOT NULL,
			doc  JSONB NOT NULL,
			PRIMARY KEY (tbl, pk, sk)
		)`)
	return err
}

func (p *Postgres) Get(ctx context.Context, table string, key Key) (Item, error) {
	var doc []byte
	err := p.pool.QueryRow(ctx,
		"SELECT doc FROM kv_items WHERE tbl = $1 AND pk = $2 AND sk = $3",
		table, key.PK, key.SK,
	).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("postgres get failed: %w", err)
	}
	return decodeDoc(doc)
}

func (p *Postgres) Put(ctx context.Context, table string, key Key, item Item, cond Condition) error {
	return p.TransactWrite(ctx, []Write{{
		Table: table,
		Key:   key,
		Kind:  WritePut,
		Item:  item,
		Cond:  cond,
	}})
}

func (p *Postgres) TransactWrite(ctx context.Context, writes []Write) error {
	for _, w := range writes {
		if err := validateWrite(w); err != nil {
			return err
		}
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock and re-check every condition before the first write.
	current := make([]Item, len(writes))
	for i, w := range writes {
		var doc []byte
		err := tx.QueryRow(ctx,
			"SELECT doc FROM kv_items WHERE tbl = $1 AND pk = $2 AND sk = $3 FOR UPDATE",
			w.Table, w.Key.PK, w.Key.SK,
		).Scan(&doc)
		exists := true
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				if lostRaceError(err) {
					return ErrPreconditionFailed
				}
				return fmt.Errorf("lock read failed: %w", err)
			}
			exists = false
		}

		switch w.Cond.Kind {
		case CondAbsent:
			if exists {
				return ErrPreconditionFailed
			}
		case CondEquals:
			if !exists {
				return ErrPreconditionFailed
			}
			it, err := decodeDoc(doc)
			if err != nil {
				return err
			}
			if !equalValue(it[w.Cond.Attr], w.Cond.Value) {
				return ErrPreconditionFailed
			}
			current[i] = it
		}
		if exists && current[i] == nil {
			it, err := decodeDoc(doc)
			if err != nil {
				return err
			}
			current[i] = it
		}
	}

	for i, w := range writes {
		var body Item
		switch w.Kind {
		case WritePut:
			body = cloneItem(w.Item)
		case WriteUpdate:
			body = current[i]
			if body == nil {
				body = Item{}
			}
			for name, v := range w.Set {
				body[name] = v
			}
		}
		doc, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("doc marshal failed: %w", err)
		}

		if w.Cond.Kind == CondAbsent {
			// Plain insert: an unindexed row cannot be locked above, so a
			// concurrent insert surfaces here as a unique violation.
			_, err = tx.Exec(ctx,
				"INSERT INTO kv_items (tbl, pk, sk, doc) VALUES ($1, $2, $3, $4)",
				w.Table, w.Key.PK, w.Key.SK, doc)
			if err != nil {
				if lostRaceError(err) {
					return ErrPreconditionFailed
				}
				return fmt.Errorf("insert failed: %w", err)
			}
		} else {
			_, err = tx.Exec(ctx, `
				INSERT INTO kv_items (tbl, pk, sk, doc) VALUES ($1, $2, $3, $4)
				ON CONFLICT (tbl, pk, sk) DO UPDATE SET doc = EXCLUDED.doc`,
				w.Table, w.Key.PK, w.Key.SK, doc)
			if err != nil {
				if lostRaceError(err) {
					return ErrPreconditionFailed
				}
				return fmt.Errorf("upsert failed: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		if lostRaceError(err) {
			return ErrPreconditionFailed
		}
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

// lostRaceError reports errors that mean a concurrent transaction won:
// unique violation on insert-if-absent, serialization failure, deadlock.
// Callers resolve them through the same recovery path as a failed condition.
func lostRaceError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "23505", "40001", "40P01":
		return true
	}
	return false
}

func (p *Postgres) Query(ctx context.Context, table string, q Query) (Page, error) {
	order := "ASC"
	cmp := ">"
	if q.Reverse {
		order = "DESC"
		cmp = "<"
	}

	limit := int(q.Limit)
	if limit <= 0 {
		limit = 100
	}

	args := []any{table, q.PartitionKey, escapeLike(q.SortPrefix) + "%"}
	sql := "SELECT sk, doc FROM kv_items WHERE tbl = $1 AND pk = $2 AND sk LIKE $3"
	if q.Cursor != nil {
		args = append(args, q.Cursor.SK)
		sql += fmt.Sprintf(" AND sk %s $4", cmp)
	}
	// Fetch one extra row to decide whether a continuation key is needed.
	sql += fmt.Sprintf(" ORDER BY sk %s LIMIT %d", order, limit+1)

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return Page{}, fmt.Errorf("postgres query failed: %w", err)
	}
	defer rows.Close()

	var page Page
	var lastSK string
	for rows.Next() {
		var sk string
		var doc []byte
		if err := rows.Scan(&sk, &doc); err != nil {
			return Page{}, fmt.Errorf("row scan failed: %w", err)
		}
		if len(page.Items) == limit {
			page.Next = &Key{PK: q.PartitionKey, SK: lastSK}
			break
		}
		it, err := decodeDoc(doc)
		if err != nil {
			return Page{}, err
		}
		page.Items = append(page.Items, it)
		lastSK = sk
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("row iteration failed: %w", err)
	}
	return page, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close(context.Context) error {
	p.pool.Close()
	return nil
}

// decodeDoc parses a JSONB document preserving integer values: a plain
// json.Unmarshal into interface{} would turn every balance into float64.
func decodeDoc(doc []byte) (Item, error) {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("doc decode failed: %w", err)
	}
	out := make(Item, len(raw))
	for k, v := range raw {
		if num, ok := v.(json.Number); ok {
			if n, err := num.Int64(); err == nil {
				out[k] = n
			} else if f, err := num.Float64(); err == nil {
				out[k] = f
			}
			continue
		}
		out[k] = v
	}
	return out, nil
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
