package database

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"

	"github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

type txKey struct{}

// WithTx runs fn inside a transaction carried by ctx. Nested calls join the
// outer transaction, so a whole import can share one unit of work.
func WithTx(ctx context.Context, db *bun.DB, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}
	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, &tx))
	})
}

func TxFromContext(ctx context.Context) *bun.Tx {
	tx, _ := ctx.Value(txKey{}).(*bun.Tx)
	return tx
}

// Conn returns the transaction in ctx, or db when there is none.
func Conn(ctx context.Context, db *bun.DB) bun.IDB {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return db
}

func IsPostgres(idb bun.IDB) bool {
	return idb.Dialect().Name() == dialect.PG
}

// LockKey takes a transaction-scoped advisory lock on PostgreSQL. Other
// dialects serialize writers on their own and get a no-op.
func LockKey(ctx context.Context, idb bun.IDB, key string) error {
	if !IsPostgres(idb) {
		return nil
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	_, err := idb.NewRaw("SELECT pg_advisory_xact_lock(?)", int64(h.Sum64())).Exec(ctx)
	return err
}

func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func IsForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23503"
	}
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// ForUpdate adds a row lock on dialects that support SELECT ... FOR UPDATE.
func ForUpdate(q *bun.SelectQuery, idb bun.IDB) *bun.SelectQuery {
	if IsPostgres(idb) {
		return q.For("UPDATE")
	}
	return q
}

// Transactor binds the transaction helpers to one database so services can
// depend on a small interface instead of *bun.DB.
type Transactor struct {
	Bun *bun.DB
}

func (t *Transactor) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return WithTx(ctx, t.Bun, fn)
}

func (t *Transactor) LockKey(ctx context.Context, key string) error {
	return LockKey(ctx, Conn(ctx, t.Bun), key)
}
