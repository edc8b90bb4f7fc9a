package ports

import "context"

// Tx is an opaque transaction handle owned by the storage adapter
// (a *gorm.DB for the sqlite stores).
type Tx any

// UnitOfWork runs fn inside one transaction. Returning an error from fn rolls
// the transaction back; returning nil commits it. Repositories called with
// the ctx handed to fn join the transaction.
type UnitOfWork interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txKey struct{}

func WithTxContext(ctx context.Context, tx Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func TxFromContext(ctx context.Context) Tx {
	if ctx == nil {
		return nil
	}
	return ctx.Value(txKey{})
}

// InTx reports whether ctx carries a transaction handle.
func InTx(ctx context.Context) bool {
	return TxFromContext(ctx) != nil
}
