package uow

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"hookdeploy/internal/ports"
)

// UnitOfWork implements ports.UnitOfWork with gorm. A call made with a ctx
// that already carries a transaction joins it instead of nesting.
type UnitOfWork struct {
	db *gorm.DB
}

var _ ports.UnitOfWork = (*UnitOfWork)(nil)

func NewUnitOfWork(db *gorm.DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

func (u *UnitOfWork) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if fn == nil {
		return errors.New("transaction func is required")
	}
	if ports.InTx(ctx) {
		return fn(ctx)
	}

	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ports.WithTxContext(ctx, tx))
	})
}
