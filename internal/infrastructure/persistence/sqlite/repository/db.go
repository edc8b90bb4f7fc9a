package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"hookdeploy/internal/ports"
)

// dbFromContext returns the transaction carried by ctx, or the base handle.
func dbFromContext(ctx context.Context, base *gorm.DB) (*gorm.DB, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	tx := ports.TxFromContext(ctx)
	if tx == nil {
		return base.WithContext(ctx), nil
	}

	gormTx, ok := tx.(*gorm.DB)
	if !ok || gormTx == nil {
		return nil, fmt.Errorf("invalid tx in context: %T", tx)
	}
	return gormTx.WithContext(ctx), nil
}

// inTx runs fn in the transaction carried by ctx, opening one when absent.
func inTx(ctx context.Context, base *gorm.DB, fn func(db *gorm.DB) error) error {
	if ports.InTx(ctx) {
		db, err := dbFromContext(ctx, base)
		if err != nil {
			return err
		}
		return fn(db)
	}
	return base.WithContext(ctx).Transaction(fn)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds a LIKE pattern matching value anywhere, lower-cased.
func containsPattern(value string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(value)) + "%"
}
