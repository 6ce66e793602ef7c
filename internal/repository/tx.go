package repository

import (
	"context"

	"gorm.io/gorm"
)

// txKey — ключ context для передачи открытой транзакции между репозиториями.
type txKey struct{}

// ContextWithTx кладёт транзакцию GORM в context.
// Используется в CommitTerminal: side effect (начисление подписки) выполняется
// в той же транзакции, что и смена статуса платежа.
func ContextWithTx(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// dbFromContext возвращает транзакцию из context или fallback.
func dbFromContext(ctx context.Context, fallback *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return fallback
}
