package service

import (
	"context"
	"time"

	"example.com/billing-system/internal/repository"
	"example.com/billing-system/pkg/logger"
)

// ReconcilerConfig — настройки фоновой сверки зависших платежей.
type ReconcilerConfig struct {
	Interval  time.Duration // Интервал между проходами сверки
	OlderThan time.Duration // Минимальный возраст платежа для попадания в сверку
	BatchSize int           // Максимум платежей за один проход
}

// DefaultReconcilerConfig возвращает конфигурацию по умолчанию.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Interval:  time.Minute,
		OlderThan: 5 * time.Minute,
		BatchSize: 100,
	}
}

// Reconciler периодически досверяет нетерминальные платежи со шлюзом.
// Страховка на случай потерянных webhook-доставок: платёж, по которому
// уведомление не дошло, всё равно будет сверен и подписка начислена.
type Reconciler struct {
	payments repository.PaymentRepository
	billing  BillingService
	cfg      ReconcilerConfig
}

// NewReconciler создаёт фоновую сверку платежей.
func NewReconciler(payments repository.PaymentRepository, billing BillingService, cfg ReconcilerConfig) *Reconciler {
	return &Reconciler{
		payments: payments,
		billing:  billing,
		cfg:      cfg,
	}
}

// Run запускает цикл сверки. Блокирует до отмены контекста.
func (r *Reconciler) Run(ctx context.Context) {
	logger.Info().
		Dur("interval", r.cfg.Interval).
		Dur("older_than", r.cfg.OlderThan).
		Msg("Запуск фоновой сверки платежей")

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Остановка фоновой сверки платежей")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep выполняет один проход сверки: выбирает зависшие платежи
// и досверяет каждый со шлюзом через обычный CheckPayment.
func (r *Reconciler) Sweep(ctx context.Context) {
	stuck, err := r.payments.GetStuckPending(ctx, r.cfg.OlderThan, r.cfg.BatchSize)
	if err != nil {
		logger.Error().Err(err).Msg("Ошибка выборки зависших платежей")
		return
	}

	if len(stuck) == 0 {
		return
	}

	logger.Info().Int("count", len(stuck)).Msg("Сверка зависших платежей")

	for _, payment := range stuck {
		if ctx.Err() != nil {
			return
		}

		// Ошибка одного платежа не останавливает проход:
		// остальные будут сверены, а этот попадёт в следующий.
		if _, err := r.billing.CheckPayment(ctx, payment.GatewayPaymentID); err != nil {
			logger.Warn().
				Err(err).
				Str("gateway_payment_id", payment.GatewayPaymentID).
				Msg("Ошибка сверки зависшего платежа")
		}
	}
}
