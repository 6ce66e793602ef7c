package service

import (
	"context"
	"time"

	"example.com/billing-system/internal/domain"
	"example.com/billing-system/internal/repository"
	"example.com/billing-system/pkg/logger"
)

// subscriptionService — реализация SubscriptionGrantor поверх UserRepository.
type subscriptionService struct {
	users repository.UserRepository
}

// NewSubscriptionService создаёт сервис начисления подписок.
func NewSubscriptionService(users repository.UserRepository) SubscriptionGrantor {
	return &subscriptionService{users: users}
}

// Grant выставляет тариф и продлевает подписку на durationDays дней.
// Выполняется в транзакции завершения платежа (транзакция приходит в ctx),
// поэтому начисление откатывается вместе со сменой статуса при ошибке.
func (s *subscriptionService) Grant(ctx context.Context, userID string, tier domain.SubscriptionTier, durationDays int) error {
	log := logger.FromContext(ctx)

	duration := time.Duration(durationDays) * 24 * time.Hour

	if err := s.users.ExtendSubscription(ctx, userID, tier, duration); err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("tier", string(tier)).
			Msg("Ошибка начисления подписки")
		return err
	}

	log.Info().
		Str("user_id", userID).
		Str("tier", string(tier)).
		Int("days", durationDays).
		Msg("Подписка начислена")

	return nil
}
