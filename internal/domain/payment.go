// Package domain содержит доменные сущности billing-сервиса:
// платежи, пользователей, тарифы подписки и правила переходов статусов.
package domain

import "time"

// SubscriptionTier — тариф подписки.
type SubscriptionTier string

const (
	TierFree  SubscriptionTier = "FREE"
	TierPro   SubscriptionTier = "PRO"
	TierUltra SubscriptionTier = "ULTRA"
)

// ParseTier валидирует строку тарифа из запроса.
// Бесплатный тариф не покупается, поэтому для платежей он невалиден.
func ParseTier(raw string) (SubscriptionTier, error) {
	switch SubscriptionTier(raw) {
	case TierPro:
		return TierPro, nil
	case TierUltra:
		return TierUltra, nil
	default:
		return "", ErrUnknownTier
	}
}

// PaymentStatus — статус платежа во внутренней модели.
type PaymentStatus string

const (
	// StatusPending — платёж создан, пользователь ещё не оплатил.
	StatusPending PaymentStatus = "PENDING"

	// StatusWaitingForCapture — оплата прошла, ждём подтверждения списания.
	StatusWaitingForCapture PaymentStatus = "WAITING_FOR_CAPTURE"

	// StatusSucceeded — платёж завершён, подписка должна быть начислена.
	StatusSucceeded PaymentStatus = "SUCCEEDED"

	// StatusCanceled — платёж отменён или отклонён шлюзом.
	StatusCanceled PaymentStatus = "CANCELED"
)

// IsTerminal возвращает true для конечных статусов.
// Из терминального статуса платёж уже не выходит.
func (s PaymentStatus) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusCanceled
}

// MapGatewayStatus переводит статус платёжного шлюза во внутренний статус.
// Неизвестные значения трактуем как PENDING: так неожиданный статус шлюза
// не ломает сверку, а платёж остаётся в работе до следующей проверки.
func MapGatewayStatus(raw string) PaymentStatus {
	switch raw {
	case "pending":
		return StatusPending
	case "waiting_for_capture":
		return StatusWaitingForCapture
	case "succeeded":
		return StatusSucceeded
	case "canceled":
		return StatusCanceled
	default:
		return StatusPending
	}
}

// Payment — платёж за подписку.
type Payment struct {
	ID               string           // UUID во внутренней БД
	GatewayPaymentID string           // ID платежа на стороне шлюза (источник истины)
	UserID           string           // ID пользователя-покупателя
	Tier             SubscriptionTier // Оплачиваемый тариф
	AmountKopecks    int64            // Сумма в копейках
	Status           PaymentStatus    // Текущий статус
	ConfirmationURL  string           // URL для оплаты на стороне шлюза
	Description      string           // Описание платежа для шлюза
	ErrorMessage     *string          // Причина отмены (для CANCELED)
	ProcessedAt      *time.Time       // Время перехода в терминальный статус
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
