// Package service содержит бизнес-логику billing-сервиса:
// создание платежей, сверку со шлюзом, начисление подписки и обработку webhook.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"example.com/billing-system/internal/domain"
	"example.com/billing-system/internal/repository"
	"example.com/billing-system/internal/yookassa"
	"example.com/billing-system/pkg/config"
	"example.com/billing-system/pkg/kafka"
	"example.com/billing-system/pkg/logger"
	"example.com/billing-system/pkg/metrics"
	"example.com/billing-system/pkg/outbox"
)

// grantDays — срок подписки, начисляемый за один успешный платёж.
const grantDays = 30

// Типы событий платежей для Kafka.
const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentCanceled  = "payment.canceled"
)

// SubscriptionGrantor начисляет подписку пользователю.
// Вызывается внутри транзакции CommitTerminal (транзакция в ctx).
type SubscriptionGrantor interface {
	Grant(ctx context.Context, userID string, tier domain.SubscriptionTier, durationDays int) error
}

// SignatureVerifier проверяет подпись webhook-уведомлений.
type SignatureVerifier interface {
	Verify(payload map[string]any, signature string) bool
}

// BillingService определяет операции с платежами за подписку.
type BillingService interface {
	// CreatePayment создаёт платёж на шлюзе и регистрирует его во внутренней БД.
	CreatePayment(ctx context.Context, userID string, tier domain.SubscriptionTier) (*domain.Payment, error)

	// CheckPayment сверяет платёж с шлюзом и применяет актуальный статус.
	// При переходе в SUCCEEDED начисляет подписку ровно один раз.
	CheckPayment(ctx context.Context, gatewayPaymentID string) (*domain.Payment, error)

	// HandleWebhook обрабатывает уведомление шлюза.
	// Возвращает true, если уведомление привело к сверке платежа.
	// Любая ошибка обработки даёт false: шлюзу всегда отвечаем 200,
	// недоставленный платёж доберёт фоновая сверка.
	HandleWebhook(ctx context.Context, payload map[string]any, signature string) bool
}

// billingService — реализация BillingService.
type billingService struct {
	payments repository.PaymentRepository
	gateway  yookassa.Client
	grantor  SubscriptionGrantor
	verifier SignatureVerifier
	pricing  config.PricingConfig
}

// NewBillingService создаёт сервис платежей.
func NewBillingService(
	payments repository.PaymentRepository,
	gateway yookassa.Client,
	grantor SubscriptionGrantor,
	verifier SignatureVerifier,
	pricing config.PricingConfig,
) BillingService {
	return &billingService{
		payments: payments,
		gateway:  gateway,
		grantor:  grantor,
		verifier: verifier,
		pricing:  pricing,
	}
}

// =============================================================================
// Создание платежа
// =============================================================================

// CreatePayment создаёт платёж на шлюзе и регистрирует его во внутренней БД.
func (s *billingService) CreatePayment(ctx context.Context, userID string, tier domain.SubscriptionTier) (*domain.Payment, error) {
	log := logger.FromContext(ctx)

	priceRubles, err := s.priceRubles(tier)
	if err != nil {
		return nil, err
	}

	description := fmt.Sprintf("Подписка %s для пользователя %s", tier, userID)

	intent, err := s.gateway.CreateIntent(ctx, yookassa.CreateIntentRequest{
		AmountRubles: fmt.Sprintf("%d.00", priceRubles),
		Description:  description,
		UserID:       userID,
		Tier:         string(tier),
	})
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("tier", string(tier)).
			Msg("Ошибка создания платежа на шлюзе")
		return nil, err
	}

	payment := &domain.Payment{
		ID:               uuid.New().String(),
		GatewayPaymentID: intent.ID,
		UserID:           userID,
		Tier:             tier,
		AmountKopecks:    int64(priceRubles) * 100,
		Status:           domain.MapGatewayStatus(intent.Status),
		ConfirmationURL:  intent.Confirmation.ConfirmationURL,
		Description:      description,
	}

	if err := s.payments.Create(ctx, payment); err != nil {
		log.Error().
			Err(err).
			Str("gateway_payment_id", intent.ID).
			Msg("Ошибка сохранения платежа в БД")
		return nil, err
	}

	metrics.PaymentsCreatedTotal.WithLabelValues(string(tier)).Inc()

	log.Info().
		Str("payment_id", payment.ID).
		Str("gateway_payment_id", payment.GatewayPaymentID).
		Str("user_id", userID).
		Str("tier", string(tier)).
		Int64("amount_kopecks", payment.AmountKopecks).
		Msg("Платёж создан")

	return payment, nil
}

// priceRubles возвращает цену тарифа в рублях.
func (s *billingService) priceRubles(tier domain.SubscriptionTier) (int, error) {
	var price int
	switch tier {
	case domain.TierPro:
		price = s.pricing.ProMonthlyPrice
	case domain.TierUltra:
		price = s.pricing.UltraMonthlyPrice
	default:
		return 0, domain.ErrUnknownTier
	}

	if price <= 0 {
		return 0, domain.ErrInvalidTierPrice
	}
	return price, nil
}

// =============================================================================
// Сверка со шлюзом
// =============================================================================

// CheckPayment сверяет платёж с шлюзом и применяет актуальный статус.
// Источник истины — ответ шлюза, а не webhook или локальная запись.
func (s *billingService) CheckPayment(ctx context.Context, gatewayPaymentID string) (*domain.Payment, error) {
	log := logger.FromContext(ctx)

	payment, err := s.payments.GetByGatewayID(ctx, gatewayPaymentID)
	if err != nil {
		return nil, err
	}

	// Успешный платёж финален: подписка уже начислена, шлюз не опрашиваем
	if payment.Status == domain.StatusSucceeded {
		return payment, nil
	}

	intent, err := s.gateway.FindIntent(ctx, gatewayPaymentID)
	if err != nil {
		metrics.ReconciliationsTotal.WithLabelValues("error").Inc()
		log.Error().
			Err(err).
			Str("gateway_payment_id", gatewayPaymentID).
			Msg("Ошибка сверки платежа со шлюзом")
		return nil, err
	}

	newStatus := domain.MapGatewayStatus(intent.Status)

	switch newStatus {
	case domain.StatusSucceeded:
		return s.commitSucceeded(ctx, payment)

	case domain.StatusCanceled:
		return s.commitCanceled(ctx, payment, intent)

	default:
		// Нетерминальный статус: сохраняем результат сверки и ждём следующей проверки.
		// processed_at и error_message обновляются при каждой успешной сверке,
		// даже если статус не изменился.
		payment.Status = newStatus
		payment.ErrorMessage = nil
		if intent.CancellationDetails != nil && intent.CancellationDetails.Reason != "" {
			reason := intent.CancellationDetails.Reason
			payment.ErrorMessage = &reason
		}
		if err := s.payments.UpdateReconciled(ctx, payment); err != nil {
			return nil, err
		}

		metrics.ReconciliationsTotal.WithLabelValues("pending").Inc()
		log.Debug().
			Str("gateway_payment_id", gatewayPaymentID).
			Str("status", string(newStatus)).
			Msg("Платёж ещё не завершён")
		return payment, nil
	}
}

// commitSucceeded переводит платёж в SUCCEEDED и начисляет подписку.
// Начисление и смена статуса атомарны: CommitTerminal выполняет их в одной
// транзакции, а CAS по статусу гарантирует ровно одно начисление на платёж
// при любом числе конкурентных webhook и ручных проверок.
func (s *billingService) commitSucceeded(ctx context.Context, payment *domain.Payment) (*domain.Payment, error) {
	log := logger.FromContext(ctx)

	payment.Status = domain.StatusSucceeded
	payment.ErrorMessage = nil

	event, err := s.buildEvent(ctx, payment, EventPaymentSucceeded)
	if err != nil {
		return nil, err
	}

	committed, err := s.payments.CommitTerminal(ctx, payment, event, func(txCtx context.Context) error {
		return s.grantor.Grant(txCtx, payment.UserID, payment.Tier, grantDays)
	})
	if err != nil {
		metrics.ReconciliationsTotal.WithLabelValues("error").Inc()
		log.Error().
			Err(err).
			Str("gateway_payment_id", payment.GatewayPaymentID).
			Msg("Ошибка завершения платежа")
		return nil, err
	}

	if !committed {
		// Гонка проиграна: параллельная сверка уже завершила платёж и начислила
		// подписку. Возвращаем зафиксированное победителем состояние из БД.
		log.Info().
			Str("gateway_payment_id", payment.GatewayPaymentID).
			Msg("Платёж уже завершён параллельной сверкой")
		return s.payments.GetByGatewayID(ctx, payment.GatewayPaymentID)
	}

	metrics.ReconciliationsTotal.WithLabelValues("succeeded").Inc()
	metrics.SubscriptionGrantsTotal.WithLabelValues(string(payment.Tier)).Inc()

	log.Info().
		Str("payment_id", payment.ID).
		Str("gateway_payment_id", payment.GatewayPaymentID).
		Str("user_id", payment.UserID).
		Str("tier", string(payment.Tier)).
		Int("days", grantDays).
		Msg("Платёж успешен, подписка начислена")

	return payment, nil
}

// commitCanceled переводит платёж в CANCELED с причиной отмены.
func (s *billingService) commitCanceled(ctx context.Context, payment *domain.Payment, intent *yookassa.Intent) (*domain.Payment, error) {
	log := logger.FromContext(ctx)

	payment.Status = domain.StatusCanceled
	if intent.CancellationDetails != nil && intent.CancellationDetails.Reason != "" {
		reason := intent.CancellationDetails.Reason
		payment.ErrorMessage = &reason
	}

	event, err := s.buildEvent(ctx, payment, EventPaymentCanceled)
	if err != nil {
		return nil, err
	}

	committed, err := s.payments.CommitTerminal(ctx, payment, event, nil)
	if err != nil {
		metrics.ReconciliationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	if !committed {
		// Гонка проиграна: возвращаем зафиксированное победителем состояние из БД
		return s.payments.GetByGatewayID(ctx, payment.GatewayPaymentID)
	}

	metrics.ReconciliationsTotal.WithLabelValues("canceled").Inc()
	log.Info().
		Str("payment_id", payment.ID).
		Str("gateway_payment_id", payment.GatewayPaymentID).
		Str("reason", stringOrEmpty(payment.ErrorMessage)).
		Msg("Платёж отменён")

	return payment, nil
}

// paymentEvent — payload события платежа для Kafka.
type paymentEvent struct {
	Event            string `json:"event"`
	PaymentID        string `json:"payment_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	UserID           string `json:"user_id"`
	Tier             string `json:"tier"`
	AmountKopecks    int64  `json:"amount_kopecks"`
	Status           string `json:"status"`
	Reason           string `json:"reason,omitempty"`
	OccurredAt       string `json:"occurred_at"`
}

// buildEvent формирует запись outbox для терминального события платежа.
func (s *billingService) buildEvent(ctx context.Context, payment *domain.Payment, eventType string) (*outbox.Outbox, error) {
	payload, err := json.Marshal(paymentEvent{
		Event:            eventType,
		PaymentID:        payment.ID,
		GatewayPaymentID: payment.GatewayPaymentID,
		UserID:           payment.UserID,
		Tier:             string(payment.Tier),
		AmountKopecks:    payment.AmountKopecks,
		Status:           string(payment.Status),
		Reason:           stringOrEmpty(payment.ErrorMessage),
		OccurredAt:       time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации события платежа: %w", err)
	}

	headers := map[string]string{}
	if traceID := logger.TraceIDFromContext(ctx); traceID != "" {
		headers[kafka.HeaderTraceID] = traceID
	}

	return &outbox.Outbox{
		ID:          uuid.New().String(),
		AggregateID: payment.ID,
		EventType:   eventType,
		Topic:       kafka.TopicPaymentEvents,
		MessageKey:  payment.GatewayPaymentID,
		Payload:     payload,
		Headers:     headers,
	}, nil
}

// =============================================================================
// Обработка webhook
// =============================================================================

// HandleWebhook обрабатывает уведомление шлюза.
// Уведомлению не верим: из него берём только ID платежа, статус перечитываем
// со шлюза через CheckPayment.
func (s *billingService) HandleWebhook(ctx context.Context, payload map[string]any, signature string) bool {
	log := logger.FromContext(ctx)

	// Подпись проверяется только когда она передана: уведомление без подписи
	// допускается, потому что статус всё равно перечитывается со шлюза
	if signature != "" && !s.verifier.Verify(payload, signature) {
		metrics.WebhookDeliveriesTotal.WithLabelValues("ignored").Inc()
		log.Warn().Msg("Webhook отклонён: невалидная подпись")
		return false
	}

	gatewayPaymentID := extractPaymentID(payload)
	if gatewayPaymentID == "" {
		metrics.WebhookDeliveriesTotal.WithLabelValues("ignored").Inc()
		log.Warn().Msg("Webhook отклонён: отсутствует object.id")
		return false
	}

	eventType, _ := payload["event"].(string)
	log.Info().
		Str("event", eventType).
		Str("gateway_payment_id", gatewayPaymentID).
		Msg("Получен webhook платёжного шлюза")

	if _, err := s.CheckPayment(ctx, gatewayPaymentID); err != nil {
		// Ошибка не возвращается наружу: шлюз получит 200,
		// платёж доберёт фоновая сверка
		metrics.WebhookDeliveriesTotal.WithLabelValues("ignored").Inc()
		log.Error().
			Err(err).
			Str("gateway_payment_id", gatewayPaymentID).
			Msg("Ошибка обработки webhook")
		return false
	}

	metrics.WebhookDeliveriesTotal.WithLabelValues("processed").Inc()
	return true
}

// extractPaymentID достаёт ID платежа из payload уведомления.
func extractPaymentID(payload map[string]any) string {
	object, ok := payload["object"].(map[string]any)
	if !ok {
		return ""
	}
	id, _ := object["id"].(string)
	return id
}

// stringOrEmpty разыменовывает опциональную строку.
func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
