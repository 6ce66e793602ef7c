// Package repository содержит реализацию доступа к данным billing-сервиса.
package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"example.com/billing-system/internal/domain"
	"example.com/billing-system/pkg/outbox"
)

// PaymentRepository определяет интерфейс для работы с платежами в БД.
type PaymentRepository interface {
	// Create создаёт новый платёж.
	Create(ctx context.Context, payment *domain.Payment) error

	// GetByGatewayID возвращает платёж по ID на стороне шлюза.
	GetByGatewayID(ctx context.Context, gatewayPaymentID string) (*domain.Payment, error)

	// UpdateReconciled сохраняет нетерминальный статус после сверки со шлюзом.
	// Терминальные записи не трогает (защита от отката статуса).
	UpdateReconciled(ctx context.Context, payment *domain.Payment) error

	// CommitTerminal атомарно переводит платёж в терминальный статус.
	// Возвращает (true, nil), если переход выполнен этим вызовом.
	// (false, nil) означает, что платёж уже в терминальном статусе (проигранная гонка):
	// ни sideEffect, ни запись события не выполняются.
	// sideEffect выполняется в той же транзакции (транзакция доступна через ContextWithTx).
	// event при nil не записывается.
	CommitTerminal(ctx context.Context, payment *domain.Payment, event *outbox.Outbox, sideEffect func(txCtx context.Context) error) (bool, error)

	// GetStuckPending возвращает нетерминальные платежи старше указанного времени.
	// Используется фоновой сверкой платежей, по которым webhook не дошёл.
	GetStuckPending(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Payment, error)
}

// =============================================================================
// GORM модель
// =============================================================================

// PaymentModel — GORM модель для таблицы payments.
type PaymentModel struct {
	ID               string     `gorm:"column:id;type:varchar(36);primaryKey"`
	GatewayPaymentID string     `gorm:"column:gateway_payment_id;type:varchar(64);not null;uniqueIndex"`
	UserID           string     `gorm:"column:user_id;type:varchar(36);not null;index"`
	Tier             string     `gorm:"column:tier;type:varchar(20);not null"`
	AmountKopecks    int64      `gorm:"column:amount_kopecks;not null"`
	Status           string     `gorm:"column:status;type:varchar(20);not null;index"`
	ConfirmationURL  string     `gorm:"column:confirmation_url;type:varchar(512)"`
	Description      string     `gorm:"column:description;type:varchar(255)"`
	ErrorMessage     *string    `gorm:"column:error_message;type:text"`
	ProcessedAt      *time.Time `gorm:"column:processed_at"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (PaymentModel) TableName() string {
	return "payments"
}

// toDomain конвертирует GORM модель в доменную сущность.
func (m *PaymentModel) toDomain() *domain.Payment {
	return &domain.Payment{
		ID:               m.ID,
		GatewayPaymentID: m.GatewayPaymentID,
		UserID:           m.UserID,
		Tier:             domain.SubscriptionTier(m.Tier),
		AmountKopecks:    m.AmountKopecks,
		Status:           domain.PaymentStatus(m.Status),
		ConfirmationURL:  m.ConfirmationURL,
		Description:      m.Description,
		ErrorMessage:     m.ErrorMessage,
		ProcessedAt:      m.ProcessedAt,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

// paymentModelFromDomain конвертирует доменную сущность в GORM модель.
func paymentModelFromDomain(p *domain.Payment) *PaymentModel {
	return &PaymentModel{
		ID:               p.ID,
		GatewayPaymentID: p.GatewayPaymentID,
		UserID:           p.UserID,
		Tier:             string(p.Tier),
		AmountKopecks:    p.AmountKopecks,
		Status:           string(p.Status),
		ConfirmationURL:  p.ConfirmationURL,
		Description:      p.Description,
		ErrorMessage:     p.ErrorMessage,
		ProcessedAt:      p.ProcessedAt,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

// nonTerminalStatuses — статусы, из которых разрешён переход.
var nonTerminalStatuses = []string{
	string(domain.StatusPending),
	string(domain.StatusWaitingForCapture),
}

// =============================================================================
// Реализация репозитория
// =============================================================================

// paymentRepository — GORM реализация PaymentRepository.
type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository создаёт новый репозиторий платежей.
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

// Create создаёт новый платёж.
func (r *paymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	model := paymentModelFromDomain(payment)

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		// Дубликат gateway_payment_id: платёж шлюза уже зарегистрирован
		if isDuplicateKeyError(err) {
			return domain.ErrDuplicatePayment
		}
		return err
	}

	// Обновляем timestamps в доменной сущности
	payment.CreatedAt = model.CreatedAt
	payment.UpdatedAt = model.UpdatedAt

	return nil
}

// GetByGatewayID возвращает платёж по ID на стороне шлюза.
func (r *paymentRepository) GetByGatewayID(ctx context.Context, gatewayPaymentID string) (*domain.Payment, error) {
	var model PaymentModel

	if err := r.db.WithContext(ctx).
		Where("gateway_payment_id = ?", gatewayPaymentID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// UpdateReconciled сохраняет результат сверки для нетерминального платежа:
// статус, error_message и отметку времени сверки processed_at.
// WHERE по нетерминальным статусам гарантирует, что параллельно завершённый
// платёж не будет откатан назад в PENDING.
func (r *paymentRepository) UpdateReconciled(ctx context.Context, payment *domain.Payment) error {
	now := time.Now()

	result := r.db.WithContext(ctx).
		Model(&PaymentModel{}).
		Where("id = ? AND status IN ?", payment.ID, nonTerminalStatuses).
		Updates(map[string]interface{}{
			"status":        string(payment.Status),
			"error_message": payment.ErrorMessage,
			"processed_at":  now,
			"updated_at":    now,
		})

	if result.Error != nil {
		return result.Error
	}

	// RowsAffected == 0: платёж уже терминальный или не найден.
	// Для нетерминального обновления это не ошибка, просто нечего менять.
	if result.RowsAffected > 0 {
		payment.ProcessedAt = &now
		payment.UpdatedAt = now
	}
	return nil
}

// CommitTerminal атомарно переводит платёж в терминальный статус.
// Весь переход (CAS статуса + side effect + запись outbox) выполняется
// в одной транзакции: либо всё, либо ничего.
func (r *paymentRepository) CommitTerminal(ctx context.Context, payment *domain.Payment, event *outbox.Outbox, sideEffect func(txCtx context.Context) error) (bool, error) {
	committed := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()

		// CAS: переход разрешён только из нетерминального статуса.
		// Проигранная гонка (параллельный webhook / ручная проверка) даёт RowsAffected == 0.
		result := tx.Model(&PaymentModel{}).
			Where("id = ? AND status IN ?", payment.ID, nonTerminalStatuses).
			Updates(map[string]interface{}{
				"status":        string(payment.Status),
				"error_message": payment.ErrorMessage,
				"processed_at":  now,
				"updated_at":    now,
			})
		if result.Error != nil {
			return result.Error
		}

		if result.RowsAffected == 0 {
			// Платёж уже терминальный: подписка начислена другим вызовом
			return nil
		}

		// Side effect (начисление подписки) в той же транзакции
		if sideEffect != nil {
			if err := sideEffect(ContextWithTx(ctx, tx)); err != nil {
				return err
			}
		}

		// Событие для Kafka через outbox (та же транзакция)
		if event != nil {
			if err := tx.Create(outbox.ModelFromDomain(event)).Error; err != nil {
				return err
			}
		}

		committed = true
		payment.ProcessedAt = &now
		payment.UpdatedAt = now
		return nil
	})

	if err != nil {
		return false, err
	}
	return committed, nil
}

// GetStuckPending возвращает нетерминальные платежи старше указанного времени.
func (r *paymentRepository) GetStuckPending(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Payment, error) {
	var models []PaymentModel

	threshold := time.Now().Add(-olderThan)

	if err := r.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?", nonTerminalStatuses, threshold).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	payments := make([]*domain.Payment, 0, len(models))
	for _, m := range models {
		payments = append(payments, m.toDomain())
	}

	return payments, nil
}

// isDuplicateKeyError проверяет, является ли ошибка дубликатом ключа.
// MySQL возвращает ошибку с кодом 1062 при попытке вставить дубликат.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	// GORM v2 имеет ErrDuplicatedKey, также проверяем текст ошибки MySQL
	errMsg := err.Error()
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(errMsg, "Duplicate entry") ||
		strings.Contains(errMsg, "1062")
}
