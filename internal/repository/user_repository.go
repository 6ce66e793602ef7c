package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/billing-system/internal/domain"
)

// UserRepository определяет интерфейс для работы с пользователями в БД.
type UserRepository interface {
	// Create создаёт нового пользователя.
	Create(ctx context.Context, user *domain.User) error

	// GetByID возвращает пользователя по ID.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetByEmail возвращает пользователя по email.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// ExistsByEmail проверяет, существует ли пользователь с таким email.
	ExistsByEmail(ctx context.Context, email string) (bool, error)

	// ExtendSubscription выставляет тариф и продлевает подписку на duration.
	// Если текущая подписка ещё действует, срок прибавляется к её окончанию.
	// Работает внутри транзакции из ContextWithTx, если она есть в ctx.
	ExtendSubscription(ctx context.Context, userID string, tier domain.SubscriptionTier, duration time.Duration) error
}

// UserModel — GORM модель для таблицы users.
// Отделена от доменной сущности для гибкости.
type UserModel struct {
	ID                    string     `gorm:"column:id;type:varchar(36);primaryKey"`
	Name                  string     `gorm:"column:name;type:varchar(100);not null"`
	Email                 string     `gorm:"column:email;type:varchar(255);uniqueIndex;not null"`
	Password              string     `gorm:"column:password;type:varchar(255);not null"`
	SubscriptionTier      string     `gorm:"column:subscription_tier;type:varchar(20);not null;default:'FREE'"`
	SubscriptionExpiresAt *time.Time `gorm:"column:subscription_expires_at"`
	CreatedAt             time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (UserModel) TableName() string {
	return "users"
}

// toDomain конвертирует GORM модель в доменную сущность.
func (m *UserModel) toDomain() *domain.User {
	return &domain.User{
		ID:                    m.ID,
		Name:                  m.Name,
		Email:                 m.Email,
		PasswordHash:          m.Password,
		SubscriptionTier:      domain.SubscriptionTier(m.SubscriptionTier),
		SubscriptionExpiresAt: m.SubscriptionExpiresAt,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}
}

// userModelFromDomain конвертирует доменную сущность в GORM модель.
func userModelFromDomain(u *domain.User) *UserModel {
	return &UserModel{
		ID:                    u.ID,
		Name:                  u.Name,
		Email:                 u.Email,
		Password:              u.PasswordHash,
		SubscriptionTier:      string(u.SubscriptionTier),
		SubscriptionExpiresAt: u.SubscriptionExpiresAt,
		CreatedAt:             u.CreatedAt,
		UpdatedAt:             u.UpdatedAt,
	}
}

// userRepository — GORM реализация UserRepository.
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository создаёт новый репозиторий пользователей.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// Create создаёт нового пользователя в БД.
func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	model := userModelFromDomain(user)

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		// Проверяем на дубликат email (MySQL error 1062)
		if isDuplicateKeyError(err) {
			return domain.ErrEmailExists
		}
		return err
	}

	// Обновляем timestamps в доменной сущности
	user.CreatedAt = model.CreatedAt
	user.UpdatedAt = model.UpdatedAt

	return nil
}

// GetByID возвращает пользователя по ID.
func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	var model UserModel

	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// GetByEmail возвращает пользователя по email.
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	var model UserModel

	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// ExistsByEmail проверяет существование пользователя с заданным email.
func (r *userRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var count int64

	if err := r.db.WithContext(ctx).Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}

	return count > 0, nil
}

// ExtendSubscription выставляет тариф и продлевает подписку.
// Если текущая подписка не истекла, новый срок прибавляется к её окончанию
// (пользователь не теряет оплаченные дни при повторной покупке).
// Строка пользователя читается с SELECT ... FOR UPDATE: два одновременно
// завершившихся платежа одного пользователя продлевают подписку последовательно,
// ни одно продление не теряется.
func (r *userRepository) ExtendSubscription(ctx context.Context, userID string, tier domain.SubscriptionTier, duration time.Duration) error {
	db := dbFromContext(ctx, r.db).WithContext(ctx)

	var model UserModel
	if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", userID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrUserNotFound
		}
		return err
	}

	now := time.Now()
	base := now
	if model.SubscriptionExpiresAt != nil && model.SubscriptionExpiresAt.After(now) {
		base = *model.SubscriptionExpiresAt
	}
	expiresAt := base.Add(duration)

	result := db.Model(&UserModel{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"subscription_tier":       string(tier),
			"subscription_expires_at": expiresAt,
			"updated_at":              now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrUserNotFound
	}

	return nil
}
