package domain

import (
	"net/mail"
	"strings"
	"time"
	"unicode"
)

// User — пользователь billing-сервиса.
type User struct {
	ID                    string           // UUID
	Email                 string           // Уникальный email (логин)
	Name                  string           // Отображаемое имя
	PasswordHash          string           // bcrypt хэш пароля
	SubscriptionTier      SubscriptionTier // Текущий тариф
	SubscriptionExpiresAt *time.Time       // Окончание подписки (nil для FREE)
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// HasActiveSubscription возвращает true, если платная подписка ещё действует.
func (u *User) HasActiveSubscription(now time.Time) bool {
	if u.SubscriptionTier == TierFree || u.SubscriptionTier == "" {
		return false
	}
	return u.SubscriptionExpiresAt != nil && u.SubscriptionExpiresAt.After(now)
}

// Validate проверяет корректность данных пользователя при регистрации.
func (u *User) Validate() error {
	if err := ValidateEmail(u.Email); err != nil {
		return err
	}
	return ValidateName(u.Name)
}

// ValidateEmail проверяет формат email.
func ValidateEmail(email string) error {
	if email == "" {
		return ErrInvalidEmail
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return ErrInvalidEmail
	}
	return nil
}

// ValidateName проверяет имя пользователя.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyName
	}
	return nil
}

// ValidatePassword проверяет стойкость пароля:
// минимум 8 символов, хотя бы одна буква и одна цифра.
func ValidatePassword(password string) error {
	if len(password) < 8 {
		return ErrWeakPassword
	}

	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}

	if !hasLetter || !hasDigit {
		return ErrWeakPassword
	}
	return nil
}
