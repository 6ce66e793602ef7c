package domain

import "errors"

// Доменные ошибки billing-сервиса.
// Сентинельные ошибки проверяются через errors.Is в handler для маппинга на HTTP статусы.
var (
	// Платежи
	ErrPaymentNotFound  = errors.New("платёж не найден")
	ErrUnknownTier      = errors.New("неизвестный тариф подписки")
	ErrInvalidTierPrice = errors.New("для тарифа не настроена цена")
	ErrDuplicatePayment = errors.New("платёж с таким gateway_payment_id уже существует")

	// Платёжный шлюз
	ErrGateway            = errors.New("ошибка платёжного шлюза")
	ErrGatewayUnavailable = errors.New("платёжный шлюз недоступен")

	// Пользователи
	ErrUserNotFound       = errors.New("пользователь не найден")
	ErrInvalidCredentials = errors.New("неверный email или пароль")
	ErrEmailExists        = errors.New("пользователь с таким email уже существует")
	ErrInvalidEmail       = errors.New("некорректный email")
	ErrEmptyName          = errors.New("имя не может быть пустым")
	ErrWeakPassword       = errors.New("пароль должен содержать минимум 8 символов, буквы и цифры")
)
