// Package webhook реализует проверку подписи входящих уведомлений платёжного шлюза.
//
// Подпись считается как HMAC-SHA256 (hex) от канонического представления JSON тела:
// ключи отсортированы, разделители компактные, не-ASCII символы не экранируются.
// Обе стороны строят одну и ту же байтовую строку независимо от порядка ключей
// и форматирования исходного JSON.
package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"example.com/billing-system/pkg/logger"
)

// Verifier проверяет HMAC подписи webhook-уведомлений.
type Verifier struct {
	secret string
}

// NewVerifier создаёт Verifier с общим секретом.
// Пустой секрет отключает проверку (режим разработки).
func NewVerifier(secret string) *Verifier {
	if secret == "" {
		logger.Warn().Msg("Секрет webhook не задан: проверка подписи ОТКЛЮЧЕНА, все уведомления будут приниматься")
	}
	return &Verifier{secret: secret}
}

// Verify проверяет подпись для полезной нагрузки webhook.
// Возвращает true, если подпись корректна.
// При пустом секрете проверка пропускается и любое уведомление считается валидным.
func (v *Verifier) Verify(payload map[string]any, signature string) bool {
	if v.secret == "" {
		logger.Warn().Msg("Webhook принят без проверки подписи (секрет не настроен)")
		return true
	}

	canonical, err := CanonicalJSON(payload)
	if err != nil {
		logger.Error().Err(err).Msg("Ошибка канонизации webhook payload")
		return false
	}

	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write(canonical)
	expected := mac.Sum(nil)

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	// hmac.Equal — сравнение за постоянное время (защита от timing attack)
	return hmac.Equal(expected, provided)
}

// Sign вычисляет hex подпись для payload. Используется в тестах и для отладки.
func (v *Verifier) Sign(payload map[string]any) (string, error) {
	canonical, err := CanonicalJSON(payload)
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// CanonicalJSON сериализует payload в канонический JSON:
// отсортированные ключи, компактные разделители, без экранирования HTML и не-ASCII.
// encoding/json сортирует ключи map автоматически; Encoder с SetEscapeHTML(false)
// оставляет кириллицу и символы <>& как есть.
func CanonicalJSON(payload map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(payload); err != nil {
		return nil, err
	}

	// Encoder добавляет завершающий перевод строки
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
