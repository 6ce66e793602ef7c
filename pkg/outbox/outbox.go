// Package outbox реализует Outbox Pattern для гарантированной доставки событий платежей в Kafka.
// Смена статуса платежа и запись события пишутся в одной транзакции MySQL.
// Отдельный Worker читает outbox и отправляет события в Kafka (at-least-once).
package outbox

import (
	"encoding/json"
	"time"
)

// Outbox — запись в таблице outbox для гарантированной доставки в Kafka.
type Outbox struct {
	ID          string            // UUID записи
	AggregateID string            // ID платежа во внутренней БД
	EventType   string            // Тип события (payment.succeeded / payment.canceled)
	Topic       string            // Kafka топик
	MessageKey  string            // Ключ сообщения (для партиционирования)
	Payload     []byte            // JSON payload
	Headers     map[string]string // Headers для Kafka (trace_id)
	CreatedAt   time.Time         // Время создания
	ProcessedAt *time.Time        // Время обработки (nil = не обработана)
	RetryCount  int               // Количество попыток отправки
	LastError   *string           // Последняя ошибка
}

// HeadersJSON возвращает headers в формате JSON для БД.
func (o *Outbox) HeadersJSON() ([]byte, error) {
	if o.Headers == nil {
		return nil, nil
	}
	return json.Marshal(o.Headers)
}

// SetHeadersFromJSON устанавливает headers из JSON.
func (o *Outbox) SetHeadersFromJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &o.Headers)
}
