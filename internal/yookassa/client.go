// Package yookassa реализует HTTP клиент платёжного шлюза YooKassa.
//
// Шлюз — источник истины о статусе платежа. Клиент используется и при создании
// платежа, и при сверке: webhook-уведомлению не верим, статус перечитываем отсюда.
// Все вызовы проходят через Circuit Breaker: при недоступности шлюза запросы
// отклоняются мгновенно без ожидания timeout.
package yookassa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"example.com/billing-system/internal/domain"
	"example.com/billing-system/pkg/circuitbreaker"
	"example.com/billing-system/pkg/config"
	"example.com/billing-system/pkg/logger"
)

// =============================================================================
// Типы API YooKassa
// =============================================================================

// Amount — сумма платежа в формате YooKassa (строка с двумя знаками, код валюты).
type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// Confirmation — способ подтверждения оплаты.
// При создании передаём type=redirect + return_url, в ответе приходит confirmation_url.
type Confirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

// Metadata — произвольные данные, которые шлюз возвращает в ответах и webhook.
type Metadata struct {
	UserID string `json:"user_id"`
	Tier   string `json:"tier"`
}

// CancellationDetails — причина отмены платежа.
type CancellationDetails struct {
	Party  string `json:"party"`
	Reason string `json:"reason"`
}

// createRequest — тело запроса POST /payments.
type createRequest struct {
	Amount       Amount       `json:"amount"`
	Capture      bool         `json:"capture"`
	Confirmation Confirmation `json:"confirmation"`
	Description  string       `json:"description"`
	Metadata     Metadata     `json:"metadata"`
}

// Intent — платёж на стороне шлюза.
type Intent struct {
	ID                  string               `json:"id"`
	Status              string               `json:"status"`
	Paid                bool                 `json:"paid"`
	Amount              Amount               `json:"amount"`
	Confirmation        Confirmation         `json:"confirmation"`
	Description         string               `json:"description"`
	Metadata            Metadata             `json:"metadata"`
	CancellationDetails *CancellationDetails `json:"cancellation_details,omitempty"`
}

// CreateIntentRequest — параметры создания платежа.
type CreateIntentRequest struct {
	AmountRubles string // Сумма в рублях, строка вида "500.00"
	Description  string
	UserID       string
	Tier         string
}

// =============================================================================
// Клиент
// =============================================================================

// Client определяет операции платёжного шлюза.
// Интерфейс для тестируемости (Dependency Inversion).
type Client interface {
	// CreateIntent создаёт платёж на стороне шлюза.
	CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error)

	// FindIntent возвращает актуальное состояние платежа по его ID на шлюзе.
	FindIntent(ctx context.Context, gatewayPaymentID string) (*Intent, error)
}

// client — HTTP реализация Client с Circuit Breaker.
type client struct {
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
	shopID     string
	secretKey  string
	baseURL    string
	returnURL  string
}

// NewClient создаёт клиент YooKassa.
func NewClient(cfg config.YooKassaConfig) Client {
	return &client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    circuitbreaker.New("yookassa"),
		shopID:     cfg.ShopID,
		secretKey:  cfg.SecretKey,
		baseURL:    cfg.BaseURL,
		returnURL:  cfg.ReturnURL,
	}
}

// CreateIntent создаёт платёж на стороне шлюза.
// Каждый вызов отправляется с новым Idempotence-Key: повтор запроса со стороны
// приложения создаёт новый платёж, дедупликация на уровне шлюза не используется.
func (c *client) CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error) {
	body := createRequest{
		Amount: Amount{
			Value:    req.AmountRubles,
			Currency: "RUB",
		},
		Capture: true,
		Confirmation: Confirmation{
			Type:      "redirect",
			ReturnURL: c.returnURL,
		},
		Description: req.Description,
		Metadata: Metadata{
			UserID: req.UserID,
			Tier:   req.Tier,
		},
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации запроса: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payments", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса: %w", err)
	}
	c.setHeaders(httpReq, uuid.New().String())

	return c.do(ctx, httpReq)
}

// FindIntent возвращает актуальное состояние платежа по его ID на шлюзе.
func (c *client) FindIntent(ctx context.Context, gatewayPaymentID string) (*Intent, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/payments/"+gatewayPaymentID, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса: %w", err)
	}
	c.setHeaders(httpReq, "")

	return c.do(ctx, httpReq)
}

// setHeaders устанавливает заголовки YooKassa API: Basic auth + Idempotence-Key.
func (c *client) setHeaders(req *http.Request, idempotenceKey string) {
	auth := base64.StdEncoding.EncodeToString([]byte(c.shopID + ":" + c.secretKey))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "application/json")
	if idempotenceKey != "" {
		req.Header.Set("Idempotence-Key", idempotenceKey)
	}
}

// do выполняет запрос через Circuit Breaker и разбирает ответ.
func (c *client) do(ctx context.Context, req *http.Request) (*Intent, error) {
	start := time.Now()

	result, err := c.breaker.Do(func() (any, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode >= http.StatusBadRequest {
			return nil, fmt.Errorf("%w: %s - %s", domain.ErrGateway, resp.Status, string(respBody))
		}

		var intent Intent
		if err := json.Unmarshal(respBody, &intent); err != nil {
			return nil, fmt.Errorf("ошибка разбора ответа шлюза: %w", err)
		}
		return &intent, nil
	})

	log := logger.FromContext(ctx)

	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) {
			log.Warn().
				Str("method", req.Method).
				Str("url", req.URL.Path).
				Msg("Запрос к YooKassa отклонён: Circuit Breaker открыт")
			return nil, domain.ErrGatewayUnavailable
		}

		log.Error().
			Err(err).
			Str("method", req.Method).
			Str("url", req.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("Ошибка запроса к YooKassa")

		// Сетевая ошибка (не ответ шлюза) трактуется как недоступность
		if !errors.Is(err, domain.ErrGateway) {
			return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
		}
		return nil, err
	}

	intent := result.(*Intent)

	log.Debug().
		Str("method", req.Method).
		Str("gateway_payment_id", intent.ID).
		Str("status", intent.Status).
		Dur("duration", time.Since(start)).
		Msg("Ответ YooKassa получен")

	return intent, nil
}
