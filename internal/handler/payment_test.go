package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/billing-system/internal/domain"
	"example.com/billing-system/internal/middleware"
	"example.com/billing-system/pkg/jwt"
)

// =============================================================================
// Моки
// =============================================================================

// mockBillingService — мок service.BillingService.
type mockBillingService struct {
	payment   *domain.Payment
	err       error
	processed bool

	lastUserID    string
	lastTier      domain.SubscriptionTier
	lastGatewayID string
	lastPayload   map[string]any
	lastSignature string
}

func (m *mockBillingService) CreatePayment(_ context.Context, userID string, tier domain.SubscriptionTier) (*domain.Payment, error) {
	m.lastUserID = userID
	m.lastTier = tier
	if m.err != nil {
		return nil, m.err
	}
	return m.payment, nil
}

func (m *mockBillingService) CheckPayment(_ context.Context, gatewayPaymentID string) (*domain.Payment, error) {
	m.lastGatewayID = gatewayPaymentID
	if m.err != nil {
		return nil, m.err
	}
	return m.payment, nil
}

func (m *mockBillingService) HandleWebhook(_ context.Context, payload map[string]any, signature string) bool {
	m.lastPayload = payload
	m.lastSignature = signature
	return m.processed
}

// mockTokenValidator — мок валидатора токенов: любой токен валиден.
type mockTokenValidator struct {
	userID string
}

func (m *mockTokenValidator) ValidateWithBlacklist(_ context.Context, _ string) (*jwt.Claims, error) {
	return &jwt.Claims{
		RegisteredClaims: jwtlib.RegisteredClaims{ID: "jti-1"},
		UserID:           m.userID,
	}, nil
}

// setupPaymentRouter собирает роутер с мок-сервисами.
func setupPaymentRouter(billing *mockBillingService) *Router {
	return NewRouter(RouterConfig{
		BillingService: billing,
		UserService:    &mockUserService{},
		AuthMW:         middleware.NewAuthMiddleware(&mockTokenValidator{userID: "user-1"}),
	})
}

func testDomainPayment() *domain.Payment {
	return &domain.Payment{
		ID:               "pay-uuid-1",
		GatewayPaymentID: "gw-pay-1",
		UserID:           "user-1",
		Tier:             domain.TierPro,
		AmountKopecks:    50000,
		Status:           domain.StatusPending,
		ConfirmationURL:  "https://yookassa.example/confirm/gw-pay-1",
		CreatedAt:        time.Now(),
	}
}

// =============================================================================
// Тесты CreatePayment
// =============================================================================

func TestCreatePaymentHandler_Success(t *testing.T) {
	billing := &mockBillingService{payment: testDomainPayment()}
	router := setupPaymentRouter(billing)

	body, _ := json.Marshal(CreatePaymentRequest{Tier: "PRO"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer token")
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.Engine().ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)

	var resp PaymentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "gw-pay-1", resp.GatewayPaymentID)
	assert.Equal(t, "PENDING", resp.Status)
	assert.Equal(t, "https://yookassa.example/confirm/gw-pay-1", resp.ConfirmationURL)

	// user_id взят из токена, а не из тела запроса
	assert.Equal(t, "user-1", billing.lastUserID)
	assert.Equal(t, domain.TierPro, billing.lastTier)
}

func TestCreatePaymentHandler_Unauthorized(t *testing.T) {
	router := setupPaymentRouter(&mockBillingService{})

	body, _ := json.Marshal(CreatePaymentRequest{Tier: "PRO"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreatePaymentHandler_InvalidTier(t *testing.T) {
	billing := &mockBillingService{}
	router := setupPaymentRouter(billing)

	body, _ := json.Marshal(CreatePaymentRequest{Tier: "GOLD"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer token")
	w := httptest.NewRecorder()
	router.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	// До сервиса запрос не дошёл
	assert.Empty(t, billing.lastUserID)
}

func TestCreatePaymentHandler_MissingTier(t *testing.T) {
	router := setupPaymentRouter(&mockBillingService{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Authorization", "Bearer token")
	w := httptest.NewRecorder()
	router.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreatePaymentHandler_GatewayUnavailable(t *testing.T) {
	billing := &mockBillingService{err: domain.ErrGatewayUnavailable}
	router := setupPaymentRouter(billing)

	body, _ := json.Marshal(CreatePaymentRequest{Tier: "PRO"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer token")
	w := httptest.NewRecorder()
	router.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// =============================================================================
// Тесты CheckPayment
// =============================================================================

func TestCheckPaymentHandler_Success(t *testing.T) {
	payment := testDomainPayment()
	payment.Status = domain.StatusSucceeded
	billing := &mockBillingService{payment: payment}
	router := setupPaymentRouter(billing)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/gw-pay-1", nil)
	req.Header.Set("Authorization", "Bearer token")
	w := httptest.NewRecorder()
	router.Engine().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp PaymentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "SUCCEEDED", resp.Status)
	assert.Equal(t, "gw-pay-1", billing.lastGatewayID)
}

func TestCheckPaymentHandler_NotFound(t *testing.T) {
	billing := &mockBillingService{err: domain.ErrPaymentNotFound}
	router := setupPaymentRouter(billing)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/gw-unknown", nil)
	req.Header.Set("Authorization", "Bearer token")
	w := httptest.NewRecorder()
	router.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
