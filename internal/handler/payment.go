package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"example.com/billing-system/internal/domain"
	"example.com/billing-system/internal/middleware"
	"example.com/billing-system/internal/service"
	"example.com/billing-system/pkg/logger"
)

// PaymentHandler — обработчик платежей за подписку.
type PaymentHandler struct {
	billingService service.BillingService
}

// NewPaymentHandler создаёт новый обработчик платежей.
func NewPaymentHandler(billingService service.BillingService) *PaymentHandler {
	return &PaymentHandler{
		billingService: billingService,
	}
}

// CreatePaymentRequest — запрос на создание платежа.
type CreatePaymentRequest struct {
	Tier string `json:"tier" binding:"required"`
}

// PaymentResponse — платёж в ответе API.
type PaymentResponse struct {
	PaymentID        string  `json:"payment_id"`
	GatewayPaymentID string  `json:"gateway_payment_id"`
	Tier             string  `json:"tier"`
	AmountKopecks    int64   `json:"amount_kopecks"`
	Status           string  `json:"status"`
	ConfirmationURL  string  `json:"confirmation_url,omitempty"`
	ErrorMessage     *string `json:"error_message,omitempty"`
	CreatedAt        string  `json:"created_at"`
}

func paymentResponse(p *domain.Payment) PaymentResponse {
	return PaymentResponse{
		PaymentID:        p.ID,
		GatewayPaymentID: p.GatewayPaymentID,
		Tier:             string(p.Tier),
		AmountKopecks:    p.AmountKopecks,
		Status:           string(p.Status),
		ConfirmationURL:  p.ConfirmationURL,
		ErrorMessage:     p.ErrorMessage,
		CreatedAt:        p.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// CreatePayment создаёт платёж за подписку.
// POST /api/v1/payments
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)

	var req CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debug().Err(err).Msg("Невалидный запрос на создание платежа")
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Невалидные данные запроса",
		})
		return
	}

	tier, err := domain.ParseTier(req.Tier)
	if err != nil {
		HandleDomainError(c, err, "CreatePayment")
		return
	}

	userID := c.GetString(middleware.ContextUserID)

	payment, err := h.billingService.CreatePayment(ctx, userID, tier)
	if err != nil {
		HandleDomainError(c, err, "CreatePayment")
		return
	}

	c.JSON(http.StatusCreated, paymentResponse(payment))
}

// CheckPayment сверяет платёж со шлюзом и возвращает актуальный статус.
// GET /api/v1/payments/:id
// :id — ID платежа на стороне шлюза (gateway_payment_id).
func (h *PaymentHandler) CheckPayment(c *gin.Context) {
	ctx := c.Request.Context()

	gatewayPaymentID := c.Param("id")

	payment, err := h.billingService.CheckPayment(ctx, gatewayPaymentID)
	if err != nil {
		HandleDomainError(c, err, "CheckPayment")
		return
	}

	c.JSON(http.StatusOK, paymentResponse(payment))
}
