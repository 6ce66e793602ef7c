package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/billing-system/internal/service"
	"example.com/billing-system/pkg/logger"
)

// HeaderSignature — заголовок с HMAC подписью webhook-уведомления.
const HeaderSignature = "X-Signature"

// WebhookHandler — обработчик уведомлений платёжного шлюза.
type WebhookHandler struct {
	billingService service.BillingService
}

// NewWebhookHandler создаёт новый обработчик webhook.
func NewWebhookHandler(billingService service.BillingService) *WebhookHandler {
	return &WebhookHandler{
		billingService: billingService,
	}
}

// HandleYooKassa обрабатывает уведомление YooKassa.
// POST /api/v1/webhooks/yookassa
//
// Всегда отвечает 200: не-200 заставит шлюз бесконечно повторять доставку,
// а платёж в любом случае доберёт сверка. Исход обработки виден в поле status.
func (h *WebhookHandler) HandleYooKassa(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)

	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		log.Warn().Err(err).Msg("Webhook с невалидным JSON")
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	signature := c.GetHeader(HeaderSignature)

	if h.billingService.HandleWebhook(ctx, payload, signature) {
		c.JSON(http.StatusOK, gin.H{"status": "processed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ignored"})
}
