// Package handler содержит HTTP обработчики REST API billing-сервиса.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/billing-system/internal/domain"
	"example.com/billing-system/pkg/logger"
)

// ErrorResponse — стандартный формат ошибки API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HandleDomainError преобразует доменную ошибку в HTTP ответ.
// Используется всеми handlers для единообразной обработки ошибок.
// ВАЖНО: err не должен быть nil — это баг в вызывающем коде.
func HandleDomainError(c *gin.Context, err error, method string) {
	// Guard: nil ошибка — баг в вызывающем коде, логируем и возвращаем 500.
	if err == nil {
		logger.Error().Str("method", method).Msg("HandleDomainError вызван с nil ошибкой — баг в коде")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Внутренняя ошибка сервера",
		})
		return
	}

	log := logger.FromContext(c.Request.Context())

	// Маппинг доменных ошибок в HTTP статусы.
	var httpStatus int
	var errorCode string

	switch {
	case errors.Is(err, domain.ErrPaymentNotFound), errors.Is(err, domain.ErrUserNotFound):
		httpStatus = http.StatusNotFound
		errorCode = "not_found"
	case errors.Is(err, domain.ErrUnknownTier),
		errors.Is(err, domain.ErrInvalidTierPrice),
		errors.Is(err, domain.ErrInvalidEmail),
		errors.Is(err, domain.ErrEmptyName),
		errors.Is(err, domain.ErrWeakPassword):
		httpStatus = http.StatusBadRequest
		errorCode = "invalid_argument"
	case errors.Is(err, domain.ErrInvalidCredentials):
		httpStatus = http.StatusUnauthorized
		errorCode = "unauthenticated"
	case errors.Is(err, domain.ErrEmailExists), errors.Is(err, domain.ErrDuplicatePayment):
		httpStatus = http.StatusConflict
		errorCode = "already_exists"
	case errors.Is(err, domain.ErrGatewayUnavailable):
		httpStatus = http.StatusServiceUnavailable
		errorCode = "gateway_unavailable"
	case errors.Is(err, domain.ErrGateway):
		httpStatus = http.StatusBadGateway
		errorCode = "gateway_error"
	default:
		httpStatus = http.StatusInternalServerError
		errorCode = "internal_error"
		log.Error().
			Err(err).
			Str("method", method).
			Msg("Внутренняя ошибка")
	}

	c.JSON(httpStatus, ErrorResponse{
		Error:   errorCode,
		Message: err.Error(),
	})
}
