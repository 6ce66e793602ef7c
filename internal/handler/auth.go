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

// AuthHandler — обработчик аутентификации.
type AuthHandler struct {
	userService service.UserService
}

// NewAuthHandler создаёт новый обработчик аутентификации.
// Принимает интерфейс UserService для возможности мокирования в тестах.
func NewAuthHandler(userService service.UserService) *AuthHandler {
	return &AuthHandler{
		userService: userService,
	}
}

// RegisterRequest — запрос на регистрацию.
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name" binding:"required,min=2"`
}

// TokensResponse — пара токенов в ответе API.
type TokensResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

// RegisterResponse — ответ на регистрацию.
type RegisterResponse struct {
	UserID string         `json:"user_id"`
	Tokens TokensResponse `json:"tokens"`
}

// Register регистрирует нового пользователя.
// POST /api/v1/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)

	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debug().Err(err).Msg("Невалидный запрос на регистрацию")
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Невалидные данные запроса",
		})
		return
	}

	user, pair, err := h.userService.Register(ctx, req.Name, req.Email, req.Password)
	if err != nil {
		HandleDomainError(c, err, "Register")
		return
	}

	c.JSON(http.StatusCreated, RegisterResponse{
		UserID: user.ID,
		Tokens: TokensResponse{
			AccessToken:  pair.AccessToken,
			RefreshToken: pair.RefreshToken,
			ExpiresAt:    pair.ExpiresAt,
		},
	})
}

// LoginRequest — запрос на вход.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Login аутентифицирует пользователя.
// POST /api/v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)

	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debug().Err(err).Msg("Невалидный запрос на вход")
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Невалидные данные запроса",
		})
		return
	}

	_, pair, err := h.userService.Login(ctx, req.Email, req.Password)
	if err != nil {
		HandleDomainError(c, err, "Login")
		return
	}

	c.JSON(http.StatusOK, TokensResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.ExpiresAt,
	})
}

// Logout выход из системы.
// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)

	token := middleware.ExtractBearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Отсутствует токен авторизации",
		})
		return
	}

	if err := h.userService.Logout(ctx, token); err != nil {
		HandleDomainError(c, err, "Logout")
		return
	}

	log.Info().Msg("Пользователь вышел из системы")

	c.JSON(http.StatusOK, gin.H{
		"success": true,
	})
}

// ProfileResponse — профиль пользователя.
type ProfileResponse struct {
	UserID                string     `json:"user_id"`
	Email                 string     `json:"email"`
	Name                  string     `json:"name"`
	SubscriptionTier      string     `json:"subscription_tier"`
	SubscriptionExpiresAt *time.Time `json:"subscription_expires_at,omitempty"`
}

// Me возвращает профиль текущего пользователя.
// GET /api/v1/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	ctx := c.Request.Context()

	userID := c.GetString(middleware.ContextUserID)

	user, err := h.userService.GetProfile(ctx, userID)
	if err != nil {
		HandleDomainError(c, err, "Me")
		return
	}

	tier := user.SubscriptionTier
	if tier == "" {
		tier = domain.TierFree
	}

	c.JSON(http.StatusOK, ProfileResponse{
		UserID:                user.ID,
		Email:                 user.Email,
		Name:                  user.Name,
		SubscriptionTier:      string(tier),
		SubscriptionExpiresAt: user.SubscriptionExpiresAt,
	})
}
