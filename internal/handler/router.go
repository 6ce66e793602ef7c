package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"example.com/billing-system/internal/middleware"
	"example.com/billing-system/internal/service"
	"example.com/billing-system/pkg/metrics"
)

// ReadinessChecker — функция проверки готовности сервиса.
type ReadinessChecker func(ctx context.Context) error

// Router — конфигурация роутера.
type Router struct {
	engine         *gin.Engine
	billingService service.BillingService
	userService    service.UserService
	authMW         *middleware.AuthMiddleware
	readinessCheck ReadinessChecker // опциональная проверка готовности
}

// RouterConfig — параметры для создания роутера.
type RouterConfig struct {
	BillingService service.BillingService
	UserService    service.UserService
	AuthMW         *middleware.AuthMiddleware
	ReadinessCheck ReadinessChecker // опциональная проверка готовности для /readyz
	Debug          bool             // Режим отладки Gin
}

// NewRouter создаёт и настраивает HTTP роутер.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// Стандартные middleware Gin
	engine.Use(gin.Recovery())

	// OpenTelemetry tracing — создаёт spans для Jaeger
	engine.Use(otelgin.Middleware("billing-service"))

	// Prometheus метрики — request_duration_seconds
	engine.Use(metrics.GinMetricsMiddleware("billing"))

	r := &Router{
		engine:         engine,
		billingService: cfg.BillingService,
		userService:    cfg.UserService,
		authMW:         cfg.AuthMW,
		readinessCheck: cfg.ReadinessCheck,
	}

	r.setupRoutes()
	return r
}

// setupRoutes настраивает все маршруты API.
func (r *Router) setupRoutes() {
	// Health endpoints (без auth)
	r.engine.GET("/healthz", r.livenessCheck)        // liveness probe
	r.engine.GET("/readyz", r.readinessCheckHandler) // readiness probe

	// API v1
	v1 := r.engine.Group("/api/v1")

	// === Auth routes (публичные) ===
	authHandler := NewAuthHandler(r.userService)
	auth := v1.Group("/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.POST("/logout", authHandler.Logout)
	}

	// Профиль — защищённый
	me := v1.Group("/auth")
	if r.authMW != nil {
		me.Use(r.authMW.Handle())
	}
	{
		me.GET("/me", authHandler.Me)
	}

	// === Payment routes (защищённые) ===
	paymentHandler := NewPaymentHandler(r.billingService)
	payments := v1.Group("/payments")
	if r.authMW != nil {
		payments.Use(r.authMW.Handle())
	}
	{
		payments.POST("", paymentHandler.CreatePayment)
		payments.GET("/:id", paymentHandler.CheckPayment)
	}

	// === Webhook routes (публичные: шлюз аутентифицируется подписью) ===
	webhookHandler := NewWebhookHandler(r.billingService)
	v1.POST("/webhooks/yookassa", webhookHandler.HandleYooKassa)
}

// Engine возвращает Gin engine для запуска сервера.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// livenessCheck — liveness probe для Kubernetes.
func (r *Router) livenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// readinessCheckHandler — readiness probe для Kubernetes.
// Возвращает 200 OK если сервис готов принимать трафик (все зависимости доступны).
func (r *Router) readinessCheckHandler(c *gin.Context) {
	// Если ReadinessChecker не установлен — считаем сервис готовым
	if r.readinessCheck == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := r.readinessCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
