package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/billing-system/internal/domain"
	"example.com/billing-system/internal/middleware"
	"example.com/billing-system/pkg/jwt"
)

// mockUserService — мок service.UserService.
type mockUserService struct {
	user *domain.User
	pair *jwt.TokenPair
	err  error

	lastEmail  string
	lastToken  string
	lastUserID string
}

func (m *mockUserService) Register(_ context.Context, name, email, password string) (*domain.User, *jwt.TokenPair, error) {
	m.lastEmail = email
	if m.err != nil {
		return nil, nil, m.err
	}
	return m.user, m.pair, nil
}

func (m *mockUserService) Login(_ context.Context, email, password string) (*domain.User, *jwt.TokenPair, error) {
	m.lastEmail = email
	if m.err != nil {
		return nil, nil, m.err
	}
	return m.user, m.pair, nil
}

func (m *mockUserService) Logout(_ context.Context, token string) error {
	m.lastToken = token
	return m.err
}

func (m *mockUserService) GetProfile(_ context.Context, userID string) (*domain.User, error) {
	m.lastUserID = userID
	if m.err != nil {
		return nil, m.err
	}
	return m.user, nil
}

func setupAuthRouter(users *mockUserService) *Router {
	return NewRouter(RouterConfig{
		BillingService: &mockBillingService{},
		UserService:    users,
		AuthMW:         middleware.NewAuthMiddleware(&mockTokenValidator{userID: "user-1"}),
	})
}

func testUser() *domain.User {
	return &domain.User{
		ID:               "user-1",
		Email:            "ivan@example.com",
		Name:             "Иван",
		SubscriptionTier: domain.TierFree,
		CreatedAt:        time.Now(),
	}
}

func testTokenPair() *jwt.TokenPair {
	return &jwt.TokenPair{
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		ExpiresAt:    time.Now().Add(15 * time.Minute).Unix(),
	}
}

// =============================================================================
// Тесты Register
// =============================================================================

func TestRegisterHandler_Success(t *testing.T) {
	users := &mockUserService{user: testUser(), pair: testTokenPair()}
	router := setupAuthRouter(users)

	body, _ := json.Marshal(RegisterRequest{
		Email:    "ivan@example.com",
		Password: "password1",
		Name:     "Иван",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.Engine().ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)

	var resp RegisterResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "user-1", resp.UserID)
	assert.Equal(t, "access-token", resp.Tokens.AccessToken)
	assert.Equal(t, "refresh-token", resp.Tokens.RefreshToken)
}

func TestRegisterHandler_InvalidEmail(t *testing.T) {
	users := &mockUserService{}
	router := setupAuthRouter(users)

	body, _ := json.Marshal(RegisterRequest{
		Email:    "not-an-email",
		Password: "password1",
		Name:     "Иван",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, users.lastEmail)
}

func TestRegisterHandler_DuplicateEmail(t *testing.T) {
	users := &mockUserService{err: domain.ErrEmailExists}
	router := setupAuthRouter(users)

	body, _ := json.Marshal(RegisterRequest{
		Email:    "ivan@example.com",
		Password: "password1",
		Name:     "Иван",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

// =============================================================================
// Тесты Login / Logout
// =============================================================================

func TestLoginHandler_Success(t *testing.T) {
	users := &mockUserService{user: testUser(), pair: testTokenPair()}
	router := setupAuthRouter(users)

	body, _ := json.Marshal(LoginRequest{Email: "ivan@example.com", Password: "password1"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.Engine().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp TokensResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "access-token", resp.AccessToken)
}

func TestLoginHandler_WrongPassword(t *testing.T) {
	users := &mockUserService{err: domain.ErrInvalidCredentials}
	router := setupAuthRouter(users)

	body, _ := json.Marshal(LoginRequest{Email: "ivan@example.com", Password: "wrong-pass"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogoutHandler_Success(t *testing.T) {
	users := &mockUserService{}
	router := setupAuthRouter(users)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer access-token")
	w := httptest.NewRecorder()
	router.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "access-token", users.lastToken)
}

func TestLogoutHandler_MissingToken(t *testing.T) {
	users := &mockUserService{}
	router := setupAuthRouter(users)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	w := httptest.NewRecorder()
	router.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, users.lastToken)
}

// =============================================================================
// Тесты Me
// =============================================================================

func TestMeHandler_Success(t *testing.T) {
	expiry := time.Now().Add(30 * 24 * time.Hour).UTC().Truncate(time.Second)
	user := testUser()
	user.SubscriptionTier = domain.TierPro
	user.SubscriptionExpiresAt = &expiry

	users := &mockUserService{user: user}
	router := setupAuthRouter(users)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer access-token")
	w := httptest.NewRecorder()
	router.Engine().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp ProfileResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "user-1", resp.UserID)
	assert.Equal(t, "PRO", resp.SubscriptionTier)
	require.NotNil(t, resp.SubscriptionExpiresAt)
	assert.WithinDuration(t, expiry, *resp.SubscriptionExpiresAt, time.Second)

	// user_id берётся из токена
	assert.Equal(t, "user-1", users.lastUserID)
}

func TestMeHandler_EmptyTierFallsBackToFree(t *testing.T) {
	user := testUser()
	user.SubscriptionTier = ""

	users := &mockUserService{user: user}
	router := setupAuthRouter(users)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer access-token")
	w := httptest.NewRecorder()
	router.Engine().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp ProfileResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "FREE", resp.SubscriptionTier)
}

func TestMeHandler_Unauthorized(t *testing.T) {
	router := setupAuthRouter(&mockUserService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	w := httptest.NewRecorder()
	router.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
