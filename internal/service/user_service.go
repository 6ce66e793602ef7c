package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"example.com/billing-system/internal/domain"
	"example.com/billing-system/internal/repository"
	"example.com/billing-system/pkg/jwt"
	"example.com/billing-system/pkg/logger"
)

// bcryptCost — стоимость хэширования пароля.
const bcryptCost = 12

// TokenManager определяет операции с JWT токенами, нужные сервису пользователей.
type TokenManager interface {
	GenerateTokenPair(userID string) (*jwt.TokenPair, error)
	ValidateToken(tokenString string) (*jwt.Claims, error)
	Blacklist() *jwt.Blacklist
}

// UserService определяет операции с пользователями.
type UserService interface {
	// Register регистрирует пользователя и сразу выдаёт токены.
	Register(ctx context.Context, name, email, password string) (*domain.User, *jwt.TokenPair, error)

	// Login аутентифицирует пользователя по email и паролю.
	Login(ctx context.Context, email, password string) (*domain.User, *jwt.TokenPair, error)

	// Logout отзывает access token (добавляет его в blacklist до истечения).
	Logout(ctx context.Context, tokenString string) error

	// GetProfile возвращает пользователя по ID.
	GetProfile(ctx context.Context, userID string) (*domain.User, error)
}

// userService — реализация UserService.
type userService struct {
	users  repository.UserRepository
	tokens TokenManager
}

// NewUserService создаёт сервис пользователей.
func NewUserService(users repository.UserRepository, tokens TokenManager) UserService {
	return &userService{users: users, tokens: tokens}
}

// Register регистрирует пользователя и сразу выдаёт токены.
func (s *userService) Register(ctx context.Context, name, email, password string) (*domain.User, *jwt.TokenPair, error) {
	log := logger.FromContext(ctx)

	user := &domain.User{
		ID:               uuid.New().String(),
		Name:             name,
		Email:            email,
		SubscriptionTier: domain.TierFree,
	}

	if err := user.Validate(); err != nil {
		return nil, nil, err
	}
	if err := domain.ValidatePassword(password); err != nil {
		return nil, nil, err
	}

	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, nil, err
	}
	if exists {
		return nil, nil, domain.ErrEmailExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, nil, err
	}
	user.PasswordHash = string(hash)

	if err := s.users.Create(ctx, user); err != nil {
		return nil, nil, err
	}

	pair, err := s.tokens.GenerateTokenPair(user.ID)
	if err != nil {
		log.Error().Err(err).Str("user_id", user.ID).Msg("Ошибка генерации токенов при регистрации")
		return nil, nil, err
	}

	log.Info().
		Str("user_id", user.ID).
		Str("email", user.Email).
		Msg("Пользователь зарегистрирован")

	return user, pair, nil
}

// Login аутентифицирует пользователя по email и паролю.
func (s *userService) Login(ctx context.Context, email, password string) (*domain.User, *jwt.TokenPair, error) {
	log := logger.FromContext(ctx)

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		// Не раскрываем, существует ли email
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, nil, domain.ErrInvalidCredentials
		}
		return nil, nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		log.Warn().Str("email", email).Msg("Неудачная попытка входа")
		return nil, nil, domain.ErrInvalidCredentials
	}

	pair, err := s.tokens.GenerateTokenPair(user.ID)
	if err != nil {
		return nil, nil, err
	}

	log.Info().Str("user_id", user.ID).Msg("Пользователь вошёл в систему")

	return user, pair, nil
}

// Logout отзывает access token.
func (s *userService) Logout(ctx context.Context, tokenString string) error {
	log := logger.FromContext(ctx)

	claims, err := s.tokens.ValidateToken(tokenString)
	if err != nil {
		return err
	}

	bl := s.tokens.Blacklist()
	if bl == nil {
		// Без blacklist отзыв невозможен, токен истечёт сам
		log.Warn().Msg("Logout без blacklist: токен не отозван")
		return nil
	}

	if err := bl.Add(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return err
	}

	log.Info().
		Str("user_id", claims.UserID).
		Msg("Пользователь вышел, токен отозван")

	return nil
}

// GetProfile возвращает пользователя по ID.
func (s *userService) GetProfile(ctx context.Context, userID string) (*domain.User, error) {
	return s.users.GetByID(ctx, userID)
}
