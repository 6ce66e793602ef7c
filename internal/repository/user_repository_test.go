// Package repository содержит unit тесты для UserRepository.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"example.com/billing-system/internal/domain"
)

var userColumns = []string{
	"id", "name", "email", "password",
	"subscription_tier", "subscription_expires_at", "created_at", "updated_at",
}

// =====================================
// Тесты Create
// =====================================

func TestUserCreate(t *testing.T) {
	tests := []struct {
		name        string
		user        *domain.User
		mockSetup   func(mock sqlmock.Sqlmock)
		expectedErr error
	}{
		{
			name: "успешное создание",
			user: &domain.User{
				ID:               "new-user-uuid",
				Name:             "Новый Пользователь",
				Email:            "new@example.com",
				PasswordHash:     "hashed-password",
				SubscriptionTier: domain.TierFree,
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `users`")).
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectCommit()
			},
			expectedErr: nil,
		},
		{
			name: "дубликат email",
			user: &domain.User{
				ID:           "dup-user-uuid",
				Name:         "Дубликат",
				Email:        "existing@example.com",
				PasswordHash: "hashed-password",
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `users`")).
					WillReturnError(errors.New("Error 1062: Duplicate entry"))
				mock.ExpectRollback()
			},
			expectedErr: domain.ErrEmailExists,
		},
		{
			name: "ошибка БД",
			user: &domain.User{
				ID:           "error-user-uuid",
				Name:         "Ошибка",
				Email:        "error@example.com",
				PasswordHash: "hashed-password",
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `users`")).
					WillReturnError(sql.ErrConnDone)
				mock.ExpectRollback()
			},
			expectedErr: sql.ErrConnDone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gormDB, mock, cleanup := setupMockDB(t)
			defer cleanup()

			repo := NewUserRepository(gormDB)
			tt.mockSetup(mock)

			err := repo.Create(context.Background(), tt.user)

			if tt.expectedErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.expectedErr)
			} else {
				require.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

// =====================================
// Тесты GetByEmail
// =====================================

func TestGetByEmail(t *testing.T) {
	tests := []struct {
		name        string
		email       string
		mockSetup   func(mock sqlmock.Sqlmock, email string)
		expectedErr error
		checkUser   func(t *testing.T, user *domain.User)
	}{
		{
			name:  "успешное получение",
			email: "valid@example.com",
			mockSetup: func(mock sqlmock.Sqlmock, email string) {
				now := time.Now().Truncate(time.Second)
				rows := sqlmock.NewRows(userColumns).
					AddRow("user-found", "Найденный", email, "hash123", "PRO", now.Add(24*time.Hour), now, now)
				mock.ExpectQuery("SELECT \\* FROM `users` WHERE email = \\? ORDER BY `users`.`id` LIMIT \\?").
					WithArgs(email, 1).WillReturnRows(rows)
			},
			expectedErr: nil,
			checkUser: func(t *testing.T, user *domain.User) {
				assert.Equal(t, "user-found", user.ID)
				assert.Equal(t, "valid@example.com", user.Email)
				assert.Equal(t, domain.TierPro, user.SubscriptionTier)
				require.NotNil(t, user.SubscriptionExpiresAt)
			},
		},
		{
			name:  "не найден",
			email: "notfound@example.com",
			mockSetup: func(mock sqlmock.Sqlmock, email string) {
				rows := sqlmock.NewRows(userColumns)
				mock.ExpectQuery("SELECT \\* FROM `users` WHERE email = \\? ORDER BY `users`.`id` LIMIT \\?").
					WithArgs(email, 1).WillReturnRows(rows)
			},
			expectedErr: domain.ErrUserNotFound,
		},
		{
			name:  "ошибка БД",
			email: "error@example.com",
			mockSetup: func(mock sqlmock.Sqlmock, email string) {
				mock.ExpectQuery("SELECT \\* FROM `users` WHERE email = \\? ORDER BY `users`.`id` LIMIT \\?").
					WithArgs(email, 1).WillReturnError(sql.ErrConnDone)
			},
			expectedErr: sql.ErrConnDone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gormDB, mock, cleanup := setupMockDB(t)
			defer cleanup()

			repo := NewUserRepository(gormDB)
			tt.mockSetup(mock, tt.email)

			user, err := repo.GetByEmail(context.Background(), tt.email)

			if tt.expectedErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.expectedErr)
				assert.Nil(t, user)
			} else {
				require.NoError(t, err)
				require.NotNil(t, user)
				if tt.checkUser != nil {
					tt.checkUser(t, user)
				}
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

// =====================================
// Тесты ExistsByEmail
// =====================================

func TestExistsByEmail(t *testing.T) {
	tests := []struct {
		name           string
		email          string
		count          int
		expectedExists bool
	}{
		{"существует", "exists@example.com", 1, true},
		{"не существует", "new@example.com", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gormDB, mock, cleanup := setupMockDB(t)
			defer cleanup()

			repo := NewUserRepository(gormDB)

			rows := sqlmock.NewRows([]string{"count"}).AddRow(tt.count)
			mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM `users` WHERE email = ?")).
				WithArgs(tt.email).WillReturnRows(rows)

			exists, err := repo.ExistsByEmail(context.Background(), tt.email)

			require.NoError(t, err)
			assert.Equal(t, tt.expectedExists, exists)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

// =====================================
// Тесты ExtendSubscription
// =====================================

func TestExtendSubscription(t *testing.T) {
	t.Run("начисление без активной подписки", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		repo := NewUserRepository(gormDB)

		now := time.Now().Truncate(time.Second)
		rows := sqlmock.NewRows(userColumns).
			AddRow("user-1", "Тест", "test@example.com", "hash", "FREE", nil, now, now)
		// Чтение с блокировкой строки: конкурентные продления сериализуются
		mock.ExpectQuery("SELECT \\* FROM `users` WHERE id = \\? ORDER BY `users`.`id` LIMIT \\? FOR UPDATE").
			WithArgs("user-1", 1).WillReturnRows(rows)

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE `users` SET")).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := repo.ExtendSubscription(context.Background(), "user-1", domain.TierPro, 30*24*time.Hour)

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("продление действующей подписки", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		repo := NewUserRepository(gormDB)

		now := time.Now().Truncate(time.Second)
		currentExpiry := now.Add(10 * 24 * time.Hour)
		rows := sqlmock.NewRows(userColumns).
			AddRow("user-1", "Тест", "test@example.com", "hash", "PRO", currentExpiry, now, now)
		mock.ExpectQuery("SELECT \\* FROM `users` WHERE id = \\? ORDER BY `users`.`id` LIMIT \\? FOR UPDATE").
			WithArgs("user-1", 1).WillReturnRows(rows)

		mock.ExpectBegin()
		// Новый срок прибавляется к текущему окончанию, а не к now
		mock.ExpectExec(regexp.QuoteMeta("UPDATE `users` SET")).
			WithArgs(currentExpiry.Add(30*24*time.Hour), sqlmock.AnyArg(), sqlmock.AnyArg(), "user-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := repo.ExtendSubscription(context.Background(), "user-1", domain.TierPro, 30*24*time.Hour)

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("пользователь не найден", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()

		repo := NewUserRepository(gormDB)

		rows := sqlmock.NewRows(userColumns)
		mock.ExpectQuery("SELECT \\* FROM `users` WHERE id = \\? ORDER BY `users`.`id` LIMIT \\? FOR UPDATE").
			WithArgs("ghost", 1).WillReturnRows(rows)

		err := repo.ExtendSubscription(context.Background(), "ghost", domain.TierPro, 30*24*time.Hour)

		assert.ErrorIs(t, err, domain.ErrUserNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

// =====================================
// Тесты конвертации Domain <-> Model
// =====================================

func TestUserModel_Conversion(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	expiry := now.Add(30 * 24 * time.Hour)

	u := &domain.User{
		ID:                    "domain-uuid",
		Name:                  "Доменный",
		Email:                 "domain@example.com",
		PasswordHash:          "domain-hash",
		SubscriptionTier:      domain.TierUltra,
		SubscriptionExpiresAt: &expiry,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	model := userModelFromDomain(u)
	back := model.toDomain()

	assert.Equal(t, u, back)
}

func TestUserModel_TableName(t *testing.T) {
	assert.Equal(t, "users", UserModel{}.TableName())
}

// =====================================
// Тесты isDuplicateKeyError
// =====================================

func TestIsDuplicateKeyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil ошибка", nil, false},
		{"MySQL Error 1062", errors.New("Error 1062: Duplicate entry"), true},
		{"Duplicate entry в тексте", errors.New("Duplicate entry 'email'"), true},
		{"GORM ErrDuplicatedKey", gorm.ErrDuplicatedKey, true},
		{"обычная ошибка", errors.New("connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isDuplicateKeyError(tt.err))
		})
	}
}
