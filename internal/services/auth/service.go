// Package auth handles registration, login and token issuance.
package auth

import (
	"context"
	"errors"
	"log"
	"strings"

	"autobox/internal/models"
	"autobox/internal/repositories"
	"autobox/internal/utils"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
)

type Service struct {
	users repositories.UserRepository
}

func NewService(users repositories.UserRepository) *Service {
	if users == nil {
		panic("user repository is required")
	}
	return &Service{users: users}
}

// Register creates a user with a bcrypt-hashed password. The stored
// email is lowercased so lookups are case insensitive.
func (s *Service) Register(ctx context.Context, email, password, name string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, errors.New("invalid email")
	}
	if len(password) < 8 {
		return nil, ErrWeakPassword
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Email:    email,
		Password: string(hashed),
		Name:     name,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrDuplicateKey) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return user, nil
}

// Login verifies the credentials and returns the user together with an
// access and a refresh token.
func (s *Service) Login(ctx context.Context, email, password string) (*models.User, string, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		// Identical error for unknown email and bad password
		return nil, "", "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, "", "", ErrInvalidCredentials
	}

	accessToken, refreshToken, err := utils.GenerateTokens(&models.UserClaims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
	})
	if err != nil {
		log.Printf("token generation failed for user %d: %v", user.ID, err)
		return nil, "", "", errors.New("error generating tokens")
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID); err != nil {
		log.Printf("failed to record last login for user %d: %v", user.ID, err)
	}

	return user, accessToken, refreshToken, nil
}

// RefreshTokens exchanges a valid refresh token for a new token pair.
func (s *Service) RefreshTokens(ctx context.Context, refreshToken string) (string, string, error) {
	claims, err := utils.ParseToken(refreshToken)
	if err != nil {
		return "", "", errors.New("invalid refresh token")
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return "", "", errors.New("user not found")
	}

	return utils.GenerateTokens(&models.UserClaims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
	})
}

// GetUserByID exposes the user lookup for middleware.
func (s *Service) GetUserByID(ctx context.Context, id uint) (*models.User, error) {
	return s.users.GetByID(ctx, id)
}
