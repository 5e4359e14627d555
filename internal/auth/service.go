package auth

import (
	"context"
	"fmt"
	"os"
	"time"

	"market-analyst-bot/internal/database"
	"market-analyst-bot/internal/logging"
)

// Service handles authentication operations
type Service struct {
	repo            *database.Repository
	jwtManager      *JWTManager
	passwordManager *PasswordManager
	logger          *logging.Logger
}

// NewService creates a new authentication service
func NewService(repo *database.Repository, config Config, logger *logging.Logger) (*Service, error) {
	if config.JWTSecret == "" {
		return nil, fmt.Errorf("JWT secret is required")
	}
	if config.AccessTokenDuration == 0 {
		config.AccessTokenDuration = 12 * time.Hour
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &Service{
		repo:            repo,
		jwtManager:      NewJWTManager(config.JWTSecret, config.AccessTokenDuration),
		passwordManager: NewPasswordManager(DefaultBcryptCost, config.MinPasswordLength),
		logger:          logger.WithComponent("auth"),
	}, nil
}

// GetJWTManager returns the JWT manager for use in middleware
func (s *Service) GetJWTManager() *JWTManager {
	return s.jwtManager
}

// Register creates a new user account
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*database.User, error) {
	existing, err := s.repo.GetUserByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if existing != nil {
		return nil, ErrEmailExists
	}

	if err := s.passwordManager.ValidatePasswordStrength(req.Password); err != nil {
		return nil, AuthError{Code: ErrWeakPassword.Code, Message: err.Error()}
	}

	passwordHash, err := s.passwordManager.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &database.User{
		Email:        req.Email,
		PasswordHash: passwordHash,
		Name:         req.Name,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info("user registered", "user_id", user.ID, "email", user.Email)
	return user, nil
}

// Login authenticates a user and issues an access token
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	user, err := s.repo.GetUserByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		// Burn a hash comparison so lookup misses cost the same as mismatches.
		s.passwordManager.VerifyPassword(req.Password, "$2a$12$invalidsaltinvalidsaltinvalidsaltinvalid")
		return nil, ErrInvalidCredentials
	}

	if !s.passwordManager.VerifyPassword(req.Password, user.PasswordHash) {
		s.logger.Warn("failed login attempt", "email", req.Email)
		return nil, ErrInvalidCredentials
	}

	token, err := s.jwtManager.GenerateAccessToken(UserClaims{
		UserID:           user.ID,
		Email:            user.Email,
		Role:             string(user.Role),
		SubscriptionTier: string(user.SubscriptionTier),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	if err := s.repo.UpdateUserLastLogin(ctx, user.ID); err != nil {
		s.logger.Warn("failed to stamp last login", "user_id", user.ID, "error", err)
	}

	return &LoginResponse{
		User: UserResponse{
			ID:               user.ID,
			Email:            user.Email,
			Name:             user.Name,
			Role:             string(user.Role),
			SubscriptionTier: string(user.SubscriptionTier),
			CreatedAt:        user.CreatedAt,
			LastLoginAt:      user.LastLoginAt,
		},
		AccessToken: token,
		ExpiresIn:   s.jwtManager.GetAccessTokenDuration(),
	}, nil
}

// SeedAdminUser ensures an admin account exists. Credentials come from
// ADMIN_EMAIL and ADMIN_PASSWORD; when unset no seeding happens.
func (s *Service) SeedAdminUser(ctx context.Context) error {
	email := os.Getenv("ADMIN_EMAIL")
	password := os.Getenv("ADMIN_PASSWORD")
	if email == "" || password == "" {
		return nil
	}

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to check for admin user: %w", err)
	}
	if user != nil {
		if user.Role == database.RoleUser {
			if err := s.repo.UpdateUserRole(ctx, user.ID, database.RoleAdmin); err != nil {
				return fmt.Errorf("failed to promote admin user: %w", err)
			}
		}
		return nil
	}

	passwordHash, err := s.passwordManager.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	admin := &database.User{
		Email:        email,
		PasswordHash: passwordHash,
		Name:         "Administrator",
		Role:         database.RoleAdmin,
	}
	if err := s.repo.CreateUser(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	s.logger.Info("admin user seeded", "user_id", admin.ID)
	return nil
}
