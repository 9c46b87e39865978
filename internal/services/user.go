package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"click-backend/internal/models"
	"click-backend/internal/repository"

	"github.com/golang-jwt/jwt/v5"
)

const jwtExpDays = 365

// UserService handles user-related business logic
type UserService struct {
	users     UserStore
	lifecycle *ConnectionLifecycle
	jwtSecret string
	now       func() time.Time
}

// NewUserService creates a new user service
func NewUserService(users UserStore, lifecycle *ConnectionLifecycle, jwtSecret string) *UserService {
	return &UserService{
		users:     users,
		lifecycle: lifecycle,
		jwtSecret: jwtSecret,
		now:       time.Now,
	}
}

// CreateUserRequest represents a sign-up request
type CreateUserRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Image string `json:"image"`
}

// GenerateJWT generates a JWT token for a user
func (s *UserService) GenerateJWT(userID string) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     now.AddDate(0, 0, jwtExpDays).Unix(),
		"iat":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateJWT validates a JWT token and returns the user ID
func (s *UserService) ValidateJWT(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user_id not found in token")
	}

	return userID, nil
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", invalidInput("invalid email")
	}
	return strings.ToLower(addr.Address), nil
}

// CreateUser signs a new user up and returns it with a token. A registered
// email fails with ErrEmailTaken and never yields a token for that account.
func (s *UserService) CreateUser(ctx context.Context, req CreateUserRequest) (*models.User, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, invalidInput("name is required")
	}
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}

	user := models.NewUser(name, email, strings.TrimSpace(req.Image), s.now().UTC().Truncate(time.Microsecond))
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%s: %w", email, ErrEmailTaken)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	token, err := s.GenerateJWT(user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	user.Token = token

	return user, nil
}

// PublicUser is what other users may see of an account
type PublicUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image"`
}

// FindByEmail looks another user up so a connection can be created with them
func (s *UserService) FindByEmail(ctx context.Context, rawEmail string) (*PublicUser, error) {
	email, err := normalizeEmail(rawEmail)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &PublicUser{ID: user.ID, Name: user.Name, Image: user.Image}, nil
}

// GetUser returns a user with expired connections pruned from its lists
func (s *UserService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	live, err := s.lifecycle.PruneConnections(ctx, user.ID, user.Connections)
	if err != nil {
		return nil, err
	}
	user.Connections = make([]string, 0, len(live))
	for _, conn := range live {
		user.Connections = append(user.Connections, conn.ID)
	}
	if !user.HasConnection(user.ConnectionToday) {
		user.ConnectionToday = ""
	}
	return user, nil
}

// PushTokenRequest registers or clears the caller's APNs device token
type PushTokenRequest struct {
	PushToken *string `json:"push_token"`
}

// UpdatePushToken stores the device token used for offline notifications
func (s *UserService) UpdatePushToken(ctx context.Context, userID string, pushToken *string) error {
	if pushToken != nil {
		token := strings.TrimSpace(*pushToken)
		if token == "" {
			pushToken = nil
		} else {
			pushToken = &token
		}
	}
	if err := s.users.UpdatePushToken(ctx, userID, pushToken); err != nil {
		return fmt.Errorf("failed to update push token: %w", err)
	}
	return nil
}
