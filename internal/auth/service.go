package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/agentx/agentx/internal/common/config"
	"github.com/agentx/agentx/internal/common/logger"
	"github.com/agentx/agentx/internal/id"
)

var (
	// ErrInvalidCredentials reports a failed username/password check.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken reports a token that failed verification.
	ErrInvalidToken = errors.New("invalid token")

	// ErrInviteCodeInvalid reports a registration with a wrong or missing
	// invite code.
	ErrInviteCodeInvalid = errors.New("invalid invite code")
)

// Service issues and verifies tokens and manages registration and login.
type Service struct {
	store          *Store
	secret         []byte
	tokenDuration  time.Duration
	inviteRequired bool
	logger         *logger.Logger
}

// NewService creates the auth service over a store.
func NewService(store *Store, cfg config.AuthConfig, log *logger.Logger) *Service {
	return &Service{
		store:          store,
		secret:         []byte(cfg.JWTSecret),
		tokenDuration:  cfg.TokenDurationTime(),
		inviteRequired: cfg.InviteCodeRequired,
		logger:         log,
	}
}

// Claims is the token payload.
type Claims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// InviteCode returns the code valid at the given moment: the unix seconds of
// the most recent server-local midnight.
func InviteCode(now time.Time) string {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return strconv.FormatInt(midnight.Unix(), 10)
}

// Register creates a user and returns it with a fresh token. When invite
// codes are required the code must match today's.
func (s *Service) Register(ctx context.Context, username, password, inviteCode string) (*User, string, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, "", ErrInvalidCredentials
	}
	if s.inviteRequired && inviteCode != InviteCode(time.Now()) {
		return nil, "", ErrInviteCodeInvalid
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash password: %w", err)
	}

	u := &User{ID: id.NewUser(), Username: username, CreatedAt: time.Now().UTC()}
	if err := s.store.CreateUser(ctx, u, string(hash)); err != nil {
		return nil, "", err
	}

	token, err := s.Generate(u)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

// Login checks credentials and returns the user with a fresh token.
func (s *Service) Login(ctx context.Context, username, password string) (*User, string, error) {
	u, hash, err := s.store.Credentials(ctx, strings.TrimSpace(username))
	if errors.Is(err, ErrUserNotFound) {
		return nil, "", ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, "", ErrInvalidCredentials
	}
	token, err := s.Generate(u)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

// Generate issues a signed HS256 token for the user.
func (s *Service) Generate(u *User) (string, error) {
	now := time.Now()
	claims := Claims{
		Username: u.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenDuration)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify parses and validates a token and returns the user it names.
func (s *Service) Verify(tokenString string) (*User, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return &User{ID: claims.Subject, Username: claims.Username}, nil
}
