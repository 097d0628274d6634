package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials signals wrong email or password.
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	// ErrWeakPassword signals password doesn't meet requirements.
	ErrWeakPassword = errors.New("identity: password must be at least 8 characters")
	// ErrUnknownRole signals a role name outside the fixed capability set.
	ErrUnknownRole = errors.New("identity: unknown role")
	// ErrNotAdmin signals the caller lacks the admin role required for role administration.
	ErrNotAdmin = errors.New("identity: caller is not an admin")
)

// Service handles principal accounts and the role directory.
type Service struct {
	repo      Repository
	jwtSecret []byte
}

// LoginResult bundles the token and domain principal returned after a successful login.
type LoginResult struct {
	Token     string
	Principal Principal
}

// NewService creates a new identity service.
func NewService(repo Repository, jwtSecret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
	}
}

// Register creates a new principal account. Accounts carry no roles until an
// admin grants them.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Principal, error) {
	if len(req.Password) < 8 {
		return nil, ErrWeakPassword
	}
	if req.Email == "" || req.DisplayName == "" {
		return nil, fmt.Errorf("identity: email and display_name are required")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("identity: hash password: %w", err)
	}

	p, err := s.repo.CreatePrincipal(ctx, CreatePrincipalParams{
		Email:        strings.TrimSpace(req.Email),
		DisplayName:  req.DisplayName,
		PasswordHash: string(passwordHash),
	})
	if err != nil {
		return nil, err
	}

	return &p, nil
}

// Login authenticates a principal and returns a JWT token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	p, err := s.repo.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(req.Password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.generateToken(p.ID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("identity: generate token: %w", err)
	}

	return LoginResult{
		Token:     token,
		Principal: p,
	}, nil
}

// GetByID retrieves principal information by ID.
func (s *Service) GetByID(ctx context.Context, principalID string) (*Principal, error) {
	p, err := s.repo.GetByID(ctx, principalID)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// HasRole answers the capability lookup used by the ledger domains. Roles are
// resolved from the directory at call time, never from token claims, so a
// revocation applies to in-flight sessions immediately.
func (s *Service) HasRole(ctx context.Context, principalID, role string) (bool, error) {
	return s.repo.HasRole(ctx, principalID, Role(role))
}

// ListRoles returns the roles currently granted to the principal.
func (s *Service) ListRoles(ctx context.Context, principalID string) ([]Role, error) {
	return s.repo.ListRoles(ctx, principalID)
}

// Grant gives role to principalID. Caller must hold the admin role.
func (s *Service) Grant(ctx context.Context, callerID, principalID string, role Role) error {
	if !isValidRole(role) {
		return ErrUnknownRole
	}
	isAdmin, err := s.repo.HasRole(ctx, callerID, RoleAdmin)
	if err != nil {
		return err
	}
	if !isAdmin {
		return ErrNotAdmin
	}
	if _, err := s.repo.GetByID(ctx, principalID); err != nil {
		return err
	}
	return s.repo.GrantRole(ctx, principalID, role, callerID)
}

// Revoke removes role from principalID. Caller must hold the admin role.
func (s *Service) Revoke(ctx context.Context, callerID, principalID string, role Role) error {
	if !isValidRole(role) {
		return ErrUnknownRole
	}
	isAdmin, err := s.repo.HasRole(ctx, callerID, RoleAdmin)
	if err != nil {
		return err
	}
	if !isAdmin {
		return ErrNotAdmin
	}
	return s.repo.RevokeRole(ctx, principalID, role)
}

// Bootstrap ensures at least one admin exists. On a fresh deployment it
// creates the configured principal and grants it admin; afterwards it is a
// no-op. This mirrors the "deployer holds the administrative role" rule.
func (s *Service) Bootstrap(ctx context.Context, email, displayName, password string) error {
	admins, err := s.repo.CountWithRole(ctx, RoleAdmin)
	if err != nil {
		return err
	}
	if admins > 0 {
		return nil
	}

	p, err := s.repo.GetByEmail(ctx, email)
	if errors.Is(err, ErrPrincipalNotFound) {
		created, regErr := s.Register(ctx, RegisterRequest{Email: email, Password: password, DisplayName: displayName})
		if regErr != nil {
			return fmt.Errorf("identity: bootstrap admin: %w", regErr)
		}
		p = *created
	} else if err != nil {
		return err
	}

	return s.repo.GrantRole(ctx, p.ID, RoleAdmin, p.ID)
}

// VerifyToken validates a JWT token and returns the principal ID.
func (s *Service) VerifyToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", fmt.Errorf("identity: parse token: %w", err)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		principalID, ok := claims["sub"].(string)
		if !ok || principalID == "" {
			return "", fmt.Errorf("identity: invalid subject in token")
		}
		return principalID, nil
	}

	return "", fmt.Errorf("identity: invalid token")
}

// generateToken creates a JWT token for the principal.
func (s *Service) generateToken(principalID string) (string, error) {
	claims := jwt.MapClaims{
		"sub": principalID,
		"exp": time.Now().Add(24 * time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}
