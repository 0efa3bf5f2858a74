package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials signals wrong id or secret.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrWeakSecret signals a secret that doesn't meet requirements.
	ErrWeakSecret = errors.New("auth: secret must be at least 12 characters")
)

// DefaultTokenTTL applies when the service is built with a zero ttl.
const DefaultTokenTTL = 24 * time.Hour

// Service handles authentication business logic.
type Service struct {
	repo      Repository
	jwtSecret []byte
	ttl       time.Duration
	now       func() time.Time
}

// LoginResult bundles the token and the identity it was issued for.
type LoginResult struct {
	Token     string
	Identity  Identity
	ExpiresAt time.Time
}

// NewService creates a new authentication service.
func NewService(repo Repository, jwtSecret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Service{
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
		ttl:       ttl,
		now:       time.Now,
	}
}

// HashSecret produces the bcrypt hash stored in configuration.
func HashSecret(secret string) (string, error) {
	if len(secret) < 12 {
		return "", ErrWeakSecret
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash secret: %w", err)
	}
	return string(hash), nil
}

// Login authenticates a principal and returns a JWT token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	p, err := s.repo.GetPrincipal(ctx, req.ID)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(p.SecretHash), []byte(req.Secret)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	id := Identity{ID: p.ID, Capabilities: append([]Capability(nil), p.Capabilities...)}
	exp := s.now().Add(s.ttl)
	token, err := s.generateToken(id, exp)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: generate token: %w", err)
	}
	return LoginResult{Token: token, Identity: id, ExpiresAt: exp}, nil
}

// VerifyToken validates a JWT token and returns the identity it carries.
func (s *Service) VerifyToken(tokenString string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return Identity{}, fmt.Errorf("auth: parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Identity{}, fmt.Errorf("auth: invalid token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Identity{}, fmt.Errorf("auth: invalid sub in token")
	}
	raw, ok := claims["caps"].([]interface{})
	if !ok {
		return Identity{}, fmt.Errorf("auth: invalid caps in token")
	}
	id := Identity{ID: sub}
	for _, v := range raw {
		str, ok := v.(string)
		if !ok || !Capability(str).Valid() {
			return Identity{}, fmt.Errorf("auth: invalid capability %v in token", v)
		}
		id.Capabilities = append(id.Capabilities, Capability(str))
	}
	return id, nil
}

func (s *Service) generateToken(id Identity, exp time.Time) (string, error) {
	caps := make([]string, 0, len(id.Capabilities))
	for _, c := range id.Capabilities {
		caps = append(caps, string(c))
	}
	claims := jwt.MapClaims{
		"sub":  id.ID,
		"caps": caps,
		"exp":  exp.Unix(),
		"iat":  s.now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
