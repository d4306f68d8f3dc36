package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// Common auth errors.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenRevoked       = errors.New("token has been revoked")
)

// TokenTypeRecruiter is the only token type issued by this service.
const TokenTypeRecruiter = "recruiter"

// Claims extends JWT standard claims with app-specific fields.
type Claims struct {
	jwt.RegisteredClaims
	TokenType string `json:"token_type"`
	UserID    int    `json:"user_id"`
}

// AuthService handles recruiter authentication and JWTs. Candidates never
// authenticate here: their exam token is the credential.
type AuthService struct {
	cfg           *config.Config
	rdb           *redis.Client
	recruiterRepo *repository.RecruiterRepository
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config, rdb *redis.Client, recruiterRepo *repository.RecruiterRepository) *AuthService {
	return &AuthService{cfg: cfg, rdb: rdb, recruiterRepo: recruiterRepo}
}

// HashPassword hashes a password with the configured bcrypt cost.
func (s *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	return string(hash), err
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func (s *AuthService) CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// Login verifies recruiter credentials and issues a token.
func (s *AuthService) Login(ctx context.Context, req model.RecruiterLoginRequest) (*model.RecruiterLoginResponse, error) {
	recruiter, err := s.recruiterRepo.GetByEmail(ctx, req.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("get recruiter: %w", err)
	}
	if err := s.CheckPassword(recruiter.PasswordHash, req.Password); err != nil {
		return nil, err
	}

	token, err := s.GenerateToken(recruiter.ID)
	if err != nil {
		return nil, err
	}
	return &model.RecruiterLoginResponse{Token: token, Recruiter: *recruiter}, nil
}

// GenerateToken creates a recruiter JWT.
func (s *AuthService) GenerateToken(recruiterID int) (string, error) {
	now := time.Now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   strconv.Itoa(recruiterID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
		},
		TokenType: TokenTypeRecruiter,
		UserID:    recruiterID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	return claims, nil
}

// CheckRevoked fails when the token was revoked by logout.
func (s *AuthService) CheckRevoked(ctx context.Context, claims *Claims) error {
	n, err := s.rdb.Exists(ctx, config.CacheKey.RecruiterTokenKey(claims.ID)).Result()
	if err != nil {
		return fmt.Errorf("check revocation: %w", err)
	}
	if n > 0 {
		return ErrTokenRevoked
	}
	return nil
}

// Revoke blacklists a token until it would have expired anyway.
func (s *AuthService) Revoke(ctx context.Context, claims *Claims) error {
	ttl := time.Minute
	if claims.ExpiresAt != nil {
		if remaining := time.Until(claims.ExpiresAt.Time); remaining > 0 {
			ttl = remaining
		}
	}
	return s.rdb.Set(ctx, config.CacheKey.RecruiterTokenKey(claims.ID), 1, ttl).Err()
}

// Profile returns the recruiter behind a token.
func (s *AuthService) Profile(ctx context.Context, recruiterID int) (*model.Recruiter, error) {
	recruiter, err := s.recruiterRepo.GetByID(ctx, recruiterID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("get recruiter: %w", err)
	}
	return recruiter, nil
}

// CreateRecruiter hashes the password and stores a new recruiter account.
func (s *AuthService) CreateRecruiter(ctx context.Context, email, name, password string) (*model.Recruiter, error) {
	hash, err := s.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	recruiter := &model.Recruiter{Email: email, Name: name, PasswordHash: hash}
	if err := s.recruiterRepo.Create(ctx, recruiter); err != nil {
		return nil, fmt.Errorf("create recruiter: %w", err)
	}
	return recruiter, nil
}

// ResetPassword replaces a recruiter's password.
func (s *AuthService) ResetPassword(ctx context.Context, email, password string) error {
	recruiter, err := s.recruiterRepo.GetByEmail(ctx, email)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrInvalidCredentials
	}
	if err != nil {
		return fmt.Errorf("get recruiter: %w", err)
	}
	hash, err := s.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.recruiterRepo.UpdatePassword(ctx, recruiter.ID, hash)
}
