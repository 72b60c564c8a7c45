package services

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Breeze1203/shophub-support/config"
	"github.com/Breeze1203/shophub-support/models"
)

// AuthService 只负责令牌；登录与签发流程由账号系统提供，GenerateTokens 供开发和测试使用
type AuthService struct {
	jwtSecret     []byte
	tokenExpiry   time.Duration
	refreshExpiry time.Duration
}

func NewAuthService(cfg *config.AuthConfig) *AuthService {
	return &AuthService{
		jwtSecret:     []byte(cfg.JWTSecret),
		tokenExpiry:   time.Duration(cfg.TokenExpiry) * time.Hour,
		refreshExpiry: time.Duration(cfg.RefreshExpiry) * time.Hour,
	}
}

type Claims struct {
	UserID   uint            `json:"user_id"`
	Email    string          `json:"email"`
	Username string          `json:"username"`
	Role     models.UserRole `json:"role"`
	jwt.RegisteredClaims
}

// User 从令牌还原出的用户
func (c *Claims) User() *models.User {
	return &models.User{
		ID:       c.UserID,
		Email:    c.Email,
		Username: c.Username,
		Role:     c.Role,
	}
}

func (s *AuthService) GenerateTokens(user *models.User) (*models.AuthResponse, error) {
	now := time.Now()
	// Access Token
	accessClaims := &Claims{
		UserID:   user.ID,
		Email:    user.Email,
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(user.ID), 10),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims).SignedString(s.jwtSecret)
	if err != nil {
		return nil, err
	}

	// Refresh Token
	refreshClaims := &Claims{
		UserID: user.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.refreshExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	refreshToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims).SignedString(s.jwtSecret)
	if err != nil {
		return nil, err
	}

	return &models.AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.tokenExpiry.Seconds()),
		User:         *user,
	}, nil
}

func (s *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}
