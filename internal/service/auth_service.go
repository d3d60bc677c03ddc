package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wfunc/serial-bridge/internal/config"
	"github.com/wfunc/serial-bridge/internal/utils"
)

var (
	ErrInvalidCredentials = errors.New("用户名或密码错误")
	ErrInvalidToken       = errors.New("无效的令牌")
	ErrTokenExpired       = errors.New("令牌已过期")
)

const (
	defaultRole          = "operator"
	refreshTokenLifetime = 7 * 24 * time.Hour
)

// authService 单操作员认证服务
type authService struct {
	operator   config.OperatorConfig
	jwtManager *utils.JWTManager
	log        *zap.Logger
}

// NewAuthService 创建认证服务
func NewAuthService(security config.SecurityConfig, log *zap.Logger) AuthService {
	expiry := time.Duration(security.JWT.ExpireHours) * time.Hour
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	operator := security.Operator
	if operator.Role == "" {
		operator.Role = defaultRole
	}
	return &authService{
		operator:   operator,
		jwtManager: utils.NewJWTManager(security.JWT.Secret, expiry, refreshTokenLifetime),
		log:        log,
	}
}

// Login 操作员登录
func (s *authService) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	if s.operator.Username == "" || s.operator.PasswordHash == "" {
		s.log.Warn("Login rejected: operator account not configured")
		return nil, ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(req.Username), []byte(s.operator.Username)) != 1 {
		s.log.Warn("Login failed: unknown user", zap.String("username", req.Username), zap.String("ip", req.IP))
		return nil, ErrInvalidCredentials
	}

	valid, err := utils.VerifyPassword(req.Password, s.operator.PasswordHash)
	if err != nil || !valid {
		s.log.Warn("Login failed: invalid password", zap.String("username", req.Username), zap.String("ip", req.IP))
		return nil, ErrInvalidCredentials
	}

	sessionID := uuid.NewString()
	accessToken, err := s.jwtManager.GenerateAccessToken(s.operator.Username, s.operator.Role, sessionID)
	if err != nil {
		return nil, fmt.Errorf("生成访问令牌失败: %w", err)
	}
	refreshToken, err := s.jwtManager.GenerateRefreshToken(s.operator.Username, sessionID)
	if err != nil {
		return nil, fmt.Errorf("生成刷新令牌失败: %w", err)
	}

	s.log.Info("Operator logged in", zap.String("username", s.operator.Username), zap.String("ip", req.IP))
	return s.response(accessToken, refreshToken), nil
}

// RefreshToken 刷新访问令牌
func (s *authService) RefreshToken(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	claims, err := s.jwtManager.ValidateToken(refreshToken)
	if err != nil {
		return nil, s.tokenError(err)
	}
	if claims.TokenType != utils.TokenTypeRefresh || claims.Username != s.operator.Username {
		return nil, ErrInvalidToken
	}

	accessToken, err := s.jwtManager.RefreshAccessToken(refreshToken, s.operator.Role)
	if err != nil {
		return nil, fmt.Errorf("生成访问令牌失败: %w", err)
	}
	return s.response(accessToken, refreshToken), nil
}

// ValidateToken 验证访问令牌
func (s *authService) ValidateToken(ctx context.Context, token string) (*TokenClaims, error) {
	claims, err := s.jwtManager.ValidateToken(token)
	if err != nil {
		return nil, s.tokenError(err)
	}
	if claims.TokenType != utils.TokenTypeAccess {
		return nil, ErrInvalidToken
	}

	tc := &TokenClaims{
		Username:  claims.Username,
		Role:      claims.Role,
		SessionID: claims.SessionID,
	}
	if claims.IssuedAt != nil {
		tc.IssuedAt = claims.IssuedAt.Unix()
	}
	if claims.ExpiresAt != nil {
		tc.ExpiresAt = claims.ExpiresAt.Unix()
	}
	return tc, nil
}

func (s *authService) tokenError(err error) error {
	if errors.Is(err, utils.ErrExpiredToken) {
		return ErrTokenExpired
	}
	return ErrInvalidToken
}

func (s *authService) response(accessToken, refreshToken string) *AuthResponse {
	return &AuthResponse{
		Username:     s.operator.Username,
		Role:         s.operator.Role,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.jwtManager.GetTokenExpiry(utils.TokenTypeAccess).Seconds()),
		TokenType:    "Bearer",
	}
}
