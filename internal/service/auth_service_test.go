package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/wfunc/serial-bridge/internal/config"
	"github.com/wfunc/serial-bridge/internal/utils"
)

// AuthServiceTestSuite 认证服务测试套件
type AuthServiceTestSuite struct {
	suite.Suite
	security config.SecurityConfig
	auth     AuthService
}

// SetupSuite 设置测试套件
func (suite *AuthServiceTestSuite) SetupSuite() {
	hash, err := utils.HashPasswordWithConfig("secret123", &utils.PasswordConfig{
		Time:    1,
		Memory:  8 * 1024,
		Threads: 1,
		KeyLen:  32,
	})
	suite.Require().NoError(err)

	suite.security = config.SecurityConfig{
		JWT:      config.JWTConfig{Secret: "test-secret", ExpireHours: 1},
		Operator: config.OperatorConfig{Username: "admin", PasswordHash: hash},
	}
	suite.auth = NewAuthService(suite.security, zap.NewNop())
}

func (suite *AuthServiceTestSuite) TestLogin() {
	resp, err := suite.auth.Login(context.Background(), &LoginRequest{Username: "admin", Password: "secret123"})
	suite.Require().NoError(err)
	suite.NotEmpty(resp.AccessToken)
	suite.NotEmpty(resp.RefreshToken)
	suite.Equal("Bearer", resp.TokenType)
	suite.Equal(defaultRole, resp.Role)
	suite.Equal(int64(time.Hour.Seconds()), resp.ExpiresIn)

	claims, err := suite.auth.ValidateToken(context.Background(), resp.AccessToken)
	suite.Require().NoError(err)
	suite.Equal("admin", claims.Username)
	suite.Equal(defaultRole, claims.Role)
	suite.NotEmpty(claims.SessionID)
	suite.Greater(claims.ExpiresAt, claims.IssuedAt)
}

func (suite *AuthServiceTestSuite) TestLoginInvalidCredentials() {
	tests := []struct {
		name string
		req  LoginRequest
	}{
		{"错误的密码", LoginRequest{Username: "admin", Password: "wrong"}},
		{"未知用户", LoginRequest{Username: "root", Password: "secret123"}},
	}
	for _, tt := range tests {
		suite.Run(tt.name, func() {
			_, err := suite.auth.Login(context.Background(), &tt.req)
			suite.ErrorIs(err, ErrInvalidCredentials)
		})
	}

	unconfigured := NewAuthService(config.SecurityConfig{JWT: config.JWTConfig{Secret: "x"}}, zap.NewNop())
	_, err := unconfigured.Login(context.Background(), &LoginRequest{Username: "", Password: ""})
	suite.ErrorIs(err, ErrInvalidCredentials)
}

func (suite *AuthServiceTestSuite) TestRefreshToken() {
	resp, err := suite.auth.Login(context.Background(), &LoginRequest{Username: "admin", Password: "secret123"})
	suite.Require().NoError(err)

	refreshed, err := suite.auth.RefreshToken(context.Background(), resp.RefreshToken)
	suite.Require().NoError(err)
	suite.NotEmpty(refreshed.AccessToken)

	_, err = suite.auth.ValidateToken(context.Background(), refreshed.AccessToken)
	suite.NoError(err)

	// 访问令牌不能用来刷新，刷新令牌也不能用来访问
	_, err = suite.auth.RefreshToken(context.Background(), resp.AccessToken)
	suite.ErrorIs(err, ErrInvalidToken)
	_, err = suite.auth.ValidateToken(context.Background(), resp.RefreshToken)
	suite.ErrorIs(err, ErrInvalidToken)
}

func (suite *AuthServiceTestSuite) TestValidateToken() {
	_, err := suite.auth.ValidateToken(context.Background(), "not-a-token")
	suite.ErrorIs(err, ErrInvalidToken)

	other := utils.NewJWTManager("other-secret", time.Hour, time.Hour)
	forged, err := other.GenerateAccessToken("admin", "operator", "s1")
	suite.Require().NoError(err)
	_, err = suite.auth.ValidateToken(context.Background(), forged)
	suite.ErrorIs(err, ErrInvalidToken)

	expired := utils.NewJWTManager(suite.security.JWT.Secret, -time.Minute, time.Hour)
	token, err := expired.GenerateAccessToken("admin", "operator", "s1")
	suite.Require().NoError(err)
	_, err = suite.auth.ValidateToken(context.Background(), token)
	suite.ErrorIs(err, ErrTokenExpired)
}

func TestAuthServiceSuite(t *testing.T) {
	suite.Run(t, new(AuthServiceTestSuite))
}
