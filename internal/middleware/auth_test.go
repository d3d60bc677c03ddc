package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/wfunc/serial-bridge/internal/repository"
	"github.com/wfunc/serial-bridge/internal/service"
)

type mockAuthService struct {
	mock.Mock
}

func (m *mockAuthService) Login(ctx context.Context, req *service.LoginRequest) (*service.AuthResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*service.AuthResponse)
	return resp, args.Error(1)
}

func (m *mockAuthService) RefreshToken(ctx context.Context, token string) (*service.AuthResponse, error) {
	args := m.Called(ctx, token)
	resp, _ := args.Get(0).(*service.AuthResponse)
	return resp, args.Error(1)
}

func (m *mockAuthService) ValidateToken(ctx context.Context, token string) (*service.TokenClaims, error) {
	args := m.Called(ctx, token)
	claims, _ := args.Get(0).(*service.TokenClaims)
	return claims, args.Error(1)
}

func newTestEngine(auth service.AuthService, handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	chain := append(handlers, func(c *gin.Context) {
		name, _ := GetUsername(c)
		c.JSON(http.StatusOK, gin.H{
			"username": name,
			"operator": repository.OperatorFromContext(c.Request.Context()),
		})
	})
	engine.GET("/", chain...)
	return engine
}

func TestRequireAuth(t *testing.T) {
	auth := new(mockAuthService)
	auth.On("ValidateToken", mock.Anything, "good").Return(&service.TokenClaims{Username: "admin", Role: "operator"}, nil)
	auth.On("ValidateToken", mock.Anything, "bad").Return(nil, errors.New("invalid"))

	m := NewAuthMiddleware(auth)
	engine := newTestEngine(auth, m.RequireAuth())

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
	}{
		{"缺少令牌", func(r *http.Request) {}, http.StatusUnauthorized},
		{"Bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer good") }, http.StatusOK},
		{"X-Access-Token", func(r *http.Request) { r.Header.Set("X-Access-Token", "good") }, http.StatusOK},
		{"Cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "access_token", Value: "good"}) }, http.StatusOK},
		{"Query", func(r *http.Request) { r.URL.RawQuery = "token=good" }, http.StatusOK},
		{"无效令牌", func(r *http.Request) { r.Header.Set("Authorization", "Bearer bad") }, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(req)
			w := httptest.NewRecorder()
			engine.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.JSONEq(t, `{"username":"admin","operator":"admin"}`, w.Body.String())
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	auth := new(mockAuthService)
	auth.On("ValidateToken", mock.Anything, "op").Return(&service.TokenClaims{Username: "op", Role: "operator"}, nil)
	auth.On("ValidateToken", mock.Anything, "admin").Return(&service.TokenClaims{Username: "root", Role: "admin"}, nil)

	engine := newTestEngine(auth, NewAuthMiddleware(auth).RequireRole("admin"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer op")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer admin")
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
