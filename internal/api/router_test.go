package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/wfunc/serial-bridge/internal/config"
	apperrors "github.com/wfunc/serial-bridge/internal/errors"
	"github.com/wfunc/serial-bridge/internal/hardware"
	"github.com/wfunc/serial-bridge/internal/repository"
	"github.com/wfunc/serial-bridge/internal/service"
	"github.com/wfunc/serial-bridge/internal/utils"
	ws "github.com/wfunc/serial-bridge/internal/websocket"
)

const mockPath = "/dev/ttyMOCK0"

// RouterTestSuite API路由测试套件
type RouterTestSuite struct {
	suite.Suite
	db       *gorm.DB
	platform *hardware.Serial
	services *service.Services
	hub      *ws.Hub
	engine   *gin.Engine
	token    string
}

func (suite *RouterTestSuite) SetupTest() {
	hash, err := utils.HashPasswordWithConfig("secret123", &utils.PasswordConfig{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLen: 32})
	suite.Require().NoError(err)

	cfg := &config.Config{
		Server: config.ServerConfig{Mode: gin.TestMode},
		Serial: config.SerialConfig{
			Defaults: config.SerialDefaults{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "none", BufferSize: 255},
		},
		Notify: config.NotifyConfig{Enabled: true, Selector: ".toast"},
		Security: config.SecurityConfig{
			JWT:      config.JWTConfig{Secret: "router-test", ExpireHours: 1},
			Operator: config.OperatorConfig{Username: "admin", PasswordHash: hash, Role: "admin"},
		},
	}

	suite.db = repository.SetupTestDB()
	repos := repository.NewManager(suite.db)

	suite.platform, err = hardware.New(hardware.Options{
		Driver:     hardware.NewMockDriver(),
		Enumerator: hardware.StaticEnumerator{Ports: hardware.MockPorts([]string{mockPath})},
		Grants:     repos.PortGrant(),
		Logger:     zap.NewNop(),
	})
	suite.Require().NoError(err)

	suite.hub = ws.NewHub(time.Hour)
	go suite.hub.Run()

	suite.services = service.NewServices(service.Deps{
		Config:    cfg,
		Repos:     repos,
		Host:      suite.platform,
		Publisher: suite.hub,
		Elements:  suite.hub,
	})
	suite.engine = NewRouter(cfg, suite.db, suite.services, suite.hub).GetEngine()

	w := suite.do(http.MethodPost, "/api/v1/auth/login", map[string]string{"username": "admin", "password": "secret123"})
	suite.Require().Equal(http.StatusOK, w.Code)
	var resp service.AuthResponse
	suite.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	suite.token = resp.AccessToken
}

func (suite *RouterTestSuite) TearDownTest() {
	suite.services.Close()
	suite.platform.Shutdown()
	suite.hub.Stop()
	repository.CleanupTestDB(suite.db)
}

func (suite *RouterTestSuite) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		suite.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if suite.token != "" {
		req.Header.Set("Authorization", "Bearer "+suite.token)
	}
	w := httptest.NewRecorder()
	suite.engine.ServeHTTP(w, req)
	return w
}

func (suite *RouterTestSuite) decode(w *httptest.ResponseRecorder, v interface{}) {
	suite.Require().NoError(json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func (suite *RouterTestSuite) TestHealthAndAuth() {
	w := suite.do(http.MethodGet, "/health", nil)
	suite.Equal(http.StatusOK, w.Code)

	suite.token = ""
	w = suite.do(http.MethodGet, "/api/v1/serial/ports", nil)
	suite.Equal(http.StatusUnauthorized, w.Code)

	w = suite.do(http.MethodPost, "/api/v1/auth/login", map[string]string{"username": "admin", "password": "nope"})
	suite.Equal(http.StatusUnauthorized, w.Code)

	w = suite.do(http.MethodGet, "/api/v1/missing", nil)
	suite.Equal(http.StatusNotFound, w.Code)
}

func (suite *RouterTestSuite) TestProfile() {
	w := suite.do(http.MethodGet, "/api/v1/auth/profile", nil)
	suite.Require().Equal(http.StatusOK, w.Code)
	var profile map[string]string
	suite.decode(w, &profile)
	suite.Equal("admin", profile["username"])
}

func (suite *RouterTestSuite) TestOpenWriteReadRoundTrip() {
	w := suite.do(http.MethodGet, "/api/v1/serial/supported", nil)
	suite.JSONEq(`{"supported":true}`, w.Body.String())

	w = suite.do(http.MethodPost, "/api/v1/serial/ports/request", map[string]string{"path": mockPath})
	suite.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var port service.PortView
	suite.decode(w, &port)
	suite.Equal(mockPath, port.Info.Path)

	w = suite.do(http.MethodPost, "/api/v1/serial/ports/"+port.ID+"/open", map[string]int{"baudRate": 115200})
	suite.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	suite.decode(w, &port)
	suite.Equal("opened", port.State)

	w = suite.do(http.MethodPost, "/api/v1/serial/ports/"+port.ID+"/open", nil)
	suite.Equal(http.StatusConflict, w.Code)
	var errResp ErrorResponse
	suite.decode(w, &errResp)
	suite.Equal(hardware.InvalidStateError, errResp.Code)

	var writer, reader service.LockView
	w = suite.do(http.MethodPost, "/api/v1/serial/ports/"+port.ID+"/writer", nil)
	suite.Require().Equal(http.StatusOK, w.Code)
	suite.decode(w, &writer)
	w = suite.do(http.MethodPost, "/api/v1/serial/ports/"+port.ID+"/reader", nil)
	suite.Require().Equal(http.StatusOK, w.Code)
	suite.decode(w, &reader)

	w = suite.do(http.MethodPost, "/api/v1/serial/writers/"+writer.ID+"/write", WriteRequest{Data: "68656c6c6f", Encoding: "hex"})
	suite.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	w = suite.do(http.MethodPost, "/api/v1/serial/readers/"+reader.ID+"/read?timeout_ms=2000", nil)
	suite.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var read ReadResponse
	suite.decode(w, &read)
	suite.False(read.Done)
	suite.Equal("hello", read.Text)
	suite.Equal(5, read.Bytes)

	// 没有数据时超时
	w = suite.do(http.MethodPost, "/api/v1/serial/readers/"+reader.ID+"/read?timeout_ms=50", nil)
	suite.Equal(http.StatusRequestTimeout, w.Code)

	// 超时后同一个读取器继续可用
	w = suite.do(http.MethodPost, "/api/v1/serial/writers/"+writer.ID+"/write", WriteRequest{Data: "again"})
	suite.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	w = suite.do(http.MethodPost, "/api/v1/serial/readers/"+reader.ID+"/read?timeout_ms=2000", nil)
	suite.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	read = ReadResponse{}
	suite.decode(w, &read)
	suite.Equal("again", read.Text)

	// 读写器未释放时不能关闭
	w = suite.do(http.MethodPost, "/api/v1/serial/ports/"+port.ID+"/close", nil)
	suite.Equal(http.StatusConflict, w.Code)

	suite.Equal(http.StatusOK, suite.do(http.MethodPost, "/api/v1/serial/readers/"+reader.ID+"/release", nil).Code)
	suite.Equal(http.StatusOK, suite.do(http.MethodPost, "/api/v1/serial/writers/"+writer.ID+"/release", nil).Code)

	w = suite.do(http.MethodPost, "/api/v1/serial/ports/"+port.ID+"/close", nil)
	suite.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	suite.decode(w, &port)
	suite.Equal("closed", port.State)

	w = suite.do(http.MethodPost, "/api/v1/serial/readers/"+reader.ID+"/read", nil)
	suite.Equal(http.StatusNotFound, w.Code)

	suite.Require().NoError(suite.services.SerialLog.Flush(context.Background()))
	w = suite.do(http.MethodGet, "/api/v1/serial-logs?operation=open", nil)
	suite.Require().Equal(http.StatusOK, w.Code)
	var logs struct {
		Total int64 `json:"total"`
	}
	suite.decode(w, &logs)
	suite.Equal(int64(2), logs.Total)

	w = suite.do(http.MethodGet, "/api/v1/serial-logs/stats", nil)
	suite.Equal(http.StatusOK, w.Code)
}

func (suite *RouterTestSuite) TestSerialLogLookup() {
	w := suite.do(http.MethodPost, "/api/v1/serial/ports/request", map[string]string{"path": mockPath})
	suite.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	suite.Require().NoError(suite.services.SerialLog.Flush(context.Background()))

	w = suite.do(http.MethodGet, "/api/v1/serial-logs?operation=request", nil)
	suite.Require().Equal(http.StatusOK, w.Code)
	var list struct {
		Data []struct {
			ID        uint   `json:"id"`
			Operation string `json:"operation"`
			SessionID string `json:"session_id"`
		} `json:"data"`
	}
	suite.decode(w, &list)
	suite.Require().Len(list.Data, 1)
	entry := list.Data[0]

	w = suite.do(http.MethodGet, fmt.Sprintf("/api/v1/serial-logs/%d", entry.ID), nil)
	suite.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var got struct {
		Operation string `json:"operation"`
	}
	suite.decode(w, &got)
	suite.Equal("request", got.Operation)

	suite.Equal(http.StatusNotFound, suite.do(http.MethodGet, "/api/v1/serial-logs/999999", nil).Code)
	suite.Equal(http.StatusBadRequest, suite.do(http.MethodGet, "/api/v1/serial-logs/abc", nil).Code)

	w = suite.do(http.MethodGet, "/api/v1/serial-logs/sessions/"+entry.SessionID, nil)
	suite.Require().Equal(http.StatusOK, w.Code)
	var session struct {
		Count int `json:"count"`
	}
	suite.decode(w, &session)
	suite.GreaterOrEqual(session.Count, 1)
}

func (suite *RouterTestSuite) TestRequestPortDeclined() {
	w := suite.do(http.MethodPost, "/api/v1/serial/ports/request", nil)
	suite.Equal(http.StatusNotFound, w.Code)
	var errResp ErrorResponse
	suite.decode(w, &errResp)
	suite.Equal(hardware.NotFoundError, errResp.Code)

	w = suite.do(http.MethodPost, "/api/v1/serial/ports/request", map[string]interface{}{
		"path":    mockPath,
		"filters": []map[string]int{{"usbProductId": 1}},
	})
	suite.Equal(http.StatusBadRequest, w.Code)
}

func (suite *RouterTestSuite) TestCleanupValidation() {
	w := suite.do(http.MethodPost, "/api/v1/serial-logs/cleanup?retention_days=0", nil)
	suite.Equal(http.StatusBadRequest, w.Code)

	w = suite.do(http.MethodPost, "/api/v1/serial-logs/cleanup?retention_days=7", nil)
	suite.Equal(http.StatusOK, w.Code)
}

func (suite *RouterTestSuite) TestCleanupRequiresAdmin() {
	token, err := utils.NewJWTManager("router-test", time.Hour, time.Hour).GenerateAccessToken("viewer", "operator", "s1")
	suite.Require().NoError(err)
	suite.token = token

	w := suite.do(http.MethodPost, "/api/v1/serial-logs/cleanup?retention_days=7", nil)
	suite.Equal(http.StatusForbidden, w.Code)

	// 其他日志接口不限角色
	w = suite.do(http.MethodGet, "/api/v1/serial-logs/stats", nil)
	suite.Equal(http.StatusOK, w.Code)
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterTestSuite))
}

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"NotFound", &hardware.DOMError{Name: hardware.NotFoundError}, http.StatusNotFound, hardware.NotFoundError},
		{"Network", &hardware.DOMError{Name: hardware.NetworkError, Cause: errors.New("io")}, http.StatusBadGateway, hardware.NetworkError},
		{"Type", &hardware.DOMError{Name: hardware.TypeError}, http.StatusBadRequest, hardware.TypeError},
		{"NotSupported", &hardware.DOMError{Name: hardware.NotSupportedError, Cause: hardware.ErrFlowControlUnsupported}, http.StatusNotImplemented, hardware.NotSupportedError},
		{"Handle", apperrors.New(apperrors.ErrSerialHandle), http.StatusNotFound, "3006"},
		{"Plain", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := errorResponse(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, resp.Code)
		})
	}
}

func TestDecodePayload(t *testing.T) {
	got, err := decodePayload("", "abc")
	assert.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	got, err = decodePayload("base64", "AAE=")
	assert.NoError(t, err)
	assert.Equal(t, []byte{0, 1}, got)

	_, err = decodePayload("hex", "zz")
	assert.Error(t, err)
	_, err = decodePayload("utf16", "a")
	assert.Error(t, err)
}
