package api

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/wfunc/serial-bridge/internal/service"
	"github.com/wfunc/serial-bridge/internal/transport"
)

const (
	defaultReadTimeout = 5 * time.Second
	maxReadTimeout     = 60 * time.Second
)

// SerialHandler 串口处理器
type SerialHandler struct {
	bridge *service.BridgeService
}

// NewSerialHandler 创建串口处理器
func NewSerialHandler(bridge *service.BridgeService) *SerialHandler {
	return &SerialHandler{bridge: bridge}
}

// RequestPortRequest 请求端口
type RequestPortRequest struct {
	// 要选择的端口路径，为空时由服务端选择器决定
	Path    string                 `json:"path"`
	Filters []transport.PortFilter `json:"filters"`
}

// CancelRequest 取消读取
type CancelRequest struct {
	Reason string `json:"reason"`
}

// WriteRequest 写入数据
type WriteRequest struct {
	Data     string `json:"data" binding:"required"`
	Encoding string `json:"encoding"` // text / hex / base64
}

// ReadResponse 读取结果
type ReadResponse struct {
	Done   bool   `json:"done"`
	Base64 string `json:"base64,omitempty"`
	Hex    string `json:"hex,omitempty"`
	Text   string `json:"text,omitempty"`
	Bytes  int    `json:"bytes"`
}

// RegisterRoutes 注册路由
func (h *SerialHandler) RegisterRoutes(router *gin.RouterGroup) {
	serial := router.Group("/serial")
	{
		serial.GET("/supported", h.Supported)
		serial.GET("/ports", h.GetPorts)
		serial.POST("/ports/request", h.RequestPort)
		serial.GET("/ports/:id", h.GetPort)
		serial.POST("/ports/:id/open", h.Open)
		serial.POST("/ports/:id/close", h.Close)
		serial.POST("/ports/:id/forget", h.Forget)
		serial.POST("/ports/:id/reader", h.AcquireReader)
		serial.POST("/ports/:id/writer", h.AcquireWriter)

		serial.POST("/readers/:id/read", h.Read)
		serial.POST("/readers/:id/cancel", h.Cancel)
		serial.POST("/readers/:id/release", h.Release)
		serial.POST("/writers/:id/write", h.Write)
		serial.POST("/writers/:id/release", h.Release)
	}
}

// Supported 是否支持串口
// @Summary 是否支持串口
// @Tags Serial
// @Produce json
// @Success 200 {object} map[string]bool
// @Router /api/v1/serial/supported [get]
func (h *SerialHandler) Supported(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"supported": h.bridge.Supported()})
}

// GetPorts 已授权的端口
// @Summary 已授权的端口
// @Tags Serial
// @Produce json
// @Success 200 {array} service.PortView
// @Router /api/v1/serial/ports [get]
func (h *SerialHandler) GetPorts(c *gin.Context) {
	ports, err := h.bridge.GetPorts(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": ports, "count": len(ports)})
}

// RequestPort 请求授权端口
// @Summary 请求授权端口
// @Tags Serial
// @Accept json
// @Produce json
// @Param request body RequestPortRequest false "选择条件"
// @Success 200 {object} service.PortView
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/serial/ports/request [post]
func (h *SerialHandler) RequestPort(c *gin.Context) {
	var req RequestPortRequest
	if !bindOptional(c, &req) {
		return
	}

	view, err := h.bridge.RequestPort(c.Request.Context(), req.Path, transport.RequestOptions{Filters: req.Filters})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetPort 端口详情
func (h *SerialHandler) GetPort(c *gin.Context) {
	view, err := h.bridge.Port(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Open 打开端口
// @Summary 打开端口
// @Tags Serial
// @Accept json
// @Produce json
// @Param id path string true "端口句柄"
// @Param request body transport.OpenOptions false "通信参数，缺省使用配置默认值"
// @Success 200 {object} service.PortView
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/serial/ports/{id}/open [post]
func (h *SerialHandler) Open(c *gin.Context) {
	var opts transport.OpenOptions
	if !bindOptional(c, &opts) {
		return
	}

	id := c.Param("id")
	if err := h.bridge.Open(c.Request.Context(), id, opts); err != nil {
		writeError(c, err)
		return
	}
	h.respondPort(c, id)
}

// Close 关闭端口
// @Summary 关闭端口
// @Tags Serial
// @Param id path string true "端口句柄"
// @Success 200 {object} service.PortView
// @Router /api/v1/serial/ports/{id}/close [post]
func (h *SerialHandler) Close(c *gin.Context) {
	id := c.Param("id")
	if err := h.bridge.Close(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	h.respondPort(c, id)
}

// Forget 撤销授权
// @Summary 撤销端口授权
// @Tags Serial
// @Param id path string true "端口句柄"
// @Success 200 {object} service.PortView
// @Router /api/v1/serial/ports/{id}/forget [post]
func (h *SerialHandler) Forget(c *gin.Context) {
	id := c.Param("id")
	if err := h.bridge.Forget(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	h.respondPort(c, id)
}

func (h *SerialHandler) respondPort(c *gin.Context, id string) {
	view, err := h.bridge.Port(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// AcquireReader 获取读取器
// @Summary 获取读取器
// @Tags Serial
// @Param id path string true "端口句柄"
// @Success 200 {object} service.LockView
// @Router /api/v1/serial/ports/{id}/reader [post]
func (h *SerialHandler) AcquireReader(c *gin.Context) {
	view, err := h.bridge.AcquireReader(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// AcquireWriter 获取写入器
// @Summary 获取写入器
// @Tags Serial
// @Param id path string true "端口句柄"
// @Success 200 {object} service.LockView
// @Router /api/v1/serial/ports/{id}/writer [post]
func (h *SerialHandler) AcquireWriter(c *gin.Context) {
	view, err := h.bridge.AcquireWriter(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Read 读取一个数据块，timeout_ms 内没有数据时返回 408
// @Summary 读取数据
// @Tags Serial
// @Param id path string true "读取器句柄"
// @Param timeout_ms query int false "等待时间（毫秒）"
// @Success 200 {object} ReadResponse
// @Failure 408 {object} ErrorResponse
// @Router /api/v1/serial/readers/{id}/read [post]
func (h *SerialHandler) Read(c *gin.Context) {
	timeout := defaultReadTimeout
	if v := c.Query("timeout_ms"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			badRequest(c, fmt.Errorf("invalid timeout_ms %q", v))
			return
		}
		timeout = time.Duration(ms) * time.Millisecond
		if timeout > maxReadTimeout {
			timeout = maxReadTimeout
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	result, err := h.bridge.Read(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newReadResponse(result))
}

func newReadResponse(result transport.ReadResult) ReadResponse {
	resp := ReadResponse{Done: result.Done, Bytes: len(result.Value)}
	if len(result.Value) > 0 {
		resp.Base64 = base64.StdEncoding.EncodeToString(result.Value)
		resp.Hex = hex.EncodeToString(result.Value)
		if utf8.Valid(result.Value) {
			resp.Text = string(result.Value)
		}
	}
	return resp
}

// Cancel 取消读取器
// @Summary 取消读取器
// @Tags Serial
// @Param id path string true "读取器句柄"
// @Param request body CancelRequest false "原因"
// @Success 200 {object} SuccessResponse
// @Router /api/v1/serial/readers/{id}/cancel [post]
func (h *SerialHandler) Cancel(c *gin.Context) {
	var req CancelRequest
	if !bindOptional(c, &req) {
		return
	}
	if err := h.bridge.Cancel(c.Request.Context(), c.Param("id"), req.Reason); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "读取已取消"})
}

// Write 写入数据
// @Summary 写入数据
// @Tags Serial
// @Accept json
// @Param id path string true "写入器句柄"
// @Param request body WriteRequest true "数据"
// @Success 200 {object} SuccessResponse
// @Router /api/v1/serial/writers/{id}/write [post]
func (h *SerialHandler) Write(c *gin.Context) {
	var req WriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	data, err := decodePayload(req.Encoding, req.Data)
	if err != nil {
		badRequest(c, err)
		return
	}

	if err := h.bridge.Write(c.Request.Context(), c.Param("id"), data); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "写入成功", Data: gin.H{"bytes": len(data)}})
}

// Release 释放读取器或写入器
// @Summary 释放读取器或写入器
// @Tags Serial
// @Param id path string true "句柄"
// @Success 200 {object} SuccessResponse
// @Router /api/v1/serial/readers/{id}/release [post]
// @Router /api/v1/serial/writers/{id}/release [post]
func (h *SerialHandler) Release(c *gin.Context) {
	if err := h.bridge.Release(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "已释放"})
}

// decodePayload 按编码解析写入数据
func decodePayload(encoding, data string) ([]byte, error) {
	switch encoding {
	case "", "text":
		return []byte(data), nil
	case "hex":
		return hex.DecodeString(data)
	case "base64":
		return base64.StdEncoding.DecodeString(data)
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
}

// bindOptional 请求体可以为空
func bindOptional(c *gin.Context, obj interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(obj); err != nil {
		badRequest(c, err)
		return false
	}
	return true
}
