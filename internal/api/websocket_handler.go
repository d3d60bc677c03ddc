package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wfunc/serial-bridge/internal/config"
	"github.com/wfunc/serial-bridge/internal/logger"
	"github.com/wfunc/serial-bridge/internal/middleware"
	"github.com/wfunc/serial-bridge/internal/service"
	ws "github.com/wfunc/serial-bridge/internal/websocket"
)

// WebSocketHandler WebSocket处理器
type WebSocketHandler struct {
	hub      *ws.Hub
	stream   *ws.Stream
	bridge   *service.BridgeService
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(hub *ws.Hub, bridge *service.BridgeService, cfg config.WebSocketConfig) *WebSocketHandler {
	readSize, writeSize := cfg.ReadBufferSize, cfg.WriteBufferSize
	if readSize <= 0 {
		readSize = 1024
	}
	if writeSize <= 0 {
		writeSize = 1024
	}
	return &WebSocketHandler{
		hub:    hub,
		stream: ws.NewStream(bridge),
		bridge: bridge,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    readSize,
			WriteBufferSize:   writeSize,
			CheckOrigin:       checkOrigin(cfg.AllowedOrigins),
			EnableCompression: cfg.EnableCompression,
		},
		logger: logger.GetModuleLogger("websocket"),
	}
}

// checkOrigin 来源为空或在白名单内，白名单为空时全部放行
func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// Events 事件与提示连接
// @Summary 事件与提示 WebSocket
// @Tags WebSocket
// @Param class query string false "客户端类名，逗号分隔"
// @Router /ws [get]
func (h *WebSocketHandler) Events(c *gin.Context) {
	operator, _ := middleware.GetUsername(c)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket升级失败", zap.String("operator", operator), zap.Error(err))
		return
	}

	client := ws.NewClient(h.hub, conn, operator, ws.ParseClasses(c.Query("class")))
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

// Stream 端口字节流连接
// @Summary 端口字节流 WebSocket
// @Tags WebSocket
// @Param id path string true "端口句柄"
// @Router /ws/stream/{id} [get]
func (h *WebSocketHandler) Stream(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.bridge.Port(id); err != nil {
		writeError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket升级失败", zap.String("port", id), zap.Error(err))
		return
	}

	// 连接期间一直占用读写器
	if err := h.stream.Serve(c.Request.Context(), conn, id); err != nil {
		h.logger.Warn("串口字节流异常结束", zap.String("port", id), zap.Error(err))
	}
}

// GetOnlineCount 获取在线连接数
func (h *WebSocketHandler) GetOnlineCount(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"online_count": h.hub.GetOnlineCount(),
	})
}
