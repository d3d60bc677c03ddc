package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/wfunc/serial-bridge/internal/config"
	"github.com/wfunc/serial-bridge/internal/middleware"
	"github.com/wfunc/serial-bridge/internal/service"
	ws "github.com/wfunc/serial-bridge/internal/websocket"
)

// adminRole 可以清理日志的角色
const adminRole = "admin"

// Router API路由器
type Router struct {
	engine         *gin.Engine
	db             *gorm.DB
	services       *service.Services
	authHandler    *AuthHandler
	serialHandler  *SerialHandler
	serialLogAPI   *SerialLogAPI
	wsHandler      *WebSocketHandler
	authMiddleware *middleware.AuthMiddleware
}

// NewRouter 创建路由器
func NewRouter(cfg *config.Config, db *gorm.DB, services *service.Services, hub *ws.Hub) *Router {
	switch cfg.Server.Mode {
	case gin.DebugMode, gin.ReleaseMode, gin.TestMode:
		gin.SetMode(cfg.Server.Mode)
	}
	engine := gin.New()

	// 全局中间件
	engine.Use(middleware.Recovery())
	engine.Use(middleware.RequestLogger())

	router := &Router{
		engine:         engine,
		db:             db,
		services:       services,
		authHandler:    NewAuthHandler(services.Auth),
		serialHandler:  NewSerialHandler(services.Bridge),
		serialLogAPI:   NewSerialLogAPI(services.SerialLog),
		wsHandler:      NewWebSocketHandler(hub, services.Bridge, cfg.WebSocket),
		authMiddleware: middleware.NewAuthMiddleware(services.Auth),
	}

	router.setupRoutes(cfg.WebSocket.Path)
	return router
}

// setupRoutes 设置路由
func (r *Router) setupRoutes(wsPath string) {
	if wsPath == "" {
		wsPath = "/ws"
	}

	// 健康检查
	r.engine.GET("/health", r.healthCheck)

	// API文档
	registerOpenAPIRoutes(r.engine)
	registerSwaggerRoutes(r.engine)

	// API v1路由组
	v1 := r.engine.Group("/api/v1")
	{
		// 认证相关路由（不需要认证）
		auth := v1.Group("/auth")
		{
			auth.POST("/login", r.authHandler.Login)
			auth.POST("/refresh", r.authHandler.RefreshToken)
			auth.GET("/profile", r.authMiddleware.RequireAuth(), r.authHandler.GetProfile)
		}

		// 串口与日志路由（需要认证）
		protected := v1.Group("")
		protected.Use(r.authMiddleware.RequireAuth())
		{
			r.serialHandler.RegisterRoutes(protected)
			r.serialLogAPI.RegisterRoutes(protected, r.authMiddleware.RequireRole(adminRole))
			protected.GET("/ws/online", r.wsHandler.GetOnlineCount)
		}
	}

	// WebSocket路由，令牌可放在 query 中
	wsGroup := r.engine.Group(wsPath)
	wsGroup.Use(r.authMiddleware.RequireAuth())
	{
		wsGroup.GET("", r.wsHandler.Events)
		wsGroup.GET("/stream/:id", r.wsHandler.Stream)
	}

	// 404处理
	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Code:    "NOT_FOUND",
			Message: "接口不存在",
		})
	})
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	status := gin.H{
		"status":           "healthy",
		"serial_supported": r.services.Bridge.Supported(),
	}

	if r.db != nil {
		sqlDB, err := r.db.DB()
		if err == nil {
			err = sqlDB.Ping()
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"message": "数据库连接失败",
			})
			return
		}
	}

	c.JSON(http.StatusOK, status)
}

// Handler 返回HTTP处理器
func (r *Router) Handler() http.Handler {
	return r.engine
}

// GetEngine 获取Gin引擎（用于测试）
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
