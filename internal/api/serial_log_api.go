package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/wfunc/serial-bridge/internal/models"
	"github.com/wfunc/serial-bridge/internal/service"
)

const maxExportLogs = 10000

// SerialLogAPI 串口日志API
type SerialLogAPI struct {
	service *service.SerialLogService
}

// NewSerialLogAPI 创建串口日志API
func NewSerialLogAPI(service *service.SerialLogService) *SerialLogAPI {
	return &SerialLogAPI{
		service: service,
	}
}

// RegisterRoutes 注册路由，cleanupGuard 限制清理日志的角色
func (api *SerialLogAPI) RegisterRoutes(router *gin.RouterGroup, cleanupGuard gin.HandlerFunc) {
	logs := router.Group("/serial-logs")
	{
		logs.GET("", api.QueryLogs)                           // 查询日志列表
		logs.GET("/latest", api.GetLatestLogs)                // 获取最新日志
		logs.GET("/stats", api.GetStats)                      // 获取统计信息
		logs.GET("/errors", api.GetErrorLogs)                 // 获取错误日志
		logs.GET("/sessions/:session_id", api.GetSessionLogs) // 获取会话日志
		logs.GET("/:id", api.GetLog)                          // 获取单条日志
		logs.POST("/cleanup", cleanupGuard, api.CleanupLogs)  // 清理旧日志
		logs.GET("/export", api.ExportLogs)                   // 导出日志
	}
}

// parseQuery 解析查询参数
func parseQuery(c *gin.Context, defaultLimit int) (*models.SerialLogQuery, bool) {
	query := &models.SerialLogQuery{}
	if err := c.ShouldBindQuery(query); err != nil {
		badRequest(c, err)
		return nil, false
	}
	if query.Limit <= 0 {
		query.Limit = defaultLimit
	}
	return query, true
}

// QueryLogs 查询日志列表
// @Summary 查询串口日志
// @Tags SerialLog
// @Produce json
// @Param operation query string false "操作"
// @Param direction query string false "方向 SEND/RECEIVE/CONTROL"
// @Param port_path query string false "端口路径"
// @Param has_error query bool false "只看错误"
// @Param limit query int false "数量"
// @Param offset query int false "偏移"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/serial-logs [get]
func (api *SerialLogAPI) QueryLogs(c *gin.Context) {
	query, ok := parseQuery(c, 20)
	if !ok {
		return
	}

	logs, total, err := api.service.Query(c.Request.Context(), query)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "QUERY_FAILED",
			Message: "查询失败",
			Details: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   logs,
		"total":  total,
		"limit":  query.Limit,
		"offset": query.Offset,
	})
}

// GetLatestLogs 获取最新日志
func (api *SerialLogAPI) GetLatestLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 {
		limit = 20
	}

	logs, err := api.service.GetLatestLogs(c.Request.Context(), limit, c.Query("port_path"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "QUERY_FAILED",
			Message: "获取失败",
			Details: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  logs,
		"count": len(logs),
	})
}

// GetStats 获取统计信息
// @Summary 串口日志统计
// @Tags SerialLog
// @Produce json
// @Param start_time query string false "开始时间 RFC3339"
// @Param end_time query string false "结束时间 RFC3339"
// @Success 200 {object} models.SerialLogStats
// @Router /api/v1/serial-logs/stats [get]
func (api *SerialLogAPI) GetStats(c *gin.Context) {
	var startTime, endTime *time.Time

	// 解析时间范围
	if start := c.Query("start_time"); start != "" {
		if t, err := time.Parse(time.RFC3339, start); err == nil {
			startTime = &t
		}
	}
	if end := c.Query("end_time"); end != "" {
		if t, err := time.Parse(time.RFC3339, end); err == nil {
			endTime = &t
		}
	}

	stats, err := api.service.GetStats(c.Request.Context(), startTime, endTime)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "QUERY_FAILED",
			Message: "获取统计失败",
			Details: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// GetLog 获取单条日志
// @Summary 获取单条串口日志
// @Tags SerialLog
// @Param id path int true "日志ID"
// @Success 200 {object} models.SerialLog
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/serial-logs/{id} [get]
func (api *SerialLogAPI) GetLog(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "日志ID无效",
		})
		return
	}

	log, err := api.service.GetLog(c.Request.Context(), uint(id))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Code:    "NOT_FOUND",
			Message: "日志不存在",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "QUERY_FAILED",
			Message: "获取日志失败",
			Details: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, log)
}

// GetSessionLogs 获取会话日志
func (api *SerialLogAPI) GetSessionLogs(c *gin.Context) {
	logs, err := api.service.GetSessionLogs(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "QUERY_FAILED",
			Message: "获取会话日志失败",
			Details: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  logs,
		"count": len(logs),
	})
}

// GetErrorLogs 获取错误日志
func (api *SerialLogAPI) GetErrorLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 {
		limit = 50
	}

	logs, err := api.service.GetErrorLogs(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "QUERY_FAILED",
			Message: "获取错误日志失败",
			Details: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  logs,
		"count": len(logs),
	})
}

// CleanupLogs 清理旧日志
// @Summary 清理旧日志
// @Tags SerialLog
// @Param retention_days query int false "保留天数，默认30"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/serial-logs/cleanup [post]
func (api *SerialLogAPI) CleanupLogs(c *gin.Context) {
	retentionDays, err := strconv.Atoi(c.DefaultQuery("retention_days", "30"))
	if err != nil || retentionDays < 1 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "保留天数必须大于0",
		})
		return
	}

	count, err := api.service.CleanupOldLogs(c.Request.Context(), retentionDays)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "CLEANUP_FAILED",
			Message: "清理失败",
			Details: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":        "清理成功",
		"deleted":        count,
		"retention_days": retentionDays,
	})
}

// ExportLogs 导出日志
func (api *SerialLogAPI) ExportLogs(c *gin.Context) {
	query, ok := parseQuery(c, 1000)
	if !ok {
		return
	}
	if query.Limit > maxExportLogs {
		query.Limit = maxExportLogs
	}

	logs, _, err := api.service.Query(c.Request.Context(), query)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "EXPORT_FAILED",
			Message: "导出失败",
			Details: err.Error(),
		})
		return
	}

	data, err := json.MarshalIndent(logs, "", "  ")
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "EXPORT_FAILED",
			Message: "导出失败",
			Details: err.Error(),
		})
		return
	}

	c.Header("Content-Disposition", "attachment; filename=serial_logs_export.json")
	c.Data(http.StatusOK, "application/json", data)
}
