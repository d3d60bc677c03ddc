package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "github.com/wfunc/serial-bridge/internal/errors"
	"github.com/wfunc/serial-bridge/internal/hardware"
)

// ErrorResponse 错误响应
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse 成功响应
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// domStatus 平台错误名称对应的HTTP状态码
var domStatus = map[string]int{
	hardware.NotFoundError:     http.StatusNotFound,
	hardware.InvalidStateError: http.StatusConflict,
	hardware.NetworkError:      http.StatusBadGateway,
	hardware.SecurityError:     http.StatusForbidden,
	hardware.NotSupportedError: http.StatusNotImplemented,
	hardware.TypeError:         http.StatusBadRequest,
}

// writeError 按错误类型写入响应
func writeError(c *gin.Context, err error) {
	status, resp := errorResponse(err)
	c.JSON(status, resp)
}

func errorResponse(err error) (int, ErrorResponse) {
	var de *hardware.DOMError
	if errors.As(err, &de) {
		status, ok := domStatus[de.Name]
		if !ok {
			status = http.StatusInternalServerError
		}
		resp := ErrorResponse{Code: de.Name, Message: de.Message}
		if de.Cause != nil {
			resp.Details = de.Cause.Error()
		}
		return status, resp
	}

	var ae *apperrors.AppError
	if errors.As(err, &ae) {
		return ae.HTTPStatus(), ErrorResponse{
			Code:    strconv.Itoa(int(ae.Code)),
			Message: ae.Message,
			Details: ae.Details,
		}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout, ErrorResponse{Code: "TIMEOUT", Message: "操作超时"}
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout, ErrorResponse{Code: "CANCELED", Message: "操作已取消"}
	}
	return http.StatusInternalServerError, ErrorResponse{Code: "INTERNAL_ERROR", Message: err.Error()}
}

// badRequest 请求参数错误
func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Code:    "INVALID_REQUEST",
		Message: "请求参数错误",
		Details: err.Error(),
	})
}
