package hardware

import (
	"errors"
	"fmt"
)

// 平台错误名称，与浏览器串口接口的异常名称一致
const (
	NotFoundError     = "NotFoundError"
	InvalidStateError = "InvalidStateError"
	NetworkError      = "NetworkError"
	SecurityError     = "SecurityError"
	NotSupportedError = "NotSupportedError"
	TypeError         = "TypeError"
)

// DOMError 串口平台错误
type DOMError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

// Error 实现error接口
func (e *DOMError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Name, e.Message, e.Cause)
	}
	return e.Name + ": " + e.Message
}

// Unwrap 返回底层驱动错误
func (e *DOMError) Unwrap() error {
	return e.Cause
}

func newDOMError(name, message string, cause error) *DOMError {
	return &DOMError{Name: name, Message: message, Cause: cause}
}

// IsDOMError 判断错误链中是否有指定名称的平台错误
func IsDOMError(err error, name string) bool {
	var de *DOMError
	return errors.As(err, &de) && de.Name == name
}

// DOMErrorName 返回平台错误名称，非平台错误返回空串
func DOMErrorName(err error) string {
	var de *DOMError
	if errors.As(err, &de) {
		return de.Name
	}
	return ""
}

func errPortOpen() error {
	return newDOMError(InvalidStateError, "The port is already open.", nil)
}

func errPortClosed() error {
	return newDOMError(InvalidStateError, "The port is already closed.", nil)
}

func errPortNotOpen() error {
	return newDOMError(InvalidStateError, "The port is not open.", nil)
}

func errPortForgotten() error {
	return newDOMError(InvalidStateError, "The port has been forgotten.", nil)
}

func errStreamsLocked() error {
	return newDOMError(InvalidStateError, "Cannot close a port while its streams are locked.", nil)
}

func errNoSelection() error {
	return newDOMError(NotFoundError, "No port selected by the user.", nil)
}
