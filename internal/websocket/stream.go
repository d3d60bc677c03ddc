package websocket

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wfunc/serial-bridge/internal/logger"
	"github.com/wfunc/serial-bridge/internal/service"
	"github.com/wfunc/serial-bridge/internal/transport"
)

// StreamBridge 字节流桥接需要的串口操作
type StreamBridge interface {
	AcquireReader(ctx context.Context, portID string) (*service.LockView, error)
	AcquireWriter(ctx context.Context, portID string) (*service.LockView, error)
	Read(ctx context.Context, readerID string) (transport.ReadResult, error)
	Write(ctx context.Context, writerID string, data []byte) error
	Cancel(ctx context.Context, readerID, reason string) error
	Release(ctx context.Context, id string) error
}

// Stream 把一个已打开端口的读写流桥接到 WebSocket 二进制消息
type Stream struct {
	bridge StreamBridge
	logger *zap.Logger
}

// NewStream 创建字节流桥接
func NewStream(bridge StreamBridge) *Stream {
	return &Stream{
		bridge: bridge,
		logger: logger.GetModuleLogger("websocket"),
	}
}

// Serve 占用端口的读取器和写入器直到连接断开或串口流结束
func (s *Stream) Serve(ctx context.Context, conn *websocket.Conn, portID string) error {
	defer conn.Close()

	reader, err := s.bridge.AcquireReader(ctx, portID)
	if err != nil {
		s.closeWith(conn, websocket.CloseInternalServerErr, err.Error())
		return err
	}
	defer s.bridge.Release(context.Background(), reader.ID)

	writer, err := s.bridge.AcquireWriter(ctx, portID)
	if err != nil {
		s.closeWith(conn, websocket.CloseInternalServerErr, err.Error())
		return err
	}
	defer s.bridge.Release(context.Background(), writer.ID)

	s.logger.Info("串口字节流已连接", zap.String("port", portID))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 串口 -> WebSocket
	pumpDone := make(chan error, 1)
	go func() {
		pumpDone <- s.pump(ctx, conn, reader.ID)
	}()

	// WebSocket -> 串口
	conn.SetReadLimit(maxMessageSize)
	readErr := make(chan error, 1)
	go func() {
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			if msgType != websocket.BinaryMessage && msgType != websocket.TextMessage {
				continue
			}
			if err := s.bridge.Write(ctx, writer.ID, data); err != nil {
				readErr <- err
				return
			}
		}
	}()

	var result error
	select {
	case err := <-pumpDone:
		result = err
		if err == nil {
			s.closeWith(conn, websocket.CloseNormalClosure, "stream ended")
		} else {
			s.closeWith(conn, websocket.CloseInternalServerErr, err.Error())
		}
	case err := <-readErr:
		// 客户端正常关闭不算错误
		var ce *websocket.CloseError
		if !errors.As(err, &ce) {
			result = err
		}
		if err := s.bridge.Cancel(context.Background(), reader.ID, "websocket closed"); err != nil {
			s.logger.Debug("取消读取失败", zap.Error(err))
		}
		<-pumpDone
	}

	s.logger.Info("串口字节流已断开", zap.String("port", portID), zap.Error(result))
	return result
}

// pump 读取串口数据并发送给客户端，流结束时返回 nil
func (s *Stream) pump(ctx context.Context, conn *websocket.Conn, readerID string) error {
	for {
		result, err := s.bridge.Read(ctx, readerID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if result.Done {
			return nil
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.BinaryMessage, result.Value); err != nil {
			return err
		}
	}
}

// 关闭帧的原因最多 123 字节
const maxCloseReason = 120

func (s *Stream) closeWith(conn *websocket.Conn, code int, text string) {
	if len(text) > maxCloseReason {
		text = text[:maxCloseReason]
	}
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
