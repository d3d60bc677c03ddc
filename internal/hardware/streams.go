package hardware

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wfunc/serial-bridge/internal/transport"
)

func errReadableLocked() error {
	return newDOMError(TypeError, "ReadableStream is locked.", nil)
}

func errWritableLocked() error {
	return newDOMError(TypeError, "WritableStream is locked.", nil)
}

func errLockReleased() error {
	return newDOMError(TypeError, "The lock has been released.", nil)
}

func errStreamClosed() error {
	return newDOMError(InvalidStateError, "The stream is closed.", nil)
}

// readableStream 端口可读侧，由后台 pump 从设备读取数据
type readableStream struct {
	port *Port

	chunks   chan []byte
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu     sync.Mutex
	locked bool
	err    error
}

// newReadableStream 创建可读流，prev 为上一个 pump 的结束信号
func newReadableStream(p *Port, dev Device, bufferSize int, prev <-chan struct{}) *readableStream {
	s := &readableStream{
		port:   p,
		chunks: make(chan []byte),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.pump(dev, bufferSize, prev)
	return s
}

// pump 循环读取设备，每块不超过 bufferSize
func (s *readableStream) pump(dev Device, bufferSize int, prev <-chan struct{}) {
	defer close(s.done)
	defer close(s.chunks)

	if prev != nil {
		<-prev
	}

	buf := make([]byte, bufferSize)
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		n, err := dev.Read(buf)
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
			}
			s.port.host.logger.Warn("串口读取失败",
				zap.String("path", s.port.info.Path),
				zap.Error(err))
			s.fail(newDOMError(NetworkError, "The device has been lost.", err))
			return
		}
		if n == 0 {
			continue
		}

		chunk := make([]byte, n)
		copy(chunk, buf[:n])
		select {
		case s.chunks <- chunk:
		case <-s.stopCh:
			return
		}
	}
}

func (s *readableStream) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *readableStream) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// stop 通知 pump 退出
func (s *readableStream) stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// wait 等待 pump 退出
func (s *readableStream) wait() {
	<-s.done
}

func (s *readableStream) stopped() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// ended 流已结束（取消、关闭或出错）
func (s *readableStream) ended() bool {
	select {
	case <-s.done:
		return true
	default:
		return s.stopped()
	}
}

func (s *readableStream) isLocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked
}

// GetReader 获取读取器，同一时间只有一个
func (s *readableStream) GetReader() (transport.Reader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return nil, errReadableLocked()
	}
	s.locked = true
	return &reader{stream: s}, nil
}

func (s *readableStream) unlock() {
	s.mu.Lock()
	s.locked = false
	s.mu.Unlock()
}

// reader 读取器
type reader struct {
	stream *readableStream

	mu       sync.Mutex
	released bool
}

func (r *reader) isReleased() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}

// Read 等待下一块数据，流结束返回 Done
func (r *reader) Read(ctx context.Context) (transport.ReadResult, error) {
	if r.isReleased() {
		return transport.ReadResult{}, errLockReleased()
	}

	s := r.stream
	if s.stopped() {
		return transport.ReadResult{Done: true}, nil
	}

	select {
	case chunk, ok := <-s.chunks:
		if !ok {
			if err := s.failure(); err != nil {
				return transport.ReadResult{}, err
			}
			return transport.ReadResult{Done: true}, nil
		}
		return transport.ReadResult{Value: chunk}, nil
	case <-s.stopCh:
		return transport.ReadResult{Done: true}, nil
	case <-ctx.Done():
		return transport.ReadResult{}, ctx.Err()
	}
}

// Cancel 结束当前可读流，之后的读取返回 Done
func (r *reader) Cancel(ctx context.Context, reason error) error {
	if r.isReleased() {
		return errLockReleased()
	}

	s := r.stream
	s.stop()
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	fields := []zap.Field{zap.String("path", s.port.info.Path)}
	if reason != nil {
		fields = append(fields, zap.NamedError("reason", reason))
	}
	s.port.host.logger.Debug("可读流已取消", fields...)
	return nil
}

// ReleaseLock 释放读取器，重复释放无副作用
func (r *reader) ReleaseLock() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil
	}
	r.released = true
	r.stream.unlock()
	return nil
}

// writableStream 端口可写侧
type writableStream struct {
	port *Port
	dev  Device

	mu     sync.Mutex
	locked bool
	closed bool
}

func newWritableStream(p *Port, dev Device) *writableStream {
	return &writableStream{port: p, dev: dev}
}

func (s *writableStream) isLocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked
}

func (s *writableStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *writableStream) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// GetWriter 获取写入器，同一时间只有一个
func (s *writableStream) GetWriter() (transport.Writer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errStreamClosed()
	}
	if s.locked {
		return nil, errWritableLocked()
	}
	s.locked = true
	return &writer{stream: s}, nil
}

func (s *writableStream) unlock() {
	s.mu.Lock()
	s.locked = false
	s.mu.Unlock()
}

// writer 写入器
type writer struct {
	stream *writableStream

	mu       sync.Mutex
	released bool
}

// Write 写入全部数据后返回
func (w *writer) Write(ctx context.Context, chunk []byte) error {
	w.mu.Lock()
	released := w.released
	w.mu.Unlock()
	if released {
		return errLockReleased()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s := w.stream
	p := s.port
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if s.isClosed() {
		return errStreamClosed()
	}

	for len(chunk) > 0 {
		n, err := s.dev.Write(chunk)
		if err != nil {
			p.host.logger.Warn("串口写入失败", zap.String("path", p.info.Path), zap.Error(err))
			return newDOMError(NetworkError, "The device has been lost.", err)
		}
		chunk = chunk[n:]
	}
	return nil
}

// ReleaseLock 释放写入器，重复释放无副作用
func (w *writer) ReleaseLock() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.released {
		return nil
	}
	w.released = true
	w.stream.unlock()
	return nil
}
