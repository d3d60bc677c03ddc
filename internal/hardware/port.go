package hardware

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/wfunc/serial-bridge/internal/transport"
)

// 缓冲区上限 16 MiB
const maxBufferSize = 16 * 1024 * 1024

// 打开参数默认值
const (
	DefaultDataBits   = 8
	DefaultStopBits   = 1
	DefaultBufferSize = 255
)

type portState int

const (
	stateClosed portState = iota
	stateOpened
	stateForgotten
)

func (s portState) String() string {
	switch s {
	case stateOpened:
		return "opened"
	case stateForgotten:
		return "forgotten"
	default:
		return "closed"
	}
}

// Port 平台串口
type Port struct {
	host *Serial
	info transport.PortInfo

	mu       sync.Mutex
	state    portState
	dev      Device
	opts     transport.OpenOptions
	readable *readableStream
	writable *writableStream
	// 写操作互斥，与关闭设备互斥
	writeMu sync.Mutex
}

func newPort(host *Serial, info transport.PortInfo) *Port {
	return &Port{host: host, info: info}
}

// Info 端口描述
func (p *Port) Info() transport.PortInfo {
	return p.info
}

// State 当前状态
func (p *Port) State() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.String()
}

// Options 当前打开参数
func (p *Port) Options() transport.OpenOptions {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opts
}

// Open 打开端口
func (p *Port) Open(ctx context.Context, opts transport.OpenOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case stateForgotten:
		return errPortForgotten()
	case stateOpened:
		return errPortOpen()
	}

	norm, err := normalizeOptions(opts)
	if err != nil {
		return err
	}

	dev, err := p.host.driver.Open(p.info.Path, Mode{
		BaudRate:    norm.BaudRate,
		DataBits:    norm.DataBits,
		StopBits:    norm.StopBits,
		Parity:      norm.Parity,
		FlowControl: norm.FlowControl,
		ReadTimeout: p.host.pollInterval,
	})
	if err != nil {
		p.host.logger.Warn("打开串口失败",
			zap.String("path", p.info.Path),
			zap.String("driver", p.host.driver.Name()),
			zap.Error(err))
		if errors.Is(err, ErrFlowControlUnsupported) {
			return newDOMError(NotSupportedError, "Hardware flow control is not supported by this driver.", err)
		}
		return newDOMError(NetworkError, "Failed to open serial port.", err)
	}

	p.dev = dev
	p.opts = norm
	p.state = stateOpened
	p.readable = newReadableStream(p, dev, norm.BufferSize, nil)
	p.writable = newWritableStream(p, dev)

	p.host.logger.Info("串口已打开",
		zap.String("path", p.info.Path),
		zap.Int("baud_rate", norm.BaudRate))
	return nil
}

// Close 关闭端口，读写器未释放时失败
func (p *Port) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case stateForgotten:
		return errPortForgotten()
	case stateClosed:
		return errPortClosed()
	}

	if p.readable.isLocked() || p.writable.isLocked() {
		return errStreamsLocked()
	}

	p.shutdownLocked()
	p.state = stateClosed
	p.host.logger.Info("串口已关闭", zap.String("path", p.info.Path))
	return nil
}

// Forget 撤销授权，已打开时先关闭，重复调用无副作用
func (p *Port) Forget(ctx context.Context) error {
	p.mu.Lock()
	if p.state == stateForgotten {
		p.mu.Unlock()
		return nil
	}
	if p.state == stateOpened {
		p.shutdownLocked()
	}
	p.state = stateForgotten
	p.mu.Unlock()

	p.host.detach(p)
	if err := p.host.grants.Revoke(ctx, p.info.Path); err != nil {
		p.host.logger.Warn("撤销授权失败", zap.String("path", p.info.Path), zap.Error(err))
		return err
	}
	p.host.logger.Info("串口授权已撤销", zap.String("path", p.info.Path))
	return nil
}

// shutdownLocked 结束读写流并关闭设备，调用方持有 p.mu
func (p *Port) shutdownLocked() {
	p.readable.stop()
	p.writable.close()
	p.readable.wait()

	p.writeMu.Lock()
	if err := p.dev.Close(); err != nil {
		p.host.logger.Debug("关闭设备出错", zap.String("path", p.info.Path), zap.Error(err))
	}
	p.writeMu.Unlock()

	p.dev = nil
}

// Readable 当前可读流，上一个流结束后换新的
func (p *Port) Readable() transport.ReadableStream {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case stateForgotten:
		return closedStream{err: errPortForgotten}
	case stateClosed:
		return closedStream{err: errPortNotOpen}
	}

	if p.readable.ended() && !p.readable.isLocked() {
		p.readable = newReadableStream(p, p.dev, p.opts.BufferSize, p.readable.done)
	}
	return p.readable
}

// Writable 当前可写流
func (p *Port) Writable() transport.WritableStream {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case stateForgotten:
		return closedStream{err: errPortForgotten}
	case stateClosed:
		return closedStream{err: errPortNotOpen}
	}
	return p.writable
}

// normalizeOptions 填充默认值并校验打开参数
func normalizeOptions(opts transport.OpenOptions) (transport.OpenOptions, error) {
	if opts.BaudRate <= 0 {
		return opts, newDOMError(TypeError, "Requested baud rate must be greater than zero.", nil)
	}

	if opts.DataBits == 0 {
		opts.DataBits = DefaultDataBits
	}
	if opts.DataBits != 7 && opts.DataBits != 8 {
		return opts, newDOMError(TypeError, "Requested number of data bits must be 7 or 8.", nil)
	}

	if opts.StopBits == 0 {
		opts.StopBits = DefaultStopBits
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, newDOMError(TypeError, "Requested number of stop bits must be 1 or 2.", nil)
	}

	switch opts.Parity {
	case "":
		opts.Parity = transport.ParityNone
	case transport.ParityNone, transport.ParityEven, transport.ParityOdd:
	default:
		return opts, newDOMError(TypeError, "Requested parity is not supported.", nil)
	}

	if opts.BufferSize == 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.BufferSize < 0 {
		return opts, newDOMError(TypeError, "Requested buffer size must be greater than zero.", nil)
	}
	if opts.BufferSize > maxBufferSize {
		return opts, newDOMError(TypeError, "Requested buffer size exceeds the maximum allowed.", nil)
	}

	switch opts.FlowControl {
	case "":
		opts.FlowControl = transport.FlowControlNone
	case transport.FlowControlNone, transport.FlowControlHardware:
	default:
		return opts, newDOMError(TypeError, "Requested flow control is not supported.", nil)
	}

	return opts, nil
}

// closedStream 端口未打开时的流
type closedStream struct {
	err func() error
}

func (s closedStream) GetReader() (transport.Reader, error) { return nil, s.err() }

func (s closedStream) GetWriter() (transport.Writer, error) { return nil, s.err() }
