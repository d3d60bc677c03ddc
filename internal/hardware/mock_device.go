package hardware

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/wfunc/serial-bridge/internal/transport"
)

// ErrDeviceLost 模拟设备被拔出
var ErrDeviceLost = errors.New("device lost")

// MockDriver 内存回环驱动（用于测试和模拟模式）
type MockDriver struct {
	mu       sync.Mutex
	devices  map[string]*MockDevice
	failOpen map[string]error
	opens    int
}

// NewMockDriver 创建模拟驱动
func NewMockDriver() *MockDriver {
	return &MockDriver{
		devices:  make(map[string]*MockDevice),
		failOpen: make(map[string]error),
	}
}

// Name 驱动名称
func (d *MockDriver) Name() string { return "mock" }

// Open 打开模拟设备
func (d *MockDriver) Open(path string, mode Mode) (Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err, ok := d.failOpen[path]; ok {
		return nil, err
	}

	dev := &MockDevice{
		path:     path,
		mode:     mode,
		loopback: true,
		notify:   make(chan struct{}, 1),
	}
	d.devices[path] = dev
	d.opens++
	return dev, nil
}

// FailOpen 让后续打开指定路径失败，err 为 nil 时恢复
func (d *MockDriver) FailOpen(path string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.failOpen, path)
		return
	}
	d.failOpen[path] = err
}

// Device 返回路径上最近一次打开的设备
func (d *MockDriver) Device(path string) *MockDevice {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.devices[path]
}

// Opens 打开次数
func (d *MockDriver) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// MockDevice 模拟设备，默认把写入的数据回环到读取端
type MockDevice struct {
	path string
	mode Mode

	mu       sync.Mutex
	rx       bytes.Buffer
	tx       bytes.Buffer
	loopback bool
	closed   bool
	lost     bool
	notify   chan struct{}
}

// Mode 打开参数
func (m *MockDevice) Mode() Mode { return m.mode }

// SetLoopback 开关回环
func (m *MockDevice) SetLoopback(on bool) {
	m.mu.Lock()
	m.loopback = on
	m.mu.Unlock()
}

// Inject 模拟设备发来数据
func (m *MockDevice) Inject(data []byte) {
	m.mu.Lock()
	m.rx.Write(data)
	m.mu.Unlock()
	m.wake()
}

// Lose 模拟设备丢失，之后读写都失败
func (m *MockDevice) Lose() {
	m.mu.Lock()
	m.lost = true
	m.mu.Unlock()
	m.wake()
}

// Written 返回设备收到的全部数据
func (m *MockDevice) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.tx.Bytes()...)
}

// Closed 是否已关闭
func (m *MockDevice) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockDevice) wake() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Read 读取数据，超时返回 (0, nil)
func (m *MockDevice) Read(p []byte) (int, error) {
	timeout := m.mode.ReadTimeout
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		m.mu.Lock()
		switch {
		case m.closed:
			m.mu.Unlock()
			return 0, io.ErrClosedPipe
		case m.lost:
			m.mu.Unlock()
			return 0, ErrDeviceLost
		case m.rx.Len() > 0:
			n, _ := m.rx.Read(p)
			m.mu.Unlock()
			return n, nil
		}
		m.mu.Unlock()

		select {
		case <-m.notify:
		case <-timer.C:
			return 0, nil
		}
	}
}

// Write 写入数据
func (m *MockDevice) Write(p []byte) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	if m.lost {
		m.mu.Unlock()
		return 0, ErrDeviceLost
	}
	m.tx.Write(p)
	if m.loopback {
		m.rx.Write(p)
	}
	m.mu.Unlock()

	m.wake()
	return len(p), nil
}

// Close 关闭设备
func (m *MockDevice) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.wake()
	return nil
}

// MockPorts 把路径列表转换成端口描述
func MockPorts(paths []string) []transport.PortInfo {
	ports := make([]transport.PortInfo, 0, len(paths))
	for _, p := range paths {
		ports = append(ports, transport.PortInfo{Path: p, Product: "Mock Serial"})
	}
	return ports
}
