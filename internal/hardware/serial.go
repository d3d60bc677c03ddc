package hardware

import (
	"errors"
	"fmt"
	"io"

	goburrow "github.com/goburrow/serial"
	"github.com/tarm/serial"
	bugst "go.bug.st/serial"

	"github.com/wfunc/serial-bridge/internal/transport"
)

// ErrFlowControlUnsupported 驱动不支持硬件流控
var ErrFlowControlUnsupported = errors.New("hardware flow control is not supported by this driver")

// NewDriver 根据名称创建驱动
func NewDriver(name string) (Driver, error) {
	switch name {
	case "", "bugst":
		return BugstDriver{}, nil
	case "tarm":
		return TarmDriver{}, nil
	case "goburrow":
		return GoburrowDriver{}, nil
	default:
		return nil, fmt.Errorf("unknown serial driver %q", name)
	}
}

// BugstDriver 基于 go.bug.st/serial 的驱动
type BugstDriver struct{}

// Name 驱动名称
func (BugstDriver) Name() string { return "bugst" }

// Open 打开串口
func (BugstDriver) Open(path string, mode Mode) (Device, error) {
	if mode.FlowControl == transport.FlowControlHardware {
		return nil, ErrFlowControlUnsupported
	}

	m := &bugst.Mode{
		BaudRate: mode.BaudRate,
		DataBits: mode.DataBits,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	}
	switch mode.Parity {
	case transport.ParityEven:
		m.Parity = bugst.EvenParity
	case transport.ParityOdd:
		m.Parity = bugst.OddParity
	}
	if mode.StopBits == 2 {
		m.StopBits = bugst.TwoStopBits
	}

	port, err := bugst.Open(path, m)
	if err != nil {
		return nil, err
	}
	// 超时后 Read 返回 (0, nil)
	if err := port.SetReadTimeout(mode.ReadTimeout); err != nil {
		port.Close()
		return nil, err
	}
	return port, nil
}

// TarmDriver 基于 github.com/tarm/serial 的驱动
type TarmDriver struct{}

// Name 驱动名称
func (TarmDriver) Name() string { return "tarm" }

// Open 打开串口
func (TarmDriver) Open(path string, mode Mode) (Device, error) {
	if mode.FlowControl == transport.FlowControlHardware {
		return nil, ErrFlowControlUnsupported
	}

	parity := serial.ParityNone
	switch mode.Parity {
	case transport.ParityOdd:
		parity = serial.ParityOdd
	case transport.ParityEven:
		parity = serial.ParityEven
	}
	stopBits := serial.Stop1
	if mode.StopBits == 2 {
		stopBits = serial.Stop2
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        path,
		Baud:        mode.BaudRate,
		Size:        byte(mode.DataBits),
		Parity:      parity,
		StopBits:    stopBits,
		ReadTimeout: mode.ReadTimeout,
	})
	if err != nil {
		return nil, err
	}
	return &tarmDevice{port: port}, nil
}

// tarmDevice 在 posix 上超时读取会得到 io.EOF
type tarmDevice struct {
	port *serial.Port
}

func (d *tarmDevice) Read(p []byte) (int, error) {
	n, err := d.port.Read(p)
	if err == io.EOF && n == 0 {
		return 0, nil
	}
	return n, err
}

func (d *tarmDevice) Write(p []byte) (int, error) { return d.port.Write(p) }

func (d *tarmDevice) Close() error { return d.port.Close() }

// GoburrowDriver 基于 github.com/goburrow/serial 的驱动
type GoburrowDriver struct{}

// Name 驱动名称
func (GoburrowDriver) Name() string { return "goburrow" }

// Open 打开串口
func (GoburrowDriver) Open(path string, mode Mode) (Device, error) {
	if mode.FlowControl == transport.FlowControlHardware {
		return nil, ErrFlowControlUnsupported
	}

	parity := "N"
	switch mode.Parity {
	case transport.ParityEven:
		parity = "E"
	case transport.ParityOdd:
		parity = "O"
	}

	port, err := goburrow.Open(&goburrow.Config{
		Address:  path,
		BaudRate: mode.BaudRate,
		DataBits: mode.DataBits,
		StopBits: mode.StopBits,
		Parity:   parity,
		Timeout:  mode.ReadTimeout,
	})
	if err != nil {
		return nil, err
	}
	return &goburrowDevice{port: port}, nil
}

// goburrowDevice 超时读取返回 goburrow.ErrTimeout
type goburrowDevice struct {
	port goburrow.Port
}

func (d *goburrowDevice) Read(p []byte) (int, error) {
	n, err := d.port.Read(p)
	if errors.Is(err, goburrow.ErrTimeout) {
		return n, nil
	}
	return n, err
}

func (d *goburrowDevice) Write(p []byte) (int, error) { return d.port.Write(p) }

func (d *goburrowDevice) Close() error { return d.port.Close() }
