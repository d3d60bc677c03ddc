package hardware

import (
	"io"
	"time"

	"github.com/wfunc/serial-bridge/internal/transport"
)

// Device 已打开的串口设备
//
// Read 在轮询超时内没有数据时返回 (0, nil)，各驱动的超时信号都归一成这个形式。
type Device interface {
	io.ReadWriteCloser
}

// Mode 设备打开参数
type Mode struct {
	BaudRate    int
	DataBits    int
	StopBits    int
	Parity      transport.Parity
	FlowControl transport.FlowControl
	ReadTimeout time.Duration
}

// Driver 串口驱动
type Driver interface {
	Name() string
	Open(path string, mode Mode) (Device, error)
}

// Enumerator 枚举系统串口
type Enumerator interface {
	List() ([]transport.PortInfo, error)
}
