package transport

import "context"

// Serial 串口平台能力（端口发现与授权请求）
type Serial interface {
	RequestPort(ctx context.Context, opts RequestOptions) (Port, error)
	GetPorts(ctx context.Context) ([]Port, error)
}

// Port 串口句柄，由平台创建，本层只借用
type Port interface {
	Open(ctx context.Context, opts OpenOptions) error
	Close(ctx context.Context) error
	Forget(ctx context.Context) error
	// Readable 与 Writable 不返回 nil；端口未打开时返回的流在获取读写器时报错
	Readable() ReadableStream
	Writable() WritableStream
	Info() PortInfo
}

// ReadableStream 端口的可读侧
type ReadableStream interface {
	GetReader() (Reader, error)
}

// WritableStream 端口的可写侧
type WritableStream interface {
	GetWriter() (Writer, error)
}

// Lock 独占锁（读取器或写入器）
type Lock interface {
	ReleaseLock() error
}

// Reader 读取器
type Reader interface {
	Lock
	Read(ctx context.Context) (ReadResult, error)
	Cancel(ctx context.Context, reason error) error
}

// Writer 写入器
type Writer interface {
	Lock
	Write(ctx context.Context, chunk []byte) error
}

// ReadResult 一次读取的结果
type ReadResult struct {
	Value []byte `json:"value"`
	Done  bool   `json:"done"`
}

// Parity 校验位
type Parity string

const (
	ParityNone Parity = "none"
	ParityEven Parity = "even"
	ParityOdd  Parity = "odd"
)

// FlowControl 流控方式
type FlowControl string

const (
	FlowControlNone     FlowControl = "none"
	FlowControlHardware FlowControl = "hardware"
)

// OpenOptions 打开端口的通信参数
type OpenOptions struct {
	BaudRate    int         `json:"baudRate" mapstructure:"baud_rate"`
	DataBits    int         `json:"dataBits,omitempty" mapstructure:"data_bits"`
	StopBits    int         `json:"stopBits,omitempty" mapstructure:"stop_bits"`
	Parity      Parity      `json:"parity,omitempty" mapstructure:"parity"`
	BufferSize  int         `json:"bufferSize,omitempty" mapstructure:"buffer_size"`
	FlowControl FlowControl `json:"flowControl,omitempty" mapstructure:"flow_control"`
}

// PortFilter USB 设备过滤条件，零值字段不参与匹配
type PortFilter struct {
	USBVendorID  uint16 `json:"usbVendorId,omitempty"`
	USBProductID uint16 `json:"usbProductId,omitempty"`
}

// RequestOptions 端口请求参数
type RequestOptions struct {
	Filters []PortFilter `json:"filters,omitempty"`
}

// PortInfo 端口描述信息
type PortInfo struct {
	Path         string `json:"path"`
	USBVendorID  uint16 `json:"usbVendorId,omitempty"`
	USBProductID uint16 `json:"usbProductId,omitempty"`
	SerialNumber string `json:"serialNumber,omitempty"`
	Product      string `json:"product,omitempty"`
}
