package hardware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/wfunc/serial-bridge/internal/config"
	"github.com/wfunc/serial-bridge/internal/transport"
)

// PlatformTestSuite 串口平台测试套件
type PlatformTestSuite struct {
	suite.Suite
	driver *MockDriver
	grants *MemoryGrantStore
	serial *Serial
	ctx    context.Context
}

func (s *PlatformTestSuite) SetupTest() {
	s.driver = NewMockDriver()
	s.grants = NewMemoryGrantStore()
	s.ctx = context.Background()

	var err error
	s.serial, err = New(Options{
		Driver: s.driver,
		Enumerator: StaticEnumerator{Ports: []transport.PortInfo{
			{Path: "/dev/ttyUSB0", USBVendorID: 0x2341, USBProductID: 0x0043, Product: "Arduino Uno"},
			{Path: "/dev/ttyUSB1", USBVendorID: 0x0403, USBProductID: 0x6001, Product: "FT232R"},
			{Path: "/dev/ttyS0"},
		}},
		Grants:       s.grants,
		PollInterval: 10 * time.Millisecond,
		Logger:       zap.NewNop(),
	})
	s.Require().NoError(err)
}

func (s *PlatformTestSuite) TearDownTest() {
	s.serial.Shutdown()
}

func (s *PlatformTestSuite) request(path string) *Port {
	port, err := s.serial.RequestPort(WithSelection(s.ctx, path), transport.RequestOptions{})
	s.Require().NoError(err)
	return port.(*Port)
}

func (s *PlatformTestSuite) open(path string, opts transport.OpenOptions) *Port {
	port := s.request(path)
	s.Require().NoError(port.Open(s.ctx, opts))
	return port
}

// TestRequestPortGrants 选择后授权
func (s *PlatformTestSuite) TestRequestPortGrants() {
	port := s.request("/dev/ttyUSB1")
	s.Equal("/dev/ttyUSB1", port.Info().Path)
	s.Equal(uint16(0x0403), port.Info().USBVendorID)

	granted, err := s.grants.Granted(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(granted, 1)
	s.Equal("/dev/ttyUSB1", granted[0].Path)
}

// TestRequestPortSameObject 同一路径返回同一端口对象
func (s *PlatformTestSuite) TestRequestPortSameObject() {
	first := s.request("/dev/ttyUSB0")
	second := s.request("/dev/ttyUSB0")
	s.Same(first, second)
}

// TestRequestPortDeclined 用户未选择
func (s *PlatformTestSuite) TestRequestPortDeclined() {
	port, err := s.serial.RequestPort(s.ctx, transport.RequestOptions{})
	s.Nil(port)
	s.True(IsDOMError(err, NotFoundError))

	granted, _ := s.grants.Granted(s.ctx)
	s.Empty(granted)
}

// TestRequestPortFilters 过滤条件
func (s *PlatformTestSuite) TestRequestPortFilters() {
	ctx := WithSelection(s.ctx, "/dev/ttyUSB0")

	_, err := s.serial.RequestPort(ctx, transport.RequestOptions{
		Filters: []transport.PortFilter{{USBVendorID: 0x0403}},
	})
	s.True(IsDOMError(err, NotFoundError), "被过滤掉的端口不能被选中")

	port, err := s.serial.RequestPort(ctx, transport.RequestOptions{
		Filters: []transport.PortFilter{{USBVendorID: 0x2341, USBProductID: 0x0043}},
	})
	s.Require().NoError(err)
	s.Equal("/dev/ttyUSB0", port.Info().Path)

	_, err = s.serial.RequestPort(ctx, transport.RequestOptions{
		Filters: []transport.PortFilter{{USBProductID: 0x0043}},
	})
	s.True(IsDOMError(err, TypeError))

	_, err = s.serial.RequestPort(ctx, transport.RequestOptions{
		Filters: []transport.PortFilter{{}},
	})
	s.True(IsDOMError(err, TypeError))
}

// TestGetPorts 只返回已授权且存在的端口
func (s *PlatformTestSuite) TestGetPorts() {
	ports, err := s.serial.GetPorts(s.ctx)
	s.Require().NoError(err)
	s.Empty(ports)

	s.request("/dev/ttyS0")
	s.Require().NoError(s.grants.Grant(s.ctx, transport.PortInfo{Path: "/dev/ttyGONE"}))

	ports, err = s.serial.GetPorts(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(ports, 1)
	s.Equal("/dev/ttyS0", ports[0].Info().Path)
}

// TestOpenDefaults 打开时填充默认参数
func (s *PlatformTestSuite) TestOpenDefaults() {
	port := s.open("/dev/ttyUSB0", transport.OpenOptions{BaudRate: 115200})

	s.Equal("opened", port.State())
	opts := port.Options()
	s.Equal(8, opts.DataBits)
	s.Equal(1, opts.StopBits)
	s.Equal(transport.ParityNone, opts.Parity)
	s.Equal(255, opts.BufferSize)
	s.Equal(transport.FlowControlNone, opts.FlowControl)

	mode := s.driver.Device("/dev/ttyUSB0").Mode()
	s.Equal(115200, mode.BaudRate)
	s.Equal(10*time.Millisecond, mode.ReadTimeout)
}

// TestOpenTwice 重复打开
func (s *PlatformTestSuite) TestOpenTwice() {
	port := s.open("/dev/ttyUSB0", transport.OpenOptions{BaudRate: 9600})

	err := port.Open(s.ctx, transport.OpenOptions{BaudRate: 9600})
	s.True(IsDOMError(err, InvalidStateError))
	s.Equal(1, s.driver.Opens())
}

// TestOpenDeviceFailure 设备打开失败
func (s *PlatformTestSuite) TestOpenDeviceFailure() {
	busy := errors.New("device busy")
	s.driver.FailOpen("/dev/ttyUSB0", busy)

	port := s.request("/dev/ttyUSB0")
	err := port.Open(s.ctx, transport.OpenOptions{BaudRate: 9600})
	s.True(IsDOMError(err, NetworkError))
	s.ErrorIs(err, busy)
	s.Equal("closed", port.State())

	s.driver.FailOpen("/dev/ttyUSB0", nil)
	s.NoError(port.Open(s.ctx, transport.OpenOptions{BaudRate: 9600}))
}

// TestOpenHardwareFlowControlUnsupported 驱动不支持硬件流控
func (s *PlatformTestSuite) TestOpenHardwareFlowControlUnsupported() {
	s.driver.FailOpen("/dev/ttyUSB1", ErrFlowControlUnsupported)

	port := s.request("/dev/ttyUSB1")
	err := port.Open(s.ctx, transport.OpenOptions{BaudRate: 9600, FlowControl: transport.FlowControlHardware})
	s.True(IsDOMError(err, NotSupportedError))
	s.ErrorIs(err, ErrFlowControlUnsupported)
	s.Equal("closed", port.State())
}

// TestCloseStates 关闭状态检查
func (s *PlatformTestSuite) TestCloseStates() {
	port := s.request("/dev/ttyUSB0")
	s.True(IsDOMError(port.Close(s.ctx), InvalidStateError))

	s.Require().NoError(port.Open(s.ctx, transport.OpenOptions{BaudRate: 9600}))
	reader, err := port.Readable().GetReader()
	s.Require().NoError(err)

	s.True(IsDOMError(port.Close(s.ctx), InvalidStateError), "读取器未释放时不能关闭")

	s.Require().NoError(reader.ReleaseLock())
	s.NoError(port.Close(s.ctx))
	s.True(s.driver.Device("/dev/ttyUSB0").Closed())
	s.Equal("closed", port.State())

	_, err = port.Readable().GetReader()
	s.True(IsDOMError(err, InvalidStateError))
	_, err = port.Writable().GetWriter()
	s.True(IsDOMError(err, InvalidStateError))
}

// TestReopen 关闭后可以重新打开
func (s *PlatformTestSuite) TestReopen() {
	port := s.open("/dev/ttyUSB0", transport.OpenOptions{BaudRate: 9600})
	s.Require().NoError(port.Close(s.ctx))
	s.Require().NoError(port.Open(s.ctx, transport.OpenOptions{BaudRate: 19200}))
	s.Equal(19200, port.Options().BaudRate)
	s.Equal(2, s.driver.Opens())
}

// TestForget 撤销授权
func (s *PlatformTestSuite) TestForget() {
	port := s.open("/dev/ttyUSB0", transport.OpenOptions{BaudRate: 9600})
	reader, err := port.Readable().GetReader()
	s.Require().NoError(err)

	s.Require().NoError(port.Forget(s.ctx))
	s.True(s.driver.Device("/dev/ttyUSB0").Closed())
	s.Equal("forgotten", port.State())

	result, err := reader.Read(s.ctx)
	s.Require().NoError(err)
	s.True(result.Done)

	s.NoError(port.Forget(s.ctx), "重复撤销无副作用")
	s.True(IsDOMError(port.Open(s.ctx, transport.OpenOptions{BaudRate: 9600}), InvalidStateError))
	s.True(IsDOMError(port.Close(s.ctx), InvalidStateError))
	_, err = port.Readable().GetReader()
	s.True(IsDOMError(err, InvalidStateError))

	ports, err := s.serial.GetPorts(s.ctx)
	s.Require().NoError(err)
	s.Empty(ports)

	again := s.request("/dev/ttyUSB0")
	s.NotSame(port, again)
	s.Equal("closed", again.State())
}

func TestPlatformTestSuite(t *testing.T) {
	suite.Run(t, new(PlatformTestSuite))
}

func TestNormalizeOptions(t *testing.T) {
	tests := []struct {
		name    string
		opts    transport.OpenOptions
		wantErr bool
	}{
		{"仅波特率", transport.OpenOptions{BaudRate: 9600}, false},
		{"完整参数", transport.OpenOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: transport.ParityEven, BufferSize: 1024, FlowControl: transport.FlowControlHardware}, false},
		{"波特率为零", transport.OpenOptions{}, true},
		{"数据位错误", transport.OpenOptions{BaudRate: 9600, DataBits: 6}, true},
		{"停止位错误", transport.OpenOptions{BaudRate: 9600, StopBits: 3}, true},
		{"校验位错误", transport.OpenOptions{BaudRate: 9600, Parity: "mark"}, true},
		{"缓冲区为负", transport.OpenOptions{BaudRate: 9600, BufferSize: -1}, true},
		{"缓冲区过大", transport.OpenOptions{BaudRate: 9600, BufferSize: maxBufferSize + 1}, true},
		{"流控错误", transport.OpenOptions{BaudRate: 9600, FlowControl: "software"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := normalizeOptions(tt.opts)
			if tt.wantErr {
				assert.True(t, IsDOMError(err, TypeError), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewFromConfig(t *testing.T) {
	s, err := NewFromConfig(&config.SerialConfig{
		MockMode:     true,
		MockPorts:    []string{"/dev/ttyMOCK0"},
		Chooser:      "allowlist",
		Allowlist:    []string{"/dev/ttyMOCK0"},
		PollInterval: 5 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "mock", s.Driver().Name())

	port, err := s.RequestPort(context.Background(), transport.RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyMOCK0", port.Info().Path)

	_, err = NewFromConfig(&config.SerialConfig{Driver: "unknown"}, nil)
	assert.Error(t, err)

	_, err = NewFromConfig(&config.SerialConfig{MockMode: true, Chooser: "random"}, nil)
	assert.Error(t, err)
}

func TestNewDriver(t *testing.T) {
	for name, want := range map[string]string{"": "bugst", "bugst": "bugst", "tarm": "tarm", "goburrow": "goburrow"} {
		d, err := NewDriver(name)
		require.NoError(t, err)
		assert.Equal(t, want, d.Name())
	}

	_, err := NewDriver("serialport")
	assert.Error(t, err)
}

func TestDriversRejectHardwareFlowControl(t *testing.T) {
	mode := Mode{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: transport.ParityNone, FlowControl: transport.FlowControlHardware}
	for _, d := range []Driver{BugstDriver{}, TarmDriver{}, GoburrowDriver{}} {
		_, err := d.Open("/dev/null", mode)
		assert.ErrorIs(t, err, ErrFlowControlUnsupported, d.Name())
	}
}
