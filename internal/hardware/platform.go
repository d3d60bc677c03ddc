package hardware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wfunc/serial-bridge/internal/config"
	"github.com/wfunc/serial-bridge/internal/logger"
	"github.com/wfunc/serial-bridge/internal/transport"
)

// DefaultPollInterval 设备读取轮询间隔
const DefaultPollInterval = 100 * time.Millisecond

// Options 平台参数
type Options struct {
	Driver       Driver
	Enumerator   Enumerator
	Chooser      Chooser
	Grants       GrantStore
	PollInterval time.Duration
	Logger       *zap.Logger
}

// Serial 主机串口平台
type Serial struct {
	driver       Driver
	enumerator   Enumerator
	chooser      Chooser
	grants       GrantStore
	pollInterval time.Duration
	logger       *zap.Logger

	mu    sync.Mutex
	ports map[string]*Port
}

// New 创建串口平台
func New(opts Options) (*Serial, error) {
	if opts.Driver == nil {
		return nil, errors.New("serial driver is required")
	}
	if opts.Enumerator == nil {
		return nil, errors.New("serial enumerator is required")
	}
	if opts.Chooser == nil {
		opts.Chooser = SelectionChooser{}
	}
	if opts.Grants == nil {
		opts.Grants = NewMemoryGrantStore()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetModuleLogger("hardware")
	}

	return &Serial{
		driver:       opts.Driver,
		enumerator:   opts.Enumerator,
		chooser:      opts.Chooser,
		grants:       opts.Grants,
		pollInterval: opts.PollInterval,
		logger:       opts.Logger,
		ports:        make(map[string]*Port),
	}, nil
}

// NewFromConfig 按配置创建平台，模拟模式使用内存回环驱动
func NewFromConfig(cfg *config.SerialConfig, grants GrantStore) (*Serial, error) {
	opts := Options{
		Grants:       grants,
		PollInterval: cfg.PollInterval,
	}

	if cfg.MockMode {
		opts.Driver = NewMockDriver()
		opts.Enumerator = StaticEnumerator{Ports: MockPorts(cfg.MockPorts)}
	} else {
		driver, err := NewDriver(cfg.Driver)
		if err != nil {
			return nil, err
		}
		opts.Driver = driver
		opts.Enumerator = SystemEnumerator{}
	}

	switch cfg.Chooser {
	case "", "selection":
		opts.Chooser = SelectionChooser{}
	case "allowlist":
		opts.Chooser = AllowlistChooser{Paths: cfg.Allowlist}
	default:
		return nil, fmt.Errorf("unknown serial chooser %q", cfg.Chooser)
	}

	return New(opts)
}

// Driver 当前驱动
func (s *Serial) Driver() Driver {
	return s.driver
}

// RequestPort 按过滤条件列出候选端口，由 Chooser 选择并授权
func (s *Serial) RequestPort(ctx context.Context, opts transport.RequestOptions) (transport.Port, error) {
	if err := validateFilters(opts.Filters); err != nil {
		return nil, err
	}

	available, err := s.enumerator.List()
	if err != nil {
		s.logger.Error("枚举串口失败", zap.Error(err))
		return nil, newDOMError(NetworkError, "Failed to enumerate serial ports.", err)
	}
	candidates := matchFilters(available, opts.Filters)

	info, err := s.chooser.Choose(ctx, candidates)
	if err != nil {
		if errors.Is(err, ErrNoSelection) {
			s.logger.Info("用户未选择串口", zap.Int("candidates", len(candidates)))
			return nil, errNoSelection()
		}
		return nil, err
	}

	if err := s.grants.Grant(ctx, info); err != nil {
		return nil, err
	}
	s.logger.Info("串口已授权", zap.String("path", info.Path))
	return s.portFor(info), nil
}

// GetPorts 返回已授权且当前存在的端口
func (s *Serial) GetPorts(ctx context.Context) ([]transport.Port, error) {
	granted, err := s.grants.Granted(ctx)
	if err != nil {
		return nil, err
	}
	available, err := s.enumerator.List()
	if err != nil {
		return nil, newDOMError(NetworkError, "Failed to enumerate serial ports.", err)
	}

	present := make(map[string]transport.PortInfo, len(available))
	for _, info := range available {
		present[info.Path] = info
	}

	ports := make([]transport.Port, 0, len(granted))
	for _, g := range granted {
		info, ok := present[g.Path]
		if !ok {
			continue
		}
		ports = append(ports, s.portFor(info))
	}
	return ports, nil
}

// portFor 同一路径返回同一个端口对象
func (s *Serial) portFor(info transport.PortInfo) *Port {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.ports[info.Path]; ok {
		return p
	}
	p := newPort(s, info)
	s.ports[info.Path] = p
	return p
}

// detach 移除已撤销授权的端口，之后请求同一路径得到新对象
func (s *Serial) detach(p *Port) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ports[p.info.Path] == p {
		delete(s.ports, p.info.Path)
	}
}

// Shutdown 关闭全部已打开端口
func (s *Serial) Shutdown() {
	s.mu.Lock()
	ports := make([]*Port, 0, len(s.ports))
	for _, p := range s.ports {
		ports = append(ports, p)
	}
	s.mu.Unlock()

	for _, p := range ports {
		p.mu.Lock()
		if p.state == stateOpened {
			p.shutdownLocked()
			p.state = stateClosed
		}
		p.mu.Unlock()
	}
}
