package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/wfunc/serial-bridge/internal/config"
	apperrors "github.com/wfunc/serial-bridge/internal/errors"
	"github.com/wfunc/serial-bridge/internal/events"
	"github.com/wfunc/serial-bridge/internal/hardware"
	"github.com/wfunc/serial-bridge/internal/logger"
	"github.com/wfunc/serial-bridge/internal/models"
	"github.com/wfunc/serial-bridge/internal/notify"
	"github.com/wfunc/serial-bridge/internal/repository"
	"github.com/wfunc/serial-bridge/internal/transport"
)

// ElementSource 提供可显示提示的元素
type ElementSource interface {
	Elements() []notify.Element
}

// BridgeConfig 串口桥接配置
type BridgeConfig struct {
	Defaults      config.SerialDefaults
	LogTraffic    bool
	NotifyEnabled bool
	ToastSelector string
}

// BridgeConfigFrom 从全局配置生成桥接配置
func BridgeConfigFrom(cfg *config.Config) BridgeConfig {
	return BridgeConfig{
		Defaults:      cfg.Serial.Defaults,
		LogTraffic:    cfg.Serial.LogTraffic,
		NotifyEnabled: cfg.Notify.Enabled,
		ToastSelector: cfg.Notify.Selector,
	}
}

// PortView 端口句柄视图
type PortView struct {
	ID    string             `json:"id"`
	Info  transport.PortInfo `json:"info"`
	State string             `json:"state,omitempty"`
}

// LockView 读取器或写入器句柄视图
type LockView struct {
	ID     string     `json:"id"`
	Kind   HandleKind `json:"kind"`
	PortID string     `json:"port_id"`
}

// BridgeService 串口桥接服务，把借用的平台对象映射为句柄
type BridgeService struct {
	host      any
	serial    transport.Serial
	cfg       BridgeConfig
	handles   *handleTable
	logs      *SerialLogService
	publisher events.Publisher
	toaster   *notify.Toaster
	elements  ElementSource
	logger    *zap.Logger
}

// NewBridgeService 创建串口桥接服务，logs、publisher、elements 可为 nil
func NewBridgeService(host any, cfg BridgeConfig, logs *SerialLogService, publisher events.Publisher, elements ElementSource) *BridgeService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	s := &BridgeService{
		host:      host,
		cfg:       cfg,
		handles:   newHandleTable(),
		logs:      logs,
		publisher: publisher,
		toaster:   notify.NewToaster(),
		elements:  elements,
		logger:    logger.GetModuleLogger("serial"),
	}
	if transport.IsSupported(host) {
		s.serial = host.(transport.Serial)
	}
	return s
}

// Supported 宿主是否支持串口
func (s *BridgeService) Supported() bool {
	return transport.IsSupported(s.host)
}

func (s *BridgeService) requireSerial() error {
	if s.serial == nil {
		return apperrors.New(apperrors.ErrSerialUnsupported)
	}
	return nil
}

// RequestPort 请求授权一个端口，selection 为空时由平台选择器决定
func (s *BridgeService) RequestPort(ctx context.Context, selection string, opts transport.RequestOptions) (*PortView, error) {
	if err := s.requireSerial(); err != nil {
		return nil, err
	}
	if selection != "" {
		ctx = hardware.WithSelection(ctx, selection)
	}

	start := time.Now()
	port, err := transport.RequestPort(ctx, s.serial, opts)
	s.audit(ctx, "request", nil, AuditEntry{PortPath: selection, Err: err, Duration: time.Since(start)})
	if err != nil {
		return nil, err
	}

	h := s.handles.addPort(port)
	s.announce(ctx, events.TypePortGranted, h, "已授权串口 "+port.Info().Path, notify.LevelInfo)
	return s.view(h), nil
}

// GetPorts 返回已授权且在线的端口
func (s *BridgeService) GetPorts(ctx context.Context) ([]*PortView, error) {
	if err := s.requireSerial(); err != nil {
		return nil, err
	}
	ports, err := transport.GetPorts(ctx, s.serial)
	if err != nil {
		return nil, err
	}
	views := make([]*PortView, 0, len(ports))
	for _, p := range ports {
		views = append(views, s.view(s.handles.addPort(p)))
	}
	return views, nil
}

// Port 按句柄查看端口
func (s *BridgeService) Port(id string) (*PortView, error) {
	h, err := s.handles.get(id, HandlePort)
	if err != nil {
		return nil, err
	}
	return s.view(h), nil
}

// Open 打开端口，未填写的参数使用配置默认值
func (s *BridgeService) Open(ctx context.Context, id string, opts transport.OpenOptions) error {
	h, err := s.handles.get(id, HandlePort)
	if err != nil {
		return err
	}
	opts = s.withDefaults(opts)

	start := time.Now()
	err = transport.Open(ctx, h.port, opts)
	s.audit(ctx, "open", h, AuditEntry{
		Options: map[string]interface{}{
			"baudRate":    opts.BaudRate,
			"dataBits":    opts.DataBits,
			"stopBits":    opts.StopBits,
			"parity":      opts.Parity,
			"bufferSize":  opts.BufferSize,
			"flowControl": opts.FlowControl,
		},
		Err:      err,
		Duration: time.Since(start),
	})
	if err != nil {
		return err
	}
	s.announce(ctx, events.TypePortOpened, h, "串口已打开 "+h.port.Info().Path, notify.LevelSuccess)
	return nil
}

// OnPresence 已授权设备接入或移除时通知客户端
func (s *BridgeService) OnPresence(ev hardware.PresenceEvent) {
	ctx := context.Background()
	t, title, level := events.TypePortConnected, "串口设备已接入", notify.LevelInfo
	if !ev.Connected {
		t, title, level = events.TypePortDisconnected, "串口设备已移除", notify.LevelWarning
	}

	e := events.New(t, ev.Info.Path, s.handles.portIDByPath(ev.Info.Path))
	e.Message = title + " " + ev.Info.Path
	s.publish(ctx, e)
	s.toast(ctx, string(t), e.Message, level)
}

// withDefaults 用配置默认值填充零值参数
func (s *BridgeService) withDefaults(opts transport.OpenOptions) transport.OpenOptions {
	d := s.cfg.Defaults
	if opts.BaudRate == 0 {
		opts.BaudRate = d.BaudRate
	}
	if opts.DataBits == 0 {
		opts.DataBits = d.DataBits
	}
	if opts.StopBits == 0 {
		opts.StopBits = d.StopBits
	}
	if opts.Parity == "" && d.Parity != "" {
		opts.Parity = transport.Parity(d.Parity)
	}
	if opts.BufferSize == 0 {
		opts.BufferSize = d.BufferSize
	}
	if opts.FlowControl == "" && d.FlowControl != "" {
		opts.FlowControl = transport.FlowControl(d.FlowControl)
	}
	return opts
}

// Close 关闭端口，读写器需先释放
func (s *BridgeService) Close(ctx context.Context, id string) error {
	h, err := s.handles.get(id, HandlePort)
	if err != nil {
		return err
	}

	start := time.Now()
	err = transport.Close(ctx, h.port)
	s.audit(ctx, "close", h, AuditEntry{Err: err, Duration: time.Since(start)})
	if err != nil {
		return err
	}
	s.announce(ctx, events.TypePortClosed, h, "串口已关闭 "+h.port.Info().Path, notify.LevelInfo)
	return nil
}

// Forget 撤销端口授权，端口句柄保留，读写器句柄随之失效
func (s *BridgeService) Forget(ctx context.Context, id string) error {
	h, err := s.handles.get(id, HandlePort)
	if err != nil {
		return err
	}

	start := time.Now()
	err = transport.Forget(ctx, h.port)
	s.audit(ctx, "forget", h, AuditEntry{Err: err, Duration: time.Since(start)})
	if err != nil {
		return err
	}

	for _, lh := range s.handles.locks(h.id) {
		_ = transport.ReleaseLock(lh.lock())
		s.handles.remove(lh.id)
	}
	s.announce(ctx, events.TypePortForgotten, h, "已撤销串口授权 "+h.port.Info().Path, notify.LevelWarning)
	return nil
}

// AcquireReader 获取端口的读取器
func (s *BridgeService) AcquireReader(ctx context.Context, portID string) (*LockView, error) {
	h, err := s.handles.get(portID, HandlePort)
	if err != nil {
		return nil, err
	}
	r, err := transport.GetReader(h.port)
	s.audit(ctx, "get_reader", h, AuditEntry{Err: err})
	if err != nil {
		return nil, err
	}
	rh := s.handles.addReader(h, r)
	return &LockView{ID: rh.id, Kind: rh.kind, PortID: h.id}, nil
}

// AcquireWriter 获取端口的写入器
func (s *BridgeService) AcquireWriter(ctx context.Context, portID string) (*LockView, error) {
	h, err := s.handles.get(portID, HandlePort)
	if err != nil {
		return nil, err
	}
	w, err := transport.GetWriter(h.port)
	s.audit(ctx, "get_writer", h, AuditEntry{Err: err})
	if err != nil {
		return nil, err
	}
	wh := s.handles.addWriter(h, w)
	return &LockView{ID: wh.id, Kind: wh.kind, PortID: h.id}, nil
}

// Read 读取一个数据块
func (s *BridgeService) Read(ctx context.Context, readerID string) (transport.ReadResult, error) {
	h, err := s.handles.get(readerID, HandleReader)
	if err != nil {
		return transport.ReadResult{}, err
	}

	start := time.Now()
	result, err := transport.Read(ctx, h.reader)
	if err != nil && ctx.Err() != nil {
		return result, err
	}
	if err != nil || s.cfg.LogTraffic {
		s.audit(ctx, "read", h, AuditEntry{
			Direction: models.SerialDirectionReceive,
			Data:      result.Value,
			KeepData:  s.cfg.LogTraffic,
			Err:       err,
			Duration:  time.Since(start),
		})
	}
	if err != nil {
		s.reportError(ctx, h, err)
	}
	return result, err
}

// Write 写入一个数据块
func (s *BridgeService) Write(ctx context.Context, writerID string, data []byte) error {
	h, err := s.handles.get(writerID, HandleWriter)
	if err != nil {
		return err
	}

	start := time.Now()
	err = transport.Write(ctx, h.writer, data)
	if err != nil || s.cfg.LogTraffic {
		s.audit(ctx, "write", h, AuditEntry{
			Direction: models.SerialDirectionSend,
			Data:      data,
			KeepData:  s.cfg.LogTraffic,
			Err:       err,
			Duration:  time.Since(start),
		})
	}
	if err != nil && ctx.Err() == nil {
		s.reportError(ctx, h, err)
	}
	return err
}

// Cancel 取消读取器，挂起的读取以结束返回
func (s *BridgeService) Cancel(ctx context.Context, readerID, reason string) error {
	h, err := s.handles.get(readerID, HandleReader)
	if err != nil {
		return err
	}

	var cause error
	if reason != "" {
		cause = errors.New(reason)
	}
	start := time.Now()
	err = transport.Cancel(ctx, h.reader, cause)
	s.audit(ctx, "cancel", h, AuditEntry{Err: err, Duration: time.Since(start), Message: reason})
	if err != nil {
		return err
	}

	e := events.New(events.TypeReadCancelled, h.port.Info().Path, h.id)
	e.Message = reason
	s.publish(ctx, e)
	return nil
}

// Release 释放读取器或写入器，句柄随之删除
func (s *BridgeService) Release(ctx context.Context, id string) error {
	h, err := s.handles.get(id, "")
	if err != nil {
		return err
	}
	if h.kind == HandlePort {
		return apperrors.Newf(apperrors.ErrSerialHandle, "handle %q is a port", id)
	}

	err = transport.ReleaseLock(h.lock())
	s.audit(ctx, "release_lock", h, AuditEntry{Err: err, Message: string(h.kind)})
	if err != nil {
		return err
	}
	s.handles.remove(id)
	return nil
}

// Shutdown 释放所有读写器并清空句柄表
func (s *BridgeService) Shutdown() {
	for _, h := range s.handles.all() {
		if h.kind != HandlePort {
			if err := transport.ReleaseLock(h.lock()); err != nil {
				s.logger.Warn("释放锁失败", zap.String("handle", h.id), zap.Error(err))
			}
		}
		s.handles.remove(h.id)
	}
}

func (s *BridgeService) view(h *handle) *PortView {
	v := &PortView{ID: h.id, Info: h.port.Info()}
	if st, ok := h.port.(interface{ State() string }); ok {
		v.State = st.State()
	}
	return v
}

// audit 记录审计日志
func (s *BridgeService) audit(ctx context.Context, op string, h *handle, e AuditEntry) {
	e.Operation = op
	if h != nil {
		e.Handle = h.id
		e.PortPath = h.port.Info().Path
	}
	e.Operator = repository.OperatorFromContext(ctx)
	logger.LogSerialOperation(op, e.Handle, e.Err)
	if s.logs != nil {
		s.logs.Audit(e)
	}
}

// reportError 发布端口错误事件
func (s *BridgeService) reportError(ctx context.Context, h *handle, err error) {
	e := events.New(events.TypePortError, h.port.Info().Path, h.portID)
	e.ErrorName = hardware.DOMErrorName(err)
	e.Message = err.Error()
	s.publish(ctx, e)

	if e.ErrorName == hardware.NetworkError {
		s.toast(ctx, "串口错误", e.Message, notify.LevelError)
	}
}

// announce 发布生命周期事件并显示提示
func (s *BridgeService) announce(ctx context.Context, t events.Type, h *handle, message string, level notify.Level) {
	e := events.New(t, h.port.Info().Path, h.id)
	e.Message = message
	s.publish(ctx, e)
	s.toast(ctx, string(t), message, level)
}

func (s *BridgeService) publish(ctx context.Context, e events.Event) {
	e.Operator = repository.OperatorFromContext(ctx)
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn("发布事件失败", zap.String("type", string(e.Type)), zap.Error(err))
	}
}

func (s *BridgeService) toast(ctx context.Context, title, body string, level notify.Level) {
	if !s.cfg.NotifyEnabled || s.elements == nil || s.cfg.ToastSelector == "" {
		return
	}
	opts := notify.ToastOptions{Title: title, Body: body, Level: level}
	if _, err := s.toaster.ShowAll(ctx, s.elements.Elements(), s.cfg.ToastSelector, opts); err != nil {
		s.logger.Debug("提示显示失败", zap.Error(err))
	}
}
