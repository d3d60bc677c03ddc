package service

import (
	"go.uber.org/zap"

	"github.com/wfunc/serial-bridge/internal/config"
	"github.com/wfunc/serial-bridge/internal/events"
	"github.com/wfunc/serial-bridge/internal/repository"
)

// Services 服务集合
type Services struct {
	Auth      AuthService
	SerialLog *SerialLogService
	Bridge    *BridgeService
}

// Deps 服务依赖
type Deps struct {
	Config    *config.Config
	Repos     *repository.Manager
	Host      any
	Publisher events.Publisher
	Elements  ElementSource
	Logger    *zap.Logger
}

// NewServices 创建服务集合
func NewServices(deps Deps) *Services {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	serialLog := NewSerialLogService(deps.Repos.SerialLog())
	return &Services{
		Auth:      NewAuthService(deps.Config.Security, log),
		SerialLog: serialLog,
		Bridge: NewBridgeService(
			deps.Host,
			BridgeConfigFrom(deps.Config),
			serialLog,
			deps.Publisher,
			deps.Elements,
		),
	}
}

// Close 释放句柄并写入剩余日志
func (s *Services) Close() {
	s.Bridge.Shutdown()
	s.SerialLog.Close()
}
