package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/wfunc/serial-bridge/internal/api"
	"github.com/wfunc/serial-bridge/internal/config"
	"github.com/wfunc/serial-bridge/internal/database"
	"github.com/wfunc/serial-bridge/internal/errors"
	"github.com/wfunc/serial-bridge/internal/events"
	"github.com/wfunc/serial-bridge/internal/hardware"
	"github.com/wfunc/serial-bridge/internal/logger"
	"github.com/wfunc/serial-bridge/internal/repository"
	"github.com/wfunc/serial-bridge/internal/service"
	"github.com/wfunc/serial-bridge/internal/utils"
	ws "github.com/wfunc/serial-bridge/internal/websocket"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// 日志清理周期
const logCleanupInterval = 24 * time.Hour

// Server 服务器实例
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	platform *hardware.Serial
	watcher  *hardware.Watcher
	hub      *ws.Hub
	events   *events.Multi
	services *service.Services
	http     *http.Server

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func main() {
	var (
		configPath   = flag.String("config", "", "配置文件路径")
		showVersion  = flag.Bool("version", false, "显示版本信息")
		showHelp     = flag.Bool("help", false, "显示帮助信息")
		hashPassword = flag.String("hash-password", "", "生成操作员密码哈希后退出")
	)
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}
	if *showHelp {
		printHelp()
		os.Exit(0)
	}
	if *hashPassword != "" {
		hash, err := utils.HashPassword(*hashPassword)
		if err != nil {
			fmt.Printf("生成密码哈希失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		os.Exit(0)
	}

	if err := config.Init(*configPath); err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Get()

	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	printStartInfo(cfg)

	server := NewServer(cfg)
	if err := server.Start(); err != nil {
		logger.Fatal("服务器启动失败", zap.Error(err))
	}

	server.WaitForShutdown()

	if err := server.Shutdown(); err != nil {
		logger.Error("服务器关闭失败", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("服务器已安全关闭")
}

// NewServer 创建服务器实例
func NewServer(cfg *config.Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:    cfg,
		logger: logger.GetLogger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start 启动服务器
func (s *Server) Start() error {
	s.logger.Info("正在启动串口桥接服务...",
		zap.String("version", Version),
		zap.String("mode", s.cfg.Server.Mode),
	)

	if err := s.initComponents(); err != nil {
		return errors.Wrap(err, errors.ErrUnknown, "初始化组件失败")
	}
	s.startServices()

	config.Watch(func(newCfg *config.Config) {
		s.logger.Info("配置已更新，正在重新加载...")
		s.reloadConfig(newCfg)
	})

	s.logger.Info("服务器启动成功",
		zap.String("http", s.http.Addr),
		zap.String("websocket", s.cfg.WebSocket.Path),
	)
	return nil
}

// initComponents 初始化组件
func (s *Server) initComponents() error {
	if err := s.initDatabase(); err != nil {
		return err
	}
	repos := repository.NewManager(database.GetDB())

	if !s.cfg.Serial.Enabled {
		s.logger.Warn("串口已禁用，所有串口操作将返回 501")
	} else {
		platform, err := hardware.NewFromConfig(&s.cfg.Serial, repos.PortGrant())
		if err != nil {
			return errors.Wrap(err, errors.ErrSerialUnsupported, "初始化串口平台失败")
		}
		s.platform = platform
	}

	s.hub = ws.NewHub(s.cfg.WebSocket.PingInterval)
	s.events = events.NewMulti(s.hub)

	if s.cfg.MQTT.Enabled {
		mqttPub, err := events.DialMQTT(&s.cfg.MQTT)
		if err != nil {
			// MQTT不可用时继续运行
			s.logger.Error("连接MQTT失败", zap.String("broker", s.cfg.MQTT.Broker), zap.Error(err))
		} else {
			s.events.Add(mqttPub)
		}
	}

	deps := service.Deps{
		Config:    s.cfg,
		Repos:     repos,
		Publisher: s.events,
		Elements:  s.hub,
		Logger:    logger.GetModuleLogger("service"),
	}
	if s.platform != nil {
		deps.Host = s.platform
	}
	s.services = service.NewServices(deps)
	if s.platform != nil {
		s.watcher = s.platform.Watch(s.cfg.Serial.WatchInterval, s.services.Bridge.OnPresence)
	}

	router := api.NewRouter(s.cfg, database.GetDB(), s.services, s.hub)
	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:      router.Handler(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	s.logger.Info("所有组件初始化完成")
	return nil
}

// initDatabase 初始化数据库
func (s *Server) initDatabase() error {
	if err := database.Init(&s.cfg.Database); err != nil {
		return errors.Wrap(err, errors.ErrDatabaseConnect, "初始化数据库连接失败")
	}

	if s.cfg.Database.AutoMigrate {
		s.logger.Info("执行数据库自动迁移...")
		if err := database.AutoMigrate(); err != nil {
			return errors.Wrap(err, errors.ErrDatabaseConnect, "数据库迁移失败")
		}
	}

	if !database.IsConnected() {
		return errors.New(errors.ErrDatabaseConnect, "数据库连接检查失败")
	}
	return nil
}

// startServices 启动服务
func (s *Server) startServices() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run()
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("HTTP服务监听", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP服务异常退出", zap.Error(err))
			s.cancel()
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.cleanupLoop()
	}()
}

// cleanupLoop 定期清理过期日志
func (s *Server) cleanupLoop() {
	ticker := time.NewTicker(logCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			days := s.cfg.Log.File.MaxAge
			if days <= 0 {
				days = 30
			}
			count, err := s.services.SerialLog.CleanupOldLogs(s.ctx, days)
			if err != nil {
				s.logger.Warn("清理串口日志失败", zap.Error(err))
				continue
			}
			if count > 0 {
				s.logger.Info("已清理串口日志", zap.Int64("count", count))
			}
		}
	}
}

// WaitForShutdown 等待关闭信号
func (s *Server) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	select {
	case sig := <-sigCh:
		s.logger.Info("收到退出信号", zap.String("signal", sig.String()))
	case <-s.ctx.Done():
	}
}

// Shutdown 优雅关闭服务器
func (s *Server) Shutdown() error {
	s.logger.Info("正在优雅关闭服务器...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP服务关闭失败", zap.Error(err))
	}

	// 先释放串口句柄，再停止推送
	s.watcher.Stop()
	s.services.Close()
	if s.platform != nil {
		s.platform.Shutdown()
	}
	if err := s.events.Close(); err != nil {
		s.logger.Warn("关闭事件发布失败", zap.Error(err))
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("所有服务已正常关闭")
	case <-shutdownCtx.Done():
		s.logger.Warn("关闭超时，强制退出")
		return errors.New(errors.ErrTimeout, "关闭超时")
	}

	if err := database.Close(); err != nil {
		s.logger.Error("关闭数据库失败", zap.Error(err))
	}
	if err := logger.Sync(); err != nil {
		fmt.Printf("同步日志失败: %v\n", err)
	}
	return nil
}

// reloadConfig 重新加载配置，只应用可热更新的部分
func (s *Server) reloadConfig(newCfg *config.Config) {
	if newCfg.Log.Level != s.cfg.Log.Level {
		logger.SetLevel(newCfg.Log.Level)
		s.logger.Info("日志级别已更新", zap.String("level", newCfg.Log.Level))
	}
	s.cfg.Log = newCfg.Log
	s.logger.Info("配置重新加载完成")
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("串口桥接服务\n")
	fmt.Printf("版本: %s\n", Version)
	fmt.Printf("构建时间: %s\n", BuildTime)
	fmt.Printf("Git提交: %s\n", GitCommit)
	fmt.Printf("Go版本: %s\n", runtime.Version())
	fmt.Printf("操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// printHelp 打印帮助信息
func printHelp() {
	fmt.Println("串口桥接服务")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  serial-bridge [选项]")
	fmt.Println()
	fmt.Println("选项:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("环境变量:")
	fmt.Println("  SERIAL_BRIDGE_SERVER_PORT         HTTP端口")
	fmt.Println("  SERIAL_BRIDGE_SECURITY_JWT_SECRET JWT密钥")
	fmt.Println()
	fmt.Println("示例:")
	fmt.Println("  serial-bridge -config=/etc/serial-bridge/config.yaml")
	fmt.Println("  serial-bridge -hash-password=secret")
}

// printStartInfo 打印启动信息
func printStartInfo(cfg *config.Config) {
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Printf("串口桥接服务 | 版本: %s | 模式: %s | PID: %d\n", Version, cfg.Server.Mode, os.Getpid())
	fmt.Printf("配置文件: %s\n", config.ConfigFile())
	fmt.Printf("串口驱动: %s | 模拟模式: %v\n", cfg.Serial.Driver, cfg.Serial.MockMode)
	fmt.Println("═══════════════════════════════════════════════════════════════")
}
