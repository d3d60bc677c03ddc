package service

import (
	"context"
	"encoding/hex"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wfunc/serial-bridge/internal/hardware"
	"github.com/wfunc/serial-bridge/internal/logger"
	"github.com/wfunc/serial-bridge/internal/models"
	"github.com/wfunc/serial-bridge/internal/repository"
)

const (
	logBatchSize     = 100
	logFlushInterval = 5 * time.Second
	logQueueSize     = 1000
	// 单条日志最多保存的数据字节
	maxLoggedBytes = 4096
)

// SerialLogService 串口审计日志服务，异步批量写入
type SerialLogService struct {
	repo      *repository.SerialLogRepository
	logger    *zap.Logger
	sessionID string

	queue     chan *models.SerialLog
	flushReq  chan chan struct{}
	stopCh    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	interval  time.Duration
}

// NewSerialLogService 创建串口日志服务
func NewSerialLogService(repo *repository.SerialLogRepository) *SerialLogService {
	return newSerialLogService(repo, logFlushInterval)
}

func newSerialLogService(repo *repository.SerialLogRepository, interval time.Duration) *SerialLogService {
	s := &SerialLogService{
		repo:      repo,
		logger:    logger.GetModuleLogger("serial_log"),
		sessionID: uuid.NewString(),
		queue:     make(chan *models.SerialLog, logQueueSize),
		flushReq:  make(chan chan struct{}),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		interval:  interval,
	}
	go s.backgroundWriter()
	return s
}

// SessionID 本次运行的会话ID
func (s *SerialLogService) SessionID() string {
	return s.sessionID
}

// backgroundWriter 后台批量写入
func (s *SerialLogService) backgroundWriter() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	buffer := make([]*models.SerialLog, 0, logBatchSize)
	flush := func() {
		if len(buffer) == 0 {
			return
		}
		if err := s.repo.CreateBatch(context.Background(), buffer); err != nil {
			s.logger.Error("批量写入串口日志失败", zap.Int("count", len(buffer)), zap.Error(err))
		} else {
			s.logger.Debug("批量写入串口日志成功", zap.Int("count", len(buffer)))
		}
		buffer = make([]*models.SerialLog, 0, logBatchSize)
	}
	drain := func() {
		for {
			select {
			case log := <-s.queue:
				buffer = append(buffer, log)
			default:
				return
			}
		}
	}

	for {
		select {
		case log := <-s.queue:
			buffer = append(buffer, log)
			if len(buffer) >= logBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case ack := <-s.flushReq:
			drain()
			flush()
			close(ack)
		case <-s.stopCh:
			drain()
			flush()
			return
		}
	}
}

// Record 异步记录一条日志，队列满时丢弃
func (s *SerialLogService) Record(log *models.SerialLog) {
	if log.SessionID == "" {
		log.SessionID = s.sessionID
	}
	if log.Level == "" {
		log.Level = models.SerialLogLevelInfo
	}
	now := time.Now()
	if log.CreatedAt.IsZero() {
		log.CreatedAt = now
	}
	if log.Timestamp == 0 {
		log.Timestamp = now.UnixMilli()
	}

	select {
	case <-s.stopCh:
		return
	default:
	}

	select {
	case s.queue <- log:
	default:
		s.logger.Warn("串口日志缓冲区满，丢弃日志", zap.String("operation", log.Operation))
	}
}

// Flush 立即写入队列中的日志
func (s *SerialLogService) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case s.flushReq <- ack:
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 写入剩余日志后停止
func (s *SerialLogService) Close() {
	s.closeOnce.Do(func() { close(s.stopCh) })
	<-s.done
}

// AuditEntry 一次串口操作的审计信息
type AuditEntry struct {
	Operation string
	Direction models.SerialDirection
	PortPath  string
	Handle    string
	Operator  string
	Data      []byte
	Options   map[string]interface{}
	Err       error
	Duration  time.Duration
	Message   string
	// 为 true 时保存数据内容
	KeepData bool
}

// Audit 记录审计信息
func (s *SerialLogService) Audit(e AuditEntry) {
	log := &models.SerialLog{
		Operation:  e.Operation,
		Direction:  e.Direction,
		PortPath:   e.PortPath,
		Handle:     e.Handle,
		Operator:   e.Operator,
		BytesCount: len(e.Data),
		Duration:   e.Duration.Milliseconds(),
		Message:    e.Message,
	}
	if e.Direction == "" {
		log.Direction = models.SerialDirectionControl
	}
	if e.Options != nil {
		log.Options = models.JSONData(e.Options)
	}
	if e.KeepData && len(e.Data) > 0 {
		data := e.Data
		if len(data) > maxLoggedBytes {
			data = data[:maxLoggedBytes]
		}
		log.HexData = hex.EncodeToString(data)
		if utf8.Valid(data) {
			log.RawData = string(data)
		}
	}
	if e.Err != nil {
		log.Level = models.SerialLogLevelError
		log.ErrorName = hardware.DOMErrorName(e.Err)
		log.ErrorMsg = e.Err.Error()
	}
	s.Record(log)
}

// Query 查询日志
func (s *SerialLogService) Query(ctx context.Context, query *models.SerialLogQuery) ([]*models.SerialLog, int64, error) {
	return s.repo.Query(ctx, query)
}

// GetStats 获取统计信息
func (s *SerialLogService) GetStats(ctx context.Context, startTime, endTime *time.Time) (*models.SerialLogStats, error) {
	return s.repo.GetStats(ctx, startTime, endTime)
}

// GetLog 按ID获取日志
func (s *SerialLogService) GetLog(ctx context.Context, id uint) (*models.SerialLog, error) {
	return s.repo.GetByID(ctx, id)
}

// GetSessionLogs 获取某次服务会话的全部日志
func (s *SerialLogService) GetSessionLogs(ctx context.Context, sessionID string) ([]*models.SerialLog, error) {
	return s.repo.GetBySessionID(ctx, sessionID)
}

// GetLatestLogs 获取最新的日志
func (s *SerialLogService) GetLatestLogs(ctx context.Context, limit int, portPath string) ([]*models.SerialLog, error) {
	return s.repo.GetLatest(ctx, limit, portPath)
}

// GetErrorLogs 获取错误日志
func (s *SerialLogService) GetErrorLogs(ctx context.Context, limit int) ([]*models.SerialLog, error) {
	return s.repo.GetErrorLogs(ctx, limit)
}

// CleanupOldLogs 清理旧日志
func (s *SerialLogService) CleanupOldLogs(ctx context.Context, retentionDays int) (int64, error) {
	return s.repo.CleanupLogs(ctx, retentionDays)
}
