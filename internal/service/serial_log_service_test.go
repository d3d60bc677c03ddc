package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"

	"github.com/wfunc/serial-bridge/internal/hardware"
	"github.com/wfunc/serial-bridge/internal/models"
	"github.com/wfunc/serial-bridge/internal/repository"
)

// SerialLogServiceTestSuite 串口日志服务测试套件
type SerialLogServiceTestSuite struct {
	suite.Suite
	db      *gorm.DB
	repo    *repository.SerialLogRepository
	service *SerialLogService
}

func (suite *SerialLogServiceTestSuite) SetupTest() {
	suite.db = repository.SetupTestDB()
	suite.repo = repository.NewSerialLogRepository(suite.db)
	suite.service = newSerialLogService(suite.repo, time.Hour)
}

func (suite *SerialLogServiceTestSuite) TearDownTest() {
	suite.service.Close()
	repository.CleanupTestDB(suite.db)
}

func (suite *SerialLogServiceTestSuite) TestRecordAndFlush() {
	for i := 0; i < 3; i++ {
		suite.service.Record(&models.SerialLog{Operation: "open", Direction: models.SerialDirectionControl})
	}
	suite.Require().NoError(suite.service.Flush(context.Background()))

	logs, total, err := suite.service.Query(context.Background(), &models.SerialLogQuery{})
	suite.Require().NoError(err)
	suite.Equal(int64(3), total)
	for _, log := range logs {
		suite.Equal(suite.service.SessionID(), log.SessionID)
		suite.Equal(models.SerialLogLevelInfo, log.Level)
		suite.NotZero(log.Timestamp)
	}
}

func (suite *SerialLogServiceTestSuite) TestBatchFlushesWhenFull() {
	for i := 0; i < logBatchSize; i++ {
		suite.service.Record(&models.SerialLog{Operation: "write", Direction: models.SerialDirectionSend})
	}

	suite.Eventually(func() bool {
		var count int64
		suite.db.Model(&models.SerialLog{}).Count(&count)
		return count == logBatchSize
	}, 2*time.Second, 10*time.Millisecond)
}

func (suite *SerialLogServiceTestSuite) TestCloseWritesPending() {
	suite.service.Record(&models.SerialLog{Operation: "close", Direction: models.SerialDirectionControl})
	suite.service.Close()

	var count int64
	suite.db.Model(&models.SerialLog{}).Count(&count)
	suite.Equal(int64(1), count)

	// 关闭后的记录被丢弃
	suite.service.Record(&models.SerialLog{Operation: "open", Direction: models.SerialDirectionControl})
	suite.NoError(suite.service.Flush(context.Background()))
}

func (suite *SerialLogServiceTestSuite) TestAuditEntry() {
	lost := &hardware.DOMError{Name: hardware.NetworkError, Message: "The device has been lost."}
	suite.service.Audit(AuditEntry{
		Operation: "read",
		Direction: models.SerialDirectionReceive,
		PortPath:  "/dev/ttyS0",
		Data:      []byte{0xff, 0x00},
		KeepData:  true,
		Err:       lost,
	})
	suite.service.Audit(AuditEntry{Operation: "write", Data: []byte("hidden")})
	suite.Require().NoError(suite.service.Flush(context.Background()))

	errs, err := suite.service.GetErrorLogs(context.Background(), 10)
	suite.Require().NoError(err)
	suite.Require().Len(errs, 1)
	suite.Equal("ff00", errs[0].HexData)
	suite.Empty(errs[0].RawData)
	suite.Equal(2, errs[0].BytesCount)
	suite.Equal(hardware.NetworkError, errs[0].ErrorName)

	latest, err := suite.service.GetLatestLogs(context.Background(), 10, "")
	suite.Require().NoError(err)
	suite.Len(latest, 2)
	for _, log := range latest {
		if log.Operation == "write" {
			suite.Equal(models.SerialDirectionControl, log.Direction)
			suite.Empty(log.HexData)
			suite.Equal(6, log.BytesCount)
		}
	}
}

func (suite *SerialLogServiceTestSuite) TestAuditPlainError() {
	suite.service.Audit(AuditEntry{Operation: "open", Err: errors.New("boom")})
	suite.Require().NoError(suite.service.Flush(context.Background()))

	stats, err := suite.service.GetStats(context.Background(), nil, nil)
	suite.Require().NoError(err)
	suite.Equal(int64(1), stats.TotalErrors)
}

func (suite *SerialLogServiceTestSuite) TestCleanupOldLogs() {
	old := &models.SerialLog{Operation: "open", Direction: models.SerialDirectionControl, CreatedAt: time.Now().AddDate(0, 0, -40)}
	suite.service.Record(old)
	suite.service.Record(&models.SerialLog{Operation: "close", Direction: models.SerialDirectionControl})
	suite.Require().NoError(suite.service.Flush(context.Background()))

	deleted, err := suite.service.CleanupOldLogs(context.Background(), 30)
	suite.Require().NoError(err)
	suite.Equal(int64(1), deleted)
}

func TestSerialLogServiceSuite(t *testing.T) {
	suite.Run(t, new(SerialLogServiceTestSuite))
}
