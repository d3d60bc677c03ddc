package hardware

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wfunc/serial-bridge/internal/transport"
)

// PresenceEvent 已授权设备接入或移除
type PresenceEvent struct {
	Info      transport.PortInfo
	Connected bool
}

// Watcher 轮询枚举结果，报告已授权设备的接入与移除，不做重连
type Watcher struct {
	serial   *Serial
	interval time.Duration
	onChange func(PresenceEvent)
	logger   *zap.Logger

	mu       sync.Mutex
	present  map[string]transport.PortInfo
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Watch 启动设备监视，interval 不大于0时不监视并返回 nil
func (s *Serial) Watch(interval time.Duration, onChange func(PresenceEvent)) *Watcher {
	if interval <= 0 || onChange == nil {
		return nil
	}

	w := &Watcher{
		serial:   s,
		interval: interval,
		onChange: onChange,
		logger:   s.logger.With(zap.String("component", "watcher")),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	// 首次扫描只记录基线
	w.present = w.snapshot()

	go w.loop()
	w.logger.Info("设备监视已启动", zap.Duration("interval", interval), zap.Int("present", len(w.present)))
	return w
}

// Stop 停止监视
func (w *Watcher) Stop() {
	if w == nil {
		return
	}
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.done
}

func (w *Watcher) loop() {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			w.logger.Info("设备监视已停止")
			return
		case <-ticker.C:
			w.scan()
		}
	}
}

// scan 比较两次快照并回调差异
func (w *Watcher) scan() {
	current := w.snapshot()
	if current == nil {
		return
	}

	w.mu.Lock()
	previous := w.present
	w.present = current
	w.mu.Unlock()

	for path, info := range current {
		if _, ok := previous[path]; !ok {
			w.logger.Info("串口设备接入", zap.String("path", path))
			w.onChange(PresenceEvent{Info: info, Connected: true})
		}
	}
	for path, info := range previous {
		if _, ok := current[path]; !ok {
			w.logger.Warn("串口设备移除", zap.String("path", path))
			w.onChange(PresenceEvent{Info: info, Connected: false})
		}
	}
}

// snapshot 已授权且在线的设备，枚举失败时返回 nil
func (w *Watcher) snapshot() map[string]transport.PortInfo {
	ctx, cancel := context.WithTimeout(context.Background(), w.interval)
	defer cancel()

	granted, err := w.serial.grants.Granted(ctx)
	if err != nil {
		w.logger.Warn("读取授权列表失败", zap.Error(err))
		return nil
	}
	available, err := w.serial.enumerator.List()
	if err != nil {
		w.logger.Warn("枚举串口失败", zap.Error(err))
		return nil
	}

	online := make(map[string]transport.PortInfo, len(available))
	for _, info := range available {
		online[info.Path] = info
	}
	present := make(map[string]transport.PortInfo, len(granted))
	for _, g := range granted {
		if info, ok := online[g.Path]; ok {
			present[g.Path] = info
		}
	}
	return present
}
