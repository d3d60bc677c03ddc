// Package events 发布串口生命周期事件
package events

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Type 事件类型
type Type string

const (
	TypePortGranted   Type = "port.granted"
	TypePortOpened    Type = "port.opened"
	TypePortClosed    Type = "port.closed"
	TypePortForgotten Type = "port.forgotten"
	TypeReadCancelled Type = "reader.cancelled"
	TypePortError     Type = "port.error"

	TypePortConnected    Type = "port.connected"
	TypePortDisconnected Type = "port.disconnected"
)

// Event 串口事件
type Event struct {
	Type      Type   `json:"type"`
	PortPath  string `json:"port_path,omitempty"`
	Handle    string `json:"handle,omitempty"`
	Message   string `json:"message,omitempty"`
	ErrorName string `json:"error_name,omitempty"`
	Operator  string `json:"operator,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// New 创建事件
func New(t Type, portPath, handle string) Event {
	return Event{
		Type:      t,
		PortPath:  portPath,
		Handle:    handle,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Publisher 事件发布者
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop 不发布任何事件
type Nop struct{}

func (Nop) Publish(ctx context.Context, e Event) error { return nil }
func (Nop) Close() error                                { return nil }

// Multi 同一事件发给多个发布者
type Multi struct {
	mu         sync.RWMutex
	publishers []Publisher
}

// NewMulti 创建组合发布者
func NewMulti(publishers ...Publisher) *Multi {
	return &Multi{publishers: publishers}
}

// Add 追加发布者
func (m *Multi) Add(p Publisher) {
	m.mu.Lock()
	m.publishers = append(m.publishers, p)
	m.mu.Unlock()
}

// Publish 依次发布，汇总错误
func (m *Multi) Publish(ctx context.Context, e Event) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for _, p := range m.publishers {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close 关闭全部发布者
func (m *Multi) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, p := range m.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.publishers = nil
	return errors.Join(errs...)
}

// Func 函数形式的发布者
type Func func(ctx context.Context, e Event) error

func (f Func) Publish(ctx context.Context, e Event) error { return f(ctx, e) }
func (f Func) Close() error                                { return nil }
