package hardware

import (
	"context"
	"sort"
	"sync"

	"github.com/wfunc/serial-bridge/internal/transport"
)

// GrantStore 端口授权存储
type GrantStore interface {
	Grant(ctx context.Context, info transport.PortInfo) error
	Revoke(ctx context.Context, path string) error
	Granted(ctx context.Context) ([]transport.PortInfo, error)
}

// MemoryGrantStore 内存授权存储
type MemoryGrantStore struct {
	mu     sync.RWMutex
	grants map[string]transport.PortInfo
}

// NewMemoryGrantStore 创建内存授权存储
func NewMemoryGrantStore() *MemoryGrantStore {
	return &MemoryGrantStore{grants: make(map[string]transport.PortInfo)}
}

// Grant 记录授权
func (s *MemoryGrantStore) Grant(ctx context.Context, info transport.PortInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[info.Path] = info
	return nil
}

// Revoke 撤销授权
func (s *MemoryGrantStore) Revoke(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants, path)
	return nil
}

// Granted 列出已授权端口
func (s *MemoryGrantStore) Granted(ctx context.Context) ([]transport.PortInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]transport.PortInfo, 0, len(s.grants))
	for _, info := range s.grants {
		list = append(list, info)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Path < list[j].Path })
	return list, nil
}
