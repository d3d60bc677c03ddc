package service

import (
	"sync"

	"github.com/google/uuid"

	apperrors "github.com/wfunc/serial-bridge/internal/errors"
	"github.com/wfunc/serial-bridge/internal/transport"
)

// HandleKind 句柄类型
type HandleKind string

const (
	HandlePort   HandleKind = "port"
	HandleReader HandleKind = "reader"
	HandleWriter HandleKind = "writer"
)

// handle 借用的平台对象
type handle struct {
	id     string
	kind   HandleKind
	portID string
	port   transport.Port
	reader transport.Reader
	writer transport.Writer
}

// lock 读取器或写入器
func (h *handle) lock() transport.Lock {
	if h.reader != nil {
		return h.reader
	}
	return h.writer
}

// handleTable 句柄表，对外只暴露 uuid
type handleTable struct {
	mu      sync.RWMutex
	byID    map[string]*handle
	portIDs map[transport.Port]string
}

func newHandleTable() *handleTable {
	return &handleTable{
		byID:    make(map[string]*handle),
		portIDs: make(map[transport.Port]string),
	}
}

// stateForgotten 已撤销授权的端口状态
const stateForgotten = "forgotten"

// portState 平台端口状态，平台不提供时返回空
func portState(port transport.Port) string {
	if st, ok := port.(interface{ State() string }); ok {
		return st.State()
	}
	return ""
}

// addPort 同一端口对象返回同一句柄，同路径已撤销授权的旧句柄被清理
func (t *handleTable) addPort(port transport.Port) *handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.portIDs[port]; ok {
		return t.byID[id]
	}
	path := port.Info().Path
	for old, id := range t.portIDs {
		if old.Info().Path == path && portState(old) == stateForgotten {
			t.removePortLocked(id)
		}
	}

	h := &handle{id: uuid.NewString(), kind: HandlePort, port: port}
	h.portID = h.id
	t.byID[h.id] = h
	t.portIDs[port] = h.id
	return h
}

func (t *handleTable) addReader(port *handle, r transport.Reader) *handle {
	h := &handle{id: uuid.NewString(), kind: HandleReader, portID: port.id, port: port.port, reader: r}
	t.mu.Lock()
	t.byID[h.id] = h
	t.mu.Unlock()
	return h
}

func (t *handleTable) addWriter(port *handle, w transport.Writer) *handle {
	h := &handle{id: uuid.NewString(), kind: HandleWriter, portID: port.id, port: port.port, writer: w}
	t.mu.Lock()
	t.byID[h.id] = h
	t.mu.Unlock()
	return h
}

// get 按类型查找句柄
func (t *handleTable) get(id string, kind HandleKind) (*handle, error) {
	t.mu.RLock()
	h, ok := t.byID[id]
	t.mu.RUnlock()

	if !ok || (kind != "" && h.kind != kind) {
		return nil, apperrors.Newf(apperrors.ErrSerialHandle, "unknown %s handle %q", kind, id)
	}
	return h, nil
}

func (t *handleTable) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.byID[id]
	if !ok {
		return
	}
	delete(t.byID, id)
	if h.kind == HandlePort {
		delete(t.portIDs, h.port)
	}
}

// removePortLocked 删除端口及其读写器句柄，调用方持有写锁
func (t *handleTable) removePortLocked(portID string) []*handle {
	var removed []*handle
	for id, h := range t.byID {
		if h.portID == portID {
			removed = append(removed, h)
			delete(t.byID, id)
			if h.kind == HandlePort {
				delete(t.portIDs, h.port)
			}
		}
	}
	return removed
}

// locks 返回端口下的读写器句柄
func (t *handleTable) locks(portID string) []*handle {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var list []*handle
	for _, h := range t.byID {
		if h.portID == portID && h.kind != HandlePort {
			list = append(list, h)
		}
	}
	return list
}

func (t *handleTable) all() []*handle {
	t.mu.RLock()
	defer t.mu.RUnlock()

	list := make([]*handle, 0, len(t.byID))
	for _, h := range t.byID {
		list = append(list, h)
	}
	return list
}

// portIDByPath 按设备路径查找有效的端口句柄，没有时返回空
func (t *handleTable) portIDByPath(path string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for port, id := range t.portIDs {
		if port.Info().Path == path && portState(port) != stateForgotten {
			return id
		}
	}
	return ""
}
