package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wfunc/serial-bridge/internal/hardware"
	"github.com/wfunc/serial-bridge/internal/service"
	"github.com/wfunc/serial-bridge/internal/transport"
)

func TestStreamBridgesBytes(t *testing.T) {
	platform, err := hardware.New(hardware.Options{
		Driver:     hardware.NewMockDriver(),
		Enumerator: hardware.StaticEnumerator{Ports: hardware.MockPorts([]string{"/dev/ttyMOCK0"})},
		Logger:     zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(platform.Shutdown)

	bridge := service.NewBridgeService(platform, service.BridgeConfig{}, nil, nil, nil)
	port, err := bridge.RequestPort(context.Background(), "/dev/ttyMOCK0", transport.RequestOptions{})
	require.NoError(t, err)
	require.NoError(t, bridge.Open(context.Background(), port.ID, transport.OpenOptions{BaudRate: 9600}))

	served := make(chan error, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		served <- NewStream(bridge).Serve(context.Background(), conn, port.ID)
	}))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("hi")))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, msgType)
	assert.Equal(t, []byte("hi"), data)

	// 第二个连接拿不到读取器
	second, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = second.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseInternalServerErr))
	select {
	case err := <-served:
		assert.True(t, hardware.IsDOMError(err, hardware.TypeError))
	case <-time.After(2 * time.Second):
		t.Fatal("second stream did not finish")
	}
	second.Close()

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not finish after client close")
	}
	conn.Close()

	// 读写器已释放，可以关闭端口
	assert.NoError(t, bridge.Close(context.Background(), port.ID))
}
