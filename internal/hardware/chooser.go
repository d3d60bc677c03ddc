package hardware

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/wfunc/serial-bridge/internal/transport"
)

// ErrNoSelection 用户没有选择端口
var ErrNoSelection = errors.New("no port selected")

// Chooser 端口选择（代表用户的授权操作）
type Chooser interface {
	Choose(ctx context.Context, candidates []transport.PortInfo) (transport.PortInfo, error)
}

type selectionKey struct{}

// WithSelection 把用户选中的端口路径放入 ctx
func WithSelection(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, selectionKey{}, path)
}

// SelectionFromContext 取出用户选中的端口路径
func SelectionFromContext(ctx context.Context) (string, bool) {
	path, ok := ctx.Value(selectionKey{}).(string)
	return path, ok && path != ""
}

// SelectionChooser 使用 ctx 中携带的用户选择
type SelectionChooser struct{}

// Choose 选择 ctx 指定的端口
func (SelectionChooser) Choose(ctx context.Context, candidates []transport.PortInfo) (transport.PortInfo, error) {
	path, ok := SelectionFromContext(ctx)
	if !ok {
		return transport.PortInfo{}, ErrNoSelection
	}
	for _, c := range candidates {
		if c.Path == path {
			return c, nil
		}
	}
	return transport.PortInfo{}, ErrNoSelection
}

// AllowlistChooser 自动选择白名单中第一个可用端口
type AllowlistChooser struct {
	Paths []string
}

// Choose 按白名单顺序选择
func (a AllowlistChooser) Choose(ctx context.Context, candidates []transport.PortInfo) (transport.PortInfo, error) {
	for _, path := range a.Paths {
		for _, c := range candidates {
			if c.Path == path {
				return c, nil
			}
		}
	}
	return transport.PortInfo{}, ErrNoSelection
}

// PromptChooser 在终端上让用户选择
type PromptChooser struct {
	In  io.Reader
	Out io.Writer
}

// Choose 打印候选列表并读取一行输入，空行或 q 表示取消
func (p PromptChooser) Choose(ctx context.Context, candidates []transport.PortInfo) (transport.PortInfo, error) {
	if len(candidates) == 0 {
		fmt.Fprintln(p.Out, "没有可用的串口")
		return transport.PortInfo{}, ErrNoSelection
	}

	for i, c := range candidates {
		if c.USBVendorID != 0 {
			fmt.Fprintf(p.Out, "  [%d] %s  %04x:%04x %s\n", i+1, c.Path, c.USBVendorID, c.USBProductID, c.Product)
		} else {
			fmt.Fprintf(p.Out, "  [%d] %s\n", i+1, c.Path)
		}
	}
	fmt.Fprint(p.Out, "选择串口 (回车取消): ")

	// 在调用方协程上读取，取消只在读取之前生效
	if err := ctx.Err(); err != nil {
		return transport.PortInfo{}, err
	}
	line := strings.TrimSpace(readLine(p.In))

	if line == "" || line == "q" {
		return transport.PortInfo{}, ErrNoSelection
	}
	idx, err := strconv.Atoi(line)
	if err != nil || idx < 1 || idx > len(candidates) {
		return transport.PortInfo{}, ErrNoSelection
	}
	return candidates[idx-1], nil
}

// readLine 读取一行，不读取换行之后的数据
func readLine(r io.Reader) string {
	if br, ok := r.(interface{ ReadString(byte) (string, error) }); ok {
		line, _ := br.ReadString('\n')
		return line
	}
	var sb strings.Builder
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if buf[0] == '\n' {
				break
			}
			sb.WriteByte(buf[0])
		}
		if err != nil {
			break
		}
	}
	return sb.String()
}
