// serialterm 终端串口工具，直接使用串口传输层
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/wfunc/serial-bridge/internal/config"
	"github.com/wfunc/serial-bridge/internal/hardware"
	"github.com/wfunc/serial-bridge/internal/logger"
	"github.com/wfunc/serial-bridge/internal/notify"
	"github.com/wfunc/serial-bridge/internal/transport"
)

func main() {
	var (
		driver   = flag.String("driver", "bugst", "串口驱动 bugst / tarm / goburrow")
		path     = flag.String("path", "", "直接使用指定串口，不提示选择")
		baud     = flag.Int("baud", 9600, "波特率")
		dataBits = flag.Int("data-bits", 8, "数据位 7 / 8")
		stopBits = flag.Int("stop-bits", 1, "停止位 1 / 2")
		parity   = flag.String("parity", "none", "校验 none / even / odd")
		flow     = flag.String("flow", "none", "流控 none / hardware")
		vendor   = flag.Uint("vid", 0, "按USB厂商ID过滤")
		product  = flag.Uint("pid", 0, "按USB产品ID过滤")
		hexMode  = flag.Bool("hex", false, "以十六进制收发")
		mock     = flag.Bool("mock", false, "使用内存回环设备")
		logLevel = flag.String("log-level", "warn", "日志级别")
	)
	flag.Parse()

	if err := logger.Init(&config.LogConfig{Level: *logLevel, Format: "console", Output: "stderr"}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	stdin := bufio.NewReader(os.Stdin)
	serial, err := newPlatform(*driver, *mock, *path, stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化串口失败: %v\n", err)
		os.Exit(1)
	}
	defer serial.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	t := &terminal{
		serial: serial,
		in:     stdin,
		out:    os.Stdout,
		hex:    *hexMode,
		toast:  notify.NewToaster(),
		el:     consoleElement{out: os.Stderr},
	}

	opts := transport.OpenOptions{
		BaudRate:    *baud,
		DataBits:    *dataBits,
		StopBits:    *stopBits,
		Parity:      transport.Parity(*parity),
		FlowControl: transport.FlowControl(*flow),
	}
	var filters []transport.PortFilter
	if *vendor != 0 || *product != 0 {
		filters = append(filters, transport.PortFilter{USBVendorID: uint16(*vendor), USBProductID: uint16(*product)})
	}

	if err := t.run(ctx, *path, filters, opts); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", hardware.DOMErrorName(err), err)
		os.Exit(1)
	}
}

func newPlatform(driverName string, mock bool, path string, in io.Reader) (*hardware.Serial, error) {
	opts := hardware.Options{
		Chooser: hardware.PromptChooser{In: in, Out: os.Stderr},
		Logger:  logger.GetModuleLogger("serialterm"),
	}
	// 指定路径时跳过交互选择
	if path != "" {
		opts.Chooser = hardware.SelectionChooser{}
	}
	if mock {
		opts.Driver = hardware.NewMockDriver()
		opts.Enumerator = hardware.StaticEnumerator{Ports: hardware.MockPorts([]string{"/dev/ttyMOCK0"})}
	} else {
		driver, err := hardware.NewDriver(driverName)
		if err != nil {
			return nil, err
		}
		opts.Driver = driver
		opts.Enumerator = hardware.SystemEnumerator{}
	}
	return hardware.New(opts)
}

// terminal 交互会话
type terminal struct {
	serial *hardware.Serial
	in     *bufio.Reader
	out    io.Writer
	hex    bool
	toast  *notify.Toaster
	el     notify.Element
}

func (t *terminal) run(ctx context.Context, path string, filters []transport.PortFilter, opts transport.OpenOptions) error {
	if !transport.IsSupported(t.serial) {
		return errors.New("当前环境不支持串口")
	}

	reqCtx := ctx
	if path != "" {
		reqCtx = hardware.WithSelection(ctx, path)
	}
	port, err := transport.RequestPort(reqCtx, t.serial, transport.RequestOptions{Filters: filters})
	if err != nil {
		return err
	}

	if err := transport.Open(ctx, port, opts); err != nil {
		return err
	}
	info := port.Info()
	t.notify(ctx, notify.LevelSuccess, "串口已连接", fmt.Sprintf("%s @ %d", info.Path, opts.BaudRate))

	reader, err := transport.GetReader(port)
	if err != nil {
		return err
	}
	writer, err := transport.GetWriter(port)
	if err != nil {
		transport.ReleaseLock(reader)
		return err
	}

	var wg sync.WaitGroup
	readErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		readErr <- t.pump(ctx, reader)
	}()

	input := make(chan string)
	go func() {
		defer close(input)
		for {
			line, err := t.in.ReadString('\n')
			if line != "" {
				input <- line
			}
			if err != nil {
				return
			}
		}
	}()

	var result error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-readErr:
			result = err
			break loop
		case line, ok := <-input:
			if !ok {
				break loop
			}
			data, err := t.encode(line)
			if err != nil {
				fmt.Fprintf(os.Stderr, "输入错误: %v\n", err)
				continue
			}
			if err := transport.Write(ctx, writer, data); err != nil {
				result = err
				break loop
			}
		}
	}

	transport.Cancel(context.Background(), reader, errors.New("terminal closed"))
	wg.Wait()
	transport.ReleaseLock(reader)
	transport.ReleaseLock(writer)

	if err := transport.Close(context.Background(), port); err != nil && result == nil {
		result = err
	}
	if result != nil {
		t.notify(context.Background(), notify.LevelError, "串口已断开", result.Error())
	} else {
		t.notify(context.Background(), notify.LevelInfo, "串口已关闭", info.Path)
	}
	return result
}

// pump 把串口数据写到终端，直到流结束
func (t *terminal) pump(ctx context.Context, reader transport.Reader) error {
	for {
		result, err := transport.Read(ctx, reader)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if result.Done {
			return nil
		}
		if t.hex {
			fmt.Fprint(t.out, hex.Dump(result.Value))
		} else {
			t.out.Write(result.Value)
		}
	}
}

// encode 十六进制模式下忽略空白
func (t *terminal) encode(line string) ([]byte, error) {
	if !t.hex {
		return []byte(line), nil
	}
	return hex.DecodeString(strings.Join(strings.Fields(line), ""))
}

func (t *terminal) notify(ctx context.Context, level notify.Level, title, body string) {
	if _, err := t.toast.ShowAll(ctx, []notify.Element{t.el}, ".toast", notify.ToastOptions{
		Title: title,
		Body:  body,
		Level: level,
	}); err != nil {
		logger.Warn("显示提示失败", zap.Error(err))
	}
}

// consoleElement 把提示打印到终端
type consoleElement struct {
	out io.Writer
}

func (consoleElement) ID() string        { return "console" }
func (consoleElement) Classes() []string { return []string{"toast"} }

func (c consoleElement) Show(_ context.Context, opts notify.ToastOptions) error {
	_, err := fmt.Fprintf(c.out, "[%s] %s %s\n", strings.ToUpper(string(opts.Level)), opts.Title, opts.Body)
	return err
}
