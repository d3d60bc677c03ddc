// Package transport 串口传输访问层。
//
// 每个函数都直接转发给平台对应的原语，参数、结果和错误原样传递：
// 不重试、不校验、不加锁、不转换。端口、读取器、写入器都是借用的句柄，
// 本包既不创建也不销毁它们。
package transport

import "context"

// IsSupported 判断宿主对象是否具备串口能力，不做任何调用
func IsSupported(host any) bool {
	s, ok := host.(Serial)
	return ok && s != nil
}

// RequestPort 请求用户选择一个端口
func RequestPort(ctx context.Context, serial Serial, opts RequestOptions) (Port, error) {
	return serial.RequestPort(ctx, opts)
}

// GetPorts 返回已授权的端口
func GetPorts(ctx context.Context, serial Serial) ([]Port, error) {
	return serial.GetPorts(ctx)
}

// Open 打开端口
func Open(ctx context.Context, port Port, opts OpenOptions) error {
	return port.Open(ctx, opts)
}

// Close 关闭端口
func Close(ctx context.Context, port Port) error {
	return port.Close(ctx)
}

// Forget 撤销对端口的授权
func Forget(ctx context.Context, port Port) error {
	return port.Forget(ctx)
}

// GetReader 获取读取器
func GetReader(port Port) (Reader, error) {
	return port.Readable().GetReader()
}

// GetWriter 获取写入器
func GetWriter(port Port) (Writer, error) {
	return port.Writable().GetWriter()
}

// Read 读取下一块数据，阻塞直到有数据、流结束或 ctx 取消
func Read(ctx context.Context, reader Reader) (ReadResult, error) {
	return reader.Read(ctx)
}

// Write 写入一块数据，阻塞直到平台接收
func Write(ctx context.Context, writer Writer, chunk []byte) error {
	return writer.Write(ctx, chunk)
}

// Cancel 请求中止挂起或后续的读取
func Cancel(ctx context.Context, reader Reader, reason error) error {
	return reader.Cancel(ctx, reason)
}

// ReleaseLock 释放读取器或写入器的独占锁
func ReleaseLock(lock Lock) error {
	return lock.ReleaseLock()
}
