// Package notify 向界面元素推送提示消息
package notify

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/wfunc/serial-bridge/internal/logger"
)

// ErrEmptySelector 选择器为空
var ErrEmptySelector = errors.New("toast selector is empty")

// Level 提示级别
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// ToastOptions 提示参数
type ToastOptions struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	Level    Level  `json:"level"`
	Autohide bool   `json:"autohide"`
}

// Element 可以显示提示的元素
type Element interface {
	ID() string
	Classes() []string
	Show(ctx context.Context, opts ToastOptions) error
}

// Toaster 提示显示器
type Toaster struct {
	logger *zap.Logger
}

// NewToaster 创建提示显示器
func NewToaster() *Toaster {
	return &Toaster{logger: logger.GetModuleLogger("notify")}
}

// ShowAll 对每个匹配选择器的元素显示一次提示，提示不会自动隐藏，返回显示数量
func (t *Toaster) ShowAll(ctx context.Context, elements []Element, selector string, opts ToastOptions) (int, error) {
	sel, err := ParseSelector(selector)
	if err != nil {
		return 0, err
	}

	opts.Autohide = false
	if opts.Level == "" {
		opts.Level = LevelInfo
	}

	shown := 0
	var errs []error
	for _, el := range elements {
		if !sel.Match(el) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return shown, err
		}
		if err := el.Show(ctx, opts); err != nil {
			t.logger.Warn("显示提示失败", zap.String("element", el.ID()), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		shown++
	}

	if shown > 0 || len(errs) > 0 {
		t.logger.Debug("提示已显示",
			zap.String("selector", selector),
			zap.Int("shown", shown),
			zap.Int("failed", len(errs)))
	}
	return shown, errors.Join(errs...)
}

// Selector 元素选择器，支持 *、#id、.class 以及逗号分隔的组合
type Selector struct {
	all     bool
	ids     []string
	classes []string
}

// ParseSelector 解析选择器
func ParseSelector(s string) (Selector, error) {
	var sel Selector
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "":
			continue
		case part == "*":
			sel.all = true
		case strings.HasPrefix(part, "#") && len(part) > 1:
			sel.ids = append(sel.ids, part[1:])
		case strings.HasPrefix(part, ".") && len(part) > 1:
			sel.classes = append(sel.classes, part[1:])
		default:
			return Selector{}, errors.New("unsupported toast selector: " + part)
		}
	}
	if !sel.all && len(sel.ids) == 0 && len(sel.classes) == 0 {
		return Selector{}, ErrEmptySelector
	}
	return sel, nil
}

// Match 元素是否匹配
func (s Selector) Match(el Element) bool {
	if s.all {
		return true
	}
	for _, id := range s.ids {
		if el.ID() == id {
			return true
		}
	}
	for _, want := range s.classes {
		for _, c := range el.Classes() {
			if c == want {
				return true
			}
		}
	}
	return false
}
