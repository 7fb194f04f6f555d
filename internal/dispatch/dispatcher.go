// Package dispatch 实现主题订阅分发引擎：模式 -> 处理器列表。
// 每条到达消息对全部已注册模式做通配匹配，命中的处理器各自在独立goroutine中执行，
// 单个处理器的失败只记录日志，不影响其他处理器，也不会中断分发循环。
package dispatch

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/hanqi-iot/irrigation-server/internal/topic"
)

// Delivery 注入给处理器的结构化参数。
// 绑定关系在注册时一次性确定，分发路径上没有逐消息的反射查找。
type Delivery struct {
	Topic    string
	Payload  []byte
	ClientID string
}

// HandlerFunc 订阅处理函数
type HandlerFunc func(ctx context.Context, d Delivery) error

// Handler 具名处理器，Name仅用于日志与指标定位
type Handler struct {
	Name string
	Fn   HandlerFunc
}

// Registrar 业务组件在启动引导阶段显式注册自己的订阅，
// 替代运行期反射扫描：路由表在编译期可见。
type Registrar interface {
	RegisterRoutes(d *Dispatcher)
}

// entry 单个订阅模式及其处理器列表（保持插入顺序）
type entry struct {
	pattern  string
	handlers []Handler
}

// Dispatcher 订阅表（进程内唯一的可变路由状态，读写锁保护）
type Dispatcher struct {
	mu      sync.RWMutex
	entries []*entry
	index   map[string]*entry

	logger *zap.Logger

	// 可选计数回调（由装配层接到Prometheus指标上）
	onDispatch     func(matched int)
	onHandlerError func(pattern string)
}

// New 创建分发引擎
func New(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		index:  make(map[string]*entry),
		logger: logger,
	}
}

// SetCounters 挂接分发/处理器错误计数回调
func (d *Dispatcher) SetCounters(onDispatch func(matched int), onHandlerError func(pattern string)) {
	d.onDispatch = onDispatch
	d.onHandlerError = onHandlerError
}

// Subscribe 追加处理器到指定模式。同一模式多次订阅累积处理器，不覆盖。
func (d *Dispatcher) Subscribe(pattern string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.index[pattern]
	if !ok {
		e = &entry{pattern: pattern}
		d.index[pattern] = e
		d.entries = append(d.entries, e)
	}
	e.handlers = append(e.handlers, h)
}

// SubscribeFunc Subscribe 的便捷形式
func (d *Dispatcher) SubscribeFunc(pattern, name string, fn HandlerFunc) {
	d.Subscribe(pattern, Handler{Name: name, Fn: fn})
}

// Patterns 返回当前路由表的全部模式（调试/自检用）
func (d *Dispatcher) Patterns() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.entries))
	for _, e := range d.entries {
		out = append(out, e.pattern)
	}
	return out
}

type matchedHandler struct {
	pattern string
	h       Handler
}

// Dispatch 将消息分发给所有命中模式的处理器。
// 处理器各自在独立goroutine执行，Dispatch不等待完成即返回；
// 同一消息多个处理器之间的完成顺序不保证。返回命中处理器数量。
func (d *Dispatcher) Dispatch(ctx context.Context, publishedTopic string, payload []byte, clientID string) int {
	d.mu.RLock()
	var matched []matchedHandler
	for _, e := range d.entries {
		if !topic.Match(publishedTopic, e.pattern) {
			continue
		}
		for _, h := range e.handlers {
			matched = append(matched, matchedHandler{pattern: e.pattern, h: h})
		}
	}
	d.mu.RUnlock()

	if d.onDispatch != nil {
		d.onDispatch(len(matched))
	}
	if len(matched) == 0 {
		d.logger.Debug("no handler matched", zap.String("topic", publishedTopic))
		return 0
	}

	delivery := Delivery{Topic: publishedTopic, Payload: payload, ClientID: clientID}
	for _, m := range matched {
		go d.invoke(ctx, m, delivery)
	}
	return len(matched)
}

// invoke 执行单个处理器，panic与error都被吸收为日志，绝不影响分发循环
func (d *Dispatcher) invoke(ctx context.Context, m matchedHandler, delivery Delivery) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panic",
				zap.String("pattern", m.pattern),
				zap.String("handler", m.h.Name),
				zap.String("topic", delivery.Topic),
				zap.Any("panic", r))
			if d.onHandlerError != nil {
				d.onHandlerError(m.pattern)
			}
		}
	}()

	if err := m.h.Fn(ctx, delivery); err != nil {
		d.logger.Warn("handler error",
			zap.String("pattern", m.pattern),
			zap.String("handler", m.h.Name),
			zap.String("topic", delivery.Topic),
			zap.String("client_id", delivery.ClientID),
			zap.Error(err))
		if d.onHandlerError != nil {
			d.onHandlerError(m.pattern)
		}
	}
}
