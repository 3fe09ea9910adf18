// Package event 进程内信号总线。处理器在发布方的事务作用域内同步执行。
package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrReentrant 处理器内再次发布同类信号
var ErrReentrant = errors.New("event: reentrant publish of the same signal kind")

// Signal 信号
type Signal interface {
	Kind() string
}

// Handler 信号处理器，S 为发布方传入的作用域（事务、发件箱等）
type Handler[S any] func(ctx context.Context, scope S, sig Signal) error

type activeKey struct{}

// Bus 同步信号总线
type Bus[S any] struct {
	mu       sync.RWMutex
	handlers map[string][]Handler[S]
}

func NewBus[S any]() *Bus[S] {
	return &Bus[S]{handlers: make(map[string][]Handler[S])}
}

// Subscribe 按注册顺序执行
func (b *Bus[S]) Subscribe(kind string, h Handler[S]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

// Publish 依次调用处理器，遇到错误立即返回，由调用方回滚事务
func (b *Bus[S]) Publish(ctx context.Context, scope S, sig Signal) error {
	kind := sig.Kind()
	active, _ := ctx.Value(activeKey{}).(map[string]bool)
	if active[kind] {
		return fmt.Errorf("%w: %s", ErrReentrant, kind)
	}

	b.mu.RLock()
	handlers := append([]Handler[S](nil), b.handlers[kind]...)
	b.mu.RUnlock()
	if len(handlers) == 0 {
		return nil
	}

	next := make(map[string]bool, len(active)+1)
	for k := range active {
		next[k] = true
	}
	next[kind] = true
	ctx = context.WithValue(ctx, activeKey{}, next)

	for _, h := range handlers {
		if err := h(ctx, scope, sig); err != nil {
			return err
		}
	}
	return nil
}
