// Package notify 通知出口。核心只在事务提交后调用 Sink。
package notify

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// 优先级
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// Message 一条待发送的通知
type Message struct {
	RecipientID string                 `json:"recipient_id"`
	Type        string                 `json:"type"`
	Title       string                 `json:"title"`
	Content     string                 `json:"content"`
	Priority    string                 `json:"priority"`
	WorkOrderID *string                `json:"work_order_id,omitempty"`
	ProcessID   *string                `json:"work_order_process_id,omitempty"`
	TaskID      *string                `json:"task_id,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// Sink 通知出口
type Sink interface {
	Send(ctx context.Context, msgs []Message) error
}

// Multi 依次投递到多个出口，单个出口失败不影响其他出口
type Multi []Sink

func (m Multi) Send(ctx context.Context, msgs []Message) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, msgs); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Outbox 事务内收集通知，提交后统一投递
type Outbox struct {
	msgs []Message
}

func (o *Outbox) Add(msg Message) {
	if msg.RecipientID == "" {
		return
	}
	if msg.Priority == "" {
		msg.Priority = PriorityNormal
	}
	o.msgs = append(o.msgs, msg)
}

func (o *Outbox) Messages() []Message {
	return o.msgs
}

func (o *Outbox) Len() int {
	return len(o.msgs)
}

// Flush 投递并清空，失败只记录日志
func (o *Outbox) Flush(ctx context.Context, sink Sink, logger *zap.Logger) {
	if len(o.msgs) == 0 || sink == nil {
		return
	}
	msgs := o.msgs
	o.msgs = nil
	if err := sink.Send(ctx, msgs); err != nil {
		logger.Warn("notification delivery failed", zap.Int("count", len(msgs)), zap.Error(err))
	}
}

// Recorder 记录投递内容的出口，测试与本地调试使用
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *Recorder) Send(ctx context.Context, msgs []Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msgs...)
	return nil
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

// OfType 按类型过滤
func (r *Recorder) OfType(t string) []Message {
	var out []Message
	for _, m := range r.Messages() {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}
