package notify

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"
)

// EmailLookup 根据用户ID查询邮箱，空串表示不发送
type EmailLookup func(ctx context.Context, userID string) (string, error)

// MailSink 邮件通知，只发送高优先级的消息
type MailSink struct {
	dialer      *gomail.Dialer
	from        string
	lookup      EmailLookup
	minPriority string
}

func NewMailSink(host string, port int, username, password, from string, lookup EmailLookup) *MailSink {
	return &MailSink{
		dialer:      gomail.NewDialer(host, port, username, password),
		from:        from,
		lookup:      lookup,
		minPriority: PriorityHigh,
	}
}

// BuildMessage 组装邮件
func (s *MailSink) BuildMessage(to string, m Message) *gomail.Message {
	msg := gomail.NewMessage()
	msg.SetHeader("From", s.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", "[MES] "+m.Title)
	msg.SetBody("text/plain", m.Content)
	return msg
}

func (s *MailSink) wants(m Message) bool {
	return s.minPriority == "" || m.Priority == s.minPriority
}

func (s *MailSink) Send(ctx context.Context, msgs []Message) error {
	var batch []*gomail.Message
	for _, m := range msgs {
		if !s.wants(m) {
			continue
		}
		to, err := s.lookup(ctx, m.RecipientID)
		if err != nil {
			return fmt.Errorf("查询收件人邮箱失败: %w", err)
		}
		if to == "" {
			continue
		}
		batch = append(batch, s.BuildMessage(to, m))
	}
	if len(batch) == 0 {
		return nil
	}
	return s.dialer.DialAndSend(batch...)
}
