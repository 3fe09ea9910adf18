package notify

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// ChannelPrefix 每个用户一个频道
const ChannelPrefix = "mes:notify:"

// RedisSink 发布到 Redis 频道，供其他实例或网关订阅
type RedisSink struct {
	client *redis.Client
}

func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{client: client}
}

func Channel(userID string) string {
	return ChannelPrefix + userID
}

func (s *RedisSink) Send(ctx context.Context, msgs []Message) error {
	pipe := s.client.Pipeline()
	for _, m := range msgs {
		payload, err := json.Marshal(m)
		if err != nil {
			return err
		}
		pipe.Publish(ctx, Channel(m.RecipientID), payload)
	}
	_, err := pipe.Exec(ctx)
	return err
}
