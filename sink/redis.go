// Copyright © 2026 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package sink

import (
	"context"
	"encoding/json"

	"github.com/TheThingsNetwork/connector-client/types"
	"github.com/apex/log"
	redis "gopkg.in/redis.v5"
)

// defaultRedisKey is used as key when no key is given
var defaultRedisKey = "messages"

// RedisHistory is the number of messages kept in Redis
var RedisHistory int64 = 100

// NewRedis returns a sink that pushes messages to a capped Redis list
func NewRedis(client *redis.Client, key string, ctx log.Interface) Sink {
	if key == "" {
		key = defaultRedisKey
	}
	return &redisSink{
		ctx:    ctx.WithField("Sink", "Redis"),
		client: client,
		key:    key,
	}
}

type redisSink struct {
	ctx    log.Interface
	client *redis.Client
	key    string
}

func (s *redisSink) Emit(_ context.Context, msg types.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	pipe := s.client.Pipeline()
	pipe.LPush(s.key, data)
	pipe.LTrim(s.key, 0, RedisHistory-1)
	if _, err := pipe.Exec(); err != nil {
		return err
	}
	s.ctx.WithField("Key", s.key).Debug("Stored message")
	return nil
}

func (s *redisSink) Close() error {
	return s.client.Close()
}
