// SPDX-License-Identifier: GPL-2.0-or-later
// svxlink-go - a voice-services radio gateway for amateur radio systems
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 2 of the License, or
// (at your option) any later version.

package pubsub

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

func newRedisPubSub(addr string) (*redisPubSub, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("pubsub: connecting to redis at %s: %w", addr, err)
	}
	return &redisPubSub{client: client}, nil
}

type redisPubSub struct {
	client *redis.Client
}

func (ps *redisPubSub) Publish(topic string, message []byte) error {
	if err := ps.client.Publish(context.Background(), topic, message).Err(); err != nil {
		return fmt.Errorf("pubsub: publishing to %s: %w", topic, err)
	}
	return nil
}

func (ps *redisPubSub) Subscribe(topic string) Subscription {
	sub := ps.client.Subscribe(context.Background(), topic)
	return &redisSubscription{sub: sub, raw: sub.Channel()}
}

func (ps *redisPubSub) Close() error {
	return ps.client.Close()
}

type redisSubscription struct {
	sub *redis.PubSub
	raw <-chan *redis.Message
}

func (s *redisSubscription) Close() error {
	return s.sub.Close()
}

func (s *redisSubscription) Channel() <-chan []byte {
	out := make(chan []byte)
	go func() {
		defer close(out)
		for msg := range s.raw {
			out <- []byte(msg.Payload)
		}
	}()
	return out
}
