// SPDX-License-Identifier: GPL-2.0-or-later
// svxlink-go - a voice-services radio gateway for amateur radio systems
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 2 of the License, or
// (at your option) any later version.

// Package store provides the pluggable key/value cache used by the
// directory client's station cache (C2), mirroring the in-memory/Redis
// duality of the teacher's internal/kv package.
package store

import (
	"context"
	"time"
)

// Store is a small key/value cache abstraction. The in-memory
// implementation backs single-process deployments; the Redis
// implementation lets a directory station cache survive a process
// restart.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Option configures New.
type Option func(*options)

type options struct {
	redisAddr string
}

// WithRedis points New at a Redis instance instead of the in-memory
// default.
func WithRedis(addr string) Option {
	return func(o *options) { o.redisAddr = addr }
}

// New builds a Store. With no options it is purely in-process; WithRedis
// backs it with github.com/redis/go-redis/v9 for multi-process or
// restart-surviving deployments.
func New(opts ...Option) Store {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.redisAddr != "" {
		return newRedisStore(o.redisAddr)
	}
	return newMemoryStore()
}
