// SPDX-License-Identifier: GPL-2.0-or-later
// svxlink-go - a voice-services radio gateway for amateur radio systems
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 2 of the License, or
// (at your option) any later version.

package store

import (
	"context"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

type memEntry struct {
	value   []byte
	expires time.Time
}

type memoryStore struct {
	data *xsync.Map[string, memEntry]
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: xsync.NewMap[string, memEntry]()}
}

func (m *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := m.data.Load(key)
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && e.expires.Before(time.Now()) {
		m.data.Delete(key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *memoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	m.data.Store(key, memEntry{value: value, expires: expires})
	return nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	m.data.Delete(key)
	return nil
}

func (m *memoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	now := time.Now()
	m.data.Range(func(key string, e memEntry) bool {
		if !e.expires.IsZero() && e.expires.Before(now) {
			m.data.Delete(key)
			return true
		}
		if prefix == "" || strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return true
	})
	return keys, nil
}

func (m *memoryStore) Close() error {
	return nil
}
