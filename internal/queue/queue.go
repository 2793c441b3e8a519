// SPDX-License-Identifier: GPL-2.0-or-later
// svxlink-go - a voice-services radio gateway for amateur radio systems
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 2 of the License, or
// (at your option) any later version.

// Package queue provides the small in-memory per-key backlog the
// RemoteTrx server (C6) uses to replay the last known squelch/state
// effects to a client that reconnects after a drop, so it does not have
// to wait a full revote cycle to learn the receiver's current state.
package queue

import "sync"

// Queue stores, per key, an ordered backlog of byte-slice values pushed
// since the last Drain.
type Queue struct {
	mu   sync.Mutex
	data map[string][][]byte
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{data: make(map[string][][]byte)}
}

// Push appends value to key's backlog and returns its new length.
func (q *Queue) Push(key string, value []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.data[key] = append(q.data[key], value)
	return len(q.data[key]), nil
}

// Drain removes and returns key's entire backlog.
func (q *Queue) Drain(key string) [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	values := q.data[key]
	delete(q.data, key)
	return values
}

// Delete discards key's backlog without returning it.
func (q *Queue) Delete(key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.data, key)
	return nil
}
