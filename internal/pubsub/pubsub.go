// SPDX-License-Identifier: GPL-2.0-or-later
// svxlink-go - a voice-services radio gateway for amateur radio systems
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 2 of the License, or
// (at your option) any later version.

// Package pubsub is the topic fan-out the status feed (A6) publishes
// Voter/Qso/Directory state-change events to. A single process runs the
// in-memory implementation; pointing Observability.RedisAddr at a Redis
// instance lets multiple svxlink-go processes (e.g. svxlink and several
// remotetrxd instances) share one status feed.
package pubsub

// PubSub fans messages published on a topic out to every current
// subscriber of that topic.
type PubSub interface {
	Publish(topic string, message []byte) error
	Subscribe(topic string) Subscription
	Close() error
}

// Subscription is one subscriber's view of a topic.
type Subscription interface {
	Close() error
	Channel() <-chan []byte
}

// New builds a PubSub. With redisAddr empty it is purely in-process;
// otherwise it is backed by github.com/redis/go-redis/v9.
func New(redisAddr string) (PubSub, error) {
	if redisAddr != "" {
		return newRedisPubSub(redisAddr)
	}
	return newMemoryPubSub(), nil
}
