// SPDX-License-Identifier: GPL-2.0-or-later
// svxlink-go - a voice-services radio gateway for amateur radio systems
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 2 of the License, or
// (at your option) any later version.

// Package statusfeed serves a websocket broadcast of Voter/Qso/Directory
// state-change events for live monitoring, in the spirit of the
// teacher's /ws/calls live call-monitor feed.
package statusfeed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sm0svx/svxlink-go/internal/pubsub"
)

const (
	topic           = "svxlink.status"
	readBufferSize  = 1024
	writeBufferSize = 1024
	readTimeout     = 3 * time.Second
)

// Event is one status-feed message, published for Qso, Voter, Directory
// and Proxy events.
type Event struct {
	Component string      `json:"component"` // "qso", "voter", "directory", "proxy"
	Kind      string      `json:"kind"`      // e.g. "state_change", "status_change", "dtmf"
	ID        string      `json:"id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Time      time.Time   `json:"time"`
}

// Feed publishes Events onto a pubsub topic and serves them to websocket
// clients subscribed to the live monitor.
type Feed struct {
	ps       pubsub.PubSub
	upgrader websocket.Upgrader
}

// New creates a Feed backed by ps. ps may be the in-process
// implementation (single binary) or a Redis-backed one shared across
// an svxlink + remotetrxd deployment.
func New(ps pubsub.PubSub) *Feed {
	return &Feed{
		ps: ps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: writeBufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Publish emits an Event onto the status feed.
func (f *Feed) Publish(component, kind, id string, data interface{}) {
	ev := Event{Component: component, Kind: kind, ID: id, Data: data, Time: time.Now()}
	raw, err := json.Marshal(ev)
	if err != nil {
		slog.Error("statusfeed: marshalling event", "error", err)
		return
	}
	if err := f.ps.Publish(topic, raw); err != nil {
		slog.Error("statusfeed: publishing event", "error", err)
	}
}

func (f *Feed) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("statusfeed: websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	sub := f.ps.Subscribe(topic)
	defer func() { _ = sub.Close() }()

	readFailed := make(chan struct{})
	go func() {
		defer close(readFailed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-readFailed:
			return
		case raw, ok := <-sub.Channel():
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		}
	}
}

// Serve starts the /ws/status endpoint and blocks until ctx is
// cancelled or the listener fails.
func (f *Feed) Serve(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/status", f.handleWS)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: readTimeout,
	}
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()
	slog.Info("statusfeed: listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
