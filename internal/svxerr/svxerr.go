// SPDX-License-Identifier: GPL-2.0-or-later
// svxlink-go - a voice-services radio gateway for amateur radio systems
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 2 of the License, or
// (at your option) any later version.

// Package svxerr defines the sentinel error kinds shared across every
// protocol engine (directory, proxy, dispatcher, qso, remotetrx, voter).
package svxerr

import "errors"

// These sentinels classify a failure the way §7 of the design groups them, so
// callers can branch with errors.Is regardless of which component raised
// the error.
var (
	// TransportDown covers DNS failures, connect failures, and both local
	// and remote socket closes.
	TransportDown = errors.New("transport down")
	// ProtocolViolation covers malformed framing, oversized declared
	// lengths, and unknown wire versions.
	ProtocolViolation = errors.New("protocol violation")
	// AuthFailed covers proxy bad-password and access-denied responses.
	AuthFailed = errors.New("authentication failed")
	// Timeout covers every watchdog in §5 (directory command, qso
	// keepalive/inactivity, proxy handshake, remotetrx silence).
	Timeout = errors.New("timed out")
	// NotRegistered is returned by a directory list request made while
	// not ONLINE or BUSY.
	NotRegistered = errors.New("not registered")
	// InvalidArgument covers bad callsigns, oversized descriptions, and
	// illegal digipeater paths.
	InvalidArgument = errors.New("invalid argument")
	// CodecError covers short or corrupt GSM/Speex frames.
	CodecError = errors.New("codec error")
)
