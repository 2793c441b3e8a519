// SPDX-License-Identifier: GPL-2.0-or-later
// svxlink-go - a voice-services radio gateway for amateur radio systems
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 2 of the License, or
// (at your option) any later version.

package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sm0svx/svxlink-go/internal/metrics"
	"github.com/sm0svx/svxlink-go/internal/runtime"
	"github.com/sm0svx/svxlink-go/internal/store"
	"github.com/sm0svx/svxlink-go/internal/svxerr"
)

// cacheKey is the store.Store key the most recent station list is
// cached under, so a restarted process has something to show before
// its first LIST command completes.
const cacheKey = "directory.stations"

type cachedStations struct {
	Links       []Station `json:"links"`
	Repeaters   []Station `json:"repeaters"`
	Conferences []Station `json:"conferences"`
	Stations    []Station `json:"stations"`
}

// CommandKind identifies a queued DirectoryCommand, per spec.md §3.
type CommandKind int

// Command kinds.
const (
	CommandOnline CommandKind = iota
	CommandBusy
	CommandOffline
	CommandList
)

func (k CommandKind) String() string {
	switch k {
	case CommandOnline:
		return "ONLINE"
	case CommandBusy:
		return "BUSY"
	case CommandOffline:
		return "OFFLINE"
	case CommandList:
		return "LIST"
	default:
		return "UNKNOWN"
	}
}

// Command is a queued directive, per spec.md §3. It is created when a
// public operation is called and destroyed once Done is set (success or
// permanent failure).
type Command struct {
	Kind     CommandKind
	Done     bool
	Attempts int
	Err      error
}

const (
	commandWatchdog  = 120 * time.Second
	defaultRefresh   = 5 * time.Minute
	dialTimeout      = 10 * time.Second
	defaultDirPort   = 5200
)

// Client maintains one directory-server registration, per spec.md §4.2.
type Client struct {
	rt  *runtime.Runtime
	met *metrics.Metrics

	callsign    string
	password    string
	description string
	servers     []string
	port        int
	refreshTime time.Duration

	mu         sync.Mutex
	status     Status
	desired    CommandKind
	message    string
	links      []Station
	repeaters  []Station
	conferences []Station
	stations   []Station

	queue []*Command

	addrPool []string
	addrIdx  int

	watchdog   *runtime.Timer
	refresh    *runtime.Timer
	inFlight   *Command

	onStatusChange func(Status)
	cache          store.Store
}

// Option configures a new Client.
type Option func(*Client)

// WithMetrics attaches a Metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.met = m }
}

// WithStatusChange registers a callback invoked (from the Runtime's
// task goroutine) whenever Status() changes.
func WithStatusChange(fn func(Status)) Option {
	return func(c *Client) { c.onStatusChange = fn }
}

// WithRefreshInterval overrides the default 5-minute re-registration
// timer named in spec.md §6.
func WithRefreshInterval(d time.Duration) Option {
	return func(c *Client) { c.refreshTime = d }
}

// WithStore attaches a station-list cache so Links/Repeaters/Stations
// return the last known directory contents immediately after a restart,
// instead of an empty list until the first LIST command completes.
func WithStore(s store.Store) Option {
	return func(c *Client) { c.cache = s }
}

// New constructs a Client bound to rt. servers is the list of directory
// server hostnames to fan DNS resolution out over (spec.md §4.2); port
// defaults to 5200 if zero.
func New(rt *runtime.Runtime, callsign, password, description string, servers []string, port int, opts ...Option) *Client {
	if port == 0 {
		port = defaultDirPort
	}
	c := &Client{
		rt:          rt,
		callsign:    NormalizeCallsign(callsign),
		password:    password,
		description: truncateDescription(description),
		servers:     servers,
		port:        port,
		refreshTime: defaultRefresh,
		status:      StatusOffline,
		desired:     CommandOffline,
	}
	for _, o := range opts {
		o(c)
	}
	if c.cache != nil {
		c.loadCached()
	}
	c.refresh = rt.Every(c.refreshTime, c.refreshTick)
	return c
}

func (c *Client) loadCached() {
	raw, ok, err := c.cache.Get(context.Background(), cacheKey)
	if err != nil || !ok {
		return
	}
	var cs cachedStations
	if err := json.Unmarshal(raw, &cs); err != nil {
		slog.Warn("directory: discarding unreadable station cache", "error", err)
		return
	}
	c.mu.Lock()
	c.links, c.repeaters, c.conferences, c.stations = cs.Links, cs.Repeaters, cs.Conferences, cs.Stations
	c.mu.Unlock()
}

func truncateDescription(d string) string {
	if len(d) > maxDescriptionLen {
		return d[:maxDescriptionLen]
	}
	return d
}

// MakeOnline enqueues an ONLINE registration command.
func (c *Client) MakeOnline() { c.enqueue(CommandOnline) }

// MakeBusy enqueues a BUSY registration command.
func (c *Client) MakeBusy() { c.enqueue(CommandBusy) }

// MakeOffline enqueues an OFFLINE registration command.
func (c *Client) MakeOffline() { c.enqueue(CommandOffline) }

// GetCalls enqueues a LIST command if currently ONLINE or BUSY and no
// LIST command is already queued, per spec.md §4.2.
func (c *Client) GetCalls() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusOnline && c.status != StatusBusy {
		return fmt.Errorf("get calls: %w", svxerr.NotRegistered)
	}
	for _, cmd := range c.queue {
		if cmd.Kind == CommandList {
			return nil
		}
	}
	c.queue = append(c.queue, &Command{Kind: CommandList})
	c.rt.Post(c.pump)
	return nil
}

// RefreshRegistration re-sends the current desired registration state.
func (c *Client) RefreshRegistration() {
	c.mu.Lock()
	desired := c.desired
	c.mu.Unlock()
	c.enqueue(desired)
}

func (c *Client) refreshTick() {
	c.RefreshRegistration()
}

func (c *Client) enqueue(kind CommandKind) {
	c.mu.Lock()
	if kind != CommandList {
		c.desired = kind
	}
	c.queue = append(c.queue, &Command{Kind: kind})
	c.mu.Unlock()
	c.rt.Post(c.pump)
}

// pump runs on the Runtime's task goroutine: at most one command is
// in flight at a time (spec.md §4.2).
func (c *Client) pump() {
	c.mu.Lock()
	if c.inFlight != nil || len(c.queue) == 0 {
		c.mu.Unlock()
		return
	}
	cmd := c.queue[0]
	c.queue = c.queue[1:]
	c.inFlight = cmd
	c.mu.Unlock()

	c.watchdog = c.rt.AfterFunc(commandWatchdog, func() { c.onCommandTimeout(cmd) })
	go c.runCommand(cmd)
}

func (c *Client) runCommand(cmd *Command) {
	ctx, cancel := context.WithTimeout(c.rt.Context(), dialTimeout)
	defer cancel()

	conn, err := c.dial(ctx)
	if err != nil {
		c.rt.Post(func() { c.finishCommand(cmd, fmt.Errorf("dial: %w", err)) })
		return
	}
	defer conn.Close()
	// The command watchdog (spec.md §5) is enforced at the socket level
	// so a stalled peer can't wedge the read goroutine past it.
	_ = conn.SetDeadline(time.Now().Add(commandWatchdog))

	switch cmd.Kind {
	case CommandList:
		err = c.runList(conn, cmd)
	default:
		err = c.runRegister(conn, cmd)
	}
	c.rt.Post(func() { c.finishCommand(cmd, err) })
}

func (c *Client) finishCommand(cmd *Command, err error) {
	c.mu.Lock()
	if cmd.Done {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
	cmd.Err = err
	cmd.Done = true
	cmd.Attempts++

	c.mu.Lock()
	c.inFlight = nil
	if err != nil {
		slog.Warn("directory: command failed", "kind", cmd.Kind, "error", err)
		c.setStatusLocked(StatusUnknown)
	} else if cmd.Kind != CommandList {
		c.setStatusLocked(statusForKind(cmd.Kind))
	}
	c.mu.Unlock()

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	if c.met != nil {
		c.met.DirectoryCommandsTotal.WithLabelValues(cmd.Kind.String(), outcome).Inc()
	}
	c.pump()
}

func (c *Client) onCommandTimeout(cmd *Command) {
	c.mu.Lock()
	if c.inFlight != cmd {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	// The in-flight socket carries its own deadline (set in runCommand)
	// so it will unblock on its own; this just frees the queue to move
	// on and reports the failure.
	c.finishCommand(cmd, fmt.Errorf("command %s: %w", cmd.Kind, svxerr.Timeout))
}

func statusForKind(k CommandKind) Status {
	switch k {
	case CommandOnline:
		return StatusOnline
	case CommandBusy:
		return StatusBusy
	default:
		return StatusOffline
	}
}

func (c *Client) setStatusLocked(s Status) {
	if c.status == s {
		return
	}
	c.status = s
	if c.met != nil {
		for _, st := range []Status{StatusOffline, StatusOnline, StatusBusy, StatusUnknown} {
			v := 0.0
			if st == s {
				v = 1
			}
			c.met.DirectoryStatus.WithLabelValues(st.String()).Set(v)
		}
	}
	if c.onStatusChange != nil {
		c.onStatusChange(s)
	}
}

// dial resolves c.servers (fanning DNS lookups out concurrently per
// spec.md §4.2), merges the results into an address pool, and connects
// to the next address round-robin, advancing on failure.
func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	if len(c.addrPool) == 0 {
		if err := c.resolvePool(ctx); err != nil {
			return nil, fmt.Errorf("%w: %s", svxerr.TransportDown, err)
		}
	}
	var lastErr error
	for i := 0; i < len(c.addrPool); i++ {
		addr := c.addrPool[c.addrIdx]
		c.addrIdx = (c.addrIdx + 1) % len(c.addrPool)
		d := net.Dialer{}
		conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(addr, strconv.Itoa(c.port)))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %s", svxerr.TransportDown, lastErr)
}

func (c *Client) resolvePool(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	results := make([][]string, len(c.servers))
	for i, host := range c.servers {
		i, host := i, host
		g.Go(func() error {
			addrs, err := net.DefaultResolver.LookupHost(ctx, host)
			if err != nil {
				slog.Warn("directory: DNS lookup failed", "host", host, "error", err)
				return nil // one bad hostname does not fail the whole pool
			}
			results[i] = addrs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	var pool []string
	for _, addrs := range results {
		pool = append(pool, addrs...)
	}
	if len(pool) == 0 {
		return fmt.Errorf("no directory server resolved")
	}
	sort.Strings(pool)
	c.addrPool = pool
	return nil
}

// runRegister performs the registration handshake described in
// spec.md §4.2's wire format.
func (c *Client) runRegister(conn net.Conn, cmd *Command) error {
	statusTag := registerStatusTag(cmd.Kind)
	var buf strings.Builder
	buf.WriteByte('l')
	buf.WriteString(c.callsign)
	buf.WriteByte(0xAC)
	buf.WriteByte(0xAC)
	buf.WriteString(c.password)
	buf.WriteByte(0x0D)
	buf.WriteString(statusTag)
	buf.WriteByte(0x0D)
	buf.WriteString(c.description)
	buf.WriteByte(0x0D)

	if _, err := conn.Write([]byte(buf.String())); err != nil {
		return fmt.Errorf("%w: %s", svxerr.TransportDown, err)
	}

	reply := make([]byte, 2)
	if _, err := readFull(conn, reply); err != nil {
		return fmt.Errorf("%w: %s", svxerr.TransportDown, err)
	}
	if string(reply) != "OK" {
		return fmt.Errorf("%w: unexpected reply %q", svxerr.ProtocolViolation, reply)
	}
	return nil
}

func registerStatusTag(kind CommandKind) string {
	switch kind {
	case CommandOnline:
		return "ONLINE3.38(00:00)"
	case CommandBusy:
		return "BUSY3.40(00:00)"
	default:
		return "OFF-V3.40"
	}
}

// runList performs the "s" list request and drives listParser until the
// "+++" terminator, per spec.md §4.2.
func (c *Client) runList(conn net.Conn, _ *Command) error {
	if _, err := conn.Write([]byte("s")); err != nil {
		return fmt.Errorf("%w: %s", svxerr.TransportDown, err)
	}
	p := newListParser()
	chunk := make([]byte, 4096)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			if p.Feed(chunk[:n]) {
				break
			}
		}
		if err != nil {
			return fmt.Errorf("%w: %s", svxerr.TransportDown, err)
		}
	}
	if p.serverErr != "" {
		return fmt.Errorf("%w: %s", svxerr.AuthFailed, p.serverErr)
	}
	c.applyList(p)
	return nil
}

func (c *Client) applyList(p *listParser) {
	var links, repeaters, conferences, stations []Station
	for _, st := range p.entries {
		switch ClassifyCallsign(st.Callsign) {
		case ClassLink:
			links = append(links, st)
		case ClassRepeater:
			repeaters = append(repeaters, st)
		case ClassConference:
			conferences = append(conferences, st)
		default:
			stations = append(stations, st)
		}
	}
	c.mu.Lock()
	c.links, c.repeaters, c.conferences, c.stations = links, repeaters, conferences, stations
	c.message = p.message.String()
	c.mu.Unlock()

	if c.cache != nil {
		raw, err := json.Marshal(cachedStations{Links: links, Repeaters: repeaters, Conferences: conferences, Stations: stations})
		if err != nil {
			slog.Warn("directory: encoding station cache", "error", err)
			return
		}
		if err := c.cache.Set(context.Background(), cacheKey, raw, 2*c.refreshTime); err != nil {
			slog.Warn("directory: persisting station cache", "error", err)
		}
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Status returns the current registration status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Message returns the free-form server message accumulated from
// " "-prefixed list entries.
func (c *Client) Message() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.message
}

// Links returns the most recently fetched link stations.
func (c *Client) Links() []Station { return c.snapshot(func() []Station { return c.links }) }

// Repeaters returns the most recently fetched repeater stations.
func (c *Client) Repeaters() []Station { return c.snapshot(func() []Station { return c.repeaters }) }

// Conferences returns the most recently fetched conference stations.
func (c *Client) Conferences() []Station {
	return c.snapshot(func() []Station { return c.conferences })
}

// Stations returns the most recently fetched simple stations.
func (c *Client) Stations() []Station { return c.snapshot(func() []Station { return c.stations }) }

func (c *Client) snapshot(get func() []Station) []Station {
	c.mu.Lock()
	defer c.mu.Unlock()
	src := get()
	out := make([]Station, len(src))
	copy(out, src)
	return out
}

// FindCall finds a station (in any class) by exact callsign.
func (c *Client) FindCall(name string) (Station, bool) {
	name = NormalizeCallsign(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, list := range [][]Station{c.links, c.repeaters, c.conferences, c.stations} {
		for _, st := range list {
			if st.Callsign == name {
				return st, true
			}
		}
	}
	return Station{}, false
}

// FindStation finds a station by its numeric station ID.
func (c *Client) FindStation(id int) (Station, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, list := range [][]Station{c.links, c.repeaters, c.conferences, c.stations} {
		for _, st := range list {
			if st.StationID == id {
				return st, true
			}
		}
	}
	return Station{}, false
}

// FindByCode finds stations whose callsign's telephone-keypad code
// matches code; exact selects exact vs prefix matching.
func (c *Client) FindByCode(code string, exact bool) []Station {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Station
	for _, list := range [][]Station{c.links, c.repeaters, c.conferences, c.stations} {
		for _, st := range list {
			if codeMatches(CallsignToCode(st.Callsign), code, exact) {
				out = append(out, st)
			}
		}
	}
	return out
}

// Close stops the refresh timer and command watchdog.
func (c *Client) Close() {
	if c.refresh != nil {
		c.refresh.Stop()
	}
	if c.watchdog != nil {
		c.watchdog.Stop()
	}
}
