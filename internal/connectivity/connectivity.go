// Package connectivity decides whether the remote API is worth trying and
// turns raw online/offline transitions into a settled "reconnected" signal.
package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// Source answers whether the device is online. An error means the source
// itself could not answer, not that the device is offline.
type Source interface {
	Online(ctx context.Context) (bool, error)
}

// DefaultProbeTimeout bounds one HTTPProbe request
const DefaultProbeTimeout = 2500 * time.Millisecond

// HTTPProbe reports online when a GET to URL answers 2xx
type HTTPProbe struct {
	URL     string
	Timeout time.Duration
	HTTP    *http.Client
}

// NewHTTPProbe creates a probe with the default timeout
func NewHTTPProbe(url string) *HTTPProbe {
	return &HTTPProbe{URL: url, Timeout: DefaultProbeTimeout, HTTP: &http.Client{}}
}

// Online implements Source. Transport failures mean offline.
func (p *HTTPProbe) Online(ctx context.Context) (bool, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return false, fmt.Errorf("probe request: %w", err)
	}
	client := p.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, nil
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

// InterfaceSource reports online when any non-loopback interface is up and
// has an address. It cannot tell a dead uplink from a live one.
type InterfaceSource struct{}

// Online implements Source
func (InterfaceSource) Online(ctx context.Context) (bool, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false, fmt.Errorf("list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err == nil && len(addrs) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// Static always reports the same state
type Static bool

// Online implements Source
func (s Static) Online(context.Context) (bool, error) { return bool(s), nil }

// Config configures a Monitor
type Config struct {
	// Primary is asked first; Fallback only when Primary errors
	Primary  Source
	Fallback Source

	// PollInterval is how often Run samples the sources
	PollInterval time.Duration

	// SettleDelay is how long the device must stay online before a
	// reconnect is announced
	SettleDelay time.Duration
}

// DefaultConfig probes url with an interface check as fallback
func DefaultConfig(probeURL string) Config {
	return Config{
		Primary:      NewHTTPProbe(probeURL),
		Fallback:     InterfaceSource{},
		PollInterval: 3 * time.Second,
		SettleDelay:  time.Second,
	}
}

// Monitor tracks the online state and notifies subscribers
type Monitor struct {
	cfg Config

	mu          sync.Mutex
	online      bool
	known       bool
	settle      *time.Timer
	settleGen   uint64
	nextID      int
	onChange    map[int]func(bool)
	onReconnect map[int]func()
}

// NewMonitor creates a monitor. The state is unknown until the first
// observation; that first observation is not a transition.
func NewMonitor(cfg Config) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = time.Second
	}
	return &Monitor{
		cfg:         cfg,
		onChange:    make(map[int]func(bool)),
		onReconnect: make(map[int]func()),
	}
}

// CurrentStatus asks the sources right now. It never fails: an erroring
// primary degrades to the fallback, and when both error the last observed
// state is returned.
func (m *Monitor) CurrentStatus(ctx context.Context) bool {
	for _, src := range []Source{m.cfg.Primary, m.cfg.Fallback} {
		if src == nil {
			continue
		}
		ok, err := src.Online(ctx)
		if err == nil {
			return ok
		}
		slog.Debug("connectivity source unavailable", "source", fmt.Sprintf("%T", src), "err", err)
	}
	return m.Online()
}

// Online returns the last observed state without probing
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnChange registers fn for every transition
func (m *Monitor) OnChange(fn func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.onChange[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.onChange, id)
		m.mu.Unlock()
	}
}

// OnReconnect registers fn for settled offline-to-online transitions
func (m *Monitor) OnReconnect(fn func()) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.onReconnect[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.onReconnect, id)
		m.mu.Unlock()
	}
}

// Observe feeds one sample. Repeated samples of the same state are ignored.
func (m *Monitor) Observe(online bool) {
	m.mu.Lock()
	if m.known && m.online == online {
		m.mu.Unlock()
		return
	}
	wasKnown := m.known
	m.online = online
	m.known = true

	if m.settle != nil {
		m.settle.Stop()
		m.settle = nil
	}
	m.settleGen++
	if online && wasKnown {
		gen := m.settleGen
		m.settle = time.AfterFunc(m.cfg.SettleDelay, func() { m.fireReconnect(gen) })
	}

	var subs []func(bool)
	if wasKnown {
		for _, fn := range m.onChange {
			subs = append(subs, fn)
		}
	}
	m.mu.Unlock()

	if wasKnown {
		slog.Info("connectivity changed", "online", online)
	}
	for _, fn := range subs {
		fn(online)
	}
}

func (m *Monitor) fireReconnect(gen uint64) {
	m.mu.Lock()
	if gen != m.settleGen || !m.online {
		m.mu.Unlock()
		return
	}
	m.settle = nil
	subs := make([]func(), 0, len(m.onReconnect))
	for _, fn := range m.onReconnect {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	slog.Debug("reconnected", "settle", m.cfg.SettleDelay)
	for _, fn := range subs {
		fn()
	}
}

// Run samples the sources every PollInterval until ctx is done
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	m.Observe(m.CurrentStatus(ctx))
	for {
		select {
		case <-ctx.Done():
			m.Stop()
			return
		case <-ticker.C:
			m.Observe(m.CurrentStatus(ctx))
		}
	}
}

// Stop cancels a pending reconnect announcement
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settle != nil {
		m.settle.Stop()
		m.settle = nil
	}
	m.settleGen++
}
