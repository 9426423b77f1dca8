package offline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// State is a step of the manager lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateInstalling
	StateWaiting
	StateActivating
	StateActive
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInstalling:
		return "installing"
	case StateWaiting:
		return "waiting"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrInstallInProgress is returned when Install is called while another install runs.
	ErrInstallInProgress = errors.New("install already in progress")
	// ErrNotInstalled is returned when Activate runs before a successful Install.
	ErrNotInstalled = errors.New("cache generation not installed")
)

// Manager owns the lifecycle of one cache generation:
// UNINITIALIZED -> INSTALLING -> WAITING -> ACTIVATING -> ACTIVE.
//
// Install, Activate and Fetch never hold the manager lock across network or
// store I/O, so a fetch never waits on an install in progress.
type Manager struct {
	store    CacheStore
	network  Fetcher
	manifest Manifest
	logger   *slog.Logger

	mu          sync.RWMutex
	state       State
	active      string            // generation serving fetches, "" before first activation
	skipWaiting bool              // set by a successful install
	clients     map[string]string // client id -> controlling generation
}

// NewManager returns a manager for manifest. The manifest is expected to be valid.
func NewManager(store CacheStore, network Fetcher, manifest Manifest, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:    store,
		network:  network,
		manifest: manifest,
		logger:   logger.With("generation", manifest.Generation),
		clients:  make(map[string]string),
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Generation is the generation this manager installs.
func (m *Manager) Generation() string {
	return m.manifest.Generation
}

// Manifest returns a copy of the manifest.
func (m *Manager) Manifest() Manifest {
	return Manifest{Generation: m.manifest.Generation, URLs: append([]string(nil), m.manifest.URLs...)}
}

// Active returns the generation currently serving fetches.
func (m *Manager) Active() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// SkipWaiting reports whether a successful install asked to supersede any
// waiting instance immediately.
func (m *Manager) SkipWaiting() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.skipWaiting
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Install opens the generation and fetches and stores every manifest URL. Any
// failed or non-2xx fetch fails the install; entries already stored are kept
// and the manager returns to UNINITIALIZED so Install can be retried.
func (m *Manager) Install(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateInstalling {
		m.mu.Unlock()
		return ErrInstallInProgress
	}
	previous := m.state
	m.state = StateInstalling
	m.mu.Unlock()

	fail := func(err error) error {
		m.logger.Error("install failed", "error", err)
		next := StateUninitialized
		if previous == StateActive {
			// The previous generation keeps serving.
			next = StateActive
		}
		m.setState(next)
		return err
	}

	gen := m.manifest.Generation
	if err := m.store.Open(gen); err != nil {
		return fail(fmt.Errorf("open cache %s: %w", gen, err))
	}
	for _, url := range m.manifest.URLs {
		resp, err := m.network.Fetch(ctx, url)
		if err != nil {
			return fail(fmt.Errorf("precache %s: %w", url, err))
		}
		if resp.Status < 200 || resp.Status > 299 {
			return fail(fmt.Errorf("precache %s: status %d", url, resp.Status))
		}
		if err := m.store.Put(gen, url, resp); err != nil {
			return fail(fmt.Errorf("store %s: %w", url, err))
		}
	}

	m.mu.Lock()
	m.state = StateWaiting
	m.skipWaiting = true
	m.mu.Unlock()
	m.logger.Info("cache generation installed", "urls", len(m.manifest.URLs))
	return nil
}

// Activate deletes every generation other than this manager's, makes it the
// active generation, and claims all registered clients. Running it again
// without an intervening install deletes nothing and claims nothing new.
func (m *Manager) Activate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.state != StateWaiting && m.state != StateActive {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrNotInstalled, state)
	}
	previous := m.state
	m.state = StateActivating
	m.mu.Unlock()

	gen := m.manifest.Generation
	names, err := m.store.Keys()
	if err != nil {
		m.setState(previous)
		return fmt.Errorf("list cache generations: %w", err)
	}
	for _, name := range names {
		if name == gen {
			continue
		}
		if _, err := m.store.Delete(name); err != nil {
			m.setState(previous)
			return fmt.Errorf("delete stale generation %s: %w", name, err)
		}
		m.logger.Info("deleted stale cache generation", "stale", name)
	}

	m.mu.Lock()
	m.active = gen
	m.state = StateActive
	claimed := 0
	for id, controller := range m.clients {
		if controller != gen {
			m.clients[id] = gen
			claimed++
		}
	}
	m.mu.Unlock()
	m.logger.Info("cache generation active", "claimed_clients", claimed)
	return nil
}

// Start runs install followed by an immediate activation. Install failures
// are logged and swallowed: uncached resources fall through to the network.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.Install(ctx); err != nil {
		return nil // logged by Install
	}
	if !m.SkipWaiting() {
		return nil
	}
	return m.Activate(ctx)
}

// RegisterClient records an open client context and returns the generation
// controlling it ("" until a generation is active).
func (m *Manager) RegisterClient(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if controller, ok := m.clients[id]; ok {
		return controller
	}
	m.clients[id] = m.active
	return m.active
}

// Controller returns the generation controlling client id.
func (m *Manager) Controller(id string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	controller, ok := m.clients[id]
	return controller, ok
}

// Lookup returns the active generation's entry for url, without touching the network.
func (m *Manager) Lookup(url string) (Response, bool) {
	active := m.Active()
	if active == "" {
		return Response{}, false
	}
	resp, ok, err := m.store.Match(active, url)
	if err != nil {
		m.logger.Warn("cache match failed", "url", url, "error", err)
		return Response{}, false
	}
	return resp, ok
}

// Fetch resolves url cache-first: a hit in the active generation is returned
// verbatim with no freshness check; a miss goes to the network and the
// network response is returned uncached.
func (m *Manager) Fetch(ctx context.Context, url string) (Response, error) {
	if resp, ok := m.Lookup(url); ok {
		return resp, nil
	}
	return m.network.Fetch(ctx, url)
}
