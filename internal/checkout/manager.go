package checkout

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/checkout-embed/internal/domain"
)

// Factory builds an unloaded orchestrator for a checkout.
type Factory func(checkoutID, clientSecret string) (*Orchestrator, error)

// Manager holds the open orchestrators, one per checkout ID.
type Manager struct {
	factory Factory
	logger  *slog.Logger
	// ctx bounds the background work of every orchestrator.
	ctx      context.Context
	onChange func(open int)

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	orch   *Orchestrator
	secret string
}

// NewManager creates a manager. Orchestrators it opens run their
// background revalidation until ctx is done or they are closed. onChange,
// if non-nil, receives the number of open checkouts after every change.
func NewManager(ctx context.Context, factory Factory, logger *slog.Logger, onChange func(open int)) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		factory:  factory,
		logger:   logger,
		ctx:      ctx,
		onChange: onChange,
		entries:  make(map[string]*entry),
	}
}

// Open returns the orchestrator for checkoutID, loading a new one when none
// is open. The client secret must match the one the checkout was opened
// with.
func (m *Manager) Open(ctx context.Context, checkoutID, clientSecret string) (*Orchestrator, error) {
	const op = "checkout.open"

	if o, err := m.Get(checkoutID, clientSecret); err == nil {
		return o, nil
	} else if !domain.IsCode(err, domain.ENOTFOUND) {
		return nil, err
	}

	o, err := m.factory(checkoutID, clientSecret)
	if err != nil {
		return nil, err
	}
	if err := o.Load(ctx); err != nil {
		o.Close()
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.entries[checkoutID]; ok {
		// Another request opened it while this one was loading.
		m.mu.Unlock()
		o.Close()
		if !secretsEqual(existing.secret, clientSecret) {
			return nil, domain.Unauthorized(op, "client secret does not match checkout")
		}
		return existing.orch, nil
	}
	m.entries[checkoutID] = &entry{orch: o, secret: clientSecret}
	n := len(m.entries)
	m.mu.Unlock()

	o.Start(m.ctx)
	m.changed(n)
	m.logger.Debug("checkout opened", slog.String("checkout_id", checkoutID))
	return o, nil
}

// Get returns an open orchestrator. It fails with ENOTFOUND when the
// checkout is not open and EUNAUTHORIZED when the secret does not match.
func (m *Manager) Get(checkoutID, clientSecret string) (*Orchestrator, error) {
	const op = "checkout.get"

	m.mu.Lock()
	e, ok := m.entries[checkoutID]
	m.mu.Unlock()

	if !ok {
		return nil, domain.NotFound(op, "checkout", checkoutID)
	}
	if !secretsEqual(e.secret, clientSecret) {
		return nil, domain.Unauthorized(op, "client secret does not match checkout")
	}
	return e.orch, nil
}

// Close closes and forgets the orchestrator for checkoutID.
func (m *Manager) Close(checkoutID string) {
	m.mu.Lock()
	e, ok := m.entries[checkoutID]
	delete(m.entries, checkoutID)
	n := len(m.entries)
	m.mu.Unlock()

	if !ok {
		return
	}
	e.orch.Close()
	m.changed(n)
}

// Sweep closes orchestrators idle for longer than idle and returns how many
// were closed.
func (m *Manager) Sweep(now time.Time, idle time.Duration) int {
	var stale []*Orchestrator

	m.mu.Lock()
	for id, e := range m.entries {
		if now.Sub(e.orch.IdleSince()) > idle {
			stale = append(stale, e.orch)
			delete(m.entries, id)
		}
	}
	n := len(m.entries)
	m.mu.Unlock()

	for _, o := range stale {
		o.Close()
	}
	if len(stale) > 0 {
		m.changed(n)
		m.logger.Info("closed idle checkouts", slog.Int("count", len(stale)))
	}
	return len(stale)
}

// RunSweeper sweeps idle orchestrators every interval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Sweep(now, idle)
		}
	}
}

// Shutdown closes every orchestrator.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	entries := m.entries
	m.entries = make(map[string]*entry)
	m.mu.Unlock()

	for _, e := range entries {
		e.orch.Close()
	}
	m.changed(0)
}

// Len returns the number of open orchestrators.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Manager) changed(n int) {
	if m.onChange != nil {
		m.onChange(n)
	}
}

func secretsEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
