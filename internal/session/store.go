// Package session persists checkout form progress: the current step, the
// accumulated form data and the checkout it belongs to.
//
// A Store is constructed per checkout and passed to the components that
// need it. Every mutation is written through to the backing storage.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukerupert/checkout-embed/internal/crypto"
	"github.com/dukerupert/checkout-embed/internal/domain"
	"github.com/dukerupert/checkout-embed/internal/storage"
)

// Key returns the storage key for a checkout's progress.
func Key(checkoutID string) string {
	return "checkout:" + checkoutID
}

// Store holds the progress of one checkout.
type Store struct {
	storage    storage.Storage
	sealer     crypto.Sealer
	logger     *slog.Logger
	checkoutID string
	key        string

	// writeMu serializes writes so storage sees mutations in order.
	writeMu sync.Mutex
	mu      sync.RWMutex
	state   State
}

// Option configures a Store.
type Option func(*Store)

// WithSealer encrypts payloads before they reach storage.
func WithSealer(s crypto.Sealer) Option {
	return func(st *Store) { st.sealer = s }
}

// WithLogger sets the logger used for discard and migration notices.
func WithLogger(l *slog.Logger) Option {
	return func(st *Store) { st.logger = l }
}

// New creates a Store for checkoutID in its initial state. Call Load to
// restore persisted progress.
func New(s storage.Storage, checkoutID string, opts ...Option) *Store {
	st := &Store{
		storage:    s,
		logger:     slog.Default(),
		checkoutID: checkoutID,
		key:        Key(checkoutID),
	}
	for _, opt := range opts {
		opt(st)
	}
	st.state = st.fresh()
	st.logger = st.logger.With(slog.String("checkout_id", checkoutID))
	return st
}

func (s *Store) fresh() State {
	return State{Step: domain.StepCustomer, CheckoutID: s.checkoutID}
}

// CheckoutID returns the checkout this store belongs to.
func (s *Store) CheckoutID() string {
	return s.checkoutID
}

// Load restores persisted progress. Missing, corrupt, unsupported or
// foreign payloads leave the store in its initial state; corrupt and
// foreign payloads are also deleted. An error is returned only when the
// storage itself fails, in which case the store is still usable.
func (s *Store) Load(ctx context.Context) error {
	data, err := s.storage.Get(ctx, s.key)
	if errors.Is(err, storage.ErrNotFound) {
		s.replace(s.fresh())
		return nil
	}
	if err != nil {
		s.replace(s.fresh())
		return fmt.Errorf("load checkout state: %w", err)
	}

	st, err := s.unmarshal(data)
	if err != nil {
		s.discard(ctx, "unreadable state", err)
		return nil
	}
	if st.CheckoutID != s.checkoutID {
		s.discard(ctx, "state belongs to another checkout", fmt.Errorf("stored checkout %q", st.CheckoutID))
		return nil
	}
	if !st.Step.Valid() {
		st.Step = domain.StepCustomer
	}

	s.replace(st)
	return nil
}

func (s *Store) unmarshal(data []byte) (State, error) {
	if s.sealer != nil {
		plain, err := s.sealer.Open(data, []byte(s.key))
		if err == nil {
			return decode(plain)
		}
		// Payloads written before sealing was enabled are plain JSON.
		if !bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
			return State{}, err
		}
	}
	return decode(data)
}

func (s *Store) discard(ctx context.Context, reason string, cause error) {
	s.logger.Warn("discarding persisted checkout state",
		slog.String("reason", reason),
		slog.String("error", cause.Error()),
	)
	s.replace(s.fresh())
	if err := s.storage.Delete(ctx, s.key); err != nil {
		s.logger.Warn("failed to delete discarded checkout state", slog.String("error", err.Error()))
	}
}

func (s *Store) replace(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// State returns a copy of the current progress.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state
	st.FormData = s.state.FormData.Clone()
	return st
}

// Step returns the current step.
func (s *Store) Step() domain.Step {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Step
}

// FormData returns a copy of the current form data.
func (s *Store) FormData() domain.FormData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.FormData.Clone()
}

// SetFormData replaces the form data and persists.
func (s *Store) SetFormData(ctx context.Context, fd domain.FormData) error {
	return s.mutate(ctx, func(st *State) { st.FormData = fd.Clone() })
}

// UpdateFormData applies fn to the form data and persists.
func (s *Store) UpdateFormData(ctx context.Context, fn func(fd *domain.FormData)) error {
	return s.mutate(ctx, func(st *State) { fn(&st.FormData) })
}

// SetStep sets the current step and persists.
func (s *Store) SetStep(ctx context.Context, step domain.Step) error {
	if !step.Valid() {
		return domain.Errorf(domain.EINVALID, "session.set_step", "unknown step: %q", step)
	}
	return s.mutate(ctx, func(st *State) { st.Step = step })
}

// Reset returns to the customer step. When keepCustomer is set the customer
// contact data survives so a returning shopper does not retype it.
func (s *Store) Reset(ctx context.Context, keepCustomer bool) error {
	return s.mutate(ctx, func(st *State) {
		fd := domain.FormData{}
		if keepCustomer {
			fd = st.FormData.CustomerOnly()
		}
		*st = s.fresh()
		st.FormData = fd
	})
}

// mutate applies fn under the lock and writes the result through. The
// in-memory state is updated even when the write fails.
func (s *Store) mutate(ctx context.Context, fn func(st *State)) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	fn(&s.state)
	snapshot := s.state
	snapshot.FormData = s.state.FormData.Clone()
	s.mu.Unlock()

	return s.save(ctx, snapshot)
}

func (s *Store) save(ctx context.Context, st State) error {
	data, err := encode(st)
	if err != nil {
		return err
	}
	if s.sealer != nil {
		data, err = s.sealer.Seal(data, []byte(s.key))
		if err != nil {
			return fmt.Errorf("seal checkout state: %w", err)
		}
	}
	if err := s.storage.Put(ctx, s.key, data); err != nil {
		return fmt.Errorf("save checkout state: %w", err)
	}
	return nil
}
