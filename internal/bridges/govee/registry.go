package govee

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// StateLoader returns the last persisted desired state of a light.
// found is false for a light that has never been stored.
type StateLoader interface {
	LoadState(ctx context.Context, deviceID string) (st State, found bool, err error)
}

// RegistryOptions configures a Registry. Every session it creates shares
// these collaborators.
type RegistryOptions struct {
	// Transport opens links for every session. Required.
	Transport Transport

	// Adapter is the radio hint passed to every connect.
	Adapter string

	// Models maps canonical device ids to model strings for lights whose
	// commands do not carry a model.
	Models map[string]string

	Notifier Notifier
	Observer LinkObserver

	// Store seeds new sessions with persisted state. Optional.
	Store StateLoader

	Logger Logger

	Timings Timings
}

// Registry maps canonical device ids to sessions and creates sessions on
// first reference. Session loops are bound to the registry lifetime, not to
// the context of the call that created them.
//
// Thread Safety: All methods are safe for concurrent use.
type Registry struct {
	opts RegistryOptions

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewRegistry creates an empty registry.
func NewRegistry(opts RegistryOptions) (*Registry, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}

	models := make(map[string]string, len(opts.Models))
	for id, model := range opts.Models {
		canonical, err := NormalizeDeviceID(id)
		if err != nil {
			return nil, fmt.Errorf("model mapping: %w", err)
		}
		models[canonical] = model
	}
	opts.Models = models

	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}, nil
}

// GetOrCreate returns the session for deviceID, creating and starting it if
// none exists. deviceID may use any accepted notation; the notation of the
// first call fixes the session's state topic id. model overrides the
// configured model for a new session and is ignored for an existing one.
//
// At most one session is ever started per canonical id. The persisted
// state is loaded without holding the registry lock.
func (r *Registry) GetOrCreate(ctx context.Context, deviceID, model string) (*Session, error) {
	id, err := NormalizeDeviceID(deviceID)
	if err != nil {
		return nil, err
	}

	if s, err := r.lookup(id); s != nil || err != nil {
		return s, err
	}

	if model == "" {
		model = r.opts.Models[id]
	}

	s, err := NewSession(SessionOptions{
		DeviceID:  id,
		TopicID:   TopicDeviceID(deviceID),
		Model:     model,
		Adapter:   r.opts.Adapter,
		Transport: r.opts.Transport,
		Notifier:  r.opts.Notifier,
		Observer:  r.opts.Observer,
		Logger:    r.opts.Logger,
		Timings:   r.opts.Timings,
	})
	if err != nil {
		return nil, err
	}

	r.restore(ctx, s)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrSessionClosed
	}
	// Another caller won the race; the unstarted session is dropped.
	if existing, ok := r.sessions[id]; ok {
		return existing, nil
	}

	r.sessions[id] = s
	s.Start(r.ctx)

	r.logInfo("session created", "device", id, "model", model, "profile", s.Profile().Name())
	return s, nil
}

// lookup returns the existing session for a canonical id, or nil.
func (r *Registry) lookup(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrSessionClosed
	}
	return r.sessions[id], nil
}

// restore seeds s from the store. A failed load leaves the default state.
func (r *Registry) restore(ctx context.Context, s *Session) {
	if r.opts.Store == nil {
		return
	}

	st, found, err := r.opts.Store.LoadState(ctx, s.ID())
	if err != nil {
		r.logWarn("loading persisted state failed", "device", s.ID(), "error", err)
		return
	}
	if !found {
		return
	}
	if err := s.Restore(st); err != nil {
		r.logWarn("persisted state rejected", "device", s.ID(), "error", err)
	}
}

// Get returns the session for deviceID without creating one.
func (r *Registry) Get(deviceID string) (*Session, error) {
	id, err := NormalizeDeviceID(deviceID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	return s, nil
}

// List returns all sessions ordered by device id.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close stops and removes one session, waiting for its loop within ctx.
func (r *Registry) Close(ctx context.Context, deviceID string) error {
	id, err := NormalizeDeviceID(deviceID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	return s.Shutdown(ctx)
}

// CloseAll stops every session and waits, bounded by ctx, for their loops
// to exit. The registry rejects new sessions afterwards.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	r.cancel()

	var errs []error
	for _, s := range sessions {
		if err := s.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	r.logInfo("sessions closed", "count", len(sessions), "timed_out", len(errs))
	return errors.Join(errs...)
}

func (r *Registry) logInfo(msg string, keysAndValues ...any) {
	if r.opts.Logger != nil {
		r.opts.Logger.Info(msg, keysAndValues...)
	}
}

func (r *Registry) logWarn(msg string, keysAndValues ...any) {
	if r.opts.Logger != nil {
		r.opts.Logger.Warn(msg, keysAndValues...)
	}
}
