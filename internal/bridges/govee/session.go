package govee

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Session timing defaults.
const (
	// DefaultConnectBackoff is the wait after a failed connect attempt.
	DefaultConnectBackoff = 2 * time.Second

	// DefaultWriteBackoff is the wait after a failed frame write.
	DefaultWriteBackoff = 1 * time.Second

	// DefaultKeepAliveInterval is the longest quiet period the light tolerates
	// before it drops the link.
	DefaultKeepAliveInterval = 1 * time.Second

	// DefaultIdleInterval bounds how long the loop sleeps with nothing to do.
	DefaultIdleInterval = 100 * time.Millisecond

	// DefaultConnectTimeout bounds a single connect attempt.
	DefaultConnectTimeout = 10 * time.Second

	// writeTimeout bounds a single frame write.
	writeTimeout = 5 * time.Second
)

// SessionOptions configures a Session.
type SessionOptions struct {
	// DeviceID is the device address in any accepted notation. Required.
	DeviceID string

	// TopicID is the address used in the state topic. Defaults to the
	// separator-free form of DeviceID.
	TopicID string

	// Model selects the payload profile. Unknown models use the basic profile.
	Model string

	// Adapter is passed to Transport.Connect as the radio hint.
	Adapter string

	// Transport opens links to the light. Required.
	Transport Transport

	// Notifier receives state-changed notifications. Optional.
	Notifier Notifier

	// Observer receives link and write events. Optional.
	Observer LinkObserver

	// Logger is optional.
	Logger Logger

	Timings
}

// Timings are the session loop intervals. Zero values take the defaults.
type Timings struct {
	ConnectTimeout    time.Duration
	ConnectBackoff    time.Duration
	WriteBackoff      time.Duration
	KeepAliveInterval time.Duration
	IdleInterval      time.Duration
}

func (o *Timings) applyDefaults() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.ConnectBackoff <= 0 {
		o.ConnectBackoff = DefaultConnectBackoff
	}
	if o.WriteBackoff <= 0 {
		o.WriteBackoff = DefaultWriteBackoff
	}
	if o.KeepAliveInterval <= 0 {
		o.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if o.IdleInterval <= 0 {
		o.IdleInterval = DefaultIdleInterval
	}
}

// Session drives one light. It owns the light's desired state and its link,
// and runs a single loop that connects, transmits changed fields in priority
// order and keeps the link alive.
//
// Setters may be called from any goroutine. Each setter bumps a per-field
// generation; the loop clears a field only when the frame it wrote carried
// the latest generation, so a change made during a write is sent again.
//
// Thread Safety: All exported methods are safe for concurrent use.
type Session struct {
	id      string
	topicID string
	model   string
	profile Profile
	opts    SessionOptions

	mu       sync.Mutex
	desired  State
	setGen   [numFields]uint64
	sentGen  [numFields]uint64
	link     LinkState
	created  time.Time
	lastSent time.Time
	closed   bool

	// Owned by the loop goroutine.
	conn          Link
	keepAliveRoll int

	wake      chan struct{}
	done      chan struct{}
	cancel    context.CancelFunc
	startOnce sync.Once
	closeOnce sync.Once

	framesSent      atomic.Uint64
	keepAlivesSent  atomic.Uint64
	writeErrors     atomic.Uint64
	connectFailures atomic.Uint64
	connects        atomic.Uint64
}

// NewSession validates the options and creates a stopped session with the
// default desired state. Call Start to begin driving the light.
func NewSession(opts SessionOptions) (*Session, error) {
	id, err := NormalizeDeviceID(opts.DeviceID)
	if err != nil {
		return nil, err
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	opts.applyDefaults()

	topicID := opts.TopicID
	if topicID == "" {
		topicID = StripDeviceID(id)
	}

	return &Session{
		id:      id,
		topicID: topicID,
		model:   opts.Model,
		profile: ProfileForModel(opts.Model),
		opts:    opts,
		desired: DefaultState(),
		created: time.Now(),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}, nil
}

// ID returns the canonical device address.
func (s *Session) ID() string { return s.id }

// TopicID returns the address used in the state topic.
func (s *Session) TopicID() string { return s.topicID }

// Profile returns the payload profile selected for the model.
func (s *Session) Profile() Profile { return s.profile }

// Start launches the session loop. Subsequent calls are no-ops.
// The loop runs until ctx is cancelled or Close is called.
func (s *Session) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		loopCtx, cancel := context.WithCancel(ctx)
		s.mu.Lock()
		s.cancel = cancel
		closed := s.closed
		s.mu.Unlock()

		if closed {
			cancel()
			close(s.done)
			return
		}
		go s.run(loopCtx)
	})
}

// Close requests the loop to stop. It does not wait; use Done or Shutdown.
// An in-flight write is allowed to finish and the link is disconnected
// before the loop exits.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		cancel := s.cancel
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
	})
}

// Done is closed when the loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Shutdown closes the session and waits for the loop to exit or ctx to end.
func (s *Session) Shutdown(ctx context.Context) error {
	s.Close()

	s.mu.Lock()
	started := s.cancel != nil
	s.mu.Unlock()
	if !started {
		return nil
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for session %s: %w", s.id, ctx.Err())
	}
}

// Restore seeds the desired state without marking any field dirty. The
// keep-alive rotation re-asserts the restored values on the light.
func (s *Session) Restore(st State) error {
	if err := validateState(st); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	st.Color.Kelvin = ClampKelvin(st.Color.Kelvin)
	s.desired = st
	return nil
}

// SetPower sets the desired power state.
func (s *Session) SetPower(on bool) error {
	return s.update(FieldPower, func(st *State) { st.Power = on })
}

// SetPowerValue sets power from its wire value: 0 is off, 1 is on.
func (s *Session) SetPowerValue(v int) error {
	if v != 0 && v != 1 {
		return fmt.Errorf("%w: power %d not in {0,1}", ErrInvalidArgument, v)
	}
	return s.SetPower(v == 1)
}

// SetBrightness sets the desired brightness as a fraction in [0,1].
func (s *Session) SetBrightness(b float64) error {
	if math.IsNaN(b) || b < 0 || b > 1 {
		return fmt.Errorf("%w: brightness %v not in [0,1]", ErrInvalidArgument, b)
	}
	return s.update(FieldBrightness, func(st *State) { st.Brightness = b })
}

// SetColorRGB switches the light to RGB mode with the given channels.
func (s *Session) SetColorRGB(r, g, b int) error {
	for _, ch := range [3]int{r, g, b} {
		if ch < 0 || ch > 255 {
			return fmt.Errorf("%w: color channel %d not in [0,255]", ErrInvalidArgument, ch)
		}
	}
	return s.update(FieldColor, func(st *State) {
		st.Color.Mode = ColorModeRGB
		st.Color.R, st.Color.G, st.Color.B = uint8(r), uint8(g), uint8(b)
	})
}

// SetColorTemperature switches the light to color temperature mode. The
// value is in mired and is converted to Kelvin, clamped to the supported range.
func (s *Session) SetColorTemperature(mired int) error {
	if mired <= 0 {
		return fmt.Errorf("%w: mired %d must be positive", ErrInvalidArgument, mired)
	}
	k := MiredToKelvin(mired)
	return s.update(FieldColor, func(st *State) {
		st.Color.Mode = ColorModeTemperature
		st.Color.Kelvin = k
	})
}

// SetSegment selects the strip segment addressed by color frames.
// -1 and 0 address all segments.
func (s *Session) SetSegment(segment int) error {
	if segment < -1 || segment > math.MaxUint16 {
		return fmt.Errorf("%w: segment %d out of range", ErrInvalidArgument, segment)
	}
	return s.update(FieldColor, func(st *State) { st.Color.Segment = segment })
}

// State returns a copy of the desired state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.desired
}

// Dirty returns the fields with unsent changes.
func (s *Session) Dirty() Fields {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirtyLocked()
}

// LinkState returns the current connection state.
func (s *Session) LinkState() LinkState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link
}

// Stats returns the session counters.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	last := s.lastSent
	s.mu.Unlock()

	return SessionStats{
		FramesSent:      s.framesSent.Load(),
		KeepAlivesSent:  s.keepAlivesSent.Load(),
		WriteErrors:     s.writeErrors.Load(),
		ConnectFailures: s.connectFailures.Load(),
		Connects:        s.connects.Load(),
		LastSent:        last,
	}
}

// Snapshot returns a consistent copy of the session for reporting.
func (s *Session) Snapshot() Snapshot {
	stats := s.Stats()

	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		DeviceID: s.id,
		TopicID:  s.topicID,
		Model:    s.model,
		Profile:  s.profile.Name(),
		State:    s.desired,
		Dirty:    s.dirtyLocked(),
		Link:     s.link,
		Stats:    stats,
	}
}

func (s *Session) update(field Field, mutate func(*State)) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	mutate(&s.desired)
	s.setGen[field]++
	s.mu.Unlock()

	s.signal()
	return nil
}

func (s *Session) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) dirtyLocked() Fields {
	var d Fields
	for f := FieldPower; f < numFields; f++ {
		if s.setGen[f] > s.sentGen[f] {
			d = d.With(f)
		}
	}
	return d
}

// run is the session loop. Each iteration does exactly one of: connect,
// send the highest-priority dirty field, send a keep-alive, or idle.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.teardown()

	s.logInfo("session started", "profile", s.profile.Name())

	for ctx.Err() == nil {
		if s.conn == nil || !s.conn.IsConnected() {
			if err := s.connect(ctx); err != nil {
				if ctx.Err() == nil {
					s.logWarn("connect failed", "error", err, "retry_in", s.opts.ConnectBackoff)
				}
				s.sleep(ctx, s.opts.ConnectBackoff)
				continue
			}
		}

		if field, ok := s.nextDirty(); ok {
			if err := s.send(ctx, field, false); err != nil {
				s.sleep(ctx, s.opts.WriteBackoff)
			}
			continue
		}

		if s.keepAliveDue() {
			field := Field(s.keepAliveRoll % numFields)
			s.keepAliveRoll++
			if err := s.send(ctx, field, true); err != nil {
				s.sleep(ctx, s.opts.WriteBackoff)
			}
			continue
		}

		s.idle(ctx)
	}
}

func (s *Session) connect(ctx context.Context) error {
	if s.conn != nil {
		s.dropLink()
	}
	s.setLink(LinkConnecting)

	connectCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()

	conn, err := s.opts.Transport.Connect(connectCtx, s.id, s.opts.Adapter)
	if err == nil && (conn == nil || !conn.IsConnected()) {
		if conn != nil {
			_ = conn.Disconnect()
		}
		err = fmt.Errorf("%w: link not up after connect", ErrConnectFailed)
	}
	if err != nil {
		s.connectFailures.Add(1)
		s.setLink(LinkDisconnected)
		if !errors.Is(err, ErrConnectFailed) {
			err = fmt.Errorf("%w: %w", ErrConnectFailed, err)
		}
		return err
	}

	s.conn = conn
	s.connects.Add(1)
	s.setLink(LinkConnected)
	s.logInfo("connected")
	return nil
}

// nextDirty returns the highest-priority dirty field.
func (s *Session) nextDirty() (Field, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for f := FieldPower; f < numFields; f++ {
		if s.setGen[f] > s.sentGen[f] {
			return f, true
		}
	}
	return 0, false
}

func (s *Session) keepAliveDue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.quietSinceLocked()) >= s.opts.KeepAliveInterval
}

// quietSinceLocked is the last successful write, or the session creation
// time before the first one.
func (s *Session) quietSinceLocked() time.Time {
	if s.lastSent.IsZero() {
		return s.created
	}
	return s.lastSent
}

// send writes the frame for field. The state snapshot and the field
// generation are read together; on success the field is marked sent up to
// that generation only.
func (s *Session) send(ctx context.Context, field Field, keepAlive bool) error {
	s.mu.Lock()
	st := s.desired
	gen := s.setGen[field]
	s.mu.Unlock()

	frame, err := s.encode(field, st)
	if err != nil {
		s.logError("encode failed", "field", field.String(), "profile", s.profile.Name(), "error", err)
		return err
	}

	// The write is not aborted by shutdown.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	err = s.conn.WriteFrame(writeCtx, frame)
	cancel()

	s.observeWrite(field, keepAlive, err)
	if err != nil {
		s.writeErrors.Add(1)
		if !errors.Is(err, ErrWriteFailed) {
			err = fmt.Errorf("%w: %w", ErrWriteFailed, err)
		}
		s.logWarn("frame write failed", "field", field.String(), "keep_alive", keepAlive, "error", err)
		s.dropLink()
		return err
	}

	now := time.Now()
	s.framesSent.Add(1)

	s.mu.Lock()
	s.lastSent = now
	if !keepAlive && gen > s.sentGen[field] {
		s.sentGen[field] = gen
	}
	s.mu.Unlock()

	if keepAlive {
		s.keepAlivesSent.Add(1)
		s.logDebug("keep-alive sent", "field", field.String())
		return nil
	}

	s.logDebug("frame sent", "command", commandName(frame.Command()), "frame", frame.String())
	if s.opts.Notifier != nil {
		s.opts.Notifier.Notify(Status{
			DeviceID:  s.id,
			TopicID:   s.topicID,
			Changed:   field,
			State:     st,
			Timestamp: now,
		})
	}
	return nil
}

// encode builds the frame for one field of st using the session profile.
func (s *Session) encode(field Field, st State) (Frame, error) {
	switch field {
	case FieldPower:
		var v byte
		if st.Power {
			v = 1
		}
		return EncodeFrame(CmdSetPower, []byte{v})
	case FieldBrightness:
		return EncodeFrame(CmdSetBrightness, s.profile.EncodeBrightness(st.Brightness))
	case FieldColor:
		return EncodeFrame(CmdSetColor, s.profile.EncodeColor(st.Color))
	default:
		return Frame{}, fmt.Errorf("%w: field %d", ErrInvalidArgument, field)
	}
}

func (s *Session) dropLink() {
	if s.conn != nil {
		if err := s.conn.Disconnect(); err != nil {
			s.logDebug("disconnect failed", "error", err)
		}
		s.conn = nil
	}
	s.setLink(LinkDisconnected)
}

func (s *Session) teardown() {
	if s.conn != nil {
		s.logInfo("disconnecting")
		s.dropLink()
	}
	s.setLink(LinkClosed)
	s.logInfo("session stopped")
}

// sleep waits for d or until ctx ends. Setter wake-ups do not shorten a backoff.
func (s *Session) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// idle waits until the next keep-alive is due, a setter wakes the loop,
// or IdleInterval passes.
func (s *Session) idle(ctx context.Context) {
	s.mu.Lock()
	wait := s.opts.KeepAliveInterval - time.Since(s.quietSinceLocked())
	s.mu.Unlock()
	if wait > s.opts.IdleInterval {
		wait = s.opts.IdleInterval
	}
	if wait <= 0 {
		return
	}

	t := time.NewTimer(wait)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-s.wake:
	case <-t.C:
	}
}

func (s *Session) setLink(state LinkState) {
	s.mu.Lock()
	changed := s.link != state
	s.link = state
	s.mu.Unlock()

	if changed && s.opts.Observer != nil {
		s.opts.Observer.LinkStateChanged(s.id, state)
	}
}

func (s *Session) observeWrite(field Field, keepAlive bool, err error) {
	if s.opts.Observer != nil {
		s.opts.Observer.FrameWritten(s.id, field, keepAlive, err)
	}
}

func validateState(st State) error {
	if math.IsNaN(st.Brightness) || st.Brightness < 0 || st.Brightness > 1 {
		return fmt.Errorf("%w: brightness %v not in [0,1]", ErrInvalidArgument, st.Brightness)
	}
	if st.Color.Segment < -1 || st.Color.Segment > math.MaxUint16 {
		return fmt.Errorf("%w: segment %d out of range", ErrInvalidArgument, st.Color.Segment)
	}
	return nil
}

func (s *Session) logInfo(msg string, keysAndValues ...any) {
	if s.opts.Logger != nil {
		s.opts.Logger.Info(msg, append([]any{"device", s.id}, keysAndValues...)...)
	}
}

func (s *Session) logWarn(msg string, keysAndValues ...any) {
	if s.opts.Logger != nil {
		s.opts.Logger.Warn(msg, append([]any{"device", s.id}, keysAndValues...)...)
	}
}

func (s *Session) logError(msg string, keysAndValues ...any) {
	if s.opts.Logger != nil {
		s.opts.Logger.Error(msg, append([]any{"device", s.id}, keysAndValues...)...)
	}
}

func (s *Session) logDebug(msg string, keysAndValues ...any) {
	if s.opts.Logger != nil {
		s.opts.Logger.Debug(msg, append([]any{"device", s.id}, keysAndValues...)...)
	}
}
