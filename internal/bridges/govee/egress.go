package govee

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// defaultStatusQueueSize bounds pending notifications.
	defaultStatusQueueSize = 64

	// sinkTimeout bounds each sink call.
	sinkTimeout = 5 * time.Second
)

// Publisher is the bus side of Egress. *mqtt.Client satisfies it via the
// bridge adapter in main.
type Publisher interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// StatusSink receives every delivered notification in addition to the bus.
type StatusSink interface {
	HandleStatus(ctx context.Context, s Status) error
}

// StatusSinkFunc adapts a function to StatusSink.
type StatusSinkFunc func(ctx context.Context, s Status) error

// HandleStatus implements StatusSink.
func (f StatusSinkFunc) HandleStatus(ctx context.Context, s Status) error { return f(ctx, s) }

// EgressOptions configures Egress.
type EgressOptions struct {
	Publisher Publisher
	Topics    Topics
	QoS       byte

	// QueueSize bounds pending notifications. Default: 64
	QueueSize int

	Logger Logger
}

// Egress turns session notifications into retained status messages and
// fans them out to sinks. Notify never blocks: when the queue is full the
// notification is dropped. A failed publish is not retried.
//
// Thread Safety: All methods are safe for concurrent use.
type Egress struct {
	publisher Publisher
	topics    Topics
	qos       byte
	logger    Logger

	queue chan Status

	sinksMu sync.RWMutex
	sinks   []StatusSink

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// NewEgress creates a stopped Egress. Call Start to begin delivery.
func NewEgress(opts EgressOptions) (*Egress, error) {
	if opts.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	size := opts.QueueSize
	if size <= 0 {
		size = defaultStatusQueueSize
	}

	return &Egress{
		publisher: opts.Publisher,
		topics:    opts.Topics,
		qos:       opts.QoS,
		logger:    opts.Logger,
		queue:     make(chan Status, size),
		done:      make(chan struct{}),
	}, nil
}

// AddSink registers an additional receiver of delivered notifications.
func (e *Egress) AddSink(sink StatusSink) {
	e.sinksMu.Lock()
	e.sinks = append(e.sinks, sink)
	e.sinksMu.Unlock()
}

// Notify implements Notifier. It enqueues s or drops it.
func (e *Egress) Notify(s Status) {
	select {
	case <-e.done:
		e.dropped.Add(1)
		return
	default:
	}

	select {
	case e.queue <- s:
	default:
		e.dropped.Add(1)
		e.logWarn("status queue full, dropping notification", "device", s.DeviceID, "field", s.Changed.String())
	}
}

// Start launches the delivery worker.
func (e *Egress) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		e.wg.Add(1)
		go e.worker(ctx)
	})
}

// Stop ends delivery. Queued notifications are discarded.
func (e *Egress) Stop() {
	e.stopOnce.Do(func() {
		close(e.done)
		e.wg.Wait()
	})
}

func (e *Egress) worker(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-e.done:
			return
		case <-ctx.Done():
			return
		case s := <-e.queue:
			e.deliver(ctx, s)
		}
	}
}

// deliver publishes one notification and hands it to the sinks.
func (e *Egress) deliver(ctx context.Context, s Status) {
	if err := e.publish(s); err != nil {
		e.failed.Add(1)
		e.logWarn("status publish failed", "device", s.DeviceID, "error", err)
	} else {
		e.published.Add(1)
	}

	e.sinksMu.RLock()
	sinks := append([]StatusSink(nil), e.sinks...)
	e.sinksMu.RUnlock()

	for _, sink := range sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, sinkTimeout)
		if err := sink.HandleStatus(sinkCtx, s); err != nil {
			e.logWarn("status sink failed", "device", s.DeviceID, "error", err)
		}
		cancel()
	}
}

func (e *Egress) publish(s Status) error {
	if !e.publisher.IsConnected() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(NewStatusMessage(s.State))
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	return e.publisher.Publish(e.topics.State(s.TopicID), payload, e.qos, true)
}

// EgressStats reports delivery counters.
type EgressStats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
}

// Stats returns the delivery counters.
func (e *Egress) Stats() EgressStats {
	return EgressStats{
		Published: e.published.Load(),
		Dropped:   e.dropped.Load(),
		Failed:    e.failed.Load(),
	}
}

func (e *Egress) logWarn(msg string, keysAndValues ...any) {
	if e.logger != nil {
		e.logger.Warn(msg, keysAndValues...)
	}
}
