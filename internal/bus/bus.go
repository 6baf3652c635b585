// Package bus fans captured events out to every registered sink. A
// slow or failing sink never blocks the attacker-facing session and
// never affects delivery to any other sink.
package bus

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/tidelock/bittern/internal/event"
)

// Sink is one pluggable event consumer. Start is called once at
// process init, Write once per event from a dedicated worker, Stop
// once at shutdown. Write errors are caught and logged at the bus
// boundary, never propagated.
type Sink interface {
	Name() string
	Start() error
	Write(e event.Event) error
	Stop() error
}

// Emitter is implemented by sinks that must see internal diagnostic
// records. Emit bypasses the normal per-sink queue so a wedged sink
// cannot suppress crash visibility.
type Emitter interface {
	Emit(e event.Event)
}

// Options configures the bus.
type Options struct {
	// QueueSize bounds each sink's queue. When a queue is full the
	// oldest pending event is dropped and counted.
	QueueSize int
	// Strict makes a sink Start failure fatal for the whole bus
	// instead of dropping the sink from the registry.
	Strict bool
	Logger *zap.Logger
}

const defaultQueueSize = 1024

// Bus delivers every published event to each sink exactly once, in
// publish order per sink. The registry is write-once: Register before
// Start, never after.
type Bus struct {
	mu        sync.Mutex
	logger    *zap.Logger
	queueSize int
	strict    bool
	workers   []*sinkWorker
	emitters  []Emitter
	started   bool
}

// New creates an empty bus.
func New(opts Options) *Bus {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Bus{
		logger:    opts.Logger,
		queueSize: opts.QueueSize,
		strict:    opts.Strict,
	}
}

// Register adds a sink. Must be called before Start.
func (b *Bus) Register(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		panic("bus: Register after Start")
	}
	w := newSinkWorker(s, b.queueSize, b.logger)
	w.emergency = b.Emergency
	b.workers = append(b.workers, w)
}

// Start initializes every registered sink and launches its worker. A
// sink whose Start fails is either fatal (strict) or logged and
// removed; it is never left half-initialized.
func (b *Bus) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}

	kept := b.workers[:0]
	for _, w := range b.workers {
		if err := w.sink.Start(); err != nil {
			if b.strict {
				for _, started := range kept {
					started.shutdown()
				}
				return fmt.Errorf("sink %s: start: %w", w.sink.Name(), err)
			}
			b.logger.Error("sink start failed, sink disabled",
				zap.String("sink", w.sink.Name()), zap.Error(err))
			continue
		}
		go w.run()
		kept = append(kept, w)
	}
	b.workers = kept

	b.emitters = b.emitters[:0]
	for _, w := range b.workers {
		if em, ok := w.sink.(Emitter); ok {
			b.emitters = append(b.emitters, em)
		}
	}
	b.started = true
	return nil
}

// Publish hands the event to every sink queue and returns. It never
// blocks on sink I/O.
func (b *Bus) Publish(e event.Event) {
	b.mu.Lock()
	workers := b.workers
	for _, w := range workers {
		w.enqueue(e)
	}
	b.mu.Unlock()
}

// Emergency routes an internal-severity record to the emit-capable
// sinks directly, outside the queuing path.
func (b *Bus) Emergency(e event.Event) {
	b.mu.Lock()
	emitters := b.emitters
	b.mu.Unlock()

	for _, em := range emitters {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("emergency emit panicked", zap.Any("panic", r))
				}
			}()
			em.Emit(e)
		}()
	}
}

// Stop drains every queue and stops every sink.
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	workers := b.workers
	b.started = false
	b.mu.Unlock()

	for _, w := range workers {
		w.shutdown()
	}
}

// Dropped reports how many events a sink's queue has discarded under
// overflow. Zero for unknown sinks.
func (b *Bus) Dropped(name string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, w := range b.workers {
		if w.sink.Name() == name {
			return w.droppedCount()
		}
	}
	return 0
}

// sinkWorker owns one sink's bounded queue and delivery goroutine.
type sinkWorker struct {
	sink      Sink
	logger    *zap.Logger
	max       int
	emergency func(event.Event)

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []event.Event
	closed  bool
	dropped uint64

	done chan struct{}
}

func newSinkWorker(s Sink, max int, logger *zap.Logger) *sinkWorker {
	w := &sinkWorker{
		sink:   s,
		logger: logger,
		max:    max,
		done:   make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func (w *sinkWorker) enqueue(e event.Event) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	if len(w.queue) >= w.max {
		// Drop the oldest pending event rather than stall the caller.
		copy(w.queue, w.queue[1:])
		w.queue = w.queue[:len(w.queue)-1]
		w.dropped++
		if w.dropped == 1 || w.dropped%100 == 0 {
			w.logger.Warn("sink queue overflow, dropping oldest",
				zap.String("sink", w.sink.Name()), zap.Uint64("dropped", w.dropped))
		}
	}
	w.queue = append(w.queue, e)
	w.mu.Unlock()
	w.cond.Signal()
}

func (w *sinkWorker) run() {
	defer close(w.done)
	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.closed {
			w.cond.Wait()
		}
		if len(w.queue) == 0 {
			w.mu.Unlock()
			return
		}
		e := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		w.deliver(e)
	}
}

func (w *sinkWorker) deliver(e event.Event) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("sink write panicked",
				zap.String("sink", w.sink.Name()),
				zap.String("eventid", e.ID),
				zap.Any("panic", r))
			w.diagnose(e, fmt.Sprint(r))
		}
	}()
	if err := w.sink.Write(e); err != nil {
		w.logger.Error("sink write failed",
			zap.String("sink", w.sink.Name()),
			zap.String("eventid", e.ID),
			zap.Error(err))
		w.diagnose(e, err.Error())
	}
}

// diagnose records a delivery failure through the emergency path so
// the diagnostic sinks see it even when the queued path is the thing
// that broke.
func (w *sinkWorker) diagnose(e event.Event, reason string) {
	if w.emergency == nil {
		return
	}
	w.emergency(event.New(event.Internal, e.Session, map[string]any{
		"sink":    w.sink.Name(),
		"eventid": e.ID,
		"error":   reason,
	}))
}

// shutdown drains the queue, waits for the worker to exit, and stops
// the sink.
func (w *sinkWorker) shutdown() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return
	}
	w.closed = true
	w.mu.Unlock()
	w.cond.Broadcast()
	<-w.done

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("sink stop panicked",
				zap.String("sink", w.sink.Name()), zap.Any("panic", r))
		}
	}()
	if err := w.sink.Stop(); err != nil {
		w.logger.Error("sink stop failed",
			zap.String("sink", w.sink.Name()), zap.Error(err))
	}
}

func (w *sinkWorker) droppedCount() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}
