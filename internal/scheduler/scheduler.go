// Package scheduler drives the capture → extract → resolve → publish loop.
//
// Ticks fire at a fixed interval. At most one pipeline runs at a time; a tick
// that fires while one is still running is dropped, never queued. Stop never
// interrupts an extraction but guarantees that once it returns no pipeline
// will touch the registry or publish again.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/andresmejia3/cymatic/internal/types"
)

// DefaultInterval is the capture cadence.
const DefaultInterval = 500 * time.Millisecond

// ErrAlreadyStarted is returned by Start on a running scheduler.
var ErrAlreadyStarted = errors.New("scheduler already started")

// FrameSource provides the most recent camera frame.
type FrameSource interface {
	Latest() (types.FrameTask, bool)
}

// Extractor turns a frame into at most one face descriptor.
// found=false means no face was detected.
type Extractor interface {
	Extract(ctx context.Context, frame []byte) (d types.Descriptor, found bool, err error)
}

// Resolver is the registry's write path.
type Resolver interface {
	Resolve(d types.Descriptor, screenshot []byte) types.TickOutcome
}

// Learner appends a matched descriptor to the identity it matched.
type Learner interface {
	AddDescriptor(id string, d types.Descriptor) bool
}

// Describer turns an outcome into the result handed to subscribers.
type Describer interface {
	Publish(outcome types.TickOutcome) types.Published
}

// Subscriber receives every published result. Notify runs on the pipeline
// goroutine and must not block.
type Subscriber interface {
	Notify(p types.Published)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(p types.Published)

func (f SubscriberFunc) Notify(p types.Published) { f(p) }

// Config is the configuration for a Scheduler.
type Config struct {
	Interval    time.Duration
	Frames      FrameSource
	Extractor   Extractor
	Registry    Resolver
	Describer   Describer
	Learner     Learner // optional, nil keeps faces at their first descriptor
	Subscribers []Subscriber
	Logger      *zap.Logger
}

// Stats is a snapshot of scheduler counters.
type Stats struct {
	Ticks     uint64 // ticks that fired
	Started   uint64 // pipelines started
	Completed uint64 // pipelines that published a result
	Dropped   uint64 // ticks dropped because a pipeline was in flight
	NoFace    uint64 // pipelines that ended without a face (including missing frames)
	Failures  uint64 // extractor errors
	Discarded uint64 // pipelines whose result was thrown away after Stop
}

// Scheduler owns the capture loop.
type Scheduler struct {
	config Config
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	base    context.Context
	loop    sync.WaitGroup

	// effects guards the mutate-and-publish section against Stop.
	effects    sync.RWMutex
	generation uint64 // bumped by Stop, read under effects

	inFlight  atomic.Bool
	pipelines sync.WaitGroup

	last    atomic.Pointer[types.Published]
	tickSeq atomic.Uint64

	ticks, started, completed, dropped atomic.Uint64
	noFace, failures, discarded       atomic.Uint64
}

// New validates c and returns a stopped scheduler.
func New(c Config) (*Scheduler, error) {
	if c.Frames == nil || c.Extractor == nil || c.Registry == nil || c.Describer == nil {
		return nil, errors.New("scheduler: frames, extractor, registry and describer are required")
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return &Scheduler{config: c, logger: c.Logger}, nil
}

// Start begins issuing ticks. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyStarted
	}

	// Extraction is non-interruptible: pipelines get a context that
	// outlives Stop, and Stop suppresses their effects instead.
	s.base = context.WithoutCancel(ctx)

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.loop.Add(1)
	go s.run(loopCtx)

	s.logger.Info("capture scheduler started", zap.Duration("interval", s.config.Interval))
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.loop.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick fires one tick. It reports whether a pipeline was started; false means
// the scheduler is stopped or the tick was dropped.
func (s *Scheduler) Tick() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return false
	}
	s.ticks.Add(1)

	if !s.inFlight.CompareAndSwap(false, true) {
		s.dropped.Add(1)
		s.logger.Debug("tick dropped, pipeline still in flight")
		return false
	}

	s.effects.RLock()
	gen := s.generation
	s.effects.RUnlock()

	s.started.Add(1)
	s.pipelines.Add(1)
	go s.pipeline(s.base, gen)
	return true
}

func (s *Scheduler) pipeline(ctx context.Context, gen uint64) {
	defer s.pipelines.Done()
	defer s.inFlight.Store(false)

	frame, ok := s.config.Frames.Latest()
	if !ok {
		s.noFace.Add(1)
		return
	}

	d, found, err := s.config.Extractor.Extract(ctx, frame.Data)
	if err != nil {
		s.failures.Add(1)
		s.logger.Warn("descriptor extraction failed, treating as no face",
			zap.Int("frame", frame.Index),
			zap.Error(err),
		)
		return
	}
	if !found {
		s.noFace.Add(1)
		return
	}

	s.effects.RLock()
	defer s.effects.RUnlock()

	if gen != s.generation {
		s.discarded.Add(1)
		s.logger.Debug("pipeline finished after stop, result discarded", zap.Int("frame", frame.Index))
		return
	}

	outcome := s.config.Registry.Resolve(d, frame.Data)
	if outcome.Kind == types.Matched && s.config.Learner != nil {
		s.config.Learner.AddDescriptor(outcome.ID, d)
	}
	p := s.config.Describer.Publish(outcome)
	p.Tick = s.tickSeq.Add(1)
	p.EmittedAt = time.Now()

	s.last.Store(&p)
	for _, sub := range s.config.Subscribers {
		sub.Notify(p)
	}
	s.completed.Add(1)

	s.logger.Debug("tick published",
		zap.Uint64("tick", p.Tick),
		zap.String("outcome", p.Outcome),
		zap.Float64p("distance", p.Distance),
	)
}

// Stop halts future ticks and suppresses the effects of any in-flight
// pipeline. It does not wait for the extractor. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	// Waits for a pipeline that is already mutating/publishing; extraction
	// itself runs outside this lock.
	s.effects.Lock()
	s.generation++
	s.effects.Unlock()

	s.loop.Wait()
	s.logger.Info("capture scheduler stopped")
}

// Wait blocks until the in-flight pipeline, if any, has returned.
// Call it after Stop; it does not prevent new pipelines from starting.
func (s *Scheduler) Wait() {
	s.pipelines.Wait()
}

// Last returns the most recently published result. Ticks without a face
// leave it unchanged.
func (s *Scheduler) Last() (types.Published, bool) {
	p := s.last.Load()
	if p == nil {
		return types.Published{}, false
	}
	return *p, true
}

// InFlight reports whether a pipeline is currently running.
func (s *Scheduler) InFlight() bool {
	return s.inFlight.Load()
}

// Stats returns a snapshot of the counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Ticks:     s.ticks.Load(),
		Started:   s.started.Load(),
		Completed: s.completed.Load(),
		Dropped:   s.dropped.Load(),
		NoFace:    s.noFace.Load(),
		Failures:  s.failures.Load(),
		Discarded: s.discarded.Load(),
	}
}
