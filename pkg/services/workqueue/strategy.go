package workqueue

import "sync"

// ConcurrencyStrategy controls how tasks are allowed to start concurrently.
// Ground motion tasks hold the fields of a whole rupture block in memory and
// are accounted separately from hazard curve tasks.
type ConcurrencyStrategy interface {
	// CanStart returns true if a task of the given kind can start now.
	CanStart(gmf bool) bool
	// OnStart is called when a task of the given kind starts.
	OnStart(gmf bool)
	// OnComplete is called when a task of the given kind ends.
	OnComplete(gmf bool)
}

// limiter counts running tasks against a bound; max <= 0 means unbounded.
type limiter struct {
	max     int
	running int
}

func (l *limiter) canStart() bool {
	return l.max <= 0 || l.running < l.max
}

func (l *limiter) start() {
	l.running++
}

func (l *limiter) complete() {
	if l.running > 0 {
		l.running--
	}
}

// boundedStrategy applies one limiter per task kind.
type boundedStrategy struct {
	mu    sync.Mutex
	gmf   limiter
	curve limiter
}

func (s *boundedStrategy) limiterFor(gmf bool) *limiter {
	if gmf {
		return &s.gmf
	}
	return &s.curve
}

func (s *boundedStrategy) CanStart(gmf bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limiterFor(gmf).canStart()
}

func (s *boundedStrategy) OnStart(gmf bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limiterFor(gmf).start()
}

func (s *boundedStrategy) OnComplete(gmf bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limiterFor(gmf).complete()
}

// SerializedStrategy runs one ground motion task and one curve task at a
// time. A ground motion task and a curve task can run in parallel.
type SerializedStrategy struct {
	boundedStrategy
}

// NewSerializedStrategy creates the default strategy.
func NewSerializedStrategy() *SerializedStrategy {
	return &SerializedStrategy{boundedStrategy{gmf: limiter{max: 1}, curve: limiter{max: 1}}}
}

// ParallelGMFStrategy allows unlimited parallel ground motion tasks.
// Curve tasks are still serialized.
type ParallelGMFStrategy struct {
	boundedStrategy
}

// NewParallelGMFStrategy creates a strategy without a bound on ground motion
// tasks.
func NewParallelGMFStrategy() *ParallelGMFStrategy {
	return &ParallelGMFStrategy{boundedStrategy{curve: limiter{max: 1}}}
}

// ThrottledGMFStrategy allows up to maxGMF ground motion tasks and up to
// maxCurve curve tasks to run in parallel.
type ThrottledGMFStrategy struct {
	boundedStrategy
}

// NewThrottledGMFStrategy creates a strategy with explicit bounds. Bounds
// below 1 are raised to 1.
func NewThrottledGMFStrategy(maxGMF, maxCurve int) *ThrottledGMFStrategy {
	return &ThrottledGMFStrategy{boundedStrategy{
		gmf:   limiter{max: max(maxGMF, 1)},
		curve: limiter{max: max(maxCurve, 1)},
	}}
}
