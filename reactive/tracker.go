package reactive

import (
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"
)

// Effect is a re-runnable unit of work registered under the scope paths it
// read while it was being recorded.
type Effect struct {
	ID   uint64
	Name string
	fn   func() error
}

func (e *Effect) Run() error {
	return e.fn()
}

// Observer is notified about tracker activity. Implementations must not call
// back into the tracker.
type Observer interface {
	Registered(path string)
	Written(path string)
	Flushed(paths, effects int, elapsed time.Duration)
}

type Option func(*Tracker)

// WithDedupe makes a flush run each effect at most once, even when it is
// registered under several pending paths.
func WithDedupe(dedupe bool) Option {
	return func(t *Tracker) { t.dedupe = dedupe }
}

func WithObserver(o Observer) Option {
	return func(t *Tracker) { t.observer = o }
}

func WithLogger(logger *zap.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// Tracker maps scope paths to the effects that read them and replays those
// effects when the paths are written.
type Tracker struct {
	reactive     bool
	initializing bool
	current      *Effect

	effects map[string][]*Effect
	paths   []string

	pending    []string
	pendingSet map[string]struct{}
	flushing   bool

	dedupe   bool
	nextID   uint64
	observer Observer
	logger   *zap.Logger
}

// NewTracker returns a tracker in its initializing phase. A non reactive
// tracker never records reads nor queues writes.
func NewTracker(reactive bool, opts ...Option) *Tracker {
	t := &Tracker{
		reactive:     reactive,
		initializing: reactive,
		effects:      map[string][]*Effect{},
		pendingSet:   map[string]struct{}{},
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) Reactive() bool     { return t.reactive }
func (t *Tracker) Initializing() bool { return t.initializing }

// Done ends the initializing phase. Dependency sets are fixed from here on.
func (t *Tracker) Done() {
	t.initializing = false
}

func (t *Tracker) NewEffect(name string, fn func() error) *Effect {
	t.nextID++
	return &Effect{ID: t.nextID, Name: name, fn: fn}
}

// Record runs e with every tracked read attributed to it. Outside the
// initializing phase it simply runs e.
func (t *Tracker) Record(e *Effect) error {
	if !t.initializing {
		return e.Run()
	}
	prev := t.current
	t.current = e
	defer func() { t.current = prev }()
	return e.Run()
}

func (t *Tracker) track(path string) {
	if !t.initializing || t.current == nil {
		return
	}
	list, ok := t.effects[path]
	if !ok {
		t.paths = append(t.paths, path)
	}
	if n := len(list); n > 0 && list[n-1] == t.current {
		return
	}
	t.effects[path] = append(list, t.current)
	if t.observer != nil {
		t.observer.Registered(path)
	}
}

func (t *Tracker) write(path string) {
	if !t.reactive {
		return
	}
	if _, ok := t.pendingSet[path]; !ok {
		t.pendingSet[path] = struct{}{}
		t.pending = append(t.pending, path)
	}
	if t.observer != nil {
		t.observer.Written(path)
	}
}

// Flush replays the effects registered under every pending path, in write
// order and registration order, then clears the pending set. Paths written
// by those effects are visited in the same flush unless already visited.
// Calling Flush while a flush is running is a no-op. Replayed effects never
// record, even when Flush is called from inside Record. If an effect fails
// the pending paths are kept for the next flush.
func (t *Tracker) Flush() (err error) {
	if !t.reactive || len(t.pending) == 0 || t.flushing {
		return nil
	}
	t.flushing = true
	start := time.Now()

	prev := t.current
	t.current = nil

	var ran mapset.Set[*Effect]
	if t.dedupe {
		ran = mapset.NewThreadUnsafeSet[*Effect]()
	}

	runs, visited := 0, 0
	defer func() {
		t.current = prev
		t.flushing = false
		if err == nil {
			t.pending = t.pending[:0]
			clear(t.pendingSet)
		}

		elapsed := time.Since(start)
		if t.observer != nil {
			t.observer.Flushed(visited, runs, elapsed)
		}
		t.logger.Debug("flush",
			zap.Int("paths", visited),
			zap.Int("effects", runs),
			zap.Duration("elapsed", elapsed),
		)
	}()

	for i := 0; i < len(t.pending); i++ {
		visited++
		for _, e := range t.effects[t.pending[i]] {
			if ran != nil {
				if ran.Contains(e) {
					continue
				}
				ran.Add(e)
			}
			runs++
			if err := e.Run(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Pending returns the paths written since the last flush.
func (t *Tracker) Pending() []string {
	out := make([]string, len(t.pending))
	copy(out, t.pending)
	return out
}

// Paths returns every path with registered effects in discovery order.
func (t *Tracker) Paths() []string {
	out := make([]string, len(t.paths))
	copy(out, t.paths)
	return out
}

func (t *Tracker) Effects(path string) []*Effect {
	list := t.effects[path]
	out := make([]*Effect, len(list))
	copy(out, list)
	return out
}
