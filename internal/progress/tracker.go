package progress

import (
	"sync"

	"github.com/rs/zerolog/log"
)

type State int

const (
	StatePending State = iota
	StateRunning
	StateComplete
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

type EventKind int

const (
	EventStarted EventKind = iota
	EventResolved
	EventProgress
	EventCompleted
	EventCancelled
)

// Event is what the presentation layer sees. Segments is only set on
// EventResolved, Success and Err only on EventCompleted.
type Event struct {
	Kind     EventKind
	Chapter  int
	Percent  float64
	IsLast   bool
	Success  bool
	Segments int
	Err      error
}

type ChapterProgress struct {
	Chapter  int
	Percent  float64
	State    State
	Segments int
}

// Stopper reports whether the run's cancellation signal is set.
type Stopper interface {
	IsSet() bool
}

type chapterState struct {
	percent  float64
	state    State
	segments int
}

// Tracker is the shared progress state of one run. All mutation goes through
// mu; emitMu keeps callback delivery in mutation order. Callbacks may read the
// tracker but must not mutate it. A nil *Tracker ignores every call.
type Tracker struct {
	mu       sync.Mutex
	emitMu   sync.Mutex
	chapters []chapterState
	stop     Stopper
	onEvent  func(Event)
}

func NewTracker(total int, stop Stopper, onEvent func(Event)) *Tracker {
	return &Tracker{
		chapters: make([]chapterState, total),
		stop:     stop,
		onEvent:  onEvent,
	}
}

func (t *Tracker) MarkStarted(chapter int) {
	t.mutate(chapter, func(c *chapterState) (Event, bool) {
		if c.state != StatePending {
			return Event{}, false
		}
		c.state = StateRunning
		return Event{Kind: EventStarted, Chapter: chapter, Percent: c.percent}, true
	})
}

// SetSegments switches the chapter from indeterminate to determinate display.
func (t *Tracker) SetSegments(chapter, segments int) {
	t.mutate(chapter, func(c *chapterState) (Event, bool) {
		c.segments = segments
		return Event{Kind: EventResolved, Chapter: chapter, Percent: c.percent, Segments: segments}, true
	})
}

// Update records a new percentage. Decreases are ignored and, once the
// cancellation signal is set, so is everything else.
func (t *Tracker) Update(chapter int, percent float64) {
	if t.stopped() {
		return
	}
	percent = min(max(percent, 0), 100)
	t.mutate(chapter, func(c *chapterState) (Event, bool) {
		if c.state != StateRunning || percent <= c.percent {
			return Event{}, false
		}
		c.percent = percent
		return Event{Kind: EventProgress, Chapter: chapter, Percent: percent, IsLast: percent >= 100}, true
	})
}

func (t *Tracker) MarkComplete(chapter int, success bool) {
	t.complete(chapter, success, nil)
}

// MarkFailed is MarkComplete(chapter, false) carrying the cause.
func (t *Tracker) MarkFailed(chapter int, err error) {
	t.complete(chapter, false, err)
}

func (t *Tracker) complete(chapter int, success bool, err error) {
	t.mutate(chapter, func(c *chapterState) (Event, bool) {
		if isTerminal(c.state) {
			return Event{}, false
		}
		if success {
			c.state = StateComplete
			c.percent = 100
		} else {
			c.state = StateFailed
		}
		return Event{Kind: EventCompleted, Chapter: chapter, Percent: c.percent, IsLast: true, Success: success, Err: err}, true
	})
}

func (t *Tracker) MarkCancelled(chapter int) {
	t.mutate(chapter, func(c *chapterState) (Event, bool) {
		if isTerminal(c.state) {
			return Event{}, false
		}
		c.state = StateCancelled
		return Event{Kind: EventCancelled, Chapter: chapter, Percent: c.percent, IsLast: true}, true
	})
}

// OverallPercent is the plain mean over all chapters, not weighted by segment
// count.
func (t *Tracker) OverallPercent() float64 {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.chapters) == 0 {
		return 0
	}
	var sum float64
	for _, c := range t.chapters {
		sum += c.percent
	}
	return sum / float64(len(t.chapters))
}

func (t *Tracker) Snapshot() []ChapterProgress {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ChapterProgress, len(t.chapters))
	for i, c := range t.chapters {
		out[i] = ChapterProgress{Chapter: i, Percent: c.percent, State: c.state, Segments: c.segments}
	}
	return out
}

func (t *Tracker) State(chapter int) State {
	if t == nil {
		return StatePending
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if chapter < 0 || chapter >= len(t.chapters) {
		return StatePending
	}
	return t.chapters[chapter].state
}

func (t *Tracker) mutate(chapter int, fn func(c *chapterState) (Event, bool)) {
	if t == nil {
		return
	}
	t.emitMu.Lock()
	defer t.emitMu.Unlock()
	t.mu.Lock()
	if chapter < 0 || chapter >= len(t.chapters) {
		t.mu.Unlock()
		log.Warn().Str("op", "progress/tracker").Msgf("Ignoring update for unknown chapter %d", chapter)
		return
	}
	ev, emit := fn(&t.chapters[chapter])
	t.mu.Unlock()
	if emit && t.onEvent != nil {
		t.onEvent(ev)
	}
}

func (t *Tracker) stopped() bool {
	return t == nil || t.stop != nil && t.stop.IsSet()
}

func isTerminal(s State) bool {
	return s == StateComplete || s == StateFailed || s == StateCancelled
}
