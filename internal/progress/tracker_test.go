package progress

import (
	"errors"
	"math"
	"sync"
	"testing"
)

type flag struct {
	mu  sync.Mutex
	set bool
}

func (f *flag) IsSet() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set
}

func (f *flag) Set() {
	f.mu.Lock()
	f.set = true
	f.mu.Unlock()
}

func TestTracker_UpdateIsMonotonic(t *testing.T) {
	tr := NewTracker(1, &flag{}, nil)
	tr.MarkStarted(0)
	tr.Update(0, 40)
	tr.Update(0, 20)
	tr.Update(0, 150)
	if got := tr.Snapshot()[0].Percent; got != 100 {
		t.Errorf("percent = %v, want 100 (clamped, never decreasing)", got)
	}
	tr.Update(0, -5)
	if got := tr.Snapshot()[0].Percent; got != 100 {
		t.Errorf("percent after negative update = %v, want 100", got)
	}
}

func TestTracker_UpdateBeforeStartIgnored(t *testing.T) {
	tr := NewTracker(1, nil, nil)
	tr.Update(0, 50)
	if got := tr.Snapshot()[0].Percent; got != 0 {
		t.Errorf("percent = %v, want 0 for a pending chapter", got)
	}
}

func TestTracker_OverallIsPlainMean(t *testing.T) {
	tr := NewTracker(4, nil, nil)
	for i := range 4 {
		tr.MarkStarted(i)
	}
	tr.Update(0, 100)
	tr.Update(1, 50)
	tr.SetSegments(2, 1000)
	tr.Update(2, 10)
	if got, want := tr.OverallPercent(), 40.0; math.Abs(got-want) > 1e-9 {
		t.Errorf("OverallPercent() = %v, want %v", got, want)
	}
}

func TestTracker_OverallEmpty(t *testing.T) {
	if got := NewTracker(0, nil, nil).OverallPercent(); got != 0 {
		t.Errorf("OverallPercent() = %v, want 0", got)
	}
}

func TestTracker_NoUpdatesAfterCancel(t *testing.T) {
	stop := &flag{}
	var events []Event
	tr := NewTracker(1, stop, func(ev Event) { events = append(events, ev) })
	tr.MarkStarted(0)
	tr.Update(0, 30)
	stop.Set()
	tr.Update(0, 60)
	if got := tr.Snapshot()[0].Percent; got != 30 {
		t.Errorf("percent = %v, want 30 after cancel", got)
	}
	tr.MarkCancelled(0)
	last := events[len(events)-1]
	if last.Kind != EventCancelled || !last.IsLast {
		t.Errorf("last event = %+v, want cancelled", last)
	}
	if tr.State(0) != StateCancelled {
		t.Errorf("state = %v, want cancelled", tr.State(0))
	}
}

func TestTracker_TerminalStatesAreFinal(t *testing.T) {
	tr := NewTracker(2, nil, nil)
	tr.MarkStarted(0)
	tr.MarkComplete(0, true)
	tr.MarkCancelled(0)
	tr.MarkFailed(0, errors.New("late"))
	if tr.State(0) != StateComplete {
		t.Errorf("state = %v, want complete", tr.State(0))
	}
	if got := tr.Snapshot()[0].Percent; got != 100 {
		t.Errorf("successful chapter percent = %v, want 100", got)
	}

	tr.MarkStarted(1)
	tr.Update(1, 25)
	tr.MarkFailed(1, errors.New("boom"))
	if tr.State(1) != StateFailed {
		t.Errorf("state = %v, want failed", tr.State(1))
	}
	if got := tr.Snapshot()[1].Percent; got != 25 {
		t.Errorf("failed chapter percent = %v, want 25", got)
	}
}

func TestTracker_EventsPerChapterAreOrdered(t *testing.T) {
	const chapters = 4
	const steps = 200
	var mu sync.Mutex
	last := make([]float64, chapters)
	var regressions int
	tr := NewTracker(chapters, nil, func(ev Event) {
		if ev.Kind != EventProgress {
			return
		}
		mu.Lock()
		if ev.Percent < last[ev.Chapter] {
			regressions++
		}
		last[ev.Chapter] = ev.Percent
		mu.Unlock()
	})
	var wg sync.WaitGroup
	for c := range chapters {
		tr.MarkStarted(c)
		for w := range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := w; i <= steps; i += 4 {
					tr.Update(c, 100*float64(i)/steps)
				}
			}()
		}
	}
	wg.Wait()
	if regressions != 0 {
		t.Errorf("observed %d decreasing progress events", regressions)
	}
	for c := range chapters {
		if last[c] != 100 {
			t.Errorf("chapter %d ended at %v, want 100", c, last[c])
		}
	}
}

func TestTracker_CallbackMayReadTracker(t *testing.T) {
	var tr *Tracker
	var overall []float64
	tr = NewTracker(2, nil, func(ev Event) {
		overall = append(overall, tr.OverallPercent())
	})
	tr.MarkStarted(0)
	tr.Update(0, 50)
	tr.MarkComplete(0, true)
	if len(overall) != 3 || overall[2] != 50 {
		t.Errorf("overall readings = %v, want last 50", overall)
	}
}

func TestTracker_FailedEventCarriesError(t *testing.T) {
	cause := errors.New("index 404")
	var got Event
	tr := NewTracker(1, nil, func(ev Event) { got = ev })
	tr.MarkStarted(0)
	tr.MarkFailed(0, cause)
	if got.Kind != EventCompleted || got.Success || !errors.Is(got.Err, cause) {
		t.Errorf("event = %+v, want failed completion carrying cause", got)
	}
}

func TestTracker_NilIgnoresCalls(t *testing.T) {
	var tr *Tracker
	tr.MarkStarted(0)
	tr.SetSegments(0, 4)
	tr.Update(0, 50)
	tr.MarkFailed(0, errors.New("boom"))
	tr.MarkCancelled(1)
	if tr.OverallPercent() != 0 || tr.Snapshot() != nil || tr.State(0) != StatePending {
		t.Error("nil tracker should report nothing")
	}
}
