package output

import (
	"fmt"

	"github.com/tanq16/tokysnatcher/internal/progress"
)

// ChapterView feeds tracker events into a Manager. Overall is read back from
// the tracker inside the callback, which is allowed for read methods.
type ChapterView struct {
	manager *Manager
	ids     []int
	overall func() float64
}

func NewChapterView(m *Manager, names []string) *ChapterView {
	v := &ChapterView{manager: m, ids: make([]int, len(names))}
	for i, name := range names {
		v.ids[i] = m.Register(fmt.Sprintf("%02d %s", i+1, name))
	}
	return v
}

// SetOverallSource must be called before events start flowing.
func (v *ChapterView) SetOverallSource(fn func() float64) {
	v.overall = fn
}

func (v *ChapterView) Handle(ev progress.Event) {
	if ev.Chapter < 0 || ev.Chapter >= len(v.ids) {
		return
	}
	id := v.ids[ev.Chapter]
	switch ev.Kind {
	case progress.EventStarted:
		v.manager.Start(id, "Resolving segments")
	case progress.EventResolved:
		v.manager.SetMessage(id, fmt.Sprintf("Fetching %d segments", ev.Segments))
		v.manager.SetProgress(id, ev.Percent)
	case progress.EventProgress:
		v.manager.SetProgress(id, ev.Percent)
		if ev.IsLast {
			v.manager.SetMessage(id, "Writing file")
		}
	case progress.EventCompleted:
		if ev.Success {
			v.manager.Complete(id, "Saved")
		} else {
			err := ev.Err
			if err == nil {
				err = fmt.Errorf("chapter download failed")
			}
			v.manager.ReportError(id, err)
		}
	case progress.EventCancelled:
		v.manager.Cancel(id)
	}
	if v.overall != nil {
		v.manager.SetOverall(v.overall())
	}
}
