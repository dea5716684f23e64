package migration

// Observer receives run progress. Calls arrive from the run's goroutine and
// must not block.
type Observer interface {
	PhaseChanged(runID string, phase Phase)
	RunFinished(report *Report)
}

// NopObserver ignores every event
type NopObserver struct{}

func (NopObserver) PhaseChanged(string, Phase) {}
func (NopObserver) RunFinished(*Report)        {}

// MultiObserver fans events out in order
type MultiObserver []Observer

func (m MultiObserver) PhaseChanged(runID string, phase Phase) {
	for _, o := range m {
		if o != nil {
			o.PhaseChanged(runID, phase)
		}
	}
}

func (m MultiObserver) RunFinished(report *Report) {
	for _, o := range m {
		if o != nil {
			o.RunFinished(report)
		}
	}
}
