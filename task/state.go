package task

import (
	"fmt"

	"github.com/use-agent/glance/models"
)

// transitions lists the legal successors of each state.
var transitions = map[models.TaskState][]models.TaskState{
	models.StateIdle:          {models.StateSessionOpen, models.StateFailed},
	models.StateSessionOpen:   {models.StateNavigated, models.StateFailed},
	models.StateNavigated:     {models.StateInteracted, models.StateCaptured, models.StateFailed},
	models.StateInteracted:    {models.StateCaptured, models.StateFailed},
	models.StateCaptured:      {models.StateNavigated, models.StateSessionClosed, models.StateFailed},
	models.StateFailed:        {models.StateSessionClosed, models.StateDone},
	models.StateSessionClosed: {models.StateDone},
}

// machine tracks a task's lifecycle and the states it visited.
type machine struct {
	current models.TaskState
	visited []models.TaskState
}

func newMachine() *machine {
	return &machine{
		current: models.StateIdle,
		visited: []models.TaskState{models.StateIdle},
	}
}

// to moves to next, or returns an error if the transition is not allowed.
func (m *machine) to(next models.TaskState) error {
	for _, s := range transitions[m.current] {
		if s == next {
			m.current = next
			m.visited = append(m.visited, next)
			return nil
		}
	}
	return fmt.Errorf("invalid task transition %s -> %s", m.current, next)
}

func (m *machine) state() models.TaskState { return m.current }

// fail moves to failed unless the machine is already past the point where
// failure is meaningful.
func (m *machine) fail() {
	switch m.current {
	case models.StateFailed, models.StateSessionClosed, models.StateDone:
		return
	}
	_ = m.to(models.StateFailed)
}

func (m *machine) states() []models.TaskState {
	out := make([]models.TaskState, len(m.visited))
	copy(out, m.visited)
	return out
}
