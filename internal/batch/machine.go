// Package batch runs one create-group batch for one account.
//
// Machine holds the loop state (index, counters, terminal state) and decides
// what a remote result means; Worker drives it against a Session and a Clock.
package batch

import (
	"fmt"

	"groupbot/internal/remote"
)

type State int

const (
	Running State = iota
	Completed
	Restricted
	Invalidated
	Cancelled
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Restricted:
		return "restricted"
	case Invalidated:
		return "invalidated"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Step is what the driver should do after applying a result.
type Step int

const (
	// StepCreated: the group at the current index exists; move on after the jittered delay.
	StepCreated Step = iota
	// StepRetry: rate limited; wait and retry the same index.
	StepRetry
	// StepSkipped: this index failed; back off and move on.
	StepSkipped
	// StepStopped: the batch reached a terminal state.
	StepStopped
)

type Machine struct {
	size       int
	index      int
	created    int
	failed     int
	rateLimits int
	retrying   bool
	state      State
	last       remote.Result
}

func NewMachine(size int) *Machine {
	if size < 0 {
		size = 0
	}
	m := &Machine{size: size, index: 1}
	if size == 0 {
		m.state = Completed
	}
	return m
}

// Index is the 1-based index of the next create call.
func (m *Machine) Index() int { return m.index }
func (m *Machine) Size() int { return m.size }
func (m *Machine) Created() int { return m.created }
func (m *Machine) Failed() int { return m.failed }
func (m *Machine) RateLimits() int { return m.rateLimits }
func (m *Machine) State() State { return m.state }
func (m *Machine) Done() bool { return m.state != Running }

// Retrying reports whether the next call repeats an index after a rate limit.
func (m *Machine) Retrying() bool { return m.retrying }

// Last is the result that moved the machine into its terminal state, if any.
func (m *Machine) Last() remote.Result { return m.last }

// Apply records the result of the create call at Index.
func (m *Machine) Apply(res remote.Result) Step {
	if m.Done() {
		return StepStopped
	}
	switch res.Kind {
	case remote.OK:
		m.created++
		m.advance()
		return StepCreated
	case remote.RateLimited:
		m.rateLimits++
		m.retrying = true
		return StepRetry
	case remote.Restricted:
		m.stop(Restricted, res)
		return StepStopped
	case remote.Fatal:
		switch {
		case res.Invalidates():
			m.stop(Invalidated, res)
			return StepStopped
		case res.Reason == remote.ReasonCanceled:
			m.stop(Cancelled, res)
			return StepStopped
		}
	}
	m.failed++
	m.advance()
	return StepSkipped
}

// Cancel moves a running machine to Cancelled.
func (m *Machine) Cancel() {
	if !m.Done() {
		m.state = Cancelled
	}
}

func (m *Machine) advance() {
	m.retrying = false
	m.index++
	if m.index > m.size {
		m.state = Completed
	}
}

func (m *Machine) stop(s State, res remote.Result) {
	m.state = s
	m.last = res
}
