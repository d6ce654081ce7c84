package actorutil

import (
	"github.com/asynkron/protoactor-go/actor"
)

// ActorWithStates switches behaviors by named state and remembers which one
// is active, including stacked ones.
type ActorWithStates struct {
	Behavior actor.Behavior
	states   []ActorState
}

type ActorState interface {
	Name() string
	Receive(actor.Context)
}

func (s *ActorWithStates) Become(state ActorState) {
	s.Behavior.Become(state.Receive)
	s.states = append(s.states[:0], state)
}

func (s *ActorWithStates) BecomeStacked(state ActorState) {
	s.Behavior.BecomeStacked(state.Receive)
	s.states = append(s.states, state)
}

func (s *ActorWithStates) UnbecomeStacked() {
	s.Behavior.UnbecomeStacked()
	if len(s.states) > 0 {
		s.states = s.states[:len(s.states)-1]
	}
}

// StateName is the name of the active state, empty before the first Become.
func (s *ActorWithStates) StateName() string {
	if len(s.states) == 0 {
		return ""
	}
	return s.states[len(s.states)-1].Name()
}
