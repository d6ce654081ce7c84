package actorutil

import (
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/primetalk/goio/io"
)

// SafeBackgroundTask runs a blocking function off the actor and turns its
// outcome into a message. Recover runs on the task goroutine, so it must not
// touch actor state.
type SafeBackgroundTask[T any] struct {
	ctx     actor.Context
	fn      func() (T, error)
	timeout *time.Duration
	recover func(error) T
}

func NewBackgroundTask[T any](ctx actor.Context, fn func() (T, error)) *SafeBackgroundTask[T] {
	return &SafeBackgroundTask[T]{
		ctx: ctx,
		fn:  fn,
	}
}

// WithTimeout bounds the task; a non-positive timeout leaves it unbounded.
func (t *SafeBackgroundTask[T]) WithTimeout(timeout time.Duration) *SafeBackgroundTask[T] {
	if timeout > 0 {
		t.timeout = &timeout
	}
	return t
}

func (t *SafeBackgroundTask[T]) Recover(fn func(error) T) *SafeBackgroundTask[T] {
	t.recover = fn
	return t
}

// PipeTo runs the task in its own goroutine and sends the result, or the
// recovered value, to pid. An error without Recover sends nothing.
func (t *SafeBackgroundTask[T]) PipeTo(pid *actor.PID) {
	root := t.ctx.ActorSystem().Root
	go t.run(func(value T) {
		root.Send(pid, value)
	})
}

func (t *SafeBackgroundTask[T]) run(deliver func(T)) {
	bg := io.Eval(t.fn)
	if t.timeout != nil {
		bg = io.WithTimeout[T](*t.timeout)(bg)
	}
	result := io.RunSync(bg)
	value := result.Value
	if result.Error != nil {
		if t.recover == nil {
			return
		}
		value = t.recover(result.Error)
	}
	deliver(value)
}
