package actor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devkiraa/aura-smart-home/internal/core/port"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

type cloudConnected struct {
}

type cloudConnectionLost struct {
	Error error
}

// CloudLink owns the transport connection of the cloud tree. Connection
// callbacks are installed once per process and routed to a fixed PID, so a
// restarted twin actor keeps receiving them.
type CloudLink struct {
	tree       port.CloudTree
	timeout    time.Duration
	once       sync.Once
	generation atomic.Uint64
	logger     *zap.Logger
}

func NewCloudLink(tree port.CloudTree, timeout time.Duration, logger *zap.Logger) *CloudLink {
	return &CloudLink{
		tree:    tree,
		timeout: timeout,
		logger:  logger.With(zap.String("component", "cloud_link")),
	}
}

func (l *CloudLink) Tree() port.CloudTree {
	return l.tree
}

// Attach connects the tree on the first call. Later calls only tell pid the
// current state.
func (l *CloudLink) Attach(system *actor.ActorSystem, pid *actor.PID) {
	first := false
	l.once.Do(func() {
		first = true
		l.tree.SetConnectionHandlers(func() {
			system.Root.Send(pid, cloudConnected{})
		}, func(err error) {
			system.Root.Send(pid, cloudConnectionLost{Error: err})
		})
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
			defer cancel()
			if err := l.tree.Connect(ctx); err != nil {
				// the transport keeps retrying and reports through the handlers
				l.logger.Warn("cloud connect failed", zap.Error(err))
			}
		}()
	})
	if !first && l.tree.IsConnected() {
		system.Root.Send(pid, cloudConnected{})
	}
}

// nextGeneration numbers subscription cycles so that events from stale
// subscriptions can be told apart.
func (l *CloudLink) nextGeneration() uint64 {
	return l.generation.Add(1)
}
