// Package runtime wires the chat together: the participant registry, the
// broadcast bus, one session per connection and the workers that accept them.
// It carries no wire format of its own; lines and replies come from domain.
package runtime

import (
	"context"
	stderrors "errors"
	"line-chat/contract"
	"line-chat/errors"
	"line-chat/observability"
	"line-chat/runtime/workers"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"
)

// DefaultShutdownTimeout bounds how long Stop waits for sessions to drain.
const DefaultShutdownTimeout = 5 * time.Second

type Orchestrator struct {
	mu                sync.Mutex
	log               *slog.Logger
	supervisor        contract.ISupervisor
	registry          contract.IRegistry
	bus               contract.IBus
	monitoring        *observability.MonitoringManager
	censor            contract.Censor
	listeners         []contract.Listener
	acceptors         []*Acceptor
	maxLineLength     int
	heartbeatInterval time.Duration
	shutdownTimeout   time.Duration
	cancel            context.CancelFunc
	stopped           bool
}

func NewOrchestrator(
	log *slog.Logger,
	supervisor contract.ISupervisor,
	registry contract.IRegistry,
	bus contract.IBus,
	monitoring *observability.MonitoringManager,
	censor contract.Censor,
	maxLineLength int,
	heartbeatInterval, shutdownTimeout time.Duration) *Orchestrator {
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	return &Orchestrator{
		log:               log,
		supervisor:        supervisor,
		registry:          registry,
		bus:               bus,
		monitoring:        monitoring,
		censor:            censor,
		maxLineLength:     maxLineLength,
		heartbeatInterval: heartbeatInterval,
		shutdownTimeout:   shutdownTimeout,
	}
}

// AddListener registers listeners served once Start is called.
func (o *Orchestrator) AddListener(listeners ...contract.Listener) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, listeners...)
}

// Start builds one acceptor per listener plus the heartbeat, hands them to the
// supervisor and blocks until the supervisor returns.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return nil
	}
	if len(o.listeners) == 0 {
		o.mu.Unlock()
		return errors.ErrNoListener
	}
	ctx, o.cancel = context.WithCancel(ctx)
	defer o.cancel()

	o.acceptors = lo.Map(o.listeners, func(l contract.Listener, _ int) *Acceptor {
		return NewAcceptor(l, o.registry, o.bus, o.censor, o.monitoring, o.log, o.maxLineLength)
	})
	for _, a := range o.acceptors {
		o.supervisor.Add(a)
	}
	o.supervisor.Add(workers.NewHeartbeatWorker(o.log, o.registry, o.bus, o.monitoring, o.heartbeatInterval))
	o.mu.Unlock()

	o.log.Info("Starting orchestrator and all supervised workers", "listeners", len(o.acceptors))
	o.supervisor.Run(ctx)
	return nil
}

// Stop shuts the chat down: no more accepts, the bus closes so every active
// session tears down, then sessions are waited for up to the shutdown timeout.
// Calling Stop more than once is harmless.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return nil
	}
	o.stopped = true
	if o.cancel != nil {
		o.cancel()
	}
	listeners := o.listeners
	acceptors := o.acceptors
	o.mu.Unlock()

	o.log.Info("Requesting orchestrator shutdown")
	o.supervisor.Stop()
	for _, l := range listeners {
		if err := l.Close(); err != nil && !isListenerClosed(err) {
			o.log.Debug("Error closing listener", "error", err)
		}
	}
	o.bus.Close()

	var errs []error
	for _, a := range acceptors {
		if err := a.Shutdown(o.shutdownTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	o.log.Info("Orchestrator stopped", "participants", o.registry.Len())
	return stderrors.Join(errs...)
}
