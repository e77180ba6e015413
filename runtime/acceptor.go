package runtime

import (
	"context"
	stderrors "errors"
	"fmt"
	"line-chat/contract"
	"line-chat/domain"
	"line-chat/errors"
	"line-chat/observability"
	"log/slog"
	"net"
	"sync"
	"time"
)

const acceptRetryDelay = 50 * time.Millisecond

var _ contract.Worker = (*Acceptor)(nil)

// Acceptor accepts connections from one listener and runs a Session for each.
// A failed Accept is logged and retried; only a closed listener or a
// cancelled context ends the loop.
type Acceptor struct {
	listener      contract.Listener
	registry      contract.IRegistry
	bus           contract.IBus
	censor        contract.Censor
	monitoring    *observability.MonitoringManager
	log           *slog.Logger
	maxLineLength int

	wg      sync.WaitGroup
	mu      sync.Mutex
	conns   map[domain.ConnectionID]contract.Conn
	closing bool
}

func NewAcceptor(
	listener contract.Listener,
	registry contract.IRegistry,
	bus contract.IBus,
	censor contract.Censor,
	monitoring *observability.MonitoringManager,
	log *slog.Logger,
	maxLineLength int) *Acceptor {
	return &Acceptor{
		listener:      listener,
		registry:      registry,
		bus:           bus,
		censor:        censor,
		monitoring:    monitoring,
		log:           log.With("listener", listener.Addr().String()),
		maxLineLength: maxLineLength,
		conns:         make(map[domain.ConnectionID]contract.Conn),
	}
}

func (a *Acceptor) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		_ = a.listener.Close()
	})
	defer stop()

	a.log.Info("Accepting connections")
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || isListenerClosed(err) {
				a.log.Info("Listener closed, no longer accepting connections")
				return nil
			}
			a.monitoring.IncrAcceptErrors()
			a.log.Error("Failed to accept connection", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(acceptRetryDelay):
			}
			continue
		}
		a.monitoring.IncrAccepted()
		a.spawn(conn)
	}
}

func (a *Acceptor) spawn(conn contract.Conn) {
	id := domain.NewConnectionID()
	a.log.Info("New connection", "conn_id", id.String(), "remote", remoteAddr(conn))

	if !a.track(id, conn) {
		a.log.Info("Shutting down, connection refused", "conn_id", id.String())
		_ = conn.Close()
		return
	}
	session := NewSession(id, conn, a.registry, a.bus, a.censor, a.monitoring, a.log, a.maxLineLength)

	go func() {
		defer a.wg.Done()
		defer a.untrack(id)
		defer func() {
			if r := recover(); r != nil {
				a.log.Error("Session panicked", "conn_id", id.String(), "panic", r)
				_ = conn.Close()
			}
		}()
		if err := session.Run(); err != nil {
			a.log.Error("Error handling client", "conn_id", id.String(), "error", err)
		}
	}()
}

// track registers a session about to start. It reports false once Shutdown has begun.
func (a *Acceptor) track(id domain.ConnectionID, conn contract.Conn) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closing {
		return false
	}
	a.conns[id] = conn
	a.wg.Add(1)
	return true
}

func (a *Acceptor) untrack(id domain.ConnectionID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.conns, id)
}

// Wait blocks until every session spawned by this acceptor has ended.
func (a *Acceptor) Wait() {
	a.wg.Wait()
}

// Shutdown waits for running sessions to finish. Sessions still alive after
// timeout have their connection closed and are waited for once more.
func (a *Acceptor) Shutdown(timeout time.Duration) error {
	a.mu.Lock()
	a.closing = true
	a.mu.Unlock()

	if a.waitTimeout(timeout) {
		return nil
	}

	a.mu.Lock()
	remaining := len(a.conns)
	for _, conn := range a.conns {
		_ = conn.Close()
	}
	a.mu.Unlock()
	a.log.Warn("Closing lingering connections", "count", remaining)

	if a.waitTimeout(timeout) {
		return nil
	}
	return fmt.Errorf("sessions still running after %s: %w", 2*timeout, context.DeadlineExceeded)
}

func (a *Acceptor) waitTimeout(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func isListenerClosed(err error) bool {
	return stderrors.Is(err, net.ErrClosed) || stderrors.Is(err, errors.ErrListenerClosed)
}
