//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"io"
	"line-chat/domain"
	"net"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// IRegistry is the shared set of connected participants.
// Implementations keep their lock private.
type IRegistry interface {
	Insert(id domain.ConnectionID, name domain.DisplayName)
	Remove(id domain.ConnectionID)
	SnapshotNames() []domain.DisplayName
	Len() int
}

type Publisher interface {
	Publish(msg domain.BroadcastMessage) error
}

// Receiver is one subscription to the bus.
// Ready fires whenever TryRecv may return something.
type Receiver interface {
	Ready() <-chan struct{}
	TryRecv() (domain.Delivery, bool)
	Close()
}

type IBus interface {
	Publisher
	Subscribe() Receiver
	Subscribers() int
	Close()
}

// Censor rewrites chat text and reports the matched words.
type Censor interface {
	Censor(original string) (string, []string)
}

// Conn is the stream a session talks over.
// *net.TCPConn and the websocket adapter both satisfy it.
type Conn interface {
	io.ReadWriteCloser
	RemoteAddr() net.Addr
}

type Listener interface {
	Accept() (Conn, error)
	Close() error
	Addr() net.Addr
}
