// Package transport adapts concrete stream transports to contract.Listener.
package transport

import (
	"line-chat/contract"
	"net"
)

var _ contract.Listener = (*TCPListener)(nil)

type TCPListener struct {
	net.Listener
}

// ListenTCP binds address. A bind failure is returned as is and is meant to be fatal.
func ListenTCP(address string) (*TCPListener, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return &TCPListener{Listener: ln}, nil
}

func (l *TCPListener) Accept() (contract.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return conn, nil
}
