package runtime

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"line-chat/domain"
	"line-chat/errors"
	"line-chat/mocks"
	"line-chat/transport"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type tcpClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func dialChat(t *testing.T, addr net.Addr) *tcpClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr.String(), waitFor)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &tcpClient{t: t, conn: conn, reader: bufio.NewReader(conn)}
}

func (c *tcpClient) expect(want string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(waitFor)))
	got := make([]byte, len(want))
	_, err := io.ReadFull(c.reader, got)
	require.NoError(c.t, err)
	require.Equal(c.t, want, string(got))
}

func (c *tcpClient) send(line string) {
	c.t.Helper()
	_, err := io.WriteString(c.conn, line)
	require.NoError(c.t, err)
}

func (c *tcpClient) expectEOF() {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(waitFor)))
	_, err := c.reader.ReadByte()
	require.ErrorIs(c.t, err, io.EOF)
}

func TestAcceptor_Serves_Concurrent_Clients(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(10)
	ln, err := transport.ListenTCP("127.0.0.1:0")
	req.NoError(err)

	acceptor := NewAcceptor(ln, f.registry, f.bus, nil, f.monitoring, f.log, 0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- acceptor.Run(ctx) }()

	// Given two clients joining over TCP
	alice := dialChat(t, ln.Addr())
	alice.expect(domain.UsernamePrompt)
	alice.send("alice\n")
	req.Eventually(func() bool { return f.bus.Subscribers() == 1 }, waitFor, 5*time.Millisecond)

	bob := dialChat(t, ln.Addr())
	bob.expect(domain.UsernamePrompt)
	bob.send("bob\n")
	alice.expect("*** bob has joined the chat ***\n")

	// When bob talks
	bob.send("hi all\n")

	// Then both receive it
	alice.expect("bob: hi all\n")
	bob.expect("bob: hi all\n")

	// When the context is cancelled the accept loop ends cleanly
	cancel()
	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(waitFor):
		req.Fail("acceptor did not stop")
	}

	// And running sessions are unaffected until they end on their own
	alice.send("/users\n")
	alice.expect("Connected users: alice, bob\n")

	f.bus.Close()
	alice.expectEOF()
	bob.expectEOF()
	req.NoError(acceptor.Shutdown(waitFor))
	req.Equal(uint64(2), f.monitoring.GetLatest().ConnectionsAccepted)
}

func TestAcceptor_Accept_Error_Is_Retried(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	f := newSessionFixture(10)
	listener := mocks.NewMockListener(ctrl)

	// Given a listener failing once, then closed
	listener.EXPECT().Addr().Return(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9}).AnyTimes()
	listener.EXPECT().Close().Return(nil).AnyTimes()
	gomock.InOrder(
		listener.EXPECT().Accept().Return(nil, fmt.Errorf("too many open files")),
		listener.EXPECT().Accept().Return(nil, errors.ErrListenerClosed),
	)

	acceptor := NewAcceptor(listener, f.registry, f.bus, nil, f.monitoring, f.log, 0)

	// Then the error is counted and the loop only ends on close
	req.NoError(acceptor.Run(context.Background()))
	req.Equal(uint64(1), f.monitoring.GetLatest().AcceptErrors)
	req.Equal(uint64(0), f.monitoring.GetLatest().ConnectionsAccepted)
}

func TestAcceptor_Shutdown_Closes_Lingering_Connections(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(10)
	ln, err := transport.ListenTCP("127.0.0.1:0")
	req.NoError(err)

	acceptor := NewAcceptor(ln, f.registry, f.bus, nil, f.monitoring, f.log, 0)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = acceptor.Run(ctx) }()

	// Given a client that never picks a name
	idle := dialChat(t, ln.Addr())
	idle.expect(domain.UsernamePrompt)
	cancel()

	// When shutting down with a short grace period
	req.NoError(acceptor.Shutdown(50 * time.Millisecond))

	// Then its connection was closed for it
	idle.expectEOF()
	req.Equal(0, f.registry.Len())
}

func TestAcceptor_Connection_After_Shutdown_Is_Closed(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	f := newSessionFixture(10)
	listener := mocks.NewMockListener(ctrl)
	listener.EXPECT().Addr().Return(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9}).AnyTimes()

	acceptor := NewAcceptor(listener, f.registry, f.bus, nil, f.monitoring, f.log, 0)

	// Given a shutdown already in progress
	req.NoError(acceptor.Shutdown(10 * time.Millisecond))

	// When a late accept hands over a connection
	server, client := net.Pipe()
	defer func() { _ = client.Close() }()
	acceptor.spawn(server)

	// Then it is closed without a session or a prompt
	req.NoError(client.SetReadDeadline(time.Now().Add(waitFor)))
	_, err := client.Read(make([]byte, 1))
	req.ErrorIs(err, io.EOF)
	req.NoError(acceptor.Shutdown(10 * time.Millisecond))
	req.Equal(0, f.registry.Len())
}
