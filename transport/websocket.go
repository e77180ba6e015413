package transport

import (
	stderrors "errors"
	"io"
	"line-chat/contract"
	"line-chat/errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const closeGracePeriod = time.Second

var (
	_ contract.Listener = (*WebSocketListener)(nil)
	_ contract.Conn     = (*wsConn)(nil)
)

// WebSocketListener serves HTTP upgrades on a path and hands every upgraded
// connection out through Accept, so sessions treat it like any other stream.
type WebSocketListener struct {
	ln       net.Listener
	server   *http.Server
	upgrader websocket.Upgrader
	conns    chan contract.Conn
	done     chan struct{}
	once     sync.Once
	log      *slog.Logger
}

func ListenWebSocket(address, path string, log *slog.Logger) (*WebSocketListener, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return NewWebSocketListener(ln, path, log), nil
}

func NewWebSocketListener(ln net.Listener, path string, log *slog.Logger) *WebSocketListener {
	l := &WebSocketListener{
		ln: ln,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(chan contract.Conn),
		done:  make(chan struct{}),
		log:   log.With("listener", ln.Addr().String()),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, l.handleUpgrade)
	l.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := l.server.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			l.log.Error("WebSocket server stopped", "error", err)
		}
	}()
	return l
}

func (l *WebSocketListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.log.Warn("Upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	select {
	case l.conns <- newWSConn(ws):
	case <-l.done:
		_ = ws.Close()
	}
}

func (l *WebSocketListener) Accept() (contract.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.done:
		return nil, errors.ErrListenerClosed
	}
}

func (l *WebSocketListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.server.Close()
	})
	return err
}

func (l *WebSocketListener) Addr() net.Addr {
	return l.ln.Addr()
}

// wsConn turns frames into a byte stream: one inbound frame is one line.
type wsConn struct {
	ws          *websocket.Conn
	frame       io.Reader
	last        byte
	needNewline bool
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

func (c *wsConn) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		if c.needNewline {
			c.needNewline = false
			p[0] = '\n'
			return 1, nil
		}
		if c.frame == nil {
			_, r, err := c.ws.NextReader()
			if err != nil {
				return 0, translateReadError(err)
			}
			c.frame = r
			c.last = '\n'
		}

		n, err := c.frame.Read(p)
		if n > 0 {
			c.last = p[n-1]
		}
		if stderrors.Is(err, io.EOF) {
			c.frame = nil
			c.needNewline = c.last != '\n'
			if n > 0 {
				return n, nil
			}
			continue
		}
		if err != nil {
			return n, translateReadError(err)
		}
		if n > 0 {
			return n, nil
		}
	}
}

// Write sends p as a single text frame.
func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGracePeriod))
	return c.ws.Close()
}

func (c *wsConn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

// translateReadError maps a peer initiated close onto io.EOF, the clean disconnect signal.
func translateReadError(err error) error {
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure) {
		return io.EOF
	}
	return err
}
