package runtime

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"line-chat/contract"
	"line-chat/domain"
	"line-chat/moderation"
	"line-chat/observability"
	"log/slog"
	"strings"
	"unicode/utf8"
)

// DefaultMaxLineLength caps a single inbound line.
// Longer input is cut into several lines of at most this many bytes.
const DefaultMaxLineLength = 1024

type lineResult struct {
	text string
	err  error
}

// Session drives one connection through AwaitingUsername, Active and Terminated.
// Its logic runs on a single goroutine; a helper goroutine only feeds it lines.
type Session struct {
	id            domain.ConnectionID
	conn          contract.Conn
	registry      contract.IRegistry
	bus           contract.IBus
	censor        contract.Censor
	monitoring    *observability.MonitoringManager
	log           *slog.Logger
	maxLineLength int

	state domain.SessionState
	name  domain.DisplayName
	rx    contract.Receiver
}

func NewSession(
	id domain.ConnectionID,
	conn contract.Conn,
	registry contract.IRegistry,
	bus contract.IBus,
	censor contract.Censor,
	monitoring *observability.MonitoringManager,
	log *slog.Logger,
	maxLineLength int) *Session {
	if maxLineLength <= 0 {
		maxLineLength = DefaultMaxLineLength
	}
	return &Session{
		id:            id,
		conn:          conn,
		registry:      registry,
		bus:           bus,
		censor:        censor,
		monitoring:    monitoring,
		log:           log.With("conn_id", id.String(), "remote", remoteAddr(conn)),
		maxLineLength: maxLineLength,
		state:         domain.AwaitingUsername,
	}
}

// Run owns the connection until the session terminates and always closes it.
// A nil error means the client left cleanly (EOF, /quit) or the bus closed.
func (s *Session) Run() error {
	defer s.closeConn()

	scanner := bufio.NewScanner(s.conn)
	scanner.Buffer(make([]byte, 0, min(4096, s.maxLineLength+1)), s.maxLineLength+1)
	scanner.Split(splitLines(s.maxLineLength))

	name, err := s.acquireUsername(scanner)
	if err != nil {
		s.transition(domain.Terminated)
		return err
	}
	if name == "" {
		s.log.Info("Connection closed before a username was given")
		s.transition(domain.Terminated)
		return nil
	}

	s.register(name)
	defer s.teardown()

	return s.loop(scanner)
}

// acquireUsername prompts until a non-empty line arrives.
// It returns an empty name without error when the client hangs up first.
func (s *Session) acquireUsername(scanner *bufio.Scanner) (domain.DisplayName, error) {
	for {
		if _, err := io.WriteString(s.conn, domain.UsernamePrompt); err != nil {
			return "", fmt.Errorf("writing username prompt: %w", err)
		}
		line, err := readLine(scanner)
		if errors.Is(err, io.EOF) {
			return "", nil
		}
		if err != nil {
			s.log.Error("Error reading username", "error", err)
			return "", fmt.Errorf("reading username: %w", err)
		}
		if name, ok := domain.ParseDisplayName(line); ok {
			return name, nil
		}
	}
}

// register inserts the participant, announces it, then subscribes.
// Subscribing last means a joiner never receives its own join notice.
func (s *Session) register(name domain.DisplayName) {
	s.name = name
	s.log = s.log.With("name", name.String())
	s.registry.Insert(s.id, name)
	if err := s.bus.Publish(domain.JoinNotice(name)); err != nil {
		s.log.Warn("Join notice not published", "error", err)
	}
	s.rx = s.bus.Subscribe()
	s.transition(domain.Active)
	s.monitoring.SessionStarted()
	s.log.Info("User connected")
}

func (s *Session) loop(scanner *bufio.Scanner) error {
	lines := make(chan lineResult)
	done := make(chan struct{})
	defer close(done)
	go readLines(scanner, lines, done)

	for {
		select {
		case in := <-lines:
			if errors.Is(in.err, io.EOF) {
				s.log.Info("Connection closed by client")
				return nil
			}
			if in.err != nil {
				s.log.Error("Error reading from connection", "error", in.err)
				return in.err
			}
			stop, err := s.handleLine(in.text)
			if err != nil || stop {
				return err
			}
		case <-s.rx.Ready():
			d, ok := s.rx.TryRecv()
			if !ok {
				continue
			}
			stop, err := s.handleDelivery(d)
			if err != nil || stop {
				return err
			}
		}
	}
}

func (s *Session) handleLine(raw string) (bool, error) {
	line := strings.TrimSpace(raw)
	if domain.IsCommand(line) {
		s.monitoring.IncrCommands()
		result := domain.Interpret(line, s.registry.SnapshotNames())
		if err := s.write(result.Response); err != nil {
			return true, err
		}
		if result.Quit {
			s.log.Info("User quit")
		}
		return result.Quit, nil
	}

	s.log.Debug("Received message", "content", line)
	if err := s.bus.Publish(domain.ChatLine(s.name, s.moderate(line))); err != nil {
		s.log.Warn("Publish failed, ending session", "error", err)
		return true, nil
	}
	s.monitoring.IncrPublished()
	return false, nil
}

func (s *Session) handleDelivery(d domain.Delivery) (bool, error) {
	switch d.Kind {
	case domain.DeliveryMessage:
		if err := s.write(d.Message.String()); err != nil {
			return true, err
		}
		return false, nil
	case domain.DeliveryLagged:
		s.monitoring.AddLagged(d.Missed)
		s.log.Warn("Client lagged behind", "missed", d.Missed)
		return false, nil
	case domain.DeliveryClosed:
		s.log.Info("Broadcast channel closed")
		return true, nil
	default:
		return false, nil
	}
}

func (s *Session) moderate(line string) string {
	if s.censor == nil {
		return line
	}
	censored, words := s.censor.Censor(line)
	if len(words) > 0 {
		s.monitoring.IncrCensored()
		s.log.Warn("Message censored",
			"words", len(words),
			"lang", moderation.DetectLanguage(line))
	}
	return censored
}

func (s *Session) write(text string) error {
	if _, err := io.WriteString(s.conn, text); err != nil {
		s.log.Error("Error writing to connection", "error", err)
		return fmt.Errorf("writing to %s: %w", s.id, err)
	}
	return nil
}

// teardown unsubscribes, forgets the participant and announces the departure.
// The leave notice is best effort: the session is ending either way.
func (s *Session) teardown() {
	s.transition(domain.Terminated)
	s.rx.Close()
	s.registry.Remove(s.id)
	if err := s.bus.Publish(domain.LeaveNotice(s.name)); err != nil {
		s.log.Debug("Leave notice not published", "error", err)
	}
	s.monitoring.SessionEnded()
	s.log.Info("User disconnected")
}

func (s *Session) transition(to domain.SessionState) {
	if s.state == domain.Terminated {
		return
	}
	s.log.Debug("Session state change", "from", s.state.String(), "to", to.String())
	s.state = to
}

func (s *Session) closeConn() {
	if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
		s.log.Debug("Error closing connection", "error", err)
	}
}

func readLines(scanner *bufio.Scanner, lines chan<- lineResult, done <-chan struct{}) {
	for {
		text, err := readLine(scanner)
		select {
		case lines <- lineResult{text: text, err: err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}

// readLine returns io.EOF once the peer has closed and every line was consumed.
func readLine(scanner *bufio.Scanner) (string, error) {
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// splitLines is bufio.ScanLines with a length cap: a line longer than limit
// bytes is returned in pieces, each cut on a rune boundary when possible.
func splitLines(limit int) bufio.SplitFunc {
	return func(data []byte, atEOF bool) (int, []byte, error) {
		if i := bytes.IndexByte(data, '\n'); i >= 0 && i <= limit {
			return i + 1, dropCR(data[:i]), nil
		}
		if len(data) > limit {
			n := limit
			for n > 0 && !utf8.RuneStart(data[n]) {
				n--
			}
			if n == 0 {
				n = limit
			}
			return n, data[:n], nil
		}
		if atEOF && len(data) > 0 {
			return len(data), dropCR(data), nil
		}
		return 0, nil, nil
	}
}

func dropCR(data []byte) []byte {
	if len(data) > 0 && data[len(data)-1] == '\r' {
		return data[:len(data)-1]
	}
	return data
}

func remoteAddr(conn contract.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}

// isExpectedCloseError reports errors produced by closing an already closed connection.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "io: read/write on closed pipe") ||
		strings.Contains(msg, "broken pipe")
}
